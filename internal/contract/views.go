package contract

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AsBigInt converts an unpacked ABI integer to *big.Int.
func AsBigInt(v interface{}) (*big.Int, bool) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, false
		}
		return new(big.Int).Set(n), true
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	case int64:
		return big.NewInt(n), true
	case int:
		return big.NewInt(int64(n)), true
	}
	return nil, false
}

// AsInt64 converts an unpacked ABI integer to int64. Values outside int64 fail.
func AsInt64(v interface{}) (int64, bool) {
	n, ok := AsBigInt(v)
	if !ok || !n.IsInt64() {
		return 0, false
	}
	return n.Int64(), true
}

// AsUint64 converts an unpacked ABI integer to uint64.
func AsUint64(v interface{}) (uint64, bool) {
	n, ok := AsBigInt(v)
	if !ok || n.Sign() < 0 || !n.IsUint64() {
		return 0, false
	}
	return n.Uint64(), true
}

// AsBool reads an unpacked ABI bool.
func AsBool(v interface{}) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// AsAddress reads an unpacked ABI address.
func AsAddress(v interface{}) (common.Address, bool) {
	addr, ok := v.(common.Address)
	return addr, ok
}

// AsBigIntSlice reads an unpacked uint256[].
func AsBigIntSlice(v interface{}) ([]*big.Int, bool) {
	list, ok := v.([]*big.Int)
	return list, ok
}

func outputsLen(method string, out []interface{}, want int) error {
	if len(out) < want {
		return fmt.Errorf("%s: expected %d outputs, got %d", method, want, len(out))
	}
	return nil
}

// RunState 地下城运行状态 (getRunState)
type RunState struct {
	Active             bool
	RoomCount          uint8
	RoomsCleared       uint8
	CurrentHP          uint32
	CurrentMana        uint32
	HPPotionCharges    uint8
	ManaPotionCharges  uint8
	PowerPotionCharges uint8
	DungeonLevel       uint32
	Difficulty         uint8
}

// ParseRunState decodes getRunState outputs.
func ParseRunState(out []interface{}) (*RunState, error) {
	if err := outputsLen("getRunState", out, 10); err != nil {
		return nil, err
	}
	s := &RunState{}
	var ok bool
	if s.Active, ok = out[0].(bool); !ok {
		return nil, fmt.Errorf("getRunState: active has type %T", out[0])
	}
	s.RoomCount, _ = out[1].(uint8)
	s.RoomsCleared, _ = out[2].(uint8)
	s.CurrentHP, _ = out[3].(uint32)
	s.CurrentMana, _ = out[4].(uint32)
	s.HPPotionCharges, _ = out[5].(uint8)
	s.ManaPotionCharges, _ = out[6].(uint8)
	s.PowerPotionCharges, _ = out[7].(uint8)
	s.DungeonLevel, _ = out[8].(uint32)
	s.Difficulty, _ = out[9].(uint8)
	return s, nil
}

// PotionCharges returns the charges for a potion choice (1 hp, 2 mana, 3 power).
// Choice 0 means no potion and always has a charge.
func (s *RunState) PotionCharges(choice uint8) (uint8, bool) {
	switch choice {
	case 1:
		return s.HPPotionCharges, true
	case 2:
		return s.ManaPotionCharges, true
	case 3:
		return s.PowerPotionCharges, true
	}
	return 0, false
}

// RevealWindow is the reveal window of a commit.
type RevealWindow struct {
	StartBlock uint64
	EndBlock   uint64
	CanReveal  bool
	Expired    bool
	Resolved   bool
}

// ParseRevealWindow decodes revealWindow outputs.
func ParseRevealWindow(out []interface{}) (*RevealWindow, error) {
	if err := outputsLen("revealWindow", out, 5); err != nil {
		return nil, err
	}
	w := &RevealWindow{}
	w.StartBlock, _ = AsUint64(out[0])
	w.EndBlock, _ = AsUint64(out[1])
	w.CanReveal, _ = AsBool(out[2])
	w.Expired, _ = AsBool(out[3])
	w.Resolved, _ = AsBool(out[4])
	return w, nil
}

// LootboxQuote is the result of quoteOpenLootboxes.
type LootboxQuote struct {
	AvailableTotal   uint32
	AvailableBound   uint32
	AvailableGeneric uint32
	OpenableAmount   uint16
}

// ParseLootboxQuote decodes quoteOpenLootboxes outputs.
func ParseLootboxQuote(out []interface{}) (*LootboxQuote, error) {
	if err := outputsLen("quoteOpenLootboxes", out, 4); err != nil {
		return nil, err
	}
	q := &LootboxQuote{}
	q.AvailableTotal, _ = out[0].(uint32)
	q.AvailableBound, _ = out[1].(uint32)
	q.AvailableGeneric, _ = out[2].(uint32)
	q.OpenableAmount, _ = out[3].(uint16)
	return q, nil
}

// EpochSnapshot is the reward snapshot of an epoch.
type EpochSnapshot struct {
	FeesForPlayers      *big.Int
	FeesForDeployer     *big.Int
	CutoffLevel         uint32
	TotalEligibleWeight *big.Int
	Finalized           bool
}

// ParseEpochSnapshot decodes epochSnapshot outputs.
func ParseEpochSnapshot(out []interface{}) (*EpochSnapshot, error) {
	if err := outputsLen("epochSnapshot", out, 5); err != nil {
		return nil, err
	}
	s := &EpochSnapshot{}
	s.FeesForPlayers, _ = AsBigInt(out[0])
	s.FeesForDeployer, _ = AsBigInt(out[1])
	s.CutoffLevel, _ = out[2].(uint32)
	s.TotalEligibleWeight, _ = AsBigInt(out[3])
	s.Finalized, _ = AsBool(out[4])
	return s, nil
}

// RFQ is an on-chain RFQ record.
type RFQ struct {
	Maker      common.Address
	MMOOffered *big.Int
	MinTier    uint32
	Expiry     uint64
	Slot       uint8
	Active     bool
	Filled     bool
	SetMask    *big.Int
}

// ParseRFQ decodes rfqs outputs.
func ParseRFQ(out []interface{}) (*RFQ, error) {
	if err := outputsLen("rfqs", out, 8); err != nil {
		return nil, err
	}
	q := &RFQ{}
	q.Maker, _ = AsAddress(out[0])
	q.MMOOffered, _ = AsBigInt(out[1])
	q.MinTier, _ = out[2].(uint32)
	q.Expiry, _ = AsUint64(out[3])
	q.Slot, _ = out[4].(uint8)
	q.Active, _ = AsBool(out[5])
	q.Filled, _ = AsBool(out[6])
	q.SetMask, _ = AsBigInt(out[7])
	return q, nil
}

// Offer is an on-chain trade offer record.
type Offer struct {
	Maker        common.Address
	RequestedMMO *big.Int
	Expiry       uint64
	Active       bool
}

// ParseOffer decodes offers outputs.
func ParseOffer(out []interface{}) (*Offer, error) {
	if err := outputsLen("offers", out, 4); err != nil {
		return nil, err
	}
	o := &Offer{}
	o.Maker, _ = AsAddress(out[0])
	o.RequestedMMO, _ = AsBigInt(out[1])
	o.Expiry, _ = AsUint64(out[2])
	o.Active, _ = AsBool(out[3])
	return o, nil
}

// ItemBonuses are the derived stat bonuses of an item.
type ItemBonuses struct {
	HP, Mana, Def, AtkM, AtkR uint32
}

// ParseItemBonuses decodes deriveBonuses outputs.
func ParseItemBonuses(out []interface{}) (*ItemBonuses, error) {
	if err := outputsLen("deriveBonuses", out, 5); err != nil {
		return nil, err
	}
	b := &ItemBonuses{}
	b.HP, _ = out[0].(uint32)
	b.Mana, _ = out[1].(uint32)
	b.Def, _ = out[2].(uint32)
	b.AtkM, _ = out[3].(uint32)
	b.AtkR, _ = out[4].(uint32)
	return b, nil
}

// ItemInfo is the decoded item token id.
type ItemInfo struct {
	Slot uint8
	Tier uint32
	Seed uint64
}

// ParseItemInfo decodes items.decode outputs.
func ParseItemInfo(out []interface{}) (*ItemInfo, error) {
	if err := outputsLen("decode", out, 3); err != nil {
		return nil, err
	}
	i := &ItemInfo{}
	i.Slot, _ = out[0].(uint8)
	i.Tier, _ = out[1].(uint32)
	i.Seed, _ = out[2].(uint64)
	return i, nil
}
