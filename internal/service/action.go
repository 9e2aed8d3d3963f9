package service

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	bizerrors "github.com/stokasz/ChainMMO-Monad-sub000/pkg/errors"
)

// ActionType 动作类型
type ActionType string

const (
	ActionCreateCharacter         ActionType = "create_character"
	ActionStartDungeon            ActionType = "start_dungeon"
	ActionNextRoom                ActionType = "next_room"
	ActionOpenLootboxesMax        ActionType = "open_lootboxes_max"
	ActionEquipBest               ActionType = "equip_best"
	ActionRerollItem              ActionType = "reroll_item"
	ActionForgeSetPiece           ActionType = "forge_set_piece"
	ActionBuyPremiumLootboxes     ActionType = "buy_premium_lootboxes"
	ActionFinalizeEpoch           ActionType = "finalize_epoch"
	ActionClaimPlayer             ActionType = "claim_player"
	ActionClaimDeployer           ActionType = "claim_deployer"
	ActionCreateTradeOffer        ActionType = "create_trade_offer"
	ActionFulfillTradeOffer       ActionType = "fulfill_trade_offer"
	ActionCancelTradeOffer        ActionType = "cancel_trade_offer"
	ActionCancelExpiredTradeOffer ActionType = "cancel_expired_trade_offer"
	ActionCreateRFQ               ActionType = "create_rfq"
	ActionFillRFQ                 ActionType = "fill_rfq"
	ActionCancelRFQ               ActionType = "cancel_rfq"
)

// 只作为 suggestedNextAction 出现, 不可入队
const (
	SuggestCancelExpired ActionType = "cancel_expired"
	SuggestGetAgentState ActionType = "get_agent_state"
)

// Action 动作 (封闭集合, 每种类型一个结构体)
type Action interface {
	Type() ActionType
	Validate() error
	// ConflictKey 同 key 的动作串行执行, 空串表示无约束
	ConflictKey() string
	isAction()
}

// 取值范围
const (
	maxRace         = 2
	maxClass        = 2
	maxDifficulty   = 4
	maxVarianceMode = 2
	maxChoice       = 3
	maxBatchRooms   = 8
	maxNameLength   = 48
	maxUint16       = 65535
	maxSetID        = 255
	maxSlot         = 7
	maxOfferItems   = 16
	maxEpochID      = 1<<32 - 1

	DefaultVarianceMode = 1
)

// 装备评分目标
const (
	ObjectiveBalanced      = "balanced"
	ObjectiveDPS           = "dps"
	ObjectiveSurvivability = "survivability"
)

var digitsPattern = regexp.MustCompile(`^[0-9]+$`)

var maxUint96 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(1))
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func invalid(format string, args ...interface{}) error {
	return bizerrors.ErrInvalidAction.WithMessagef(format, args...)
}

func checkRange(field string, v, lo, hi int64) error {
	if v < lo || v > hi {
		return invalid("%s must be between %d and %d", field, lo, hi)
	}
	return nil
}

func checkID(field string, v int64) error {
	if v <= 0 {
		return invalid("%s must be a positive integer", field)
	}
	return nil
}

func checkVariance(v *int) error {
	if v == nil {
		return nil
	}
	return checkRange("varianceMode", int64(*v), 0, maxVarianceMode)
}

// parseWei 校验十进制整数字符串并检查上界
func parseWei(field, s string, max *big.Int) (*big.Int, error) {
	if !digitsPattern.MatchString(s) {
		return nil, invalid("%s must be a decimal integer string", field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, invalid("%s: %v", field, err)
	}
	n := d.BigInt()
	if n.Cmp(max) > 0 {
		return nil, invalid("%s exceeds %d bits", field, max.BitLen())
	}
	return n, nil
}

func characterKey(id int64) string {
	return "character:" + strconv.FormatInt(id, 10)
}

func tradeOfferKey(id int64) string {
	return "trade_offer:" + strconv.FormatInt(id, 10)
}

func varianceOrDefault(v *int) uint8 {
	if v == nil {
		return DefaultVarianceMode
	}
	return uint8(*v)
}

// CreateCharacter 创建角色
type CreateCharacter struct {
	Race      int    `json:"race"`
	ClassType int    `json:"classType"`
	Name      string `json:"name"`
}

func (CreateCharacter) Type() ActionType    { return ActionCreateCharacter }
func (CreateCharacter) ConflictKey() string { return "" }
func (CreateCharacter) isAction()           {}

func (a CreateCharacter) Validate() error {
	if err := checkRange("race", int64(a.Race), 0, maxRace); err != nil {
		return err
	}
	if err := checkRange("classType", int64(a.ClassType), 0, maxClass); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(a.Name); n < 1 || n > maxNameLength {
		return invalid("name must be 1-%d characters", maxNameLength)
	}
	return nil
}

// StartDungeon 开始地下城 (commit-reveal)
type StartDungeon struct {
	CharacterID  int64 `json:"characterId"`
	Difficulty   int   `json:"difficulty"`
	DungeonLevel int64 `json:"dungeonLevel"`
	VarianceMode *int  `json:"varianceMode,omitempty"`
}

func (StartDungeon) Type() ActionType      { return ActionStartDungeon }
func (a StartDungeon) ConflictKey() string { return characterKey(a.CharacterID) }
func (StartDungeon) isAction()             {}

func (a StartDungeon) Validate() error {
	if err := checkID("characterId", a.CharacterID); err != nil {
		return err
	}
	if err := checkRange("difficulty", int64(a.Difficulty), 0, maxDifficulty); err != nil {
		return err
	}
	if err := checkRange("dungeonLevel", a.DungeonLevel, 1, maxEpochID); err != nil {
		return err
	}
	return checkVariance(a.VarianceMode)
}

// NextRoom 推进房间; 同时给出两个长度大于 1 的数组时批量结算
type NextRoom struct {
	CharacterID    int64 `json:"characterId"`
	PotionChoice   *int  `json:"potionChoice,omitempty"`
	AbilityChoice  *int  `json:"abilityChoice,omitempty"`
	PotionChoices  []int `json:"potionChoices,omitempty"`
	AbilityChoices []int `json:"abilityChoices,omitempty"`
}

func (NextRoom) Type() ActionType      { return ActionNextRoom }
func (a NextRoom) ConflictKey() string { return characterKey(a.CharacterID) }
func (NextRoom) isAction()             {}

// IsBatch 是否批量结算
func (a NextRoom) IsBatch() bool {
	return len(a.PotionChoices) > 1 && len(a.AbilityChoices) > 1
}

func (a NextRoom) Validate() error {
	if err := checkID("characterId", a.CharacterID); err != nil {
		return err
	}
	batch := a.PotionChoices != nil || a.AbilityChoices != nil
	single := a.PotionChoice != nil || a.AbilityChoice != nil
	if !batch && !single {
		return invalid("either potionChoice/abilityChoice or potionChoices/abilityChoices is required")
	}
	if single {
		for field, v := range map[string]*int{"potionChoice": a.PotionChoice, "abilityChoice": a.AbilityChoice} {
			if v != nil {
				if err := checkRange(field, int64(*v), 0, maxChoice); err != nil {
					return err
				}
			}
		}
	}
	if batch {
		if a.PotionChoices == nil || a.AbilityChoices == nil {
			return invalid("potionChoices and abilityChoices must be provided together")
		}
		if len(a.PotionChoices) != len(a.AbilityChoices) {
			return invalid("potionChoices and abilityChoices must have the same length")
		}
		if len(a.PotionChoices) < 1 || len(a.PotionChoices) > maxBatchRooms {
			return invalid("batch size must be 1-%d", maxBatchRooms)
		}
		for i := range a.PotionChoices {
			if err := checkRange("potionChoices", int64(a.PotionChoices[i]), 0, maxChoice); err != nil {
				return err
			}
			if err := checkRange("abilityChoices", int64(a.AbilityChoices[i]), 0, maxChoice); err != nil {
				return err
			}
		}
	}
	return nil
}

// SingleChoices 单房间的药水/技能选择, 批量参数只有一个元素时取第一个
func (a NextRoom) SingleChoices() (potion, ability uint8) {
	if a.PotionChoice != nil {
		potion = uint8(*a.PotionChoice)
	} else if len(a.PotionChoices) > 0 {
		potion = uint8(a.PotionChoices[0])
	}
	if a.AbilityChoice != nil {
		ability = uint8(*a.AbilityChoice)
	} else if len(a.AbilityChoices) > 0 {
		ability = uint8(a.AbilityChoices[0])
	}
	return potion, ability
}

// OpenLootboxesMax 按最大数量开箱 (commit-reveal)
type OpenLootboxesMax struct {
	CharacterID  int64 `json:"characterId"`
	Tier         int64 `json:"tier"`
	MaxAmount    int   `json:"maxAmount"`
	VarianceMode *int  `json:"varianceMode,omitempty"`
}

func (OpenLootboxesMax) Type() ActionType      { return ActionOpenLootboxesMax }
func (a OpenLootboxesMax) ConflictKey() string { return characterKey(a.CharacterID) }
func (OpenLootboxesMax) isAction()             {}

func (a OpenLootboxesMax) Validate() error {
	if err := checkID("characterId", a.CharacterID); err != nil {
		return err
	}
	if err := checkRange("tier", a.Tier, 0, maxEpochID); err != nil {
		return err
	}
	if err := checkRange("maxAmount", int64(a.MaxAmount), 1, maxUint16); err != nil {
		return err
	}
	return checkVariance(a.VarianceMode)
}

// EquipBest 按目标自动穿戴最佳装备
type EquipBest struct {
	CharacterID int64  `json:"characterId"`
	Objective   string `json:"objective,omitempty"`
}

func (EquipBest) Type() ActionType      { return ActionEquipBest }
func (a EquipBest) ConflictKey() string { return characterKey(a.CharacterID) }
func (EquipBest) isAction()             {}

func (a EquipBest) Validate() error {
	if err := checkID("characterId", a.CharacterID); err != nil {
		return err
	}
	switch a.Objective {
	case "", ObjectiveBalanced, ObjectiveDPS, ObjectiveSurvivability:
		return nil
	}
	return invalid("objective must be one of balanced, dps, survivability")
}

// ObjectiveOrDefault 未指定时为 balanced
func (a EquipBest) ObjectiveOrDefault() string {
	if a.Objective == "" {
		return ObjectiveBalanced
	}
	return a.Objective
}

// RerollItem 重随装备属性
type RerollItem struct {
	CharacterID int64 `json:"characterId"`
	ItemID      int64 `json:"itemId"`
}

func (RerollItem) Type() ActionType      { return ActionRerollItem }
func (a RerollItem) ConflictKey() string { return characterKey(a.CharacterID) }
func (RerollItem) isAction()             {}

func (a RerollItem) Validate() error {
	if err := checkID("characterId", a.CharacterID); err != nil {
		return err
	}
	return checkID("itemId", a.ItemID)
}

// ForgeSetPiece 锻造套装部件
type ForgeSetPiece struct {
	CharacterID int64 `json:"characterId"`
	ItemID      int64 `json:"itemId"`
	TargetSetID int   `json:"targetSetId"`
}

func (ForgeSetPiece) Type() ActionType      { return ActionForgeSetPiece }
func (a ForgeSetPiece) ConflictKey() string { return characterKey(a.CharacterID) }
func (ForgeSetPiece) isAction()             {}

func (a ForgeSetPiece) Validate() error {
	if err := checkID("characterId", a.CharacterID); err != nil {
		return err
	}
	if err := checkID("itemId", a.ItemID); err != nil {
		return err
	}
	return checkRange("targetSetId", int64(a.TargetSetID), 1, maxSetID)
}

// BuyPremiumLootboxes 购买高级宝箱 (ETH 支付)
type BuyPremiumLootboxes struct {
	CharacterID int64 `json:"characterId"`
	Difficulty  int   `json:"difficulty"`
	Amount      int   `json:"amount"`
}

func (BuyPremiumLootboxes) Type() ActionType      { return ActionBuyPremiumLootboxes }
func (a BuyPremiumLootboxes) ConflictKey() string { return characterKey(a.CharacterID) }
func (BuyPremiumLootboxes) isAction()             {}

func (a BuyPremiumLootboxes) Validate() error {
	if err := checkID("characterId", a.CharacterID); err != nil {
		return err
	}
	if err := checkRange("difficulty", int64(a.Difficulty), 0, maxDifficulty); err != nil {
		return err
	}
	return checkRange("amount", int64(a.Amount), 1, maxUint16)
}

// FinalizeEpoch 结算 epoch
type FinalizeEpoch struct {
	EpochID int64 `json:"epochId"`
}

func (FinalizeEpoch) Type() ActionType    { return ActionFinalizeEpoch }
func (FinalizeEpoch) ConflictKey() string { return "" }
func (FinalizeEpoch) isAction()           {}

func (a FinalizeEpoch) Validate() error {
	return checkRange("epochId", a.EpochID, 0, maxEpochID)
}

// ClaimPlayer 领取玩家奖励
type ClaimPlayer struct {
	EpochID     int64 `json:"epochId"`
	CharacterID int64 `json:"characterId"`
}

func (ClaimPlayer) Type() ActionType      { return ActionClaimPlayer }
func (a ClaimPlayer) ConflictKey() string { return characterKey(a.CharacterID) }
func (ClaimPlayer) isAction()             {}

func (a ClaimPlayer) Validate() error {
	if err := checkRange("epochId", a.EpochID, 0, maxEpochID); err != nil {
		return err
	}
	return checkID("characterId", a.CharacterID)
}

// ClaimDeployer 领取部署者奖励 (受策略开关控制)
type ClaimDeployer struct {
	EpochID int64 `json:"epochId"`
}

func (ClaimDeployer) Type() ActionType    { return ActionClaimDeployer }
func (ClaimDeployer) ConflictKey() string { return "" }
func (ClaimDeployer) isAction()           {}

func (a ClaimDeployer) Validate() error {
	return checkRange("epochId", a.EpochID, 0, maxEpochID)
}

// CreateTradeOffer 挂出以物易物/MMO 交易
type CreateTradeOffer struct {
	OfferedItemIDs   []int64 `json:"offeredItemIds"`
	RequestedItemIDs []int64 `json:"requestedItemIds"`
	RequestedMMO     string  `json:"requestedMmo"`
}

func (CreateTradeOffer) Type() ActionType    { return ActionCreateTradeOffer }
func (CreateTradeOffer) ConflictKey() string { return "" }
func (CreateTradeOffer) isAction()           {}

func checkItemList(field string, ids []int64, allowEmpty bool) error {
	if len(ids) == 0 && allowEmpty {
		return nil
	}
	if len(ids) < 1 || len(ids) > maxOfferItems {
		return invalid("%s must contain 1-%d items", field, maxOfferItems)
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if err := checkID(field, id); err != nil {
			return err
		}
		if _, dup := seen[id]; dup {
			return invalid("%s contains duplicate item %d", field, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (a CreateTradeOffer) Validate() error {
	if err := checkItemList("offeredItemIds", a.OfferedItemIDs, false); err != nil {
		return err
	}
	if err := checkItemList("requestedItemIds", a.RequestedItemIDs, true); err != nil {
		return err
	}
	mmo := a.RequestedMMO
	if mmo == "" {
		mmo = "0"
	}
	_, err := parseWei("requestedMmo", mmo, maxUint96)
	return err
}

// RequestedMMOWei 请求的 MMO 数量
func (a CreateTradeOffer) RequestedMMOWei() *big.Int {
	if a.RequestedMMO == "" {
		return new(big.Int)
	}
	n, _ := new(big.Int).SetString(a.RequestedMMO, 10)
	return n
}

// FulfillTradeOffer 成交挂单
type FulfillTradeOffer struct {
	OfferID int64 `json:"offerId"`
}

func (FulfillTradeOffer) Type() ActionType      { return ActionFulfillTradeOffer }
func (a FulfillTradeOffer) ConflictKey() string { return tradeOfferKey(a.OfferID) }
func (FulfillTradeOffer) isAction()             {}
func (a FulfillTradeOffer) Validate() error     { return checkID("offerId", a.OfferID) }

// CancelTradeOffer 撤销挂单
type CancelTradeOffer struct {
	OfferID int64 `json:"offerId"`
}

func (CancelTradeOffer) Type() ActionType      { return ActionCancelTradeOffer }
func (a CancelTradeOffer) ConflictKey() string { return tradeOfferKey(a.OfferID) }
func (CancelTradeOffer) isAction()             {}
func (a CancelTradeOffer) Validate() error     { return checkID("offerId", a.OfferID) }

// CancelExpiredTradeOffer 清理过期挂单
type CancelExpiredTradeOffer struct {
	OfferID int64 `json:"offerId"`
}

func (CancelExpiredTradeOffer) Type() ActionType      { return ActionCancelExpiredTradeOffer }
func (a CancelExpiredTradeOffer) ConflictKey() string { return tradeOfferKey(a.OfferID) }
func (CancelExpiredTradeOffer) isAction()             {}
func (a CancelExpiredTradeOffer) Validate() error     { return checkID("offerId", a.OfferID) }

// CreateRFQ 发布求购单
type CreateRFQ struct {
	Slot              int    `json:"slot"`
	MinTier           int64  `json:"minTier"`
	AcceptableSetMask string `json:"acceptableSetMask,omitempty"`
	MMOOffered        string `json:"mmoOffered"`
	Expiry            *int64 `json:"expiry,omitempty"`
}

func (CreateRFQ) Type() ActionType    { return ActionCreateRFQ }
func (CreateRFQ) ConflictKey() string { return "" }
func (CreateRFQ) isAction()           {}

func (a CreateRFQ) Validate() error {
	if err := checkRange("slot", int64(a.Slot), 0, maxSlot); err != nil {
		return err
	}
	if err := checkRange("minTier", a.MinTier, 0, maxEpochID); err != nil {
		return err
	}
	if a.AcceptableSetMask != "" {
		if _, err := parseWei("acceptableSetMask", a.AcceptableSetMask, maxUint256); err != nil {
			return err
		}
	}
	if _, err := parseWei("mmoOffered", a.MMOOffered, maxUint96); err != nil {
		return err
	}
	if a.Expiry != nil && *a.Expiry < 0 {
		return invalid("expiry must be a unix timestamp")
	}
	return nil
}

// SetMask 可接受的套装掩码, 未指定为 0
func (a CreateRFQ) SetMask() *big.Int {
	n, ok := new(big.Int).SetString(a.AcceptableSetMask, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

// MMOOfferedWei 出价
func (a CreateRFQ) MMOOfferedWei() *big.Int {
	n, ok := new(big.Int).SetString(a.MMOOffered, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

// ExpiryOrZero 未指定时为 0
func (a CreateRFQ) ExpiryOrZero() int64 {
	if a.Expiry == nil {
		return 0
	}
	return *a.Expiry
}

// FillRFQ 用装备成交求购单
type FillRFQ struct {
	RFQID       int64 `json:"rfqId"`
	ItemTokenID int64 `json:"itemTokenId"`
}

func (FillRFQ) Type() ActionType    { return ActionFillRFQ }
func (FillRFQ) ConflictKey() string { return "" }
func (FillRFQ) isAction()           {}

func (a FillRFQ) Validate() error {
	if err := checkID("rfqId", a.RFQID); err != nil {
		return err
	}
	return checkID("itemTokenId", a.ItemTokenID)
}

// CancelRFQ 撤销求购单
type CancelRFQ struct {
	RFQID int64 `json:"rfqId"`
}

func (CancelRFQ) Type() ActionType    { return ActionCancelRFQ }
func (CancelRFQ) ConflictKey() string { return "" }
func (CancelRFQ) isAction()           {}
func (a CancelRFQ) Validate() error   { return checkID("rfqId", a.RFQID) }

// newActionByType 按类型构造空动作
func newActionByType(t ActionType) (Action, error) {
	switch t {
	case ActionCreateCharacter:
		return &CreateCharacter{}, nil
	case ActionStartDungeon:
		return &StartDungeon{}, nil
	case ActionNextRoom:
		return &NextRoom{}, nil
	case ActionOpenLootboxesMax:
		return &OpenLootboxesMax{}, nil
	case ActionEquipBest:
		return &EquipBest{}, nil
	case ActionRerollItem:
		return &RerollItem{}, nil
	case ActionForgeSetPiece:
		return &ForgeSetPiece{}, nil
	case ActionBuyPremiumLootboxes:
		return &BuyPremiumLootboxes{}, nil
	case ActionFinalizeEpoch:
		return &FinalizeEpoch{}, nil
	case ActionClaimPlayer:
		return &ClaimPlayer{}, nil
	case ActionClaimDeployer:
		return &ClaimDeployer{}, nil
	case ActionCreateTradeOffer:
		return &CreateTradeOffer{}, nil
	case ActionFulfillTradeOffer:
		return &FulfillTradeOffer{}, nil
	case ActionCancelTradeOffer:
		return &CancelTradeOffer{}, nil
	case ActionCancelExpiredTradeOffer:
		return &CancelExpiredTradeOffer{}, nil
	case ActionCreateRFQ:
		return &CreateRFQ{}, nil
	case ActionFillRFQ:
		return &FillRFQ{}, nil
	case ActionCancelRFQ:
		return &CancelRFQ{}, nil
	}
	return nil, bizerrors.ErrInvalidActionType.WithMessagef("unknown action type %q", t)
}

// ParseAction 解析 {"type": "...", ...} 格式的动作并校验
func ParseAction(raw []byte) (Action, error) {
	var envelope struct {
		Type ActionType `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, invalid("malformed action: %v", err)
	}
	return ParseActionOfType(envelope.Type, raw)
}

// ParseActionOfType 按给定类型解析动作负载并校验
func ParseActionOfType(t ActionType, payload []byte) (Action, error) {
	target, err := newActionByType(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return nil, invalid("malformed %s payload: %v", t, err)
	}
	action := deref(target)
	if err := action.Validate(); err != nil {
		return nil, err
	}
	return action, nil
}

// deref 统一使用值类型, 便于类型分派
func deref(a Action) Action {
	switch v := a.(type) {
	case *CreateCharacter:
		return *v
	case *StartDungeon:
		return *v
	case *NextRoom:
		return *v
	case *OpenLootboxesMax:
		return *v
	case *EquipBest:
		return *v
	case *RerollItem:
		return *v
	case *ForgeSetPiece:
		return *v
	case *BuyPremiumLootboxes:
		return *v
	case *FinalizeEpoch:
		return *v
	case *ClaimPlayer:
		return *v
	case *ClaimDeployer:
		return *v
	case *CreateTradeOffer:
		return *v
	case *FulfillTradeOffer:
		return *v
	case *CancelTradeOffer:
		return *v
	case *CancelExpiredTradeOffer:
		return *v
	case *CreateRFQ:
		return *v
	case *FillRFQ:
		return *v
	case *CancelRFQ:
		return *v
	}
	return a
}

// EncodeAction 序列化动作, 附带 type 字段
func EncodeAction(a Action) (string, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", err
	}
	typ, _ := json.Marshal(a.Type())
	fields["type"] = typ
	out, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", a.Type(), err)
	}
	return string(out), nil
}
