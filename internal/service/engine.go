package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/blockchain"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/contract"
	bizerrors "github.com/stokasz/ChainMMO-Monad-sub000/pkg/errors"
)

// 执行结果码
const (
	ResultCharacterCreated           = "CHARACTER_CREATED"
	ResultCharacterCreatedReady      = "CHARACTER_CREATED_READY"
	ResultDungeonStarted             = "DUNGEON_STARTED"
	ResultRunAlreadyActive           = "RUN_ALREADY_ACTIVE"
	ResultInsufficientEquippedSlots  = "INSUFFICIENT_EQUIPPED_SLOTS"
	ResultRunNotActive               = "RUN_NOT_ACTIVE"
	ResultRoomBatchResolved          = "ROOM_BATCH_RESOLVED"
	ResultRoomResolved               = "ROOM_RESOLVED"
	ResultNoOpenableLootboxes        = "NO_OPENABLE_LOOTBOXES"
	ResultLootboxOpenMaxResolved     = "LOOTBOX_OPEN_MAX_RESOLVED"
	ResultNoEquippableItems          = "NO_EQUIPPABLE_ITEMS"
	ResultItemsEquipped              = "ITEMS_EQUIPPED"
	ResultItemRerolled               = "ITEM_REROLLED"
	ResultSetPieceForged             = "SET_PIECE_FORGED"
	ResultPremiumLootboxesPurchased  = "PREMIUM_LOOTBOXES_PURCHASED"
	ResultEpochFinalized             = "EPOCH_FINALIZED"
	ResultPlayerRewardClaimed        = "PLAYER_REWARD_CLAIMED"
	ResultDeployerRewardClaimed      = "DEPLOYER_REWARD_CLAIMED"
	ResultTradeOfferCreated          = "TRADE_OFFER_CREATED"
	ResultTradeOfferFulfilled        = "TRADE_OFFER_FULFILLED"
	ResultTradeOfferCancelled        = "TRADE_OFFER_CANCELLED"
	ResultTradeOfferExpiredCancelled = "TRADE_OFFER_EXPIRED_CANCELLED"
	ResultRFQCreated                 = "RFQ_CREATED"
	ResultRFQFilled                  = "RFQ_FILLED"
	ResultRFQCancelled               = "RFQ_CANCELLED"
)

// 新角色的初始化参数: 领取免费宝箱后开启一个 tier 2 宝箱
const (
	starterLootboxTier   = 2
	starterLootboxAmount = 1
)

var (
	ErrEngineNoSigner = errors.New("action engine requires a signer")

	errNotCharacterOwner = NewClassifiedError("PRECHECK_ONLY_CHARACTER_OWNER", "OnlyCharacterOwner", false)
)

var maxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ChainGateway 动作引擎与预检依赖的链访问能力, *blockchain.GameChain 实现该接口
type ChainGateway interface {
	Signer() common.Address
	IsLocalChain() bool
	ContractAddress(target contract.Name) (common.Address, error)
	ReadContract(ctx context.Context, target contract.Name, method string, args ...interface{}) ([]interface{}, error)
	WriteContract(ctx context.Context, target contract.Name, method string, value *big.Int, args ...interface{}) (common.Hash, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*blockchain.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	MineBlocks(ctx context.Context, n int) error
	WaitForBlock(ctx context.Context, target uint64, timeout time.Duration) error
}

// ActionExecutor 执行单个动作
type ActionExecutor interface {
	Execute(ctx context.Context, action Action) (*EngineResult, error)
}

// DeltaEvent 交易回执中解码出的事件
type DeltaEvent struct {
	BlockNumber uint64                 `json:"blockNumber"`
	TxHash      string                 `json:"txHash"`
	Kind        string                 `json:"kind"`
	Payload     map[string]interface{} `json:"payload"`
}

// EngineResult 动作执行结果
type EngineResult struct {
	Code        string                 `json:"code"`
	TxHashes    []string               `json:"txHashes"`
	DeltaEvents []DeltaEvent           `json:"deltaEvents"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

func emptyResult(code string, details map[string]interface{}) *EngineResult {
	return &EngineResult{Code: code, TxHashes: []string{}, DeltaEvents: []DeltaEvent{}, Details: details}
}

// EngineConfig 引擎配置
type EngineConfig struct {
	AllowDeployerClaims bool
	BlockWaitTimeout    time.Duration
	RevealAttempts      int
}

// Engine 动作执行引擎: 直接写交易, 或两阶段 commit-reveal.
// 引擎只与链交互, 物化表由索引器根据链上日志更新.
type Engine struct {
	chain  ChainGateway
	signer common.Address
	cfg    EngineConfig
	random io.Reader
}

// NewEngine 创建引擎, 链访问必须带签名账户
func NewEngine(chain ChainGateway, cfg EngineConfig) (*Engine, error) {
	signer := chain.Signer()
	if signer == (common.Address{}) {
		return nil, ErrEngineNoSigner
	}
	if cfg.BlockWaitTimeout <= 0 {
		cfg.BlockWaitTimeout = 60 * time.Second
	}
	if cfg.RevealAttempts <= 0 {
		cfg.RevealAttempts = 3
	}
	return &Engine{
		chain:  chain,
		signer: signer,
		cfg:    cfg,
		random: rand.Reader,
	}, nil
}

// Execute 按动作类型分派执行
func (e *Engine) Execute(ctx context.Context, action Action) (*EngineResult, error) {
	switch a := action.(type) {
	case CreateCharacter:
		return e.createCharacter(ctx, a)
	case StartDungeon:
		return e.startDungeon(ctx, a)
	case NextRoom:
		return e.nextRoom(ctx, a)
	case OpenLootboxesMax:
		return e.openLootboxesMax(ctx, a)
	case EquipBest:
		if err := e.assertCharacterOwner(ctx, a.CharacterID); err != nil {
			return nil, err
		}
		return e.equipBestForCharacter(ctx, a.CharacterID, a.ObjectiveOrDefault())
	case RerollItem:
		return e.rerollItem(ctx, a)
	case ForgeSetPiece:
		return e.forgeSetPiece(ctx, a)
	case BuyPremiumLootboxes:
		return e.buyPremiumLootboxes(ctx, a)
	case FinalizeEpoch:
		return e.finalizeEpoch(ctx, a)
	case ClaimPlayer:
		return e.claimPlayer(ctx, a)
	case ClaimDeployer:
		return e.claimDeployer(ctx, a)
	case CreateTradeOffer:
		return e.createTradeOffer(ctx, a)
	case FulfillTradeOffer:
		return e.fulfillTradeOffer(ctx, a)
	case CancelTradeOffer:
		return e.simpleWrite(ctx, contract.TradeEscrow, "cancelOffer", ResultTradeOfferCancelled,
			map[string]interface{}{"offerId": a.OfferID}, big.NewInt(a.OfferID))
	case CancelExpiredTradeOffer:
		return e.simpleWrite(ctx, contract.TradeEscrow, "cancelExpiredOffer", ResultTradeOfferExpiredCancelled,
			map[string]interface{}{"offerId": a.OfferID}, big.NewInt(a.OfferID))
	case CreateRFQ:
		return e.createRFQ(ctx, a)
	case FillRFQ:
		return e.simpleWrite(ctx, contract.RFQMarket, "fillRFQ", ResultRFQFilled, nil,
			big.NewInt(a.RFQID), big.NewInt(a.ItemTokenID))
	case CancelRFQ:
		return e.simpleWrite(ctx, contract.RFQMarket, "cancelRFQ", ResultRFQCancelled, nil, big.NewInt(a.RFQID))
	}
	return nil, bizerrors.ErrInvalidActionType.WithMessagef("unhandled action %T", action)
}

func (e *Engine) createCharacter(ctx context.Context, a CreateCharacter) (*EngineResult, error) {
	txHash, receipt, err := e.send(ctx, contract.GameWorld, "createCharacter", nil, uint8(a.Race), uint8(a.ClassType), a.Name)
	if err != nil {
		return nil, err
	}

	characterID, ok := findLogBigInt([]*blockchain.Receipt{receipt}, "CharacterCreated", "characterId")
	if !ok {
		res := e.collect(ResultCharacterCreated, []common.Hash{txHash}, []*blockchain.Receipt{receipt})
		res.Details = map[string]interface{}{"characterId": nil}
		return res, nil
	}

	claimHash, claimReceipt, err := e.send(ctx, contract.GameWorld, "claimFreeLootbox", nil, characterID)
	if err != nil {
		return nil, err
	}
	id := characterID.Int64()
	variance := DefaultVarianceMode
	openRes, err := e.openLootboxesMax(ctx, OpenLootboxesMax{
		CharacterID:  id,
		Tier:         starterLootboxTier,
		MaxAmount:    starterLootboxAmount,
		VarianceMode: &variance,
	})
	if err != nil {
		return nil, err
	}
	equipRes, err := e.equipBestForCharacter(ctx, id, ObjectiveBalanced)
	if err != nil {
		return nil, err
	}

	res := e.collect(ResultCharacterCreatedReady, []common.Hash{txHash, claimHash}, []*blockchain.Receipt{receipt, claimReceipt})
	res.TxHashes = append(res.TxHashes, openRes.TxHashes...)
	res.TxHashes = append(res.TxHashes, equipRes.TxHashes...)
	res.DeltaEvents = append(res.DeltaEvents, openRes.DeltaEvents...)
	res.DeltaEvents = append(res.DeltaEvents, equipRes.DeltaEvents...)
	res.Details = map[string]interface{}{
		"characterId": id,
		"bootstrap": map[string]interface{}{
			"claimedFreeLootbox":   true,
			"openedStarterLootbox": openRes.Details,
			"equippedStarterGear":  equipRes.Details,
		},
	}
	return res, nil
}

func (e *Engine) startDungeon(ctx context.Context, a StartDungeon) (*EngineResult, error) {
	if err := e.assertCharacterOwner(ctx, a.CharacterID); err != nil {
		return nil, err
	}
	gate, err := loadDungeonGate(ctx, e.chain, a.CharacterID, a.DungeonLevel)
	if err != nil {
		return nil, err
	}
	if gate.run.Active {
		return emptyResult(ResultRunAlreadyActive, nil), nil
	}
	if gate.equipped < gate.required {
		return emptyResult(ResultInsufficientEquippedSlots, map[string]interface{}{
			"equippedSlots":  gate.equipped,
			"requiredSlots":  gate.required,
			"recommendation": string(ActionEquipBest),
		}), nil
	}

	characterID := big.NewInt(a.CharacterID)
	difficulty := uint8(a.Difficulty)
	level := uint32(a.DungeonLevel)
	variance := varianceOrDefault(a.VarianceMode)

	cr, err := e.commitReveal(ctx, commitRevealParams{
		characterID:  characterID,
		varianceMode: variance,
		actionType:   contract.ActionTypeDungeonRun,
		hash: func(ctx context.Context, secret [32]byte, nonce uint64) ([32]byte, error) {
			return e.readHash(ctx, "hashDungeonRun", secret, e.signer, characterID, nonce, difficulty, level, variance)
		},
		reveal: func(ctx context.Context, commitID *big.Int, secret [32]byte) (common.Hash, error) {
			return e.chain.WriteContract(ctx, contract.GameWorld, "revealStartDungeon", nil, commitID, secret, difficulty, level, variance)
		},
	})
	if err != nil {
		return nil, err
	}

	res := e.collect(ResultDungeonStarted, []common.Hash{cr.commitTx, cr.revealTx}, cr.receipts)
	res.Details = map[string]interface{}{
		"commitId":       cr.commitID.String(),
		"stageLatencyMs": cr.latency.toMap(),
	}
	return res, nil
}

func (e *Engine) nextRoom(ctx context.Context, a NextRoom) (*EngineResult, error) {
	if err := e.assertCharacterOwner(ctx, a.CharacterID); err != nil {
		return nil, err
	}
	run, err := readRunState(ctx, e.chain, a.CharacterID)
	if err != nil {
		return nil, err
	}
	if !run.Active {
		return emptyResult(ResultRunNotActive, nil), nil
	}

	characterID := big.NewInt(a.CharacterID)
	if a.IsBatch() {
		txHash, receipt, err := e.send(ctx, contract.GameWorld, "resolveRooms", nil,
			characterID, toUint8Slice(a.PotionChoices), toUint8Slice(a.AbilityChoices))
		if err != nil {
			return nil, err
		}
		res := e.collect(ResultRoomBatchResolved, []common.Hash{txHash}, []*blockchain.Receipt{receipt})
		res.Details = map[string]interface{}{"resolvedCount": len(a.PotionChoices)}
		return res, nil
	}

	potion, ability := a.SingleChoices()
	txHash, receipt, err := e.send(ctx, contract.GameWorld, "resolveNextRoom", nil, characterID, potion, ability)
	if err != nil {
		return nil, err
	}
	return e.collect(ResultRoomResolved, []common.Hash{txHash}, []*blockchain.Receipt{receipt}), nil
}

func (e *Engine) openLootboxesMax(ctx context.Context, a OpenLootboxesMax) (*EngineResult, error) {
	if err := e.assertCharacterOwner(ctx, a.CharacterID); err != nil {
		return nil, err
	}

	characterID := big.NewInt(a.CharacterID)
	tier := uint32(a.Tier)
	amount := uint16(a.MaxAmount)
	variance := varianceOrDefault(a.VarianceMode)

	quote, err := readLootboxQuote(ctx, e.chain, characterID, tier, amount, variance)
	if err != nil {
		return nil, err
	}
	if quote.OpenableAmount == 0 {
		return emptyResult(ResultNoOpenableLootboxes, map[string]interface{}{
			"availableTotal":   quote.AvailableTotal,
			"availableBound":   quote.AvailableBound,
			"availableGeneric": quote.AvailableGeneric,
		}), nil
	}

	cr, err := e.commitReveal(ctx, commitRevealParams{
		characterID:  characterID,
		varianceMode: variance,
		actionType:   contract.ActionTypeLootboxOpen,
		hash: func(ctx context.Context, secret [32]byte, nonce uint64) ([32]byte, error) {
			return e.readHash(ctx, "hashLootboxOpen", secret, e.signer, characterID, nonce, tier, amount, variance, true)
		},
		reveal: func(ctx context.Context, commitID *big.Int, secret [32]byte) (common.Hash, error) {
			return e.chain.WriteContract(ctx, contract.GameWorld, "revealOpenLootboxesMax", nil, commitID, secret, tier, amount, variance)
		},
	})
	if err != nil {
		return nil, err
	}

	var opened interface{}
	if log := findLog(cr.receipts, "LootboxOpenMaxResolved"); log != nil {
		opened = normalizeArg(log.Args["openedAmount"])
	}
	res := e.collect(ResultLootboxOpenMaxResolved, []common.Hash{cr.commitTx, cr.revealTx}, cr.receipts)
	res.Details = map[string]interface{}{
		"commitId":       cr.commitID.String(),
		"openedAmount":   opened,
		"stageLatencyMs": cr.latency.toMap(),
	}
	return res, nil
}

// ScoreItem 按目标计算装备得分
func ScoreItem(objective string, b *contract.ItemBonuses) int64 {
	hp, mana, def := int64(b.HP), int64(b.Mana), int64(b.Def)
	atkM, atkR := int64(b.AtkM), int64(b.AtkR)
	switch objective {
	case ObjectiveDPS:
		return atkM*4 + atkR*4 + def + hp/2 + mana/2
	case ObjectiveSurvivability:
		return hp*3 + def*3 + mana + atkM + atkR
	}
	return hp*2 + mana*2 + def*3 + atkM*3 + atkR*3
}

type scoredItem struct {
	itemID *big.Int
	score  int64
}

// equipBestForCharacter 遍历签名账户持有的装备, 每个槽位选得分最高且 tier 不超过 bestLevel+1 的一件
func (e *Engine) equipBestForCharacter(ctx context.Context, characterID int64, objective string) (*EngineResult, error) {
	charID := big.NewInt(characterID)
	bestLevelRaw, err := readOne(ctx, e.chain, contract.GameWorld, "characterBestLevel", charID)
	if err != nil {
		return nil, err
	}
	bestLevel, _ := contract.AsUint64(bestLevelRaw)
	countRaw, err := readOne(ctx, e.chain, contract.Items, "balanceOf", e.signer)
	if err != nil {
		return nil, err
	}
	count, _ := contract.AsUint64(countRaw)

	bestBySlot := make(map[uint8]scoredItem)
	for i := uint64(0); i < count; i++ {
		idRaw, err := readOne(ctx, e.chain, contract.Items, "tokenOfOwnerByIndex", e.signer, new(big.Int).SetUint64(i))
		if err != nil {
			return nil, err
		}
		itemID, ok := contract.AsBigInt(idRaw)
		if !ok {
			return nil, fmt.Errorf("tokenOfOwnerByIndex: unexpected type %T", idRaw)
		}
		out, err := e.chain.ReadContract(ctx, contract.Items, "decode", itemID)
		if err != nil {
			return nil, err
		}
		info, err := contract.ParseItemInfo(out)
		if err != nil {
			return nil, err
		}
		if uint64(info.Tier) > bestLevel+1 {
			continue
		}
		out, err = e.chain.ReadContract(ctx, contract.Items, "deriveBonuses", itemID)
		if err != nil {
			return nil, err
		}
		bonuses, err := contract.ParseItemBonuses(out)
		if err != nil {
			return nil, err
		}
		score := ScoreItem(objective, bonuses)
		if existing, ok := bestBySlot[info.Slot]; !ok || score > existing.score {
			bestBySlot[info.Slot] = scoredItem{itemID: itemID, score: score}
		}
	}

	if len(bestBySlot) == 0 {
		return emptyResult(ResultNoEquippableItems, nil), nil
	}

	slots := make([]int, 0, len(bestBySlot))
	for slot := range bestBySlot {
		slots = append(slots, int(slot))
	}
	sort.Ints(slots)
	itemIDs := make([]*big.Int, 0, len(slots))
	itemIDStrings := make([]string, 0, len(slots))
	for _, slot := range slots {
		id := bestBySlot[uint8(slot)].itemID
		itemIDs = append(itemIDs, id)
		itemIDStrings = append(itemIDStrings, id.String())
	}

	txHash, receipt, err := e.send(ctx, contract.GameWorld, "equipItems", nil, charID, itemIDs)
	if err != nil {
		return nil, err
	}
	res := e.collect(ResultItemsEquipped, []common.Hash{txHash}, []*blockchain.Receipt{receipt})
	res.Details = map[string]interface{}{
		"equippedCount": len(itemIDs),
		"itemIds":       itemIDStrings,
	}
	return res, nil
}

func (e *Engine) rerollItem(ctx context.Context, a RerollItem) (*EngineResult, error) {
	if err := e.assertCharacterOwner(ctx, a.CharacterID); err != nil {
		return nil, err
	}
	return e.simpleWrite(ctx, contract.GameWorld, "rerollItemStats", ResultItemRerolled, nil,
		big.NewInt(a.CharacterID), big.NewInt(a.ItemID))
}

func (e *Engine) forgeSetPiece(ctx context.Context, a ForgeSetPiece) (*EngineResult, error) {
	if err := e.assertCharacterOwner(ctx, a.CharacterID); err != nil {
		return nil, err
	}
	return e.simpleWrite(ctx, contract.GameWorld, "forgeSetPiece", ResultSetPieceForged, nil,
		big.NewInt(a.CharacterID), big.NewInt(a.ItemID), uint8(a.TargetSetID))
}

func (e *Engine) buyPremiumLootboxes(ctx context.Context, a BuyPremiumLootboxes) (*EngineResult, error) {
	if err := e.assertCharacterOwner(ctx, a.CharacterID); err != nil {
		return nil, err
	}
	characterID := big.NewInt(a.CharacterID)
	difficulty, amount := uint8(a.Difficulty), uint16(a.Amount)
	ethCost, mmoCost, err := readPremiumQuote(ctx, e.chain, characterID, difficulty, amount)
	if err != nil {
		return nil, err
	}
	txHash, receipt, err := e.send(ctx, contract.FeeVault, "buyPremiumLootboxes", ethCost, characterID, difficulty, amount)
	if err != nil {
		return nil, err
	}
	res := e.collect(ResultPremiumLootboxesPurchased, []common.Hash{txHash}, []*blockchain.Receipt{receipt})
	res.Details = map[string]interface{}{
		"difficulty":       a.Difficulty,
		"amount":           a.Amount,
		"requiredValueWei": ethCost.String(),
		"mmoCostWei":       mmoCost.String(),
	}
	return res, nil
}

func (e *Engine) finalizeEpoch(ctx context.Context, a FinalizeEpoch) (*EngineResult, error) {
	return e.simpleWrite(ctx, contract.FeeVault, "finalizeEpoch", ResultEpochFinalized,
		map[string]interface{}{"epochId": a.EpochID}, uint32(a.EpochID))
}

func (e *Engine) claimPlayer(ctx context.Context, a ClaimPlayer) (*EngineResult, error) {
	if err := e.assertCharacterOwner(ctx, a.CharacterID); err != nil {
		return nil, err
	}
	txHash, receipt, err := e.send(ctx, contract.FeeVault, "claimPlayer", nil, uint32(a.EpochID), big.NewInt(a.CharacterID))
	if err != nil {
		return nil, err
	}
	res := e.collect(ResultPlayerRewardClaimed, []common.Hash{txHash}, []*blockchain.Receipt{receipt})
	res.Details = map[string]interface{}{
		"epochId":     a.EpochID,
		"characterId": a.CharacterID,
		"amountWei":   logAmountWei(receipt, "PlayerClaimed"),
	}
	return res, nil
}

func (e *Engine) claimDeployer(ctx context.Context, a ClaimDeployer) (*EngineResult, error) {
	if !e.cfg.AllowDeployerClaims {
		return nil, bizerrors.ErrDeployerClaimOff
	}
	txHash, receipt, err := e.send(ctx, contract.FeeVault, "claimDeployer", nil, uint32(a.EpochID))
	if err != nil {
		return nil, err
	}
	res := e.collect(ResultDeployerRewardClaimed, []common.Hash{txHash}, []*blockchain.Receipt{receipt})
	res.Details = map[string]interface{}{
		"epochId":   a.EpochID,
		"amountWei": logAmountWei(receipt, "DeployerClaimed"),
	}
	return res, nil
}

func (e *Engine) createTradeOffer(ctx context.Context, a CreateTradeOffer) (*EngineResult, error) {
	var hashes []common.Hash
	var receipts []*blockchain.Receipt

	h, r, err := e.ensureItemsApproval(ctx, contract.TradeEscrow)
	if err != nil {
		return nil, err
	}
	if r != nil {
		hashes, receipts = append(hashes, h), append(receipts, r)
	}

	feeRaw, err := readOne(ctx, e.chain, contract.TradeEscrow, "createFee")
	if err != nil {
		return nil, err
	}
	fee, _ := contract.AsBigInt(feeRaw)
	txHash, receipt, err := e.send(ctx, contract.TradeEscrow, "createOffer", fee,
		toBigInts(a.OfferedItemIDs), toBigInts(a.RequestedItemIDs), a.RequestedMMOWei())
	if err != nil {
		return nil, err
	}
	hashes, receipts = append(hashes, txHash), append(receipts, receipt)

	var offerID interface{}
	if id, ok := findLogBigInt([]*blockchain.Receipt{receipt}, "OfferCreated", "offerId"); ok {
		offerID = id.String()
	}
	res := e.collect(ResultTradeOfferCreated, hashes, receipts)
	res.Details = map[string]interface{}{
		"offerId":         offerID,
		"requestedMmoWei": a.RequestedMMOWei().String(),
		"offeredCount":    len(a.OfferedItemIDs),
		"requestedCount":  len(a.RequestedItemIDs),
	}
	return res, nil
}

func (e *Engine) fulfillTradeOffer(ctx context.Context, a FulfillTradeOffer) (*EngineResult, error) {
	var hashes []common.Hash
	var receipts []*blockchain.Receipt

	offer, err := readOffer(ctx, e.chain, a.OfferID)
	if err != nil {
		return nil, err
	}
	h, r, err := e.ensureItemsApproval(ctx, contract.TradeEscrow)
	if err != nil {
		return nil, err
	}
	if r != nil {
		hashes, receipts = append(hashes, h), append(receipts, r)
	}
	h, r, err = e.ensureMMOAllowance(ctx, contract.TradeEscrow, offer.RequestedMMO)
	if err != nil {
		return nil, err
	}
	if r != nil {
		hashes, receipts = append(hashes, h), append(receipts, r)
	}

	txHash, receipt, err := e.send(ctx, contract.TradeEscrow, "fulfillOffer", nil, big.NewInt(a.OfferID))
	if err != nil {
		return nil, err
	}
	hashes, receipts = append(hashes, txHash), append(receipts, receipt)

	res := e.collect(ResultTradeOfferFulfilled, hashes, receipts)
	res.Details = map[string]interface{}{
		"offerId":         a.OfferID,
		"maker":           offer.Maker.Hex(),
		"requestedMmoWei": bigString(offer.RequestedMMO),
	}
	return res, nil
}

func (e *Engine) createRFQ(ctx context.Context, a CreateRFQ) (*EngineResult, error) {
	var hashes []common.Hash
	var receipts []*blockchain.Receipt

	offered := a.MMOOfferedWei()
	h, r, err := e.ensureMMOAllowance(ctx, contract.RFQMarket, offered)
	if err != nil {
		return nil, err
	}
	if r != nil {
		hashes, receipts = append(hashes, h), append(receipts, r)
	}

	feeRaw, err := readOne(ctx, e.chain, contract.RFQMarket, "createFee")
	if err != nil {
		return nil, err
	}
	fee, _ := contract.AsBigInt(feeRaw)
	txHash, receipt, err := e.send(ctx, contract.RFQMarket, "createRFQ", fee,
		uint8(a.Slot), uint32(a.MinTier), a.SetMask(), offered, big.NewInt(a.ExpiryOrZero()))
	if err != nil {
		return nil, err
	}
	hashes, receipts = append(hashes, txHash), append(receipts, receipt)
	return e.collect(ResultRFQCreated, hashes, receipts), nil
}

// ensureItemsApproval 未授权时为 operator 合约设置 ERC721 setApprovalForAll
func (e *Engine) ensureItemsApproval(ctx context.Context, operator contract.Name) (common.Hash, *blockchain.Receipt, error) {
	operatorAddr, err := e.chain.ContractAddress(operator)
	if err != nil {
		return common.Hash{}, nil, err
	}
	approvedRaw, err := readOne(ctx, e.chain, contract.Items, "isApprovedForAll", e.signer, operatorAddr)
	if err != nil {
		return common.Hash{}, nil, err
	}
	if approved, _ := contract.AsBool(approvedRaw); approved {
		return common.Hash{}, nil, nil
	}
	return e.send(ctx, contract.Items, "setApprovalForAll", nil, operatorAddr, true)
}

// ensureMMOAllowance 额度不足时对 spender 授权最大额度
func (e *Engine) ensureMMOAllowance(ctx context.Context, spender contract.Name, required *big.Int) (common.Hash, *blockchain.Receipt, error) {
	if required == nil || required.Sign() <= 0 {
		return common.Hash{}, nil, nil
	}
	spenderAddr, err := e.chain.ContractAddress(spender)
	if err != nil {
		return common.Hash{}, nil, err
	}
	allowanceRaw, err := readOne(ctx, e.chain, contract.MMO, "allowance", e.signer, spenderAddr)
	if err != nil {
		return common.Hash{}, nil, err
	}
	if allowance, ok := contract.AsBigInt(allowanceRaw); ok && allowance.Cmp(required) >= 0 {
		return common.Hash{}, nil, nil
	}
	return e.send(ctx, contract.MMO, "approve", nil, spenderAddr, new(big.Int).Set(maxAllowance))
}

func (e *Engine) simpleWrite(ctx context.Context, target contract.Name, method, code string, details map[string]interface{}, args ...interface{}) (*EngineResult, error) {
	txHash, receipt, err := e.send(ctx, target, method, nil, args...)
	if err != nil {
		return nil, err
	}
	res := e.collect(code, []common.Hash{txHash}, []*blockchain.Receipt{receipt})
	res.Details = details
	return res, nil
}

// assertCharacterOwner 写交易前确认签名账户持有角色
func (e *Engine) assertCharacterOwner(ctx context.Context, characterID int64) error {
	owner, err := readCharacterOwner(ctx, e.chain, characterID)
	if err != nil {
		return err
	}
	if owner != e.signer {
		return errNotCharacterOwner
	}
	return nil
}

// send 发送交易并等待回执
func (e *Engine) send(ctx context.Context, target contract.Name, method string, value *big.Int, args ...interface{}) (common.Hash, *blockchain.Receipt, error) {
	txHash, err := e.chain.WriteContract(ctx, target, method, value, args...)
	if err != nil {
		return common.Hash{}, nil, err
	}
	receipt, err := e.chain.WaitForReceipt(ctx, txHash)
	if err != nil {
		return txHash, nil, fmt.Errorf("%s %s: %w", method, txHash.Hex(), err)
	}
	return txHash, receipt, nil
}

func (e *Engine) readHash(ctx context.Context, method string, args ...interface{}) ([32]byte, error) {
	raw, err := readOne(ctx, e.chain, contract.GameWorld, method, args...)
	if err != nil {
		return [32]byte{}, err
	}
	hash, ok := raw.([32]byte)
	if !ok {
		return [32]byte{}, fmt.Errorf("%s: unexpected type %T", method, raw)
	}
	return hash, nil
}

func (e *Engine) collect(code string, hashes []common.Hash, receipts []*blockchain.Receipt) *EngineResult {
	res := emptyResult(code, nil)
	for _, h := range hashes {
		res.TxHashes = append(res.TxHashes, h.Hex())
	}
	res.DeltaEvents = toDeltaEvents(receipts)
	return res
}

func toDeltaEvents(receipts []*blockchain.Receipt) []DeltaEvent {
	events := []DeltaEvent{}
	for _, r := range receipts {
		if r == nil {
			continue
		}
		for _, l := range r.Logs {
			events = append(events, DeltaEvent{
				BlockNumber: l.BlockNumber,
				TxHash:      l.TxHash.Hex(),
				Kind:        l.EventName,
				Payload:     NormalizeArgs(l.Args),
			})
		}
	}
	return events
}

func findLog(receipts []*blockchain.Receipt, event string) *contract.DecodedLog {
	for _, r := range receipts {
		if r == nil {
			continue
		}
		for _, l := range r.Logs {
			if l.EventName == event {
				return l
			}
		}
	}
	return nil
}

func findLogBigInt(receipts []*blockchain.Receipt, event, field string) (*big.Int, bool) {
	l := findLog(receipts, event)
	if l == nil {
		return nil, false
	}
	return contract.AsBigInt(l.Args[field])
}

func logAmountWei(receipt *blockchain.Receipt, event string) interface{} {
	if amount, ok := findLogBigInt([]*blockchain.Receipt{receipt}, event, "amount"); ok {
		return amount.String()
	}
	return nil
}

// NormalizeArgs 将解码后的事件参数转换为 JSON 友好的值:
// 大整数转十进制字符串, 地址和 bytes32 转十六进制.
func NormalizeArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = normalizeArg(v)
	}
	return out
}

func normalizeArg(v interface{}) interface{} {
	switch x := v.(type) {
	case *big.Int:
		return bigString(x)
	case []*big.Int:
		list := make([]string, len(x))
		for i, n := range x {
			list[i] = bigString(n)
		}
		return list
	case common.Address:
		return x.Hex()
	case common.Hash:
		return x.Hex()
	case [32]byte:
		return "0x" + hex.EncodeToString(x[:])
	case []byte:
		return "0x" + hex.EncodeToString(x)
	}
	return v
}

func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func toBigInts(ids []int64) []*big.Int {
	out := make([]*big.Int, len(ids))
	for i, id := range ids {
		out[i] = big.NewInt(id)
	}
	return out
}

func toUint8Slice(values []int) []uint8 {
	out := make([]uint8, len(values))
	for i, v := range values {
		out[i] = uint8(v)
	}
	return out
}

func containsFold(err error, needle string) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), strings.ToLower(needle))
}
