package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/contract"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/metrics"
)

// CodePrecheckOK 预检通过
const CodePrecheckOK = "PRECHECK_OK"

// 未指定 expiry 时建议的 RFQ 有效期
const suggestedRFQTTL = time.Hour

// PreflightResult 预检结果. 仅供参考: 预检与实际提交之间链上状态可能变化.
type PreflightResult struct {
	ActionType          ActionType             `json:"actionType"`
	WillSucceed         bool                   `json:"willSucceed"`
	Code                string                 `json:"code"`
	Reason              string                 `json:"reason"`
	Retryable           bool                   `json:"retryable"`
	RequiredValueWei    string                 `json:"requiredValueWei"`
	SuggestedParams     map[string]interface{} `json:"suggestedParams,omitempty"`
	SuggestedNextAction ActionType             `json:"suggestedNextAction,omitempty"`
}

// PreflightOptions 预检选项
type PreflightOptions struct {
	// CommitID 非空时先检查该 commit 的 reveal 窗口
	CommitID *int64
}

type preflightOpt func(*PreflightResult)

func withValue(wei *big.Int) preflightOpt {
	return func(r *PreflightResult) { r.RequiredValueWei = bigString(wei) }
}

func withParams(params map[string]interface{}) preflightOpt {
	return func(r *PreflightResult) { r.SuggestedParams = params }
}

func withNext(next ActionType) preflightOpt {
	return func(r *PreflightResult) { r.SuggestedNextAction = next }
}

func retryable() preflightOpt {
	return func(r *PreflightResult) { r.Retryable = true }
}

func passed(t ActionType, reason string, opts ...preflightOpt) *PreflightResult {
	r := &PreflightResult{ActionType: t, WillSucceed: true, Code: CodePrecheckOK, Reason: reason, RequiredValueWei: "0"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func rejected(t ActionType, code, reason string, opts ...preflightOpt) *PreflightResult {
	r := &PreflightResult{ActionType: t, Code: code, Reason: reason, RequiredValueWei: "0"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Preflight 只读预检, 不提交任何交易
type Preflight struct {
	chain               ChainGateway
	signer              common.Address
	allowDeployerClaims bool
	now                 func() time.Time
}

// NewPreflight 创建预检器
func NewPreflight(chain ChainGateway, allowDeployerClaims bool) *Preflight {
	return &Preflight{
		chain:               chain,
		signer:              chain.Signer(),
		allowDeployerClaims: allowDeployerClaims,
		now:                 time.Now,
	}
}

// Evaluate 预检动作. 链读取失败也以结果返回 (按错误分类给出 code 与 retryable).
func (p *Preflight) Evaluate(ctx context.Context, action Action, opts PreflightOptions) *PreflightResult {
	res, err := p.evaluate(ctx, action, opts)
	if err != nil {
		c := ClassifyError(err)
		res = rejected(action.Type(), c.Code, c.Message)
		res.Retryable = c.Retryable
	}
	metrics.RecordPreflight(string(action.Type()), res.Code)
	return res
}

func (p *Preflight) evaluate(ctx context.Context, action Action, opts PreflightOptions) (*PreflightResult, error) {
	if opts.CommitID != nil {
		gate, err := p.revealWindowGate(ctx, action.Type(), *opts.CommitID)
		if err != nil || gate != nil {
			return gate, err
		}
	}

	switch a := action.(type) {
	case CreateCharacter:
		return passed(a.Type(), "Character payload is valid"), nil
	case StartDungeon:
		return p.startDungeon(ctx, a)
	case NextRoom:
		return p.nextRoom(ctx, a)
	case OpenLootboxesMax:
		return p.openLootboxesMax(ctx, a)
	case EquipBest:
		return p.gearAction(ctx, a.Type(), a.CharacterID)
	case RerollItem:
		return p.gearAction(ctx, a.Type(), a.CharacterID)
	case ForgeSetPiece:
		return p.gearAction(ctx, a.Type(), a.CharacterID)
	case BuyPremiumLootboxes:
		return p.buyPremiumLootboxes(ctx, a)
	case FinalizeEpoch:
		return p.finalizeEpoch(ctx, a)
	case ClaimPlayer:
		return p.claimPlayer(ctx, a)
	case ClaimDeployer:
		return p.claimDeployer(ctx, a)
	case CreateTradeOffer:
		return p.createTradeOffer(ctx, a)
	case FulfillTradeOffer:
		return p.fulfillTradeOffer(ctx, a)
	case CancelTradeOffer:
		return p.cancelTradeOffer(ctx, a)
	case CancelExpiredTradeOffer:
		return p.cancelExpiredTradeOffer(ctx, a)
	case CreateRFQ:
		return p.createRFQ(ctx, a)
	case FillRFQ:
		return p.fillRFQ(ctx, a)
	case CancelRFQ:
		return p.cancelRFQ(ctx, a)
	}
	return nil, fmt.Errorf("unhandled action %T", action)
}

// revealWindowGate 检查 commit 是否已结算、已过期或尚未到 reveal 区块
func (p *Preflight) revealWindowGate(ctx context.Context, t ActionType, commitID int64) (*PreflightResult, error) {
	out, err := p.chain.ReadContract(ctx, contract.GameWorld, "revealWindow", big.NewInt(commitID))
	if err != nil {
		return nil, err
	}
	window, err := contract.ParseRevealWindow(out)
	if err != nil {
		return nil, err
	}
	current, err := p.chain.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case window.Resolved:
		return rejected(t, "CHAIN_COMMIT_RESOLVED", "Commit is already resolved",
			withParams(map[string]interface{}{"commitId": commitID})), nil
	case window.Expired:
		return rejected(t, "CHAIN_REVEAL_EXPIRED", "Commit reveal window has expired",
			withParams(map[string]interface{}{
				"commitId":     commitID,
				"endBlock":     window.EndBlock,
				"currentBlock": current,
			}),
			withNext(SuggestCancelExpired)), nil
	case !window.CanReveal && current < window.StartBlock:
		return rejected(t, "CHAIN_REVEAL_TOO_EARLY", "Commit reveal window has not opened yet",
			retryable(),
			withParams(map[string]interface{}{
				"commitId":          commitID,
				"currentBlock":      current,
				"startBlock":        window.StartBlock,
				"blocksUntilReveal": window.StartBlock - current,
			})), nil
	}
	return nil, nil
}

// ensureOwner 签名账户不是角色持有者时返回拒绝结果
func (p *Preflight) ensureOwner(ctx context.Context, t ActionType, characterID int64, value *big.Int) (*PreflightResult, error) {
	owner, err := readCharacterOwner(ctx, p.chain, characterID)
	if err != nil {
		return nil, err
	}
	if owner != p.signer {
		return rejected(t, "PRECHECK_ONLY_CHARACTER_OWNER", "Signer does not own the target character", withValue(value)), nil
	}
	return nil, nil
}

func (p *Preflight) startDungeon(ctx context.Context, a StartDungeon) (*PreflightResult, error) {
	fee, err := readBigInt(ctx, p.chain, contract.GameWorld, "commitFee")
	if err != nil {
		return nil, err
	}
	if res, err := p.ensureOwner(ctx, a.Type(), a.CharacterID, fee); err != nil || res != nil {
		return res, err
	}
	gate, err := loadDungeonGate(ctx, p.chain, a.CharacterID, a.DungeonLevel)
	if err != nil {
		return nil, err
	}
	if gate.run.Active {
		return rejected(a.Type(), "PRECHECK_RUN_ALREADY_ACTIVE", "Character already has an active dungeon run",
			withValue(fee), withNext(ActionNextRoom)), nil
	}
	if gate.equipped < gate.required {
		return rejected(a.Type(), "PRECHECK_INSUFFICIENT_EQUIPPED_SLOTS",
			fmt.Sprintf("Need %d equipped slots before level %d", gate.required, a.DungeonLevel),
			withValue(fee),
			withNext(ActionEquipBest),
			withParams(map[string]interface{}{
				"equippedSlots": gate.equipped,
				"requiredSlots": gate.required,
				"dungeonLevel":  a.DungeonLevel,
			})), nil
	}
	return passed(a.Type(), "Preflight passed for start_dungeon", withValue(fee)), nil
}

// potionUses 统计请求中各类药水的使用次数 (1 hp, 2 mana, 3 power)
func potionUses(a NextRoom) map[string]int {
	choices := a.PotionChoices
	if choices == nil {
		potion, _ := a.SingleChoices()
		choices = []int{int(potion)}
	}
	uses := map[string]int{"hp": 0, "mana": 0, "power": 0}
	for _, c := range choices {
		switch c {
		case 1:
			uses["hp"]++
		case 2:
			uses["mana"]++
		case 3:
			uses["power"]++
		}
	}
	return uses
}

func (p *Preflight) nextRoom(ctx context.Context, a NextRoom) (*PreflightResult, error) {
	if res, err := p.ensureOwner(ctx, a.Type(), a.CharacterID, nil); err != nil || res != nil {
		return res, err
	}
	run, err := readRunState(ctx, p.chain, a.CharacterID)
	if err != nil {
		return nil, err
	}
	if !run.Active {
		return rejected(a.Type(), "PRECHECK_RUN_NOT_ACTIVE", "No active dungeon run to resolve",
			withNext(ActionStartDungeon)), nil
	}

	uses := potionUses(a)
	available := map[string]int{
		"hp":    int(run.HPPotionCharges),
		"mana":  int(run.ManaPotionCharges),
		"power": int(run.PowerPotionCharges),
	}
	for kind, n := range uses {
		if n > available[kind] {
			return rejected(a.Type(), "PRECHECK_POTION_UNAVAILABLE",
				"Potion choice exceeds currently available run potion charges",
				withParams(map[string]interface{}{
					"requestedPotionUses":    uses,
					"availablePotionCharges": available,
				}),
				withNext(SuggestGetAgentState)), nil
		}
	}
	return passed(a.Type(), "Preflight passed for next_room"), nil
}

func (p *Preflight) openLootboxesMax(ctx context.Context, a OpenLootboxesMax) (*PreflightResult, error) {
	fee, err := readBigInt(ctx, p.chain, contract.GameWorld, "commitFee")
	if err != nil {
		return nil, err
	}
	if res, err := p.ensureOwner(ctx, a.Type(), a.CharacterID, fee); err != nil || res != nil {
		return res, err
	}
	quote, err := readLootboxQuote(ctx, p.chain, big.NewInt(a.CharacterID), uint32(a.Tier), uint16(a.MaxAmount), varianceOrDefault(a.VarianceMode))
	if err != nil {
		return nil, err
	}
	if quote.OpenableAmount == 0 {
		return rejected(a.Type(), "PRECHECK_INSUFFICIENT_LOOTBOX_CREDITS",
			"No lootboxes are currently openable for requested tier/variance",
			withValue(fee),
			withNext(ActionStartDungeon),
			withParams(map[string]interface{}{
				"availableTotal":   quote.AvailableTotal,
				"availableBound":   quote.AvailableBound,
				"availableGeneric": quote.AvailableGeneric,
				"openableAmount":   quote.OpenableAmount,
			})), nil
	}
	return passed(a.Type(), "Preflight passed for open_lootboxes_max",
		withValue(fee),
		withParams(map[string]interface{}{"openableAmount": quote.OpenableAmount})), nil
}

// gearAction 装备类动作: 运行中的地下城会锁定装备
func (p *Preflight) gearAction(ctx context.Context, t ActionType, characterID int64) (*PreflightResult, error) {
	if res, err := p.ensureOwner(ctx, t, characterID, nil); err != nil || res != nil {
		return res, err
	}
	run, err := readRunState(ctx, p.chain, characterID)
	if err != nil {
		return nil, err
	}
	if run.Active {
		return rejected(t, "CHAIN_GEAR_LOCKED_DURING_RUN", "Gear is locked while a dungeon run is active",
			withNext(ActionNextRoom)), nil
	}
	return passed(t, fmt.Sprintf("Preflight passed for %s", t)), nil
}

func (p *Preflight) buyPremiumLootboxes(ctx context.Context, a BuyPremiumLootboxes) (*PreflightResult, error) {
	if res, err := p.ensureOwner(ctx, a.Type(), a.CharacterID, nil); err != nil || res != nil {
		return res, err
	}
	ethCost, mmoCost, err := readPremiumQuote(ctx, p.chain, big.NewInt(a.CharacterID), uint8(a.Difficulty), uint16(a.Amount))
	if err != nil {
		return nil, err
	}
	return passed(a.Type(), "Preflight passed for buy_premium_lootboxes",
		withValue(ethCost),
		withParams(map[string]interface{}{
			"difficulty": a.Difficulty,
			"amount":     a.Amount,
			"mmoCostWei": mmoCost.String(),
		})), nil
}

func (p *Preflight) finalizeEpoch(ctx context.Context, a FinalizeEpoch) (*PreflightResult, error) {
	snapshot, err := readEpochSnapshot(ctx, p.chain, a.EpochID)
	if err != nil {
		return nil, err
	}
	if snapshot.Finalized {
		return rejected(a.Type(), "CHAIN_EPOCH_ALREADY_FINALIZED", "Epoch is already finalized"), nil
	}
	return passed(a.Type(), "Preflight passed for finalize_epoch"), nil
}

// epochClaimState 并发读取 epoch 快照与领取状态
func (p *Preflight) epochClaimState(ctx context.Context, epochID int64, claimedMethod string, claimedArgs ...interface{}) (*contract.EpochSnapshot, bool, error) {
	var snapshot *contract.EpochSnapshot
	var claimed bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snapshot, err = readEpochSnapshot(gctx, p.chain, epochID)
		return err
	})
	g.Go(func() error {
		var err error
		claimed, err = readBool(gctx, p.chain, contract.FeeVault, claimedMethod, claimedArgs...)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	return snapshot, claimed, nil
}

func (p *Preflight) claimPlayer(ctx context.Context, a ClaimPlayer) (*PreflightResult, error) {
	if res, err := p.ensureOwner(ctx, a.Type(), a.CharacterID, nil); err != nil || res != nil {
		return res, err
	}
	snapshot, claimed, err := p.epochClaimState(ctx, a.EpochID, "playerClaimed", uint32(a.EpochID), big.NewInt(a.CharacterID))
	if err != nil {
		return nil, err
	}
	if !snapshot.Finalized {
		return rejected(a.Type(), "CHAIN_EPOCH_NOT_FINALIZED", "Epoch is not finalized yet", retryable()), nil
	}
	if claimed {
		return rejected(a.Type(), "CHAIN_ALREADY_CLAIMED", "Player reward already claimed for this epoch"), nil
	}
	return passed(a.Type(), "Preflight passed for claim_player",
		withParams(map[string]interface{}{"epochId": a.EpochID, "characterId": a.CharacterID})), nil
}

func (p *Preflight) claimDeployer(ctx context.Context, a ClaimDeployer) (*PreflightResult, error) {
	if !p.allowDeployerClaims {
		return rejected(a.Type(), "POLICY_DEPLOYER_CLAIM_DISABLED", "Deployer claim action is disabled by policy"), nil
	}
	snapshot, claimed, err := p.epochClaimState(ctx, a.EpochID, "deployerClaimed", uint32(a.EpochID))
	if err != nil {
		return nil, err
	}
	if !snapshot.Finalized {
		return rejected(a.Type(), "CHAIN_EPOCH_NOT_FINALIZED", "Epoch is not finalized yet", retryable()), nil
	}
	if claimed {
		return rejected(a.Type(), "CHAIN_ALREADY_CLAIMED", "Deployer reward already claimed for this epoch"), nil
	}
	return passed(a.Type(), "Preflight passed for claim_deployer",
		withParams(map[string]interface{}{"epochId": a.EpochID})), nil
}

func (p *Preflight) itemsApproved(ctx context.Context) (bool, error) {
	escrow, err := p.chain.ContractAddress(contract.TradeEscrow)
	if err != nil {
		return false, err
	}
	return readBool(ctx, p.chain, contract.Items, "isApprovedForAll", p.signer, escrow)
}

func (p *Preflight) createTradeOffer(ctx context.Context, a CreateTradeOffer) (*PreflightResult, error) {
	var fee *big.Int
	var approved bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fee, err = readBigInt(gctx, p.chain, contract.TradeEscrow, "createFee")
		return err
	})
	g.Go(func() error {
		var err error
		approved, err = p.itemsApproved(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return passed(a.Type(), "Preflight passed for create_trade_offer",
		withValue(fee),
		withParams(map[string]interface{}{
			"offeredCount":          len(a.OfferedItemIDs),
			"requestedCount":        len(a.RequestedItemIDs),
			"itemsApprovalRequired": !approved,
		})), nil
}

func (p *Preflight) fulfillTradeOffer(ctx context.Context, a FulfillTradeOffer) (*PreflightResult, error) {
	offer, err := readOffer(ctx, p.chain, a.OfferID)
	if err != nil {
		return nil, err
	}
	if !offer.Active {
		return rejected(a.Type(), "CHAIN_OFFER_INACTIVE", "Trade offer is not active"), nil
	}
	now := uint64(p.now().Unix())
	if offer.Expiry > 0 && now > offer.Expiry {
		return rejected(a.Type(), "CHAIN_OFFER_EXPIRED", "Trade offer has expired"), nil
	}

	var approved bool
	allowance := new(big.Int)
	needMMO := offer.RequestedMMO != nil && offer.RequestedMMO.Sign() > 0
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		approved, err = p.itemsApproved(gctx)
		return err
	})
	if needMMO {
		g.Go(func() error {
			escrow, err := p.chain.ContractAddress(contract.TradeEscrow)
			if err != nil {
				return err
			}
			allowance, err = readBigInt(gctx, p.chain, contract.MMO, "allowance", p.signer, escrow)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return passed(a.Type(), "Preflight passed for fulfill_trade_offer",
		withParams(map[string]interface{}{
			"offerId":               a.OfferID,
			"maker":                 offer.Maker.Hex(),
			"requestedMmoWei":       bigString(offer.RequestedMMO),
			"itemsApprovalRequired": !approved,
			"mmoApprovalRequired":   needMMO && allowance.Cmp(offer.RequestedMMO) < 0,
		})), nil
}

func (p *Preflight) cancelTradeOffer(ctx context.Context, a CancelTradeOffer) (*PreflightResult, error) {
	offer, err := readOffer(ctx, p.chain, a.OfferID)
	if err != nil {
		return nil, err
	}
	if !offer.Active {
		return rejected(a.Type(), "CHAIN_OFFER_INACTIVE", "Trade offer is not active"), nil
	}
	if offer.Maker != p.signer {
		return rejected(a.Type(), "CHAIN_NOT_OFFER_MAKER", "Only offer maker can cancel"), nil
	}
	return passed(a.Type(), "Preflight passed for cancel_trade_offer",
		withParams(map[string]interface{}{"offerId": a.OfferID})), nil
}

func (p *Preflight) cancelExpiredTradeOffer(ctx context.Context, a CancelExpiredTradeOffer) (*PreflightResult, error) {
	offer, err := readOffer(ctx, p.chain, a.OfferID)
	if err != nil {
		return nil, err
	}
	if !offer.Active {
		return rejected(a.Type(), "CHAIN_OFFER_INACTIVE", "Trade offer is not active"), nil
	}
	now := uint64(p.now().Unix())
	if offer.Expiry == 0 || now <= offer.Expiry {
		return rejected(a.Type(), "CHAIN_OFFER_NOT_EXPIRED", "Trade offer is not expired yet", retryable()), nil
	}
	return passed(a.Type(), "Preflight passed for cancel_expired_trade_offer",
		withParams(map[string]interface{}{"offerId": a.OfferID})), nil
}

func (p *Preflight) createRFQ(ctx context.Context, a CreateRFQ) (*PreflightResult, error) {
	var fee, maxTTL *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fee, err = readBigInt(gctx, p.chain, contract.RFQMarket, "createFee")
		return err
	})
	g.Go(func() error {
		var err error
		maxTTL, err = readBigInt(gctx, p.chain, contract.RFQMarket, "maxTtl")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if a.MMOOfferedWei().Sign() <= 0 {
		return rejected(a.Type(), "PRECHECK_INVALID_AMOUNT", "RFQ requires mmoOffered > 0", withValue(fee)), nil
	}

	now := p.now().Unix()
	upper := now + maxTTL.Int64()
	if a.Expiry == nil || *a.Expiry <= now || *a.Expiry > upper {
		suggested := now + int64(suggestedRFQTTL/time.Second)
		if suggested > upper {
			suggested = upper
		}
		return rejected(a.Type(), "PRECHECK_INVALID_EXPIRY", "RFQ expiry must be in the future and within max ttl",
			withValue(fee),
			withParams(map[string]interface{}{
				"nowUnix":             now,
				"maxExpiryUnix":       upper,
				"suggestedExpiryUnix": suggested,
			})), nil
	}
	return passed(a.Type(), "Preflight passed for create_rfq", withValue(fee)), nil
}

func (p *Preflight) fillRFQ(ctx context.Context, a FillRFQ) (*PreflightResult, error) {
	rfq, err := readRFQ(ctx, p.chain, a.RFQID)
	if err != nil {
		return nil, err
	}
	if !rfq.Active {
		return rejected(a.Type(), "CHAIN_RFQ_INACTIVE", "RFQ is no longer active"), nil
	}
	if rfq.Expiry > 0 && uint64(p.now().Unix()) > rfq.Expiry {
		return rejected(a.Type(), "CHAIN_RFQ_EXPIRED", "RFQ has expired"), nil
	}
	return passed(a.Type(), "Preflight passed for fill_rfq"), nil
}

func (p *Preflight) cancelRFQ(ctx context.Context, a CancelRFQ) (*PreflightResult, error) {
	rfq, err := readRFQ(ctx, p.chain, a.RFQID)
	if err != nil {
		return nil, err
	}
	if !rfq.Active {
		return rejected(a.Type(), "CHAIN_RFQ_INACTIVE", "RFQ is no longer active"), nil
	}
	if rfq.Maker != p.signer {
		return rejected(a.Type(), "CHAIN_NOT_RFQ_MAKER", "Only RFQ maker can cancel", withNext(ActionFillRFQ)), nil
	}
	return passed(a.Type(), "Preflight passed for cancel_rfq"), nil
}
