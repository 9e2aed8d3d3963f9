package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/contract"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/repository"
)

// logUpdate 单条日志对应的物化表写入, apply 在事务中执行
type logUpdate struct {
	characterID *int64
	apply       func(ctx context.Context, repo repository.IndexerRepository) error
}

// prepareUpdate 按事件类型读取补充的链上状态并生成写入
func (s *IndexerService) prepareUpdate(ctx context.Context, l *contract.DecodedLog) (*logUpdate, error) {
	args := eventArgs{event: l.EventName, values: l.Args}
	block := int64(l.BlockNumber)

	// 未处理的事件只写增量, 有 characterId 时关联到角色
	update := &logUpdate{}
	if id, ok := args.optionalInt64("characterId"); ok {
		update.characterID = &id
	}

	switch l.EventName {
	case "CharacterCreated":
		characterID, err := args.int64("characterId")
		if err != nil {
			return nil, err
		}
		owner, err := args.address("owner")
		if err != nil {
			return nil, err
		}
		race, _ := args.optionalInt64("race")
		classType, _ := args.optionalInt64("classType")
		name, _ := args.values["name"].(string)
		epoch, err := s.readUint(ctx, "characterLastLevelUpEpoch", big.NewInt(characterID))
		if err != nil {
			return nil, err
		}
		update.apply = func(ctx context.Context, repo repository.IndexerRepository) error {
			if err := repo.UpsertCharacter(ctx, &model.Character{
				CharacterID:  characterID,
				Owner:        owner.Hex(),
				Race:         int(race),
				ClassType:    int(classType),
				Name:         name,
				CreatedBlock: block,
				UpdatedBlock: block,
			}); err != nil {
				return err
			}
			if err := repo.UpsertLevelState(ctx, &model.CharacterLevelState{
				CharacterID:      characterID,
				Owner:            owner.Hex(),
				BestLevel:        1,
				LastLevelUpEpoch: int64(epoch),
				UpdatedBlock:     block,
			}); err != nil {
				return err
			}
			return repo.InitUpgradeStones(ctx, characterID, block)
		}

	case "CharacterLevelUpdated":
		characterID, err := args.int64("characterId")
		if err != nil {
			return nil, err
		}
		newLevel, err := args.int64("newLevel")
		if err != nil {
			return nil, err
		}
		epoch, err := args.int64("lastLevelUpEpoch")
		if err != nil {
			return nil, err
		}
		owner, err := readCharacterOwner(ctx, s.chain, characterID)
		if err != nil {
			return nil, err
		}
		update.apply = func(ctx context.Context, repo repository.IndexerRepository) error {
			return repo.UpsertLevelState(ctx, &model.CharacterLevelState{
				CharacterID:      characterID,
				Owner:            owner.Hex(),
				BestLevel:        newLevel,
				LastLevelUpEpoch: epoch,
				UpdatedBlock:     block,
			})
		}

	case "LootboxCredited", "LootboxOpened", "LootboxOpenMaxResolved":
		characterID, err := args.int64("characterId")
		if err != nil {
			return nil, err
		}
		tier, err := args.int64("tier")
		if err != nil {
			return nil, err
		}
		credits, err := s.readLootboxCredits(ctx, characterID, tier)
		if err != nil {
			return nil, err
		}
		credits.UpdatedBlock = block
		update.apply = func(ctx context.Context, repo repository.IndexerRepository) error {
			return repo.UpsertLootboxCredits(ctx, credits)
		}

	case "ItemEquipped":
		characterID, err := args.int64("characterId")
		if err != nil {
			return nil, err
		}
		slot, err := args.int64("slot")
		if err != nil {
			return nil, err
		}
		itemID, err := args.bigInt("itemId")
		if err != nil {
			return nil, err
		}
		update.apply = func(ctx context.Context, repo repository.IndexerRepository) error {
			return repo.UpsertEquipment(ctx, &model.CharacterEquipment{
				CharacterID:  characterID,
				Slot:         int(slot),
				ItemID:       itemID.String(),
				UpdatedBlock: block,
			})
		}

	case "UpgradeStoneGranted", "ItemRerolled", "SetPieceForged":
		characterID, err := args.int64("characterId")
		if err != nil {
			return nil, err
		}
		balance, err := s.readUint(ctx, "upgradeStoneBalance", big.NewInt(characterID))
		if err != nil {
			return nil, err
		}
		update.apply = func(ctx context.Context, repo repository.IndexerRepository) error {
			return repo.UpsertUpgradeStones(ctx, &model.CharacterUpgradeStoneState{
				CharacterID:  characterID,
				Balance:      int64(balance),
				UpdatedBlock: block,
			})
		}

	case "EpochFinalized":
		epochID, err := args.int64("epochId")
		if err != nil {
			return nil, err
		}
		cutoff, err := args.int64("cutoffLevel")
		if err != nil {
			return nil, err
		}
		weight, err := args.bigInt("totalEligibleWeight")
		if err != nil {
			return nil, err
		}
		players, err := args.bigInt("feesForPlayers")
		if err != nil {
			return nil, err
		}
		deployer, err := args.bigInt("feesForDeployer")
		if err != nil {
			return nil, err
		}
		update.apply = func(ctx context.Context, repo repository.IndexerRepository) error {
			return repo.UpsertEpochState(ctx, &model.LeaderboardEpochState{
				EpochID:             epochID,
				Finalized:           true,
				CutoffLevel:         cutoff,
				TotalEligibleWeight: weight.String(),
				FeesForPlayers:      players.String(),
				FeesForDeployer:     deployer.String(),
				UpdatedBlock:        block,
			})
		}

	case "PlayerClaimed":
		epochID, err := args.int64("epochId")
		if err != nil {
			return nil, err
		}
		characterID, err := args.int64("characterId")
		if err != nil {
			return nil, err
		}
		owner, err := args.address("owner")
		if err != nil {
			return nil, err
		}
		amount, err := args.bigInt("amount")
		if err != nil {
			return nil, err
		}
		txHash := l.TxHash.Hex()
		update.apply = func(ctx context.Context, repo repository.IndexerRepository) error {
			return repo.UpsertClaimState(ctx, &model.LeaderboardClaimState{
				EpochID:      epochID,
				CharacterID:  characterID,
				Claimed:      true,
				Amount:       amount.String(),
				TxHash:       txHash,
				Owner:        owner.Hex(),
				UpdatedBlock: block,
			})
		}

	case "RFQCreated":
		row, err := rfqFromEvent(args, block)
		if err != nil {
			return nil, err
		}
		update.apply = func(ctx context.Context, repo repository.IndexerRepository) error {
			return repo.UpsertRFQ(ctx, row)
		}

	case "RFQFilled", "RFQCancelled":
		rfqID, err := args.int64("rfqId")
		if err != nil {
			return nil, err
		}
		filled := l.EventName == "RFQFilled"
		update.apply = func(ctx context.Context, repo repository.IndexerRepository) error {
			return repo.UpdateRFQStatus(ctx, rfqID, false, &filled, block)
		}

	case "OfferCreated":
		row, err := offerFromEvent(args, block)
		if err != nil {
			return nil, err
		}
		update.apply = func(ctx context.Context, repo repository.IndexerRepository) error {
			return repo.UpsertTradeOffer(ctx, row)
		}

	case "OfferCancelled", "OfferFulfilled":
		offerID, err := args.int64("offerId")
		if err != nil {
			return nil, err
		}
		update.apply = func(ctx context.Context, repo repository.IndexerRepository) error {
			return repo.UpdateTradeOfferStatus(ctx, offerID, false, block)
		}
	}

	return update, nil
}

func rfqFromEvent(args eventArgs, block int64) (*model.RFQState, error) {
	rfqID, err := args.int64("rfqId")
	if err != nil {
		return nil, err
	}
	maker, err := args.address("maker")
	if err != nil {
		return nil, err
	}
	slot, err := args.int64("slot")
	if err != nil {
		return nil, err
	}
	minTier, err := args.int64("minTier")
	if err != nil {
		return nil, err
	}
	setMask, err := args.bigInt("setMask")
	if err != nil {
		return nil, err
	}
	offered, err := args.bigInt("mmoOffered")
	if err != nil {
		return nil, err
	}
	expiry, err := args.int64("expiry")
	if err != nil {
		return nil, err
	}
	return &model.RFQState{
		RFQID:        rfqID,
		Maker:        maker.Hex(),
		Slot:         int(slot),
		MinTier:      minTier,
		SetMask:      setMask.String(),
		MMOOffered:   offered.String(),
		Expiry:       expiry,
		Active:       true,
		Filled:       false,
		UpdatedBlock: block,
	}, nil
}

func offerFromEvent(args eventArgs, block int64) (*model.TradeOfferState, error) {
	offerID, err := args.int64("offerId")
	if err != nil {
		return nil, err
	}
	maker, err := args.address("maker")
	if err != nil {
		return nil, err
	}
	requested, err := args.bigInt("requestedMmo")
	if err != nil {
		return nil, err
	}
	offered, err := json.Marshal(bigStrings(args.bigInts("offeredItemIds")))
	if err != nil {
		return nil, err
	}
	wanted, err := json.Marshal(bigStrings(args.bigInts("requestedItemIds")))
	if err != nil {
		return nil, err
	}
	return &model.TradeOfferState{
		OfferID:          offerID,
		Maker:            maker.Hex(),
		RequestedMMO:     requested.String(),
		OfferedItemIDs:   string(offered),
		RequestedItemIDs: string(wanted),
		Active:           true,
		UpdatedBlock:     block,
	}, nil
}

// buildDelta 事件增量: payload 为归一化后的事件参数
func (s *IndexerService) buildDelta(l *contract.DecodedLog, characterID *int64) (*model.CompactEventDelta, error) {
	payload, err := json.Marshal(NormalizeArgs(l.Args))
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", l.EventName, err)
	}
	return &model.CompactEventDelta{
		ChainID:     s.chain.ChainID(),
		BlockNumber: int64(l.BlockNumber),
		LogIndex:    int(l.LogIndex),
		TxHash:      strings.ToLower(l.TxHash.Hex()),
		CharacterID: characterID,
		Kind:        l.EventName,
		Payload:     string(payload),
	}, nil
}

// readUint 读取 GameWorld 上返回单个无符号整数的 view
func (s *IndexerService) readUint(ctx context.Context, method string, args ...interface{}) (uint64, error) {
	out, err := s.chain.ReadContract(ctx, contract.GameWorld, method, args...)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("%s: empty result", method)
	}
	n, ok := contract.AsUint64(out[0])
	if !ok {
		return 0, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return n, nil
}

// readLootboxCredits 并发读取总额度与三种 variance 的绑定额度
func (s *IndexerService) readLootboxCredits(ctx context.Context, characterID, tier int64) (*model.CharacterLootboxCredits, error) {
	id := big.NewInt(characterID)
	t := uint32(tier)
	var total, stable, neutral, swingy uint64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		total, err = s.readUint(gctx, "lootboxCredits", id, t)
		return err
	})
	g.Go(func() (err error) {
		stable, err = s.readUint(gctx, "lootboxBoundCredits", id, t, uint8(0))
		return err
	})
	g.Go(func() (err error) {
		neutral, err = s.readUint(gctx, "lootboxBoundCredits", id, t, uint8(1))
		return err
	})
	g.Go(func() (err error) {
		swingy, err = s.readUint(gctx, "lootboxBoundCredits", id, t, uint8(2))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &model.CharacterLootboxCredits{
		CharacterID:  characterID,
		Tier:         tier,
		TotalCredits: int64(total),
		Variance0:    int64(stable),
		Variance1:    int64(neutral),
		Variance2:    int64(swingy),
	}, nil
}

// eventArgs 解码后的事件参数访问
type eventArgs struct {
	event  string
	values map[string]interface{}
}

func (a eventArgs) missing(field string) error {
	return fmt.Errorf("%s: missing or invalid %s", a.event, field)
}

func (a eventArgs) bigInt(field string) (*big.Int, error) {
	n, ok := contract.AsBigInt(a.values[field])
	if !ok {
		return nil, a.missing(field)
	}
	return n, nil
}

func (a eventArgs) int64(field string) (int64, error) {
	n, ok := contract.AsInt64(a.values[field])
	if !ok {
		return 0, a.missing(field)
	}
	return n, nil
}

func (a eventArgs) optionalInt64(field string) (int64, bool) {
	v, ok := a.values[field]
	if !ok {
		return 0, false
	}
	return contract.AsInt64(v)
}

func (a eventArgs) address(field string) (common.Address, error) {
	addr, ok := contract.AsAddress(a.values[field])
	if !ok {
		return common.Address{}, a.missing(field)
	}
	return addr, nil
}

func (a eventArgs) bigInts(field string) []*big.Int {
	list, _ := contract.AsBigIntSlice(a.values[field])
	return list
}

func bigStrings(list []*big.Int) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.String())
	}
	return out
}
