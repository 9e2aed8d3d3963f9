package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/contract"
)

// 引擎, 预检与索引器共用的链上只读查询

// contractReader 只读合约调用
type contractReader interface {
	ReadContract(ctx context.Context, target contract.Name, method string, args ...interface{}) ([]interface{}, error)
}

func readOne(ctx context.Context, chain contractReader, target contract.Name, method string, args ...interface{}) (interface{}, error) {
	out, err := chain.ReadContract(ctx, target, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s.%s: empty result", target, method)
	}
	return out[0], nil
}

func readBigInt(ctx context.Context, chain contractReader, target contract.Name, method string, args ...interface{}) (*big.Int, error) {
	raw, err := readOne(ctx, chain, target, method, args...)
	if err != nil {
		return nil, err
	}
	n, ok := contract.AsBigInt(raw)
	if !ok {
		return nil, fmt.Errorf("%s.%s: unexpected type %T", target, method, raw)
	}
	return n, nil
}

func readBool(ctx context.Context, chain contractReader, target contract.Name, method string, args ...interface{}) (bool, error) {
	raw, err := readOne(ctx, chain, target, method, args...)
	if err != nil {
		return false, err
	}
	b, ok := contract.AsBool(raw)
	if !ok {
		return false, fmt.Errorf("%s.%s: unexpected type %T", target, method, raw)
	}
	return b, nil
}

func readCharacterOwner(ctx context.Context, chain contractReader, characterID int64) (common.Address, error) {
	raw, err := readOne(ctx, chain, contract.GameWorld, "ownerOfCharacter", big.NewInt(characterID))
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := contract.AsAddress(raw)
	if !ok {
		return common.Address{}, fmt.Errorf("ownerOfCharacter: unexpected type %T", raw)
	}
	return owner, nil
}

func readRunState(ctx context.Context, chain contractReader, characterID int64) (*contract.RunState, error) {
	out, err := chain.ReadContract(ctx, contract.GameWorld, "getRunState", big.NewInt(characterID))
	if err != nil {
		return nil, err
	}
	return contract.ParseRunState(out)
}

func readLootboxQuote(ctx context.Context, chain contractReader, characterID *big.Int, tier uint32, amount uint16, variance uint8) (*contract.LootboxQuote, error) {
	out, err := chain.ReadContract(ctx, contract.GameWorld, "quoteOpenLootboxes", characterID, tier, amount, variance)
	if err != nil {
		return nil, err
	}
	return contract.ParseLootboxQuote(out)
}

func readPremiumQuote(ctx context.Context, chain contractReader, characterID *big.Int, difficulty uint8, amount uint16) (ethCost, mmoCost *big.Int, err error) {
	out, err := chain.ReadContract(ctx, contract.FeeVault, "quotePremiumPurchase", characterID, difficulty, amount)
	if err != nil {
		return nil, nil, err
	}
	if len(out) < 2 {
		return nil, nil, fmt.Errorf("quotePremiumPurchase: expected 2 outputs, got %d", len(out))
	}
	ethCost, _ = contract.AsBigInt(out[0])
	mmoCost, _ = contract.AsBigInt(out[1])
	if ethCost == nil {
		ethCost = new(big.Int)
	}
	if mmoCost == nil {
		mmoCost = new(big.Int)
	}
	return ethCost, mmoCost, nil
}

func readOffer(ctx context.Context, chain contractReader, offerID int64) (*contract.Offer, error) {
	out, err := chain.ReadContract(ctx, contract.TradeEscrow, "offers", big.NewInt(offerID))
	if err != nil {
		return nil, err
	}
	return contract.ParseOffer(out)
}

func readRFQ(ctx context.Context, chain contractReader, rfqID int64) (*contract.RFQ, error) {
	out, err := chain.ReadContract(ctx, contract.RFQMarket, "rfqs", big.NewInt(rfqID))
	if err != nil {
		return nil, err
	}
	return contract.ParseRFQ(out)
}

func readEpochSnapshot(ctx context.Context, chain contractReader, epochID int64) (*contract.EpochSnapshot, error) {
	out, err := chain.ReadContract(ctx, contract.FeeVault, "epochSnapshot", uint32(epochID))
	if err != nil {
		return nil, err
	}
	return contract.ParseEpochSnapshot(out)
}

// dungeonGate 开始地下城前需要的三项状态
type dungeonGate struct {
	run      *contract.RunState
	equipped uint64
	required uint64
}

// loadDungeonGate 并发读取运行状态、已装备槽位数和关卡要求的槽位数
func loadDungeonGate(ctx context.Context, chain contractReader, characterID, dungeonLevel int64) (*dungeonGate, error) {
	gate := &dungeonGate{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		run, err := readRunState(gctx, chain, characterID)
		gate.run = run
		return err
	})
	g.Go(func() error {
		n, err := readBigInt(gctx, chain, contract.GameWorld, "equippedSlotCount", big.NewInt(characterID))
		if err == nil {
			gate.equipped = n.Uint64()
		}
		return err
	})
	g.Go(func() error {
		n, err := readBigInt(gctx, chain, contract.GameWorld, "requiredEquippedSlots", uint32(dungeonLevel))
		if err == nil {
			gate.required = n.Uint64()
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return gate, nil
}
