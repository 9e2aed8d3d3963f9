package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
)

var (
	ErrCursorNotFound = errors.New("indexer cursor not found")
)

// derivedTables 可重建的派生表 (重置时清空). action_submissions 为审计记录, 不在此列.
var derivedTables = []string{
	"characters",
	"character_level_state",
	"character_lootbox_credits",
	"character_equipment",
	"character_upgrade_stone_state",
	"leaderboard_epoch_state",
	"leaderboard_claim_state",
	"rfq_state",
	"trade_offer_state",
	"compact_event_delta",
	"processed_logs",
	"indexer_cursor",
}

// IndexerRepository 索引仓储接口
type IndexerRepository interface {
	// 事务: fn 中使用传入的 ctx 调用本仓储方法即在同一事务中执行.
	// 死锁或序列化冲突时整体重试, 最多 maxAttempts 次
	TransactionWithRetry(ctx context.Context, maxAttempts int, fn func(ctx context.Context) error) error

	// 游标
	GetCursor(ctx context.Context, name string, defaultBlock int64) (*model.IndexerCursor, error)
	FindCursor(ctx context.Context, name string) (*model.IndexerCursor, error)
	SetCursor(ctx context.Context, name string, block int64, logIndex int) error

	// 去重标记
	MarkProcessed(ctx context.Context, marker *model.ProcessedLog) (bool, error)
	UnmarkProcessed(ctx context.Context, chainID int64, txHash string, logIndex int) error

	// 增量账本
	InsertDelta(ctx context.Context, delta *model.CompactEventDelta) error
	ListDeltasSince(ctx context.Context, fromBlock int64, page *Pagination) ([]*model.CompactEventDelta, error)

	// 物化表
	UpsertCharacter(ctx context.Context, c *model.Character) error
	UpsertLevelState(ctx context.Context, s *model.CharacterLevelState) error
	InitUpgradeStones(ctx context.Context, characterID, block int64) error
	UpsertUpgradeStones(ctx context.Context, s *model.CharacterUpgradeStoneState) error
	UpsertLootboxCredits(ctx context.Context, c *model.CharacterLootboxCredits) error
	UpsertEquipment(ctx context.Context, e *model.CharacterEquipment) error
	UpsertEpochState(ctx context.Context, s *model.LeaderboardEpochState) error
	UpsertClaimState(ctx context.Context, s *model.LeaderboardClaimState) error
	UpsertRFQ(ctx context.Context, s *model.RFQState) error
	UpdateRFQStatus(ctx context.Context, rfqID int64, active bool, filled *bool, block int64) error
	UpsertTradeOffer(ctx context.Context, s *model.TradeOfferState) error
	UpdateTradeOfferStatus(ctx context.Context, offerID int64, active bool, block int64) error

	// 运维重置: 清空派生表并把游标回退到 safeHead-1
	ResetForChainRestart(ctx context.Context, name string, safeHead int64) error
}

// indexerRepository 索引仓储实现
type indexerRepository struct {
	*Repository
}

// NewIndexerRepository 创建索引仓储
func NewIndexerRepository(db *gorm.DB) IndexerRepository {
	return &indexerRepository{
		Repository: NewRepository(db),
	}
}

func (r *indexerRepository) GetCursor(ctx context.Context, name string, defaultBlock int64) (*model.IndexerCursor, error) {
	err := r.DB(ctx).Exec(
		`INSERT INTO indexer_cursor (name, last_processed_block, last_processed_log_index, updated_at)
VALUES (?, ?, -1, ?) ON CONFLICT (name) DO NOTHING`,
		name, defaultBlock, nowMilli(),
	).Error
	if err != nil {
		return nil, err
	}
	return r.FindCursor(ctx, name)
}

func (r *indexerRepository) FindCursor(ctx context.Context, name string) (*model.IndexerCursor, error) {
	var cursor model.IndexerCursor
	err := r.DB(ctx).Where("name = ?", name).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCursorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (r *indexerRepository) SetCursor(ctx context.Context, name string, block int64, logIndex int) error {
	cursor := &model.IndexerCursor{
		Name:                  name,
		LastProcessedBlock:    block,
		LastProcessedLogIndex: logIndex,
		UpdatedAt:             nowMilli(),
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_processed_block", "last_processed_log_index", "updated_at"}),
	}).Create(cursor).Error
}

// MarkProcessed 插入去重标记, 已存在时返回 false
func (r *indexerRepository) MarkProcessed(ctx context.Context, marker *model.ProcessedLog) (bool, error) {
	var inserted []string
	err := r.DB(ctx).Raw(
		`INSERT INTO processed_logs (chain_id, tx_hash, log_index, block_number, block_hash, address, topic0, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
RETURNING tx_hash`,
		marker.ChainID,
		strings.ToLower(marker.TxHash),
		marker.LogIndex,
		marker.BlockNumber,
		strings.ToLower(marker.BlockHash),
		strings.ToLower(marker.Address),
		strings.ToLower(marker.Topic0),
		nowMilli(),
	).Scan(&inserted).Error
	if err != nil {
		return false, err
	}
	return len(inserted) > 0, nil
}

func (r *indexerRepository) UnmarkProcessed(ctx context.Context, chainID int64, txHash string, logIndex int) error {
	return r.DB(ctx).Exec(
		`DELETE FROM processed_logs WHERE chain_id = ? AND tx_hash = ? AND log_index = ?`,
		chainID, strings.ToLower(txHash), logIndex,
	).Error
}

func (r *indexerRepository) InsertDelta(ctx context.Context, delta *model.CompactEventDelta) error {
	delta.TxHash = strings.ToLower(delta.TxHash)
	if delta.CreatedAt == 0 {
		delta.CreatedAt = nowMilli()
	}
	return r.DB(ctx).Create(delta).Error
}

func (r *indexerRepository) ListDeltasSince(ctx context.Context, fromBlock int64, page *Pagination) ([]*model.CompactEventDelta, error) {
	if page == nil {
		page = &Pagination{}
	}
	var deltas []*model.CompactEventDelta
	err := r.DB(ctx).
		Where("block_number >= ?", fromBlock).
		Order("block_number ASC, log_index ASC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&deltas).Error
	return deltas, err
}

func (r *indexerRepository) upsert(ctx context.Context, row interface{}, keys []string, updates []string) error {
	columns := make([]clause.Column, 0, len(keys))
	for _, k := range keys {
		columns = append(columns, clause.Column{Name: k})
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   columns,
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(row).Error
}

func (r *indexerRepository) UpsertCharacter(ctx context.Context, c *model.Character) error {
	c.Owner = strings.ToLower(c.Owner)
	return r.upsert(ctx, c, []string{"character_id"},
		[]string{"owner", "race", "class_type", "name", "updated_block"})
}

func (r *indexerRepository) UpsertLevelState(ctx context.Context, s *model.CharacterLevelState) error {
	s.Owner = strings.ToLower(s.Owner)
	return r.upsert(ctx, s, []string{"character_id"},
		[]string{"owner", "best_level", "last_level_up_epoch", "updated_block"})
}

// InitUpgradeStones 新角色强化石初始化为 0, 已有记录时不覆盖
func (r *indexerRepository) InitUpgradeStones(ctx context.Context, characterID, block int64) error {
	return r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model.CharacterUpgradeStoneState{
		CharacterID:  characterID,
		Balance:      0,
		UpdatedBlock: block,
	}).Error
}

func (r *indexerRepository) UpsertUpgradeStones(ctx context.Context, s *model.CharacterUpgradeStoneState) error {
	return r.upsert(ctx, s, []string{"character_id"}, []string{"balance", "updated_block"})
}

func (r *indexerRepository) UpsertLootboxCredits(ctx context.Context, c *model.CharacterLootboxCredits) error {
	return r.upsert(ctx, c, []string{"character_id", "tier"},
		[]string{"total_credits", "variance_0", "variance_1", "variance_2", "updated_block"})
}

func (r *indexerRepository) UpsertEquipment(ctx context.Context, e *model.CharacterEquipment) error {
	return r.upsert(ctx, e, []string{"character_id", "slot"}, []string{"item_id", "updated_block"})
}

func (r *indexerRepository) UpsertEpochState(ctx context.Context, s *model.LeaderboardEpochState) error {
	return r.upsert(ctx, s, []string{"epoch_id"},
		[]string{"finalized", "cutoff_level", "total_eligible_weight", "fees_for_players", "fees_for_deployer", "updated_block"})
}

func (r *indexerRepository) UpsertClaimState(ctx context.Context, s *model.LeaderboardClaimState) error {
	s.Owner = strings.ToLower(s.Owner)
	s.TxHash = strings.ToLower(s.TxHash)
	return r.upsert(ctx, s, []string{"epoch_id", "character_id"},
		[]string{"claimed", "amount", "tx_hash", "owner", "updated_block"})
}

func (r *indexerRepository) UpsertRFQ(ctx context.Context, s *model.RFQState) error {
	s.Maker = strings.ToLower(s.Maker)
	return r.upsert(ctx, s, []string{"rfq_id"},
		[]string{"maker", "slot", "min_tier", "set_mask", "mmo_offered", "expiry", "active", "filled", "updated_block"})
}

// UpdateRFQStatus 更新求购单状态; filled 为 nil 时保留原值
func (r *indexerRepository) UpdateRFQStatus(ctx context.Context, rfqID int64, active bool, filled *bool, block int64) error {
	row := &model.RFQState{RFQID: rfqID, Active: active, UpdatedBlock: block}
	assignments := map[string]interface{}{
		"active":        active,
		"updated_block": block,
	}
	if filled != nil {
		row.Filled = *filled
		assignments["filled"] = *filled
	} else {
		assignments["filled"] = gorm.Expr("COALESCE(rfq_state.filled, FALSE)")
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rfq_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(row).Error
}

func (r *indexerRepository) UpsertTradeOffer(ctx context.Context, s *model.TradeOfferState) error {
	s.Maker = strings.ToLower(s.Maker)
	return r.upsert(ctx, s, []string{"offer_id"},
		[]string{"maker", "requested_mmo", "offered_item_ids", "requested_item_ids", "active", "updated_block"})
}

func (r *indexerRepository) UpdateTradeOfferStatus(ctx context.Context, offerID int64, active bool, block int64) error {
	return r.upsert(ctx, &model.TradeOfferState{OfferID: offerID, Active: active, UpdatedBlock: block},
		[]string{"offer_id"}, []string{"active", "updated_block"})
}

func (r *indexerRepository) ResetForChainRestart(ctx context.Context, name string, safeHead int64) error {
	rewind := safeHead - 1
	if rewind < 0 {
		rewind = 0
	}
	return r.Transaction(ctx, func(ctx context.Context) error {
		truncate := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY", strings.Join(derivedTables, ", "))
		if err := r.DB(ctx).Exec(truncate).Error; err != nil {
			return fmt.Errorf("truncate derived tables: %w", err)
		}
		return r.DB(ctx).Exec(
			`INSERT INTO indexer_cursor (name, last_processed_block, last_processed_log_index, updated_at) VALUES (?, ?, -1, ?)`,
			name, rewind, nowMilli(),
		).Error
	})
}
