package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
)

func TestIndexerRepository_GetCursor(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewIndexerRepository(db)

	mock.ExpectExec(`INSERT INTO indexer_cursor .* ON CONFLICT \(name\) DO NOTHING`).
		WithArgs("chainmmo_main", int64(99), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "indexer_cursor" WHERE name = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "last_processed_block", "last_processed_log_index", "updated_at"}).
			AddRow("chainmmo_main", int64(99), -1, int64(1)))

	cursor, err := repo.GetCursor(context.Background(), "chainmmo_main", 99)
	require.NoError(t, err)
	assert.Equal(t, int64(99), cursor.LastProcessedBlock)
	assert.Equal(t, -1, cursor.LastProcessedLogIndex)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexerRepository_FindCursor_NotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewIndexerRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "indexer_cursor"`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err := repo.FindCursor(context.Background(), "other")
	assert.ErrorIs(t, err, ErrCursorNotFound)
}

func TestIndexerRepository_SetCursor(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewIndexerRepository(db)

	mock.ExpectExec(`INSERT INTO "indexer_cursor" .* ON CONFLICT \("name"\) DO UPDATE SET`).
		WithArgs("chainmmo_main", int64(150), -1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetCursor(context.Background(), "chainmmo_main", 150, -1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexerRepository_MarkProcessed(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewIndexerRepository(db)
	ctx := context.Background()

	marker := &model.ProcessedLog{
		ChainID:     31337,
		TxHash:      "0xABCD",
		LogIndex:    3,
		BlockNumber: 120,
		BlockHash:   "0xBEEF",
		Address:     "0x00000000000000000000000000000000000000Aa",
		Topic0:      "0x01",
	}

	mock.ExpectQuery(`INSERT INTO processed_logs .* RETURNING tx_hash`).
		WithArgs(int64(31337), "0xabcd", 3, int64(120), "0xbeef",
			"0x00000000000000000000000000000000000000aa", "0x01", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"tx_hash"}).AddRow("0xabcd"))

	inserted, err := repo.MarkProcessed(ctx, marker)
	require.NoError(t, err)
	assert.True(t, inserted)

	// 重复标记: ON CONFLICT DO NOTHING 不返回行
	mock.ExpectQuery(`INSERT INTO processed_logs`).
		WillReturnRows(sqlmock.NewRows([]string{"tx_hash"}))

	inserted, err = repo.MarkProcessed(ctx, marker)
	require.NoError(t, err)
	assert.False(t, inserted)

	mock.ExpectExec(`DELETE FROM processed_logs`).
		WithArgs(int64(31337), "0xabcd", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UnmarkProcessed(ctx, 31337, "0xABCD", 3))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexerRepository_Upserts(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewIndexerRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO "characters" .* ON CONFLICT \("character_id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpsertCharacter(ctx, &model.Character{
		CharacterID: 7, Owner: "0xAB", Name: "hero", CreatedBlock: 10, UpdatedBlock: 10,
	}))

	mock.ExpectExec(`INSERT INTO "character_upgrade_stone_state" .* ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.InitUpgradeStones(ctx, 7, 10))

	mock.ExpectExec(`INSERT INTO "character_lootbox_credits" .* ON CONFLICT \("character_id","tier"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpsertLootboxCredits(ctx, &model.CharacterLootboxCredits{CharacterID: 7, Tier: 2, TotalCredits: 1}))

	mock.ExpectExec(`INSERT INTO "rfq_state" .* ON CONFLICT \("rfq_id"\) DO UPDATE SET .*COALESCE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateRFQStatus(ctx, 4, false, nil, 20))

	mock.ExpectExec(`INSERT INTO "trade_offer_state" .* ON CONFLICT \("offer_id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateTradeOfferStatus(ctx, 9, false, 21))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexerRepository_InsertDelta(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewIndexerRepository(db)

	charID := int64(7)
	mock.ExpectQuery(`INSERT INTO "compact_event_delta" .* RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	delta := &model.CompactEventDelta{
		ChainID: 31337, BlockNumber: 5, LogIndex: 0, TxHash: "0xAA",
		CharacterID: &charID, Kind: "CharacterCreated", Payload: `{}`,
	}
	require.NoError(t, repo.InsertDelta(context.Background(), delta))
	assert.Equal(t, int64(1), delta.ID)
	assert.Equal(t, "0xaa", delta.TxHash)
	assert.NotZero(t, delta.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexerRepository_ResetForChainRestart(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewIndexerRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE TABLE characters, .*processed_logs, indexer_cursor RESTART IDENTITY`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO indexer_cursor`).
		WithArgs("chainmmo_main", int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// safeHead=0 时游标回退到 0
	require.NoError(t, repo.ResetForChainRestart(context.Background(), "chainmmo_main", 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexerRepository_ResetForChainRestart_Rollback(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewIndexerRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE TABLE`).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err := repo.ResetForChainRestart(context.Background(), "chainmmo_main", 50)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "truncate derived tables")
	assert.NoError(t, mock.ExpectationsWereMet())
}
