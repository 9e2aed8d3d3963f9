package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
)

var actionColumns = []string{
	"action_id", "signer", "idempotency_key", "action_type", "request_json", "conflict_key",
	"status", "result_json", "error_code", "error_message", "attempts", "tx_hashes",
	"not_before", "created_at", "updated_at",
}

func actionRow(rows *sqlmock.Rows, id, status string, attempts int) *sqlmock.Rows {
	return rows.AddRow(
		id, "0x00000000000000000000000000000000000000aa", "key-1", "create_rfq",
		`{"slot":1}`, nil, status, "{}", "", "", attempts, "[]", int64(0), int64(1000), int64(1000),
	)
}

func TestActionRepository_Enqueue_NoRowReturned(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewActionRepository(db)

	mock.ExpectQuery(`INSERT INTO action_submissions`).
		WithArgs(
			sqlmock.AnyArg(),
			"0x00000000000000000000000000000000000000aa",
			"key-1",
			"create_rfq",
			`{"slot":1}`,
			nil,
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows(actionColumns))

	// signer 统一小写; 无返回行视为异常
	_, _, err := repo.Enqueue(context.Background(), &EnqueueParams{
		Signer:         "0x00000000000000000000000000000000000000AA",
		ActionType:     "create_rfq",
		RequestJSON:    `{"slot":1}`,
		IdempotencyKey: "key-1",
	})
	assert.ErrorIs(t, err, ErrActionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionRepository_Enqueue_ExistingReturned(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewActionRepository(db)

	existing := "8f14e45f-ceea-467f-a0e6-8b5a2b6c3d11"
	mock.ExpectQuery(`INSERT INTO action_submissions`).
		WillReturnRows(actionRow(sqlmock.NewRows(actionColumns), existing, "succeeded", 1))

	sub, created, err := repo.Enqueue(context.Background(), &EnqueueParams{
		Signer:         "0x00000000000000000000000000000000000000aa",
		ActionType:     "create_rfq",
		RequestJSON:    `{"slot":1}`,
		IdempotencyKey: "key-1",
		ConflictKey:    "character:7",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing, sub.ActionID)
	assert.Equal(t, model.ActionStatusSucceeded, sub.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionRepository_ClaimNext(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewActionRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`WITH candidate AS`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(actionColumns))
	mock.ExpectCommit()

	sub, err := repo.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sub)

	id := "0b9f1c2e-1111-4c3a-9d2e-5a7b8c9d0e1f"
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF q SKIP LOCKED`).
		WillReturnRows(actionRow(sqlmock.NewRows(actionColumns), id, "running", 1))
	mock.ExpectCommit()

	sub, err = repo.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, id, sub.ActionID)
	assert.Equal(t, model.ActionStatusRunning, sub.Status)
	assert.Equal(t, 1, sub.Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionRepository_ClaimNext_RetriesSerializationFailure(t *testing.T) {
	txRetryInterval = time.Millisecond
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewActionRepository(db)
	id := "0b9f1c2e-2222-4c3a-9d2e-5a7b8c9d0e1f"

	mock.ExpectBegin()
	mock.ExpectQuery(`WITH candidate AS`).WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(`WITH candidate AS`).
		WillReturnRows(actionRow(sqlmock.NewRows(actionColumns), id, "running", 2))
	mock.ExpectCommit()

	sub, err := repo.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, id, sub.ActionID)
	assert.Equal(t, 2, sub.Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionRepository_ClaimNext_NonRetryableError(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewActionRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`WITH candidate AS`).WillReturnError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
	mock.ExpectRollback()

	_, err := repo.ClaimNext(context.Background())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionRepository_MarkTransitions(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewActionRepository(db)
	ctx := context.Background()
	id := "0b9f1c2e-1111-4c3a-9d2e-5a7b8c9d0e1f"

	mock.ExpectExec(`UPDATE "action_submissions" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkSucceeded(ctx, id, `{"code":"RFQ_CREATED"}`, []string{"0xabc"}))

	mock.ExpectExec(`UPDATE "action_submissions" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkRetry(ctx, id, "INFRA_NONCE_CONFLICT", "nonce too low", 12345))

	mock.ExpectExec(`UPDATE "action_submissions" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkFailed(ctx, id, "CHAIN_NOT_OWNER", "not owner"))

	mock.ExpectExec(`UPDATE "action_submissions" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing", "X", "y"), ErrActionNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionRepository_GetByID(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewActionRepository(db)

	// 非法 uuid 不访问数据库
	_, err := repo.GetByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrActionNotFound)

	id := "0b9f1c2e-1111-4c3a-9d2e-5a7b8c9d0e1f"
	mock.ExpectQuery(`SELECT \* FROM "action_submissions" WHERE action_id = \$1`).
		WillReturnRows(actionRow(sqlmock.NewRows(actionColumns), id, "queued", 0))

	sub, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "create_rfq", sub.ActionType)

	mock.ExpectQuery(`SELECT \* FROM "action_submissions" WHERE action_id = \$1`).
		WillReturnRows(sqlmock.NewRows(actionColumns))
	_, err = repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrActionNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionRepository_GetLatestByCharacter(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewActionRepository(db)

	mock.ExpectQuery(`request_json->>'characterId'`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(actionColumns))
	_, err := repo.GetLatestByCharacter(context.Background(), 7)
	assert.ErrorIs(t, err, ErrActionNotFound)

	id := "0b9f1c2e-1111-4c3a-9d2e-5a7b8c9d0e1f"
	mock.ExpectQuery(`request_json->>'characterId'`).
		WithArgs(int64(7)).
		WillReturnRows(actionRow(sqlmock.NewRows(actionColumns), id, "retry", 2))
	sub, err := repo.GetLatestByCharacter(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, model.ActionStatusRetry, sub.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionRepository_CountByStatus(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewActionRepository(db)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) AS total FROM "action_submissions" GROUP BY`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "total"}).
			AddRow("queued", 3).
			AddRow("failed", 1))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[model.ActionStatusQueued])
	assert.Equal(t, int64(1), counts[model.ActionStatusFailed])
	assert.NoError(t, mock.ExpectationsWereMet())
}
