package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
)

var (
	ErrActionNotFound = errors.New("action submission not found")
)

// EnqueueParams 入队参数
type EnqueueParams struct {
	Signer         string
	ActionType     string
	RequestJSON    string
	IdempotencyKey string // 为空时生成随机 key
	ConflictKey    string // 为空表示无冲突约束
}

// ActionRepository 动作队列仓储接口
type ActionRepository interface {
	// 入队: (signer, idempotencyKey) 已存在时返回原记录, created=false
	Enqueue(ctx context.Context, params *EnqueueParams) (sub *model.ActionSubmission, created bool, err error)

	// 原子领取一条 queued/retry 记录, 无可领取记录时返回 nil, nil
	ClaimNext(ctx context.Context) (*model.ActionSubmission, error)

	// 状态流转 (未知 actionId 返回 ErrActionNotFound)
	MarkSucceeded(ctx context.Context, actionID string, resultJSON string, txHashes []string) error
	MarkRetry(ctx context.Context, actionID, code, message string, notBefore int64) error
	MarkFailed(ctx context.Context, actionID, code, message string) error

	// 查询
	GetByID(ctx context.Context, actionID string) (*model.ActionSubmission, error)
	GetBySignerAndKey(ctx context.Context, signer, idempotencyKey string) (*model.ActionSubmission, error)
	GetLatestByCharacter(ctx context.Context, characterID int64) (*model.ActionSubmission, error)
	CountByStatus(ctx context.Context) (map[model.ActionStatus]int64, error)
}

// actionRepository 动作队列仓储实现
type actionRepository struct {
	*Repository
}

// NewActionRepository 创建动作队列仓储
func NewActionRepository(db *gorm.DB) ActionRepository {
	return &actionRepository{
		Repository: NewRepository(db),
	}
}

const enqueueSQL = `
INSERT INTO action_submissions
    (action_id, signer, idempotency_key, action_type, request_json, conflict_key, status,
     result_json, error_code, error_message, attempts, tx_hashes, not_before, created_at, updated_at)
VALUES (?, ?, ?, ?, ?::jsonb, ?, 'queued', '{}'::jsonb, '', '', 0, '[]'::jsonb, 0, ?, ?)
ON CONFLICT (signer, idempotency_key) DO UPDATE SET signer = EXCLUDED.signer
RETURNING *`

func (r *actionRepository) Enqueue(ctx context.Context, params *EnqueueParams) (*model.ActionSubmission, bool, error) {
	actionID := uuid.New().String()
	key := params.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}
	var conflictKey *string
	if params.ConflictKey != "" {
		ck := params.ConflictKey
		conflictKey = &ck
	}
	now := nowMilli()

	var sub model.ActionSubmission
	err := r.DB(ctx).Raw(enqueueSQL,
		actionID,
		strings.ToLower(params.Signer),
		key,
		params.ActionType,
		params.RequestJSON,
		conflictKey,
		now,
		now,
	).Scan(&sub).Error
	if err != nil {
		return nil, false, err
	}
	if sub.ActionID == "" {
		return nil, false, ErrActionNotFound
	}
	return &sub, sub.ActionID == actionID, nil
}

// claimNextSQL 领取最早的可执行记录.
// 有 conflict_key 的记录只有在同 key 没有 running 记录且没有更早的排队记录时才可领取.
const claimNextSQL = `
WITH candidate AS (
    SELECT q.action_id
    FROM action_submissions q
    WHERE q.status IN ('queued', 'retry')
      AND q.not_before <= ?
      AND (
        q.conflict_key IS NULL
        OR (
          NOT EXISTS (
            SELECT 1 FROM action_submissions r
            WHERE r.conflict_key = q.conflict_key AND r.status = 'running'
          )
          AND NOT EXISTS (
            SELECT 1 FROM action_submissions e
            WHERE e.conflict_key = q.conflict_key
              AND e.status IN ('queued', 'retry')
              AND (e.created_at < q.created_at OR (e.created_at = q.created_at AND e.action_id < q.action_id))
          )
        )
      )
    ORDER BY q.created_at ASC, q.action_id ASC
    FOR UPDATE OF q SKIP LOCKED
    LIMIT 1
)
UPDATE action_submissions t
SET status = 'running', attempts = t.attempts + 1, updated_at = ?
FROM candidate
WHERE t.action_id = candidate.action_id
RETURNING t.*`

// 多个 worker 同时领取可能在 SKIP LOCKED 之外的行锁上冲突
const claimTxAttempts = 3

func (r *actionRepository) ClaimNext(ctx context.Context) (*model.ActionSubmission, error) {
	var claimed *model.ActionSubmission
	err := r.TransactionWithRetry(ctx, claimTxAttempts, func(txCtx context.Context) error {
		now := nowMilli()
		var subs []*model.ActionSubmission
		if err := r.DB(txCtx).Raw(claimNextSQL, now, now).Scan(&subs).Error; err != nil {
			return err
		}
		claimed = nil
		if len(subs) > 0 {
			claimed = subs[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *actionRepository) MarkSucceeded(ctx context.Context, actionID string, resultJSON string, txHashes []string) error {
	holder := &model.ActionSubmission{}
	if err := holder.SetTxHashList(txHashes); err != nil {
		return err
	}
	if resultJSON == "" {
		resultJSON = "{}"
	}
	return r.updateStatus(ctx, actionID, map[string]interface{}{
		"status":        model.ActionStatusSucceeded,
		"result_json":   gorm.Expr("?::jsonb", resultJSON),
		"tx_hashes":     gorm.Expr("?::jsonb", holder.TxHashes),
		"error_code":    "",
		"error_message": "",
	})
}

func (r *actionRepository) MarkRetry(ctx context.Context, actionID, code, message string, notBefore int64) error {
	return r.updateStatus(ctx, actionID, map[string]interface{}{
		"status":        model.ActionStatusRetry,
		"error_code":    code,
		"error_message": message,
		"not_before":    notBefore,
	})
}

func (r *actionRepository) MarkFailed(ctx context.Context, actionID, code, message string) error {
	return r.updateStatus(ctx, actionID, map[string]interface{}{
		"status":        model.ActionStatusFailed,
		"error_code":    code,
		"error_message": message,
	})
}

func (r *actionRepository) updateStatus(ctx context.Context, actionID string, updates map[string]interface{}) error {
	updates["updated_at"] = nowMilli()
	result := r.DB(ctx).Model(&model.ActionSubmission{}).
		Where("action_id = ?", actionID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrActionNotFound
	}
	return nil
}

func (r *actionRepository) GetByID(ctx context.Context, actionID string) (*model.ActionSubmission, error) {
	if _, err := uuid.Parse(actionID); err != nil {
		return nil, ErrActionNotFound
	}
	var sub model.ActionSubmission
	err := r.DB(ctx).Where("action_id = ?", actionID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *actionRepository) GetBySignerAndKey(ctx context.Context, signer, idempotencyKey string) (*model.ActionSubmission, error) {
	var sub model.ActionSubmission
	err := r.DB(ctx).
		Where("signer = ? AND idempotency_key = ?", strings.ToLower(signer), idempotencyKey).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *actionRepository) GetLatestByCharacter(ctx context.Context, characterID int64) (*model.ActionSubmission, error) {
	var subs []*model.ActionSubmission
	err := r.DB(ctx).Raw(`
SELECT * FROM action_submissions
WHERE request_json->>'characterId' IS NOT NULL AND (request_json->>'characterId')::bigint = ?
ORDER BY created_at DESC, action_id DESC
LIMIT 1`, characterID).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrActionNotFound
	}
	return subs[0], nil
}

func (r *actionRepository) CountByStatus(ctx context.Context) (map[model.ActionStatus]int64, error) {
	var rows []struct {
		Status model.ActionStatus
		Total  int64
	}
	err := r.DB(ctx).Model(&model.ActionSubmission{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[model.ActionStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
