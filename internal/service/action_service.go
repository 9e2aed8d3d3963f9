package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/metrics"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/repository"
	bizerrors "github.com/stokasz/ChainMMO-Monad-sub000/pkg/errors"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

// Preflighter 动作预检
type Preflighter interface {
	Evaluate(ctx context.Context, action Action, opts PreflightOptions) *PreflightResult
}

// ActionServiceConfig 动作服务配置
type ActionServiceConfig struct {
	Signer                  string
	ReadOnly                bool
	RequirePreflightSuccess bool
}

// EnqueueResult 入队结果
type EnqueueResult struct {
	Submission *model.ActionSubmission
	Created    bool
	Preflight  *PreflightResult
}

// ActionService 动作入队与查询
type ActionService struct {
	repo      repository.ActionRepository
	preflight Preflighter
	cfg       ActionServiceConfig
}

// NewActionService 创建动作服务, 只读模式下 preflight 可为 nil
func NewActionService(repo repository.ActionRepository, preflight Preflighter, cfg ActionServiceConfig) *ActionService {
	return &ActionService{
		repo:      repo,
		preflight: preflight,
		cfg:       cfg,
	}
}

// EnqueueRaw 解析 {"type": ...} 请求后入队
func (s *ActionService) EnqueueRaw(ctx context.Context, raw []byte, idempotencyKey string) (*EnqueueResult, error) {
	if s.cfg.ReadOnly {
		return nil, bizerrors.ErrReadOnlyMode
	}
	action, err := ParseAction(raw)
	if err != nil {
		return nil, err
	}
	return s.Enqueue(ctx, action, idempotencyKey)
}

// Enqueue 入队动作. 同一 (signer, idempotencyKey) 重复提交返回原记录, 不再预检.
func (s *ActionService) Enqueue(ctx context.Context, action Action, idempotencyKey string) (*EnqueueResult, error) {
	if s.cfg.ReadOnly {
		return nil, bizerrors.ErrReadOnlyMode
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		existing, err := s.repo.GetBySignerAndKey(ctx, s.cfg.Signer, idempotencyKey)
		if err == nil {
			return &EnqueueResult{Submission: existing}, nil
		}
		if !errors.Is(err, repository.ErrActionNotFound) {
			return nil, err
		}
	}

	result := &EnqueueResult{}
	if s.cfg.RequirePreflightSuccess && s.preflight != nil {
		pre := s.preflight.Evaluate(ctx, action, PreflightOptions{})
		result.Preflight = pre
		if !pre.WillSucceed {
			return result, bizerrors.ErrPreflightFailed.
				WithMessagef("%s: %s", pre.Code, pre.Reason).
				WithDetail("code", pre.Code).
				WithDetail("suggestedNextAction", string(pre.SuggestedNextAction))
		}
	}

	requestJSON, err := EncodeAction(action)
	if err != nil {
		return nil, err
	}

	sub, created, err := s.repo.Enqueue(ctx, &repository.EnqueueParams{
		Signer:         s.cfg.Signer,
		ActionType:     string(action.Type()),
		RequestJSON:    requestJSON,
		IdempotencyKey: idempotencyKey,
		ConflictKey:    action.ConflictKey(),
	})
	if err != nil {
		return nil, err
	}

	if created {
		metrics.RecordActionOutcome(string(action.Type()), string(model.ActionStatusQueued), "", 0)
		logger.Info("action enqueued",
			zap.String("action_id", sub.ActionID),
			zap.String("action_type", sub.ActionType),
			zap.String("idempotency_key", sub.IdempotencyKey))
	}

	result.Submission = sub
	result.Created = created
	return result, nil
}

// Preflight 只预检不入队
func (s *ActionService) Preflight(ctx context.Context, raw []byte, commitID *int64) (*PreflightResult, error) {
	if s.preflight == nil {
		return nil, bizerrors.ErrReadOnlyMode
	}
	action, err := ParseAction(raw)
	if err != nil {
		return nil, err
	}
	return s.preflight.Evaluate(ctx, action, PreflightOptions{CommitID: commitID}), nil
}

// GetAction 查询动作
func (s *ActionService) GetAction(ctx context.Context, actionID string) (*model.ActionResult, error) {
	sub, err := s.repo.GetByID(ctx, actionID)
	if err != nil {
		if errors.Is(err, repository.ErrActionNotFound) {
			return nil, bizerrors.ErrNotFound.WithMessagef("action %s not found", actionID)
		}
		return nil, err
	}
	return sub.ToResult(), nil
}

// GetLatestByCharacter 角色最近一次动作
func (s *ActionService) GetLatestByCharacter(ctx context.Context, characterID int64) (*model.ActionResult, error) {
	sub, err := s.repo.GetLatestByCharacter(ctx, characterID)
	if err != nil {
		if errors.Is(err, repository.ErrActionNotFound) {
			return nil, bizerrors.ErrNotFound.WithMessagef("no action for character %d", characterID)
		}
		return nil, err
	}
	return sub.ToResult(), nil
}

// QueueStats 各状态数量
func (s *ActionService) QueueStats(ctx context.Context) (map[string]int64, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out, nil
}
