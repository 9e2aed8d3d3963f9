package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
	bizerrors "github.com/stokasz/ChainMMO-Monad-sub000/pkg/errors"
)

// mockPreflighter 模拟预检
type mockPreflighter struct {
	mock.Mock
}

func (m *mockPreflighter) Evaluate(ctx context.Context, action Action, opts PreflightOptions) *PreflightResult {
	args := m.Called(ctx, action, opts)
	return args.Get(0).(*PreflightResult)
}

func TestActionService_ReadOnlyRefusesSubmissions(t *testing.T) {
	svc := NewActionService(newMemActionRepo(), nil, ActionServiceConfig{ReadOnly: true})

	_, err := svc.EnqueueRaw(context.Background(), []byte(`{"type":"finalize_epoch","epochId":1}`), "")
	assert.ErrorIs(t, err, bizerrors.ErrReadOnlyMode)

	_, err = svc.Preflight(context.Background(), []byte(`{"type":"finalize_epoch","epochId":1}`), nil)
	assert.ErrorIs(t, err, bizerrors.ErrReadOnlyMode)
}

func TestActionService_IdempotentEnqueue(t *testing.T) {
	repo := newMemActionRepo()
	pre := new(mockPreflighter)
	pre.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).
		Return(&PreflightResult{WillSucceed: true, Code: CodePrecheckOK}).Once()
	svc := NewActionService(repo, pre, ActionServiceConfig{Signer: testSigner.Hex(), RequirePreflightSuccess: true})

	raw := []byte(`{"type":"start_dungeon","characterId":4,"difficulty":1,"dungeonLevel":2}`)
	first, err := svc.EnqueueRaw(context.Background(), raw, "req-1")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, model.ActionStatusQueued, first.Submission.Status)
	require.NotNil(t, first.Submission.ConflictKey)
	assert.Equal(t, "character:4", *first.Submission.ConflictKey)

	second, err := svc.EnqueueRaw(context.Background(), raw, "req-1")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Submission.ActionID, second.Submission.ActionID)
	assert.Nil(t, second.Preflight)

	pre.AssertNumberOfCalls(t, "Evaluate", 1)
}

func TestActionService_PreflightGate(t *testing.T) {
	repo := newMemActionRepo()
	pre := new(mockPreflighter)
	pre.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Return(&PreflightResult{
		Code:                "PRECHECK_RUN_NOT_ACTIVE",
		Reason:              "No active dungeon run to resolve",
		SuggestedNextAction: ActionStartDungeon,
	})
	svc := NewActionService(repo, pre, ActionServiceConfig{Signer: testSigner.Hex(), RequirePreflightSuccess: true})

	res, err := svc.Enqueue(context.Background(), NextRoom{CharacterID: 1, PotionChoice: intPtr(0), AbilityChoice: intPtr(0)}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, bizerrors.ErrPreflightFailed)

	var biz *bizerrors.Error
	require.ErrorAs(t, err, &biz)
	assert.Equal(t, "PRECHECK_RUN_NOT_ACTIVE", biz.Details["code"])
	assert.Equal(t, string(ActionStartDungeon), biz.Details["suggestedNextAction"])
	require.NotNil(t, res)
	assert.Equal(t, "PRECHECK_RUN_NOT_ACTIVE", res.Preflight.Code)

	counts, err := svc.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestActionService_SkipsPreflightWhenNotRequired(t *testing.T) {
	repo := newMemActionRepo()
	pre := new(mockPreflighter)
	svc := NewActionService(repo, pre, ActionServiceConfig{Signer: testSigner.Hex()})

	res, err := svc.Enqueue(context.Background(), FinalizeEpoch{EpochID: 2}, "")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Nil(t, res.Submission.ConflictKey)
	pre.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything, mock.Anything)
}

func TestActionService_RejectsInvalidAction(t *testing.T) {
	svc := NewActionService(newMemActionRepo(), nil, ActionServiceConfig{Signer: testSigner.Hex()})

	_, err := svc.Enqueue(context.Background(), ClaimPlayer{EpochID: 1, CharacterID: 0}, "")
	assert.ErrorIs(t, err, bizerrors.ErrInvalidAction)
}

func TestActionService_Queries(t *testing.T) {
	repo := newMemActionRepo()
	svc := NewActionService(repo, nil, ActionServiceConfig{Signer: testSigner.Hex()})

	_, err := svc.GetAction(context.Background(), "missing")
	assert.ErrorIs(t, err, bizerrors.ErrNotFound)
	_, err = svc.GetLatestByCharacter(context.Background(), 8)
	assert.ErrorIs(t, err, bizerrors.ErrNotFound)

	res, err := svc.Enqueue(context.Background(), EquipBest{CharacterID: 8}, "k")
	require.NoError(t, err)

	got, err := svc.GetAction(context.Background(), res.Submission.ActionID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionStatusQueued, got.Status)

	latest, err := svc.GetLatestByCharacter(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, res.Submission.ActionID, latest.ActionID)

	counts, err := svc.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["queued"])
}
