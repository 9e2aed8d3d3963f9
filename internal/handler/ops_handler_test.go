package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/repository"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/service"
	bizerrors "github.com/stokasz/ChainMMO-Monad-sub000/pkg/errors"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	_ = logger.Init(&logger.Config{Level: "error", Format: "console", ServiceName: "chainmmo-test"})
	os.Exit(m.Run())
}

// mockActionAPI 模拟动作服务
type mockActionAPI struct {
	mock.Mock
}

func (m *mockActionAPI) EnqueueRaw(ctx context.Context, raw []byte, key string) (*service.EnqueueResult, error) {
	args := m.Called(ctx, string(raw), key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.EnqueueResult), args.Error(1)
}

func (m *mockActionAPI) Preflight(ctx context.Context, raw []byte, commitID *int64) (*service.PreflightResult, error) {
	args := m.Called(ctx, string(raw), commitID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PreflightResult), args.Error(1)
}

func (m *mockActionAPI) GetAction(ctx context.Context, actionID string) (*model.ActionResult, error) {
	args := m.Called(ctx, actionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ActionResult), args.Error(1)
}

func (m *mockActionAPI) GetLatestByCharacter(ctx context.Context, characterID int64) (*model.ActionResult, error) {
	args := m.Called(ctx, characterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ActionResult), args.Error(1)
}

func (m *mockActionAPI) QueueStats(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

type stubIndexer struct {
	status *model.IndexerStatus
	err    error

	deltas    []*model.CompactEventDelta
	fromBlock int64
	page      *repository.Pagination
}

func (s *stubIndexer) Status(context.Context) (*model.IndexerStatus, error) { return s.status, s.err }

func (s *stubIndexer) ListDeltas(_ context.Context, fromBlock int64, page *repository.Pagination) ([]*model.CompactEventDelta, error) {
	s.fromBlock, s.page = fromBlock, page
	return s.deltas, s.err
}

func doRequest(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestOpsHandler_Health(t *testing.T) {
	ok := ReadinessCheck{Name: "postgres", Check: func(context.Context) error { return nil }}
	down := ReadinessCheck{Name: "rpc", Check: func(context.Context) error { return errors.New("dial tcp: refused") }}

	t.Run("live", func(t *testing.T) {
		r := NewRouter(NewOpsHandler(nil, nil, down))
		w := doRequest(r, http.MethodGet, "/health/live", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(TraceIDKey))
	})

	t.Run("ready", func(t *testing.T) {
		r := NewRouter(NewOpsHandler(nil, nil, ok))
		w := doRequest(r, http.MethodGet, "/health/ready", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("not ready", func(t *testing.T) {
		r := NewRouter(NewOpsHandler(nil, nil, ok, down))
		w := doRequest(r, http.MethodGet, "/health/ready", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "dial tcp: refused")
		assert.NotContains(t, w.Body.String(), "postgres")
	})
}

func TestOpsHandler_Metrics(t *testing.T) {
	r := NewRouter(NewOpsHandler(nil, nil))
	w := doRequest(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestOpsHandler_IndexerStatus(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		r := NewRouter(NewOpsHandler(nil, nil))
		w := doRequest(r, http.MethodGet, "/v1/indexer/status", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "INDEXER_DISABLED", decodeResponse(t, w).Code)
	})

	t.Run("ok", func(t *testing.T) {
		idx := &stubIndexer{status: &model.IndexerStatus{ChainID: 10143, CursorBlock: 90, SafeHead: 100, LagBlocks: 10}}
		r := NewRouter(NewOpsHandler(idx, nil))
		w := doRequest(r, http.MethodGet, "/v1/indexer/status", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"lag_blocks":10`)
	})

	t.Run("error", func(t *testing.T) {
		r := NewRouter(NewOpsHandler(&stubIndexer{err: errors.New("db down")}, nil))
		w := doRequest(r, http.MethodGet, "/v1/indexer/status", "", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "INTERNAL_ERROR", decodeResponse(t, w).Code)
	})
}

func TestOpsHandler_ListDeltas(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		r := NewRouter(NewOpsHandler(nil, nil))
		w := doRequest(r, http.MethodGet, "/v1/deltas", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "INDEXER_DISABLED", decodeResponse(t, w).Code)
	})

	t.Run("paged", func(t *testing.T) {
		characterID := int64(4)
		idx := &stubIndexer{deltas: []*model.CompactEventDelta{
			{ChainID: 10143, BlockNumber: 120, LogIndex: 3, Kind: "LevelCleared", CharacterID: &characterID, Payload: `{"level":"2"}`},
		}}
		r := NewRouter(NewOpsHandler(idx, nil))
		w := doRequest(r, http.MethodGet, "/v1/deltas?fromBlock=100&page=2&pageSize=5000", "", nil)
		require.Equal(t, http.StatusOK, w.Code)

		assert.Equal(t, int64(100), idx.fromBlock)
		require.NotNil(t, idx.page)
		assert.Equal(t, 2, idx.page.Page)
		body := w.Body.String()
		assert.Contains(t, body, `"pageSize":1000`)
		assert.Contains(t, body, `"kind":"LevelCleared"`)
		assert.Contains(t, body, `"block_number":120`)
	})

	t.Run("defaults and empty result", func(t *testing.T) {
		idx := &stubIndexer{}
		r := NewRouter(NewOpsHandler(idx, nil))
		w := doRequest(r, http.MethodGet, "/v1/deltas", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(0), idx.fromBlock)
		assert.Equal(t, 1, idx.page.Page)
		assert.Contains(t, w.Body.String(), `"deltas":[]`)
	})

	t.Run("invalid fromBlock", func(t *testing.T) {
		r := NewRouter(NewOpsHandler(&stubIndexer{}, nil))
		w := doRequest(r, http.MethodGet, "/v1/deltas?fromBlock=-1", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store error", func(t *testing.T) {
		r := NewRouter(NewOpsHandler(&stubIndexer{err: errors.New("db down")}, nil))
		w := doRequest(r, http.MethodGet, "/v1/deltas?fromBlock=1", "", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestOpsHandler_SubmitAction(t *testing.T) {
	body := `{"type":"start_dungeon","characterId":4,"difficulty":0,"dungeonLevel":1}`

	t.Run("accepted", func(t *testing.T) {
		api := new(mockActionAPI)
		api.On("EnqueueRaw", mock.Anything, body, "req-1").Return(&service.EnqueueResult{
			Submission: &model.ActionSubmission{ActionID: "a-1", Status: model.ActionStatusQueued},
			Created:    true,
		}, nil).Once()

		r := NewRouter(NewOpsHandler(nil, api))
		w := doRequest(r, http.MethodPost, "/v1/actions", body, map[string]string{"Idempotency-Key": "req-1"})

		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Contains(t, w.Body.String(), `"actionId":"a-1"`)
		api.AssertExpectations(t)
	})

	t.Run("preflight rejected", func(t *testing.T) {
		api := new(mockActionAPI)
		api.On("EnqueueRaw", mock.Anything, body, "").Return(nil,
			bizerrors.ErrPreflightFailed.WithDetail("code", "PRECHECK_RUN_ALREADY_ACTIVE")).Once()

		r := NewRouter(NewOpsHandler(nil, api))
		w := doRequest(r, http.MethodPost, "/v1/actions", body, nil)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, bizerrors.ErrPreflightFailed.Code, resp.Code)
		assert.Equal(t, "PRECHECK_RUN_ALREADY_ACTIVE", resp.Details["code"])
	})

	t.Run("empty body", func(t *testing.T) {
		api := new(mockActionAPI)
		r := NewRouter(NewOpsHandler(nil, api))
		w := doRequest(r, http.MethodPost, "/v1/actions", "", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		api.AssertNotCalled(t, "EnqueueRaw", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("body too large", func(t *testing.T) {
		api := new(mockActionAPI)
		r := NewRouter(NewOpsHandler(nil, api))
		w := doRequest(r, http.MethodPost, "/v1/actions", strings.Repeat("x", maxActionBodyBytes+1), nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("actions disabled", func(t *testing.T) {
		r := NewRouter(NewOpsHandler(nil, nil))
		w := doRequest(r, http.MethodPost, "/v1/actions", body, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestOpsHandler_PreflightAction(t *testing.T) {
	body := `{"type":"next_room","characterId":4,"potionChoice":0,"abilityChoice":0}`

	api := new(mockActionAPI)
	api.On("Preflight", mock.Anything, body, mock.MatchedBy(func(id *int64) bool { return id != nil && *id == 12 })).
		Return(&service.PreflightResult{Code: "PRECHECK_REVEAL_TOO_EARLY", Retryable: true}, nil).Once()

	r := NewRouter(NewOpsHandler(nil, api))
	w := doRequest(r, http.MethodPost, "/v1/actions/preflight?commitId=12", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "PRECHECK_REVEAL_TOO_EARLY")

	w = doRequest(r, http.MethodPost, "/v1/actions/preflight?commitId=abc", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	api.AssertExpectations(t)
}

func TestOpsHandler_Queries(t *testing.T) {
	api := new(mockActionAPI)
	api.On("GetAction", mock.Anything, "a-9").Return(&model.ActionResult{ActionID: "a-9", Status: model.ActionStatusSucceeded}, nil)
	api.On("GetAction", mock.Anything, "missing").Return(nil, bizerrors.ErrNotFound)
	api.On("GetLatestByCharacter", mock.Anything, int64(3)).Return(&model.ActionResult{ActionID: "a-3"}, nil)
	api.On("QueueStats", mock.Anything).Return(map[string]int64{"queued": 2}, nil)

	r := NewRouter(NewOpsHandler(nil, api))

	w := doRequest(r, http.MethodGet, "/v1/actions/a-9", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"succeeded"`)

	w = doRequest(r, http.MethodGet, "/v1/actions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/v1/characters/3/latest-action", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"action_id":"a-3"`)

	w = doRequest(r, http.MethodGet, "/v1/characters/zero/latest-action", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodGet, "/v1/actions/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"queued":2`)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/boom", nil)
	r.HandleContext(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
