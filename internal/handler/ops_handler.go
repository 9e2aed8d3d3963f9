package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/repository"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/service"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

// 请求体上限
const maxActionBodyBytes = 64 << 10

// IndexerAPI 索引器状态与增量账本查询
type IndexerAPI interface {
	Status(ctx context.Context) (*model.IndexerStatus, error)
	ListDeltas(ctx context.Context, fromBlock int64, page *repository.Pagination) ([]*model.CompactEventDelta, error)
}

// ActionAPI 动作入队与查询
type ActionAPI interface {
	EnqueueRaw(ctx context.Context, raw []byte, idempotencyKey string) (*service.EnqueueResult, error)
	Preflight(ctx context.Context, raw []byte, commitID *int64) (*service.PreflightResult, error)
	GetAction(ctx context.Context, actionID string) (*model.ActionResult, error)
	GetLatestByCharacter(ctx context.Context, characterID int64) (*model.ActionResult, error)
	QueueStats(ctx context.Context) (map[string]int64, error)
}

// ReadinessCheck 就绪检查项
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// OpsHandler 运维与动作 HTTP 接口
type OpsHandler struct {
	indexer      IndexerAPI
	actions      ActionAPI
	checks       []ReadinessCheck
	checkTimeout time.Duration
}

// NewOpsHandler 创建处理器, indexer/actions 为 nil 时对应路由返回 503
func NewOpsHandler(indexer IndexerAPI, actions ActionAPI, checks ...ReadinessCheck) *OpsHandler {
	return &OpsHandler{
		indexer:      indexer,
		actions:      actions,
		checks:       checks,
		checkTimeout: 3 * time.Second,
	}
}

// RegisterRoutes 注册路由
func (h *OpsHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health/live", h.Live)
	r.GET("/health/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/indexer/status", h.IndexerStatus)
	v1.GET("/deltas", h.ListDeltas)
	v1.POST("/actions", h.SubmitAction)
	v1.POST("/actions/preflight", h.PreflightAction)
	v1.GET("/actions/stats", h.QueueStats)
	v1.GET("/actions/:id", h.GetAction)
	v1.GET("/characters/:id/latest-action", h.LatestCharacterAction)
}

// NewRouter 创建带中间件的 gin 引擎
func NewRouter(h *OpsHandler) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(), RequestLogger())
	h.RegisterRoutes(r)
	return r
}

// Live 存活检查
// GET /health/live
func (h *OpsHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready 就绪检查, 任一检查项失败返回 503
// GET /health/ready
func (h *OpsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.checkTimeout)
	defer cancel()

	failed := checkAll(ctx, h.checks)
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// checkAll 返回失败项 name -> error
func checkAll(ctx context.Context, checks []ReadinessCheck) map[string]string {
	failed := make(map[string]string)
	for _, chk := range checks {
		if err := chk.Check(ctx); err != nil {
			logger.Warn("readiness check failed", zap.String("check", chk.Name), zap.Error(err))
			failed[chk.Name] = err.Error()
		}
	}
	return failed
}

// IndexerStatus 索引器状态
// GET /v1/indexer/status
func (h *OpsHandler) IndexerStatus(c *gin.Context) {
	if !h.indexerEnabled(c) {
		return
	}
	st, err := h.indexer.Status(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Success(c, st)
}

// ListDeltas 按链上顺序分页返回 fromBlock (含) 之后的事件增量, pageSize 最大 1000
// GET /v1/deltas?fromBlock=&page=&pageSize=
func (h *OpsHandler) ListDeltas(c *gin.Context) {
	if !h.indexerEnabled(c) {
		return
	}
	fromBlock, ok := queryInt(c, "fromBlock", 0)
	if !ok {
		return
	}
	pageNum, ok := queryInt(c, "page", 1)
	if !ok {
		return
	}
	pageSize, ok := queryInt(c, "pageSize", 100)
	if !ok {
		return
	}
	page := &repository.Pagination{Page: int(pageNum), PageSize: int(pageSize)}
	deltas, err := h.indexer.ListDeltas(c.Request.Context(), fromBlock, page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	if deltas == nil {
		deltas = []*model.CompactEventDelta{}
	}
	Success(c, gin.H{
		"fromBlock": fromBlock,
		"page":      page.Page,
		"pageSize":  page.Limit(),
		"deltas":    deltas,
	})
}

// queryInt 读取非负整数查询参数, 缺省时返回 def
func queryInt(c *gin.Context, key string, def int64) (int64, bool) {
	v := c.Query(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		BadRequest(c, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (h *OpsHandler) indexerEnabled(c *gin.Context) bool {
	if h.indexer == nil {
		c.JSON(http.StatusServiceUnavailable, &Response{Code: "INDEXER_DISABLED", Message: "indexer is not running in this process"})
		return false
	}
	return true
}

// SubmitAction 提交动作, Idempotency-Key header 可选
// POST /v1/actions
func (h *OpsHandler) SubmitAction(c *gin.Context) {
	raw, ok := h.readActionBody(c)
	if !ok {
		return
	}
	res, err := h.actions.EnqueueRaw(c.Request.Context(), raw, c.GetHeader("Idempotency-Key"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Accepted(c, gin.H{
		"actionId":  res.Submission.ActionID,
		"status":    res.Submission.Status,
		"created":   res.Created,
		"preflight": res.Preflight,
	})
}

// PreflightAction 只做预检, 不入队
// POST /v1/actions/preflight?commitId=
func (h *OpsHandler) PreflightAction(c *gin.Context) {
	var commitID *int64
	if v := c.Query("commitId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			BadRequest(c, "commitId must be a positive integer")
			return
		}
		commitID = &id
	}
	raw, ok := h.readActionBody(c)
	if !ok {
		return
	}
	res, err := h.actions.Preflight(c.Request.Context(), raw, commitID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Success(c, res)
}

// GetAction 查询动作
// GET /v1/actions/:id
func (h *OpsHandler) GetAction(c *gin.Context) {
	if !h.actionsEnabled(c) {
		return
	}
	res, err := h.actions.GetAction(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Success(c, res)
}

// LatestCharacterAction 角色最近一次动作
// GET /v1/characters/:id/latest-action
func (h *OpsHandler) LatestCharacterAction(c *gin.Context) {
	if !h.actionsEnabled(c) {
		return
	}
	characterID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || characterID <= 0 {
		BadRequest(c, "character id must be a positive integer")
		return
	}
	res, err := h.actions.GetLatestByCharacter(c.Request.Context(), characterID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Success(c, res)
}

// QueueStats 队列状态统计
// GET /v1/actions/stats
func (h *OpsHandler) QueueStats(c *gin.Context) {
	if !h.actionsEnabled(c) {
		return
	}
	counts, err := h.actions.QueueStats(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Success(c, counts)
}

func (h *OpsHandler) actionsEnabled(c *gin.Context) bool {
	if h.actions == nil {
		c.JSON(http.StatusServiceUnavailable, &Response{Code: "ACTIONS_DISABLED", Message: "action queue is not available"})
		return false
	}
	return true
}

func (h *OpsHandler) readActionBody(c *gin.Context) ([]byte, bool) {
	if !h.actionsEnabled(c) {
		return nil, false
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxActionBodyBytes+1))
	if err != nil {
		BadRequest(c, "failed to read request body")
		return nil, false
	}
	if len(raw) == 0 {
		BadRequest(c, "request body is required")
		return nil, false
	}
	if len(raw) > maxActionBodyBytes {
		BadRequest(c, "request body too large")
		return nil, false
	}
	return raw, true
}
