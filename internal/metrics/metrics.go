// Package metrics 提供 chainmmo 索引与动作执行服务的 Prometheus 监控指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chainmmo"

// 动作队列指标
var (
	// ActionsTotal 动作执行结果总数
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "动作执行结果总数",
		},
		[]string{"action_type", "status"}, // status: queued, succeeded, retry, failed
	)

	// ActionRevertsTotal 按错误分类统计的失败次数
	ActionRevertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_reverts_total",
			Help:      "按错误码统计的动作失败次数",
		},
		[]string{"code"},
	)

	// ActionDuration 单次动作执行耗时
	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "单次动作执行耗时(秒)",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"action_type"},
	)

	// ActionStageDuration commit-reveal 各阶段耗时
	ActionStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_stage_duration_seconds",
			Help:      "commit-reveal 各阶段耗时(秒)",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"}, // commit_submit, mine_wait, reveal_submit
	)

	// ActionQueueGauge 各状态动作数量
	ActionQueueGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "action_queue_size",
			Help:      "各状态动作数量",
		},
		[]string{"status"},
	)

	// PreflightTotal 预检结果
	PreflightTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preflight_total",
			Help:      "预检结果总数",
		},
		[]string{"action_type", "code"},
	)
)

// 区块链交互指标
var (
	// BlockchainTxTotal 链上交易总数
	BlockchainTxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blockchain_tx_total",
			Help:      "链上交易总数",
		},
		[]string{"method", "status"}, // status: success, reverted, failed
	)

	// BlockchainTxDuration 链上交易确认耗时
	BlockchainTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "blockchain_tx_duration_seconds",
			Help:      "链上交易确认耗时(秒)",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method"},
	)

	// BlockchainGasUsed Gas 使用量
	BlockchainGasUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "blockchain_gas_used",
			Help:      "链上交易 Gas 使用量",
			Buckets:   []float64{21000, 50000, 100000, 200000, 500000, 1000000, 2000000, 5000000},
		},
		[]string{"method"},
	)

	// BlockchainGasPrice Gas 价格
	BlockchainGasPrice = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blockchain_gas_price_gwei",
			Help:      "当前 Gas 价格 (Gwei)",
		},
	)

	// BlockchainNonceGauge 签名账户当前 Nonce
	BlockchainNonceGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blockchain_nonce_current",
			Help:      "签名账户当前 Nonce",
		},
	)
)

// 索引器指标
var (
	// BlocksIndexedTotal 已索引区块总数
	BlocksIndexedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_indexed_total",
			Help:      "已索引区块总数",
		},
	)

	// IndexerLagBlocks 索引落后安全高度的区块数
	IndexerLagBlocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexer_lag_blocks",
			Help:      "索引游标落后安全高度的区块数",
		},
	)

	// LatestIndexedBlockGauge 索引游标高度
	LatestIndexedBlockGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_indexed_block",
			Help:      "索引游标高度",
		},
	)

	// SafeHeadGauge 安全高度
	SafeHeadGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "safe_head_block",
			Help:      "链上安全高度 (head - confirmations)",
		},
	)

	// EventsProcessedTotal 已处理事件总数
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "已处理链上事件总数",
		},
		[]string{"event"},
	)

	// IndexerTickDuration 单次 tick 耗时
	IndexerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "indexer_tick_duration_seconds",
			Help:      "索引器单次 tick 耗时(秒)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// IndexerErrorsTotal 索引器错误
	IndexerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexer_errors_total",
			Help:      "索引器错误总数",
		},
		[]string{"kind"}, // range_too_large, rate_limited, handler, fetch
	)

	// IndexerResetsTotal 链重启导致的重置次数
	IndexerResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexer_resets_total",
			Help:      "检测到链重启后重置派生表的次数",
		},
	)
)

// gRPC 服务指标
var (
	// GRPCRequestsTotal gRPC 请求总数
	GRPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC 请求总数",
		},
		[]string{"method", "code"},
	)

	// GRPCRequestDuration gRPC 请求耗时
	GRPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC 请求耗时(秒)",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method"},
	)
)

// Kafka 指标
var (
	// KafkaMessagesConsumed Kafka 消费消息数
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_consumed_total",
			Help:      "Kafka 消费消息总数",
		},
		[]string{"topic"},
	)

	// KafkaMessagesProduced Kafka 生产消息数
	KafkaMessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_produced_total",
			Help:      "Kafka 生产消息总数",
		},
		[]string{"topic"},
	)
)

// Helper functions

// RecordActionOutcome 记录动作执行结果, code 非空时计入错误分类
func RecordActionOutcome(actionType, status, code string, duration time.Duration) {
	ActionsTotal.WithLabelValues(actionType, status).Inc()
	if code != "" && status != "succeeded" {
		ActionRevertsTotal.WithLabelValues(code).Inc()
	}
	if duration > 0 {
		ActionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
	}
}

// RecordActionStage 记录 commit-reveal 阶段耗时
func RecordActionStage(stage string, d time.Duration) {
	ActionStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordPreflight 记录预检结果
func RecordPreflight(actionType, code string) {
	PreflightTotal.WithLabelValues(actionType, code).Inc()
}

// UpdateActionQueue 更新各状态动作数量
func UpdateActionQueue(counts map[string]int64) {
	for status, n := range counts {
		ActionQueueGauge.WithLabelValues(status).Set(float64(n))
	}
}

// RecordBlockchainTx 记录链上交易
func RecordBlockchainTx(method, status string, duration time.Duration, gasUsed uint64) {
	BlockchainTxTotal.WithLabelValues(method, status).Inc()
	if duration > 0 {
		BlockchainTxDuration.WithLabelValues(method).Observe(duration.Seconds())
	}
	if gasUsed > 0 {
		BlockchainGasUsed.WithLabelValues(method).Observe(float64(gasUsed))
	}
}

// RecordBlocksIndexed 记录索引进度
func RecordBlocksIndexed(count, cursor, safeHead uint64) {
	BlocksIndexedTotal.Add(float64(count))
	LatestIndexedBlockGauge.Set(float64(cursor))
	SafeHeadGauge.Set(float64(safeHead))
	if safeHead > cursor {
		IndexerLagBlocks.Set(float64(safeHead - cursor))
	} else {
		IndexerLagBlocks.Set(0)
	}
}

// RecordEvent 记录链上事件
func RecordEvent(event string) {
	EventsProcessedTotal.WithLabelValues(event).Inc()
}

// RecordIndexerTick 记录 tick 耗时
func RecordIndexerTick(d time.Duration) {
	IndexerTickDuration.Observe(d.Seconds())
}

// RecordIndexerError 记录索引器错误
func RecordIndexerError(kind string) {
	IndexerErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordIndexerReset 记录链重启重置
func RecordIndexerReset() {
	IndexerResetsTotal.Inc()
}

// RecordGRPCRequest 记录 gRPC 请求
func RecordGRPCRequest(method, code string, durationSeconds float64) {
	GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	GRPCRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordKafkaMessage 记录 Kafka 消息
func RecordKafkaMessage(topic string, produced bool) {
	if produced {
		KafkaMessagesProduced.WithLabelValues(topic).Inc()
	} else {
		KafkaMessagesConsumed.WithLabelValues(topic).Inc()
	}
}

// UpdateGasPrice 更新 Gas 价格
func UpdateGasPrice(gasPriceGwei float64) {
	BlockchainGasPrice.Set(gasPriceGwei)
}

// UpdateNonce 更新 Nonce
func UpdateNonce(nonce uint64) {
	BlockchainNonceGauge.Set(float64(nonce))
}
