package kafka

// ========================================
// Kafka 消费者对接说明
// ========================================
//
// Topic: chainmmo-action-requests
//   - 消息内容: ActionRequest {"idempotency_key": "...", "action": {...}}
//   - 处理逻辑: 调用 ActionService.EnqueueRaw, 与 HTTP 提交走同一入队路径
//   - 业务拒绝 (校验/预检失败/只读) 直接确认, 基础设施错误不确认, 重平衡后重新投递
// ========================================

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/metrics"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/service"
	bizerrors "github.com/stokasz/ChainMMO-Monad-sub000/pkg/errors"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

// ActionRequest 动作请求消息
type ActionRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Action         json.RawMessage `json:"action"`
}

// ActionEnqueuer 动作入队
type ActionEnqueuer interface {
	EnqueueRaw(ctx context.Context, raw []byte, idempotencyKey string) (*service.EnqueueResult, error)
}

// Consumer Kafka 消费者
type Consumer struct {
	client  sarama.ConsumerGroup
	handler *consumerGroupHandler
	topics  []string
	groupID string

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers             []string
	GroupID             string
	ActionRequestsTopic string
	Enqueuer            ActionEnqueuer
}

// NewConsumer 创建消费者
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = time.Second

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}

	topic := cfg.ActionRequestsTopic
	if topic == "" {
		topic = TopicActionRequests
	}

	return &Consumer{
		client:  client,
		handler: &consumerGroupHandler{enqueuer: cfg.Enqueuer},
		topics:  []string{topic},
		groupID: cfg.GroupID,
	}, nil
}

// Start 启动消费者
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	doneCh := c.doneCh
	c.mu.Unlock()

	go func() {
		defer close(doneCh)
		for runCtx.Err() == nil {
			if err := c.client.Consume(runCtx, c.topics, c.handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logger.Error("kafka consume error", zap.Error(err))
				select {
				case <-runCtx.Done():
					return
				case <-time.After(time.Second):
				}
			}
		}
	}()

	logger.Info("kafka consumer started",
		zap.Strings("topics", c.topics),
		zap.String("group_id", c.groupID))

	return nil
}

// Stop 停止消费者
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	c.cancel()
	c.running = false
	err := c.client.Close()
	<-c.doneCh
	return err
}

// consumerGroupHandler 消费组处理器
type consumerGroupHandler struct {
	enqueuer ActionEnqueuer
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if h.handleMessage(session.Context(), msg) {
			session.MarkMessage(msg, "")
		}
	}
	return nil
}

// handleMessage 返回消息是否可以确认
func (h *consumerGroupHandler) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	metrics.RecordKafkaMessage(msg.Topic, false)

	var req ActionRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil || len(req.Action) == 0 {
		logger.Warn("drop malformed action request",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return true
	}

	res, err := h.enqueuer.EnqueueRaw(ctx, req.Action, req.IdempotencyKey)
	if err != nil {
		var biz *bizerrors.Error
		if errors.As(err, &biz) {
			logger.Info("action request rejected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("code", biz.Code),
				zap.String("reason", biz.Message))
			return true
		}
		logger.Error("failed to enqueue action request",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return false
	}

	logger.Debug("action request enqueued",
		zap.String("action_id", res.Submission.ActionID),
		zap.Bool("created", res.Created))
	return true
}
