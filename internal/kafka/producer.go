// Package kafka 提供 Kafka 生产者和消费者
//
// ========================================
// Kafka 生产者对接说明
// ========================================
//
// ## 生产者 (Producer) - 本服务发送的 Topic
//
// 1. Topic: chainmmo-action-results
//    - 消息内容: model.ActionResult (动作进入终态时发送)
//    - Partition Key: action_id
//
// 2. Topic: chainmmo-event-deltas
//    - 消息内容: model.CompactEventDelta (索引器每条新日志一条)
//    - Partition Key: character_id, 无角色时使用 tx_hash
//
// 发送失败只记录日志, 数据库仍是唯一事实来源
// ========================================
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/metrics"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

// 默认 Topic
const (
	// TopicActionRequests 动作请求, 消费者: 本服务
	TopicActionRequests = "chainmmo-action-requests"

	// TopicActionResults 动作终态结果
	TopicActionResults = "chainmmo-action-results"

	// TopicEventDeltas 事件增量
	TopicEventDeltas = "chainmmo-event-deltas"
)

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("producer is closed")

// Producer Kafka 生产者
type Producer struct {
	producer     sarama.SyncProducer
	resultsTopic string
	deltasTopic  string

	mu     sync.RWMutex
	closed bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration

	ActionResultsTopic string
	EventDeltasTopic   string
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = sarama.WaitForAll
	}
	config.Producer.RequiredAcks = requiredAcks

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}
	return NewProducerWithClient(producer, cfg.ActionResultsTopic, cfg.EventDeltasTopic), nil
}

// NewProducerWithClient 使用已有的 SyncProducer, 空 topic 使用默认值
func NewProducerWithClient(producer sarama.SyncProducer, resultsTopic, deltasTopic string) *Producer {
	if resultsTopic == "" {
		resultsTopic = TopicActionResults
	}
	if deltasTopic == "" {
		deltasTopic = TopicEventDeltas
	}
	return &Producer{
		producer:     producer,
		resultsTopic: resultsTopic,
		deltasTopic:  deltasTopic,
	}
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	return p.producer.Close()
}

// send 发送消息
func (p *Producer) send(topic string, key string, value []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrProducerClosed
	}
	p.mu.RUnlock()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	metrics.RecordKafkaMessage(topic, true)
	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

// PublishActionResult 发送动作终态
func (p *Producer) PublishActionResult(_ context.Context, result *model.ActionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return p.send(p.resultsTopic, result.ActionID, data)
}

// PublishEventDelta 发送事件增量, 同一角色的增量落在同一分区
func (p *Producer) PublishEventDelta(_ context.Context, delta *model.CompactEventDelta) error {
	data, err := json.Marshal(delta)
	if err != nil {
		return err
	}
	key := delta.TxHash
	if delta.CharacterID != nil {
		key = strconv.FormatInt(*delta.CharacterID, 10)
	}
	return p.send(p.deltasTopic, key, data)
}
