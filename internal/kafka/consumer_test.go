package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/service"
	bizerrors "github.com/stokasz/ChainMMO-Monad-sub000/pkg/errors"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueRaw(ctx context.Context, raw []byte, idempotencyKey string) (*service.EnqueueResult, error) {
	args := m.Called(ctx, string(raw), idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.EnqueueResult), args.Error(1)
}

func requestMessage(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: TopicActionRequests, Offset: 7, Value: []byte(value)}
}

func TestConsumer_HandleMessage(t *testing.T) {
	action := `{"type":"finalize_epoch","epochId":3}`

	t.Run("enqueued", func(t *testing.T) {
		enq := new(mockEnqueuer)
		enq.On("EnqueueRaw", mock.Anything, action, "req-9").Return(&service.EnqueueResult{
			Submission: &model.ActionSubmission{ActionID: "a-1"},
			Created:    true,
		}, nil).Once()

		h := &consumerGroupHandler{enqueuer: enq}
		ack := h.handleMessage(context.Background(), requestMessage(`{"idempotency_key":"req-9","action":`+action+`}`))

		assert.True(t, ack)
		enq.AssertExpectations(t)
	})

	t.Run("malformed payload acked without enqueue", func(t *testing.T) {
		enq := new(mockEnqueuer)
		h := &consumerGroupHandler{enqueuer: enq}

		assert.True(t, h.handleMessage(context.Background(), requestMessage(`not json`)))
		assert.True(t, h.handleMessage(context.Background(), requestMessage(`{"idempotency_key":"x"}`)))
		enq.AssertNotCalled(t, "EnqueueRaw", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("business rejection acked", func(t *testing.T) {
		enq := new(mockEnqueuer)
		enq.On("EnqueueRaw", mock.Anything, action, "").Return(nil, bizerrors.ErrReadOnlyMode).Once()

		h := &consumerGroupHandler{enqueuer: enq}
		assert.True(t, h.handleMessage(context.Background(), requestMessage(`{"action":`+action+`}`)))
	})

	t.Run("infrastructure error not acked", func(t *testing.T) {
		enq := new(mockEnqueuer)
		enq.On("EnqueueRaw", mock.Anything, action, "").Return(nil, errors.New("connection refused")).Once()

		h := &consumerGroupHandler{enqueuer: enq}
		assert.False(t, h.handleMessage(context.Background(), requestMessage(`{"action":`+action+`}`)))
	})
}
