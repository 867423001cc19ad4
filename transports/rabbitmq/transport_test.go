package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/internal/rabbitmq"
	"github.com/glimte/osip-go/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type submitFunc func(ctx context.Context, payload []byte, done messaging.DoneFunc) error

func (f submitFunc) Submit(ctx context.Context, payload []byte, done messaging.DoneFunc) error {
	return f(ctx, payload, done)
}

// answer completes every submission synchronously with reply and err
func answer(reply []byte, err error) submitFunc {
	return func(_ context.Context, _ []byte, done messaging.DoneFunc) error {
		done(reply, err)
		return nil
	}
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	return m.Called(exchange, routingKey, msg).Error(0)
}

type mockConsumer struct {
	mock.Mock
}

func (m *mockConsumer) Consume(ctx context.Context, queue string, handler rabbitmq.DeliveryHandler) error {
	return m.Called(queue).Error(0)
}

type mockAcknowledger struct {
	mock.Mock
}

func (m *mockAcknowledger) Ack(tag uint64, multiple bool) error {
	return m.Called(tag, multiple).Error(0)
}

func (m *mockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	return m.Called(tag, multiple, requeue).Error(0)
}

func (m *mockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Called(tag, requeue).Error(0)
}

func delivery(ack *mockAcknowledger, replyTo string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger:  ack,
		DeliveryTag:   1,
		ReplyTo:       replyTo,
		CorrelationId: "corr-1",
		Body:          []byte("UPD_..."),
	}
}

func expectAck(ack *mockAcknowledger) {
	ack.On("Ack", uint64(1), false).Return(nil).Once()
}

func expectNack(ack *mockAcknowledger, requeue bool) {
	ack.On("Nack", uint64(1), false, requeue).Return(nil).Once()
}

func TestHandleDelivery(t *testing.T) {
	ctx := context.Background()
	reply := []byte("ACK_00040")

	t.Run("reply goes to ReplyTo with correlation id", func(t *testing.T) {
		ack := new(mockAcknowledger)
		expectAck(ack)
		pub := new(mockPublisher)
		pub.On("Publish", "", "plc1.replies", mock.MatchedBy(func(msg amqp.Publishing) bool {
			return msg.CorrelationId == "corr-1" &&
				string(msg.Body) == string(reply) &&
				msg.ContentType == ContentType &&
				msg.DeliveryMode == amqp.Persistent
		})).Return(nil)

		tr := NewTransport("plc1.in", nil, pub, answer(reply, nil), WithReplyRoute("osip", "default"))
		tr.HandleDelivery(ctx, delivery(ack, "plc1.replies"))

		pub.AssertExpectations(t)
		ack.AssertExpectations(t)
	})

	t.Run("configured route without ReplyTo", func(t *testing.T) {
		ack := new(mockAcknowledger)
		expectAck(ack)
		pub := new(mockPublisher)
		pub.On("Publish", "osip", "plc1.out", mock.Anything).Return(nil)

		tr := NewTransport("plc1.in", nil, pub, answer(reply, nil), WithReplyRoute("osip", "plc1.out"))
		tr.HandleDelivery(ctx, delivery(ack, ""))

		pub.AssertExpectations(t)
		ack.AssertExpectations(t)
	})

	t.Run("reply without route is dropped and acked", func(t *testing.T) {
		ack := new(mockAcknowledger)
		expectAck(ack)
		pub := new(mockPublisher)

		NewTransport("plc1.in", nil, pub, answer(reply, nil)).HandleDelivery(ctx, delivery(ack, ""))

		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		ack.AssertExpectations(t)
	})

	t.Run("publish failure requeues", func(t *testing.T) {
		ack := new(mockAcknowledger)
		expectNack(ack, true)
		pub := new(mockPublisher)
		pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("channel closed"))

		NewTransport("plc1.in", nil, pub, answer(reply, nil)).HandleDelivery(ctx, delivery(ack, "plc1.replies"))
		ack.AssertExpectations(t)
	})

	t.Run("no reply acks", func(t *testing.T) {
		ack := new(mockAcknowledger)
		expectAck(ack)

		NewTransport("plc1.in", nil, new(mockPublisher), answer(nil, nil)).HandleDelivery(ctx, delivery(ack, ""))
		ack.AssertExpectations(t)
	})

	t.Run("hard failure rejects without requeue", func(t *testing.T) {
		ack := new(mockAcknowledger)
		expectNack(ack, false)
		hard := &contracts.HardFailureError{Reason: "payload shorter than header", Err: errors.New("3 bytes")}

		NewTransport("plc1.in", nil, new(mockPublisher), answer(nil, hard)).HandleDelivery(ctx, delivery(ack, ""))
		ack.AssertExpectations(t)
	})

	t.Run("handler failure without reply rejects", func(t *testing.T) {
		ack := new(mockAcknowledger)
		expectNack(ack, false)
		failed := &contracts.HandlerError{Type: "RES_", Err: errors.New("unknown barcode")}

		NewTransport("plc1.in", nil, new(mockPublisher), answer(nil, failed)).HandleDelivery(ctx, delivery(ack, ""))
		ack.AssertExpectations(t)
	})

	t.Run("cancellation requeues", func(t *testing.T) {
		ack := new(mockAcknowledger)
		expectNack(ack, true)
		cancelled := &contracts.HardFailureError{Reason: "processing cancelled", Err: context.Canceled}

		NewTransport("plc1.in", nil, new(mockPublisher), answer(nil, cancelled)).HandleDelivery(ctx, delivery(ack, ""))
		ack.AssertExpectations(t)
	})

	t.Run("pool closed requeues", func(t *testing.T) {
		ack := new(mockAcknowledger)
		expectNack(ack, true)
		refuse := submitFunc(func(context.Context, []byte, messaging.DoneFunc) error {
			return messaging.ErrPoolClosed
		})

		NewTransport("plc1.in", nil, new(mockPublisher), refuse).HandleDelivery(ctx, delivery(ack, ""))
		ack.AssertExpectations(t)
	})

	t.Run("settles after asynchronous completion", func(t *testing.T) {
		ack := new(mockAcknowledger)
		acked := make(chan struct{})
		ack.On("Ack", uint64(1), false).Return(nil).Run(func(mock.Arguments) { close(acked) })

		pending := make(chan messaging.DoneFunc, 1)
		later := submitFunc(func(_ context.Context, _ []byte, done messaging.DoneFunc) error {
			pending <- done
			return nil
		})

		NewTransport("plc1.in", nil, new(mockPublisher), later).HandleDelivery(ctx, delivery(ack, ""))
		ack.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)

		(<-pending)(nil, nil)
		select {
		case <-acked:
		case <-time.After(time.Second):
			t.Fatal("delivery not acked")
		}
	})
}

func TestRun(t *testing.T) {
	consumer := new(mockConsumer)
	consumer.On("Consume", "plc1.in").Return(nil)

	tr := NewTransport("plc1.in", consumer, new(mockPublisher), answer(nil, nil))
	assert.NoError(t, tr.Run(context.Background()))
	consumer.AssertExpectations(t)
}
