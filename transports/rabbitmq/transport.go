package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/internal/rabbitmq"
	"github.com/glimte/osip-go/messaging"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ContentType marks OSIP payloads on the wire
const ContentType = "application/x-osip-telegram"

// Submitter queues a raw telegram for processing; messaging.Pool implements it
type Submitter interface {
	Submit(ctx context.Context, payload []byte, done messaging.DoneFunc) error
}

// DeliveryConsumer feeds deliveries from a queue
type DeliveryConsumer interface {
	Consume(ctx context.Context, queue string, handler rabbitmq.DeliveryHandler) error
}

// ReplyPublisher publishes reply telegrams
type ReplyPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// Transport consumes telegrams from one queue and publishes the replies
type Transport struct {
	consumer       DeliveryConsumer
	publisher      ReplyPublisher
	submitter      Submitter
	queue          string
	replyExchange  string
	replyKey       string
	publishTimeout time.Duration
	logger         *slog.Logger
}

// TransportOption configures the transport
type TransportOption func(*Transport)

// WithReplyRoute sets where replies go when a delivery has no ReplyTo
func WithReplyRoute(exchange, routingKey string) TransportOption {
	return func(t *Transport) {
		t.replyExchange = exchange
		t.replyKey = routingKey
	}
}

// WithPublishTimeout bounds publishing one reply
func WithPublishTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) {
		t.publishTimeout = timeout
	}
}

// WithTransportLogger sets the logger
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates a transport reading queue
func NewTransport(queue string, consumer DeliveryConsumer, publisher ReplyPublisher, submitter Submitter, options ...TransportOption) *Transport {
	t := &Transport{
		consumer:       consumer,
		publisher:      publisher,
		submitter:      submitter,
		queue:          queue,
		publishTimeout: 10 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// Run consumes until ctx is done
func (t *Transport) Run(ctx context.Context) error {
	t.logger.Info("amqp transport started", "queue", t.queue)
	return t.consumer.Consume(ctx, t.queue, t.HandleDelivery)
}

// HandleDelivery submits one delivery and settles it once processing is done:
// ack after the reply is published or when there is none, requeue when
// processing was interrupted or the reply could not be published, reject when
// the telegram cannot be answered.
func (t *Transport) HandleDelivery(ctx context.Context, delivery amqp.Delivery) {
	err := t.submitter.Submit(ctx, delivery.Body, func(reply []byte, err error) {
		t.settle(delivery, t.complete(ctx, delivery, reply, err))
	})
	if err != nil {
		t.logger.Warn("telegram not accepted", "deliveryTag", delivery.DeliveryTag, "error", err)
		t.settle(delivery, rabbitmq.Requeue)
	}
}

func (t *Transport) complete(ctx context.Context, delivery amqp.Delivery, reply []byte, err error) rabbitmq.Decision {
	if reply != nil {
		if pubErr := t.publishReply(ctx, delivery, reply); pubErr != nil {
			t.logger.Error("failed to publish reply", "correlationId", delivery.CorrelationId, "error", pubErr)
			return rabbitmq.Requeue
		}
		return rabbitmq.Ack
	}

	if err == nil {
		return rabbitmq.Ack
	}

	if interrupted(err) {
		return rabbitmq.Requeue
	}

	var hard *contracts.HardFailureError
	if errors.As(err, &hard) {
		t.logger.Error("rejecting unanswerable telegram", "deliveryTag", delivery.DeliveryTag, "error", err)
	} else {
		t.logger.Warn("rejecting failed telegram", "deliveryTag", delivery.DeliveryTag, "code", contracts.ErrorCode(err), "error", err)
	}
	return rabbitmq.Reject
}

func (t *Transport) publishReply(ctx context.Context, delivery amqp.Delivery, reply []byte) error {
	exchange, key := t.replyExchange, t.replyKey
	if delivery.ReplyTo != "" {
		exchange, key = "", delivery.ReplyTo
	}
	if key == "" && exchange == "" {
		t.logger.Warn("dropping reply without route", "correlationId", delivery.CorrelationId)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.publishTimeout)
	defer cancel()

	return t.publisher.Publish(ctx, exchange, key, amqp.Publishing{
		ContentType:   ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: delivery.CorrelationId,
		MessageId:     uuid.NewString(),
		Timestamp:     time.Now(),
		Body:          reply,
	})
}

func (t *Transport) settle(delivery amqp.Delivery, decision rabbitmq.Decision) {
	if err := rabbitmq.Settle(delivery, decision); err != nil {
		t.logger.Error("failed to settle delivery", "deliveryTag", delivery.DeliveryTag, "decision", decision.String(), "error", err)
	}
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, messaging.ErrPoolClosed)
}
