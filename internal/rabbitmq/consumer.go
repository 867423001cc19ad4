package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Decision says how a delivery is settled with the broker
type Decision int

const (
	// Ack removes the delivery from the queue
	Ack Decision = iota
	// Requeue puts the delivery back for another attempt
	Requeue
	// Reject drops the delivery, or dead-letters it when the queue has a DLX
	Reject
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Settle acknowledges delivery according to decision
func Settle(delivery amqp.Delivery, decision Decision) error {
	switch decision {
	case Ack:
		return delivery.Ack(false)
	case Requeue:
		return delivery.Nack(false, true)
	case Reject:
		return delivery.Nack(false, false)
	default:
		return fmt.Errorf("unknown settle decision %d", decision)
	}
}

// DeliveryHandler receives deliveries in broker order. It owns the delivery
// and must Settle it, synchronously or later.
type DeliveryHandler func(ctx context.Context, delivery amqp.Delivery)

// Consumer consumes queues with manual acknowledgement
type Consumer struct {
	pool          *ChannelPool
	prefetchCount int
	exclusive     bool
	consumerTag   string
	logger        *slog.Logger
	active        sync.Map
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount bounds the unacknowledged deliveries in flight
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithExclusive requests exclusive consumer mode
func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *Consumer) {
		c.exclusive = exclusive
	}
}

// WithConsumerTag sets the consumer tag; the channel id is used otherwise
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a new consumer
func NewConsumer(pool *ChannelPool, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:          pool,
		prefetchCount: 32,
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Consume delivers messages from queue to handler until ctx is done. It
// returns nil on cancellation and a ConsumerError when the broker closes the
// delivery stream.
func (c *Consumer) Consume(ctx context.Context, queue string, handler DeliveryHandler) error {
	if _, loaded := c.active.LoadOrStore(queue, struct{}{}); loaded {
		return &ConsumerError{Queue: queue, ConsumerTag: c.consumerTag, Op: "consume", Err: ErrAlreadyConsuming, Timestamp: time.Now()}
	}
	defer c.active.Delete(queue)

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return &ConsumerError{Queue: queue, ConsumerTag: c.consumerTag, Op: "consume", Err: err, Timestamp: time.Now()}
	}

	tag := c.consumerTag
	if tag == "" {
		tag = ch.ID()
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		c.pool.Discard(ch)
		return &ConsumerError{Queue: queue, ConsumerTag: tag, Op: "qos", Err: err, Timestamp: time.Now()}
	}

	deliveries, err := ch.Consume(queue, tag, false, c.exclusive, false, false, nil)
	if err != nil {
		c.pool.Discard(ch)
		return &ConsumerError{Queue: queue, ConsumerTag: tag, Op: "consume", Err: err, Timestamp: time.Now()}
	}

	c.logger.Info("consuming queue", "queue", queue, "consumerTag", tag, "prefetchCount", c.prefetchCount)

	err = c.dispatch(ctx, queue, tag, deliveries, handler)

	if err == nil {
		if cancelErr := ch.Cancel(tag, false); cancelErr != nil {
			c.logger.Warn("failed to cancel consumer", "queue", queue, "error", cancelErr)
		}
	}
	// The channel carries the unsettled deliveries; closing it returns them to the queue.
	c.pool.Discard(ch)

	c.logger.Info("consumer stopped", "queue", queue, "consumerTag", tag)
	return err
}

func (c *Consumer) dispatch(ctx context.Context, queue, tag string, deliveries <-chan amqp.Delivery, handler DeliveryHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return &ConsumerError{Queue: queue, ConsumerTag: tag, Op: "receive", Err: ErrConsumerClosed, Timestamp: time.Now()}
			}
			handler(ctx, delivery)
		}
	}
}

// ActiveQueues returns the queues currently consumed
func (c *Consumer) ActiveQueues() []string {
	var queues []string
	c.active.Range(func(key, _ any) bool {
		queues = append(queues, key.(string))
		return true
	})
	return queues
}
