package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/messaging"
	kafkago "github.com/segmentio/kafka-go"
)

// CorrelationHeader is copied from the inbound message to its reply
const CorrelationHeader = "correlation-id"

// ErrorCodeHeader carries the wire error code on dead-lettered messages
const ErrorCodeHeader = "osip-error-code"

// Submitter queues a raw telegram for processing; messaging.Pool implements it
type Submitter interface {
	Submit(ctx context.Context, payload []byte, done messaging.DoneFunc) error
}

// MessageReader is the part of *kafka.Reader the transport needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// MessageWriter is the part of *kafka.Writer the transport needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Transport reads telegrams from a topic and writes replies to a reply topic,
// keyed like the inbound message so replies keep the partition order.
type Transport struct {
	reader       MessageReader
	replies      MessageWriter
	deadLetters  MessageWriter
	submitter    Submitter
	writeTimeout time.Duration
	logger       *slog.Logger
	offsets      *offsetTracker
	commitMu     sync.Mutex
	fatal        chan error
	fatalOnce    sync.Once
}

// TransportOption configures the transport
type TransportOption func(*Transport)

// WithDeadLetterWriter sends telegrams that failed without a reply to a
// separate topic before their offset is committed
func WithDeadLetterWriter(w MessageWriter) TransportOption {
	return func(t *Transport) {
		t.deadLetters = w
	}
}

// WithWriteTimeout bounds reply writes and commits
func WithWriteTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) {
		t.writeTimeout = timeout
	}
}

// WithTransportLogger sets the logger
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates a Kafka transport
func NewTransport(reader MessageReader, replies MessageWriter, submitter Submitter, options ...TransportOption) *Transport {
	t := &Transport{
		reader:       reader,
		replies:      replies,
		submitter:    submitter,
		writeTimeout: 10 * time.Second,
		logger:       slog.Default(),
		offsets:      newOffsetTracker(),
		fatal:        make(chan error, 1),
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// Run fetches until ctx is done. It fails when a reply or commit could not be
// written; the uncommitted messages are fetched again after a restart.
func (t *Transport) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		select {
		case err := <-t.fatal:
			cancel(err)
		case <-ctx.Done():
		}
	}()

	for {
		msg, err := t.reader.FetchMessage(ctx)
		if err != nil {
			return t.stopped(ctx, fmt.Errorf("failed to fetch message: %w", err))
		}

		t.offsets.track(msg)
		err = t.submitter.Submit(ctx, msg.Value, func(reply []byte, err error) {
			t.complete(ctx, msg, reply, err)
		})
		if err != nil {
			return t.stopped(ctx, fmt.Errorf("failed to submit message: %w", err))
		}
	}
}

func (t *Transport) stopped(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		if errors.Is(cause, context.Canceled) {
			t.logger.Info("kafka transport stopped", "inFlight", t.offsets.inFlight())
			return nil
		}
		return cause
	}
	return err
}

func (t *Transport) complete(ctx context.Context, msg kafkago.Message, reply []byte, err error) {
	if reply == nil && err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, messaging.ErrPoolClosed)) {
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.writeTimeout)
	defer cancel()

	if reply != nil {
		if werr := t.replies.WriteMessages(wctx, t.replyMessage(msg, reply)); werr != nil {
			t.fail(fmt.Errorf("failed to write reply for offset %d: %w", msg.Offset, werr))
			return
		}
	} else if err != nil {
		t.logger.Warn("telegram failed without reply",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"code", contracts.ErrorCode(err),
			"error", err,
		)
		if t.deadLetters != nil {
			if werr := t.deadLetters.WriteMessages(wctx, t.deadLetter(msg, err)); werr != nil {
				t.fail(fmt.Errorf("failed to dead-letter offset %d: %w", msg.Offset, werr))
				return
			}
		}
	}

	t.commit(wctx, msg)
}

func (t *Transport) commit(ctx context.Context, msg kafkago.Message) {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	last, ok := t.offsets.complete(msg)
	if !ok {
		return
	}
	if err := t.reader.CommitMessages(ctx, last); err != nil {
		t.fail(fmt.Errorf("failed to commit offset %d: %w", last.Offset, err))
	}
}

func (t *Transport) fail(err error) {
	t.logger.Error("kafka transport failed", "error", err)
	t.fatalOnce.Do(func() { t.fatal <- err })
}

func (t *Transport) replyMessage(msg kafkago.Message, reply []byte) kafkago.Message {
	out := kafkago.Message{Key: msg.Key, Value: reply, Time: time.Now()}
	for _, h := range msg.Headers {
		if h.Key == CorrelationHeader {
			out.Headers = append(out.Headers, h)
		}
	}
	return out
}

func (t *Transport) deadLetter(msg kafkago.Message, err error) kafkago.Message {
	return kafkago.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Time:  time.Now(),
		Headers: append(append([]kafkago.Header(nil), msg.Headers...),
			kafkago.Header{Key: ErrorCodeHeader, Value: []byte(contracts.ErrorCode(err))},
			kafkago.Header{Key: "osip-error", Value: []byte(err.Error())},
			kafkago.Header{Key: "osip-source", Value: []byte(fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset))},
		),
	}
}
