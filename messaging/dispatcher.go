package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/serialization"
)

var (
	// ErrNoHandler is wrapped in the HandlerError of a telegram nobody handles
	ErrNoHandler = errors.New("osip: no handler registered")
	// ErrHandlerExists is returned when registering a second handler for a type
	ErrHandlerExists = errors.New("osip: handler already registered")
)

// State is a step of the dispatch state machine
type State int

const (
	StateReceived State = iota
	StateHeaderDecoded
	StateBodyDecoded
	StateDispatched
	StateReplied
	StateNoReply
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateHeaderDecoded:
		return "HEADER_DECODED"
	case StateBodyDecoded:
		return "BODY_DECODED"
	case StateDispatched:
		return "DISPATCHED"
	case StateReplied:
		return "REPLIED"
	case StateNoReply:
		return "NO_REPLY"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether processing ends in s
func (s State) IsTerminal() bool {
	return s == StateReplied || s == StateNoReply || s == StateFailed
}

// Outcome is the result of processing one inbound payload
type Outcome struct {
	State        State
	Trail        []State
	Type         string // Telegram type, empty when the header was unreadable
	Key          string // Correlation key the telegram was serialized on
	Request      *contracts.Telegram
	Reply        *contracts.Telegram
	ReplyPayload []byte
	Err          error
	Cached       bool // Reply came from the reply cache
	Duration     time.Duration
}

func (o *Outcome) transition(s State) {
	o.State = s
	o.Trail = append(o.Trail, s)
}

// Dispatcher drives inbound telegrams through decode, handler invocation and
// reply encoding.
type Dispatcher struct {
	codec      *serialization.TelegramCodec
	handlers   map[string]Handler
	mu         sync.RWMutex
	middleware []MiddlewareFunc
	locks      *KeyedMutex
	keyFunc    serialization.KeyFunc
	timeout    time.Duration
	cache      ReplyCache
	metrics    MetricsCollector
	logger     *slog.Logger
}

// DispatcherOption configures the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMiddleware adds middleware around every handler
func WithMiddleware(middleware ...MiddlewareFunc) DispatcherOption {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, middleware...)
	}
}

// WithProcessingTimeout bounds the time from lock acquisition to the terminal
// state. Zero disables the bound.
func WithProcessingTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithKeyFunc replaces the default correlation key (sender, else sequence)
func WithKeyFunc(fn serialization.KeyFunc) DispatcherOption {
	return func(d *Dispatcher) {
		d.keyFunc = fn
	}
}

// WithReplyCache answers redelivered payloads from cache
func WithReplyCache(cache ReplyCache) DispatcherOption {
	return func(d *Dispatcher) {
		d.cache = cache
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithKeyedMutex shares key locks with other dispatchers
func WithKeyedMutex(locks *KeyedMutex) DispatcherOption {
	return func(d *Dispatcher) {
		d.locks = locks
	}
}

// NewDispatcher creates a dispatcher for codec
func NewDispatcher(codec *serialization.TelegramCodec, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		codec:    codec,
		handlers: make(map[string]Handler),
		locks:    NewKeyedMutex(),
		keyFunc:  DefaultKey,
		metrics:  &NoOpMetricsCollector{},
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// DefaultKey orders telegrams per sender, falling back to the sequence token
func DefaultKey(h contracts.Header) string {
	if h.Sender != "" {
		return h.Sender
	}
	return h.Sequence
}

// Codec returns the telegram codec
func (d *Dispatcher) Codec() *serialization.TelegramCodec {
	return d.codec
}

// RegisterHandler registers the handler for a registered telegram type
func (d *Dispatcher) RegisterHandler(telegramType string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if !d.codec.Registry().IsRegistered(telegramType) {
		return &contracts.UnknownTelegramTypeError{Type: telegramType}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[telegramType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, telegramType)
	}
	d.handlers[telegramType] = handler

	d.logger.Info("registered telegram handler", "telegramType", telegramType)
	return nil
}

// RegisterHandlerFunc registers a function as a handler
func (d *Dispatcher) RegisterHandlerFunc(telegramType string, handler HandlerFunc) error {
	return d.RegisterHandler(telegramType, handler)
}

// HandledTypes returns the types that have a handler
func (d *Dispatcher) HandledTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for typeName := range d.handlers {
		types = append(types, typeName)
	}
	return types
}

// CorrelationKey returns the ordering key of a raw telegram. Payloads with an
// unreadable header or unknown type have no key.
func (d *Dispatcher) CorrelationKey(payload []byte) string {
	h, err := d.codec.HeaderCodec().Decode(payload)
	if err != nil {
		return ""
	}
	variant, err := d.codec.Registry().Lookup(h.Type)
	if err != nil {
		return ""
	}
	return d.keyOf(variant, h)
}

// HandleInbound processes one raw telegram. When a reply (including an error
// telegram) was produced it is returned with a nil error; otherwise the error
// explains why nothing can be sent back.
func (d *Dispatcher) HandleInbound(ctx context.Context, payload []byte) ([]byte, error) {
	o := d.Process(ctx, payload)
	if o.ReplyPayload != nil {
		return o.ReplyPayload, nil
	}
	return nil, o.Err
}

// Process runs payload through the state machine and reports every step
func (d *Dispatcher) Process(ctx context.Context, payload []byte) *Outcome {
	start := time.Now()
	o := &Outcome{}
	o.transition(StateReceived)

	defer func() {
		o.Duration = time.Since(start)
		d.metrics.RecordTelegram(o.Type, o.State, contracts.ErrorCode(o.Err), o.Duration)
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	header, err := d.codec.DecodeHeader(payload)
	if err != nil {
		if len(payload) < d.codec.HeaderCodec().Width() {
			return d.hardFailure(o, "payload shorter than header", err)
		}
		salvaged := d.codec.HeaderCodec().Salvage(payload)
		o.Type = salvaged.Type
		return d.failWithReply(o, salvaged, err)
	}
	o.Type = header.Type
	o.transition(StateHeaderDecoded)

	variant, err := d.codec.Registry().Lookup(header.Type)
	if err != nil {
		return d.failWithReply(o, header, err)
	}

	lease := &keyLease{}
	o.Key = d.keyOf(variant, header)
	if o.Key != "" {
		waitStart := time.Now()
		unlock, err := d.locks.Lock(ctx, o.Key)
		d.metrics.RecordLockWait(time.Since(waitStart))
		if err != nil {
			return d.interrupted(o, variant, header, err)
		}
		lease.unlock = unlock
	}
	defer lease.release()

	// Read under the key lock: a redelivery racing the first attempt gets its reply.
	var fingerprint string
	if d.cache != nil {
		fingerprint = Fingerprint(payload)
		if reply, ok := d.cachedReply(ctx, fingerprint); ok {
			o.Cached = true
			o.ReplyPayload = reply
			o.transition(StateReplied)
			return o
		}
	}

	request, err := d.codec.DecodeBody(header, variant, payload)
	if err != nil {
		return d.failWithReply(o, header, err)
	}
	o.Request = request
	o.transition(StateBodyDecoded)

	d.mu.RLock()
	handler, exists := d.handlers[header.Type]
	d.mu.RUnlock()

	if !exists {
		if header.Type == contracts.AckType || header.Type == contracts.ErrorType {
			d.logger.Debug("no handler for report telegram",
				"telegramType", header.Type,
				"sequence", header.Sequence,
				"errorCode", header.ErrorCode,
			)
			o.transition(StateNoReply)
			return o
		}
		return d.failProcessing(o, variant, header,
			&contracts.HandlerError{Type: header.Type, Err: ErrNoHandler})
	}

	o.transition(StateDispatched)

	reply, err := d.invoke(ctx, handler, request, lease)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return d.interrupted(o, variant, header, err)
		}
		return d.failProcessing(o, variant, header, err)
	}

	if variant.IsWithoutReply() {
		if reply != nil {
			d.logger.Debug("discarding reply to telegram without reply",
				"telegramType", header.Type,
				"replyType", reply.Type(),
			)
		}
		o.transition(StateNoReply)
		return o
	}

	if reply == nil {
		reply = contracts.NewReply(request, contracts.AckBody{AcknowledgedType: header.Type})
	}

	encoded, err := d.codec.Encode(reply)
	if err != nil {
		return d.failProcessing(o, variant, header,
			&contracts.HandlerError{Type: header.Type, Err: fmt.Errorf("failed to encode reply: %v", err)})
	}

	o.Reply = reply
	o.ReplyPayload = encoded
	o.transition(StateReplied)

	if d.cache != nil {
		if err := d.cache.Set(ctx, fingerprint, encoded); err != nil {
			d.logger.Warn("failed to cache reply", "telegramType", header.Type, "error", err)
		}
	}

	d.logger.Debug("telegram processed",
		"telegramId", request.ID(),
		"telegramType", header.Type,
		"sequence", header.Sequence,
		"replyType", reply.Type(),
	)

	return o
}

type handlerResult struct {
	reply *contracts.Telegram
	err   error
}

// keyLease holds a correlation key lock for one telegram. An abandoned handler
// keeps the key until it returns, so the next telegram for the key never
// overlaps with it.
type keyLease struct {
	mu        sync.Mutex
	unlock    func()
	running   bool
	abandoned bool
}

func (l *keyLease) start() {
	l.mu.Lock()
	l.running = true
	l.mu.Unlock()
}

func (l *keyLease) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
	if l.abandoned {
		l.unlockLocked()
	}
}

func (l *keyLease) abandon() {
	l.mu.Lock()
	l.abandoned = true
	l.mu.Unlock()
}

// release is called when processing ends. The key stays held while an
// abandoned handler is still running.
func (l *keyLease) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running && l.abandoned {
		return
	}
	l.unlockLocked()
}

func (l *keyLease) unlockLocked() {
	if l.unlock != nil {
		l.unlock()
		l.unlock = nil
	}
}

// invoke runs the handler chain. Panics become handler errors; once ctx is done
// the handler's late result is discarded and the lease is released only when
// the handler returns.
func (d *Dispatcher) invoke(ctx context.Context, handler Handler, request *contracts.Telegram, lease *keyLease) (*contracts.Telegram, error) {
	chain := Chain(handler, d.middleware...)
	done := make(chan handlerResult, 1)

	lease.start()
	go func() {
		defer lease.finish()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("handler panicked",
					"telegramId", request.ID(),
					"telegramType", request.Type(),
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- handlerResult{err: &contracts.HandlerError{
					Type: request.Type(),
					Err:  fmt.Errorf("panic: %v", r),
				}}
			}
		}()

		reply, err := chain.Handle(ctx, request)
		if err != nil {
			var handlerErr *contracts.HandlerError
			if !errors.As(err, &handlerErr) {
				err = &contracts.HandlerError{Type: request.Type(), Err: err}
			}
		}
		done <- handlerResult{reply: reply, err: err}
	}()

	select {
	case r := <-done:
		return r.reply, r.err
	case <-ctx.Done():
		lease.abandon()
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) keyOf(variant serialization.Variant, h contracts.Header) string {
	if variant.CorrelationKey != nil {
		return variant.CorrelationKey(h)
	}
	if d.keyFunc != nil {
		return d.keyFunc(h)
	}
	return ""
}

func (d *Dispatcher) cachedReply(ctx context.Context, fingerprint string) ([]byte, bool) {
	reply, ok, err := d.cache.Get(ctx, fingerprint)
	if err != nil {
		d.logger.Warn("reply cache lookup failed", "error", err)
		return nil, false
	}
	d.metrics.RecordReplyCache(ok)
	return reply, ok
}

// interrupted handles a done context: deadline expiry is a processing timeout,
// cancellation by the caller is a hard failure.
func (d *Dispatcher) interrupted(o *Outcome, variant serialization.Variant, h contracts.Header, err error) *Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return d.failProcessing(o, variant, h, &contracts.ProcessingTimeoutError{
			Type:    h.Type,
			Timeout: d.timeout,
			Err:     err,
		})
	}
	return d.hardFailure(o, "processing canceled", err)
}

// failWithReply answers a telegram that could not be decoded or routed. Inbound
// error telegrams are never answered with another error telegram.
func (d *Dispatcher) failWithReply(o *Outcome, request contracts.Header, err error) *Outcome {
	o.Err = err
	o.transition(StateFailed)

	if request.Type == contracts.ErrorType {
		d.logger.Warn("dropping undecodable error telegram",
			"sequence", request.Sequence,
			"error", err,
		)
		return o
	}

	d.logger.Warn("rejecting telegram",
		"telegramType", request.Type,
		"sequence", request.Sequence,
		"errorCode", contracts.ErrorCode(err),
		"error", err,
	)
	d.encodeErrorReply(o, request, err)
	return o
}

// failProcessing ends a telegram whose handling failed. The sender only gets an
// error telegram when it waits for a reply.
func (d *Dispatcher) failProcessing(o *Outcome, variant serialization.Variant, request contracts.Header, err error) *Outcome {
	if variant.RequiresReply && request.Type != contracts.ErrorType {
		return d.failWithReply(o, request, err)
	}

	o.Err = err
	o.transition(StateFailed)
	d.logger.Error("telegram processing failed",
		"telegramType", request.Type,
		"sequence", request.Sequence,
		"error", err,
	)
	return o
}

func (d *Dispatcher) hardFailure(o *Outcome, reason string, err error) *Outcome {
	o.Err = &contracts.HardFailureError{Reason: reason, Err: err}
	o.transition(StateFailed)
	d.logger.Error("dropping telegram", "reason", reason, "error", err)
	return o
}

func (d *Dispatcher) encodeErrorReply(o *Outcome, request contracts.Header, err error) {
	reply := contracts.NewErrorReply(request, contracts.ErrorCode(err), contracts.ErrorBody{
		OriginalType: request.Type,
		Detail:       err.Error(),
	})

	encoded, encErr := d.codec.Encode(reply)
	if encErr != nil {
		o.Err = &contracts.HardFailureError{
			Reason: "failed to encode error telegram",
			Err:    errors.Join(err, encErr),
		}
		d.logger.Error("failed to encode error telegram", "error", encErr)
		return
	}

	o.Reply = reply
	o.ReplyPayload = encoded
}

// Fingerprint identifies a payload for the reply cache
func Fingerprint(payload []byte) string {
	return strconv.FormatUint(xxhash.Sum64(payload), 16)
}
