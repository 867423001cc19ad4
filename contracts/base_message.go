package contracts

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Option configures a telegram at construction time
type Option func(*Telegram)

// WithSender sets the sender field of the header
func WithSender(sender string) Option {
	return func(t *Telegram) {
		t.header.Sender = sender
	}
}

// WithReceiver sets the receiver field of the header
func WithReceiver(receiver string) Option {
	return func(t *Telegram) {
		t.header.Receiver = receiver
	}
}

// WithSequence sets the correlation token
func WithSequence(sequence string) Option {
	return func(t *Telegram) {
		t.header.Sequence = sequence
	}
}

// WithCreated fixes the creation time instead of defaulting it on first read
func WithCreated(created time.Time) Option {
	return func(t *Telegram) {
		t.created = created.UTC().Truncate(time.Second)
	}
}

// New creates an outbound telegram for body
func New(body Body, options ...Option) *Telegram {
	t := &Telegram{
		id:     uuid.New().String(),
		header: Header{Type: body.TelegramType()},
		body:   body,
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// NewReply creates a telegram answering request. Sender and receiver are swapped
// and the sequence is echoed.
func NewReply(request *Telegram, body Body, options ...Option) *Telegram {
	t := &Telegram{
		id:     uuid.New().String(),
		header: request.Header().ReplyHeader(body.TelegramType()),
		body:   body,
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// NewErrorReply creates an error telegram answering the telegram described by
// request. The header may be a partially salvaged one; whatever correlation
// fields it holds are echoed. The error code is the only place besides decoding
// where a telegram gets one.
func NewErrorReply(request Header, code string, body Body, options ...Option) *Telegram {
	code = strings.TrimSpace(code)
	if len(code) > ErrorCodeWidth {
		code = code[:ErrorCodeWidth]
	}

	t := &Telegram{
		id:        uuid.New().String(),
		header:    request.ReplyHeader(body.TelegramType()),
		body:      body,
		errorCode: code,
	}
	t.header.ErrorCode = code

	for _, opt := range options {
		opt(t)
	}

	return t
}

// Decoded wraps a header and body that were read off the wire. The creation
// time is the header timestamp.
func Decoded(header Header, body Body) *Telegram {
	return &Telegram{
		id:        uuid.New().String(),
		header:    header,
		body:      body,
		errorCode: header.ErrorCode,
		created:   header.Timestamp,
	}
}
