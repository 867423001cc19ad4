package contracts

import (
	"fmt"
	"sync"
	"time"
)

// Body is the variant-specific part of a telegram. Each concrete body reports the
// type identifier it is registered under.
type Body interface {
	TelegramType() string
}

// Telegram is one complete OSIP message: a header and a body.
//
// A telegram is immutable once constructed. The creation time is the only lazily
// initialised field: when it was not supplied it defaults to the wall clock at the
// first read and stays fixed afterwards.
type Telegram struct {
	id        string
	header    Header
	body      Body
	errorCode string

	mu      sync.Mutex
	created time.Time
}

// ID returns the process-local trace id. It never goes on the wire.
func (t *Telegram) ID() string {
	return t.id
}

// Type returns the message identifier
func (t *Telegram) Type() string {
	return t.header.Type
}

// Header returns a copy of the telegram header
func (t *Telegram) Header() Header {
	h := t.header
	h.ErrorCode = t.errorCode
	return h
}

// Body returns the decoded body
func (t *Telegram) Body() Body {
	return t.body
}

// Sequence returns the correlation token, empty when absent
func (t *Telegram) Sequence() string {
	return t.header.Sequence
}

// ErrorCode returns the error code or an empty string
func (t *Telegram) ErrorCode() string {
	return t.errorCode
}

// HasErrorCode reports whether the telegram carries an error code
func (t *Telegram) HasErrorCode() bool {
	return t.errorCode != ""
}

// Created returns the creation time, defaulting it to now on the first call
// when it was not set at construction.
func (t *Telegram) Created() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.created.IsZero() {
		t.created = time.Now().UTC().Truncate(time.Second)
	}
	return t.created
}

func (t *Telegram) String() string {
	return fmt.Sprintf("Telegram{id=%s errorCode=%q} with %s", t.id, t.errorCode, t.header)
}
