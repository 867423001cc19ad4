package serialization

import (
	"errors"
	"fmt"

	"github.com/glimte/osip-go/contracts"
)

// TelegramCodec combines the header codec with the registry to read and write
// complete telegrams.
type TelegramCodec struct {
	header   *HeaderCodec
	registry *Registry
}

// NewTelegramCodec creates a telegram codec. Body timestamps use the header
// layout's location.
func NewTelegramCodec(header *HeaderCodec, registry *Registry) *TelegramCodec {
	return &TelegramCodec{header: header, registry: registry.In(header.Layout().Location)}
}

// HeaderCodec returns the header codec
func (c *TelegramCodec) HeaderCodec() *HeaderCodec {
	return c.header
}

// Registry returns the variant registry
func (c *TelegramCodec) Registry() *Registry {
	return c.registry
}

// DecodeHeader decodes the header of payload and checks that its length field
// matches the payload size.
func (c *TelegramCodec) DecodeHeader(payload []byte) (contracts.Header, error) {
	h, err := c.header.Decode(payload)
	if err != nil {
		return contracts.Header{}, err
	}
	if h.Length != len(payload) {
		return contracts.Header{}, &contracts.MalformedHeaderError{
			Field:  "length",
			Offset: contracts.TypeWidth,
			Reason: fmt.Sprintf("length field says %d, telegram is %d bytes", h.Length, len(payload)),
		}
	}
	return h, nil
}

// DecodeBody decodes the body following the header with the variant's codec
func (c *TelegramCodec) DecodeBody(header contracts.Header, variant Variant, payload []byte) (*contracts.Telegram, error) {
	body, err := variant.Codec.DecodeBody(header, payload[c.header.Width():])
	if err != nil {
		return nil, asBodyError(variant.Type, err)
	}
	return contracts.Decoded(header, body), nil
}

// Decode reads a complete telegram
func (c *TelegramCodec) Decode(payload []byte) (*contracts.Telegram, error) {
	h, err := c.DecodeHeader(payload)
	if err != nil {
		return nil, err
	}

	variant, err := c.registry.Lookup(h.Type)
	if err != nil {
		return nil, err
	}

	return c.DecodeBody(h, variant, payload)
}

// Encode writes a complete telegram. The header length is computed, the
// timestamp is the telegram's creation time. ACK_ and ERR_ telegrams can be
// encoded even when the registry does not list them.
func (c *TelegramCodec) Encode(t *contracts.Telegram) ([]byte, error) {
	codec, err := c.bodyCodec(t.Type())
	if err != nil {
		return nil, err
	}

	body, err := codec.EncodeBody(t.Body())
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s body: %w", t.Type(), err)
	}

	h := t.Header()
	h.Length = c.header.Width() + len(body)
	h.Timestamp = t.Created()

	head, err := c.header.Encode(h)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s header: %w", t.Type(), err)
	}

	return append(head, body...), nil
}

func (c *TelegramCodec) bodyCodec(telegramType string) (Codec, error) {
	variant, err := c.registry.Lookup(telegramType)
	if err == nil {
		return variant.Codec, nil
	}
	switch telegramType {
	case contracts.AckType:
		return AckCodec(), nil
	case contracts.ErrorType:
		return ErrorCodec(), nil
	}
	return nil, err
}

func asBodyError(telegramType string, err error) error {
	var bodyErr *contracts.MalformedBodyError
	if errors.As(err, &bodyErr) {
		return err
	}
	return &contracts.MalformedBodyError{
		Type:   telegramType,
		Field:  "body",
		Reason: err.Error(),
	}
}
