package serialization

import (
	"fmt"
	"time"

	"github.com/glimte/osip-go/contracts"
)

// Record is the body produced by LayoutCodec for variants that have no Go type
// of their own, such as those declared in a variant table.
type Record struct {
	Type   string
	Values Values
}

// TelegramType implements contracts.Body
func (r *Record) TelegramType() string {
	return r.Type
}

// LayoutCodec decodes any layout into a Record
type LayoutCodec struct {
	layout Layout
}

// NewLayoutCodec creates a codec for layout
func NewLayoutCodec(layout Layout) *LayoutCodec {
	return &LayoutCodec{layout: layout}
}

// Layout returns the field layout
func (c *LayoutCodec) Layout() Layout {
	return c.layout
}

// DecodeBody implements Codec
func (c *LayoutCodec) DecodeBody(header contracts.Header, body []byte) (contracts.Body, error) {
	values, err := c.layout.Decode(body)
	if err != nil {
		return nil, err
	}
	return &Record{Type: header.Type, Values: values}, nil
}

// In implements Zoned
func (c *LayoutCodec) In(loc *time.Location) Codec {
	return &LayoutCodec{layout: c.layout.In(loc)}
}

// EncodeBody implements Codec
func (c *LayoutCodec) EncodeBody(body contracts.Body) ([]byte, error) {
	rec, ok := body.(*Record)
	if !ok {
		return nil, fmt.Errorf("%w: %s codec expects *Record, got %T", ErrBodyType, c.layout.Type, body)
	}
	return c.layout.Encode(rec.Values)
}

// MappedCodec binds a layout to a concrete body type through a pair of mapping
// functions.
type MappedCodec[B contracts.Body] struct {
	layout Layout
	to     func(B) Values
	from   func(Values) B
}

// NewMappedCodec creates a codec for body type B
func NewMappedCodec[B contracts.Body](layout Layout, to func(B) Values, from func(Values) B) *MappedCodec[B] {
	return &MappedCodec[B]{layout: layout, to: to, from: from}
}

// Layout returns the field layout
func (c *MappedCodec[B]) Layout() Layout {
	return c.layout
}

// DecodeBody implements Codec
func (c *MappedCodec[B]) DecodeBody(_ contracts.Header, body []byte) (contracts.Body, error) {
	values, err := c.layout.Decode(body)
	if err != nil {
		return nil, err
	}
	return c.from(values), nil
}

// In implements Zoned
func (c *MappedCodec[B]) In(loc *time.Location) Codec {
	return &MappedCodec[B]{layout: c.layout.In(loc), to: c.to, from: c.from}
}

// EncodeBody implements Codec
func (c *MappedCodec[B]) EncodeBody(body contracts.Body) ([]byte, error) {
	typed, ok := body.(B)
	if !ok {
		var want B
		return nil, fmt.Errorf("%w: %s codec expects %T, got %T", ErrBodyType, c.layout.Type, want, body)
	}
	return c.layout.Encode(c.to(typed))
}

var ackLayout = MustLayout(contracts.AckType,
	StringField("acknowledgedType", contracts.TypeWidth),
)

var errorLayout = MustLayout(contracts.ErrorType,
	StringField("originalType", contracts.TypeWidth),
	StringField("detail", ErrorDetailWidth),
)

// ErrorDetailWidth is the space available for the error description
const ErrorDetailWidth = 64

// AckCodec returns the codec of the ACK_ variant
func AckCodec() Codec {
	return NewMappedCodec(ackLayout,
		func(b contracts.AckBody) Values {
			return Values{"acknowledgedType": b.AcknowledgedType}
		},
		func(v Values) contracts.AckBody {
			return contracts.AckBody{AcknowledgedType: v.String("acknowledgedType")}
		},
	)
}

// ErrorCodec returns the codec of the ERR_ variant. Details longer than the field
// are cut so an error telegram can always be encoded.
func ErrorCodec() Codec {
	return NewMappedCodec(errorLayout,
		func(b contracts.ErrorBody) Values {
			detail := sanitize(b.Detail)
			if len(detail) > ErrorDetailWidth {
				detail = detail[:ErrorDetailWidth]
			}
			original := sanitize(b.OriginalType)
			if len(original) > contracts.TypeWidth {
				original = original[:contracts.TypeWidth]
			}
			return Values{"originalType": original, "detail": detail}
		},
		func(v Values) contracts.ErrorBody {
			return contracts.ErrorBody{
				OriginalType: v.String("originalType"),
				Detail:       v.String("detail"),
			}
		},
	)
}

// sanitize replaces bytes that cannot appear in a text field
func sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c < 0x20 || c == 0x7f {
			b[i] = '?'
		}
	}
	return string(b)
}
