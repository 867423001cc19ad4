package serialization

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glimte/osip-go/contracts"
)

var (
	// ErrInvalidHeaderLayout is returned for unusable header layouts
	ErrInvalidHeaderLayout = errors.New("osip: invalid header layout")
	// ErrLengthOverflow is returned when a telegram is too long for the length field
	ErrLengthOverflow = errors.New("osip: telegram length exceeds length field")
	// ErrMissingTimestamp is returned when encoding a header without timestamp
	ErrMissingTimestamp = errors.New("osip: header timestamp missing")
)

// HeaderLayout configures the variable parts of the header. The type, timestamp
// and error code widths are fixed by the protocol.
type HeaderLayout struct {
	LengthWidth   int // Digits of the length field
	SenderWidth   int // 0 disables the sender field
	ReceiverWidth int // 0 disables the receiver field
	SequenceWidth int // 0 disables the sequence field
	Location      *time.Location
}

// DefaultHeaderLayout returns type(4) length(5) sequence(5) timestamp(14) error code(8)
func DefaultHeaderLayout() HeaderLayout {
	return HeaderLayout{
		LengthWidth:   5,
		SequenceWidth: 5,
		Location:      time.UTC,
	}
}

// Width returns the encoded header width
func (l HeaderLayout) Width() int {
	return contracts.TypeWidth + l.LengthWidth + l.SenderWidth + l.ReceiverWidth +
		l.SequenceWidth + contracts.TimestampWidth + contracts.ErrorCodeWidth
}

// Validate checks the layout widths
func (l HeaderLayout) Validate() error {
	if l.LengthWidth < 1 || l.LengthWidth > 9 {
		return fmt.Errorf("%w: length width must be between 1 and 9", ErrInvalidHeaderLayout)
	}
	if l.SenderWidth < 0 || l.ReceiverWidth < 0 || l.SequenceWidth < 0 {
		return fmt.Errorf("%w: widths must not be negative", ErrInvalidHeaderLayout)
	}
	return nil
}

// field offsets, computed once
type headerOffsets struct {
	length, sender, receiver, sequence, timestamp, errorCode int
}

// HeaderCodec encodes and decodes the fixed-length header. It holds no mutable
// state and is safe for concurrent use.
type HeaderCodec struct {
	layout  HeaderLayout
	offsets headerOffsets
	maxLen  int
}

// NewHeaderCodec creates a header codec for layout
func NewHeaderCodec(layout HeaderLayout) (*HeaderCodec, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if layout.Location == nil {
		layout.Location = time.UTC
	}

	var o headerOffsets
	o.length = contracts.TypeWidth
	o.sender = o.length + layout.LengthWidth
	o.receiver = o.sender + layout.SenderWidth
	o.sequence = o.receiver + layout.ReceiverWidth
	o.timestamp = o.sequence + layout.SequenceWidth
	o.errorCode = o.timestamp + contracts.TimestampWidth

	maxLen, _ := strconv.Atoi(strings.Repeat("9", layout.LengthWidth))

	return &HeaderCodec{layout: layout, offsets: o, maxLen: maxLen}, nil
}

// NewDefaultHeaderCodec creates a codec for DefaultHeaderLayout
func NewDefaultHeaderCodec() *HeaderCodec {
	c, _ := NewHeaderCodec(DefaultHeaderLayout())
	return c
}

// Layout returns the header layout
func (c *HeaderCodec) Layout() HeaderLayout {
	return c.layout
}

// Width returns the encoded header width, which is also the minimum telegram length
func (c *HeaderCodec) Width() int {
	return c.layout.Width()
}

// MaxLength returns the largest total length the length field can carry
func (c *HeaderCodec) MaxLength() int {
	return c.maxLen
}

// Decode parses the header at the start of b. Bytes beyond the header are ignored.
func (c *HeaderCodec) Decode(b []byte) (contracts.Header, error) {
	if len(b) < c.Width() {
		return contracts.Header{}, &contracts.MalformedHeaderError{
			Field:  "header",
			Offset: len(b),
			Reason: fmt.Sprintf("need %d bytes, got %d", c.Width(), len(b)),
		}
	}

	o := c.offsets
	var h contracts.Header

	typ := b[0:contracts.TypeWidth]
	if !typeIdentifier(typ) {
		return contracts.Header{}, &contracts.MalformedHeaderError{
			Field:  "type",
			Offset: 0,
			Reason: fmt.Sprintf("%q is not a %d character identifier", typ, contracts.TypeWidth),
		}
	}
	h.Type = string(typ)

	length, err := c.parseLength(b)
	if err != nil {
		return contracts.Header{}, err
	}
	h.Length = length

	if h.Sender, err = textField(b, "sender", o.sender, c.layout.SenderWidth); err != nil {
		return contracts.Header{}, err
	}
	if h.Receiver, err = textField(b, "receiver", o.receiver, c.layout.ReceiverWidth); err != nil {
		return contracts.Header{}, err
	}
	if h.Sequence, err = textField(b, "sequence", o.sequence, c.layout.SequenceWidth); err != nil {
		return contracts.Header{}, err
	}

	ts, err := parseTimestamp(b[o.timestamp:o.timestamp+contracts.TimestampWidth], c.layout.Location)
	if err != nil {
		return contracts.Header{}, &contracts.MalformedHeaderError{
			Field:  "timestamp",
			Offset: o.timestamp,
			Reason: err.Error(),
		}
	}
	h.Timestamp = ts

	if h.ErrorCode, err = textField(b, "errorCode", o.errorCode, contracts.ErrorCodeWidth); err != nil {
		return contracts.Header{}, err
	}

	return h, nil
}

// Encode writes the header. Text fields are padded or truncated to their width.
func (c *HeaderCodec) Encode(h contracts.Header) ([]byte, error) {
	if h.Length < 0 || h.Length > c.maxLen {
		return nil, fmt.Errorf("%w: %d does not fit %d digits", ErrLengthOverflow, h.Length, c.layout.LengthWidth)
	}
	if h.Timestamp.IsZero() {
		return nil, ErrMissingTimestamp
	}

	buf := make([]byte, 0, c.Width())
	buf = append(buf, fit(h.Type, contracts.TypeWidth)...)
	buf = append(buf, fmt.Sprintf("%0*d", c.layout.LengthWidth, h.Length)...)
	buf = append(buf, fit(h.Sender, c.layout.SenderWidth)...)
	buf = append(buf, fit(h.Receiver, c.layout.ReceiverWidth)...)
	buf = append(buf, fit(h.Sequence, c.layout.SequenceWidth)...)
	buf = append(buf, h.Timestamp.In(c.layout.Location).Format(contracts.TimestampLayout)...)
	buf = append(buf, fit(h.ErrorCode, contracts.ErrorCodeWidth)...)

	return buf, nil
}

// PeekLength reads only the type and length fields. Stream transports use it to
// frame telegrams before the full header has arrived.
func (c *HeaderCodec) PeekLength(b []byte) (int, error) {
	if len(b) < c.offsets.sender {
		return 0, &contracts.MalformedHeaderError{
			Field:  "length",
			Offset: len(b),
			Reason: fmt.Sprintf("need %d bytes, got %d", c.offsets.sender, len(b)),
		}
	}
	return c.parseLength(b)
}

// PrefixWidth is the number of bytes PeekLength needs
func (c *HeaderCodec) PrefixWidth() int {
	return c.offsets.sender
}

// Salvage extracts whatever routing and correlation fields are readable from a
// payload whose header failed to decode. It never fails.
func (c *HeaderCodec) Salvage(b []byte) contracts.Header {
	var h contracts.Header
	o := c.offsets

	if len(b) >= contracts.TypeWidth && typeIdentifier(b[:contracts.TypeWidth]) {
		h.Type = string(b[:contracts.TypeWidth])
	}
	h.Sender = salvageText(b, o.sender, c.layout.SenderWidth)
	h.Receiver = salvageText(b, o.receiver, c.layout.ReceiverWidth)
	h.Sequence = salvageText(b, o.sequence, c.layout.SequenceWidth)

	return h
}

func (c *HeaderCodec) parseLength(b []byte) (int, error) {
	raw := b[c.offsets.length:c.offsets.sender]
	if !digits(raw) {
		return 0, &contracts.MalformedHeaderError{
			Field:  "length",
			Offset: c.offsets.length,
			Reason: fmt.Sprintf("%q is not numeric", raw),
		}
	}
	n, _ := strconv.Atoi(string(raw))
	return n, nil
}

func textField(b []byte, name string, offset, width int) (string, error) {
	if width == 0 {
		return "", nil
	}
	raw := b[offset : offset+width]
	if !printable(raw) {
		return "", &contracts.MalformedHeaderError{
			Field:  name,
			Offset: offset,
			Reason: "contains non-printable bytes",
		}
	}
	return strings.TrimRight(string(raw), " "), nil
}

func salvageText(b []byte, offset, width int) string {
	if width == 0 || len(b) < offset+width {
		return ""
	}
	raw := b[offset : offset+width]
	if !printable(raw) {
		return ""
	}
	return strings.TrimRight(string(raw), " ")
}

// fit pads s with spaces or truncates it to width
func fit(s string, width int) []byte {
	if len(s) >= width {
		return []byte(s[:width])
	}
	return padRight([]byte(s), width, ' ')
}

// typeIdentifier reports whether b is a valid type identifier: printable and
// free of blanks
func typeIdentifier(b []byte) bool {
	if len(b) != contracts.TypeWidth {
		return false
	}
	for _, ch := range b {
		if ch <= 0x20 || ch >= 0x7f {
			return false
		}
	}
	return true
}

// ValidateType checks a type identifier before it enters the registry
func ValidateType(telegramType string) error {
	if !typeIdentifier([]byte(telegramType)) {
		return fmt.Errorf("osip: type identifier %q must be exactly %d printable non-blank characters",
			telegramType, contracts.TypeWidth)
	}
	return nil
}
