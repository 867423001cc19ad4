package serialization

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glimte/osip-go/contracts"
)

var (
	// ErrInvalidLayout is returned for layouts that cannot describe a fixed-width body
	ErrInvalidLayout = errors.New("osip: invalid field layout")
	// ErrBodyType is returned when a codec is handed a body of the wrong type
	ErrBodyType = errors.New("osip: unexpected body type")
)

// maxNumericWidth keeps numeric fields inside uint64
const maxNumericWidth = 19

// Kind is the encoding of a fixed-width field
type Kind int

const (
	// KindString is left aligned and padded with spaces
	KindString Kind = iota
	// KindNullString is left aligned and padded with NUL bytes
	KindNullString
	// KindNumeric is an unsigned number, right aligned and zero padded
	KindNumeric
	// KindTime is a YYYYMMDDHHmmss timestamp
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNullString:
		return "nullstring"
	case KindNumeric:
		return "numeric"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// ParseKind parses the textual form used in variant tables
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "":
		return KindString, nil
	case "nullstring":
		return KindNullString, nil
	case "numeric", "number":
		return KindNumeric, nil
	case "time", "timestamp":
		return KindTime, nil
	default:
		return 0, fmt.Errorf("%w: unknown field kind %q", ErrInvalidLayout, s)
	}
}

// Field is one fixed-width field of a body
type Field struct {
	Name  string
	Kind  Kind
	Width int
}

// StringField declares a space padded text field
func StringField(name string, width int) Field {
	return Field{Name: name, Kind: KindString, Width: width}
}

// NullStringField declares a NUL padded text field
func NullStringField(name string, width int) Field {
	return Field{Name: name, Kind: KindNullString, Width: width}
}

// NumericField declares a zero padded unsigned number
func NumericField(name string, width int) Field {
	return Field{Name: name, Kind: KindNumeric, Width: width}
}

// TimeField declares a 14 digit timestamp
func TimeField(name string) Field {
	return Field{Name: name, Kind: KindTime, Width: contracts.TimestampWidth}
}

// Layout is the ordered field list of one telegram variant
type Layout struct {
	Type   string
	Fields []Field
	width  int
	loc    *time.Location
}

// In returns a copy of the layout that reads and writes time fields in loc
// instead of UTC.
func (l Layout) In(loc *time.Location) Layout {
	l.loc = loc
	return l
}

// Location returns the zone of the layout's time fields
func (l Layout) Location() *time.Location {
	if l.loc == nil {
		return time.UTC
	}
	return l.loc
}

// NewLayout validates and builds a layout
func NewLayout(telegramType string, fields ...Field) (Layout, error) {
	seen := make(map[string]bool, len(fields))
	width := 0

	for i, f := range fields {
		if f.Name == "" {
			return Layout{}, fmt.Errorf("%w: field %d of %s has no name", ErrInvalidLayout, i, telegramType)
		}
		if seen[f.Name] {
			return Layout{}, fmt.Errorf("%w: duplicate field %s in %s", ErrInvalidLayout, f.Name, telegramType)
		}
		seen[f.Name] = true

		if f.Width <= 0 {
			return Layout{}, fmt.Errorf("%w: field %s of %s must have a positive width", ErrInvalidLayout, f.Name, telegramType)
		}
		switch f.Kind {
		case KindNumeric:
			if f.Width > maxNumericWidth {
				return Layout{}, fmt.Errorf("%w: numeric field %s is wider than %d", ErrInvalidLayout, f.Name, maxNumericWidth)
			}
		case KindTime:
			if f.Width != contracts.TimestampWidth {
				return Layout{}, fmt.Errorf("%w: time field %s must be %d wide", ErrInvalidLayout, f.Name, contracts.TimestampWidth)
			}
		case KindString, KindNullString:
		default:
			return Layout{}, fmt.Errorf("%w: field %s has unknown kind %d", ErrInvalidLayout, f.Name, f.Kind)
		}
		width += f.Width
	}

	return Layout{Type: telegramType, Fields: fields, width: width}, nil
}

// MustLayout is NewLayout for package level declarations
func MustLayout(telegramType string, fields ...Field) Layout {
	l, err := NewLayout(telegramType, fields...)
	if err != nil {
		panic(err)
	}
	return l
}

// Width returns the sum of all field widths
func (l Layout) Width() int {
	return l.width
}

// Values holds decoded field values by name: string for text fields, uint64 for
// numeric fields and time.Time for timestamps.
type Values map[string]any

// String returns a text field value
func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

// Uint returns a numeric field value
func (v Values) Uint(name string) uint64 {
	n, _ := v[name].(uint64)
	return n
}

// Time returns a timestamp field value
func (v Values) Time(name string) time.Time {
	t, _ := v[name].(time.Time)
	return t
}

// Decode consumes exactly the declared widths in order
func (l Layout) Decode(b []byte) (Values, error) {
	if len(b) < l.width {
		field, offset := l.fieldAt(len(b))
		return nil, l.bodyError(field, offset, fmt.Sprintf("body is %d bytes, layout needs %d", len(b), l.width))
	}
	if len(b) > l.width {
		return nil, l.bodyError("", l.width, fmt.Sprintf("%d unexpected trailing bytes", len(b)-l.width))
	}

	values := make(Values, len(l.Fields))
	offset := 0
	for _, f := range l.Fields {
		raw := b[offset : offset+f.Width]
		v, reason := decodeField(f, raw, l.Location())
		if reason != "" {
			return nil, l.bodyError(f.Name, offset, reason)
		}
		values[f.Name] = v
		offset += f.Width
	}

	return values, nil
}

// Encode writes values in layout order. Missing text and numeric values encode
// as blanks and zeros; a missing timestamp is an error.
func (l Layout) Encode(values Values) ([]byte, error) {
	buf := make([]byte, 0, l.width)
	offset := 0

	for _, f := range l.Fields {
		out, reason := encodeField(f, values[f.Name], l.Location())
		if reason != "" {
			return nil, l.bodyError(f.Name, offset, reason)
		}
		buf = append(buf, out...)
		offset += f.Width
	}

	return buf, nil
}

func (l Layout) fieldAt(offset int) (string, int) {
	start := 0
	for _, f := range l.Fields {
		if offset < start+f.Width {
			return f.Name, start
		}
		start += f.Width
	}
	return "", offset
}

func (l Layout) bodyError(field string, offset int, reason string) error {
	if field == "" {
		field = "body"
	}
	return &contracts.MalformedBodyError{
		Type:   l.Type,
		Field:  field,
		Offset: offset,
		Reason: reason,
	}
}

func decodeField(f Field, raw []byte, loc *time.Location) (any, string) {
	switch f.Kind {
	case KindString:
		if !printable(raw) {
			return nil, "contains non-printable bytes"
		}
		return strings.TrimRight(string(raw), " "), ""

	case KindNullString:
		trimmed := bytes.TrimRight(raw, "\x00")
		if bytes.IndexByte(trimmed, 0) >= 0 {
			return nil, "embedded NUL before end of value"
		}
		if !printable(trimmed) {
			return nil, "contains non-printable bytes"
		}
		return string(trimmed), ""

	case KindNumeric:
		if !digits(raw) {
			return nil, fmt.Sprintf("%q is not numeric", raw)
		}
		n, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return nil, err.Error()
		}
		return n, ""

	case KindTime:
		t, err := parseTimestamp(raw, loc)
		if err != nil {
			return nil, err.Error()
		}
		return t, ""
	}

	return nil, "unknown field kind"
}

func encodeField(f Field, v any, loc *time.Location) ([]byte, string) {
	switch f.Kind {
	case KindString, KindNullString:
		var s string
		switch val := v.(type) {
		case nil:
		case string:
			s = val
		default:
			return nil, fmt.Sprintf("expected string, got %T", v)
		}
		if len(s) > f.Width {
			return nil, fmt.Sprintf("value %q exceeds width %d", s, f.Width)
		}
		if !printable([]byte(s)) {
			return nil, "contains non-printable bytes"
		}
		pad := byte(' ')
		if f.Kind == KindNullString {
			pad = 0
		}
		return padRight([]byte(s), f.Width, pad), ""

	case KindNumeric:
		n, ok := toUint(v)
		if !ok {
			return nil, fmt.Sprintf("expected unsigned number, got %T", v)
		}
		s := strconv.FormatUint(n, 10)
		if len(s) > f.Width {
			return nil, fmt.Sprintf("value %d exceeds width %d", n, f.Width)
		}
		return []byte(strings.Repeat("0", f.Width-len(s)) + s), ""

	case KindTime:
		t, ok := v.(time.Time)
		if !ok || t.IsZero() {
			return nil, "timestamp missing"
		}
		return []byte(t.In(loc).Format(contracts.TimestampLayout)), ""
	}

	return nil, "unknown field kind"
}

func toUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case uint:
		return uint64(n), true
	case int:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case int32:
		return uint64(n), n >= 0
	}
	return 0, false
}

func padRight(b []byte, width int, pad byte) []byte {
	out := make([]byte, width)
	n := copy(out, b)
	for i := n; i < width; i++ {
		out[i] = pad
	}
	return out
}

func printable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}

func digits(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func parseTimestamp(raw []byte, loc *time.Location) (time.Time, error) {
	if len(raw) != contracts.TimestampWidth || !digits(raw) {
		return time.Time{}, fmt.Errorf("%q is not a %d digit timestamp", raw, contracts.TimestampWidth)
	}
	t, err := time.ParseInLocation(contracts.TimestampLayout, string(raw), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a valid timestamp", raw)
	}
	return t, nil
}
