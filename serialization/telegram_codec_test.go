package serialization

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glimte/osip-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var receiptLayout = MustLayout("RCVA",
	StringField("barcode", 20),
	StringField("location", 20),
	NumericField("quantity", 6),
)

func newTestCodec(t *testing.T, layout HeaderLayout) *TelegramCodec {
	t.Helper()

	header, err := NewHeaderCodec(layout)
	require.NoError(t, err)

	builder := NewRegistryBuilder()
	require.NoError(t, builder.Register("RCVA", NewLayoutCodec(receiptLayout), true))
	require.NoError(t, builder.Register(contracts.AckType, AckCodec(), false))
	require.NoError(t, builder.Register(contracts.ErrorType, ErrorCodec(), false))

	return NewTelegramCodec(header, builder.Build())
}

func receiptBody() string {
	return fmt.Sprintf("%-20s%-20s%06d", "4711000000000001", "DOCK-01", 12)
}

func TestTelegramCodecDecode(t *testing.T) {
	t.Run("receipt with blank error code has no error code", func(t *testing.T) {
		codec := newTestCodec(t, HeaderLayout{LengthWidth: 5})
		body := receiptBody()
		length := codec.HeaderCodec().Width() + len(body)
		payload := fmt.Sprintf("RCVA%05d", length) + "20240101120000" + "        " + body

		tg, err := codec.Decode([]byte(payload))
		require.NoError(t, err)

		assert.Equal(t, "RCVA", tg.Type())
		assert.False(t, tg.HasErrorCode())
		assert.Equal(t, "", tg.ErrorCode())
		assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), tg.Created())

		rec, ok := tg.Body().(*Record)
		require.True(t, ok)
		assert.Equal(t, "4711000000000001", rec.Values.String("barcode"))
		assert.Equal(t, "DOCK-01", rec.Values.String("location"))
		assert.Equal(t, uint64(12), rec.Values.Uint("quantity"))
	})

	t.Run("short input fails header decode", func(t *testing.T) {
		codec := newTestCodec(t, DefaultHeaderLayout())

		_, err := codec.Decode([]byte("RCVA0"))
		var headerErr *contracts.MalformedHeaderError
		require.ErrorAs(t, err, &headerErr)
		assert.Equal(t, "header", headerErr.Field)
	})

	t.Run("length mismatch", func(t *testing.T) {
		codec := newTestCodec(t, DefaultHeaderLayout())
		payload := "RCVA00099" + "00001" + "20240101120000" + "        " + receiptBody()

		_, err := codec.Decode([]byte(payload))
		var headerErr *contracts.MalformedHeaderError
		require.ErrorAs(t, err, &headerErr)
		assert.Equal(t, "length", headerErr.Field)
		assert.Equal(t, 4, headerErr.Offset)
	})

	t.Run("unknown type", func(t *testing.T) {
		codec := newTestCodec(t, DefaultHeaderLayout())
		payload := "XXXX00036" + "00007" + "20240101120000" + "        "

		_, err := codec.Decode([]byte(payload))
		var unknown *contracts.UnknownTelegramTypeError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "XXXX", unknown.Type)
	})

	t.Run("malformed body", func(t *testing.T) {
		codec := newTestCodec(t, DefaultHeaderLayout())
		body := fmt.Sprintf("%-20s%-20s%6s", "4711", "DOCK-01", "12 ")
		payload := fmt.Sprintf("RCVA%05d", 36+len(body)) + "00001" + "20240101120000" + "        " + body

		_, err := codec.Decode([]byte(payload))
		var bodyErr *contracts.MalformedBodyError
		require.ErrorAs(t, err, &bodyErr)
		assert.Equal(t, "RCVA", bodyErr.Type)
		assert.Equal(t, "quantity", bodyErr.Field)
		assert.Equal(t, 40, bodyErr.Offset)
	})

	t.Run("foreign codec errors become body errors", func(t *testing.T) {
		header := NewDefaultHeaderCodec()
		builder := NewRegistryBuilder()
		require.NoError(t, builder.Register("FAIL", failingCodec{}, false))
		codec := NewTelegramCodec(header, builder.Build())

		payload := "FAIL00036" + "00001" + "20240101120000" + "        "
		_, err := codec.Decode([]byte(payload))
		var bodyErr *contracts.MalformedBodyError
		require.ErrorAs(t, err, &bodyErr)
		assert.Equal(t, "FAIL", bodyErr.Type)
		assert.Contains(t, bodyErr.Reason, "broken")
	})
}

func TestTelegramCodecEncode(t *testing.T) {
	codec := newTestCodec(t, DefaultHeaderLayout())

	t.Run("round trip", func(t *testing.T) {
		rec := &Record{Type: "RCVA", Values: Values{
			"barcode":  "4711000000000001",
			"location": "DOCK-01",
			"quantity": uint64(12),
		}}
		tg := contracts.New(rec, contracts.WithSequence("00042"), contracts.WithCreated(fixedTime))

		b, err := codec.Encode(tg)
		require.NoError(t, err)
		assert.Len(t, b, 36+receiptLayout.Width())
		assert.True(t, strings.HasPrefix(string(b), "RCVA0008200042"+"20240315103045"+"        "))

		decoded, err := codec.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, "00042", decoded.Sequence())
		assert.Equal(t, fixedTime, decoded.Created())
		assert.Equal(t, rec.Values, decoded.Body().(*Record).Values)

		again, err := codec.Encode(decoded)
		require.NoError(t, err)
		assert.Equal(t, b, again)
	})

	t.Run("encoding twice is identical", func(t *testing.T) {
		tg := contracts.New(&Record{Type: "RCVA", Values: Values{"barcode": "A"}})

		first, err := codec.Encode(tg)
		require.NoError(t, err)
		second, err := codec.Encode(tg)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("error reply carries code in header", func(t *testing.T) {
		request := contracts.Header{Type: "XXXX", Sequence: "00007"}
		tg := contracts.NewErrorReply(request, contracts.CodeUnknownType,
			contracts.ErrorBody{OriginalType: "XXXX", Detail: "unknown telegram type"},
			contracts.WithCreated(fixedTime))

		b, err := codec.Encode(tg)
		require.NoError(t, err)
		assert.Len(t, b, 36+contracts.TypeWidth+ErrorDetailWidth)

		decoded, err := codec.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, contracts.ErrorType, decoded.Type())
		assert.Equal(t, contracts.CodeUnknownType, decoded.ErrorCode())
		assert.Equal(t, "00007", decoded.Sequence())

		body := decoded.Body().(contracts.ErrorBody)
		assert.Equal(t, "XXXX", body.OriginalType)
		assert.Equal(t, "unknown telegram type", body.Detail)
	})

	t.Run("error detail is cut to fit", func(t *testing.T) {
		tg := contracts.NewErrorReply(contracts.Header{}, contracts.CodeHandler,
			contracts.ErrorBody{OriginalType: "RCVA", Detail: strings.Repeat("x", 100) + "\n"})

		b, err := codec.Encode(tg)
		require.NoError(t, err)
		assert.Len(t, b, 36+contracts.TypeWidth+ErrorDetailWidth)
	})

	t.Run("unregistered body type", func(t *testing.T) {
		_, err := codec.Encode(contracts.New(&Record{Type: "NOPE"}))
		var unknown *contracts.UnknownTelegramTypeError
		assert.ErrorAs(t, err, &unknown)
	})

	t.Run("body overflow is an error", func(t *testing.T) {
		tg := contracts.New(&Record{Type: "RCVA", Values: Values{"quantity": uint64(1234567)}})
		_, err := codec.Encode(tg)
		var bodyErr *contracts.MalformedBodyError
		assert.ErrorAs(t, err, &bodyErr)
	})

	t.Run("wrong body type for codec", func(t *testing.T) {
		_, err := AckCodec().EncodeBody(contracts.ErrorBody{})
		assert.ErrorIs(t, err, ErrBodyType)
	})
}

func TestTelegramCodecBodyTimeZone(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	layout := DefaultHeaderLayout()
	layout.Location = cet

	header, err := NewHeaderCodec(layout)
	require.NoError(t, err)
	builder := NewRegistryBuilder()
	require.NoError(t, builder.Register("STMP", NewLayoutCodec(MustLayout("STMP", TimeField("at"))), false))
	codec := NewTelegramCodec(header, builder.Build())

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	b, err := codec.Encode(contracts.New(&Record{Type: "STMP", Values: Values{"at": at}},
		contracts.WithSequence("00001"), contracts.WithCreated(at)))
	require.NoError(t, err)

	assert.Equal(t, "20240101130000", string(b[14:28]))
	assert.Equal(t, "20240101130000", string(b[header.Width():]))

	decoded, err := codec.Decode(b)
	require.NoError(t, err)
	body := decoded.Body().(*Record).Values.Time("at")
	assert.True(t, at.Equal(body))
	assert.Equal(t, cet, body.Location())

	v, err := codec.Registry().Lookup("STMP")
	require.NoError(t, err)
	assert.Equal(t, cet, v.Codec.(*LayoutCodec).Layout().Location())
}

type failingCodec struct{}

func (failingCodec) DecodeBody(contracts.Header, []byte) (contracts.Body, error) {
	return nil, errors.New("broken decoder")
}

func (failingCodec) EncodeBody(contracts.Body) ([]byte, error) {
	return nil, errors.New("broken encoder")
}

func TestTelegramCodecBuiltinReplies(t *testing.T) {
	codec := NewTelegramCodec(NewDefaultHeaderCodec(), NewRegistryBuilder().Build())

	b, err := codec.Encode(contracts.NewErrorReply(contracts.Header{Sequence: "1"}, contracts.CodeMalformedHeader,
		contracts.ErrorBody{Detail: "bad header"}))
	require.NoError(t, err)
	assert.Equal(t, "ERR_", string(b[:4]))
	assert.Equal(t, "EHEADER ", string(b[28:36]))

	b, err = codec.Encode(contracts.New(contracts.AckBody{AcknowledgedType: "UPD_"}))
	require.NoError(t, err)
	assert.Equal(t, "UPD_", string(b[36:]))
}
