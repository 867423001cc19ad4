package telegrams

import (
	"fmt"
	"time"

	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/serialization"
)

// Type identifiers of the standard variants
const (
	RequestType             = "REQ_"
	ResponseType            = "RES_"
	UpdateType              = "UPD_"
	ReceiptAnnouncementType = "RCVA"
	TimeSyncRequestType     = "SYNQ"
	TimeSyncResponseType    = "SYNR"
)

// Width of barcode and location fields
const (
	BarcodeWidth  = 20
	LocationWidth = 20
	QuantityWidth = 6
)

// Request asks the host for the destination of a transport unit
type Request struct {
	Barcode        string
	ActualLocation string
	LocationGroup  string
}

// TelegramType implements contracts.Body
func (Request) TelegramType() string { return RequestType }

// Response carries the destination decided for a transport unit
type Response struct {
	Barcode             string
	ActualLocation      string
	TargetLocation      string
	TargetLocationGroup string
}

// TelegramType implements contracts.Body
func (Response) TelegramType() string { return ResponseType }

// Update reports that a transport unit reached a location
type Update struct {
	Barcode        string
	ActualLocation string
	LocationGroup  string
}

// TelegramType implements contracts.Body
func (Update) TelegramType() string { return UpdateType }

// ReceiptAnnouncement announces goods arriving at a receiving location
type ReceiptAnnouncement struct {
	Barcode  string
	Location string
	Quantity uint64
}

// TelegramType implements contracts.Body
func (ReceiptAnnouncement) TelegramType() string { return ReceiptAnnouncementType }

// TimeSyncRequest asks the peer for its clock
type TimeSyncRequest struct {
	SenderTime time.Time
}

// TelegramType implements contracts.Body
func (TimeSyncRequest) TelegramType() string { return TimeSyncRequestType }

// TimeSyncResponse answers a TimeSyncRequest
type TimeSyncResponse struct {
	SenderTime   time.Time
	ReceiverTime time.Time
}

// TelegramType implements contracts.Body
func (TimeSyncResponse) TelegramType() string { return TimeSyncResponseType }

var (
	requestLayout = serialization.MustLayout(RequestType,
		serialization.StringField("barcode", BarcodeWidth),
		serialization.StringField("actualLocation", LocationWidth),
		serialization.StringField("locationGroup", LocationWidth),
	)

	responseLayout = serialization.MustLayout(ResponseType,
		serialization.StringField("barcode", BarcodeWidth),
		serialization.StringField("actualLocation", LocationWidth),
		serialization.StringField("targetLocation", LocationWidth),
		serialization.StringField("targetLocationGroup", LocationWidth),
	)

	updateLayout = serialization.MustLayout(UpdateType,
		serialization.StringField("barcode", BarcodeWidth),
		serialization.StringField("actualLocation", LocationWidth),
		serialization.StringField("locationGroup", LocationWidth),
	)

	receiptLayout = serialization.MustLayout(ReceiptAnnouncementType,
		serialization.StringField("barcode", BarcodeWidth),
		serialization.StringField("location", LocationWidth),
		serialization.NumericField("quantity", QuantityWidth),
	)

	syncRequestLayout = serialization.MustLayout(TimeSyncRequestType,
		serialization.TimeField("senderTime"),
	)

	syncResponseLayout = serialization.MustLayout(TimeSyncResponseType,
		serialization.TimeField("senderTime"),
		serialization.TimeField("receiverTime"),
	)
)

// RequestCodec returns the REQ_ body codec
func RequestCodec() serialization.Codec {
	return serialization.NewMappedCodec(requestLayout,
		func(b Request) serialization.Values {
			return serialization.Values{
				"barcode":        b.Barcode,
				"actualLocation": b.ActualLocation,
				"locationGroup":  b.LocationGroup,
			}
		},
		func(v serialization.Values) Request {
			return Request{
				Barcode:        v.String("barcode"),
				ActualLocation: v.String("actualLocation"),
				LocationGroup:  v.String("locationGroup"),
			}
		},
	)
}

// ResponseCodec returns the RES_ body codec
func ResponseCodec() serialization.Codec {
	return serialization.NewMappedCodec(responseLayout,
		func(b Response) serialization.Values {
			return serialization.Values{
				"barcode":             b.Barcode,
				"actualLocation":      b.ActualLocation,
				"targetLocation":      b.TargetLocation,
				"targetLocationGroup": b.TargetLocationGroup,
			}
		},
		func(v serialization.Values) Response {
			return Response{
				Barcode:             v.String("barcode"),
				ActualLocation:      v.String("actualLocation"),
				TargetLocation:      v.String("targetLocation"),
				TargetLocationGroup: v.String("targetLocationGroup"),
			}
		},
	)
}

// UpdateCodec returns the UPD_ body codec
func UpdateCodec() serialization.Codec {
	return serialization.NewMappedCodec(updateLayout,
		func(b Update) serialization.Values {
			return serialization.Values{
				"barcode":        b.Barcode,
				"actualLocation": b.ActualLocation,
				"locationGroup":  b.LocationGroup,
			}
		},
		func(v serialization.Values) Update {
			return Update{
				Barcode:        v.String("barcode"),
				ActualLocation: v.String("actualLocation"),
				LocationGroup:  v.String("locationGroup"),
			}
		},
	)
}

// ReceiptAnnouncementCodec returns the RCVA body codec
func ReceiptAnnouncementCodec() serialization.Codec {
	return serialization.NewMappedCodec(receiptLayout,
		func(b ReceiptAnnouncement) serialization.Values {
			return serialization.Values{
				"barcode":  b.Barcode,
				"location": b.Location,
				"quantity": b.Quantity,
			}
		},
		func(v serialization.Values) ReceiptAnnouncement {
			return ReceiptAnnouncement{
				Barcode:  v.String("barcode"),
				Location: v.String("location"),
				Quantity: v.Uint("quantity"),
			}
		},
	)
}

// TimeSyncRequestCodec returns the SYNQ body codec
func TimeSyncRequestCodec() serialization.Codec {
	return serialization.NewMappedCodec(syncRequestLayout,
		func(b TimeSyncRequest) serialization.Values {
			return serialization.Values{"senderTime": b.SenderTime}
		},
		func(v serialization.Values) TimeSyncRequest {
			return TimeSyncRequest{SenderTime: v.Time("senderTime")}
		},
	)
}

// TimeSyncResponseCodec returns the SYNR body codec
func TimeSyncResponseCodec() serialization.Codec {
	return serialization.NewMappedCodec(syncResponseLayout,
		func(b TimeSyncResponse) serialization.Values {
			return serialization.Values{
				"senderTime":   b.SenderTime,
				"receiverTime": b.ReceiverTime,
			}
		},
		func(v serialization.Values) TimeSyncResponse {
			return TimeSyncResponse{
				SenderTime:   v.Time("senderTime"),
				ReceiverTime: v.Time("receiverTime"),
			}
		},
	)
}

type standardVariant struct {
	telegramType  string
	codec         func() serialization.Codec
	requiresReply bool
	description   string
}

var standard = []standardVariant{
	{RequestType, RequestCodec, true, "destination request for a transport unit"},
	{ResponseType, ResponseCodec, false, "destination decided by the host"},
	{UpdateType, UpdateCodec, true, "transport unit arrived at a location"},
	{ReceiptAnnouncementType, ReceiptAnnouncementCodec, true, "goods receipt announcement"},
	{TimeSyncRequestType, TimeSyncRequestCodec, true, "clock synchronisation request"},
	{TimeSyncResponseType, TimeSyncResponseCodec, false, "clock synchronisation response"},
	{contracts.AckType, serialization.AckCodec, false, "acknowledge"},
	{contracts.ErrorType, serialization.ErrorCodec, false, "error report"},
}

// Register adds every standard variant to builder
func Register(builder *serialization.RegistryBuilder) error {
	for _, v := range standard {
		if err := builder.Register(v.telegramType, v.codec(), v.requiresReply,
			serialization.WithDescription(v.description)); err != nil {
			return fmt.Errorf("failed to register %s: %w", v.telegramType, err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding only the standard variants
func NewRegistry() (*serialization.Registry, error) {
	builder := serialization.NewRegistryBuilder()
	if err := Register(builder); err != nil {
		return nil, err
	}
	return builder.Build(), nil
}

// Types lists the standard type identifiers in registration order
func Types() []string {
	types := make([]string, len(standard))
	for i, v := range standard {
		types[i] = v.telegramType
	}
	return types
}
