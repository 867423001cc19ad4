package contracts

// Type identifiers of the bodies the dispatcher synthesizes itself
const (
	AckType   = "ACK_"
	ErrorType = "ERR_"
)

// AckBody acknowledges a telegram whose handler produced no explicit reply
type AckBody struct {
	AcknowledgedType string
}

// TelegramType implements Body
func (AckBody) TelegramType() string {
	return AckType
}

// ErrorBody is the body of an error telegram. The error code itself travels in
// the header.
type ErrorBody struct {
	OriginalType string
	Detail       string
}

// TelegramType implements Body
func (ErrorBody) TelegramType() string {
	return ErrorType
}
