package contracts

import (
	"fmt"
	"time"
)

// Fixed field widths of the OSIP header
const (
	TypeWidth      = 4
	TimestampWidth = 14
	ErrorCodeWidth = 8

	// TimestampLayout is the wire format of the header timestamp (YYYYMMDDHHmmss)
	TimestampLayout = "20060102150405"
)

// Header is the fixed-length part in front of every telegram body.
type Header struct {
	// Type is the case-sensitive message identifier, always TypeWidth characters
	Type string
	// Length is the total encoded telegram length, header included
	Length int
	// Sender and Receiver identify the subsystems; empty when the layout disables them
	Sender   string
	Receiver string
	// Sequence is the optional correlation token; empty means absent
	Sequence string
	// Timestamp is the wire timestamp, second precision
	Timestamp time.Time
	// ErrorCode is empty unless the telegram reports a failure
	ErrorCode string
}

// HasErrorCode reports whether the header carries an error code
func (h Header) HasErrorCode() bool {
	return h.ErrorCode != ""
}

// ReplyHeader returns the header skeleton for a reply: routing fields are swapped and the
// sequence is echoed. Length, timestamp and error code are filled in when encoding.
func (h Header) ReplyHeader(replyType string) Header {
	return Header{
		Type:     replyType,
		Sender:   h.Receiver,
		Receiver: h.Sender,
		Sequence: h.Sequence,
	}
}

func (h Header) String() string {
	return fmt.Sprintf("Header{type=%q len=%d sender=%q receiver=%q seq=%q ts=%s err=%q}",
		h.Type, h.Length, h.Sender, h.Receiver, h.Sequence,
		h.Timestamp.Format(TimestampLayout), h.ErrorCode)
}
