// Package contracts defines the OSIP telegram model shared by the codecs, the
// dispatcher and the transports.
//
// This package contains:
//   - Header: the fixed-length part in front of every telegram
//   - Telegram: a header plus a variant-specific Body
//   - AckBody and ErrorBody: the bodies the dispatcher synthesizes on its own
//   - Error kinds carrying the 8-character wire error code
//
// Telegrams are immutable after construction. Error replies are the only
// telegrams constructed with an error code; see NewErrorReply.
package contracts
