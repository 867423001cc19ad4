// Package serialization reads and writes OSIP telegrams.
//
// A telegram is a fixed-length header followed by a fixed-width body. The
// HeaderCodec handles the header; each registered Variant carries a Codec for
// its body, usually a MappedCodec over a Layout. TelegramCodec ties both
// together through an immutable Registry built once at start-up.
package serialization
