// Package frame defines the versioned envelope that wraps a compressed state
// payload and its URL-fragment text encoding.
//
// # Envelope Layouts
//
// V1 (format byte 0x01), payload is always raw DEFLATE:
//
//	Bytes  | Field              | Type
//	-------|--------------------|----------------------
//	0      | format version     | u8 (0x01)
//	1..    | dictionary version | uvarint
//	+0     | dictionary id len  | u8
//	+1..   | dictionary id      | bytes
//	rest   | payload            | bytes
//
// V2 (format byte 0x02), written by default:
//
//	Bytes  | Field              | Type
//	-------|--------------------|----------------------
//	0      | format version     | u8 (0x02)
//	1      | compression        | u8 (format.CompressionType)
//	2..    | dictionary version | uvarint
//	+0     | dictionary id len  | u8
//	+1..   | dictionary id      | bytes
//	+0..3  | checksum           | u32 little-endian
//	rest   | payload            | bytes
//
// The V2 checksum is the low 32 bits of xxHash64 over the tokenized bytes
// before compression; the decoder verifies it after decompressing.
//
// # Text Encoding
//
// The envelope bytes are written as RFC 4648 base64url without padding. The
// alphabet is A-Z a-z 0-9 '-' '_': nothing needs percent-escaping and none of
// the router's separators ('#', '/', '?', '&', '=', '!') can appear. Decoding
// is strict, so any character outside the alphabet, a dangling trailing
// character or non-canonical trailing bits are rejected.
//
// Every rejection is an *errs.FrameError; a decoder never guesses at a
// version it does not know.
package frame
