// Package compress provides the general-purpose byte compressors used by the
// urlstate pipeline after dictionary tokenization.
//
// The codecs here know nothing about dictionaries or state: they take bytes
// and return bytes, and every one satisfies decompress(compress(b)) == b. That
// keeps the stage independently testable and lets it carry ordinary prose that
// contains no domain vocabulary at all.
//
// # Supported Algorithms
//
//   - Flate (format.CompressionFlate): raw DEFLATE, the default. Lowest
//     per-payload overhead, which matters for fragments of a few hundred bytes.
//   - Zstd (format.CompressionZstd): better ratio on long transcripts, larger frame header.
//   - S2 (format.CompressionS2): fastest, weakest ratio on short text.
//   - LZ4 (format.CompressionLZ4): block format, no frame header.
//   - None (format.CompressionNone): pass-through, for debugging fragments.
//
// # Hostile input
//
// A fragment arrives from an untrusted URL. Every Decompress implementation
// refuses to produce more than MaxDecompressedSize bytes and reports
// errs.ErrPayloadTooLarge instead, so a tiny crafted fragment cannot expand
// into an arbitrarily large allocation. Malformed input is reported as
// errs.ErrCorruptPayload.
//
// # Usage
//
//	codec, err := compress.GetCodec(format.CompressionFlate)
//	if err != nil {
//	    return err
//	}
//	packed, err := codec.Compress(tokenized)
//	...
//	original, err := codec.Decompress(packed)
package compress
