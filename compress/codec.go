package compress

import (
	"fmt"

	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/format"
)

// MaxDecompressedSize bounds the output of every Decompress call.
//
// Real fragments stay below a few kilobytes; 1 MiB leaves room for very long
// transcripts while keeping a crafted fragment from exhausting memory.
const MaxDecompressedSize = 1 << 20

// Compressor compresses a tokenized state payload.
type Compressor interface {
	// Compress compresses the input data and returns the compressed result.
	//
	// Memory management:
	//   - Returned slice is newly allocated and owned by the caller (except for NoOpCompressor)
	//   - Input slice is not modified
	//   - Empty input yields empty output
	Compress(data []byte) ([]byte, error)
}

// Decompressor reverses a Compressor.
//
// Implementations must be safe for concurrent use.
type Decompressor interface {
	// Decompress decompresses the input data and returns the original result.
	//
	// Error conditions:
	//   - errs.ErrCorruptPayload if the input is not a valid stream for this algorithm
	//   - errs.ErrPayloadTooLarge if the output would exceed MaxDecompressedSize
	Decompress(data []byte) ([]byte, error)
}

// Codec combines both compression and decompression capabilities.
type Codec interface {
	Compressor
	Decompressor
}

// CompressionStats describes one compression of a payload.
type CompressionStats struct {
	// Algorithm identifies the compression algorithm used
	Algorithm format.CompressionType

	// OriginalSize is the size of input data before compression
	OriginalSize int64

	// CompressedSize is the size of data after compression
	CompressedSize int64
}

// CompressionRatio returns the compression ratio (compressed size / original size).
//
// Values below 1.0 mean the payload shrank. Returns 0.0 if the original size is zero.
func (s CompressionStats) CompressionRatio() float64 {
	if s.OriginalSize == 0 {
		return 0.0
	}

	return float64(s.CompressedSize) / float64(s.OriginalSize)
}

// SpaceSavings returns the space savings as a percentage; negative values mean the payload grew.
func (s CompressionStats) SpaceSavings() float64 {
	return (1.0 - s.CompressionRatio()) * 100.0
}

// Measure compresses data with the codec for compressionType and reports the sizes.
func Measure(compressionType format.CompressionType, data []byte) (CompressionStats, error) {
	codec, err := GetCodec(compressionType)
	if err != nil {
		return CompressionStats{}, err
	}

	compressed, err := codec.Compress(data)
	if err != nil {
		return CompressionStats{}, err
	}

	return CompressionStats{
		Algorithm:      compressionType,
		OriginalSize:   int64(len(data)),
		CompressedSize: int64(len(compressed)),
	}, nil
}

// CreateCodec returns a new Codec for compressionType.
//
// target names the setting being configured and only appears in the error,
// which wraps errs.ErrInvalidConfig for an unknown type.
func CreateCodec(compressionType format.CompressionType, target string) (Codec, error) {
	switch compressionType {
	case format.CompressionNone:
		return NewNoOpCompressor(), nil
	case format.CompressionZstd:
		return NewZstdCompressor(), nil
	case format.CompressionS2:
		return NewS2Compressor(), nil
	case format.CompressionLZ4:
		return NewLZ4Compressor(), nil
	case format.CompressionFlate:
		return NewFlateCompressor(), nil
	default:
		return nil, fmt.Errorf("%w: invalid %s compression: %s", errs.ErrInvalidConfig, target, compressionType)
	}
}

var builtinCodecs = map[format.CompressionType]Codec{
	format.CompressionNone:  NewNoOpCompressor(),
	format.CompressionZstd:  NewZstdCompressor(),
	format.CompressionS2:    NewS2Compressor(),
	format.CompressionLZ4:   NewLZ4Compressor(),
	format.CompressionFlate: NewFlateCompressor(),
}

// GetCodec returns the shared Codec for compressionType. Shared codecs are safe for concurrent use.
func GetCodec(compressionType format.CompressionType) (Codec, error) {
	if codec, ok := builtinCodecs[compressionType]; ok {
		return codec, nil
	}

	return nil, fmt.Errorf("%w: unsupported compression type: %s", errs.ErrInvalidConfig, compressionType)
}

func corrupt(algorithm string, err error) error {
	return fmt.Errorf("%w: %s: %w", errs.ErrCorruptPayload, algorithm, err)
}

func tooLarge(algorithm string, size int) error {
	return fmt.Errorf("%w: %s output %d bytes exceeds %d", errs.ErrPayloadTooLarge, algorithm, size, MaxDecompressedSize)
}
