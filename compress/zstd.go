package compress

// ZstdCompressor provides Zstandard compression.
//
// Zstd beats DEFLATE on long transcripts but every frame carries a header of
// several bytes, so on short states Flate usually wins. The pure-Go
// implementation is used by default; build with the zstd_cgo tag to link the
// C library instead.
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a new Zstd compressor with default settings.
//
// Example:
//
//	compressor := NewZstdCompressor()
//	compressed, err := compressor.Compress(data)
//	if err != nil {
//		return err
//	}
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}
