//go:build zstd_cgo

package compress

import (
	"bytes"
	"io"

	"github.com/valyala/gozstd"
)

// Compress compresses the input data using Zstandard compression.
func (c ZstdCompressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	return gozstd.CompressLevel(nil, data, 19), nil
}

// Decompress decompresses Zstd-compressed data, stopping at MaxDecompressedSize.
func (c ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	zr := gozstd.NewReader(bytes.NewReader(data))
	defer zr.Release()

	out, err := io.ReadAll(io.LimitReader(zr, MaxDecompressedSize+1))
	if err != nil {
		return nil, corrupt("zstd", err)
	}
	if len(out) > MaxDecompressedSize {
		return nil, tooLarge("zstd", len(out))
	}

	return out, nil
}
