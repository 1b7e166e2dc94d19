package compress

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// flateWriterPool pools DEFLATE writers; building the compression tables is the expensive part.
var flateWriterPool = sync.Pool{
	New: func() any {
		w, err := flate.NewWriter(nil, flate.BestCompression)
		if err != nil {
			// This should never happen with a constant, valid level
			panic(fmt.Sprintf("failed to create flate writer for pool: %v", err))
		}

		return w
	},
}

// FlateCompressor provides raw DEFLATE (RFC 1951) compression with no zlib or gzip wrapper.
//
// It is the default fragment compressor: the stream has no frame header, so
// a 300-byte tokenized state costs only the Huffman tables and the matches.
type FlateCompressor struct{}

var _ Codec = (*FlateCompressor)(nil)

// NewFlateCompressor creates a new DEFLATE compressor at best-compression level.
func NewFlateCompressor() FlateCompressor {
	return FlateCompressor{}
}

// Compress compresses the input data using DEFLATE.
func (c FlateCompressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	w, _ := flateWriterPool.Get().(*flate.Writer)
	defer flateWriterPool.Put(w)
	w.Reset(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decompress decompresses DEFLATE data, stopping at MaxDecompressedSize.
func (c FlateCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, MaxDecompressedSize+1))
	if err != nil {
		return nil, corrupt("flate", err)
	}
	if len(out) > MaxDecompressedSize {
		return nil, tooLarge("flate", len(out))
	}

	return out, nil
}
