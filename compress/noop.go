package compress

// NoOpCompressor passes payloads through unchanged.
//
// Useful when inspecting fragments by hand: the tokenized text is visible
// right after the envelope header.
type NoOpCompressor struct{}

var _ Codec = (*NoOpCompressor)(nil)

// NewNoOpCompressor creates a new pass-through compressor.
func NewNoOpCompressor() NoOpCompressor {
	return NoOpCompressor{}
}

// Compress returns the input slice itself; the caller must not modify it afterwards.
func (c NoOpCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress returns the input slice itself, enforcing MaxDecompressedSize.
func (c NoOpCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) > MaxDecompressedSize {
		return nil, tooLarge("none", len(data))
	}

	return data, nil
}
