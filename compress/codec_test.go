package compress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/format"
)

var allTypes = []format.CompressionType{
	format.CompressionNone,
	format.CompressionZstd,
	format.CompressionS2,
	format.CompressionLZ4,
	format.CompressionFlate,
}

// tokenizedSample resembles a tokenized state: control-byte codes between short literals.
func tokenizedSample() []byte {
	var b bytes.Buffer
	for i := range 40 {
		b.WriteString(`[1,[["\x01","Why does the Inspector `)
		b.WriteByte(0x01 + byte(i%29))
		b.WriteString(` visit?",`)
		b.WriteByte(0x1E)
		b.WriteByte(byte(i))
		b.WriteString("]]]")
	}

	return b.Bytes()
}

func allBytes() []byte {
	out := make([]byte, 256)
	for i := range out {
		out[i] = byte(i)
	}

	return out
}

func TestCodecs_RoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":     nil,
		"one byte":  {0x1F},
		"all bytes": allBytes(),
		"tokenized": tokenizedSample(),
		"prose":     []byte(strings.Repeat("Sheila gives back the ring. ", 50)),
	}

	for _, ct := range allTypes {
		codec, err := GetCodec(ct)
		require.NoError(t, err)

		for name, in := range inputs {
			t.Run(ct.String()+"/"+name, func(t *testing.T) {
				packed, err := codec.Compress(in)
				require.NoError(t, err)

				out, err := codec.Decompress(packed)
				require.NoError(t, err)
				require.Equal(t, len(in), len(out))
				if len(in) > 0 {
					require.Equal(t, in, out)
				}
			})
		}
	}
}

func TestCodecs_RejectOversizedOutput(t *testing.T) {
	bomb := make([]byte, MaxDecompressedSize+4096)

	for _, ct := range allTypes {
		t.Run(ct.String(), func(t *testing.T) {
			codec, err := GetCodec(ct)
			require.NoError(t, err)

			packed, err := codec.Compress(bomb)
			require.NoError(t, err)
			if ct != format.CompressionNone {
				require.Less(t, len(packed), len(bomb)/10)
			}

			_, err = codec.Decompress(packed)
			require.ErrorIs(t, err, errs.ErrPayloadTooLarge)
		})
	}
}

func TestCodecs_RejectCorruptInput(t *testing.T) {
	tests := []struct {
		cType format.CompressionType
		input []byte
	}{
		{format.CompressionFlate, []byte{0xff, 0xff, 0xff}},
		{format.CompressionZstd, []byte("definitely not zstd")},
		{format.CompressionS2, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.cType.String(), func(t *testing.T) {
			codec, err := GetCodec(tt.cType)
			require.NoError(t, err)

			_, err = codec.Decompress(tt.input)
			require.ErrorIs(t, err, errs.ErrCorruptPayload)
		})
	}
}

func TestLZ4_IncompressibleInput(t *testing.T) {
	in := allBytes()
	packed, err := NewLZ4Compressor().Compress(in)
	require.NoError(t, err)
	require.NotEmpty(t, packed)

	out, err := NewLZ4Compressor().Decompress(packed)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestCreateCodec(t *testing.T) {
	for _, ct := range allTypes {
		codec, err := CreateCodec(ct, "fragment")
		require.NoError(t, err)
		require.NotNil(t, codec)
	}

	_, err := CreateCodec(format.CompressionType(0x42), "fragment")
	require.ErrorIs(t, err, errs.ErrInvalidConfig)
	require.Contains(t, err.Error(), "invalid fragment compression")

	_, err = GetCodec(format.CompressionType(0))
	require.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestCompressionStats(t *testing.T) {
	tests := []struct {
		name            string
		stats           CompressionStats
		expectedRatio   float64
		expectedSavings float64
	}{
		{"halved", CompressionStats{OriginalSize: 1000, CompressedSize: 500}, 0.5, 50.0},
		{"no change", CompressionStats{OriginalSize: 1000, CompressedSize: 1000}, 1.0, 0.0},
		{"grew", CompressionStats{OriginalSize: 10, CompressedSize: 15}, 1.5, -50.0},
		{"empty", CompressionStats{}, 0.0, 100.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.expectedRatio, tt.stats.CompressionRatio(), 0.001)
			require.InDelta(t, tt.expectedSavings, tt.stats.SpaceSavings(), 0.001)
		})
	}
}

func TestMeasure(t *testing.T) {
	in := tokenizedSample()
	stats, err := Measure(format.CompressionFlate, in)
	require.NoError(t, err)
	require.Equal(t, format.CompressionFlate, stats.Algorithm)
	require.Equal(t, int64(len(in)), stats.OriginalSize)
	require.Less(t, stats.CompressedSize, stats.OriginalSize)

	_, err = Measure(format.CompressionType(0x42), in)
	require.Error(t, err)
}

func BenchmarkCodecs_Compress(b *testing.B) {
	in := tokenizedSample()
	for _, ct := range allTypes {
		codec, _ := GetCodec(ct)
		b.Run(ct.String(), func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				_, _ = codec.Compress(in)
			}
		})
	}
}

func BenchmarkCodecs_Decompress(b *testing.B) {
	in := tokenizedSample()
	for _, ct := range allTypes {
		codec, _ := GetCodec(ct)
		packed, _ := codec.Compress(in)
		b.Run(ct.String(), func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				_, _ = codec.Decompress(packed)
			}
		})
	}
}
