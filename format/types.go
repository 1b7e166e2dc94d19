package format

type (
	FormatVersion   uint8
	CompressionType uint8
)

const (
	// FormatV1 is the original envelope layout: DEFLATE payload, no compression byte, no checksum.
	FormatV1 FormatVersion = 0x1
	// FormatV2 adds an explicit compression byte and a payload checksum.
	FormatV2 FormatVersion = 0x2

	// CurrentFormat is the layout written by default.
	CurrentFormat = FormatV2

	CompressionNone  CompressionType = 0x1 // CompressionNone represents no compression.
	CompressionZstd  CompressionType = 0x2 // CompressionZstd represents Zstandard compression.
	CompressionS2    CompressionType = 0x3 // CompressionS2 represents S2 compression.
	CompressionLZ4   CompressionType = 0x4 // CompressionLZ4 represents LZ4 compression.
	CompressionFlate CompressionType = 0x5 // CompressionFlate represents raw DEFLATE compression.
)

// IsKnown reports whether the decoder understands this envelope layout.
func (v FormatVersion) IsKnown() bool {
	return v == FormatV1 || v == FormatV2
}

func (v FormatVersion) String() string {
	switch v {
	case FormatV1:
		return "V1"
	case FormatV2:
		return "V2"
	default:
		return "Unknown"
	}
}

// IsKnown reports whether c names a built-in compression algorithm.
func (c CompressionType) IsKnown() bool {
	switch c {
	case CompressionNone, CompressionZstd, CompressionS2, CompressionLZ4, CompressionFlate:
		return true
	default:
		return false
	}
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionZstd:
		return "Zstd"
	case CompressionS2:
		return "S2"
	case CompressionLZ4:
		return "LZ4"
	case CompressionFlate:
		return "Flate"
	default:
		return "Unknown"
	}
}

// ParseCompression maps a configuration name (case-sensitive, lower case) to a CompressionType.
func ParseCompression(name string) (CompressionType, bool) {
	switch name {
	case "none":
		return CompressionNone, true
	case "zstd":
		return CompressionZstd, true
	case "s2":
		return CompressionS2, true
	case "lz4":
		return CompressionLZ4, true
	case "flate", "deflate":
		return CompressionFlate, true
	default:
		return 0, false
	}
}
