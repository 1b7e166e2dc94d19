package frame

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/format"
	"github.com/arloliu/urlstate/internal/pool"
)

const (
	// MaxDictionaryIDLen is the longest id the u8 length prefix can carry.
	MaxDictionaryIDLen = 255
	// MaxFragmentLen bounds the text Unframe is willing to decode.
	MaxFragmentLen = 1 << 20

	checksumSize = 4
)

// alphabet is base64url, unpadded, rejecting non-canonical input.
var alphabet = base64.RawURLEncoding.Strict()

// Envelope is the decoded form of a fragment.
type Envelope struct {
	FormatVersion     format.FormatVersion
	Compression       format.CompressionType // always Flate for V1
	DictionaryID      string
	DictionaryVersion uint64
	Checksum          uint32 // V2 only
	Payload           []byte
}

// Validate checks that the envelope can be written in its format version.
func (e *Envelope) Validate() error {
	switch e.FormatVersion {
	case format.FormatV1:
		if e.Compression != format.CompressionFlate {
			return errs.NewFrameError("format V1 only carries flate payloads, got %s", e.Compression)
		}
	case format.FormatV2:
		if !e.Compression.IsKnown() {
			return errs.NewFrameError("unknown compression 0x%02x", uint8(e.Compression))
		}
	default:
		return errs.NewFrameError("unknown format version 0x%02x", uint8(e.FormatVersion))
	}

	if e.DictionaryID == "" || len(e.DictionaryID) > MaxDictionaryIDLen {
		return errs.NewFrameError("dictionary id must be 1..%d bytes, got %d", MaxDictionaryIDLen, len(e.DictionaryID))
	}
	if e.DictionaryVersion == 0 {
		return errs.NewFrameError("dictionary version must be at least 1")
	}
	if len(e.Payload) == 0 {
		return errs.NewFrameError("missing payload")
	}

	return nil
}

// Bytes serializes the envelope in its format version's layout.
func (e *Envelope) Bytes() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	buf := pool.GetFragmentBuffer()
	defer pool.PutFragmentBuffer(buf)
	buf.Grow(2 + binary.MaxVarintLen64 + 1 + len(e.DictionaryID) + checksumSize + len(e.Payload))

	_ = buf.WriteByte(byte(e.FormatVersion))
	if e.FormatVersion == format.FormatV2 {
		_ = buf.WriteByte(byte(e.Compression))
	}
	buf.B = binary.AppendUvarint(buf.B, e.DictionaryVersion)
	_ = buf.WriteByte(uint8(len(e.DictionaryID))) //nolint:gosec
	_, _ = buf.WriteString(e.DictionaryID)
	if e.FormatVersion == format.FormatV2 {
		buf.B = binary.LittleEndian.AppendUint32(buf.B, e.Checksum)
	}
	buf.MustWrite(e.Payload)

	return buf.Detach(), nil
}

// Parse decodes envelope bytes.
//
// The returned Payload aliases data.
func (e *Envelope) Parse(data []byte) error {
	if len(data) == 0 {
		return errs.NewFrameError("empty envelope")
	}

	*e = Envelope{FormatVersion: format.FormatVersion(data[0])}
	pos := 1

	switch e.FormatVersion {
	case format.FormatV1:
		e.Compression = format.CompressionFlate
	case format.FormatV2:
		if len(data) < 2 {
			return errs.NewFrameError("truncated header: missing compression")
		}
		e.Compression = format.CompressionType(data[1])
		if !e.Compression.IsKnown() {
			return errs.NewFrameError("unknown compression 0x%02x", data[1])
		}
		pos = 2
	default:
		return errs.NewFrameError("unknown format version 0x%02x", data[0])
	}

	version, n := binary.Uvarint(data[pos:])
	if n <= 0 {
		return errs.NewFrameError("truncated header: bad dictionary version")
	}
	if version == 0 {
		return errs.NewFrameError("dictionary version must be at least 1")
	}
	e.DictionaryVersion = version
	pos += n

	if pos >= len(data) {
		return errs.NewFrameError("truncated header: missing dictionary id")
	}
	idLen := int(data[pos])
	pos++
	if idLen == 0 || pos+idLen > len(data) {
		return errs.NewFrameError("truncated header: dictionary id")
	}
	e.DictionaryID = string(data[pos : pos+idLen])
	pos += idLen

	if e.FormatVersion == format.FormatV2 {
		if pos+checksumSize > len(data) {
			return errs.NewFrameError("truncated header: checksum")
		}
		e.Checksum = binary.LittleEndian.Uint32(data[pos : pos+checksumSize])
		pos += checksumSize
	}

	if pos == len(data) {
		return errs.NewFrameError("truncated payload")
	}
	e.Payload = data[pos:]

	return nil
}

func (e *Envelope) String() string {
	if e.FormatVersion == format.FormatV1 {
		return fmt.Sprintf("%s %s v%d payload=%dB", e.FormatVersion, e.DictionaryID, e.DictionaryVersion, len(e.Payload))
	}

	return fmt.Sprintf("%s %s %s v%d checksum=%08x payload=%dB",
		e.FormatVersion, e.Compression, e.DictionaryID, e.DictionaryVersion, e.Checksum, len(e.Payload))
}

// ParseEnvelope decodes envelope bytes into a new Envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	e := &Envelope{}
	if err := e.Parse(data); err != nil {
		return nil, err
	}

	return e, nil
}

// Frame serializes env and encodes it for a URL fragment, without the leading '#'.
//
// Parameters:
//   - env: The envelope to write; it must pass Validate
//
// Returns:
//   - string: Unpadded base64url text, safe to place after '#'.
//   - error: *errs.FrameError if env cannot be written in its format version.
//
// Example:
//
//	fragment, err := frame.Frame(&frame.Envelope{
//	    FormatVersion:     format.FormatV2,
//	    Compression:       format.CompressionFlate,
//	    DictionaryID:      "an-inspector-calls",
//	    DictionaryVersion: 3,
//	    Checksum:          checksum,
//	    Payload:           compressed,
//	})
func Frame(env *Envelope) (string, error) {
	raw, err := env.Bytes()
	if err != nil {
		return "", err
	}

	return alphabet.EncodeToString(raw), nil
}

// Unframe decodes a fragment produced by Frame. A leading '#' is ignored.
//
// Parameters:
//   - fragment: The URL fragment, at most MaxFragmentLen characters
//
// Returns:
//   - *Envelope: The parsed header and the still-compressed payload.
//   - error: *errs.FrameError for a bad alphabet, padding, header or length.
func Unframe(fragment string) (*Envelope, error) {
	fragment = strings.TrimPrefix(fragment, "#")
	if fragment == "" {
		return nil, errs.NewFrameError("empty fragment")
	}
	if len(fragment) > MaxFragmentLen {
		return nil, errs.NewFrameError("fragment of %d characters exceeds %d", len(fragment), MaxFragmentLen)
	}

	// the decoder silently skips CR and LF, so check the alphabet first
	if i := strings.IndexFunc(fragment, notInAlphabet); i >= 0 {
		return nil, errs.NewFrameError("invalid alphabet: character %q at %d", fragment[i], i)
	}

	raw, err := alphabet.DecodeString(fragment)
	if err != nil {
		return nil, &errs.FrameError{Reason: "invalid alphabet", Err: err}
	}

	return ParseEnvelope(raw)
}

func notInAlphabet(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		return false
	default:
		return true
	}
}
