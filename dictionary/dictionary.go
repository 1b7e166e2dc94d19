// Package dictionary holds the phrase-to-code tables derived from a content
// pack and the ways urlstate obtains them.
//
// A Dictionary is immutable once published. Its codes start with a reserved
// control byte (0x01..0x1E) that canonical state text never contains, so the
// tokenizer can substitute them without ambiguity. The escape marker 0x1F is
// never a code byte; the tokenizer uses it to carry literal reserved bytes.
package dictionary

import (
	"fmt"
	"strings"

	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/internal/collision"
	"github.com/arloliu/urlstate/internal/hash"
)

const (
	// EscapeMarker precedes a literal byte that would otherwise read as a code.
	EscapeMarker byte = 0x1F
	// CodeFirstMin and CodeFirstMax bound the first byte of every code.
	CodeFirstMin byte = 0x01
	CodeFirstMax byte = 0x1E
	// MaxCodeLen is the longest code a dictionary may assign.
	MaxCodeLen = 2
	// MaxIDLen is the longest identifier that fits the envelope's u8 length prefix.
	MaxIDLen = 255
)

// IsReserved reports whether b is a code byte or the escape marker.
func IsReserved(b byte) bool {
	return b >= CodeFirstMin && b <= EscapeMarker
}

// Entry maps one phrase to its token code.
type Entry struct {
	Phrase string
	Code   []byte
}

// Dictionary is an ordered phrase table owned by a content pack.
//
// Entry order is priority order: when two phrases of equal length match at
// the same position, the earlier entry wins.
type Dictionary struct {
	ID      string
	Version uint64
	Entries []Entry
}

// Validate checks that the dictionary can be used for encoding and decoding.
//
// Returns errs.ErrDictionaryIntegrity when:
//   - ID is empty or longer than MaxIDLen, or Version is 0
//   - a phrase is empty or contains a reserved byte
//   - a code is empty, longer than MaxCodeLen or does not start in CodeFirstMin..CodeFirstMax
//   - two codes are equal or one is a prefix of another
func (d *Dictionary) Validate() error {
	_, err := d.validate()

	return err
}

// validate checks d and returns the indices of entries whose phrase is
// already owned by an earlier entry.
func (d *Dictionary) validate() (aliases []int, err error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil dictionary", errs.ErrDictionaryIntegrity)
	}
	if d.ID == "" || len(d.ID) > MaxIDLen {
		return nil, fmt.Errorf("%w: id must be 1..%d bytes, got %d", errs.ErrDictionaryIntegrity, MaxIDLen, len(d.ID))
	}
	if d.Version == 0 {
		return nil, fmt.Errorf("%w: %s: version must be at least 1", errs.ErrDictionaryIntegrity, d.ID)
	}

	tracker := collision.NewTracker()
	for i, e := range d.Entries {
		if e.Phrase == "" {
			return nil, fmt.Errorf("%w: %s: entry %d has an empty phrase", errs.ErrDictionaryIntegrity, d.ID, i)
		}
		if j := strings.IndexFunc(e.Phrase, func(r rune) bool { return r < 0x80 && IsReserved(byte(r)) }); j >= 0 {
			return nil, fmt.Errorf("%w: %s: phrase %q contains reserved byte at %d", errs.ErrDictionaryIntegrity, d.ID, e.Phrase, j)
		}
		if len(e.Code) == 0 || len(e.Code) > MaxCodeLen {
			return nil, fmt.Errorf("%w: %s: entry %d code must be 1..%d bytes", errs.ErrDictionaryIntegrity, d.ID, i, MaxCodeLen)
		}
		if e.Code[0] < CodeFirstMin || e.Code[0] > CodeFirstMax {
			return nil, fmt.Errorf("%w: %s: entry %d code %x starts outside reserved range", errs.ErrDictionaryIntegrity, d.ID, i, e.Code)
		}
		if err := tracker.TrackCode(e.Code, i); err != nil {
			return nil, fmt.Errorf("%s: %w", d.ID, err)
		}
		if owner := tracker.TrackPhrase(e.Phrase, i); owner != i {
			aliases = append(aliases, i)
		}
	}

	return aliases, nil
}

// Fingerprint returns a stable hash of the identity and ordered entries.
//
// Two dictionaries with the same ID and Version must have the same fingerprint.
func (d *Dictionary) Fingerprint() uint64 {
	f := hash.NewFingerprint()
	f.WriteString(d.ID)
	f.WriteUint(d.Version)
	f.WriteUint(uint64(len(d.Entries)))
	for _, e := range d.Entries {
		f.WriteString(e.Phrase)
		f.WriteBytes(e.Code)
	}

	return f.Sum64()
}

// Clone returns a deep copy that shares no memory with d.
func (d *Dictionary) Clone() *Dictionary {
	out := &Dictionary{ID: d.ID, Version: d.Version, Entries: make([]Entry, len(d.Entries))}
	for i, e := range d.Entries {
		out.Entries[i] = Entry{Phrase: e.Phrase, Code: append([]byte(nil), e.Code...)}
	}

	return out
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	return len(d.Entries)
}

func (d *Dictionary) String() string {
	return fmt.Sprintf("%s v%d", d.ID, d.Version)
}
