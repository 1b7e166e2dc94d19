package collision

import (
	"fmt"

	"github.com/arloliu/urlstate/errs"
)

// Tracker detects token-code collisions while a dictionary is validated.
//
// Codes must be unique and prefix-free. Phrases may repeat: the first entry
// that registers a phrase owns it, later entries with the same phrase are
// recorded as aliases that only the decoder uses.
type Tracker struct {
	codes    map[string]int      // code -> entry index
	prefixes map[string]struct{} // every proper prefix of a tracked code
	phrases  map[string]int      // phrase -> first entry index
}

// NewTracker creates a new collision tracker.
func NewTracker() *Tracker {
	return &Tracker{
		codes:    make(map[string]int),
		prefixes: make(map[string]struct{}),
		phrases:  make(map[string]int),
	}
}

// TrackCode registers the code of entry idx.
// It returns errs.ErrDictionaryIntegrity if the code duplicates another code,
// is a prefix of one, or has one as its prefix.
func (t *Tracker) TrackCode(code []byte, idx int) error {
	key := string(code)
	if prev, exists := t.codes[key]; exists {
		return fmt.Errorf("%w: entry %d reuses code %x of entry %d", errs.ErrDictionaryIntegrity, idx, code, prev)
	}
	if _, exists := t.prefixes[key]; exists {
		return fmt.Errorf("%w: code %x of entry %d is a prefix of another code", errs.ErrDictionaryIntegrity, code, idx)
	}
	for n := 1; n < len(code); n++ {
		if prev, exists := t.codes[key[:n]]; exists {
			return fmt.Errorf("%w: code %x of entry %d starts with code of entry %d", errs.ErrDictionaryIntegrity, code, idx, prev)
		}
	}

	t.codes[key] = idx
	for n := 1; n < len(code); n++ {
		t.prefixes[key[:n]] = struct{}{}
	}

	return nil
}

// TrackPhrase registers the phrase of entry idx and reports the index of the
// entry that owns the phrase. owner == idx means idx is the first registration.
func (t *Tracker) TrackPhrase(phrase string, idx int) (owner int) {
	if first, exists := t.phrases[phrase]; exists {
		return first
	}
	t.phrases[phrase] = idx

	return idx
}
