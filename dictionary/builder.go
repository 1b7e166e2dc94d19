package dictionary

import (
	"fmt"

	"github.com/arloliu/urlstate/errs"
)

const (
	singleByteCodes = int(CodeFirstMax - CodeFirstMin) // 0x01..0x1D
	// Capacity is the number of phrases a Builder can assign codes to.
	Capacity = singleByteCodes + 256
)

// Builder assigns token codes to phrases in registration order.
//
// The first 29 phrases get one-byte codes 0x01..0x1D; later phrases get
// 0x1E followed by one byte. 0x1E is never a one-byte code, which keeps the
// code set prefix-free. Callers add the most valuable phrases first.
type Builder struct {
	id      string
	version uint64
	phrases []string
	seen    map[string]struct{}
}

// NewBuilder starts a dictionary for the given content pack and version.
func NewBuilder(id string, version uint64) *Builder {
	return &Builder{id: id, version: version, seen: make(map[string]struct{})}
}

// Add appends phrases in priority order. Repeated phrases are ignored.
func (b *Builder) Add(phrases ...string) *Builder {
	for _, p := range phrases {
		if _, dup := b.seen[p]; dup {
			continue
		}
		b.seen[p] = struct{}{}
		b.phrases = append(b.phrases, p)
	}

	return b
}

// Build assigns codes and validates the result.
func (b *Builder) Build() (*Dictionary, error) {
	if len(b.phrases) > Capacity {
		return nil, fmt.Errorf("%w: %s: %d phrases exceed capacity %d",
			errs.ErrDictionaryIntegrity, b.id, len(b.phrases), Capacity)
	}

	d := &Dictionary{ID: b.id, Version: b.version, Entries: make([]Entry, len(b.phrases))}
	for i, p := range b.phrases {
		d.Entries[i] = Entry{Phrase: p, Code: CodeFor(i)}
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return d, nil
}

// CodeFor returns the code a Builder assigns to the phrase at position i.
// It panics if i is outside 0..Capacity-1.
func CodeFor(i int) []byte {
	switch {
	case i < 0 || i >= Capacity:
		panic(fmt.Sprintf("dictionary: code index %d out of range", i))
	case i < singleByteCodes:
		return []byte{CodeFirstMin + byte(i)}
	default:
		return []byte{CodeFirstMax, byte(i - singleByteCodes)}
	}
}
