// Package tokenize substitutes dictionary phrases with their token codes.
//
// Tokenize scans left to right and emits the code of the longest phrase that
// matches at each position; among phrases of equal length the earlier
// dictionary entry wins. Input bytes in the reserved range 0x01..0x1F that
// are not part of a match are written as the escape marker followed by the
// byte, so the output never confuses literal text with a code.
//
// Detokenize is the exact inverse: Detokenize(Tokenize(t)) == t for every t.
package tokenize

import (
	"fmt"

	"github.com/arloliu/urlstate/dictionary"
	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/internal/pool"
)

// trieNode is one byte step of the phrase trie.
type trieNode struct {
	next     map[byte]*trieNode
	code     []byte
	terminal bool
}

// put inserts phrase unless an earlier entry already owns it.
func (n *trieNode) put(phrase string, code []byte) {
	for i := 0; i < len(phrase); i++ {
		c := phrase[i]
		child := n.next[c]
		if child == nil {
			if n.next == nil {
				n.next = make(map[byte]*trieNode)
			}
			child = &trieNode{}
			n.next[c] = child
		}
		n = child
	}
	if n.terminal {
		return
	}
	n.code = code
	n.terminal = true
}

// longestMatch returns the length and code of the longest phrase prefixing input.
func (n *trieNode) longestMatch(input []byte) (int, []byte) {
	matched := 0
	var code []byte

	for i, c := range input {
		n = n.next[c]
		if n == nil {
			break
		}
		if n.terminal {
			matched = i + 1
			code = n.code
		}
	}

	return matched, code
}

// codeSlot resolves codes sharing one first byte.
type codeSlot struct {
	phrase []byte          // one-byte code
	second map[byte][]byte // two-byte codes by second byte
}

// Tokenizer is built once per dictionary and is safe for concurrent use.
type Tokenizer struct {
	dict  *dictionary.Dictionary
	root  trieNode
	slots [dictionary.CodeFirstMax + 1]codeSlot
}

// New validates dict and builds its lookup tables.
//
// Returns errs.ErrDictionaryIntegrity if dict is not prefix-free and collision-free.
func New(dict *dictionary.Dictionary) (*Tokenizer, error) {
	if err := dict.Validate(); err != nil {
		return nil, err
	}

	t := &Tokenizer{dict: dict}
	for _, e := range dict.Entries {
		t.root.put(e.Phrase, e.Code)

		slot := &t.slots[e.Code[0]]
		if len(e.Code) == 1 {
			slot.phrase = []byte(e.Phrase)
			continue
		}
		if slot.second == nil {
			slot.second = make(map[byte][]byte)
		}
		slot.second[e.Code[1]] = []byte(e.Phrase)
	}

	return t, nil
}

// Dictionary returns the dictionary the tokenizer was built from.
func (t *Tokenizer) Dictionary() *dictionary.Dictionary {
	return t.dict
}

// Tokenize replaces phrases in text with their codes and escapes reserved bytes.
// The returned slice is newly allocated.
func (t *Tokenizer) Tokenize(text []byte) []byte {
	buf := pool.GetFragmentBuffer()
	defer pool.PutFragmentBuffer(buf)
	buf.Grow(len(text))

	for i := 0; i < len(text); {
		if n, code := t.root.longestMatch(text[i:]); n > 0 {
			buf.MustWrite(code)
			i += n

			continue
		}

		b := text[i]
		if dictionary.IsReserved(b) {
			_ = buf.WriteByte(dictionary.EscapeMarker)
		}
		_ = buf.WriteByte(b)
		i++
	}

	return buf.Detach()
}

// Detokenize restores the text that Tokenize consumed.
//
// Returns errs.ErrCorruptPayload for a truncated escape or code, or for a
// code the dictionary does not define.
func (t *Tokenizer) Detokenize(data []byte) ([]byte, error) {
	buf := pool.GetFragmentBuffer()
	defer pool.PutFragmentBuffer(buf)
	buf.Grow(len(data) * 2)

	for i := 0; i < len(data); i++ {
		b := data[i]
		switch {
		case b == dictionary.EscapeMarker:
			if i+1 >= len(data) {
				return nil, fmt.Errorf("%w: escape marker at end of input", errs.ErrCorruptPayload)
			}
			i++
			_ = buf.WriteByte(data[i])

		case b >= dictionary.CodeFirstMin && b <= dictionary.CodeFirstMax:
			slot := &t.slots[b]
			if slot.phrase != nil {
				buf.MustWrite(slot.phrase)
				continue
			}
			if slot.second == nil {
				return nil, fmt.Errorf("%w: unknown code %02x at %d", errs.ErrCorruptPayload, b, i)
			}
			if i+1 >= len(data) {
				return nil, fmt.Errorf("%w: truncated code %02x at end of input", errs.ErrCorruptPayload, b)
			}
			phrase, ok := slot.second[data[i+1]]
			if !ok {
				return nil, fmt.Errorf("%w: unknown code %02x%02x at %d", errs.ErrCorruptPayload, b, data[i+1], i)
			}
			buf.MustWrite(phrase)
			i++

		default:
			_ = buf.WriteByte(b)
		}
	}

	return buf.Detach(), nil
}
