package tokenize

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/urlstate/dictionary"
	"github.com/arloliu/urlstate/errs"
)

func inspectorDict(t *testing.T) *dictionary.Dictionary {
	t.Helper()
	d, err := dictionary.NewBuilder("an-inspector-calls", 2).
		Add("Inspector Goole", "Inspector", "Birling", "Sheila", "Eric", "Gerald", "responsibility", "\",\"", "[\"").
		Build()
	require.NoError(t, err)

	return d
}

func TestTokenize_DictionaryHit(t *testing.T) {
	d := &dictionary.Dictionary{ID: "pack", Version: 1, Entries: []dictionary.Entry{
		{Phrase: "Birling", Code: []byte{0x01}},
	}}
	tok, err := New(d)
	require.NoError(t, err)

	out := tok.Tokenize([]byte("Birling enters."))
	require.Equal(t, append([]byte{0x01}, " enters."...), out)

	back, err := tok.Detokenize(out)
	require.NoError(t, err)
	require.Equal(t, "Birling enters.", string(back))
}

func TestTokenize_LongestMatchWins(t *testing.T) {
	tok, err := New(inspectorDict(t))
	require.NoError(t, err)

	out := tok.Tokenize([]byte("Inspector Goole"))
	require.Equal(t, []byte{0x01}, out)

	out = tok.Tokenize([]byte("Inspector Gool"))
	require.Equal(t, append([]byte{0x02}, " Gool"...), out)
}

func TestTokenize_EarlierEntryWinsTies(t *testing.T) {
	d := &dictionary.Dictionary{ID: "pack", Version: 1, Entries: []dictionary.Entry{
		{Phrase: "Eva", Code: []byte{0x05}},
		{Phrase: "Eva", Code: []byte{0x06}},
	}}
	tok, err := New(d)
	require.NoError(t, err)

	require.Equal(t, []byte{0x05}, tok.Tokenize([]byte("Eva")))

	// the alias still decodes
	back, err := tok.Detokenize([]byte{0x06, 0x05})
	require.NoError(t, err)
	require.Equal(t, "EvaEva", string(back))
}

func TestTokenize_EscapesReservedBytes(t *testing.T) {
	tok, err := New(inspectorDict(t))
	require.NoError(t, err)

	in := []byte{'a', 0x01, 0x1E, 0x1F, 0x00, 0x20, 0x7F}
	out := tok.Tokenize(in)
	require.Equal(t, []byte{'a', 0x1F, 0x01, 0x1F, 0x1E, 0x1F, 0x1F, 0x00, 0x20, 0x7F}, out)

	back, err := tok.Detokenize(out)
	require.NoError(t, err)
	require.Equal(t, in, back)
}

func TestTokenize_RoundTrip(t *testing.T) {
	tok, err := New(inspectorDict(t))
	require.NoError(t, err)

	allBytes := make([]byte, 256)
	for i := range allBytes {
		allBytes[i] = byte(i)
	}

	inputs := map[string][]byte{
		"empty":           {},
		"no phrases":      []byte("The quick brown fox jumps over the lazy dog."),
		"only phrases":    []byte("BirlingSheilaEricGeraldInspector GooleInspector"),
		"overlapping":     []byte("Inspector GoolInspector GooleInspector Goo"),
		"code-like bytes": bytes.Repeat([]byte{0x01, 0x1E, 0x1F}, 40),
		"every byte":      allBytes,
		"canonical json":  []byte(`[1,[["user","Why does Sheila change?",0],["assistant","Sheila accepts responsibility.",1]],[],[]]`),
		"multibyte":       []byte("Eric’s guilt… “we are responsible”"),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			out := tok.Tokenize(in)
			back, err := tok.Detokenize(out)
			require.NoError(t, err)
			require.Equal(t, string(in), string(back))
		})
	}
}

func TestTokenize_RandomRoundTrip(t *testing.T) {
	tok, err := New(inspectorDict(t))
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	alphabet := []string{"Birling", "Inspector", " Goole", "Sheila", "\x01", "\x1f", "\x1e", "a", " ", "\"", ","}
	for range 500 {
		var b bytes.Buffer
		for range rng.IntN(40) {
			if rng.IntN(4) == 0 {
				b.WriteByte(byte(rng.IntN(256)))
			} else {
				b.WriteString(alphabet[rng.IntN(len(alphabet))])
			}
		}
		in := b.Bytes()

		back, err := tok.Detokenize(tok.Tokenize(in))
		require.NoError(t, err)
		require.Equal(t, string(in), string(back))
	}
}

func TestTokenize_ShrinksDomainText(t *testing.T) {
	tok, err := New(inspectorDict(t))
	require.NoError(t, err)

	in := []byte(`[1,[["user","How does Inspector Goole make Sheila and Eric accept responsibility?",0]]]`)
	require.Less(t, len(tok.Tokenize(in)), len(in)-30)
}

func TestDetokenize_Corrupt(t *testing.T) {
	d := &dictionary.Dictionary{ID: "pack", Version: 1, Entries: []dictionary.Entry{
		{Phrase: "Birling", Code: []byte{0x01}},
		{Phrase: "Goole", Code: []byte{0x1E, 0x00}},
	}}
	tok, err := New(d)
	require.NoError(t, err)

	tests := map[string][]byte{
		"trailing escape":       {'a', 0x1F},
		"unknown one-byte code": {0x02},
		"truncated two-byte":    {0x01, 0x1E},
		"unknown second byte":   {0x1E, 0x01},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tok.Detokenize(in)
			require.ErrorIs(t, err, errs.ErrCorruptPayload)
		})
	}

	out, err := tok.Detokenize([]byte{0x01, ' ', 0x1E, 0x00})
	require.NoError(t, err)
	require.Equal(t, "Birling Goole", string(out))
}

func TestNew_RejectsAmbiguousDictionary(t *testing.T) {
	d := &dictionary.Dictionary{ID: "pack", Version: 1, Entries: []dictionary.Entry{
		{Phrase: "a", Code: []byte{0x01}},
		{Phrase: "b", Code: []byte{0x01, 0x02}},
	}}
	_, err := New(d)
	require.ErrorIs(t, err, errs.ErrDictionaryIntegrity)
}

func BenchmarkTokenize(b *testing.B) {
	d, _ := dictionary.NewBuilder("pack", 1).Add("Inspector Goole", "Birling", "Sheila", "responsibility").Build()
	tok, _ := New(d)
	in := bytes.Repeat([]byte(`["user","How does Inspector Goole make Sheila Birling accept responsibility?",3],`), 30)

	b.ReportAllocs()
	for b.Loop() {
		_ = tok.Tokenize(in)
	}
}
