package dictionary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/urlstate/errs"
)

const phrasesYAML = `
id: an-inspector-calls
version: 3
phrases:
  - Inspector Goole
  - Birling
  - social responsibility
`

const entriesYAML = `
id: an-inspector-calls
version: 2
entries:
  - phrase: Birling
    code: "01"
  - phrase: responsibility
    code: "1e00"
`

func TestParse(t *testing.T) {
	t.Run("phrases get builder codes", func(t *testing.T) {
		d, err := Parse([]byte(phrasesYAML))
		require.NoError(t, err)
		require.Equal(t, "an-inspector-calls", d.ID)
		require.Equal(t, uint64(3), d.Version)
		require.Equal(t, []byte{0x02}, d.Entries[1].Code)
	})

	t.Run("explicit hex codes", func(t *testing.T) {
		d, err := Parse([]byte(entriesYAML))
		require.NoError(t, err)
		require.Equal(t, []byte{0x1E, 0x00}, d.Entries[1].Code)
	})

	tests := map[string]string{
		"malformed yaml":  "id: [",
		"bad hex":         "id: x\nversion: 1\nentries:\n  - phrase: a\n    code: zz\n",
		"both forms":      "id: x\nversion: 1\nphrases: [a]\nentries:\n  - phrase: b\n    code: \"02\"\n",
		"missing version": "id: x\nphrases: [a]\n",
		"prefix conflict": "id: x\nversion: 1\nentries:\n  - phrase: a\n    code: \"1e\"\n  - phrase: b\n    code: \"1e01\"\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, errs.ErrDictionaryIntegrity)
		})
	}
}

func TestMarshal_ParsesBack(t *testing.T) {
	d, err := Parse([]byte(phrasesYAML))
	require.NoError(t, err)

	out, err := Marshal(d)
	require.NoError(t, err)
	require.Contains(t, string(out), "phrase: Inspector Goole")

	back, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, d.Fingerprint(), back.Fingerprint())
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v2.yaml"), []byte(entriesYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v3.yml"), []byte(phrasesYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("id: ["), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	reg, err := NewRegistry()
	require.NoError(t, err)

	n, err := LoadDir(dir, reg)
	require.Equal(t, 2, n)
	require.ErrorIs(t, err, errs.ErrDictionaryIntegrity)
	require.Contains(t, err.Error(), "broken.yaml")
	require.Equal(t, []uint64{2, 3}, reg.Versions("an-inspector-calls"))

	_, err = LoadDir(filepath.Join(dir, "missing"), reg)
	require.Error(t, err)

	_, err = LoadFile(filepath.Join(dir, "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
