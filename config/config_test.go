package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/urlstate/dictionary"
	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/state"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "flate", cfg.Compression)
	require.Equal(t, uint8(2), cfg.FormatVersion)
	require.Equal(t, 2000, cfg.Budget)
	require.Equal(t, 20, cfg.RetainedTurns)
	require.Equal(t, 300*time.Millisecond, cfg.Debounce)

	// the content pack has no default
	require.ErrorIs(t, cfg.Validate(), errs.ErrInvalidConfig)

	cfg.ContentPack = "an-inspector-calls"
	require.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
content_pack: an-inspector-calls
dictionary_dir: ./packs
dictionary_version: 3
compression: zstd
budget: 1500
retained_turns: 8
debounce: 150ms
`))
	require.NoError(t, err)
	require.Equal(t, "an-inspector-calls", cfg.ContentPack)
	require.Equal(t, "./packs", cfg.DictionaryDir)
	require.Equal(t, uint64(3), cfg.DictionaryVersion)
	require.Equal(t, "zstd", cfg.Compression)
	require.Equal(t, uint8(2), cfg.FormatVersion, "unset fields keep defaults")
	require.Equal(t, 1500, cfg.Budget)
	require.Equal(t, 8, cfg.RetainedTurns)
	require.Equal(t, 150*time.Millisecond, cfg.Debounce)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown compression": "content_pack: p\ncompression: brotli\n",
		"unknown format":      "content_pack: p\nformat_version: 3\n",
		"v1 needs flate":      "content_pack: p\nformat_version: 1\ncompression: lz4\n",
		"zero budget":         "content_pack: p\nbudget: 0\n",
		"negative retained":   "content_pack: p\nretained_turns: -1\n",
		"zero debounce":       "content_pack: p\ndebounce: 0s\n",
		"not yaml":            "content_pack: [\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, errs.ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_NewCodec(t *testing.T) {
	dir := t.TempDir()

	d, err := dictionary.NewBuilder("an-inspector-calls", 1).Add("Inspector Goole", "Birling").Build()
	require.NoError(t, err)
	data, err := dictionary.Marshal(d)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inspector-v1.yaml"), data, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("id: x\nversion: 0\n"), 0o600))

	cfgPath := filepath.Join(dir, "urlstate.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("content_pack: an-inspector-calls\ndictionary_dir: "+dir+"\nbudget: 900\n"), 0o600))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	codec, reg, err := cfg.NewCodec(nil)
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())
	require.Equal(t, 900, codec.Budget())

	st := state.State{Messages: []state.Message{{Role: state.RoleUser, Content: "Why does Inspector Goole visit the Birling family?"}}}
	res, err := codec.Encode(context.Background(), st)
	require.NoError(t, err)

	back, err := codec.Decode(context.Background(), res.Fragment)
	require.NoError(t, err)
	require.True(t, state.Equal(st, back.State))

	require.Len(t, cfg.SchedulerOptions(), 1)
}
