package dictionary

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/urlstate/errs"
)

// fileEntry is one explicitly coded entry; Code is hex ("01", "1e07").
type fileEntry struct {
	Phrase string `yaml:"phrase"`
	Code   string `yaml:"code"`
}

// file is the YAML layout published with a content pack.
//
// A file lists either explicit entries or bare phrases; bare phrases get
// codes from a Builder in listed order.
type file struct {
	ID      string      `yaml:"id"`
	Version uint64      `yaml:"version"`
	Phrases []string    `yaml:"phrases,omitempty"`
	Entries []fileEntry `yaml:"entries,omitempty"`
}

// Parse decodes and validates a YAML dictionary document.
func Parse(data []byte) (*Dictionary, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrDictionaryIntegrity, err)
	}

	if len(f.Phrases) > 0 && len(f.Entries) > 0 {
		return nil, fmt.Errorf("%w: %s: phrases and entries are mutually exclusive", errs.ErrDictionaryIntegrity, f.ID)
	}
	if len(f.Phrases) > 0 {
		return NewBuilder(f.ID, f.Version).Add(f.Phrases...).Build()
	}

	d := &Dictionary{ID: f.ID, Version: f.Version, Entries: make([]Entry, len(f.Entries))}
	for i, e := range f.Entries {
		code, err := hex.DecodeString(e.Code)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: entry %d code %q: %w", errs.ErrDictionaryIntegrity, f.ID, i, e.Code, err)
		}
		d.Entries[i] = Entry{Phrase: e.Phrase, Code: code}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return d, nil
}

// Marshal renders d in the explicit-entry YAML layout accepted by Parse.
func Marshal(d *Dictionary) ([]byte, error) {
	f := file{ID: d.ID, Version: d.Version, Entries: make([]fileEntry, len(d.Entries))}
	for i, e := range d.Entries {
		f.Entries[i] = fileEntry{Phrase: e.Phrase, Code: hex.EncodeToString(e.Code)}
	}

	return yaml.Marshal(&f)
}

// LoadFile reads and validates a dictionary file.
func LoadFile(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return d, nil
}

// IsDictionaryFile reports whether path has a YAML extension.
func IsDictionaryFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// LoadDir registers every dictionary file directly under dir.
//
// All files are attempted; the returned error joins the failures. The count
// is the number of files that registered cleanly.
func LoadDir(dir string, reg *Registry) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	var (
		loaded int
		failed []error
	)
	for _, entry := range entries {
		if entry.IsDir() || !IsDictionaryFile(entry.Name()) {
			continue
		}

		d, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err == nil {
			err = reg.Register(d)
		}
		if err != nil {
			failed = append(failed, err)
			continue
		}
		loaded++
	}

	return loaded, errors.Join(failed...)
}
