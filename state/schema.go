package state

import (
	"fmt"

	"github.com/arloliu/urlstate/errs"
)

// CurrentSchemaVersion is the minor schema version written by Canonicalize.
const CurrentSchemaVersion = 1

// SettingSpec pins one settings key.
//
// Essential settings survive overflow degradation; the rest may be dropped
// to fit a fragment budget.
type SettingSpec struct {
	Key       string
	Essential bool
}

// Schema is the version-pinned order of settings keys.
type Schema struct {
	version  uint64
	settings []SettingSpec
	index    map[string]int
}

// NewSchema creates a schema whose settings are written in the given order.
func NewSchema(version uint64, settings ...SettingSpec) (*Schema, error) {
	if version == 0 {
		return nil, fmt.Errorf("%w: schema version must be at least 1", errs.ErrInvalidConfig)
	}

	s := &Schema{version: version, settings: settings, index: make(map[string]int, len(settings))}
	for i, spec := range settings {
		if spec.Key == "" {
			return nil, fmt.Errorf("%w: setting %d has an empty key", errs.ErrInvalidConfig, i)
		}
		if _, dup := s.index[spec.Key]; dup {
			return nil, fmt.Errorf("%w: setting %q pinned twice", errs.ErrInvalidConfig, spec.Key)
		}
		s.index[spec.Key] = i
	}

	return s, nil
}

var defaultSchema = mustSchema(CurrentSchemaVersion,
	SettingSpec{Key: "mode", Essential: true},
	SettingSpec{Key: "text", Essential: true},
	SettingSpec{Key: "question", Essential: true},
	SettingSpec{Key: "exam_board", Essential: true},
	SettingSpec{Key: "tier", Essential: true},
	SettingSpec{Key: "teacher_name"},
	SettingSpec{Key: "class_code"},
	SettingSpec{Key: "feedback_style"},
	SettingSpec{Key: "theme"},
	SettingSpec{Key: "hints"},
)

// DefaultSchema returns the product's settings schema. New keys are only ever appended.
func DefaultSchema() *Schema {
	return defaultSchema
}

func mustSchema(version uint64, settings ...SettingSpec) *Schema {
	s, err := NewSchema(version, settings...)
	if err != nil {
		panic(err)
	}

	return s
}

// Version returns the schema's minor version.
func (s *Schema) Version() uint64 {
	return s.version
}

// Has reports whether key is pinned by the schema.
func (s *Schema) Has(key string) bool {
	_, ok := s.index[key]
	return ok
}

// IsEssential reports whether key is pinned and essential.
func (s *Schema) IsEssential(key string) bool {
	i, ok := s.index[key]
	return ok && s.settings[i].Essential
}

// Keys returns the pinned keys in canonical order.
func (s *Schema) Keys() []string {
	keys := make([]string, len(s.settings))
	for i, spec := range s.settings {
		keys[i] = spec.Key
	}

	return keys
}
