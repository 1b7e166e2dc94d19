package overflow

import (
	"fmt"

	"github.com/arloliu/urlstate/state"
)

type trimHistory struct {
	retained int
}

// TrimHistory keeps only the newest retained chat turns. A negative count is treated as zero.
func TrimHistory(retained int) Step {
	return trimHistory{retained: max(retained, 0)}
}

func (s trimHistory) Name() string {
	return fmt.Sprintf("trim-history(%d)", s.retained)
}

func (s trimHistory) Apply(st state.State) (state.State, bool) {
	if len(st.Messages) <= s.retained {
		return st, false
	}

	out := st.Clone()
	out.Messages = out.Messages[len(out.Messages)-s.retained:]

	return out, true
}

type dropOptionalSettings struct {
	schema *state.Schema
}

// DropOptionalSettings removes every setting the schema does not mark essential.
// A nil schema means state.DefaultSchema.
func DropOptionalSettings(schema *state.Schema) Step {
	if schema == nil {
		schema = state.DefaultSchema()
	}

	return dropOptionalSettings{schema: schema}
}

func (s dropOptionalSettings) Name() string {
	return "drop-optional-settings"
}

func (s dropOptionalSettings) Apply(st state.State) (state.State, bool) {
	out := st.Clone()
	changed := false
	for key := range out.Settings {
		if !s.schema.IsEssential(key) {
			delete(out.Settings, key)
			changed = true
		}
	}
	if !changed {
		return st, false
	}

	return out, true
}
