package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/internal/pool"
)

// Canonicalize renders s as canonical text. Identical states always produce
// identical bytes; a nil schema means DefaultSchema.
//
// Returns:
//   - errs.ErrInvalidMessage for an unknown role or non-UTF-8 content
//   - errs.ErrInvalidPlan if the plan is not a forest
//   - errs.ErrUnknownSetting for a settings key the schema does not pin
//   - errs.ErrInvalidSetting for a settings value that is not valid UTF-8
func Canonicalize(s State, schema *Schema) ([]byte, error) {
	if schema == nil {
		schema = DefaultSchema()
	}

	if err := validateMessages(s.Messages); err != nil {
		return nil, err
	}
	plan, err := OrderPlan(s.Plan)
	if err != nil {
		return nil, err
	}
	for key, value := range s.Settings {
		if !schema.Has(key) {
			return nil, fmt.Errorf("%w: %q", errs.ErrUnknownSetting, key)
		}
		if !utf8.ValidString(value) {
			return nil, fmt.Errorf("%w: setting %q is not valid UTF-8", errs.ErrInvalidSetting, key)
		}
	}

	messages := make([]any, 0, len(s.Messages))
	for _, m := range s.Messages {
		messages = append(messages, []any{string(m.Role), m.Content, m.Ordinal})
	}

	nodes := make([]any, 0, len(plan))
	for _, n := range plan {
		nodes = append(nodes, []any{n.ID, n.ParentID, n.Text, n.Order})
	}

	settings := make([]any, 0, len(s.Settings))
	for _, key := range schema.Keys() {
		if value, ok := s.Settings[key]; ok {
			settings = append(settings, []any{key, value})
		}
	}

	buf := pool.GetFragmentBuffer()
	defer pool.PutFragmentBuffer(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{schema.Version(), messages, nodes, settings}); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Detach(), []byte{'\n'}), nil
}

// Reconstruct parses canonical text back into a State.
//
// Text written by a newer minor version may carry trailing elements at any
// level and settings keys this schema does not know; they are skipped and
// their paths reported in a SchemaDriftWarning. Elements an older writer did
// not emit take defaults: a message ordinal is its index, a node order is its
// position among its siblings, a missing section is empty.
//
// Anything else (malformed JSON, wrong types, missing required elements or a
// plan that is not a forest) is errs.ErrCorruptState. A nil schema means DefaultSchema.
func Reconstruct(text []byte, schema *Schema) (State, []errs.SchemaDriftWarning, error) {
	if schema == nil {
		schema = DefaultSchema()
	}

	r := &reader{}
	top, err := r.array(text, "$")
	if err != nil {
		return State{}, nil, err
	}
	if len(top) == 0 {
		return State{}, nil, corrupt("$", "missing schema version")
	}
	version, err := r.unsigned(top[0], "$[0]")
	if err != nil {
		return State{}, nil, err
	}
	if version == 0 {
		return State{}, nil, corrupt("$[0]", "schema version 0")
	}

	var st State
	if len(top) > 1 {
		if st.Messages, err = r.messages(top[1]); err != nil {
			return State{}, nil, err
		}
	}
	if len(top) > 2 {
		if st.Plan, err = r.plan(top[2]); err != nil {
			return State{}, nil, err
		}
	}
	if len(top) > 3 {
		if st.Settings, err = r.settings(top[3], schema); err != nil {
			return State{}, nil, err
		}
	}
	r.extra(top, 4, "$")

	if len(r.drift) == 0 {
		return st, nil, nil
	}

	return st, []errs.SchemaDriftWarning{{Paths: r.drift}}, nil
}

type reader struct {
	drift []string
}

func corrupt(path, reason string) error {
	return fmt.Errorf("%w: %s: %s", errs.ErrCorruptState, path, reason)
}

func kind(raw []byte) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}

	return raw[0]
}

// extra records elements from index known onwards as drift.
func (r *reader) extra(elems []json.RawMessage, known int, path string) {
	for i := known; i < len(elems); i++ {
		r.drift = append(r.drift, fmt.Sprintf("%s[%d]", path, i))
	}
}

func (r *reader) array(raw []byte, path string) ([]json.RawMessage, error) {
	if kind(raw) != '[' {
		return nil, corrupt(path, "expected array")
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, corrupt(path, err.Error())
	}

	return elems, nil
}

func (r *reader) str(raw []byte, path string) (string, error) {
	if kind(raw) != '"' {
		return "", corrupt(path, "expected string")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", corrupt(path, err.Error())
	}

	return s, nil
}

func (r *reader) unsigned(raw []byte, path string) (uint64, error) {
	if c := kind(raw); c < '0' || c > '9' {
		return 0, corrupt(path, "expected unsigned integer")
	}

	var v uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, corrupt(path, err.Error())
	}

	return v, nil
}

func (r *reader) signed(raw []byte, path string) (int64, error) {
	if c := kind(raw); c != '-' && (c < '0' || c > '9') {
		return 0, corrupt(path, "expected integer")
	}

	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, corrupt(path, err.Error())
	}

	return v, nil
}

func (r *reader) messages(raw []byte) ([]Message, error) {
	elems, err := r.array(raw, "$[1]")
	if err != nil || len(elems) == 0 {
		return nil, err
	}

	msgs := make([]Message, len(elems))
	for i, elem := range elems {
		path := fmt.Sprintf("$[1][%d]", i)
		fields, err := r.array(elem, path)
		if err != nil {
			return nil, err
		}
		if len(fields) < 2 {
			return nil, corrupt(path, "message needs role and content")
		}

		role, err := r.str(fields[0], path+"[0]")
		if err != nil {
			return nil, err
		}
		if !Role(role).IsKnown() {
			return nil, corrupt(path+"[0]", fmt.Sprintf("unknown role %q", role))
		}
		content, err := r.str(fields[1], path+"[1]")
		if err != nil {
			return nil, err
		}
		ordinal := uint64(i)
		if len(fields) > 2 {
			if ordinal, err = r.unsigned(fields[2], path+"[2]"); err != nil {
				return nil, err
			}
		}
		r.extra(fields, 3, path)

		msgs[i] = Message{Role: Role(role), Content: content, Ordinal: ordinal}
	}

	return msgs, nil
}

func (r *reader) plan(raw []byte) ([]PlanNode, error) {
	elems, err := r.array(raw, "$[2]")
	if err != nil || len(elems) == 0 {
		return nil, err
	}

	nodes := make([]PlanNode, len(elems))
	siblings := make(map[string]int64)
	for i, elem := range elems {
		path := fmt.Sprintf("$[2][%d]", i)
		fields, err := r.array(elem, path)
		if err != nil {
			return nil, err
		}
		if len(fields) < 3 {
			return nil, corrupt(path, "node needs id, parent and text")
		}

		var n PlanNode
		if n.ID, err = r.str(fields[0], path+"[0]"); err != nil {
			return nil, err
		}
		if n.ParentID, err = r.str(fields[1], path+"[1]"); err != nil {
			return nil, err
		}
		if n.Text, err = r.str(fields[2], path+"[2]"); err != nil {
			return nil, err
		}
		n.Order = siblings[n.ParentID]
		if len(fields) > 3 {
			if n.Order, err = r.signed(fields[3], path+"[3]"); err != nil {
				return nil, err
			}
		}
		siblings[n.ParentID]++
		r.extra(fields, 4, path)

		nodes[i] = n
	}

	if _, err := OrderPlan(nodes); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrCorruptState, err)
	}

	return nodes, nil
}

func (r *reader) settings(raw []byte, schema *Schema) (map[string]string, error) {
	elems, err := r.array(raw, "$[3]")
	if err != nil || len(elems) == 0 {
		return nil, err
	}

	settings := make(map[string]string, len(elems))
	for i, elem := range elems {
		path := fmt.Sprintf("$[3][%d]", i)
		fields, err := r.array(elem, path)
		if err != nil {
			return nil, err
		}
		if len(fields) < 2 {
			return nil, corrupt(path, "setting needs key and value")
		}

		key, err := r.str(fields[0], path+"[0]")
		if err != nil {
			return nil, err
		}
		value, err := r.str(fields[1], path+"[1]")
		if err != nil {
			return nil, err
		}
		if _, dup := settings[key]; dup {
			return nil, corrupt(path, fmt.Sprintf("duplicate setting %q", key))
		}
		if !schema.Has(key) {
			r.drift = append(r.drift, path)
			continue
		}
		r.extra(fields, 2, path)

		settings[key] = value
	}

	if len(settings) == 0 {
		return nil, nil
	}

	return settings, nil
}
