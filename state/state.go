// Package state models the application state carried in a fragment and its
// canonical text form.
//
// The canonical form is compact JSON made of positional arrays, never
// objects, so the text is short, its field order is fixed, and newer writers
// can append fields that older readers skip:
//
//	[schemaVersion, messages, plan, settings, ...]
//	messages = [[role, content, ordinal, ...], ...]
//	plan     = [[id, parentID, text, order, ...], ...]  depth-first, siblings by (order, id)
//	settings = [[key, value, ...], ...]                  schema key order
package state

import (
	"fmt"
	"maps"
	"slices"
	"unicode/utf8"

	"github.com/arloliu/urlstate/errs"
)

// Role identifies the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// IsKnown reports whether r is a role the inference proxy accepts.
func (r Role) IsKnown() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message is one chat turn. Ordinal orders turns in time.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Ordinal uint64 `json:"ordinal"`
}

// PlanNode is one node of the essay-plan tree.
//
// Nodes form an arena: ParentID refers to another node's ID, "" marks a root.
// Order positions a node among its siblings.
type PlanNode struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Text     string `json:"text"`
	Order    int64  `json:"order"`
}

// State is everything the application persists in its URL.
type State struct {
	Messages []Message         `json:"messages,omitempty"`
	Plan     []PlanNode        `json:"plan,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
}

// Empty returns the state shown when a fragment cannot be decoded.
func Empty() State {
	return State{}
}

// IsEmpty reports whether s holds no messages, plan nodes or settings.
func (s State) IsEmpty() bool {
	return len(s.Messages) == 0 && len(s.Plan) == 0 && len(s.Settings) == 0
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	return State{
		Messages: slices.Clone(s.Messages),
		Plan:     slices.Clone(s.Plan),
		Settings: maps.Clone(s.Settings),
	}
}

// Equal reports whether a and b canonicalize identically: messages in the
// same order, the same plan nodes in any order, and the same settings.
// Nil and empty collections are equal.
func Equal(a, b State) bool {
	if len(a.Messages) != len(b.Messages) || len(a.Plan) != len(b.Plan) || len(a.Settings) != len(b.Settings) {
		return false
	}
	if !slices.Equal(a.Messages, b.Messages) {
		return false
	}
	if !maps.Equal(a.Settings, b.Settings) {
		return false
	}

	nodes := make(map[string]PlanNode, len(a.Plan))
	for _, n := range a.Plan {
		nodes[n.ID] = n
	}
	for _, n := range b.Plan {
		if other, ok := nodes[n.ID]; !ok || other != n {
			return false
		}
	}

	return true
}

// validateMessages checks roles and text encoding.
func validateMessages(msgs []Message) error {
	for i, m := range msgs {
		if !m.Role.IsKnown() {
			return fmt.Errorf("%w: message %d has role %q", errs.ErrInvalidMessage, i, m.Role)
		}
		if !utf8.ValidString(m.Content) {
			return fmt.Errorf("%w: message %d content is not valid UTF-8", errs.ErrInvalidMessage, i)
		}
	}

	return nil
}
