// Package overflow keeps encoded fragments within a length budget.
//
// When a fragment is too long the Engine applies degradation steps in a
// fixed order and re-encodes after each step that changed the state. It
// returns the first fragment that fits or an *errs.StateTooLargeError; it
// never returns an over-budget fragment. Essay-plan content is never touched.
package overflow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/internal/options"
	"github.com/arloliu/urlstate/state"
)

const (
	// DefaultBudget is a fragment length that survives common browsers and proxies.
	DefaultBudget = 2000
	// DefaultRetainedTurns is how many chat turns TrimHistory keeps.
	DefaultRetainedTurns = 20
)

// EncodeFunc encodes a state into a fragment.
type EncodeFunc func(ctx context.Context, st state.State) (string, error)

// Step is one degradation. Apply must not modify its input, and applying a
// step to its own output must report changed == false.
type Step interface {
	Name() string
	Apply(st state.State) (out state.State, changed bool)
}

// Result describes the fragment the engine settled on.
type Result struct {
	Fragment string
	// Size is len(Fragment).
	Size int
	// Applied lists the steps that changed the state, in order.
	Applied []string
	// State is the possibly degraded state that Fragment encodes.
	State state.State
}

// Degraded reports whether any step had to be applied.
func (r Result) Degraded() bool {
	return len(r.Applied) > 0
}

// Engine runs the overflow policy. It is immutable and safe for concurrent use.
type Engine struct {
	budget int
	steps  []Step
	logger *slog.Logger
}

// Option configures an Engine.
type Option = options.Option[*Engine]

// WithBudget sets the maximum fragment length in characters.
func WithBudget(budget int) Option {
	return options.New(func(e *Engine) error {
		if budget <= 0 {
			return errors.New("budget must be positive")
		}
		e.budget = budget

		return nil
	})
}

// WithSteps replaces the degradation steps.
func WithSteps(steps ...Step) Option {
	return options.NoError(func(e *Engine) {
		e.steps = steps
	})
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return options.NoError(func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	})
}

// DefaultSteps returns the standard policy: trim history, then drop optional settings.
func DefaultSteps(retained int, schema *state.Schema) []Step {
	return []Step{TrimHistory(retained), DropOptionalSettings(schema)}
}

// New creates an engine with DefaultBudget and DefaultSteps unless overridden.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		budget: DefaultBudget,
		steps:  DefaultSteps(DefaultRetainedTurns, state.DefaultSchema()),
		logger: slog.Default(),
	}
	if err := options.Apply(e, opts...); err != nil {
		return nil, err
	}

	return e, nil
}

// Budget returns the configured budget.
func (e *Engine) Budget() int {
	return e.budget
}

// Encode encodes st and degrades it until the fragment fits the budget.
//
// Steps run in order; a step that leaves the state unchanged is skipped
// without re-encoding.
//
// Parameters:
//   - ctx: Passed to encode and checked before each degraded attempt
//   - st: The state to encode
//   - encode: Produces a fragment for a state; its errors are returned as is
//
// Returns:
//   - Result: The first fragment within budget and the steps applied to reach it.
//   - error: *errs.StateTooLargeError when every step has run and the fragment is still too long.
//
// Example:
//
//	res, err := engine.Encode(ctx, st, codec.EncodeExact)
//	if err != nil {
//	    return err
//	}
func (e *Engine) Encode(ctx context.Context, st state.State, encode EncodeFunc) (Result, error) {
	fragment, err := encode(ctx, st)
	if err != nil {
		return Result{}, err
	}
	if len(fragment) <= e.budget {
		return Result{Fragment: fragment, Size: len(fragment), State: st}, nil
	}

	current := st
	var applied []string
	for _, step := range e.steps {
		next, changed := step.Apply(current)
		if !changed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		current = next
		applied = append(applied, step.Name())
		e.logger.Info("fragment over budget, degrading state",
			"step", step.Name(), "size", len(fragment), "budget", e.budget)

		if fragment, err = encode(ctx, current); err != nil {
			return Result{}, err
		}
		if len(fragment) <= e.budget {
			return Result{Fragment: fragment, Size: len(fragment), Applied: applied, State: current}, nil
		}
	}

	return Result{}, &errs.StateTooLargeError{Size: len(fragment), Budget: e.budget, Applied: applied}
}
