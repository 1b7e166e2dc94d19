// Package options implements the generic functional-option pattern shared by
// the codec, tokenizer, framer and scheduler constructors.
package options

import (
	"fmt"

	"github.com/arloliu/urlstate/errs"
)

// Option represents a functional option for configuring any type T.
type Option[T any] interface {
	apply(T) error
}

// Func is a generic functional option that wraps a function.
type Func[T any] struct {
	applyFunc func(T) error
}

func (f *Func[T]) apply(target T) error {
	return f.applyFunc(target)
}

// New creates a functional option from a function that may reject its input.
func New[T any](fn func(T) error) *Func[T] {
	return &Func[T]{applyFunc: fn}
}

// NoError creates a functional option from a function that cannot fail.
func NoError[T any](fn func(T)) *Func[T] {
	return &Func[T]{
		applyFunc: func(target T) error {
			fn(target)
			return nil
		},
	}
}

// Apply applies options in order and stops at the first failure.
//
// Failures are reported as errs.ErrInvalidConfig so constructors return a
// single, matchable error class for every bad option. Nil options are skipped.
func Apply[T any](target T, opts ...Option[T]) error {
	for i, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(target); err != nil {
			return fmt.Errorf("%w: option %d: %w", errs.ErrInvalidConfig, i, err)
		}
	}

	return nil
}
