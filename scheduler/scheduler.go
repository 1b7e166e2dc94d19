// Package scheduler drives encodes from state-change events.
//
// A Scheduler moves through three phases. A change while Idle enters Pending
// and starts a debounce timer; every further change while Pending restarts
// it. When the timer fires the scheduler enters Encoding and runs exactly one
// encode against the latest snapshot in a worker goroutine. A change that
// arrives while Encoding is remembered, and when the encode finishes the
// scheduler goes straight back to Pending. The fragment therefore always
// converges on the newest state and at most one encode is ever in flight.
//
// Results are written through Location.ReplaceFragment by the scheduler's
// loop only. A failed encode leaves the previous fragment in place and is
// reported to the error handler.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/internal/options"
	"github.com/arloliu/urlstate/state"
)

// DefaultDebounce is the quiet period before an encode starts.
const DefaultDebounce = 300 * time.Millisecond

// Phase is the scheduler's state.
type Phase int

const (
	Idle Phase = iota
	Pending
	Encoding
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Encoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// EncodeFunc produces the fragment for a state snapshot.
type EncodeFunc func(ctx context.Context, st state.State) (string, error)

// Stats are point-in-time counters.
type Stats struct {
	Notifies      int64         `json:"notifies"`
	Encodes       int64         `json:"encodes"`
	Writes        int64         `json:"writes"`
	Failures      int64         `json:"failures"`
	AvgEncodeTime time.Duration `json:"avg_encode_time"`
}

type outcome struct {
	fragment string
	err      error
	elapsed  time.Duration
}

// Scheduler is safe for concurrent use. Call Run to start it.
type Scheduler struct {
	encode   EncodeFunc
	location Location
	debounce time.Duration
	logger   *slog.Logger
	onError  func(error)

	mu     sync.Mutex
	phase  Phase
	latest state.State
	dirty  bool
	idle   chan struct{} // closed while phase == Idle

	signal  chan struct{}
	results chan outcome
	running atomic.Bool
	stopped chan struct{}

	notifies atomic.Int64
	encodes  atomic.Int64
	writes   atomic.Int64
	failures atomic.Int64
	encodeNs atomic.Int64
}

// Option configures a Scheduler.
type Option = options.Option[*Scheduler]

// WithDebounce sets the quiet period before an encode starts.
func WithDebounce(d time.Duration) Option {
	return options.New(func(s *Scheduler) error {
		if d <= 0 {
			return errors.New("debounce must be positive")
		}
		s.debounce = d

		return nil
	})
}

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return options.NoError(func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	})
}

// WithErrorHandler receives encode and write failures, for example a
// *errs.StateTooLargeError to show in the editor. It runs on the scheduler's loop.
func WithErrorHandler(fn func(error)) Option {
	return options.NoError(func(s *Scheduler) {
		s.onError = fn
	})
}

// New creates a scheduler that writes encode results to location.
func New(encode EncodeFunc, location Location, opts ...Option) (*Scheduler, error) {
	if encode == nil || location == nil {
		return nil, fmt.Errorf("%w: scheduler needs an encode function and a location", errs.ErrInvalidConfig)
	}

	idle := make(chan struct{})
	close(idle)

	s := &Scheduler{
		encode:   encode,
		location: location,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		idle:     idle,
		signal:   make(chan struct{}, 1),
		results:  make(chan outcome, 1),
		stopped:  make(chan struct{}),
	}
	if err := options.Apply(s, opts...); err != nil {
		return nil, err
	}

	return s, nil
}

// Notify records st as the latest state and schedules an encode.
// The scheduler keeps its own copy of st.
func (s *Scheduler) Notify(st state.State) error {
	select {
	case <-s.stopped:
		return errs.ErrSchedulerClosed
	default:
	}

	snapshot := st.Clone()

	s.mu.Lock()
	s.latest = snapshot
	switch s.phase {
	case Idle:
		s.setPhase(Pending)
	case Encoding:
		s.dirty = true
	}
	s.mu.Unlock()

	s.notifies.Add(1)
	select {
	case s.signal <- struct{}{}:
	default:
	}

	return nil
}

// State returns the current phase.
func (s *Scheduler) State() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.phase
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Notifies: s.notifies.Load(),
		Encodes:  s.encodes.Load(),
		Writes:   s.writes.Load(),
		Failures: s.failures.Load(),
	}
	if st.Encodes > 0 {
		st.AvgEncodeTime = time.Duration(s.encodeNs.Load() / st.Encodes)
	}

	return st
}

// Flush blocks until the scheduler is Idle with nothing pending, ctx ends or the loop exits.
func (s *Scheduler) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.phase == Idle {
			s.mu.Unlock()
			return nil
		}
		idle := s.idle
		s.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopped:
			return errs.ErrSchedulerClosed
		}
	}
}

// Run drives the scheduler until ctx is canceled. An encode still in flight
// at that point is waited for and its result discarded.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: scheduler already running", errs.ErrInvalidConfig)
	}
	defer close(s.stopped)

	timer := time.NewTimer(s.debounce)
	timer.Stop()
	defer timer.Stop()

	s.logger.Debug("scheduler started", "debounce", s.debounce)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			inFlight := s.phase == Encoding
			s.mu.Unlock()
			if inFlight {
				<-s.results
			}
			s.mu.Lock()
			s.setPhase(Idle)
			s.mu.Unlock()
			s.logger.Debug("scheduler stopped")

			return ctx.Err()

		case <-s.signal:
			s.mu.Lock()
			if s.phase == Pending {
				timer.Reset(s.debounce)
			}
			s.mu.Unlock()

		case <-timer.C:
			s.mu.Lock()
			if s.phase != Pending {
				s.mu.Unlock()
				continue
			}
			s.setPhase(Encoding)
			snapshot := s.latest
			s.mu.Unlock()

			s.encodes.Add(1)
			go s.work(ctx, snapshot)

		case out := <-s.results:
			s.complete(out)

			s.mu.Lock()
			if s.dirty {
				s.dirty = false
				s.setPhase(Pending)
				timer.Reset(s.debounce)
			} else {
				s.setPhase(Idle)
			}
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) work(ctx context.Context, snapshot state.State) {
	start := time.Now()
	fragment, err := s.encode(ctx, snapshot)
	s.results <- outcome{fragment: fragment, err: err, elapsed: time.Since(start)}
}

// complete writes a successful result or reports a failure.
func (s *Scheduler) complete(out outcome) {
	s.encodeNs.Add(int64(out.elapsed))

	err := out.err
	if err == nil && out.fragment != s.location.Fragment() {
		if err = s.location.ReplaceFragment(out.fragment); err == nil {
			s.writes.Add(1)
			s.logger.Debug("fragment replaced", "size", len(out.fragment), "duration", out.elapsed)
		}
	}
	if err == nil {
		return
	}

	s.failures.Add(1)
	s.logger.Error("encode failed, keeping previous fragment", "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

// setPhase must be called with mu held.
func (s *Scheduler) setPhase(p Phase) {
	if p == s.phase {
		return
	}
	if s.phase == Idle {
		s.idle = make(chan struct{})
	}
	if p == Idle {
		close(s.idle)
	}
	s.phase = p
}
