// Package urlstate encodes an application's whole state into a URL fragment
// and decodes it back, with no server-side persistence.
//
// The write path is
//
//	State -> Canonicalize -> Tokenize -> Compress -> Frame -> fragment
//
// and the read path is its exact inverse. A Codec is bound to one content
// pack: it tokenizes with the pack's dictionary and refuses fragments that
// were written for a dictionary the resolver cannot supply.
//
// # Basic Usage
//
//	reg, _ := dictionary.NewRegistry()
//	_, _ = dictionary.LoadDir("./dictionaries", reg)
//
//	codec, _ := urlstate.NewCodec(reg, "an-inspector-calls")
//	res, _ := codec.Encode(ctx, st)
//	fmt.Println("#" + res.Fragment)
//
//	back, err := codec.Decode(ctx, res.Fragment)
//	if errors.Is(err, errs.ErrDictionaryMismatch) {
//	    // the link was written for another content pack version
//	}
//
// # Package Structure
//
// This package wires the stage packages (state, tokenize, compress, frame,
// overflow, scheduler) together. Use them directly for finer control.
package urlstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arloliu/urlstate/compress"
	"github.com/arloliu/urlstate/dictionary"
	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/format"
	"github.com/arloliu/urlstate/frame"
	"github.com/arloliu/urlstate/internal/hash"
	"github.com/arloliu/urlstate/internal/options"
	"github.com/arloliu/urlstate/internal/telemetry"
	"github.com/arloliu/urlstate/overflow"
	"github.com/arloliu/urlstate/scheduler"
	"github.com/arloliu/urlstate/state"
	"github.com/arloliu/urlstate/tokenize"
)

// Codec runs the full pipeline for one content pack.
//
// A Codec is safe for concurrent use.
type Codec struct {
	resolver      dictionary.Resolver
	dictID        string
	dictVersion   uint64
	compression   format.CompressionType
	formatVersion format.FormatVersion
	schema        *state.Schema
	budget        int
	retained      int
	logger        *slog.Logger

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	compressor compress.Codec
	engine     *overflow.Engine
	telemetry  *telemetry.Telemetry

	mu         sync.Mutex
	tokenizers map[uint64]*tokenize.Tokenizer
}

// Option configures a Codec.
type Option = options.Option[*Codec]

// WithDictionaryVersion pins the dictionary version used for encoding.
// The default, 0, uses the newest version the resolver has.
func WithDictionaryVersion(version uint64) Option {
	return options.NoError(func(c *Codec) {
		c.dictVersion = version
	})
}

// WithCompression selects the payload compression. The default is Flate.
func WithCompression(ct format.CompressionType) Option {
	return options.New(func(c *Codec) error {
		if !ct.IsKnown() {
			return fmt.Errorf("unknown compression 0x%02x", uint8(ct))
		}
		c.compression = ct

		return nil
	})
}

// WithFormatVersion selects the envelope layout written by Encode.
// Decode accepts every known layout regardless of this setting.
func WithFormatVersion(v format.FormatVersion) Option {
	return options.New(func(c *Codec) error {
		if !v.IsKnown() {
			return fmt.Errorf("unknown format version 0x%02x", uint8(v))
		}
		c.formatVersion = v

		return nil
	})
}

// WithSchema sets the settings schema. The default is state.DefaultSchema().
func WithSchema(schema *state.Schema) Option {
	return options.New(func(c *Codec) error {
		if schema == nil {
			return errors.New("schema must not be nil")
		}
		c.schema = schema

		return nil
	})
}

// WithBudget sets the maximum fragment length.
func WithBudget(budget int) Option {
	return options.New(func(c *Codec) error {
		if budget <= 0 {
			return errors.New("budget must be positive")
		}
		c.budget = budget

		return nil
	})
}

// WithRetainedTurns sets how many chat turns survive history trimming.
func WithRetainedTurns(n int) Option {
	return options.New(func(c *Codec) error {
		if n < 0 {
			return errors.New("retained turns must not be negative")
		}
		c.retained = n

		return nil
	})
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return options.NoError(func(c *Codec) {
		if logger != nil {
			c.logger = logger
		}
	})
}

// WithTracerProvider sets the provider for stage spans. The default is the otel global.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return options.NoError(func(c *Codec) {
		c.tracerProvider = tp
	})
}

// WithMeterProvider sets the provider for codec metrics. The default is the otel global.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return options.NoError(func(c *Codec) {
		c.meterProvider = mp
	})
}

// NewCodec creates a codec for content pack dictID.
//
// The dictionary itself is resolved on every call, so packs registered
// after construction are picked up.
//
// Parameters:
//   - resolver: Source of published dictionaries (usually a *dictionary.Registry)
//   - dictID: Content-pack id every fragment of this codec is bound to
//   - opts: Optional configuration functions (see Option)
//
// Returns:
//   - *Codec: The configured codec, safe for concurrent use.
//   - error: errs.ErrInvalidConfig if an argument or option is invalid.
//
// Example:
//
//	codec, err := urlstate.NewCodec(reg, "an-inspector-calls",
//	    urlstate.WithCompression(format.CompressionZstd),
//	    urlstate.WithBudget(1800))
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewCodec(resolver dictionary.Resolver, dictID string, opts ...Option) (*Codec, error) {
	if resolver == nil {
		return nil, fmt.Errorf("%w: resolver must not be nil", errs.ErrInvalidConfig)
	}
	if dictID == "" || len(dictID) > dictionary.MaxIDLen {
		return nil, fmt.Errorf("%w: dictionary id must be 1..%d bytes", errs.ErrInvalidConfig, dictionary.MaxIDLen)
	}

	c := &Codec{
		resolver:      resolver,
		dictID:        dictID,
		compression:   format.CompressionFlate,
		formatVersion: format.CurrentFormat,
		schema:        state.DefaultSchema(),
		budget:        overflow.DefaultBudget,
		retained:      overflow.DefaultRetainedTurns,
		logger:        slog.Default(),
		tokenizers:    make(map[uint64]*tokenize.Tokenizer),
	}
	if err := options.Apply(c, opts...); err != nil {
		return nil, err
	}

	if c.formatVersion == format.FormatV1 && c.compression != format.CompressionFlate {
		return nil, fmt.Errorf("%w: format V1 only carries flate payloads, got %s", errs.ErrInvalidConfig, c.compression)
	}

	var err error
	if c.compressor, err = compress.CreateCodec(c.compression, "fragment"); err != nil {
		return nil, err
	}

	c.engine, err = overflow.New(
		overflow.WithBudget(c.budget),
		overflow.WithSteps(overflow.DefaultSteps(c.retained, c.schema)...),
		overflow.WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}

	c.telemetry, err = telemetry.New(c.tracerProvider, c.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("%w: telemetry: %w", errs.ErrInvalidConfig, err)
	}

	return c, nil
}

// DictionaryID returns the content pack the codec is bound to.
func (c *Codec) DictionaryID() string {
	return c.dictID
}

// Budget returns the maximum fragment length.
func (c *Codec) Budget() int {
	return c.budget
}

// EncodeResult is the outcome of a successful Encode.
type EncodeResult struct {
	// Fragment is the URL fragment, without the leading '#'.
	Fragment string
	// Size is len(Fragment).
	Size int
	// Applied lists the degradation steps that were needed to fit the budget.
	Applied []string
	// State is the state Fragment encodes; it differs from the input when Applied is not empty.
	State state.State
}

// Degraded reports whether the encoded state lost content to fit the budget.
func (r EncodeResult) Degraded() bool {
	return len(r.Applied) > 0
}

// Encode encodes st, degrading it if needed to fit the budget.
//
// Nothing is partially written: a failed Encode produces no fragment.
//
// Parameters:
//   - ctx: Checked between pipeline stages; also carries the trace parent
//   - st: The state to encode; it is not modified
//
// Returns:
//   - EncodeResult: The fragment (without '#'), its size and any degradation applied.
//   - error: *errs.StateTooLargeError when no degradation fits, or a
//     validation error from the state package.
//
// Example:
//
//	res, err := codec.Encode(ctx, st)
//	if err != nil {
//	    return err
//	}
//	location.Hash = "#" + res.Fragment
func (c *Codec) Encode(ctx context.Context, st state.State) (EncodeResult, error) {
	res, err := c.engine.Encode(ctx, st, c.EncodeExact)
	if err != nil {
		c.logger.Error("encode failed", "dict_id", c.dictID, "error", err)
		return EncodeResult{}, err
	}

	c.telemetry.RecordEncode(ctx, res.Size, res.Applied)

	return EncodeResult{Fragment: res.Fragment, Size: res.Size, Applied: res.Applied, State: res.State}, nil
}

// EncodeExact encodes st as is, without any budget check.
func (c *Codec) EncodeExact(ctx context.Context, st state.State) (string, error) {
	dict, err := c.resolver.Resolve(c.dictID, c.dictVersion)
	if err != nil {
		return "", err
	}
	tok, err := c.tokenizer(dict)
	if err != nil {
		return "", err
	}

	_, span := c.telemetry.StartStage(ctx, "canonicalize")
	text, err := state.Canonicalize(st, c.schema)
	telemetry.EndStage(span, err)
	if err != nil {
		return "", err
	}
	if err = ctx.Err(); err != nil {
		return "", err
	}

	_, span = c.telemetry.StartStage(ctx, "tokenize", attribute.Int("input_bytes", len(text)))
	tokenized := tok.Tokenize(text)
	telemetry.EndStage(span, nil)
	if err = ctx.Err(); err != nil {
		return "", err
	}

	_, span = c.telemetry.StartStage(ctx, "compress", attribute.String("compression", c.compression.String()))
	payload, err := c.compressor.Compress(tokenized)
	telemetry.EndStage(span, err)
	if err != nil {
		return "", err
	}
	if err = ctx.Err(); err != nil {
		return "", err
	}

	env := &frame.Envelope{
		FormatVersion:     c.formatVersion,
		Compression:       c.compression,
		DictionaryID:      dict.ID,
		DictionaryVersion: dict.Version,
		Payload:           payload,
	}
	if c.formatVersion == format.FormatV2 {
		env.Checksum = hash.Checksum32(tokenized)
	}

	_, span = c.telemetry.StartStage(ctx, "frame")
	fragment, err := frame.Frame(env)
	telemetry.EndStage(span, err)
	if err != nil {
		return "", err
	}

	c.logger.Debug("state encoded",
		"dict_id", dict.ID, "dict_version", dict.Version,
		"canonical", len(text), "tokenized", len(tokenized), "compressed", len(payload), "size", len(fragment))

	return fragment, nil
}

// tokenizer returns the cached tokenizer for dict, building and validating it on first use.
func (c *Codec) tokenizer(dict *dictionary.Dictionary) (*tokenize.Tokenizer, error) {
	fp := dict.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	if tok, ok := c.tokenizers[fp]; ok {
		return tok, nil
	}

	tok, err := tokenize.New(dict)
	if err != nil {
		return nil, err
	}
	c.tokenizers[fp] = tok

	return tok, nil
}

// DecodeResult is the outcome of a successful Decode.
type DecodeResult struct {
	State state.State
	// Header fields of the fragment's envelope.
	FormatVersion     format.FormatVersion
	Compression       format.CompressionType
	DictionaryID      string
	DictionaryVersion uint64
	// Warnings lists fields a newer writer added that this decoder ignored.
	Warnings []errs.SchemaDriftWarning
}

// Decode restores the state a fragment encodes. A leading '#' is ignored.
//
// Parameters:
//   - ctx: Carries the trace parent
//   - fragment: The URL fragment, with or without its leading '#'
//
// Returns:
//   - DecodeResult: The state plus the envelope header and any drift warnings.
//   - error: See below; callers that show a fresh session on failure use DecodeOrDefault.
//
// Error conditions:
//   - *errs.FrameError for a malformed fragment; payload corruption also matches errs.ErrCorruptPayload
//   - *errs.DictionaryMismatchError when the fragment needs a dictionary the resolver lacks
//   - errs.ErrCorruptState when the payload is intact but does not describe a state
func (c *Codec) Decode(ctx context.Context, fragment string) (DecodeResult, error) {
	res, err := c.decode(ctx, fragment)
	if err != nil {
		c.telemetry.RecordDecodeFailure(ctx, err)
		c.logger.Warn("fragment rejected", "dict_id", c.dictID, "reason", telemetry.FailureReason(err), "error", err)

		return DecodeResult{}, err
	}

	for _, w := range res.Warnings {
		c.logger.Warn("fragment written by a newer schema", "dict_id", res.DictionaryID, "paths", w.Paths)
	}

	return res, nil
}

// DecodeOrDefault is Decode, but returns an empty state alongside any error
// so the caller can always render a safe default view.
func (c *Codec) DecodeOrDefault(ctx context.Context, fragment string) (DecodeResult, error) {
	res, err := c.Decode(ctx, fragment)
	if err != nil {
		return DecodeResult{State: state.Empty()}, err
	}

	return res, nil
}

func (c *Codec) decode(ctx context.Context, fragment string) (DecodeResult, error) {
	_, span := c.telemetry.StartStage(ctx, "unframe")
	env, err := frame.Unframe(fragment)
	telemetry.EndStage(span, err)
	if err != nil {
		return DecodeResult{}, err
	}

	dict, err := c.resolveFor(env)
	if err != nil {
		return DecodeResult{}, err
	}
	tok, err := c.tokenizer(dict)
	if err != nil {
		return DecodeResult{}, err
	}

	_, span = c.telemetry.StartStage(ctx, "decompress", attribute.String("compression", env.Compression.String()))
	tokenized, err := decompressPayload(env)
	telemetry.EndStage(span, err)
	if err != nil {
		return DecodeResult{}, err
	}

	_, span = c.telemetry.StartStage(ctx, "detokenize", attribute.Int("input_bytes", len(tokenized)))
	text, err := tok.Detokenize(tokenized)
	if err != nil {
		err = &errs.FrameError{Reason: "payload", Err: err}
	}
	telemetry.EndStage(span, err)
	if err != nil {
		return DecodeResult{}, err
	}

	_, span = c.telemetry.StartStage(ctx, "reconstruct")
	st, warnings, err := state.Reconstruct(text, c.schema)
	telemetry.EndStage(span, err)
	if err != nil {
		return DecodeResult{}, err
	}

	return DecodeResult{
		State:             st,
		FormatVersion:     env.FormatVersion,
		Compression:       env.Compression,
		DictionaryID:      env.DictionaryID,
		DictionaryVersion: env.DictionaryVersion,
		Warnings:          warnings,
	}, nil
}

// resolveFor finds the exact dictionary env was written with.
func (c *Codec) resolveFor(env *frame.Envelope) (*dictionary.Dictionary, error) {
	mismatch := &errs.DictionaryMismatchError{
		WantID:      env.DictionaryID,
		WantVersion: env.DictionaryVersion,
		HaveID:      c.dictID,
	}
	if env.DictionaryID != c.dictID {
		return nil, mismatch
	}

	dict, err := c.resolver.Resolve(env.DictionaryID, env.DictionaryVersion)
	if errors.Is(err, errs.ErrDictionaryNotFound) {
		return nil, mismatch
	}
	if err != nil {
		return nil, err
	}

	return dict, nil
}

func decompressPayload(env *frame.Envelope) ([]byte, error) {
	codec, err := compress.GetCodec(env.Compression)
	if err != nil {
		return nil, &errs.FrameError{Reason: "payload", Err: err}
	}

	tokenized, err := codec.Decompress(env.Payload)
	if err != nil {
		return nil, &errs.FrameError{Reason: "payload", Err: err}
	}

	if env.FormatVersion == format.FormatV2 {
		if sum := hash.Checksum32(tokenized); sum != env.Checksum {
			return nil, &errs.FrameError{
				Reason: "payload",
				Err:    fmt.Errorf("%w: checksum %08x, envelope says %08x", errs.ErrCorruptPayload, sum, env.Checksum),
			}
		}
	}

	return tokenized, nil
}

// NewScheduler creates a scheduler that encodes with c and writes to location.
// The scheduler logs through the codec's logger unless opts override it.
func (c *Codec) NewScheduler(location scheduler.Location, opts ...scheduler.Option) (*scheduler.Scheduler, error) {
	encode := func(ctx context.Context, st state.State) (string, error) {
		res, err := c.Encode(ctx, st)
		if err != nil {
			return "", err
		}

		return res.Fragment, nil
	}

	return scheduler.New(encode, location, append([]scheduler.Option{scheduler.WithLogger(c.logger)}, opts...)...)
}
