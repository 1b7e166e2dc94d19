package urlstate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/arloliu/urlstate/compress"
	"github.com/arloliu/urlstate/dictionary"
	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/format"
	"github.com/arloliu/urlstate/frame"
	"github.com/arloliu/urlstate/internal/hash"
	"github.com/arloliu/urlstate/scheduler"
	"github.com/arloliu/urlstate/state"
	"github.com/arloliu/urlstate/tokenize"
)

const packID = "an-inspector-calls"

func buildDict(t *testing.T, version uint64) *dictionary.Dictionary {
	t.Helper()
	d, err := dictionary.NewBuilder(packID, version).
		Add("Inspector Goole", "Inspector", "Birling", "Sheila", "Eric", "Gerald",
			"responsibility", `"],["`, `["user","`, `["assistant","`, "Priestley").
		Build()
	require.NoError(t, err)

	return d
}

func newRegistry(t *testing.T, versions ...uint64) *dictionary.Registry {
	t.Helper()
	reg, err := dictionary.NewRegistry()
	require.NoError(t, err)
	for _, v := range versions {
		require.NoError(t, reg.Register(buildDict(t, v)))
	}

	return reg
}

func sampleState() state.State {
	return state.State{
		Messages: []state.Message{
			{Role: state.RoleUser, Content: "How does Priestley present Mr Birling?", Ordinal: 0},
			{Role: state.RoleAssistant, Content: "Start with his speech about responsibility in Act 1.", Ordinal: 1},
			{Role: state.RoleUser, Content: "And Inspector Goole?", Ordinal: 2},
		},
		Plan: []state.PlanNode{
			{ID: "intro", Text: "Birling as a capitalist", Order: 0},
			{ID: "p1", ParentID: "intro", Text: "\"a man has to look after himself\"", Order: 0},
			{ID: "p2", ParentID: "intro", Text: "Sheila & Eric change", Order: 1},
		},
		Settings: map[string]string{
			"mode":       "essay",
			"exam_board": "AQA",
			"theme":      "dark",
		},
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	reg := newRegistry(t, 1)

	tests := []struct {
		name string
		opts []Option
	}{
		{"default", nil},
		{"zstd", []Option{WithCompression(format.CompressionZstd)}},
		{"s2", []Option{WithCompression(format.CompressionS2)}},
		{"lz4", []Option{WithCompression(format.CompressionLZ4)}},
		{"none", []Option{WithCompression(format.CompressionNone)}},
		{"v1", []Option{WithFormatVersion(format.FormatV1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := NewCodec(reg, packID, tt.opts...)
			require.NoError(t, err)

			st := sampleState()
			res, err := codec.Encode(context.Background(), st)
			require.NoError(t, err)
			require.False(t, res.Degraded())
			require.Equal(t, len(res.Fragment), res.Size)
			require.NotContains(t, res.Fragment, "#")

			back, err := codec.Decode(context.Background(), "#"+res.Fragment)
			require.NoError(t, err)
			require.Empty(t, back.Warnings)
			require.True(t, state.Equal(st, back.State))
			require.Equal(t, packID, back.DictionaryID)
			require.Equal(t, uint64(1), back.DictionaryVersion)
		})
	}
}

func TestCodec_EmptyState(t *testing.T) {
	codec, err := NewCodec(newRegistry(t, 1), packID)
	require.NoError(t, err)

	res, err := codec.Encode(context.Background(), state.Empty())
	require.NoError(t, err)

	back, err := codec.Decode(context.Background(), res.Fragment)
	require.NoError(t, err)
	require.True(t, back.State.IsEmpty())
}

func TestCodec_EncodeIsDeterministic(t *testing.T) {
	codec, err := NewCodec(newRegistry(t, 1), packID)
	require.NoError(t, err)

	a, err := codec.Encode(context.Background(), sampleState())
	require.NoError(t, err)
	b, err := codec.Encode(context.Background(), sampleState())
	require.NoError(t, err)
	require.Equal(t, a.Fragment, b.Fragment)

	// one tokenizer per dictionary
	require.Len(t, codec.tokenizers, 1)
}

func TestCodec_UsesLatestOrPinnedVersion(t *testing.T) {
	reg := newRegistry(t, 1, 2)

	latest, err := NewCodec(reg, packID)
	require.NoError(t, err)
	res, err := latest.Encode(context.Background(), sampleState())
	require.NoError(t, err)
	env, err := frame.Unframe(res.Fragment)
	require.NoError(t, err)
	require.Equal(t, uint64(2), env.DictionaryVersion)

	pinned, err := NewCodec(reg, packID, WithDictionaryVersion(1))
	require.NoError(t, err)
	res, err = pinned.Encode(context.Background(), sampleState())
	require.NoError(t, err)
	env, err = frame.Unframe(res.Fragment)
	require.NoError(t, err)
	require.Equal(t, uint64(1), env.DictionaryVersion)

	// the newer decoder still reads links written with v1
	back, err := latest.Decode(context.Background(), res.Fragment)
	require.NoError(t, err)
	require.True(t, state.Equal(sampleState(), back.State))
}

func TestCodec_DictionaryMismatch(t *testing.T) {
	writer, err := NewCodec(newRegistry(t, 2), packID)
	require.NoError(t, err)
	res, err := writer.Encode(context.Background(), sampleState())
	require.NoError(t, err)

	t.Run("version no longer published", func(t *testing.T) {
		reader, err := NewCodec(newRegistry(t, 3), packID)
		require.NoError(t, err)

		out, err := reader.DecodeOrDefault(context.Background(), res.Fragment)
		require.ErrorIs(t, err, errs.ErrDictionaryMismatch)
		require.True(t, out.State.IsEmpty())

		var mismatch *errs.DictionaryMismatchError
		require.ErrorAs(t, err, &mismatch)
		require.Equal(t, packID, mismatch.WantID)
		require.Equal(t, uint64(2), mismatch.WantVersion)
		require.Contains(t, err.Error(), "link needs an-inspector-calls v2")
	})

	t.Run("other content pack", func(t *testing.T) {
		reg, err := dictionary.NewRegistry()
		require.NoError(t, err)
		other, err := dictionary.NewBuilder("macbeth", 2).Add("Macbeth", "Banquo").Build()
		require.NoError(t, err)
		require.NoError(t, reg.Register(other))

		reader, err := NewCodec(reg, "macbeth")
		require.NoError(t, err)

		_, err = reader.Decode(context.Background(), res.Fragment)
		var mismatch *errs.DictionaryMismatchError
		require.ErrorAs(t, err, &mismatch)
		require.Equal(t, "macbeth", mismatch.HaveID)
	})
}

func TestCodec_RejectsCorruptFragments(t *testing.T) {
	codec, err := NewCodec(newRegistry(t, 1), packID)
	require.NoError(t, err)
	res, err := codec.Encode(context.Background(), sampleState())
	require.NoError(t, err)

	t.Run("bad alphabet", func(t *testing.T) {
		out, err := codec.DecodeOrDefault(context.Background(), "not a fragment!")
		require.ErrorIs(t, err, errs.ErrFrame)
		require.True(t, out.State.IsEmpty())
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		env, err := frame.Unframe(res.Fragment)
		require.NoError(t, err)
		env.Checksum ^= 1
		tampered, err := frame.Frame(env)
		require.NoError(t, err)

		_, err = codec.Decode(context.Background(), tampered)
		require.ErrorIs(t, err, errs.ErrFrame)
		require.ErrorIs(t, err, errs.ErrCorruptPayload)
		require.Contains(t, err.Error(), "checksum")
	})

	t.Run("payload is not deflate", func(t *testing.T) {
		env, err := frame.Unframe(res.Fragment)
		require.NoError(t, err)
		env.Payload = []byte{0xff, 0xff, 0xff, 0xff}
		tampered, err := frame.Frame(env)
		require.NoError(t, err)

		_, err = codec.Decode(context.Background(), tampered)
		require.ErrorIs(t, err, errs.ErrCorruptPayload)
	})

	t.Run("payload is not a state", func(t *testing.T) {
		fragment := forge(t, buildDict(t, 1), `{"messages":[]}`)
		_, err := codec.Decode(context.Background(), fragment)
		require.ErrorIs(t, err, errs.ErrCorruptState)
	})

	t.Run("unknown code", func(t *testing.T) {
		payload, err := compress.NewFlateCompressor().Compress([]byte{0x1d})
		require.NoError(t, err)
		fragment, err := frame.Frame(&frame.Envelope{
			FormatVersion: format.FormatV2, Compression: format.CompressionFlate,
			DictionaryID: packID, DictionaryVersion: 1,
			Checksum: hash.Checksum32([]byte{0x1d}), Payload: payload,
		})
		require.NoError(t, err)

		_, err = codec.Decode(context.Background(), fragment)
		require.ErrorIs(t, err, errs.ErrFrame)
		require.ErrorIs(t, err, errs.ErrCorruptPayload)
	})
}

// forge frames arbitrary canonical text the way an encoder for a newer schema would.
func forge(t *testing.T, dict *dictionary.Dictionary, text string) string {
	t.Helper()
	tok, err := tokenize.New(dict)
	require.NoError(t, err)
	tokenized := tok.Tokenize([]byte(text))
	payload, err := compress.NewFlateCompressor().Compress(tokenized)
	require.NoError(t, err)

	fragment, err := frame.Frame(&frame.Envelope{
		FormatVersion:     format.FormatV2,
		Compression:       format.CompressionFlate,
		DictionaryID:      dict.ID,
		DictionaryVersion: dict.Version,
		Checksum:          hash.Checksum32(tokenized),
		Payload:           payload,
	})
	require.NoError(t, err)

	return fragment
}

func TestCodec_NewerSchemaDecodesWithWarnings(t *testing.T) {
	codec, err := NewCodec(newRegistry(t, 1), packID)
	require.NoError(t, err)

	fragment := forge(t, buildDict(t, 1), `[2,[["user","Is Sheila Birling guilty?",0,"starred"]],[],[["mode","essay"]],{"new":true}]`)

	res, err := codec.Decode(context.Background(), fragment)
	require.NoError(t, err)
	require.Len(t, res.State.Messages, 1)
	require.Equal(t, "Is Sheila Birling guilty?", res.State.Messages[0].Content)
	require.Equal(t, "essay", res.State.Settings["mode"])

	require.Len(t, res.Warnings, 1)
	require.ErrorIs(t, res.Warnings[0], errs.ErrSchemaDrift)
	require.ElementsMatch(t, []string{"$[4]", "$[1][0][3]"}, res.Warnings[0].Paths)
}

// transcript returns n turns of incompressible text.
func transcript(n int) state.State {
	rng := rand.New(rand.NewPCG(1, 2))
	st := state.State{Settings: map[string]string{"mode": "essay", "theme": "dark", "hints": "on"}}
	for i := range n {
		role := state.RoleUser
		if i%2 == 1 {
			role = state.RoleAssistant
		}
		st.Messages = append(st.Messages, state.Message{
			Role:    role,
			Content: fmt.Sprintf("turn %d %016x%016x", i, rng.Uint64(), rng.Uint64()),
			Ordinal: uint64(i), //nolint:gosec
		})
	}
	st.Plan = []state.PlanNode{{ID: "root", Text: "Inspector Goole as a mouthpiece"}}

	return st
}

// text fragments that stress escaping: raw control bytes, JSON structure,
// dictionary phrases and multi-byte runes.
var textPieces = []string{
	"\x00", "\x01", "\x1e", "\x1f", "\n", "\t", `"],["`, `["user","`, `\`, `"`,
	"Birling", "Inspector Goole", "responsibility", "Eva Smith’s diary", "試験", "📜", " ", "a", "Z9",
}

func randomText(rng *rand.Rand) string {
	var sb strings.Builder
	for range rng.IntN(12) {
		sb.WriteString(textPieces[rng.IntN(len(textPieces))])
	}

	return sb.String()
}

func randomState(rng *rand.Rand) state.State {
	roles := []state.Role{state.RoleUser, state.RoleAssistant, state.RoleSystem}

	var st state.State
	for range rng.IntN(6) {
		st.Messages = append(st.Messages, state.Message{
			Role:    roles[rng.IntN(len(roles))],
			Content: randomText(rng),
			Ordinal: rng.Uint64(),
		})
	}

	// parents always precede children, so the arena is a forest
	for i := range rng.IntN(8) {
		node := state.PlanNode{ID: fmt.Sprintf("n%d", i), Text: randomText(rng), Order: rng.Int64N(7) - 3}
		if i > 0 && rng.IntN(3) > 0 {
			node.ParentID = fmt.Sprintf("n%d", rng.IntN(i))
		}
		st.Plan = append(st.Plan, node)
	}
	rng.Shuffle(len(st.Plan), func(i, j int) { st.Plan[i], st.Plan[j] = st.Plan[j], st.Plan[i] })

	for _, key := range state.DefaultSchema().Keys() {
		if rng.IntN(2) == 0 {
			if st.Settings == nil {
				st.Settings = make(map[string]string)
			}
			st.Settings[key] = randomText(rng)
		}
	}

	return st
}

func TestCodec_GeneratedStatesRoundTrip(t *testing.T) {
	reg := newRegistry(t, 1)
	types := []format.CompressionType{
		format.CompressionNone, format.CompressionFlate, format.CompressionZstd,
		format.CompressionS2, format.CompressionLZ4,
	}

	for _, ct := range types {
		t.Run(ct.String(), func(t *testing.T) {
			codec, err := NewCodec(reg, packID, WithCompression(ct), WithBudget(frame.MaxFragmentLen))
			require.NoError(t, err)

			rng := rand.New(rand.NewPCG(7, 11))
			for i := range 300 {
				st := randomState(rng)

				res, err := codec.Encode(context.Background(), st)
				require.NoError(t, err, "state %d", i)
				require.False(t, res.Degraded(), "state %d", i)

				back, err := codec.Decode(context.Background(), res.Fragment)
				require.NoError(t, err, "state %d", i)
				require.True(t, state.Equal(st, back.State), "state %d: %+v != %+v", i, st, back.State)
				require.Equal(t, ct, back.Compression)
			}
		})
	}
}

func TestCodec_Overflow(t *testing.T) {
	reg := newRegistry(t, 1)

	t.Run("trims history to fit", func(t *testing.T) {
		codec, err := NewCodec(reg, packID, WithBudget(400), WithRetainedTurns(2))
		require.NoError(t, err)

		st := transcript(40)
		exact, err := codec.EncodeExact(context.Background(), st)
		require.NoError(t, err)
		require.Greater(t, len(exact), 400)

		res, err := codec.Encode(context.Background(), st)
		require.NoError(t, err)
		require.True(t, res.Degraded())
		require.Equal(t, []string{"trim-history(2)"}, res.Applied)
		require.LessOrEqual(t, res.Size, 400)

		back, err := codec.Decode(context.Background(), res.Fragment)
		require.NoError(t, err)
		require.Len(t, back.State.Messages, 2)
		require.Equal(t, st.Messages[38:], back.State.Messages)
		require.Equal(t, st.Plan, back.State.Plan)
		require.Len(t, st.Messages, 40, "input must not be modified")
	})

	t.Run("fails closed when nothing fits", func(t *testing.T) {
		codec, err := NewCodec(reg, packID, WithBudget(20))
		require.NoError(t, err)

		_, err = codec.Encode(context.Background(), transcript(4))
		require.ErrorIs(t, err, errs.ErrStateTooLarge)

		var tooLarge *errs.StateTooLargeError
		require.ErrorAs(t, err, &tooLarge)
		require.Equal(t, 20, tooLarge.Budget)
		require.Greater(t, tooLarge.Size, 20)
	})
}

func TestCodec_EncodeErrors(t *testing.T) {
	codec, err := NewCodec(newRegistry(t, 1), packID)
	require.NoError(t, err)

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := codec.EncodeExact(ctx, sampleState())
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("unknown setting", func(t *testing.T) {
		_, err := codec.Encode(context.Background(), state.State{Settings: map[string]string{"font": "serif"}})
		require.ErrorIs(t, err, errs.ErrUnknownSetting)
	})

	t.Run("no dictionary published", func(t *testing.T) {
		empty, err := dictionary.NewRegistry()
		require.NoError(t, err)
		c, err := NewCodec(empty, packID)
		require.NoError(t, err)

		_, err = c.Encode(context.Background(), sampleState())
		require.ErrorIs(t, err, errs.ErrDictionaryNotFound)
	})
}

func TestNewCodec_InvalidOptions(t *testing.T) {
	reg := newRegistry(t, 1)

	tests := map[string]struct {
		resolver dictionary.Resolver
		id       string
		opts     []Option
	}{
		"nil resolver":      {nil, packID, nil},
		"empty id":          {reg, "", nil},
		"long id":           {reg, strings.Repeat("x", 256), nil},
		"v1 with zstd":      {reg, packID, []Option{WithFormatVersion(format.FormatV1), WithCompression(format.CompressionZstd)}},
		"unknown format":    {reg, packID, []Option{WithFormatVersion(7)}},
		"unknown codec":     {reg, packID, []Option{WithCompression(0)}},
		"zero budget":       {reg, packID, []Option{WithBudget(0)}},
		"negative retained": {reg, packID, []Option{WithRetainedTurns(-1)}},
		"nil schema":        {reg, packID, []Option{WithSchema(nil)}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewCodec(tt.resolver, tt.id, tt.opts...)
			require.ErrorIs(t, err, errs.ErrInvalidConfig)
		})
	}
}

func TestCodec_Telemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	codec, err := NewCodec(newRegistry(t, 1), packID, WithMeterProvider(mp), WithTracerProvider(tp))
	require.NoError(t, err)

	res, err := codec.Encode(context.Background(), sampleState())
	require.NoError(t, err)
	_, err = codec.Decode(context.Background(), res.Fragment)
	require.NoError(t, err)
	_, err = codec.Decode(context.Background(), "%%%")
	require.Error(t, err)

	var names []string
	for _, s := range spans.Ended() {
		names = append(names, s.Name())
	}
	require.Subset(t, names, []string{
		"urlstate.canonicalize", "urlstate.tokenize", "urlstate.compress", "urlstate.frame",
		"urlstate.unframe", "urlstate.decompress", "urlstate.detokenize", "urlstate.reconstruct",
	})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}
	require.True(t, found["urlstate_encode_total"])
	require.True(t, found["urlstate_fragment_bytes"])
	require.True(t, found["urlstate_decode_failures_total"])
}

func TestCodec_NewScheduler(t *testing.T) {
	codec, err := NewCodec(newRegistry(t, 1), packID)
	require.NoError(t, err)

	loc := scheduler.NewMemoryLocation("")
	s, err := codec.NewScheduler(loc, scheduler.WithDebounce(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		require.ErrorIs(t, <-done, context.Canceled)
	}()

	st := sampleState()
	require.NoError(t, s.Notify(st))
	st.Messages = append(st.Messages, state.Message{Role: state.RoleAssistant, Content: "Eric confesses in Act 3.", Ordinal: 3})
	require.NoError(t, s.Notify(st))

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	require.NoError(t, s.Flush(flushCtx))

	back, err := codec.Decode(context.Background(), loc.Fragment())
	require.NoError(t, err)
	require.True(t, state.Equal(st, back.State))
	require.Equal(t, 1, loc.Writes())
}
