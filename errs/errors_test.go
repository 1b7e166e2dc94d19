package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameError(t *testing.T) {
	err := NewFrameError("unknown format version %d", 9)
	require.ErrorIs(t, err, ErrFrame)
	require.NotErrorIs(t, err, ErrCorruptPayload)
	require.Equal(t, "invalid fragment envelope: unknown format version 9", err.Error())

	cause := errors.New("illegal base64 data at input byte 3")
	wrapped := &FrameError{Reason: "bad alphabet", Err: cause}
	require.ErrorIs(t, wrapped, ErrFrame)
	require.ErrorIs(t, wrapped, cause)
	require.Contains(t, wrapped.Error(), "bad alphabet")

	var fe *FrameError
	require.ErrorAs(t, fmt.Errorf("decode: %w", wrapped), &fe)
	require.Equal(t, "bad alphabet", fe.Reason)
}

func TestDictionaryMismatchError(t *testing.T) {
	err := &DictionaryMismatchError{WantID: "inspector", WantVersion: 2, HaveID: "inspector"}
	require.ErrorIs(t, err, ErrDictionaryMismatch)
	require.Contains(t, err.Error(), "inspector v2")

	var me *DictionaryMismatchError
	require.ErrorAs(t, fmt.Errorf("decode: %w", err), &me)
	require.Equal(t, uint64(2), me.WantVersion)
}

func TestStateTooLargeError(t *testing.T) {
	err := &StateTooLargeError{Size: 2400, Budget: 2000}
	require.ErrorIs(t, err, ErrStateTooLarge)
	require.Equal(t, "state too large for fragment budget: 2400 > 2000", err.Error())

	err.Applied = []string{"trim-history", "drop-optional-settings"}
	require.Contains(t, err.Error(), "after trim-history, drop-optional-settings")
}

func TestSchemaDriftWarning(t *testing.T) {
	w := SchemaDriftWarning{Paths: []string{"$[4]", "$[1][0][3]"}}
	require.ErrorIs(t, w, ErrSchemaDrift)
	require.Contains(t, w.Error(), "$[4], $[1][0][3]")
}
