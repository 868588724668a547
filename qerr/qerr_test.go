package qerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_FormatsMessageAndCode(t *testing.T) {
	err := New(NOT_FOUND, "table %q", "t")
	require.Equal(t, NOT_FOUND, err.Code)
	require.Contains(t, err.Error(), "NOT_FOUND")
	require.Contains(t, err.Error(), `table "t"`)
}

func TestWithLoc_AppearsInErrorString(t *testing.T) {
	err := New(SYNTAX, "unexpected token").WithLoc(Loc{Line: 3, Col: 7})
	require.Contains(t, err.Error(), "3:7")
}

func TestWrap_PreservesCauseForUnwrap(t *testing.T) {
	root := errors.New("disk full")
	err := Wrap(INTERNAL, root, "flushing overlay")
	require.Equal(t, root, Cause(err))
	require.Equal(t, root, err.Unwrap().(interface{ Cause() error }).Cause())
}

func TestCode_DefaultsForForeignAndNilErrors(t *testing.T) {
	require.Equal(t, OK, Code(nil))
	require.Equal(t, ERROR, Code(errors.New("boom")))
	require.Equal(t, CONSTRAINT, Code(New(CONSTRAINT, "not null violated")))
}

func TestIs_MatchesByCode(t *testing.T) {
	err := New(CANCELLED, "statement aborted")
	require.True(t, Is(err, CANCELLED))
	require.False(t, Is(err, INTERNAL))
}

func TestWrapVtab_PrefixesTableNameAndPreservesCode(t *testing.T) {
	inner := New(CONSTRAINT, "duplicate key")
	wrapped := WrapVtab("accounts", inner)
	require.Equal(t, CONSTRAINT, wrapped.Code)
	require.Contains(t, wrapped.Error(), "accounts")
	require.Equal(t, inner, wrapped.Cause)
}

func TestStatusCode_StringCoversEveryConstant(t *testing.T) {
	codes := []StatusCode{OK, ERROR, INTERNAL, NOT_FOUND, CONSTRAINT, MISMATCH,
		MISUSE, RANGE, READONLY, CANCELLED, SCHEMA_CHANGED, UNSUPPORTED, SYNTAX, AMBIGUOUS}
	for _, c := range codes {
		require.NotEqual(t, "UNKNOWN", c.String())
	}
}
