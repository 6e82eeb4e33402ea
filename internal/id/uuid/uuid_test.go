package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewBatchIDIsTimeOrdered(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewBatchID()
	require.NoError(t, err)
	second, err := gen.NewBatchID()
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.Equal(t, goUUID.Version(7), first.Version())
	require.LessOrEqual(t, first.String(), second.String())
}

func TestNewRequestID(t *testing.T) {
	t.Parallel()

	gen := New()
	id := gen.NewRequestID()
	parsed, err := goUUID.Parse(id)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(4), parsed.Version())
	require.NotEqual(t, id, gen.NewRequestID())
}
