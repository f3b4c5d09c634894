package mpx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThreadSupportString(t *testing.T) {
	require.Equal(t, "MPI_THREAD_SINGLE", ThreadSingle.String())
	require.Equal(t, "MPI_THREAD_FUNNELED", ThreadFunneled.String())
	require.Equal(t, "MPI_THREAD_SERIALIZED", ThreadSerialized.String())
	require.Equal(t, "MPI_THREAD_MULTIPLE", ThreadMultiple.String())
	require.Equal(t, "MPI_THREAD_INVALID(42)", ThreadSupport(42).String())
}

func TestParseThreadSupportRoundTrip(t *testing.T) {
	for _, level := range []ThreadSupport{ThreadSingle, ThreadFunneled, ThreadSerialized, ThreadMultiple} {
		got, err := ParseThreadSupport(level.String())
		require.NoError(t, err)
		require.Equal(t, level, got)
	}
}

func TestParseThreadSupportUnknown(t *testing.T) {
	_, err := ParseThreadSupport("MPI_THREAD_BOGUS")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidArgument)

	var iae *InvalidArgumentError
	require.ErrorAs(t, err, &iae)
	require.Equal(t, "MPI_THREAD_BOGUS", iae.Value)
	require.Equal(t, "mpx.ThreadSupport", iae.Target)
}

func TestThreadSupportOrdering(t *testing.T) {
	require.True(t, ThreadSingle < ThreadFunneled)
	require.True(t, ThreadFunneled < ThreadSerialized)
	require.True(t, ThreadSerialized < ThreadMultiple)
}
