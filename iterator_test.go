package mpx

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestIteratorTraversal(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"a", "1"}, Pair{"b", "2"}, Pair{"c", "3"})
	defer m.Free()

	var keys []string
	for it := m.Begin(); !it.IsEnd(); it = it.Next() {
		keys = append(keys, it.Key())
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, keys); diff != "" {
		t.Fatalf("traversal mismatch (-want +got):\n%s", diff)
	}
}

func TestIteratorArithmetic(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"a", "1"}, Pair{"b", "2"}, Pair{"c", "3"})
	defer m.Free()

	it := m.Begin().Add(2)
	require.Equal(t, "c", it.Key())
	require.Equal(t, "b", it.Sub(1).Key())
	require.Equal(t, "a", it.Prev().Prev().Key())

	k, v := m.Begin().At(1)
	require.Equal(t, "b", k)
	require.Equal(t, "2", v)

	require.Equal(t, 3, m.End().Distance(m.Begin()))
	require.Equal(t, -1, m.Begin().Compare(m.End()))
	require.Equal(t, 1, m.End().Compare(m.Begin()))
	require.Equal(t, 0, it.Compare(m.Begin().Add(2)))
	require.True(t, m.Begin().Add(3).Equal(m.End()))

	// Positions outside [0, Len] are contract violations.
	require.Panics(t, func() { m.Begin().Sub(1) })
	require.Panics(t, func() { m.End().Next() })
}

func TestIteratorDereference(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"k", "v"})
	defer m.Free()

	it := m.Begin()
	require.Equal(t, "k", it.Key())
	require.Equal(t, "v", it.Value())

	it.Entry().Set("written")
	require.Equal(t, "written", it.Value())

	require.Panics(t, func() { m.End().Key() })
	require.Panics(t, func() { m.End().Value() })
	require.Panics(t, func() { m.End().Entry() })
}

func TestIteratorInvalidation(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"a", "1"}, Pair{"b", "2"})
	defer m.Free()

	// Overwriting an existing key does not invalidate.
	it := m.Begin()
	m.Put("a", "11")
	require.Equal(t, "a", it.Key())

	// Inserting a new key does.
	m.Put("c", "3")
	require.Panics(t, func() { it.Key() })

	it = m.Begin()
	m.Erase("c")
	require.Panics(t, func() { it.Key() })

	it = m.Begin()
	m.Clear()
	require.Panics(t, func() { it.Key() })
}

func TestIteratorInvalidationOnMoveAndSwap(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"a", "1"})
	defer m.Free()

	it := m.Begin()
	moved := m.Move()
	defer moved.Free()
	require.Panics(t, func() { it.Key() })

	other := NewInfoMapFromPairs(Pair{"b", "2"})
	defer other.Free()
	it = moved.Begin()
	moved.Swap(other)
	require.Panics(t, func() { it.Key() })
}

func TestIteratorCrossMapPanics(t *testing.T) {
	_, _ = newTestSession(t)

	a := NewInfoMapFromPairs(Pair{"a", "1"})
	b := NewInfoMapFromPairs(Pair{"b", "2"})
	defer a.Free()
	defer b.Free()

	require.Panics(t, func() { a.Begin().Equal(b.Begin()) })
	require.Panics(t, func() { a.Begin().Distance(b.End()) })
	require.Panics(t, func() { a.Begin().Compare(b.Begin()) })
}

func TestSingularIteratorPanics(t *testing.T) {
	_, _ = newTestSession(t)

	var it Iterator
	require.Panics(t, func() { it.Next() })
	require.Panics(t, func() { it.Key() })
	require.Panics(t, func() { it.IsEnd() })
}

func TestEraseAtReturnsFollowingEntry(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"a", "1"}, Pair{"b", "2"}, Pair{"c", "3"})
	defer m.Free()

	it := m.Begin().Add(1)
	next := m.EraseAt(it)
	require.Equal(t, "c", next.Key())

	// Erasing the last entry yields End.
	last := m.Begin().Add(1)
	require.True(t, m.EraseAt(last).IsEnd())

	// The returned iterator is valid against the mutated map; the old one
	// is not.
	require.Panics(t, func() { it.Key() })
}
