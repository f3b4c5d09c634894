package mpx

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestInfoMapInsertionOrder(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMap()
	defer m.Free()
	m.Put("zeta", "1")
	m.Put("alpha", "2")
	m.Put("mu", "3")

	want := []Pair{{"zeta", "1"}, {"alpha", "2"}, {"mu", "3"}}
	if diff := cmp.Diff(want, m.Pairs()); diff != "" {
		t.Fatalf("Pairs mismatch (-want +got):\n%s", diff)
	}

	// Overwriting keeps the key's position.
	m.Put("alpha", "22")
	want[1].Value = "22"
	if diff := cmp.Diff(want, m.Pairs()); diff != "" {
		t.Fatalf("Pairs after overwrite mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 3, m.Len())
}

func TestInfoMapConstructors(t *testing.T) {
	_, _ = newTestSession(t)

	fromPairs := NewInfoMapFromPairs(Pair{"a", "1"}, Pair{"b", "2"}, Pair{"a", "3"})
	defer fromPairs.Free()
	if diff := cmp.Diff([]Pair{{"a", "3"}, {"b", "2"}}, fromPairs.Pairs()); diff != "" {
		t.Fatalf("NewInfoMapFromPairs mismatch (-want +got):\n%s", diff)
	}

	fromSeq := NewInfoMapFromSeq(fromPairs.All())
	defer fromSeq.Free()
	require.True(t, fromSeq.Equal(fromPairs))
}

func TestInfoMapAt(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"host", "node7"})
	defer m.Free()

	v, err := m.At("host")
	require.NoError(t, err)
	require.Equal(t, "node7", v)

	_, err = m.At("absent")
	require.ErrorIs(t, err, ErrKeyNotFound)
	var knf *KeyNotFoundError
	require.ErrorAs(t, err, &knf)
	require.Equal(t, "absent", knf.Key)
	require.Contains(t, knf.Loc.File, "infomap_test.go")
	require.Equal(t, 0, knf.Loc.Rank)
}

func TestInfoMapEntryProxy(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMap()
	defer m.Free()

	// Reading through the proxy inserts the placeholder.
	got := m.Entry("fresh").Get()
	require.Equal(t, " ", got)
	require.True(t, m.Contains("fresh"))
	require.Equal(t, " ", m.GetOrInsert("fresh"))

	m.Entry("fresh").Set("real")
	v, err := m.At("fresh")
	require.NoError(t, err)
	require.Equal(t, "real", v)

	// EntryAt requires presence.
	_, err = m.EntryAt("missing")
	require.ErrorIs(t, err, ErrKeyNotFound)
	p, err := m.EntryAt("fresh")
	require.NoError(t, err)
	require.Equal(t, "fresh", p.Key())
	require.Equal(t, "real", p.String())
}

func TestProxyAfterMovePanics(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"k", "v"})
	defer m.Free()
	p := m.Entry("k")

	moved := m.Move()
	defer moved.Free()

	require.Panics(t, func() { p.Get() })
	require.Panics(t, func() { p.Set("x") })
}

func TestInfoMapInsertSemantics(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMap()
	defer m.Free()

	it, inserted := m.Insert("k", "first")
	require.True(t, inserted)
	require.Equal(t, "first", it.Value())

	it, inserted = m.Insert("k", "second")
	require.False(t, inserted)
	require.Equal(t, "first", it.Value())

	it, inserted = m.InsertOrAssign("k", "third")
	require.False(t, inserted)
	require.Equal(t, "third", it.Value())

	_, inserted = m.InsertOrAssign("other", "x")
	require.True(t, inserted)
}

func TestInfoMapEraseAndClear(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"a", "1"}, Pair{"b", "2"}, Pair{"c", "3"})
	defer m.Free()

	require.Equal(t, 1, m.Erase("b"))
	require.Equal(t, 0, m.Erase("b"))
	if diff := cmp.Diff([]string{"a", "c"}, m.Keys()); diff != "" {
		t.Fatalf("Keys mismatch (-want +got):\n%s", diff)
	}

	it := m.Begin()
	it = m.EraseAt(it)
	require.Equal(t, "c", it.Key())
	require.Equal(t, 1, m.Len())

	m.Clear()
	require.True(t, m.Empty())
}

func TestInfoMapFindCountEqualRange(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"a", "1"}, Pair{"b", "2"})
	defer m.Free()

	it := m.Find("b")
	require.Equal(t, 1, it.Pos())
	require.Equal(t, "2", it.Value())
	require.True(t, m.Find("zzz").IsEnd())

	require.Equal(t, 1, m.Count("a"))
	require.Equal(t, 0, m.Count("zzz"))

	lo, hi := m.EqualRange("a")
	require.Equal(t, 1, hi.Distance(lo))
	lo, hi = m.EqualRange("zzz")
	require.True(t, lo.Equal(hi))
}

func TestInfoMapCloneIsDeepAndFreeable(t *testing.T) {
	_, rt := newTestSession(t)

	src := NewInfoMapFromPairs(Pair{"k", "v"})
	clone := src.Clone()
	require.True(t, clone.Freeable())

	clone.Put("extra", "1")
	require.False(t, src.Contains("extra"))
	require.True(t, clone.Contains("k"))

	src.Free()
	// The clone survives the source's release.
	v, err := clone.At("k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
	clone.Free()
	require.Equal(t, 0, rt.LiveInfoCount())
}

func TestInfoMapCloneOfEnvIsFreeable(t *testing.T) {
	_, rt := newTestSession(t)
	rt.SetEnvInfo([2]string{"command", "worker"})

	clone := InfoEnv().Clone()
	require.True(t, clone.Freeable())
	v, err := clone.At("command")
	require.NoError(t, err)
	require.Equal(t, "worker", v)
	clone.Free()
}

func TestInfoMapMoveLeavesUsableEmptyMap(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"k", "v"})
	moved := m.Move()
	defer moved.Free()
	defer m.Free()

	require.True(t, moved.Contains("k"))
	require.True(t, m.Empty())
	require.True(t, m.Freeable())

	// The moved-from map is fully usable.
	m.Put("again", "1")
	require.Equal(t, 1, m.Len())
}

func TestInfoMapFreeIsIdempotent(t *testing.T) {
	_, rt := newTestSession(t)

	m := NewInfoMap()
	m.Put("k", "v")
	m.Free()
	m.Free()
	require.Equal(t, 0, rt.LiveInfoCount())
	require.Panics(t, func() { m.Len() })
	require.Equal(t, "InfoMap(freed)", m.String())
}

func TestInfoMapMerge(t *testing.T) {
	_, _ = newTestSession(t)

	dst := NewInfoMapFromPairs(Pair{"a", "dst"}, Pair{"b", "dst"})
	src := NewInfoMapFromPairs(Pair{"b", "src"}, Pair{"c", "src"})
	defer dst.Free()
	defer src.Free()

	dst.Merge(src)

	if diff := cmp.Diff([]Pair{{"a", "dst"}, {"b", "dst"}, {"c", "src"}}, dst.Pairs()); diff != "" {
		t.Fatalf("merged dst mismatch (-want +got):\n%s", diff)
	}
	// Conflicting keys stay behind with their values.
	if diff := cmp.Diff([]Pair{{"b", "src"}}, src.Pairs()); diff != "" {
		t.Fatalf("merged src mismatch (-want +got):\n%s", diff)
	}

	require.Panics(t, func() { dst.Merge(dst) })
}

func TestInfoMapSwap(t *testing.T) {
	_, _ = newTestSession(t)

	a := NewInfoMapFromPairs(Pair{"a", "1"})
	b := NewInfoMapFromPairs(Pair{"b", "2"})
	defer a.Free()
	defer b.Free()

	a.Swap(b)
	require.True(t, a.Contains("b"))
	require.True(t, b.Contains("a"))
}

func TestInfoMapEqualIgnoresOrder(t *testing.T) {
	_, _ = newTestSession(t)

	a := NewInfoMapFromPairs(Pair{"x", "1"}, Pair{"y", "2"})
	b := NewInfoMapFromPairs(Pair{"y", "2"}, Pair{"x", "1"})
	c := NewInfoMapFromPairs(Pair{"x", "1"}, Pair{"y", "other"})
	defer a.Free()
	defer b.Free()
	defer c.Free()

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))

	require.True(t, InfoNull().Equal(InfoNull()))
	require.False(t, a.Equal(InfoNull()))
	require.False(t, InfoNull().Equal(a))
}

func TestInfoMapIterationSeqs(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"a", "1"}, Pair{"b", "2"}, Pair{"c", "3"})
	defer m.Free()

	var fwd, bwd []string
	for k := range m.All() {
		fwd = append(fwd, k)
	}
	for k := range m.Backward() {
		bwd = append(bwd, k)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, fwd); diff != "" {
		t.Fatalf("All order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c", "b", "a"}, bwd); diff != "" {
		t.Fatalf("Backward order mismatch (-want +got):\n%s", diff)
	}
}

func TestInfoMapKeyValueBounds(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMap()
	defer m.Free()

	require.Panics(t, func() { m.Put("", "v") })
	require.Panics(t, func() { m.Put(strings.Repeat("k", MaxInfoKeySize()), "v") })
	require.Panics(t, func() { m.Put("k", "") })
	require.Panics(t, func() { m.Put("k", strings.Repeat("v", MaxInfoValueSize())) })

	// One byte below each bound is legal.
	longKey := strings.Repeat("k", MaxInfoKeySize()-1)
	longValue := strings.Repeat("v", MaxInfoValueSize()-1)
	m.Put(longKey, longValue)
	v, err := m.At(longKey)
	require.NoError(t, err)
	require.Equal(t, longValue, v)
}

func TestInfoMapStringer(t *testing.T) {
	_, _ = newTestSession(t)

	m := NewInfoMapFromPairs(Pair{"k", "v"})
	defer m.Free()
	require.Contains(t, m.String(), "k")
	require.Equal(t, "InfoMap(null)", InfoNull().String())
}
