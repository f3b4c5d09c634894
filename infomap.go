package mpx

import (
	"fmt"
	"iter"
	"math"

	"github.com/mpxgo/mpx/internal/mpirt"
)

// Pair is one (key, value) entry of an InfoMap.
type Pair struct {
	Key   string
	Value string
}

// InfoMap is an ordered key/value attribute container backed by a native
// attribute object of the runtime. Keys are unique non-empty strings below
// MaxInfoKeySize; values are non-empty strings below MaxInfoValueSize.
// Iteration order is insertion order; overwriting a key keeps its position.
//
// An InfoMap owns its backing handle iff it is freeable: maps built by the
// constructors and by Clone are freeable, the null and env singletons are
// not. Release is explicit via Free; `defer m.Free()` is the scoped
// acquisition idiom.
//
// InfoMap is not safe for concurrent mutation; sequence operations on one
// map from a single goroutine. Distinct maps may be used from distinct
// goroutines when the negotiated thread-support level permits.
type InfoMap struct {
	owner   infoOwner
	version uint64
}

// NewInfoMap returns an empty freeable map in the active session.
func NewInfoMap() *InfoMap {
	return &InfoMap{owner: newOwner(current().rt)}
}

// NewInfoMapFromPairs builds a map from pairs in order. A repeated key
// overwrites the earlier value without changing the key's position.
func NewInfoMapFromPairs(pairs ...Pair) *InfoMap {
	m := NewInfoMap()
	for _, p := range pairs {
		m.InsertOrAssign(p.Key, p.Value)
	}
	return m
}

// NewInfoMapFromSeq builds a map from a key/value sequence in order, with
// the same overwrite rule as NewInfoMapFromPairs.
func NewInfoMapFromSeq(seq iter.Seq2[string, string]) *InfoMap {
	m := NewInfoMap()
	for k, v := range seq {
		m.InsertOrAssign(k, v)
	}
	return m
}

// adoptInfo wraps an external handle with explicit freeability.
func adoptInfo(rt mpirt.Runtime, h mpirt.InfoHandle, freeable bool) *InfoMap {
	return &InfoMap{owner: adoptOwner(rt, h, freeable)}
}

// IsNull reports whether the map refers to the runtime's null-attribute
// sentinel.
func (m *InfoMap) IsNull() bool {
	return !m.owner.h.None() && m.owner.h == m.owner.rt.InfoNull()
}

// Freeable reports whether this map is responsible for releasing its
// backing handle.
func (m *InfoMap) Freeable() bool { return m.owner.freeable }

// Free releases the backing handle iff the map is freeable; the map is
// unusable afterwards. Free is idempotent and leaves non-freeable maps
// (the null and env singletons) untouched.
func (m *InfoMap) Free() {
	if !m.owner.freeable {
		return
	}
	m.owner.release()
	m.version++
}

// Clone deep-copies the map to a fresh handle. The clone is always
// freeable; the source's flag does not propagate.
func (m *InfoMap) Clone() *InfoMap {
	m.checkUsable()
	return &InfoMap{owner: m.owner.dup()}
}

// Move transfers the backing handle to the returned map and resets m to a
// fresh empty, freeable default. m stays valid: the moved-from-but-usable
// contract.
func (m *InfoMap) Move() *InfoMap {
	m.checkUsable()
	out := &InfoMap{owner: m.owner.moveOut()}
	m.version++
	return out
}

// At returns the value stored under key. A missing key yields a
// *KeyNotFoundError.
func (m *InfoMap) At(key string) (string, error) {
	m.checkUsable()
	m.checkKey(key)
	v, ok := m.get(key)
	if !ok {
		return "", keyNotFound(key)
	}
	return v, nil
}

// EntryAt returns a write-capable proxy for an existing key. A missing key
// yields a *KeyNotFoundError.
func (m *InfoMap) EntryAt(key string) (Proxy, error) {
	m.checkUsable()
	m.checkKey(key)
	if _, ok := m.get(key); !ok {
		return Proxy{}, keyNotFound(key)
	}
	return Proxy{m: m, h: m.owner.h, key: key}, nil
}

// Entry returns a proxy for key regardless of presence. Reading through
// the proxy inserts the single-space placeholder when the key is absent;
// writing stores unconditionally.
func (m *InfoMap) Entry(key string) Proxy {
	m.checkUsable()
	m.checkKey(key)
	return Proxy{m: m, h: m.owner.h, key: key}
}

// GetOrInsert reads the value under key, inserting the single-space
// placeholder first when the key is absent. Equivalent to Entry(key).Get.
func (m *InfoMap) GetOrInsert(key string) string { return m.Entry(key).Get() }

// Put stores value under key unconditionally. Equivalent to
// Entry(key).Set(value).
func (m *InfoMap) Put(key, value string) { m.Entry(key).Set(value) }

// Insert stores (key, value) only when key is absent. It returns an
// iterator to the entry and whether an insertion happened.
func (m *InfoMap) Insert(key, value string) (Iterator, bool) {
	m.checkUsable()
	m.checkKey(key)
	m.checkValue(value)
	if _, ok := m.get(key); ok {
		return m.Find(key), false
	}
	m.set(key, value)
	return m.Find(key), true
}

// InsertOrAssign always stores (key, value). It returns an iterator to the
// entry and whether the key was newly inserted.
func (m *InfoMap) InsertOrAssign(key, value string) (Iterator, bool) {
	m.checkUsable()
	m.checkKey(key)
	m.checkValue(value)
	_, present := m.get(key)
	m.set(key, value)
	return m.Find(key), !present
}

// Erase removes key. It returns the number of entries erased (0 or 1) and
// invalidates all live iterators.
func (m *InfoMap) Erase(key string) int {
	m.checkUsable()
	m.checkKey(key)
	if _, ok := m.get(key); !ok {
		return 0
	}
	if err := m.owner.rt.InfoDelete(m.owner.h, key); err != nil {
		panic(fmt.Sprintf("mpx: info delete: %v", err))
	}
	m.version++
	return 1
}

// EraseAt removes the entry it points at and returns an iterator to the
// following entry, computed by ordinal. All other live iterators are
// invalidated.
func (m *InfoMap) EraseAt(it Iterator) Iterator {
	m.checkUsable()
	it.checkUsable(m)
	key := m.nthKey(it.pos)
	if err := m.owner.rt.InfoDelete(m.owner.h, key); err != nil {
		panic(fmt.Sprintf("mpx: info delete: %v", err))
	}
	m.version++
	return Iterator{m: m, h: m.owner.h, version: m.version, pos: it.pos}
}

// Find returns an iterator to key, or End when absent.
func (m *InfoMap) Find(key string) Iterator {
	m.checkUsable()
	m.checkKey(key)
	n := m.Len()
	for i := 0; i < n; i++ {
		if m.nthKey(i) == key {
			return Iterator{m: m, h: m.owner.h, version: m.version, pos: i}
		}
	}
	return m.End()
}

// Contains reports whether key is present.
func (m *InfoMap) Contains(key string) bool {
	m.checkUsable()
	m.checkKey(key)
	_, ok := m.get(key)
	return ok
}

// Count returns 1 when key is present, 0 otherwise. Keys are unique.
func (m *InfoMap) Count(key string) int {
	if m.Contains(key) {
		return 1
	}
	return 0
}

// EqualRange returns the half-open iterator range of entries matching key,
// at most one element wide.
func (m *InfoMap) EqualRange(key string) (Iterator, Iterator) {
	first := m.Find(key)
	if first.pos == m.Len() {
		return first, first
	}
	return first, first.Add(1)
}

// Len returns the number of entries.
func (m *InfoMap) Len() int {
	m.checkUsable()
	n, err := m.owner.rt.InfoKeyCount(m.owner.h)
	if err != nil {
		panic(fmt.Sprintf("mpx: info key count: %v", err))
	}
	return n
}

// Empty reports whether the map has no entries.
func (m *InfoMap) Empty() bool { return m.Len() == 0 }

// MaxLen is the maximum representable entry count.
func (m *InfoMap) MaxLen() int { return math.MaxInt }

// Clear removes every entry. All live iterators are invalidated.
func (m *InfoMap) Clear() {
	m.checkUsable()
	for m.Len() > 0 {
		key := m.nthKey(0)
		if err := m.owner.rt.InfoDelete(m.owner.h, key); err != nil {
			panic(fmt.Sprintf("mpx: info delete: %v", err))
		}
	}
	m.version++
}

// Merge moves every entry of other whose key is absent from m into m.
// Conflicting keys stay in other with their values. Merging a map with
// itself is a contract violation.
func (m *InfoMap) Merge(other *InfoMap) {
	m.checkUsable()
	other.checkUsable()
	if m == other || m.owner.h == other.owner.h {
		panic("mpx: merge of a map with itself")
	}
	moved := make([]string, 0, other.Len())
	for i, n := 0, other.Len(); i < n; i++ {
		key := other.nthKey(i)
		if _, ok := m.get(key); ok {
			continue
		}
		v, _ := other.get(key)
		m.set(key, v)
		moved = append(moved, key)
	}
	for _, key := range moved {
		if err := other.owner.rt.InfoDelete(other.owner.h, key); err != nil {
			panic(fmt.Sprintf("mpx: info delete: %v", err))
		}
	}
	if len(moved) > 0 {
		other.version++
	}
	m.version++
}

// Swap exchanges the backing handles and freeable flags of m and other.
// Always legal, including for null maps.
func (m *InfoMap) Swap(other *InfoMap) {
	m.owner.swap(&other.owner)
	m.version++
	other.version++
}

// Keys returns the keys in insertion order.
func (m *InfoMap) Keys() []string {
	m.checkUsable()
	n := m.Len()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = m.nthKey(i)
	}
	return out
}

// Values returns the values in insertion order.
func (m *InfoMap) Values() []string {
	m.checkUsable()
	n := m.Len()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		v, _ := m.get(m.nthKey(i))
		out[i] = v
	}
	return out
}

// Pairs returns the entries in insertion order.
func (m *InfoMap) Pairs() []Pair {
	keys := m.Keys()
	out := make([]Pair, len(keys))
	for i, k := range keys {
		v, _ := m.get(k)
		out[i] = Pair{Key: k, Value: v}
	}
	return out
}

// All ranges over the entries in insertion order.
func (m *InfoMap) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for i, n := 0, m.Len(); i < n; i++ {
			k := m.nthKey(i)
			v, _ := m.get(k)
			if !yield(k, v) {
				return
			}
		}
	}
}

// Backward ranges over the entries in reverse insertion order.
func (m *InfoMap) Backward() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for i := m.Len() - 1; i >= 0; i-- {
			k := m.nthKey(i)
			v, _ := m.get(k)
			if !yield(k, v) {
				return
			}
		}
	}
}

// Begin returns an iterator to the first entry.
func (m *InfoMap) Begin() Iterator {
	m.checkUsable()
	return Iterator{m: m, h: m.owner.h, version: m.version, pos: 0}
}

// End returns the past-the-end iterator.
func (m *InfoMap) End() Iterator {
	m.checkUsable()
	return Iterator{m: m, h: m.owner.h, version: m.version, pos: m.Len()}
}

// Equal reports whether m and other hold the same set of (key, value)
// pairs. Insertion order and freeability are ignored. A null map equals
// only another null map.
func (m *InfoMap) Equal(other *InfoMap) bool {
	if m.IsNull() || other.IsNull() {
		return m.IsNull() && other.IsNull()
	}
	m.checkUsable()
	other.checkUsable()
	if m.Len() != other.Len() {
		return false
	}
	for i, n := 0, m.Len(); i < n; i++ {
		k := m.nthKey(i)
		mv, _ := m.get(k)
		ov, ok := other.get(k)
		if !ok || mv != ov {
			return false
		}
	}
	return true
}

// String renders the map for diagnostics.
func (m *InfoMap) String() string {
	if m.owner.h.None() {
		return "InfoMap(freed)"
	}
	if m.IsNull() {
		return "InfoMap(null)"
	}
	return fmt.Sprintf("InfoMap%v", m.Pairs())
}

// ---------------- internals ----------------

func (m *InfoMap) get(key string) (string, bool) {
	v, ok, err := m.owner.rt.InfoGet(m.owner.h, key)
	if err != nil {
		panic(fmt.Sprintf("mpx: info get: %v", err))
	}
	return v, ok
}

func (m *InfoMap) set(key, value string) {
	_, present := m.get(key)
	if err := m.owner.rt.InfoSet(m.owner.h, key, value); err != nil {
		panic(fmt.Sprintf("mpx: info set: %v", err))
	}
	if !present {
		m.version++
	}
}

func (m *InfoMap) nthKey(n int) string {
	k, err := m.owner.rt.InfoNthKey(m.owner.h, n)
	if err != nil {
		panic(fmt.Sprintf("mpx: info nth key: %v", err))
	}
	return k
}

// checkUsable rejects freed, null, and out-of-window maps. Length-checked
// operations additionally validate their keys and values.
func (m *InfoMap) checkUsable() {
	if m.owner.h.None() {
		panic("mpx: use of freed or zero InfoMap")
	}
	if !m.owner.rt.Initialized() {
		panic("mpx: InfoMap used outside the active init/finalize window")
	}
	if m.IsNull() {
		panic("mpx: operation on null InfoMap")
	}
}

func (m *InfoMap) checkKey(key string) {
	max := m.owner.rt.MaxInfoKeyLen()
	if len(key) == 0 || len(key) >= max {
		panic(fmt.Sprintf("mpx: illegal info key: length %d not in [1, %d)", len(key), max))
	}
}

func (m *InfoMap) checkValue(value string) {
	max := m.owner.rt.MaxInfoValueLen()
	if len(value) == 0 || len(value) >= max {
		panic(fmt.Sprintf("mpx: illegal info value: length %d not in [1, %d)", len(value), max))
	}
}
