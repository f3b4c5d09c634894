package mpx

import (
	"fmt"

	"github.com/mpxgo/mpx/internal/mpirt"
)

// Iterator is a random-access position over an InfoMap: a (map, ordinal)
// pair where the ordinal ranges over [0, Len]. Iterator arithmetic is
// index arithmetic; iterators are cheap to re-obtain.
//
// Any mutation of the map (insert of a new key, erase, clear, merge, swap,
// move) invalidates all live iterators; using an invalidated, singular
// (zero), or foreign-map iterator is a contract violation and panics.
type Iterator struct {
	m       *InfoMap
	h       mpirt.InfoHandle
	version uint64
	pos     int
}

// Pos returns the iterator's ordinal position.
func (it Iterator) Pos() int { return it.pos }

// Next returns the iterator advanced by one.
func (it Iterator) Next() Iterator { return it.Add(1) }

// Prev returns the iterator moved back by one.
func (it Iterator) Prev() Iterator { return it.Add(-1) }

// Add returns the iterator moved by n, which may be negative. The
// resulting position must stay within [0, Len].
func (it Iterator) Add(n int) Iterator {
	it.check()
	pos := it.pos + n
	if pos < 0 || pos > it.m.Len() {
		panic(fmt.Sprintf("mpx: iterator position %d outside [0, %d]", pos, it.m.Len()))
	}
	it.pos = pos
	return it
}

// Sub returns the iterator moved back by n.
func (it Iterator) Sub(n int) Iterator { return it.Add(-n) }

// Distance returns the ordinal difference it - other. Both iterators must
// belong to the same map.
func (it Iterator) Distance(other Iterator) int {
	it.checkSameMap(other)
	return it.pos - other.pos
}

// Equal reports whether both iterators denote the same position of the
// same map.
func (it Iterator) Equal(other Iterator) bool {
	it.checkSameMap(other)
	return it.pos == other.pos
}

// Compare orders two iterators of the same map by ordinal: -1, 0 or +1.
func (it Iterator) Compare(other Iterator) int {
	it.checkSameMap(other)
	switch {
	case it.pos < other.pos:
		return -1
	case it.pos > other.pos:
		return 1
	default:
		return 0
	}
}

// IsEnd reports whether the iterator is past the last entry.
func (it Iterator) IsEnd() bool {
	it.check()
	return it.pos == it.m.Len()
}

// Key returns the key at the iterator's position. The iterator must be
// dereferenceable (position < Len).
func (it Iterator) Key() string {
	it.checkDeref()
	return it.m.nthKey(it.pos)
}

// Value materializes the value at the iterator's position. This is the
// const dereference.
func (it Iterator) Value() string {
	it.checkDeref()
	v, _ := it.m.get(it.m.nthKey(it.pos))
	return v
}

// Entry returns a write-capable proxy for the entry at the iterator's
// position. This is the mutable dereference.
func (it Iterator) Entry() Proxy {
	it.checkDeref()
	return Proxy{m: it.m, h: it.h, key: it.m.nthKey(it.pos)}
}

// At is equivalent to Add(n) followed by dereferencing: it returns the
// (key, value) pair n entries away.
func (it Iterator) At(n int) (string, string) {
	moved := it.Add(n)
	return moved.Key(), moved.Value()
}

// ---------------- validity checks ----------------

func (it Iterator) check() {
	if it.m == nil {
		panic("mpx: use of singular iterator")
	}
	it.m.checkUsable()
	it.checkUsable(it.m)
}

// checkUsable verifies the iterator still refers to m's current handle and
// mutation generation.
func (it Iterator) checkUsable(m *InfoMap) {
	if it.m != m {
		panic("mpx: iterator does not belong to this map")
	}
	if it.h != m.owner.h || it.version != m.version {
		panic("mpx: use of invalidated iterator")
	}
	if it.pos < 0 || it.pos > m.Len() {
		panic(fmt.Sprintf("mpx: iterator position %d outside [0, %d]", it.pos, m.Len()))
	}
}

func (it Iterator) checkDeref() {
	it.check()
	if it.pos == it.m.Len() {
		panic("mpx: dereference of past-the-end iterator")
	}
}

func (it Iterator) checkSameMap(other Iterator) {
	it.check()
	other.check()
	if it.m != other.m {
		panic("mpx: comparison of iterators from different maps")
	}
}
