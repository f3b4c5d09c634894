package mpx

import (
	"fmt"

	"github.com/mpxgo/mpx/internal/mpirt"
)

// Comm is a value handle on a communicator. The zero Comm is invalid; use
// Session.World or the intercommunicator of a SpawnResult.
type Comm struct {
	rt mpirt.Runtime
	h  mpirt.CommHandle
}

// World returns the world intracommunicator of the active session.
func World() Comm { return current().World() }

// IsNull reports whether c refers to the null communicator or is the zero
// value.
func (c Comm) IsNull() bool {
	return c.rt == nil || c.h.None() || c.h == c.rt.CommNull()
}

// Rank returns the calling process's rank within c.
func (c Comm) Rank() int {
	c.checkNotNull()
	rank, err := c.rt.CommRank(c.h)
	if err != nil {
		panic(fmt.Sprintf("mpx: comm rank: %v", err))
	}
	return rank
}

// Size returns the number of ranks in c's local group. For an
// intercommunicator produced by a spawn, this is the size of the spawned
// group as seen from the parent.
func (c Comm) Size() int {
	c.checkNotNull()
	size, err := c.rt.CommSize(c.h)
	if err != nil {
		panic(fmt.Sprintf("mpx: comm size: %v", err))
	}
	return size
}

// IsInter reports whether c is an intercommunicator.
func (c Comm) IsInter() bool {
	c.checkNotNull()
	inter, err := c.rt.CommIsInter(c.h)
	if err != nil {
		panic(fmt.Sprintf("mpx: comm kind: %v", err))
	}
	return inter
}

// Free releases the communicator. The world and null sentinels are never
// freed; calling Free on them is a contract violation.
func (c Comm) Free() error {
	if c.IsNull() {
		panic("mpx: free of null communicator")
	}
	if c.h == c.rt.CommWorld() {
		panic("mpx: free of world communicator")
	}
	return c.rt.CommFree(c.h)
}

func (c Comm) checkNotNull() {
	if c.IsNull() {
		panic("mpx: operation on null communicator")
	}
}
