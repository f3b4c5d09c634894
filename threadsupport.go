package mpx

import (
	"fmt"

	"github.com/mpxgo/mpx/internal/mpirt"
)

// ThreadSupport is the runtime's thread-support level. The four levels are
// totally ordered: SINGLE < FUNNELED < SERIALIZED < MULTIPLE. A runtime
// providing level L satisfies every request for a level <= L.
type ThreadSupport int

const (
	// ThreadSingle: only one thread will execute.
	ThreadSingle ThreadSupport = iota
	// ThreadFunneled: the process may be multi-threaded, but only the main
	// thread makes runtime calls.
	ThreadFunneled
	// ThreadSerialized: multiple threads may make runtime calls, but never
	// concurrently.
	ThreadSerialized
	// ThreadMultiple: multiple threads may call the runtime with no
	// restrictions.
	ThreadMultiple
)

var threadSupportNames = [...]string{
	ThreadSingle:     "MPI_THREAD_SINGLE",
	ThreadFunneled:   "MPI_THREAD_FUNNELED",
	ThreadSerialized: "MPI_THREAD_SERIALIZED",
	ThreadMultiple:   "MPI_THREAD_MULTIPLE",
}

// String returns the canonical standard name of t.
func (t ThreadSupport) String() string {
	if t < ThreadSingle || t > ThreadMultiple {
		return fmt.Sprintf("MPI_THREAD_INVALID(%d)", int(t))
	}
	return threadSupportNames[t]
}

// ParseThreadSupport converts a canonical standard name back to its level.
// Unknown input yields an *InvalidArgumentError naming the input and the
// target type.
func ParseThreadSupport(s string) (ThreadSupport, error) {
	for t, name := range threadSupportNames {
		if s == name {
			return ThreadSupport(t), nil
		}
	}
	return 0, &InvalidArgumentError{Value: s, Target: "mpx.ThreadSupport", Loc: here(1)}
}

func (t ThreadSupport) level() mpirt.ThreadLevel { return mpirt.ThreadLevel(t) }

func threadSupportFromLevel(l mpirt.ThreadLevel) ThreadSupport { return ThreadSupport(l) }
