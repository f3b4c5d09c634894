package mpirt

import (
	"context"
	"errors"
)

// ThreadLevel is the runtime's thread-support level negotiated at Init.
// Levels are ordered: a runtime providing level L satisfies every request
// for a level <= L.
type ThreadLevel int

const (
	ThreadLevelSingle ThreadLevel = iota
	ThreadLevelFunneled
	ThreadLevelSerialized
	ThreadLevelMultiple
)

// InfoHandle identifies an attribute object inside the runtime. The zero
// value is not a valid handle; the null and environment sentinels are
// obtained from InfoNull and InfoEnv.
type InfoHandle uint64

// None reports whether h is the zero (no-object) handle.
func (h InfoHandle) None() bool { return h == 0 }

// CommHandle identifies a communicator inside the runtime. The zero value
// is not a valid handle; the null and world sentinels are obtained from
// CommNull and CommWorld.
type CommHandle uint64

// None reports whether h is the zero (no-object) handle.
func (h CommHandle) None() bool { return h == 0 }

// SpawnTask describes one executable of a spawn call.
type SpawnTask struct {
	// Command is the executable to launch. Must be non-empty.
	Command string
	// Argv are the command arguments, already marshalled to their final
	// string form, without the trailing terminator.
	Argv []string
	// MaxProcs is the number of ranks to start for this task.
	MaxProcs int
	// Info carries launch attributes. May be the null sentinel.
	Info InfoHandle
}

// SpawnOutcome is the runtime-level result of a spawn call.
type SpawnOutcome struct {
	// Intercomm bridges the spawning group and the spawned group.
	Intercomm CommHandle
	// Errcodes holds one per-rank start code (0 on success) in task order.
	// Nil when the caller did not request codes.
	Errcodes []int
}

// Errors reported by runtime implementations. Facade-level validation
// happens before the runtime is reached, so these surface only on misuse
// of raw handles or on use outside the Init/Finalize window.
var (
	ErrNotInitialized = errors.New("mpirt: runtime not initialized")
	ErrFinalized      = errors.New("mpirt: runtime already finalized")
	ErrUnknownHandle  = errors.New("mpirt: unknown handle")
	ErrNullHandle     = errors.New("mpirt: operation on null handle")
	ErrNotFreeable    = errors.New("mpirt: handle is a permanent sentinel")
)

// Runtime is the consumed primitive surface of the underlying
// message-passing runtime, bit-compatible in behavior with the standard's
// C entry points but rendered as a Go interface.
//
// General contract
//   - All methods except Init may be called only inside the Init/Finalize
//     window and return ErrNotInitialized otherwise.
//   - Handles are opaque. Implementations may recycle numeric ids after
//     a free; callers must not retain freed handles.
//   - Info objects preserve insertion order: InfoNthKey(h, n) returns the
//     n-th distinct key ever set and still present, 0 <= n < InfoKeyCount.
//   - Implementations must be safe for concurrent use from multiple
//     goroutines; per-object sequencing is the caller's concern.
type Runtime interface {
	// Init starts the runtime, negotiating thread support. The provided
	// level may be lower than required; the caller decides whether that
	// is acceptable.
	Init(ctx context.Context, required ThreadLevel) (provided ThreadLevel, err error)
	// Finalize shuts the runtime down. No other method may be called
	// after Finalize returns.
	Finalize(ctx context.Context) error
	// Initialized reports whether the runtime is inside the active window.
	Initialized() bool

	// Info attribute primitives.
	InfoCreate() (InfoHandle, error)
	InfoDup(h InfoHandle) (InfoHandle, error)
	InfoFree(h InfoHandle) error
	InfoSet(h InfoHandle, key, value string) error
	InfoDelete(h InfoHandle, key string) error
	// InfoGet returns the value stored under key; ok is false when the
	// key is absent.
	InfoGet(h InfoHandle, key string) (value string, ok bool, err error)
	// InfoValueLen returns the byte length of the value stored under key;
	// ok is false when the key is absent.
	InfoValueLen(h InfoHandle, key string) (n int, ok bool, err error)
	InfoKeyCount(h InfoHandle) (int, error)
	InfoNthKey(h InfoHandle, n int) (string, error)
	// InfoNull returns the null-attribute sentinel. Never freed.
	InfoNull() InfoHandle
	// InfoEnv returns the environment-attribute sentinel. Never freed.
	InfoEnv() InfoHandle
	// MaxInfoKeyLen and MaxInfoValueLen are the exclusive upper bounds on
	// key and value byte lengths.
	MaxInfoKeyLen() int
	MaxInfoValueLen() int

	// Communicator primitives.
	CommWorld() CommHandle
	CommNull() CommHandle
	CommRank(h CommHandle) (int, error)
	CommSize(h CommHandle) (int, error)
	CommIsInter(h CommHandle) (bool, error)
	CommFree(h CommHandle) error

	// Environment queries, valid only inside the active window.
	//
	// UniverseSize reports the total process capacity; known is false when
	// the runtime cannot determine it.
	UniverseSize() (size int, known bool, err error)
	ProcessorName() (string, error)
	// Wtime returns elapsed wall-clock seconds from an arbitrary fixed
	// origin; Wtick returns the clock resolution in seconds.
	Wtime() float64
	Wtick() float64

	// Spawn launches one executable across task.MaxProcs ranks, rooted at
	// rank root of comm. When wantErrcodes is true the outcome carries one
	// code per requested rank.
	Spawn(ctx context.Context, task SpawnTask, root int, comm CommHandle, wantErrcodes bool) (SpawnOutcome, error)
	// SpawnMultiple launches len(tasks) executables as a single parallel
	// launch. The outcome's Errcodes has length sum(tasks[i].MaxProcs)
	// when requested, concatenated in task order.
	SpawnMultiple(ctx context.Context, tasks []SpawnTask, root int, comm CommHandle, wantErrcodes bool) (SpawnOutcome, error)
}
