package mpx

import (
	"errors"
	"fmt"
	"runtime"
)

// Sentinel errors for errors.Is matching. The concrete values returned by
// the facade are the typed errors below, which carry a message and the
// source location of the failing call.
var (
	ErrKeyNotFound     = errors.New("mpx: key not found")
	ErrOutOfRange      = errors.New("mpx: index out of range")
	ErrInvalidArgument = errors.New("mpx: invalid argument")
	ErrThreadSupport   = errors.New("mpx: thread support not satisfied")
)

// Location identifies the call site at which a recoverable error was
// raised. Rank is the caller's rank in the world communicator, or -1 when
// the runtime is not active.
type Location struct {
	File     string
	Function string
	Line     int
	Rank     int
}

func (l Location) String() string {
	s := fmt.Sprintf("%s:%d (%s)", l.File, l.Line, l.Function)
	if l.Rank >= 0 {
		s += fmt.Sprintf(" [rank %d]", l.Rank)
	}
	return s
}

// here captures the location skip+1 frames above the caller.
func here(skip int) Location {
	loc := Location{File: "?", Function: "?", Rank: -1}
	if pc, file, line, ok := runtime.Caller(skip + 1); ok {
		loc.File = file
		loc.Line = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			loc.Function = fn.Name()
		}
	}
	if s := activeSession(); s != nil {
		if rank, err := s.rt.CommRank(s.rt.CommWorld()); err == nil {
			loc.Rank = rank
		}
	}
	return loc
}

// KeyNotFoundError reports a lookup of an absent key via At.
type KeyNotFoundError struct {
	Key string
	Loc Location
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("mpx: key %q not found at %s", e.Key, e.Loc)
}

func (e *KeyNotFoundError) Is(target error) bool { return target == ErrKeyNotFound }

func keyNotFound(key string) error {
	return &KeyNotFoundError{Key: key, Loc: here(2)}
}

// OutOfRangeError reports an index outside [0, Size) passed to a
// range-checked indexed accessor. It carries both the offending index and
// the container size.
type OutOfRangeError struct {
	Index int
	Size  int
	Loc   Location
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("mpx: index %d out of range for size %d at %s", e.Index, e.Size, e.Loc)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }

// InvalidArgumentError reports an unparseable input, e.g. an unknown
// thread-support name.
type InvalidArgumentError struct {
	Value  string
	Target string
	Loc    Location
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("mpx: cannot convert %q to %s at %s", e.Value, e.Target, e.Loc)
}

func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// ThreadSupportError reports that Init could not satisfy the required
// thread-support level. It carries both levels.
type ThreadSupportError struct {
	Required ThreadSupport
	Provided ThreadSupport
	Loc      Location
}

func (e *ThreadSupportError) Error() string {
	return fmt.Sprintf("mpx: required thread support %s exceeds provided %s at %s",
		e.Required, e.Provided, e.Loc)
}

func (e *ThreadSupportError) Is(target error) bool { return target == ErrThreadSupport }
