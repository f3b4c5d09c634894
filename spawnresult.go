package mpx

import (
	"fmt"
	"io"
)

// SpawnResult is the read-only surface of a completed launch. It owns the
// intercommunicator bridging the parent group with the spawned group;
// release it with Free when done.
type SpawnResult struct {
	intercomm Comm
	errcodes  []int
	requested int
	withCodes bool
}

// Intercomm returns the intercommunicator connecting the spawning group
// with the spawned processes.
func (r *SpawnResult) Intercomm() Comm { return r.intercomm }

// Errcodes returns the per-rank start codes in task order, one per
// requested rank. ok is false when the launch did not request codes.
func (r *SpawnResult) Errcodes() ([]int, bool) {
	if !r.withCodes {
		return nil, false
	}
	out := make([]int, len(r.errcodes))
	copy(out, r.errcodes)
	return out, true
}

// NumSpawned counts the ranks that started successfully. When the launch
// did not request error codes, a returned result implies every requested
// rank started.
func (r *SpawnResult) NumSpawned() int {
	if !r.withCodes {
		return r.requested
	}
	n := 0
	for _, c := range r.errcodes {
		if c == 0 {
			n++
		}
	}
	return n
}

// MaxProcsSpawned reports whether every requested rank started.
func (r *SpawnResult) MaxProcsSpawned() bool { return r.NumSpawned() == r.requested }

// PrintErrorsTo writes one line per rank that failed to start. Without
// requested error codes it writes nothing.
func (r *SpawnResult) PrintErrorsTo(w io.Writer) {
	if !r.withCodes {
		return
	}
	for rank, c := range r.errcodes {
		if c != 0 {
			fmt.Fprintf(w, "rank %d: start failed with code %d\n", rank, c)
		}
	}
}

// Free releases the intercommunicator. The spawned processes themselves
// are unaffected.
func (r *SpawnResult) Free() error {
	if r.intercomm.IsNull() {
		return nil
	}
	err := r.intercomm.Free()
	r.intercomm = Comm{}
	return err
}
