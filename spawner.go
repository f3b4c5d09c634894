package mpx

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/mpxgo/mpx/internal/eventbus"
	"github.com/mpxgo/mpx/internal/events"
	"github.com/mpxgo/mpx/internal/mpirt"
	"github.com/mpxgo/mpx/internal/opid"
)

// Spawner is the configuration surface shared by SingleSpawner and
// MultiSpawner. MultiSpawner construction flattens any mix of spawners
// through it.
type Spawner interface {
	spawnTasks() []taskConfig
	spawnRoot() int
	spawnComm() Comm
}

// taskConfig is the per-executable launch configuration.
type taskConfig struct {
	command  string
	maxprocs int
	argv     []Pair
	info     *InfoMap
}

// coerceArg stringifies one argv element: strings pass through, integer
// and float kinds take their decimal form, and a Pair stays a pair. Any
// other type is a contract violation.
func coerceArg(v any) Pair {
	switch x := v.(type) {
	case Pair:
		return x
	case string:
		return Pair{Key: x}
	case int:
		return Pair{Key: strconv.Itoa(x)}
	case int8, int16, int32, int64:
		return Pair{Key: fmt.Sprintf("%d", x)}
	case uint, uint8, uint16, uint32, uint64:
		return Pair{Key: fmt.Sprintf("%d", x)}
	case float32:
		return Pair{Key: strconv.FormatFloat(float64(x), 'g', -1, 32)}
	case float64:
		return Pair{Key: strconv.FormatFloat(x, 'g', -1, 64)}
	default:
		panic(fmt.Sprintf("mpx: argv element of unsupported type %T", v))
	}
}

// marshalArgv expands argv pairs into the runtime's array-of-strings form.
// A pair with an empty value contributes its key alone (a bare token).
func marshalArgv(argv []Pair) []string {
	out := make([]string, 0, len(argv))
	for _, p := range argv {
		out = append(out, p.Key)
		if p.Value != "" {
			out = append(out, p.Value)
		}
	}
	return out
}

// SingleSpawner configures and launches one executable across maxprocs
// ranks. Setters are fluent and validate eagerly; illegal input panics.
// After Spawn succeeds the spawner is in the launched state: the result
// accessors become legal and the setters become contract violations.
type SingleSpawner struct {
	task         taskConfig
	root         int
	comm         Comm
	wantErrcodes bool
	result       *SpawnResult
}

// NewSingleSpawner configures a launch of command across maxprocs ranks,
// rooted at rank 0 of the world communicator.
func NewSingleSpawner(command string, maxprocs int) *SingleSpawner {
	s := &SingleSpawner{comm: World(), wantErrcodes: true}
	s.SetCommand(command)
	s.SetMaxProcs(maxprocs)
	return s
}

// SetCommand replaces the executable. It must be non-empty.
func (s *SingleSpawner) SetCommand(command string) *SingleSpawner {
	s.checkConfiguring()
	checkCommand(command)
	s.task.command = command
	return s
}

// Command returns the configured executable.
func (s *SingleSpawner) Command() string { return s.task.command }

// SetMaxProcs replaces the rank count. It must be positive and, when the
// universe size is known, no larger than it.
func (s *SingleSpawner) SetMaxProcs(n int) *SingleSpawner {
	s.checkConfiguring()
	checkMaxProcs(n)
	checkUniverse(s.comm.rt, n)
	s.task.maxprocs = n
	return s
}

// MaxProcs returns the configured rank count.
func (s *SingleSpawner) MaxProcs() int { return s.task.maxprocs }

// SetRoot replaces the root rank. It must lie within the communicator.
func (s *SingleSpawner) SetRoot(root int) *SingleSpawner {
	s.checkConfiguring()
	checkRoot(root, s.comm)
	s.root = root
	return s
}

// Root returns the configured root rank.
func (s *SingleSpawner) Root() int { return s.root }

// SetComm replaces the communicator driving the launch. It must be a
// non-null intracommunicator containing the configured root.
func (s *SingleSpawner) SetComm(c Comm) *SingleSpawner {
	s.checkConfiguring()
	checkIntracomm(c)
	checkRoot(s.root, c)
	s.comm = c
	return s
}

// Comm returns the configured communicator.
func (s *SingleSpawner) Comm() Comm { return s.comm }

// SetSpawnInfo attaches launch attributes. The default is the null map.
func (s *SingleSpawner) SetSpawnInfo(m *InfoMap) *SingleSpawner {
	s.checkConfiguring()
	if m == nil {
		panic("mpx: nil InfoMap passed to SetSpawnInfo")
	}
	s.task.info = m
	return s
}

// SpawnInfo returns the attached launch attributes, or the null map.
func (s *SingleSpawner) SpawnInfo() *InfoMap {
	if s.task.info == nil {
		return InfoNull()
	}
	return s.task.info
}

// SetWantErrcodes controls whether the launch collects per-rank start
// codes. The default is true.
func (s *SingleSpawner) SetWantErrcodes(want bool) *SingleSpawner {
	s.checkConfiguring()
	s.wantErrcodes = want
	return s
}

// AddArgv appends arguments. Each element is a string token, a numeric
// value (rendered in decimal), or a Pair for a (key, value) argument.
func (s *SingleSpawner) AddArgv(args ...any) *SingleSpawner {
	s.checkConfiguring()
	for _, a := range args {
		s.task.argv = append(s.task.argv, coerceArg(a))
	}
	return s
}

// AddArgvPairs appends arguments already in pair form.
func (s *SingleSpawner) AddArgvPairs(pairs ...Pair) *SingleSpawner {
	s.checkConfiguring()
	s.task.argv = append(s.task.argv, pairs...)
	return s
}

// Argv returns the accumulated argument pairs.
func (s *SingleSpawner) Argv() []Pair {
	out := make([]Pair, len(s.task.argv))
	copy(out, s.task.argv)
	return out
}

// Spawn launches the configured executable and transitions the spawner to
// the launched state. Runtime-level launch failures are returned as
// errors; configuration violations panic.
func (s *SingleSpawner) Spawn(ctx context.Context) (*SpawnResult, error) {
	s.checkConfiguring()
	checkCommand(s.task.command)
	checkMaxProcs(s.task.maxprocs)
	checkUniverse(s.comm.rt, s.task.maxprocs)
	checkIntracomm(s.comm)
	checkRoot(s.root, s.comm)

	rt := s.comm.rt
	task := mpirt.SpawnTask{
		Command:  s.task.command,
		Argv:     marshalArgv(s.task.argv),
		MaxProcs: s.task.maxprocs,
		Info:     infoHandleOf(rt, s.task.info),
	}
	ctx = opid.Ensure(ctx)
	eventbus.Publish(ctx, events.SpawnStart{
		Commands:      []string{s.task.command},
		TotalMaxProcs: s.task.maxprocs,
		Root:          s.root,
	})
	start := time.Now()
	outcome, err := rt.Spawn(ctx, task, s.root, s.comm.h, s.wantErrcodes)
	res := resultFromOutcome(rt, outcome, s.task.maxprocs, s.wantErrcodes, err)
	eventbus.Publish(ctx, events.SpawnFinish{
		Commands:      []string{s.task.command},
		TotalMaxProcs: s.task.maxprocs,
		Spawned:       spawnedOf(res),
		Err:           err,
		Duration:      time.Since(start),
	})
	if err != nil {
		return nil, fmt.Errorf("mpx: spawn %q: %w", s.task.command, err)
	}
	s.result = res
	return res, nil
}

// Launched reports whether Spawn has completed successfully.
func (s *SingleSpawner) Launched() bool { return s.result != nil }

// Result returns the launch result. Calling it before Spawn is a
// contract violation.
func (s *SingleSpawner) Result() *SpawnResult {
	s.checkLaunched()
	return s.result
}

// Intercomm returns the launched intercommunicator.
func (s *SingleSpawner) Intercomm() Comm { return s.Result().Intercomm() }

// Errcodes returns the per-rank start codes, if requested.
func (s *SingleSpawner) Errcodes() ([]int, bool) { return s.Result().Errcodes() }

// NumSpawned counts the successfully started ranks.
func (s *SingleSpawner) NumSpawned() int { return s.Result().NumSpawned() }

// MaxProcsSpawned reports whether every requested rank started.
func (s *SingleSpawner) MaxProcsSpawned() bool { return s.Result().MaxProcsSpawned() }

// PrintErrorsTo writes the non-success start codes to w.
func (s *SingleSpawner) PrintErrorsTo(w io.Writer) { s.Result().PrintErrorsTo(w) }

func (s *SingleSpawner) checkConfiguring() {
	if s.result != nil {
		panic("mpx: spawner already launched")
	}
}

func (s *SingleSpawner) checkLaunched() {
	if s.result == nil {
		panic("mpx: spawner has not launched yet")
	}
}

// Spawner plumbing for MultiSpawner flattening.
func (s *SingleSpawner) spawnTasks() []taskConfig { return []taskConfig{s.task} }
func (s *SingleSpawner) spawnRoot() int           { return s.root }
func (s *SingleSpawner) spawnComm() Comm          { return s.comm }

// ---------------- shared validation ----------------

func checkCommand(command string) {
	if command == "" {
		panic("mpx: empty spawn command")
	}
}

func checkMaxProcs(n int) {
	if n <= 0 || n >= math.MaxInt32 {
		panic(fmt.Sprintf("mpx: maxprocs %d outside (0, %d)", n, math.MaxInt32))
	}
}

// checkUniverse asserts total <= universe size when the latter is known.
func checkUniverse(rt mpirt.Runtime, total int) {
	if rt == nil {
		panic("mpx: spawner without communicator")
	}
	size, known, err := rt.UniverseSize()
	if err != nil {
		panic(fmt.Sprintf("mpx: universe size: %v", err))
	}
	if known && total > size {
		panic(fmt.Sprintf("mpx: requested %d processes exceeds universe size %d", total, size))
	}
}

func checkIntracomm(c Comm) {
	if c.IsNull() {
		panic("mpx: spawn over null communicator")
	}
	if c.IsInter() {
		panic("mpx: spawn requires an intracommunicator")
	}
}

func checkRoot(root int, c Comm) {
	if size := c.Size(); root < 0 || root >= size {
		panic(fmt.Sprintf("mpx: root %d outside communicator of size %d", root, size))
	}
}

func infoHandleOf(rt mpirt.Runtime, m *InfoMap) mpirt.InfoHandle {
	if m == nil {
		return rt.InfoNull()
	}
	if m.owner.h.None() {
		panic("mpx: spawn info map already freed")
	}
	return m.owner.h
}

func resultFromOutcome(rt mpirt.Runtime, out mpirt.SpawnOutcome, requested int, withCodes bool, err error) *SpawnResult {
	if err != nil {
		return nil
	}
	return &SpawnResult{
		intercomm: Comm{rt: rt, h: out.Intercomm},
		errcodes:  out.Errcodes,
		requested: requested,
		withCodes: withCodes && out.Errcodes != nil,
	}
}

func spawnedOf(r *SpawnResult) int {
	if r == nil {
		return 0
	}
	return r.NumSpawned()
}
