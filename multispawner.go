package mpx

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mpxgo/mpx/internal/eventbus"
	"github.com/mpxgo/mpx/internal/events"
	"github.com/mpxgo/mpx/internal/mpirt"
	"github.com/mpxgo/mpx/internal/opid"
)

// Task seeds one executable of a MultiSpawner.
type Task struct {
	Command  string
	MaxProcs int
}

// MultiSpawner configures and launches K >= 1 executables as a single
// parallel spawn. Bulk setters take exactly K elements and panic on a size
// mismatch; the indexed *At accessors are range-checked and return an
// *OutOfRangeError carrying the offending index and the current size.
// Root and communicator are shared by all executables.
type MultiSpawner struct {
	tasks        []taskConfig
	root         int
	comm         Comm
	wantErrcodes bool
	result       *SpawnResult
}

// NewMultiSpawner configures a launch of len(tasks) executables, rooted at
// rank 0 of the world communicator. At least one task is required; every
// command must be non-empty and every maxprocs positive.
func NewMultiSpawner(tasks ...Task) *MultiSpawner {
	if len(tasks) == 0 {
		panic("mpx: MultiSpawner needs at least one task")
	}
	ms := &MultiSpawner{comm: World(), wantErrcodes: true}
	for _, t := range tasks {
		checkCommand(t.Command)
		checkMaxProcs(t.MaxProcs)
		ms.tasks = append(ms.tasks, taskConfig{command: t.Command, maxprocs: t.MaxProcs})
	}
	checkUniverse(ms.comm.rt, ms.TotalMaxProcs())
	return ms
}

// NewMultiSpawnerFrom flattens existing spawners, single or multi, in
// order. All contributors must agree on root and communicator.
func NewMultiSpawnerFrom(spawners ...Spawner) *MultiSpawner {
	if len(spawners) == 0 {
		panic("mpx: MultiSpawner needs at least one task")
	}
	root := spawners[0].spawnRoot()
	comm := spawners[0].spawnComm()
	ms := &MultiSpawner{root: root, comm: comm, wantErrcodes: true}
	for _, sp := range spawners {
		if sp.spawnRoot() != root {
			panic(fmt.Sprintf("mpx: contributing spawners disagree on root: %d vs %d", root, sp.spawnRoot()))
		}
		if sp.spawnComm() != comm {
			panic("mpx: contributing spawners disagree on communicator")
		}
		for _, t := range sp.spawnTasks() {
			checkCommand(t.command)
			checkMaxProcs(t.maxprocs)
			argv := make([]Pair, len(t.argv))
			copy(argv, t.argv)
			t.argv = argv
			ms.tasks = append(ms.tasks, t)
		}
	}
	checkUniverse(comm.rt, ms.TotalMaxProcs())
	return ms
}

// Len returns K, the number of executables.
func (ms *MultiSpawner) Len() int { return len(ms.tasks) }

// TotalMaxProcs returns the sum of the per-executable rank counts.
func (ms *MultiSpawner) TotalMaxProcs() int {
	total := 0
	for _, t := range ms.tasks {
		total += t.maxprocs
	}
	return total
}

// checkIndex validates i against [0, K).
func (ms *MultiSpawner) checkIndex(i int) error {
	if i < 0 || i >= len(ms.tasks) {
		return &OutOfRangeError{Index: i, Size: len(ms.tasks), Loc: here(2)}
	}
	return nil
}

// SetCommands replaces every command. Exactly K commands are required.
func (ms *MultiSpawner) SetCommands(commands ...string) *MultiSpawner {
	ms.checkConfiguring()
	ms.checkBulk(len(commands))
	for _, c := range commands {
		checkCommand(c)
	}
	for i := range ms.tasks {
		ms.tasks[i].command = commands[i]
	}
	return ms
}

// SetCommandAt replaces the command of executable i.
func (ms *MultiSpawner) SetCommandAt(i int, command string) error {
	ms.checkConfiguring()
	if err := ms.checkIndex(i); err != nil {
		return err
	}
	checkCommand(command)
	ms.tasks[i].command = command
	return nil
}

// CommandAt returns the command of executable i.
func (ms *MultiSpawner) CommandAt(i int) (string, error) {
	if err := ms.checkIndex(i); err != nil {
		return "", err
	}
	return ms.tasks[i].command, nil
}

// Commands returns every command in order.
func (ms *MultiSpawner) Commands() []string {
	out := make([]string, len(ms.tasks))
	for i, t := range ms.tasks {
		out[i] = t.command
	}
	return out
}

// SetMaxProcs replaces every rank count. Exactly K counts are required and
// their sum must not exceed the universe size when known.
func (ms *MultiSpawner) SetMaxProcs(counts ...int) *MultiSpawner {
	ms.checkConfiguring()
	ms.checkBulk(len(counts))
	total := 0
	for _, n := range counts {
		checkMaxProcs(n)
		total += n
	}
	checkUniverse(ms.comm.rt, total)
	for i := range ms.tasks {
		ms.tasks[i].maxprocs = counts[i]
	}
	return ms
}

// SetMaxProcsAt replaces the rank count of executable i.
func (ms *MultiSpawner) SetMaxProcsAt(i, n int) error {
	ms.checkConfiguring()
	if err := ms.checkIndex(i); err != nil {
		return err
	}
	checkMaxProcs(n)
	checkUniverse(ms.comm.rt, ms.TotalMaxProcs()-ms.tasks[i].maxprocs+n)
	ms.tasks[i].maxprocs = n
	return nil
}

// MaxProcsAt returns the rank count of executable i.
func (ms *MultiSpawner) MaxProcsAt(i int) (int, error) {
	if err := ms.checkIndex(i); err != nil {
		return 0, err
	}
	return ms.tasks[i].maxprocs, nil
}

// MaxProcs returns every rank count in order.
func (ms *MultiSpawner) MaxProcs() []int {
	out := make([]int, len(ms.tasks))
	for i, t := range ms.tasks {
		out[i] = t.maxprocs
	}
	return out
}

// SetSpawnInfos attaches launch attributes to every executable. Exactly K
// maps are required; nil entries mean the null map.
func (ms *MultiSpawner) SetSpawnInfos(infos ...*InfoMap) *MultiSpawner {
	ms.checkConfiguring()
	ms.checkBulk(len(infos))
	for i := range ms.tasks {
		ms.tasks[i].info = infos[i]
	}
	return ms
}

// SetSpawnInfoAt attaches launch attributes to executable i.
func (ms *MultiSpawner) SetSpawnInfoAt(i int, m *InfoMap) error {
	ms.checkConfiguring()
	if err := ms.checkIndex(i); err != nil {
		return err
	}
	ms.tasks[i].info = m
	return nil
}

// SpawnInfoAt returns the launch attributes of executable i, or the null
// map when none are attached.
func (ms *MultiSpawner) SpawnInfoAt(i int) (*InfoMap, error) {
	if err := ms.checkIndex(i); err != nil {
		return nil, err
	}
	if ms.tasks[i].info == nil {
		return InfoNull(), nil
	}
	return ms.tasks[i].info, nil
}

// AddArgv appends one argv block per executable: exactly K blocks. Each
// block element is a string token, a numeric value, or a Pair.
func (ms *MultiSpawner) AddArgv(blocks ...[]any) *MultiSpawner {
	ms.checkConfiguring()
	ms.checkBulk(len(blocks))
	for i, block := range blocks {
		for _, a := range block {
			ms.tasks[i].argv = append(ms.tasks[i].argv, coerceArg(a))
		}
	}
	return ms
}

// AddArgvAt appends arguments to executable i.
func (ms *MultiSpawner) AddArgvAt(i int, args ...any) error {
	ms.checkConfiguring()
	if err := ms.checkIndex(i); err != nil {
		return err
	}
	for _, a := range args {
		ms.tasks[i].argv = append(ms.tasks[i].argv, coerceArg(a))
	}
	return nil
}

// ArgvAt returns the accumulated argument pairs of executable i.
func (ms *MultiSpawner) ArgvAt(i int) ([]Pair, error) {
	if err := ms.checkIndex(i); err != nil {
		return nil, err
	}
	out := make([]Pair, len(ms.tasks[i].argv))
	copy(out, ms.tasks[i].argv)
	return out, nil
}

// SetRoot replaces the shared root rank.
func (ms *MultiSpawner) SetRoot(root int) *MultiSpawner {
	ms.checkConfiguring()
	checkRoot(root, ms.comm)
	ms.root = root
	return ms
}

// Root returns the shared root rank.
func (ms *MultiSpawner) Root() int { return ms.root }

// SetComm replaces the shared communicator.
func (ms *MultiSpawner) SetComm(c Comm) *MultiSpawner {
	ms.checkConfiguring()
	checkIntracomm(c)
	checkRoot(ms.root, c)
	ms.comm = c
	return ms
}

// Comm returns the shared communicator.
func (ms *MultiSpawner) Comm() Comm { return ms.comm }

// SetWantErrcodes controls whether the launch collects per-rank start
// codes. The default is true.
func (ms *MultiSpawner) SetWantErrcodes(want bool) *MultiSpawner {
	ms.checkConfiguring()
	ms.wantErrcodes = want
	return ms
}

// Spawn launches every configured executable as one parallel call and
// transitions the spawner to the launched state. The result's error codes
// have length TotalMaxProcs, concatenated in task order.
func (ms *MultiSpawner) Spawn(ctx context.Context) (*SpawnResult, error) {
	ms.checkConfiguring()
	checkIntracomm(ms.comm)
	checkRoot(ms.root, ms.comm)
	total := 0
	for _, t := range ms.tasks {
		checkCommand(t.command)
		checkMaxProcs(t.maxprocs)
		total += t.maxprocs
	}
	checkUniverse(ms.comm.rt, total)

	rt := ms.comm.rt
	tasks := make([]mpirt.SpawnTask, len(ms.tasks))
	for i, t := range ms.tasks {
		tasks[i] = mpirt.SpawnTask{
			Command:  t.command,
			Argv:     marshalArgv(t.argv),
			MaxProcs: t.maxprocs,
			Info:     infoHandleOf(rt, t.info),
		}
	}
	commands := ms.Commands()
	ctx = opid.Ensure(ctx)
	eventbus.Publish(ctx, events.SpawnStart{
		Commands:      commands,
		TotalMaxProcs: total,
		Root:          ms.root,
	})
	start := time.Now()
	outcome, err := rt.SpawnMultiple(ctx, tasks, ms.root, ms.comm.h, ms.wantErrcodes)
	res := resultFromOutcome(rt, outcome, total, ms.wantErrcodes, err)
	eventbus.Publish(ctx, events.SpawnFinish{
		Commands:      commands,
		TotalMaxProcs: total,
		Spawned:       spawnedOf(res),
		Err:           err,
		Duration:      time.Since(start),
	})
	if err != nil {
		return nil, fmt.Errorf("mpx: spawn multiple: %w", err)
	}
	ms.result = res
	return res, nil
}

// Launched reports whether Spawn has completed successfully.
func (ms *MultiSpawner) Launched() bool { return ms.result != nil }

// Result returns the launch result. Calling it before Spawn is a contract
// violation.
func (ms *MultiSpawner) Result() *SpawnResult {
	if ms.result == nil {
		panic("mpx: spawner has not launched yet")
	}
	return ms.result
}

// Intercomm returns the launched intercommunicator.
func (ms *MultiSpawner) Intercomm() Comm { return ms.Result().Intercomm() }

// Errcodes returns the per-rank start codes, if requested.
func (ms *MultiSpawner) Errcodes() ([]int, bool) { return ms.Result().Errcodes() }

// NumSpawned counts the successfully started ranks.
func (ms *MultiSpawner) NumSpawned() int { return ms.Result().NumSpawned() }

// MaxProcsSpawned reports whether every requested rank started.
func (ms *MultiSpawner) MaxProcsSpawned() bool { return ms.Result().MaxProcsSpawned() }

// PrintErrorsTo writes the non-success start codes to w.
func (ms *MultiSpawner) PrintErrorsTo(w io.Writer) { ms.Result().PrintErrorsTo(w) }

func (ms *MultiSpawner) checkConfiguring() {
	if ms.result != nil {
		panic("mpx: spawner already launched")
	}
}

func (ms *MultiSpawner) checkBulk(n int) {
	if n != len(ms.tasks) {
		panic(fmt.Sprintf("mpx: bulk setter got %d elements for %d executables", n, len(ms.tasks)))
	}
}

// Spawner plumbing for further flattening.
func (ms *MultiSpawner) spawnTasks() []taskConfig {
	out := make([]taskConfig, len(ms.tasks))
	copy(out, ms.tasks)
	return out
}
func (ms *MultiSpawner) spawnRoot() int  { return ms.root }
func (ms *MultiSpawner) spawnComm() Comm { return ms.comm }
