package localrt

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mpxgo/mpx/internal/mpirt"
)

// errcodeStartFailed is reported for a rank whose process could not be
// started.
const errcodeStartFailed = 1

// Spawn launches task.MaxProcs copies of task.Command as local processes.
func (r *Runtime) Spawn(ctx context.Context, task mpirt.SpawnTask, root int, comm mpirt.CommHandle, wantErrcodes bool) (mpirt.SpawnOutcome, error) {
	return r.SpawnMultiple(ctx, []mpirt.SpawnTask{task}, root, comm, wantErrcodes)
}

// SpawnMultiple launches every task's ranks concurrently. The spawned
// processes form one child world: ranks are assigned in task order, and
// each child sees the combined world size. Start failures surface as
// per-rank error codes, not as a call error.
func (r *Runtime) SpawnMultiple(ctx context.Context, tasks []mpirt.SpawnTask, root int, comm mpirt.CommHandle, wantErrcodes bool) (mpirt.SpawnOutcome, error) {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return mpirt.SpawnOutcome{}, mpirt.ErrNotInitialized
	}
	if _, ok := r.comms[comm]; !ok {
		r.mu.Unlock()
		return mpirt.SpawnOutcome{}, fmt.Errorf("%w: comm %d", mpirt.ErrUnknownHandle, comm)
	}
	if comm == commNull {
		r.mu.Unlock()
		return mpirt.SpawnOutcome{}, mpirt.ErrNullHandle
	}
	r.mu.Unlock()

	addr, err := r.ensureServer()
	if err != nil {
		return mpirt.SpawnOutcome{}, fmt.Errorf("localrt: control plane: %w", err)
	}

	total := 0
	for _, t := range tasks {
		total += t.MaxProcs
	}
	codes := make([]int, total)

	g, gctx := errgroup.WithContext(ctx)
	offset := 0
	for app, t := range tasks {
		base := offset
		offset += t.MaxProcs
		for i := 0; i < t.MaxProcs; i++ {
			rank := base + i
			g.Go(func() error {
				codes[rank] = r.startRank(gctx, t, app, rank, total, addr)
				return nil
			})
		}
	}
	_ = g.Wait()

	r.mu.Lock()
	r.nextID++
	inter := mpirt.CommHandle(r.nextID)
	r.comms[inter] = &commObject{rank: r.worldRank, size: total, inter: true}
	r.mu.Unlock()

	out := mpirt.SpawnOutcome{Intercomm: inter}
	if wantErrcodes {
		out.Errcodes = codes
	}
	return out, nil
}

// startRank starts one child process and returns its error code. The
// child is reaped in the background; spawned ranks run independently of
// the call that started them.
func (r *Runtime) startRank(ctx context.Context, t mpirt.SpawnTask, app, rank, worldSize int, parent string) int {
	if ctx.Err() != nil {
		return errcodeStartFailed
	}
	command := r.resolveCommand(t)
	cmd := exec.Command(command, t.Argv...)
	if wdir, ok := r.infoValue(t.Info, "wdir"); ok {
		cmd.Dir = wdir
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), r.infoEnvEntries(t.Info)...)
	cmd.Env = append(cmd.Env,
		EnvRank+"="+strconv.Itoa(rank),
		EnvWorldSize+"="+strconv.Itoa(worldSize),
		EnvAppNum+"="+strconv.Itoa(app),
		EnvParent+"="+parent,
		EnvUniverseSize+"="+strconv.Itoa(r.universe),
	)
	if err := cmd.Start(); err != nil {
		return errcodeStartFailed
	}
	go func() { _ = cmd.Wait() }()
	return 0
}

// resolveCommand honors the "path" info key: a relative command is looked
// up in the given list of directories before falling back to the command
// as written.
func (r *Runtime) resolveCommand(t mpirt.SpawnTask) string {
	if filepath.IsAbs(t.Command) {
		return t.Command
	}
	searchPath, ok := r.infoValue(t.Info, "path")
	if !ok {
		return t.Command
	}
	for _, dir := range filepath.SplitList(searchPath) {
		cand := filepath.Join(dir, t.Command)
		if st, err := os.Stat(cand); err == nil && !st.IsDir() {
			return cand
		}
	}
	return t.Command
}

// infoEnvEntries collects the "env_"-prefixed info keys of h as KEY=value
// entries for the child environment, in insertion order. The process
// protocol variables are appended after them and win on conflict.
func (r *Runtime) infoEnvEntries(h mpirt.InfoHandle) []string {
	if h.None() || h == infoNull {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.infos[h]
	if !ok {
		return nil
	}
	var out []string
	for _, k := range o.keys {
		name, found := strings.CutPrefix(k, "env_")
		if !found || name == "" {
			continue
		}
		out = append(out, name+"="+o.vals[k])
	}
	return out
}

func (r *Runtime) infoValue(h mpirt.InfoHandle, key string) (string, bool) {
	if h.None() || h == infoNull {
		return "", false
	}
	v, ok, err := r.InfoGet(h, key)
	if err != nil {
		return "", false
	}
	return v, ok
}
