package localrt

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/mpxgo/mpx/internal/mpirt"
)

func newInitialized(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	r := New(opts...)
	provided, err := r.Init(context.Background(), mpirt.ThreadLevelMultiple)
	require.NoError(t, err)
	require.Equal(t, mpirt.ThreadLevelMultiple, provided)
	t.Cleanup(func() {
		if r.Initialized() {
			require.NoError(t, r.Finalize(context.Background()))
		}
	})
	return r
}

func TestInfoTableContract(t *testing.T) {
	r := newInitialized(t)

	h, err := r.InfoCreate()
	require.NoError(t, err)

	require.NoError(t, r.InfoSet(h, "zeta", "1"))
	require.NoError(t, r.InfoSet(h, "alpha", "2"))
	require.NoError(t, r.InfoSet(h, "zeta", "11"))

	n, err := r.InfoKeyCount(h)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Overwrite keeps insertion order.
	var keys []string
	for i := 0; i < n; i++ {
		k, err := r.InfoNthKey(h, i)
		require.NoError(t, err)
		keys = append(keys, k)
	}
	if diff := cmp.Diff([]string{"zeta", "alpha"}, keys); diff != "" {
		t.Fatalf("key order mismatch (-want +got):\n%s", diff)
	}

	v, ok, err := r.InfoGet(h, "zeta")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "11", v)

	l, ok, err := r.InfoValueLen(h, "alpha")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, l)

	dup, err := r.InfoDup(h)
	require.NoError(t, err)
	require.NoError(t, r.InfoSet(dup, "extra", "3"))
	_, ok, err = r.InfoGet(h, "extra")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.InfoDelete(h, "zeta"))
	require.NoError(t, r.InfoDelete(h, "zeta")) // absent delete is a no-op
	n, err = r.InfoKeyCount(h)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, r.InfoFree(h))
	require.NoError(t, r.InfoFree(dup))
	_, _, err = r.InfoGet(h, "alpha")
	require.ErrorIs(t, err, mpirt.ErrUnknownHandle)
}

func TestInfoSentinels(t *testing.T) {
	r := newInitialized(t)

	require.ErrorIs(t, r.InfoFree(r.InfoNull()), mpirt.ErrNotFreeable)
	require.ErrorIs(t, r.InfoFree(r.InfoEnv()), mpirt.ErrNotFreeable)
	require.ErrorIs(t, r.InfoSet(r.InfoNull(), "k", "v"), mpirt.ErrNullHandle)
	require.ErrorIs(t, r.InfoDelete(r.InfoNull(), "k"), mpirt.ErrNullHandle)

	// Reads on the null sentinel succeed and find nothing.
	_, ok, err := r.InfoGet(r.InfoNull(), "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnvInfoPopulated(t *testing.T) {
	r := newInitialized(t)

	for _, key := range []string{"command", "maxprocs", "wdir", "thread_level"} {
		v, ok, err := r.InfoGet(r.InfoEnv(), key)
		require.NoError(t, err)
		require.True(t, ok, "env key %q missing", key)
		require.NotEmpty(t, v)
	}
	v, _, err := r.InfoGet(r.InfoEnv(), "thread_level")
	require.NoError(t, err)
	require.Equal(t, "MPI_THREAD_MULTIPLE", v)
}

func TestUniverseSize(t *testing.T) {
	r := newInitialized(t, WithUniverseSize(3))
	size, known, err := r.UniverseSize()
	require.NoError(t, err)
	require.True(t, known)
	require.Equal(t, 3, size)
}

func TestUniverseSizeFromEnvironment(t *testing.T) {
	t.Setenv(EnvUniverseSize, "5")
	r := newInitialized(t)
	size, _, err := r.UniverseSize()
	require.NoError(t, err)
	require.Equal(t, 5, size)
}

func TestChildRoleFromEnvironment(t *testing.T) {
	t.Setenv(EnvRank, "2")
	t.Setenv(EnvWorldSize, "4")

	r := newInitialized(t)
	rank, err := r.CommRank(r.CommWorld())
	require.NoError(t, err)
	require.Equal(t, 2, rank)
	size, err := r.CommSize(r.CommWorld())
	require.NoError(t, err)
	require.Equal(t, 4, size)

	inter, err := r.CommIsInter(r.CommWorld())
	require.NoError(t, err)
	require.False(t, inter)
}

func TestCommSentinels(t *testing.T) {
	r := newInitialized(t)

	_, err := r.CommRank(r.CommNull())
	require.ErrorIs(t, err, mpirt.ErrNullHandle)
	require.ErrorIs(t, r.CommFree(r.CommWorld()), mpirt.ErrNotFreeable)
	require.ErrorIs(t, r.CommFree(r.CommNull()), mpirt.ErrNotFreeable)
}

func TestLifecycleErrors(t *testing.T) {
	r := New()
	require.False(t, r.Initialized())
	_, err := r.InfoCreate()
	require.ErrorIs(t, err, mpirt.ErrNotInitialized)
	require.ErrorIs(t, r.Finalize(context.Background()), mpirt.ErrNotInitialized)

	_, err = r.Init(context.Background(), mpirt.ThreadLevelSingle)
	require.NoError(t, err)
	require.NoError(t, r.Finalize(context.Background()))

	// A finalized runtime does not reinitialize.
	_, err = r.Init(context.Background(), mpirt.ThreadLevelSingle)
	require.ErrorIs(t, err, mpirt.ErrFinalized)
}

func TestClockQueries(t *testing.T) {
	r := newInitialized(t)
	require.GreaterOrEqual(t, r.Wtime(), 0.0)
	require.Greater(t, r.Wtick(), 0.0)
	name, err := r.ProcessorName()
	require.NoError(t, err)
	require.NotEmpty(t, name)
}

func TestSpawnStartFailureCodes(t *testing.T) {
	r := newInitialized(t)

	task := mpirt.SpawnTask{Command: filepath.Join(t.TempDir(), "no-such-binary"), MaxProcs: 3}
	out, err := r.Spawn(context.Background(), task, 0, r.CommWorld(), true)
	require.NoError(t, err)

	require.Equal(t, []int{1, 1, 1}, out.Errcodes)
	size, err := r.CommSize(out.Intercomm)
	require.NoError(t, err)
	require.Equal(t, 3, size)
	inter, err := r.CommIsInter(out.Intercomm)
	require.NoError(t, err)
	require.True(t, inter)
	require.NoError(t, r.CommFree(out.Intercomm))
}

func TestSpawnMultipleLaunchesProcesses(t *testing.T) {
	truePath, err := exec.LookPath("true")
	if err != nil {
		t.Skip("no true binary on PATH")
	}
	r := newInitialized(t)

	tasks := []mpirt.SpawnTask{
		{Command: truePath, MaxProcs: 2},
		{Command: truePath, MaxProcs: 1},
	}
	out, err := r.SpawnMultiple(context.Background(), tasks, 0, r.CommWorld(), true)
	require.NoError(t, err)
	require.Equal(t, []int{0, 0, 0}, out.Errcodes)
}

func TestSpawnRejectsNullComm(t *testing.T) {
	r := newInitialized(t)
	_, err := r.Spawn(context.Background(), mpirt.SpawnTask{Command: "x", MaxProcs: 1}, 0, r.CommNull(), false)
	require.ErrorIs(t, err, mpirt.ErrNullHandle)
}

func TestResolveCommandHonorsPathInfo(t *testing.T) {
	r := newInitialized(t)

	dir := t.TempDir()
	bin := filepath.Join(dir, "tool")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	h, err := r.InfoCreate()
	require.NoError(t, err)
	require.NoError(t, r.InfoSet(h, "path", dir))

	resolved := r.resolveCommand(mpirt.SpawnTask{Command: "tool", Info: h})
	require.Equal(t, bin, resolved)

	// Absolute commands and absent path keys pass through untouched.
	require.Equal(t, bin, r.resolveCommand(mpirt.SpawnTask{Command: bin}))
	require.Equal(t, "tool", r.resolveCommand(mpirt.SpawnTask{Command: "tool"}))
}

func TestInfoEnvEntriesCollectsPrefixedKeys(t *testing.T) {
	r := newInitialized(t)

	h, err := r.InfoCreate()
	require.NoError(t, err)
	require.NoError(t, r.InfoSet(h, "wdir", "/tmp"))
	require.NoError(t, r.InfoSet(h, "env_GREETING", "hello"))
	require.NoError(t, r.InfoSet(h, "env_SHARD", "7"))
	require.NoError(t, r.InfoSet(h, "env_", "dropped"))

	got := r.infoEnvEntries(h)
	want := []string{"GREETING=hello", "SHARD=7"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("env entries mismatch (-want +got):\n%s", diff)
	}

	require.Nil(t, r.infoEnvEntries(r.InfoNull()))
	require.Nil(t, r.infoEnvEntries(0))
}

func TestSpawnInjectsEnvInfo(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}
	r := newInitialized(t)

	out := filepath.Join(t.TempDir(), "out")
	h, err := r.InfoCreate()
	require.NoError(t, err)
	require.NoError(t, r.InfoSet(h, "env_MPX_TEST_GREETING", "hello"))

	task := mpirt.SpawnTask{
		Command:  sh,
		Argv:     []string{"-c", `echo "${MPX_TEST_GREETING:-MISSING}" > ` + out},
		MaxProcs: 1,
		Info:     h,
	}
	outcome, err := r.Spawn(context.Background(), task, 0, r.CommWorld(), true)
	require.NoError(t, err)
	require.Equal(t, []int{0}, outcome.Errcodes)

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(out)
		return err == nil && strings.TrimSpace(string(b)) == "hello"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLimits(t *testing.T) {
	r := New()
	require.Equal(t, 256, r.MaxInfoKeyLen())
	require.Equal(t, 1024, r.MaxInfoValueLen())
}
