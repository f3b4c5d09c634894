package mpirt

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SpawnScript produces the outcome for one spawn call in tests.
type SpawnScript func(tasks []SpawnTask, root int, comm CommHandle, wantErrcodes bool) (SpawnOutcome, error)

// AllStartedScript returns a SpawnScript that reports every requested rank
// as started, minting a fresh intercommunicator per call.
func AllStartedScript(m *MockRuntime) SpawnScript {
	return func(tasks []SpawnTask, root int, comm CommHandle, wantErrcodes bool) (SpawnOutcome, error) {
		total := 0
		for _, t := range tasks {
			total += t.MaxProcs
		}
		out := SpawnOutcome{Intercomm: m.mintIntercomm(total)}
		if wantErrcodes {
			out.Errcodes = make([]int, total)
		}
		return out, nil
	}
}

// SpawnCall is one recorded Spawn/SpawnMultiple invocation.
type SpawnCall struct {
	Tasks        []SpawnTask
	Root         int
	Comm         CommHandle
	WantErrcodes bool
	Multi        bool
}

// MockRuntime is a conforming in-memory Runtime for tests. Info objects
// behave per the interface contract (insertion order, overwrite in place);
// spawn behavior is scripted via SetSpawnScript and every call is recorded.
type MockRuntime struct {
	mu          sync.Mutex
	initialized bool
	finalized   bool
	provided    ThreadLevel
	start       time.Time

	nextID uint64
	infos  map[InfoHandle]*mockInfo
	comms  map[CommHandle]*mockComm

	universe      int
	universeKnown bool
	processor     string

	script SpawnScript
	spawns []SpawnCall
}

type mockInfo struct {
	keys []string
	vals map[string]string
	perm bool // sentinel: never freed
}

type mockComm struct {
	rank, size int
	inter      bool
	perm       bool
}

const (
	mockInfoNull InfoHandle = 1
	mockInfoEnv  InfoHandle = 2
	mockCommNull CommHandle = 1
	mockCommWorld CommHandle = 2
)

// NewMockRuntime returns a mock with a world of one rank, a known universe
// of size universe, and an all-started spawn script.
func NewMockRuntime(universe int) *MockRuntime {
	m := &MockRuntime{
		nextID:        16,
		infos:         make(map[InfoHandle]*mockInfo),
		comms:         make(map[CommHandle]*mockComm),
		universe:      universe,
		universeKnown: universe > 0,
		processor:     "mockhost",
		provided:      ThreadLevelMultiple,
	}
	m.infos[mockInfoNull] = &mockInfo{perm: true}
	m.infos[mockInfoEnv] = &mockInfo{vals: map[string]string{}, perm: true}
	m.comms[mockCommNull] = &mockComm{perm: true}
	m.comms[mockCommWorld] = &mockComm{rank: 0, size: 1, perm: true}
	m.script = AllStartedScript(m)
	return m
}

// SetSpawnScript replaces the scripted spawn behavior.
func (m *MockRuntime) SetSpawnScript(s SpawnScript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = s
}

// SetProvidedThreadLevel fixes the level returned by Init.
func (m *MockRuntime) SetProvidedThreadLevel(l ThreadLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provided = l
}

// SetWorld reconfigures the world communicator's rank and size.
func (m *MockRuntime) SetWorld(rank, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comms[mockCommWorld] = &mockComm{rank: rank, size: size, perm: true}
}

// SetEnvInfo populates the environment sentinel in insertion order.
func (m *MockRuntime) SetEnvInfo(pairs ...[2]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env := &mockInfo{vals: map[string]string{}, perm: true}
	for _, p := range pairs {
		env.keys = append(env.keys, p[0])
		env.vals[p[0]] = p[1]
	}
	m.infos[mockInfoEnv] = env
}

// SpawnCalls returns a copy of the recorded spawn invocations in order.
func (m *MockRuntime) SpawnCalls() []SpawnCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SpawnCall, len(m.spawns))
	copy(out, m.spawns)
	return out
}

// LiveInfoCount reports how many non-sentinel info objects are currently
// allocated. Used by resource-discipline tests.
func (m *MockRuntime) LiveInfoCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.infos {
		if !o.perm {
			n++
		}
	}
	return n
}

func (m *MockRuntime) mintIntercomm(remote int) CommHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	h := CommHandle(m.nextID)
	m.comms[h] = &mockComm{rank: 0, size: remote, inter: true}
	return h
}

func (m *MockRuntime) Init(ctx context.Context, required ThreadLevel) (ThreadLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return 0, ErrFinalized
	}
	m.initialized = true
	m.start = time.Now()
	return m.provided, nil
}

func (m *MockRuntime) Finalize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	m.initialized = false
	m.finalized = true
	return nil
}

func (m *MockRuntime) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func (m *MockRuntime) info(h InfoHandle) (*mockInfo, error) {
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	o, ok := m.infos[h]
	if !ok {
		return nil, fmt.Errorf("%w: info %d", ErrUnknownHandle, h)
	}
	return o, nil
}

// mutableInfo rejects the null sentinel for writing primitives.
func (m *MockRuntime) mutableInfo(h InfoHandle) (*mockInfo, error) {
	o, err := m.info(h)
	if err != nil {
		return nil, err
	}
	if h == mockInfoNull {
		return nil, ErrNullHandle
	}
	return o, nil
}

func (m *MockRuntime) InfoCreate() (InfoHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return 0, ErrNotInitialized
	}
	m.nextID++
	h := InfoHandle(m.nextID)
	m.infos[h] = &mockInfo{vals: map[string]string{}}
	return h, nil
}

func (m *MockRuntime) InfoDup(h InfoHandle) (InfoHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, err := m.mutableInfo(h)
	if err != nil {
		return 0, err
	}
	m.nextID++
	dup := &mockInfo{keys: append([]string(nil), src.keys...), vals: map[string]string{}}
	for k, v := range src.vals {
		dup.vals[k] = v
	}
	nh := InfoHandle(m.nextID)
	m.infos[nh] = dup
	return nh, nil
}

func (m *MockRuntime) InfoFree(h InfoHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.info(h)
	if err != nil {
		return err
	}
	if o.perm {
		return ErrNotFreeable
	}
	delete(m.infos, h)
	return nil
}

func (m *MockRuntime) InfoSet(h InfoHandle, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.mutableInfo(h)
	if err != nil {
		return err
	}
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = value
	return nil
}

func (m *MockRuntime) InfoDelete(h InfoHandle, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.mutableInfo(h)
	if err != nil {
		return err
	}
	if _, ok := o.vals[key]; !ok {
		return nil
	}
	delete(o.vals, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MockRuntime) InfoGet(h InfoHandle, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.info(h)
	if err != nil {
		return "", false, err
	}
	v, ok := o.vals[key]
	return v, ok, nil
}

func (m *MockRuntime) InfoValueLen(h InfoHandle, key string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.info(h)
	if err != nil {
		return 0, false, err
	}
	v, ok := o.vals[key]
	return len(v), ok, nil
}

func (m *MockRuntime) InfoKeyCount(h InfoHandle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.info(h)
	if err != nil {
		return 0, err
	}
	return len(o.keys), nil
}

func (m *MockRuntime) InfoNthKey(h InfoHandle, n int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.info(h)
	if err != nil {
		return "", err
	}
	if n < 0 || n >= len(o.keys) {
		return "", fmt.Errorf("mpirt: nth key %d out of range [0, %d)", n, len(o.keys))
	}
	return o.keys[n], nil
}

func (m *MockRuntime) InfoNull() InfoHandle { return mockInfoNull }
func (m *MockRuntime) InfoEnv() InfoHandle  { return mockInfoEnv }

func (m *MockRuntime) MaxInfoKeyLen() int   { return 256 }
func (m *MockRuntime) MaxInfoValueLen() int { return 1024 }

func (m *MockRuntime) comm(h CommHandle) (*mockComm, error) {
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	c, ok := m.comms[h]
	if !ok {
		return nil, fmt.Errorf("%w: comm %d", ErrUnknownHandle, h)
	}
	return c, nil
}

func (m *MockRuntime) CommWorld() CommHandle { return mockCommWorld }
func (m *MockRuntime) CommNull() CommHandle  { return mockCommNull }

func (m *MockRuntime) CommRank(h CommHandle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.comm(h)
	if err != nil {
		return 0, err
	}
	if h == mockCommNull {
		return 0, ErrNullHandle
	}
	return c.rank, nil
}

func (m *MockRuntime) CommSize(h CommHandle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.comm(h)
	if err != nil {
		return 0, err
	}
	if h == mockCommNull {
		return 0, ErrNullHandle
	}
	return c.size, nil
}

func (m *MockRuntime) CommIsInter(h CommHandle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.comm(h)
	if err != nil {
		return false, err
	}
	return c.inter, nil
}

func (m *MockRuntime) CommFree(h CommHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.comm(h)
	if err != nil {
		return err
	}
	if c.perm {
		return ErrNotFreeable
	}
	delete(m.comms, h)
	return nil
}

func (m *MockRuntime) UniverseSize() (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return 0, false, ErrNotInitialized
	}
	return m.universe, m.universeKnown, nil
}

func (m *MockRuntime) ProcessorName() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return "", ErrNotInitialized
	}
	return m.processor, nil
}

func (m *MockRuntime) Wtime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.start).Seconds()
}

func (m *MockRuntime) Wtick() float64 { return 1e-9 }

func (m *MockRuntime) Spawn(ctx context.Context, task SpawnTask, root int, comm CommHandle, wantErrcodes bool) (SpawnOutcome, error) {
	return m.record(ctx, []SpawnTask{task}, root, comm, wantErrcodes, false)
}

func (m *MockRuntime) SpawnMultiple(ctx context.Context, tasks []SpawnTask, root int, comm CommHandle, wantErrcodes bool) (SpawnOutcome, error) {
	return m.record(ctx, tasks, root, comm, wantErrcodes, true)
}

func (m *MockRuntime) record(ctx context.Context, tasks []SpawnTask, root int, comm CommHandle, wantErrcodes, multi bool) (SpawnOutcome, error) {
	_ = ctx
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return SpawnOutcome{}, ErrNotInitialized
	}
	copied := make([]SpawnTask, len(tasks))
	copy(copied, tasks)
	m.spawns = append(m.spawns, SpawnCall{
		Tasks:        copied,
		Root:         root,
		Comm:         comm,
		WantErrcodes: wantErrcodes,
		Multi:        multi,
	})
	script := m.script
	m.mu.Unlock()
	return script(tasks, root, comm, wantErrcodes)
}

var _ Runtime = (*MockRuntime)(nil)
