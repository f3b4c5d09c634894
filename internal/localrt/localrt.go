// Package localrt is a conforming single-host implementation of the
// runtime primitive interface. Info objects live in an in-process table;
// spawned ranks are launched as local OS processes and connect back to the
// spawning process over the gRPC control plane.
package localrt

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mpxgo/mpx/internal/commtp"
	"github.com/mpxgo/mpx/internal/mpirt"
	"github.com/mpxgo/mpx/internal/wire"
)

// Environment variables of the local runtime's process protocol. The
// parent sets them on spawned children; Init reads them to take the child
// role.
const (
	EnvRank         = "MPX_RANK"
	EnvWorldSize    = "MPX_WORLD_SIZE"
	EnvAppNum       = "MPX_APPNUM"
	EnvParent       = "MPX_PARENT"
	EnvUniverseSize = "MPX_UNIVERSE_SIZE"
)

const (
	infoNull  mpirt.InfoHandle = 1
	infoEnv   mpirt.InfoHandle = 2
	commNull  mpirt.CommHandle = 1
	commWorld mpirt.CommHandle = 2
)

// Runtime is the local single-host runtime. Create it with New and pass it
// to the facade's Init.
type Runtime struct {
	opts *Options

	mu          sync.Mutex
	initialized bool
	finalized   bool
	start       time.Time

	nextID uint64
	infos  map[mpirt.InfoHandle]*infoObject
	comms  map[mpirt.CommHandle]*commObject

	universe  int
	worldRank int
	worldSize int

	server    *controlServer
	transport *commtp.Transport
	parent    string
	attached  []Peer
}

type infoObject struct {
	keys []string
	vals map[string]string
	perm bool // sentinel, never freed
}

type commObject struct {
	rank  int
	size  int
	inter bool
	perm  bool
}

// New creates a local runtime. It is inert until Init.
func New(opts ...Option) *Runtime {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Runtime{opts: o}
}

var _ mpirt.Runtime = (*Runtime)(nil)

// Init opens the active window. The local runtime always provides the
// MULTIPLE thread level. When the process was spawned by another local
// runtime (EnvParent is set), Init dials the parent's control plane and
// attaches before returning.
func (r *Runtime) Init(ctx context.Context, required mpirt.ThreadLevel) (mpirt.ThreadLevel, error) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return 0, mpirt.ErrFinalized
	}
	if r.initialized {
		r.mu.Unlock()
		return 0, fmt.Errorf("localrt: already initialized")
	}
	r.initialized = true
	r.start = time.Now()
	r.nextID = 16
	r.infos = map[mpirt.InfoHandle]*infoObject{
		infoNull: {perm: true},
		infoEnv:  r.buildEnvInfo(),
	}
	r.worldRank = envInt(EnvRank, 0)
	r.worldSize = envInt(EnvWorldSize, 1)
	r.universe = r.opts.UniverseSize
	if r.universe <= 0 {
		r.universe = envInt(EnvUniverseSize, defaultUniverse())
	}
	r.comms = map[mpirt.CommHandle]*commObject{
		commNull:  {perm: true},
		commWorld: {rank: r.worldRank, size: r.worldSize, perm: true},
	}
	r.parent = os.Getenv(EnvParent)
	r.transport = commtp.New(r.opts.TransportOptions...)
	r.mu.Unlock()

	if r.parent != "" {
		if err := r.attachToParent(ctx); err != nil {
			_ = r.Finalize(ctx)
			return 0, fmt.Errorf("localrt: attach to parent %s: %w", r.parent, err)
		}
	}
	return mpirt.ThreadLevelMultiple, nil
}

// Finalize closes the active window, stops the control server and drops
// every live object.
func (r *Runtime) Finalize(ctx context.Context) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return mpirt.ErrNotInitialized
	}
	r.initialized = false
	r.finalized = true
	server := r.server
	transport := r.transport
	r.server = nil
	r.transport = nil
	r.infos = nil
	r.comms = nil
	r.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	if server != nil {
		server.stop()
	}
	return nil
}

// Initialized reports whether the runtime is inside the active window.
func (r *Runtime) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// buildEnvInfo populates the environment sentinel, in insertion order.
// Only keys with a determinable non-empty value are present.
func (r *Runtime) buildEnvInfo() *infoObject {
	env := &infoObject{vals: map[string]string{}, perm: true}
	put := func(k, v string) {
		if v == "" {
			return
		}
		env.keys = append(env.keys, k)
		env.vals[k] = v
	}
	put("command", os.Args[0])
	put("argv", strings.Join(os.Args[1:], " "))
	put("maxprocs", strconv.Itoa(envInt(EnvWorldSize, 1)))
	if wd, err := os.Getwd(); err == nil {
		put("wdir", wd)
	}
	if host, err := os.Hostname(); err == nil {
		put("host", host)
	}
	put("thread_level", "MPI_THREAD_MULTIPLE")
	return env
}

// ---------------- info primitives ----------------

func (r *Runtime) info(h mpirt.InfoHandle) (*infoObject, error) {
	if !r.initialized {
		return nil, mpirt.ErrNotInitialized
	}
	o, ok := r.infos[h]
	if !ok {
		return nil, fmt.Errorf("%w: info %d", mpirt.ErrUnknownHandle, h)
	}
	return o, nil
}

func (r *Runtime) mutableInfo(h mpirt.InfoHandle) (*infoObject, error) {
	o, err := r.info(h)
	if err != nil {
		return nil, err
	}
	if h == infoNull {
		return nil, mpirt.ErrNullHandle
	}
	return o, nil
}

func (r *Runtime) InfoCreate() (mpirt.InfoHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return 0, mpirt.ErrNotInitialized
	}
	r.nextID++
	h := mpirt.InfoHandle(r.nextID)
	r.infos[h] = &infoObject{vals: map[string]string{}}
	return h, nil
}

func (r *Runtime) InfoDup(h mpirt.InfoHandle) (mpirt.InfoHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, err := r.mutableInfo(h)
	if err != nil {
		return 0, err
	}
	dup := &infoObject{keys: append([]string(nil), src.keys...), vals: map[string]string{}}
	for k, v := range src.vals {
		dup.vals[k] = v
	}
	r.nextID++
	nh := mpirt.InfoHandle(r.nextID)
	r.infos[nh] = dup
	return nh, nil
}

func (r *Runtime) InfoFree(h mpirt.InfoHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.info(h)
	if err != nil {
		return err
	}
	if o.perm {
		return mpirt.ErrNotFreeable
	}
	delete(r.infos, h)
	return nil
}

func (r *Runtime) InfoSet(h mpirt.InfoHandle, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.mutableInfo(h)
	if err != nil {
		return err
	}
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = value
	return nil
}

func (r *Runtime) InfoDelete(h mpirt.InfoHandle, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.mutableInfo(h)
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

func (r *Runtime) InfoGet(h mpirt.InfoHandle, key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.info(h)
	if err != nil {
		return "", false, err
	}
	v, ok := o.vals[key]
	return v, ok, nil
}

func (r *Runtime) InfoValueLen(h mpirt.InfoHandle, key string) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.info(h)
	if err != nil {
		return 0, false, err
	}
	v, ok := o.vals[key]
	return len(v), ok, nil
}

func (r *Runtime) InfoKeyCount(h mpirt.InfoHandle) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.info(h)
	if err != nil {
		return 0, err
	}
	return len(o.keys), nil
}

func (r *Runtime) InfoNthKey(h mpirt.InfoHandle, n int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.info(h)
	if err != nil {
		return "", err
	}
	if n < 0 || n >= len(o.keys) {
		return "", fmt.Errorf("localrt: nth key %d out of range [0, %d)", n, len(o.keys))
	}
	return o.keys[n], nil
}

func (r *Runtime) InfoNull() mpirt.InfoHandle { return infoNull }
func (r *Runtime) InfoEnv() mpirt.InfoHandle  { return infoEnv }

// Limits mirror the common MPICH/Open MPI values.
func (r *Runtime) MaxInfoKeyLen() int   { return 256 }
func (r *Runtime) MaxInfoValueLen() int { return 1024 }

// ---------------- communicator primitives ----------------

func (r *Runtime) comm(h mpirt.CommHandle) (*commObject, error) {
	if !r.initialized {
		return nil, mpirt.ErrNotInitialized
	}
	c, ok := r.comms[h]
	if !ok {
		return nil, fmt.Errorf("%w: comm %d", mpirt.ErrUnknownHandle, h)
	}
	return c, nil
}

func (r *Runtime) CommWorld() mpirt.CommHandle { return commWorld }
func (r *Runtime) CommNull() mpirt.CommHandle  { return commNull }

func (r *Runtime) CommRank(h mpirt.CommHandle) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.comm(h)
	if err != nil {
		return 0, err
	}
	if h == commNull {
		return 0, mpirt.ErrNullHandle
	}
	return c.rank, nil
}

func (r *Runtime) CommSize(h mpirt.CommHandle) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.comm(h)
	if err != nil {
		return 0, err
	}
	if h == commNull {
		return 0, mpirt.ErrNullHandle
	}
	return c.size, nil
}

func (r *Runtime) CommIsInter(h mpirt.CommHandle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.comm(h)
	if err != nil {
		return false, err
	}
	return c.inter, nil
}

func (r *Runtime) CommFree(h mpirt.CommHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.comm(h)
	if err != nil {
		return err
	}
	if c.perm {
		return mpirt.ErrNotFreeable
	}
	delete(r.comms, h)
	return nil
}

// ---------------- environment queries ----------------

func (r *Runtime) UniverseSize() (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return 0, false, mpirt.ErrNotInitialized
	}
	return r.universe, true, nil
}

func (r *Runtime) ProcessorName() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return "", mpirt.ErrNotInitialized
	}
	return os.Hostname()
}

func (r *Runtime) Wtime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.start).Seconds()
}

func (r *Runtime) Wtick() float64 { return 1e-9 }

// ---------------- child attach ----------------

// attachToParent registers this spawned rank with the parent's control
// plane.
func (r *Runtime) attachToParent(ctx context.Context) error {
	host, _ := os.Hostname()
	req := wire.NewAttachRequest(
		int32(envInt(EnvAppNum, 0)),
		int32(r.worldRank),
		int64(os.Getpid()),
		host,
		host,
	)
	resp, err := r.transport.Call(ctx, r.parent, wire.Control().Attach, req)
	if err != nil {
		return err
	}
	accepted, _ := wire.AttachResponseValues(resp)
	if !accepted {
		return fmt.Errorf("localrt: parent rejected attach")
	}
	return nil
}

// Peer is one child rank attached to this process's control plane.
type Peer struct {
	AppNum int
	Rank   int
	PID    int64
	Host   string
}

// AttachedPeers returns the children that have attached so far, in attach
// order.
func (r *Runtime) AttachedPeers() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, len(r.attached))
	copy(out, r.attached)
	return out
}

func (r *Runtime) recordAttach(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, p)
}

// ---------------- helpers ----------------

func envInt(name string, fallback int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}
