package mpx

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/mpxgo/mpx/internal/eventbus"
	"github.com/mpxgo/mpx/internal/events"
	"github.com/mpxgo/mpx/internal/localrt"
	"github.com/mpxgo/mpx/internal/mpirt"
)

// active is the process-wide session slot. The null and env info
// singletons, rank-tagged error locations, and the implicit world
// communicator used by spawner defaults all resolve through it.
var active atomic.Pointer[Session]

// Session is the facade's view of an initialized runtime. It is created by
// Init and valid until Finalize. All facade objects (InfoMap, spawners)
// are usable only while their session is active.
type Session struct {
	rt       mpirt.Runtime
	provided ThreadSupport

	infoNull *InfoMap
	infoEnv  *InfoMap
}

// Options configures Init.
type Options struct {
	// Runtime is the primitive provider. Defaults to the local single-host
	// runtime.
	Runtime mpirt.Runtime
	// Bus receives lifecycle and spawn events. Nil disables publishing.
	Bus *eventbus.Bus
}

// Option mutates Options. Use the WithX helpers below.
type Option func(*Options)

// WithRuntime substitutes the runtime primitive provider.
func WithRuntime(rt mpirt.Runtime) Option { return func(o *Options) { o.Runtime = rt } }

// WithEventBus installs b as the process-wide event bus for the session.
func WithEventBus(b *eventbus.Bus) Option { return func(o *Options) { o.Bus = b } }

// Init starts the runtime and opens the active window, negotiating thread
// support. When the runtime provides a lower level than required, the
// runtime is shut back down and a *ThreadSupportError carrying both levels
// is returned.
//
// Only one session may be active per process.
func Init(ctx context.Context, required ThreadSupport, opts ...Option) (*Session, error) {
	if required < ThreadSingle || required > ThreadMultiple {
		panic(fmt.Sprintf("mpx: invalid thread support level %d", int(required)))
	}
	o := &Options{Runtime: localrt.New()}
	for _, f := range opts {
		f(o)
	}
	if active.Load() != nil {
		return nil, fmt.Errorf("mpx: session already active")
	}
	providedLevel, err := o.Runtime.Init(ctx, required.level())
	if err != nil {
		return nil, fmt.Errorf("mpx: init: %w", err)
	}
	provided := threadSupportFromLevel(providedLevel)
	if provided < required {
		_ = o.Runtime.Finalize(ctx)
		return nil, &ThreadSupportError{Required: required, Provided: provided, Loc: here(1)}
	}
	s := &Session{rt: o.Runtime, provided: provided}
	s.infoNull = adoptInfo(s.rt, s.rt.InfoNull(), false)
	s.infoEnv = adoptInfo(s.rt, s.rt.InfoEnv(), false)
	if !active.CompareAndSwap(nil, s) {
		_ = o.Runtime.Finalize(ctx)
		return nil, fmt.Errorf("mpx: session already active")
	}
	// The process-wide bus changes hands only once the session is live;
	// a failed Init leaves the previous bus installed.
	if o.Bus != nil {
		eventbus.Use(o.Bus)
	}
	eventbus.Publish(ctx, events.SessionStart{ThreadSupport: provided.String()})
	return s, nil
}

// Finalize closes the active window and shuts the runtime down. The null
// and env singletons become unusable. Finalize is not idempotent: a second
// call returns an error from the runtime.
func (s *Session) Finalize(ctx context.Context) error {
	active.CompareAndSwap(s, nil)
	err := s.rt.Finalize(ctx)
	eventbus.Publish(ctx, events.SessionFinish{Err: err})
	return err
}

// ThreadSupport returns the negotiated level.
func (s *Session) ThreadSupport() ThreadSupport { return s.provided }

// World returns the world intracommunicator.
func (s *Session) World() Comm {
	s.check()
	return Comm{rt: s.rt, h: s.rt.CommWorld()}
}

// UniverseSize reports the total process capacity of the runtime; known is
// false when the runtime cannot determine it.
func (s *Session) UniverseSize() (size int, known bool) {
	s.check()
	size, known, err := s.rt.UniverseSize()
	if err != nil {
		panic(fmt.Sprintf("mpx: universe size: %v", err))
	}
	return size, known
}

// ProcessorName returns the runtime's name for the host processor.
func (s *Session) ProcessorName() (string, error) {
	s.check()
	return s.rt.ProcessorName()
}

// Time returns elapsed wall-clock seconds from an arbitrary fixed origin.
func (s *Session) Time() float64 {
	s.check()
	return s.rt.Wtime()
}

// Tick returns the resolution of Time in seconds.
func (s *Session) Tick() float64 {
	s.check()
	return s.rt.Wtick()
}

func (s *Session) check() {
	if !s.rt.Initialized() {
		panic("mpx: session used outside the active init/finalize window")
	}
}

func activeSession() *Session { return active.Load() }

// current returns the active session or panics. Facade constructors and
// the null/env singleton accessors resolve through it.
func current() *Session {
	s := active.Load()
	if s == nil {
		panic("mpx: no active session; call mpx.Init first")
	}
	return s
}

// InfoNull returns the process-wide null-attribute singleton. It is
// non-freeable and valid only inside the active window.
func InfoNull() *InfoMap {
	s := current()
	s.check()
	return s.infoNull
}

// InfoEnv returns the process-wide environment-attribute singleton. It is
// non-freeable and valid only inside the active window.
func InfoEnv() *InfoMap {
	s := current()
	s.check()
	return s.infoEnv
}

// MaxInfoKeySize is the exclusive upper bound on info key byte lengths.
func MaxInfoKeySize() int { return current().rt.MaxInfoKeyLen() }

// MaxInfoValueSize is the exclusive upper bound on info value byte lengths.
func MaxInfoValueSize() int { return current().rt.MaxInfoValueLen() }
