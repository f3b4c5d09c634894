package mpx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpxgo/mpx/internal/eventbus"
	"github.com/mpxgo/mpx/internal/events"
	"github.com/mpxgo/mpx/internal/mpirt"
)

// newTestSession opens a session on a fresh mock runtime and tears it down
// with the test. The mock is returned for scripting and inspection.
func newTestSession(t *testing.T) (*Session, *mpirt.MockRuntime) {
	t.Helper()
	rt := mpirt.NewMockRuntime(8)
	sess, err := Init(context.Background(), ThreadMultiple, WithRuntime(rt))
	require.NoError(t, err)
	t.Cleanup(func() {
		if rt.Initialized() {
			require.NoError(t, sess.Finalize(context.Background()))
		}
	})
	return sess, rt
}

func TestInitNegotiatesThreadSupport(t *testing.T) {
	rt := mpirt.NewMockRuntime(4)
	rt.SetProvidedThreadLevel(mpirt.ThreadLevelSerialized)

	sess, err := Init(context.Background(), ThreadFunneled, WithRuntime(rt))
	require.NoError(t, err)
	defer func() { require.NoError(t, sess.Finalize(context.Background())) }()

	require.Equal(t, ThreadSerialized, sess.ThreadSupport())
}

func TestInitThreadSupportShortfall(t *testing.T) {
	rt := mpirt.NewMockRuntime(4)
	rt.SetProvidedThreadLevel(mpirt.ThreadLevelFunneled)

	_, err := Init(context.Background(), ThreadMultiple, WithRuntime(rt))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrThreadSupport)

	var tse *ThreadSupportError
	require.ErrorAs(t, err, &tse)
	require.Equal(t, ThreadMultiple, tse.Required)
	require.Equal(t, ThreadFunneled, tse.Provided)

	// The runtime must be shut back down on a failed negotiation.
	require.False(t, rt.Initialized())
}

func TestInitRejectsSecondSession(t *testing.T) {
	_, _ = newTestSession(t)

	_, err := Init(context.Background(), ThreadSingle, WithRuntime(mpirt.NewMockRuntime(4)))
	require.Error(t, err)
	require.Contains(t, err.Error(), "session already active")
}

func TestInitFailureKeepsEventBus(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	var starts int
	unsubscribe := eventbus.Subscribe(func(ctx context.Context, e events.SessionStart) { starts++ })
	defer unsubscribe()

	rt := mpirt.NewMockRuntime(4)
	rt.SetProvidedThreadLevel(mpirt.ThreadLevelFunneled)
	_, err := Init(context.Background(), ThreadMultiple, WithRuntime(rt), WithEventBus(eventbus.New()))
	require.ErrorIs(t, err, ErrThreadSupport)

	// The failed Init must not have replaced the process-wide bus.
	eventbus.Publish(context.Background(), events.SessionStart{})
	require.Equal(t, 1, starts)
}

func TestInitInvalidLevelPanics(t *testing.T) {
	require.Panics(t, func() {
		_, _ = Init(context.Background(), ThreadSupport(42), WithRuntime(mpirt.NewMockRuntime(4)))
	})
}

func TestSessionEnvironmentQueries(t *testing.T) {
	sess, rt := newTestSession(t)
	rt.SetWorld(3, 5)

	world := sess.World()
	require.Equal(t, 3, world.Rank())
	require.Equal(t, 5, world.Size())
	require.False(t, world.IsInter())

	size, known := sess.UniverseSize()
	require.True(t, known)
	require.Equal(t, 8, size)

	name, err := sess.ProcessorName()
	require.NoError(t, err)
	require.NotEmpty(t, name)

	require.Greater(t, sess.Tick(), 0.0)
	require.GreaterOrEqual(t, sess.Time(), 0.0)
}

func TestInfoEnvSingleton(t *testing.T) {
	_, rt := newTestSession(t)
	rt.SetEnvInfo([2]string{"command", "worker"}, [2]string{"maxprocs", "4"})

	env := InfoEnv()
	require.False(t, env.Freeable())

	v, err := env.At("command")
	require.NoError(t, err)
	require.Equal(t, "worker", v)

	// Free must leave the non-freeable singleton untouched.
	env.Free()
	v, err = InfoEnv().At("maxprocs")
	require.NoError(t, err)
	require.Equal(t, "4", v)
}

func TestInfoNullSingleton(t *testing.T) {
	_, _ = newTestSession(t)

	null := InfoNull()
	require.True(t, null.IsNull())
	require.False(t, null.Freeable())
	require.Panics(t, func() { null.Len() })
	require.Panics(t, func() { null.Put("k", "v") })
}

func TestNoActiveSessionPanics(t *testing.T) {
	require.Panics(t, func() { NewInfoMap() })
	require.Panics(t, func() { World() })
}

func TestFacadeUseAfterFinalizePanics(t *testing.T) {
	rt := mpirt.NewMockRuntime(4)
	sess, err := Init(context.Background(), ThreadSingle, WithRuntime(rt))
	require.NoError(t, err)

	m := NewInfoMap()
	m.Put("key", "value")
	env := InfoEnv()

	require.NoError(t, sess.Finalize(context.Background()))

	require.Panics(t, func() { m.Len() })
	require.Panics(t, func() { env.Len() })
	require.Panics(t, func() { sess.World() })

	err = sess.Finalize(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, mpirt.ErrNotInitialized)
}

func TestInfoLimits(t *testing.T) {
	_, _ = newTestSession(t)
	require.Equal(t, 256, MaxInfoKeySize())
	require.Equal(t, 1024, MaxInfoValueSize())
}

func TestFinalizeLeavesNoLiveObjects(t *testing.T) {
	rt := mpirt.NewMockRuntime(4)
	sess, err := Init(context.Background(), ThreadSingle, WithRuntime(rt))
	require.NoError(t, err)

	a := NewInfoMap()
	a.Put("x", "1")
	b := a.Clone()
	a.Free()
	b.Free()
	require.Equal(t, 0, rt.LiveInfoCount())

	require.NoError(t, sess.Finalize(context.Background()))
	require.True(t, errors.Is(sess.Finalize(context.Background()), mpirt.ErrNotInitialized))
}
