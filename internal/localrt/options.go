package localrt

import (
	"runtime"

	"github.com/mpxgo/mpx/internal/commtp"
)

// Options configure the local runtime.
type Options struct {
	// UniverseSize overrides the soft upper bound on process slots.
	// When zero the runtime consults EnvUniverseSize and falls back to
	// the machine's logical CPU count.
	UniverseSize int

	// ListenAddr is where the control plane listens for spawned
	// children. The default binds an ephemeral loopback port.
	ListenAddr string

	// TransportOptions are passed to the control-plane client used for
	// attaching back to a parent.
	TransportOptions []commtp.Option
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		ListenAddr: "127.0.0.1:0",
	}
}

func defaultUniverse() int { return runtime.NumCPU() }

func WithUniverseSize(n int) Option {
	return func(o *Options) { o.UniverseSize = n }
}

func WithListenAddr(addr string) Option {
	return func(o *Options) { o.ListenAddr = addr }
}

func WithTransportOptions(opts ...commtp.Option) Option {
	return func(o *Options) { o.TransportOptions = opts }
}
