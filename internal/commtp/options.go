package commtp

import (
	"time"

	"google.golang.org/grpc"
)

// Options configures the control-plane transport.
//
// Defaults:
// - MaxConnsPerEndpoint: 2
// - RPCTimeout:          5s (applied only when the context has no deadline)
// - DialOptions:         insecure credentials with default backoff
//
// All options are safe to leave zero-valued.
type Options struct {
	MaxConnsPerEndpoint int
	RPCTimeout          time.Duration
	DialOptions         []grpc.DialOption
}

// Option mutates Options. Use the WithX helpers below.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerEndpoint: 2,
		RPCTimeout:          5 * time.Second,
	}
}

func WithMaxConnsPerEndpoint(n int) Option { return func(o *Options) { o.MaxConnsPerEndpoint = n } }
func WithRPCTimeout(d time.Duration) Option {
	return func(o *Options) { o.RPCTimeout = d }
}
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = opts }
}
