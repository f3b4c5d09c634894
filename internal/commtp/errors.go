package commtp

import "errors"

var (
	// ErrClosed indicates the transport has been shut down.
	ErrClosed = errors.New("commtp: closed")
	// ErrNoEndpoint indicates a call with an empty endpoint address.
	ErrNoEndpoint = errors.New("commtp: no endpoint")
)
