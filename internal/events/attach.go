package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// AttachStart is emitted before a control-plane client call.
type AttachStart struct {
	Method string
	Target string
}

// AttachFinish is emitted after a control-plane client call completes.
type AttachFinish struct {
	Method   string
	Target   string
	Code     codes.Code
	Err      error
	Duration time.Duration
}
