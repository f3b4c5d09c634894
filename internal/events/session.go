// Package events defines the payloads published on the event bus around
// session lifecycle, spawn launches, and attach traffic.
package events

// SessionStart is emitted after the runtime is initialized and the active
// window opens.
type SessionStart struct {
	ThreadSupport string
}

// SessionFinish is emitted after the runtime is finalized.
type SessionFinish struct {
	Err error
}
