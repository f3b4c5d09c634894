package events

import "time"

// SpawnStart is emitted before a spawn call enters the runtime.
type SpawnStart struct {
	Commands      []string
	TotalMaxProcs int
	Root          int
}

// SpawnFinish is emitted after a spawn call returns.
type SpawnFinish struct {
	Commands      []string
	TotalMaxProcs int
	Spawned       int
	Err           error
	Duration      time.Duration
}
