package events

import "time"

// MutationCallStart is emitted before a bound mutation method is called.
type MutationCallStart struct {
	Field string
	Async bool
}

// MutationCallFinish is emitted after the call returns or fails.
type MutationCallFinish struct {
	Field    string
	Async    bool
	Err      error
	Duration time.Duration
}
