package events

import "time"

// CompileStart is emitted before a request document is compiled into a plan.
type CompileStart struct {
	OperationName string
	Operations    int
	Fragments     int
}

// CompileFinish is emitted after compilation, successful or not.
type CompileFinish struct {
	OperationName string
	Operations    int
	Fragments     int
	Err           error
	Duration      time.Duration
}

// ExecuteStart is emitted before a compiled operation is evaluated.
type ExecuteStart struct {
	OperationName string
	OperationType string
}

// ExecuteFinish is emitted after evaluating an operation.
type ExecuteFinish struct {
	OperationName string
	OperationType string
	Errors        []error
	Duration      time.Duration
}
