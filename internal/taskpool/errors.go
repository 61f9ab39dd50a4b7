package taskpool

import "errors"

// Sentinel errors for pool setup calls.
var (
	ErrInvalidAgent = errors.New("taskpool: agent is invalid")
	ErrInvalidTask  = errors.New("taskpool: task is invalid")
)
