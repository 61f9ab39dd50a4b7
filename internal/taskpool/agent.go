package taskpool

import "time"

// StartStatus is returned by Agent.Start and decides what the pool does
// with the agent and the task.
type StartStatus int

const (
	// StartDone means the task finished inside Start.
	StartDone StartStatus = iota
	// StartCanResume means the agent is now running the task.
	StartCanResume
	// StartHasToWait means the task cannot run yet and stays queued.
	StartHasToWait
	// StartUnknownError means the task failed inside Start.
	StartUnknownError
)

func (s StartStatus) String() string {
	switch s {
	case StartDone:
		return "done"
	case StartCanResume:
		return "can_resume"
	case StartHasToWait:
		return "has_to_wait"
	case StartUnknownError:
		return "unknown_error"
	default:
		return "unknown"
	}
}

// Agent is a reusable executor bound to at most one task at a time.
type Agent[T Task] interface {
	// Initialize is called once when the agent joins a pool.
	Initialize() error

	// Start begins running task.
	Start(task T) StartStatus

	// Update advances the running task. Errors are collected by the pool
	// and never stop the tick.
	Update(dt, realDt time.Duration) error

	// Reset detaches the current task so the agent can be reused.
	Reset()

	// Shutdown releases the agent permanently.
	Shutdown()
}
