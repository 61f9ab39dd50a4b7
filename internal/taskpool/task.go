// Package taskpool provides a priority-ordered task queue bound to a pool of reusable agents.
package taskpool

import "fmt"

// Status is the scheduling state of a task as reported by TaskInfo.
type Status int

const (
	StatusTodo Status = iota
	StatusDoing
	StatusDone
	StatusError
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusTodo:
		return "todo"
	case StatusDoing:
		return "doing"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for _, v := range []Status{StatusTodo, StatusDoing, StatusDone, StatusError} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("taskpool: unknown status %q", text)
}

// Task is a unit of schedulable work.
type Task interface {
	SerialID() int
	Tag() string
	Priority() int
	UserData() any
	Done() bool
	Description() string
}

// TaskBase carries the identity fields shared by all tasks.
// Embed it in concrete task types.
type TaskBase struct {
	serialID int
	tag      string
	priority int
	userData any
	done     bool
}

// Init sets the identity fields and clears the done flag.
func (b *TaskBase) Init(serialID int, tag string, priority int, userData any) {
	b.serialID = serialID
	b.tag = tag
	b.priority = priority
	b.userData = userData
	b.done = false
}

func (b *TaskBase) SerialID() int { return b.serialID }
func (b *TaskBase) Tag() string { return b.tag }
func (b *TaskBase) Priority() int { return b.priority }
func (b *TaskBase) UserData() any { return b.userData }
func (b *TaskBase) Done() bool { return b.done }

// SetDone marks the task finished. The pool reclaims it on its next update.
func (b *TaskBase) SetDone() {
	b.done = true
}

// Description returns an empty string; concrete tasks override it.
func (b *TaskBase) Description() string { return "" }

// Reset zeroes all fields.
func (b *TaskBase) Reset() {
	*b = TaskBase{}
}

// TaskInfo is a read-only snapshot of a task.
type TaskInfo struct {
	SerialID    int    `json:"serial_id"`
	Tag         string `json:"tag,omitempty"`
	Priority    int    `json:"priority"`
	UserData    any    `json:"-"`
	Status      Status `json:"status"`
	Description string `json:"description,omitempty"`
}

func newTaskInfo(t Task, status Status) TaskInfo {
	return TaskInfo{
		SerialID:    t.SerialID(),
		Tag:         t.Tag(),
		Priority:    t.Priority(),
		UserData:    t.UserData(),
		Status:      status,
		Description: t.Description(),
	}
}
