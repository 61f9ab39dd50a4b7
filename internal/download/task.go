// Package download provides resumable file downloads on top of taskpool.
package download

import (
	"fmt"
	"time"

	"github.com/fentz26/fetchpool/internal/taskpool"
)

// TaskStatus is the transfer state of a download task.
type TaskStatus int

const (
	TaskTodo TaskStatus = iota
	TaskDoing
	TaskDone
	TaskError
)

func (s TaskStatus) String() string {
	switch s {
	case TaskTodo:
		return "todo"
	case TaskDoing:
		return "doing"
	case TaskDone:
		return "done"
	case TaskError:
		return "error"
	default:
		return "unknown"
	}
}

// Params describes a download request.
type Params struct {
	Path      string        `json:"path"`
	URI       string        `json:"uri"`
	Tag       string        `json:"tag,omitempty"`
	Priority  int           `json:"priority"`
	FlushSize int64         `json:"flush_size"`
	Timeout   time.Duration `json:"timeout"`
	UserData  any           `json:"-"`
}

// Validate checks that p can be used to build a task.
func (p Params) Validate() error {
	switch {
	case p.Path == "":
		return fmt.Errorf("%w: path is empty", ErrInvalidArgument)
	case p.URI == "":
		return fmt.Errorf("%w: uri is empty", ErrInvalidArgument)
	case p.FlushSize <= 0:
		return fmt.Errorf("%w: flush size must be positive", ErrInvalidArgument)
	case p.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidArgument)
	}
	return nil
}

// Task is a single download. Tasks are recycled; do not keep a reference
// after the pool released it.
type Task struct {
	taskpool.TaskBase

	status    TaskStatus
	path      string
	uri       string
	flushSize int64
	timeout   time.Duration
	corrupted bool
}

// NewTask builds a task outside of a Manager.
func NewTask(serialID int, p Params) (*Task, error) {
	t := &Task{}
	if err := t.Init(serialID, p); err != nil {
		return nil, err
	}
	return t, nil
}

// Init fills an empty task.
func (t *Task) Init(serialID int, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	t.TaskBase.Init(serialID, p.Tag, p.Priority, p.UserData)
	t.status = TaskTodo
	t.path = p.Path
	t.uri = p.URI
	t.flushSize = p.FlushSize
	t.timeout = p.Timeout
	t.corrupted = false
	return nil
}

func (t *Task) Status() TaskStatus { return t.status }
func (t *Task) DownloadPath() string { return t.path }
func (t *Task) DownloadURI() string { return t.uri }
func (t *Task) FlushSize() int64 { return t.flushSize }
func (t *Task) Timeout() time.Duration { return t.timeout }
func (t *Task) TempPath() string { return t.path + TempSuffix }
func (t *Task) setStatus(s TaskStatus) { t.status = s }

// Corrupted reports whether the task failed because the bytes written did
// not add up to the bytes received.
func (t *Task) Corrupted() bool { return t.corrupted }
func (t *Task) Description() string { return t.uri }

// Params returns the parameters the task was built from.
func (t *Task) Params() Params {
	return Params{
		Path:      t.path,
		URI:       t.uri,
		Tag:       t.Tag(),
		Priority:  t.Priority(),
		FlushSize: t.flushSize,
		Timeout:   t.timeout,
		UserData:  t.UserData(),
	}
}

// Reset clears the task for reuse.
func (t *Task) Reset() {
	*t = Task{}
}
