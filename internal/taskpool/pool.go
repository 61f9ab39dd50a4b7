package taskpool

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Options configures a Pool.
type Options[T Task] struct {
	// Release is called with every task that leaves the pool, either
	// because it finished or because it was removed. Typically it returns
	// the task to an allocation pool.
	Release func(T)

	// Logger receives debug output about admissions and removals.
	Logger *slog.Logger
}

type workingAgent[T Task] struct {
	agent Agent[T]
	task  T
}

// Pool schedules tasks onto a fixed set of agents.
//
// Pool is not safe for concurrent use. All calls, including Update, must
// happen on the same goroutine.
type Pool[T Task] struct {
	free    []Agent[T]
	working []workingAgent[T]
	waiting []T

	paused  bool
	serial  int
	release func(T)
	logger  *slog.Logger
}

// New creates an empty pool.
func New[T Task](opts Options[T]) *Pool[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool[T]{
		release: opts.Release,
		logger:  logger.With("component", "taskpool"),
	}
}

// Paused reports whether Update is currently a no-op.
func (p *Pool[T]) Paused() bool { return p.paused }

// SetPaused gates Update.
func (p *Pool[T]) SetPaused(paused bool) { p.paused = paused }

// TotalAgentCount returns the number of agents owned by the pool.
func (p *Pool[T]) TotalAgentCount() int { return len(p.free) + len(p.working) }

// FreeAgentCount returns the number of idle agents.
func (p *Pool[T]) FreeAgentCount() int { return len(p.free) }

// WorkingAgentCount returns the number of agents bound to a task.
func (p *Pool[T]) WorkingAgentCount() int { return len(p.working) }

// WaitingTaskCount returns the number of queued tasks.
func (p *Pool[T]) WaitingTaskCount() int { return len(p.waiting) }

// NextSerialID returns a new serial id, unique within this pool.
func (p *Pool[T]) NextSerialID() int {
	p.serial++
	return p.serial
}

// AddAgent initializes agent and adds it to the free agents.
func (p *Pool[T]) AddAgent(agent Agent[T]) error {
	if isNil(agent) {
		return ErrInvalidAgent
	}
	if err := agent.Initialize(); err != nil {
		return fmt.Errorf("initialize agent: %w", err)
	}
	p.free = append(p.free, agent)
	return nil
}

// AddTask queues task. The waiting list is kept in descending priority;
// tasks of equal priority keep their arrival order.
func (p *Pool[T]) AddTask(task T) error {
	if isNil(task) {
		return ErrInvalidTask
	}

	i := len(p.waiting)
	for i > 0 && p.waiting[i-1].Priority() < task.Priority() {
		i--
	}
	p.waiting = slices.Insert(p.waiting, i, task)
	return nil
}

// Update advances working agents, then admits waiting tasks into free agents.
func (p *Pool[T]) Update(dt, realDt time.Duration) error {
	if p.paused {
		return nil
	}

	var errs *multierror.Error

	for i := 0; i < len(p.working); {
		w := p.working[i]
		if !w.task.Done() {
			if err := w.agent.Update(dt, realDt); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("task %d: %w", w.task.SerialID(), err))
			}
			// Callbacks may have removed entries; only step forward when the
			// current slot still holds this agent.
			if i < len(p.working) && p.working[i].agent == w.agent {
				i++
			}
			continue
		}

		p.working = slices.Delete(p.working, i, i+1)
		w.agent.Reset()
		p.free = append(p.free, w.agent)
		p.releaseTask(w.task)
	}

	for i := 0; i < len(p.waiting) && len(p.free) > 0; {
		agent := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]

		task := p.waiting[i]
		p.working = append(p.working, workingAgent[T]{agent: agent, task: task})

		status := agent.Start(task)
		p.logger.Debug("task start", "serial_id", task.SerialID(), "tag", task.Tag(), "status", status)

		if status == StartDone || status == StartHasToWait || status == StartUnknownError {
			agent.Reset()
			p.removeWorkingAgent(agent)
			p.free = append(p.free, agent)
		}

		if status == StartDone || status == StartCanResume || status == StartUnknownError {
			if j := p.waitingIndex(task.SerialID()); j >= 0 {
				p.waiting = slices.Delete(p.waiting, j, j+1)
				if j < i {
					i--
				}
			}
		} else {
			i++
		}

		if status == StartDone || status == StartUnknownError {
			p.releaseTask(task)
		}
	}

	return errs.ErrorOrNil()
}

// RemoveTask removes the task with serialID, resetting its agent if it is
// running. It reports whether a task was found.
func (p *Pool[T]) RemoveTask(serialID int) bool {
	if i := p.waitingIndex(serialID); i >= 0 {
		task := p.waiting[i]
		p.waiting = slices.Delete(p.waiting, i, i+1)
		p.releaseTask(task)
		return true
	}

	for i, w := range p.working {
		if w.task.SerialID() == serialID {
			p.working = slices.Delete(p.working, i, i+1)
			w.agent.Reset()
			p.free = append(p.free, w.agent)
			p.releaseTask(w.task)
			return true
		}
	}

	return false
}

// RemoveTasks removes every task with the given tag and returns how many
// were removed.
func (p *Pool[T]) RemoveTasks(tag string) int {
	return p.removeWhere(func(t T) bool { return t.Tag() == tag })
}

// RemoveAllTasks removes every task and returns how many were removed.
func (p *Pool[T]) RemoveAllTasks() int {
	return p.removeWhere(func(T) bool { return true })
}

// TaskInfo returns a snapshot of the task with serialID.
func (p *Pool[T]) TaskInfo(serialID int) (TaskInfo, bool) {
	for _, t := range p.waiting {
		if t.SerialID() == serialID {
			return newTaskInfo(t, StatusTodo), true
		}
	}
	for _, w := range p.working {
		if w.task.SerialID() == serialID {
			return newTaskInfo(w.task, workingStatus(w.task)), true
		}
	}
	return TaskInfo{}, false
}

// TaskInfos returns snapshots of all tasks with the given tag.
func (p *Pool[T]) TaskInfos(tag string) []TaskInfo {
	return p.infosWhere(func(t T) bool { return t.Tag() == tag })
}

// AllTaskInfos returns snapshots of all tasks, waiting tasks first.
func (p *Pool[T]) AllTaskInfos() []TaskInfo {
	return p.infosWhere(func(T) bool { return true })
}

// Shutdown removes all tasks and shuts every agent down.
func (p *Pool[T]) Shutdown() {
	p.RemoveAllTasks()
	for _, agent := range p.free {
		agent.Shutdown()
	}
	p.free = nil
	p.working = nil
	p.waiting = nil
}

func (p *Pool[T]) removeWhere(match func(T) bool) int {
	count := 0

	for i := 0; i < len(p.waiting); {
		task := p.waiting[i]
		if !match(task) {
			i++
			continue
		}
		p.waiting = slices.Delete(p.waiting, i, i+1)
		p.releaseTask(task)
		count++
	}

	for i := 0; i < len(p.working); {
		w := p.working[i]
		if !match(w.task) {
			i++
			continue
		}
		p.working = slices.Delete(p.working, i, i+1)
		w.agent.Reset()
		p.free = append(p.free, w.agent)
		p.releaseTask(w.task)
		count++
	}

	if count > 0 {
		p.logger.Debug("tasks removed", "count", count)
	}
	return count
}

func (p *Pool[T]) infosWhere(match func(T) bool) []TaskInfo {
	var infos []TaskInfo
	for _, t := range p.waiting {
		if match(t) {
			infos = append(infos, newTaskInfo(t, StatusTodo))
		}
	}
	for _, w := range p.working {
		if match(w.task) {
			infos = append(infos, newTaskInfo(w.task, workingStatus(w.task)))
		}
	}
	return infos
}

func (p *Pool[T]) waitingIndex(serialID int) int {
	for i, t := range p.waiting {
		if t.SerialID() == serialID {
			return i
		}
	}
	return -1
}

func (p *Pool[T]) removeWorkingAgent(agent Agent[T]) {
	for i := len(p.working) - 1; i >= 0; i-- {
		if p.working[i].agent == agent {
			p.working = slices.Delete(p.working, i, i+1)
			return
		}
	}
}

func (p *Pool[T]) releaseTask(task T) {
	if p.release != nil {
		p.release(task)
	}
}

func workingStatus(t Task) Status {
	if t.Done() {
		return StatusDone
	}
	return StatusDoing
}

// isNil catches both untyped nil interfaces and typed nil pointers.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
