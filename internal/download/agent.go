package download

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/fentz26/fetchpool/internal/taskpool"
)

// TempSuffix is appended to the destination path while a download is in
// progress.
const TempSuffix = ".download"

// Observer receives agent notifications. Nil fields are skipped, except
// that a failure without a Failure callback is escalated as an error.
type Observer struct {
	Start   func(a *Agent)
	Update  func(a *Agent, delta int64)
	Success func(a *Agent, total int64)
	Failure func(a *Agent, message string)
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithFileSystem replaces the os-backed file system.
func WithFileSystem(fsys FileSystem) AgentOption {
	return func(a *Agent) { a.fs = fsys }
}

// WithObserver sets the agent's observer.
func WithObserver(o Observer) AgentOption {
	return func(a *Agent) { a.observer = o }
}

// WithAgentLogger sets the logger.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// Agent runs one download task at a time.
type Agent struct {
	transport Transport
	fs        FileSystem
	observer  Observer
	logger    *slog.Logger

	box      *mailbox
	gen      uint64
	shutdown bool

	task *Task
	file File

	startLength      int64
	downloadedLength int64
	savedLength      int64
	unflushed        int64
	waitTime         time.Duration
}

var _ taskpool.Agent[*Task] = (*Agent)(nil)

// NewAgent creates an agent. Each agent needs its own transport.
func NewAgent(t Transport, opts ...AgentOption) (*Agent, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: transport is nil", ErrInvalidArgument)
	}
	a := &Agent{
		transport: t,
		fs:        OSFileSystem{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "download")
	return a, nil
}

// Task returns the running task or nil.
func (a *Agent) Task() *Task { return a.task }

// StartLength is the size of the partial file when the run started.
func (a *Agent) StartLength() int64 { return a.startLength }

// DownloadedLength is the number of bytes reported by this run.
func (a *Agent) DownloadedLength() int64 { return a.downloadedLength }

// SavedLength is the number of bytes written to the partial file.
func (a *Agent) SavedLength() int64 { return a.savedLength }

// CurrentLength is StartLength plus DownloadedLength.
func (a *Agent) CurrentLength() int64 { return a.startLength + a.downloadedLength }

// WaitTime is the time since the last transport event.
func (a *Agent) WaitTime() time.Duration { return a.waitTime }

// Initialize binds a fresh mailbox for transport events.
func (a *Agent) Initialize() error {
	if a.shutdown {
		return errors.New("download: agent is shut down")
	}
	a.box = &mailbox{}
	return nil
}

// Start opens or resumes the partial file and starts the transport.
func (a *Agent) Start(task *Task) taskpool.StartStatus {
	a.task = task
	a.gen++

	if err := a.openFile(task); err != nil {
		a.logFailure(a.fail(err.Error(), false))
		return taskpool.StartUnknownError
	}

	task.setStatus(TaskDoing)
	if a.observer.Start != nil {
		a.observer.Start(a)
	}

	req := Request{URI: task.DownloadURI(), Offset: a.startLength, UserData: task.UserData()}
	if err := a.transport.Download(req, runSink{box: a.box, gen: a.gen}); err != nil {
		a.logFailure(a.fail(err.Error(), false))
		return taskpool.StartUnknownError
	}

	a.waitTime = 0
	a.logger.Debug("download started",
		"serial_id", task.SerialID(), "uri", task.DownloadURI(), "start_length", a.startLength)
	return taskpool.StartCanResume
}

// Update applies queued transport events and checks for a timeout.
func (a *Agent) Update(dt, realDt time.Duration) error {
	if a.task == nil {
		return nil
	}

	var errs *multierror.Error
	for _, se := range a.box.drain() {
		if se.gen != a.gen {
			continue
		}
		errs = multierror.Append(errs, a.handle(se.ev))
	}

	if a.task != nil && a.task.Status() == TaskDoing {
		a.waitTime += realDt
		if a.waitTime >= a.task.Timeout() {
			errs = multierror.Append(errs, a.fail("Timeout", false))
		}
	}
	return errs.ErrorOrNil()
}

// Reset cancels the run and clears all per-task state.
func (a *Agent) Reset() {
	a.transport.Reset()
	a.closeFile()
	if a.box != nil {
		a.box.clear()
	}
	a.gen++
	a.task = nil
	a.startLength = 0
	a.downloadedLength = 0
	a.savedLength = 0
	a.unflushed = 0
	a.waitTime = 0
}

// Shutdown stops the agent permanently.
func (a *Agent) Shutdown() {
	a.Reset()
	if a.box != nil {
		a.box.close()
	}
	if err := a.transport.Close(); err != nil {
		a.logger.Warn("close transport", "error", err)
	}
	a.shutdown = true
}

func (a *Agent) openFile(task *Task) error {
	temp := task.TempPath()

	if _, err := a.fs.Stat(temp); err == nil {
		f, err := a.fs.OpenFile(temp, os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open %s: %w", temp, err)
		}
		size, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return fmt.Errorf("seek %s: %w", temp, err)
		}
		a.file = f
		a.startLength = size
		a.savedLength = size
		a.downloadedLength = 0
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", temp, err)
	}

	if err := a.fs.MkdirAll(filepath.Dir(task.DownloadPath()), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := a.fs.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", temp, err)
	}
	a.file = f
	a.startLength = 0
	a.savedLength = 0
	a.downloadedLength = 0
	return nil
}

func (a *Agent) handle(ev Event) error {
	// Success and Failure are final for a task.
	if a.task == nil || a.task.Status() != TaskDoing {
		return nil
	}

	switch ev.Kind {
	case EventBytes:
		return a.onBytes(ev.Data)
	case EventLengthDelta:
		a.waitTime = 0
		a.downloadedLength += ev.Delta
		if a.observer.Update != nil {
			a.observer.Update(a, ev.Delta)
		}
	case EventComplete:
		return a.onComplete(ev.Total)
	case EventError:
		return a.fail(ev.Message, ev.DeleteDownloading)
	}
	return nil
}

func (a *Agent) onBytes(data []byte) error {
	a.waitTime = 0
	if a.file == nil {
		return nil
	}

	n, err := a.file.Write(data)
	a.unflushed += int64(n)
	a.savedLength += int64(n)
	if err != nil {
		return a.fail(fmt.Sprintf("write %s: %v", a.task.TempPath(), err), false)
	}

	if a.unflushed >= a.task.FlushSize() {
		if err := a.file.Sync(); err != nil {
			return a.fail(fmt.Sprintf("flush %s: %v", a.task.TempPath(), err), false)
		}
		a.unflushed = 0
	}
	return nil
}

func (a *Agent) onComplete(total int64) error {
	a.waitTime = 0
	a.downloadedLength = total

	if a.savedLength != a.startLength+a.downloadedLength {
		err := fmt.Errorf("%w: task %d saved %d bytes, expected %d",
			ErrInternalConsistency, a.task.SerialID(), a.savedLength, a.startLength+a.downloadedLength)
		a.logger.Error("download corrupted", "serial_id", a.task.SerialID(), "error", err)
		a.task.corrupted = true
		return multierror.Append(err, a.fail(err.Error(), true))
	}

	a.transport.Reset()
	if err := a.file.Close(); err != nil {
		a.file = nil
		return a.fail(fmt.Sprintf("close %s: %v", a.task.TempPath(), err), false)
	}
	a.file = nil

	dest := a.task.DownloadPath()
	if _, err := a.fs.Stat(dest); err == nil {
		if err := a.fs.Remove(dest); err != nil {
			return a.fail(fmt.Sprintf("remove %s: %v", dest, err), false)
		}
	}
	if err := a.fs.Rename(a.task.TempPath(), dest); err != nil {
		return a.fail(fmt.Sprintf("rename to %s: %v", dest, err), false)
	}

	a.task.setStatus(TaskDone)
	a.logger.Debug("download finished", "serial_id", a.task.SerialID(), "length", a.CurrentLength())
	if a.observer.Success != nil {
		a.observer.Success(a, a.CurrentLength())
	}
	a.task.SetDone()
	return nil
}

// fail ends the task with an error. The partial file is only removed when
// deleteDownloading is set.
func (a *Agent) fail(message string, deleteDownloading bool) error {
	if a.task == nil || a.task.Status() == TaskDone || a.task.Status() == TaskError {
		return nil
	}

	a.transport.Reset()
	a.closeFile()
	if deleteDownloading {
		if err := a.fs.Remove(a.task.TempPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.logger.Warn("remove partial file", "path", a.task.TempPath(), "error", err)
		}
	}

	a.task.setStatus(TaskError)
	a.logger.Debug("download failed", "serial_id", a.task.SerialID(), "message", message)

	var err error
	if a.observer.Failure != nil {
		a.observer.Failure(a, message)
	} else {
		err = fmt.Errorf("%w: task %d: %s", ErrUnhandledFailure, a.task.SerialID(), message)
	}
	a.task.SetDone()
	return err
}

func (a *Agent) logFailure(err error) {
	if err != nil {
		a.logger.Error("start failed", "error", err)
	}
}

func (a *Agent) closeFile() {
	if a.file == nil {
		return
	}
	if err := a.file.Close(); err != nil {
		a.logger.Warn("close partial file", "error", err)
	}
	a.file = nil
}
