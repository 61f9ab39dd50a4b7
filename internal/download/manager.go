package download

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/fentz26/fetchpool/internal/refpool"
	"github.com/fentz26/fetchpool/internal/taskpool"
	"github.com/fentz26/fetchpool/internal/throughput"
)

// Config holds manager defaults.
type Config struct {
	// FlushSize and Timeout apply to downloads added without their own.
	FlushSize int64
	Timeout   time.Duration

	SpeedUpdateInterval time.Duration
	SpeedRecordInterval time.Duration
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		FlushSize:           1 << 20,
		Timeout:             30 * time.Second,
		SpeedUpdateInterval: time.Second,
		SpeedRecordInterval: 10 * time.Second,
	}
}

// Progress describes a download when a handler fires.
type Progress struct {
	SerialID int
	Params

	StartLength      int64
	DownloadedLength int64
	SavedLength      int64
	// Corrupted is set on a failure caused by a saved length mismatch. The
	// partial file is already gone and resuming is pointless.
	Corrupted bool
}

// CurrentLength is StartLength plus DownloadedLength.
func (p Progress) CurrentLength() int64 { return p.StartLength + p.DownloadedLength }

// Handlers are manager level callbacks. Nil fields are skipped.
type Handlers struct {
	Start   func(p Progress)
	Update  func(p Progress, delta int64)
	Success func(p Progress, total int64)
	Failure func(p Progress, message string)
}

// Info is a snapshot of a download known to the manager.
type Info struct {
	SerialID      int             `json:"serial_id"`
	Tag           string          `json:"tag,omitempty"`
	Priority      int             `json:"priority"`
	Status        taskpool.Status `json:"status"`
	Path          string          `json:"path"`
	URI           string          `json:"uri"`
	CurrentLength int64           `json:"current_length"`
	WaitTime      time.Duration   `json:"wait_time"`
	UserData      any             `json:"-"`
}

type subscription struct {
	id int
	h  Handlers
}

// Manager owns a download pool and its agents. Like taskpool.Pool it must
// only be used from one goroutine.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	pool    *taskpool.Pool[*Task]
	tasks   *refpool.Pool[*Task]
	live    map[int]*Task
	agents  []*Agent
	counter *throughput.Counter

	subs      []subscription
	nextSubID int
	unhandled []error
	deferred  []func()
}

// NewManager creates a manager without agents.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if cfg.FlushSize <= 0 || cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: flush size and timeout must be positive", ErrInvalidArgument)
	}
	counter, err := throughput.New(cfg.SpeedUpdateInterval, cfg.SpeedRecordInterval)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logger.With("component", "manager"),
		tasks:   refpool.New(func() *Task { return &Task{} }),
		live:    make(map[int]*Task),
		counter: counter,
	}
	m.pool = taskpool.New(taskpool.Options[*Task]{
		Release: m.release,
		Logger:  logger,
	})
	return m, nil
}

// AddAgent adds a to the pool. The manager replaces the agent's observer.
func (m *Manager) AddAgent(a *Agent) error {
	if a == nil {
		return fmt.Errorf("%w: agent is nil", ErrInvalidArgument)
	}
	a.observer = Observer{
		Start:   m.onStart,
		Update:  m.onUpdate,
		Success: m.onSuccess,
		Failure: m.onFailure,
	}
	if err := m.pool.AddAgent(a); err != nil {
		return err
	}
	m.agents = append(m.agents, a)
	return nil
}

// AddDownload queues a download and returns its serial id. Zero FlushSize
// and Timeout take the manager defaults.
func (m *Manager) AddDownload(p Params) (int, error) {
	if p.FlushSize == 0 {
		p.FlushSize = m.cfg.FlushSize
	}
	if p.Timeout == 0 {
		p.Timeout = m.cfg.Timeout
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}

	t := m.tasks.Acquire()
	if err := t.Init(m.pool.NextSerialID(), p); err != nil {
		m.tasks.Release(t)
		return 0, err
	}
	if err := m.pool.AddTask(t); err != nil {
		m.tasks.Release(t)
		return 0, err
	}
	m.live[t.SerialID()] = t
	m.logger.Debug("download added", "serial_id", t.SerialID(), "uri", p.URI, "priority", p.Priority)
	return t.SerialID(), nil
}

// RemoveDownload cancels the download with serialID.
func (m *Manager) RemoveDownload(serialID int) bool { return m.pool.RemoveTask(serialID) }

// RemoveDownloads cancels every download tagged tag.
func (m *Manager) RemoveDownloads(tag string) int { return m.pool.RemoveTasks(tag) }

// RemoveAllDownloads cancels every download.
func (m *Manager) RemoveAllDownloads() int { return m.pool.RemoveAllTasks() }

// DownloadInfo returns a snapshot of one download.
func (m *Manager) DownloadInfo(serialID int) (Info, bool) {
	ti, ok := m.pool.TaskInfo(serialID)
	if !ok {
		return Info{}, false
	}
	return m.info(ti), true
}

// DownloadInfos returns snapshots of the downloads tagged tag.
func (m *Manager) DownloadInfos(tag string) []Info { return m.infos(m.pool.TaskInfos(tag)) }

// AllDownloadInfos returns snapshots of every download.
func (m *Manager) AllDownloadInfos() []Info { return m.infos(m.pool.AllTaskInfos()) }

// Update runs the calls queued by Defer, then ticks the pool and the speed
// counter.
func (m *Manager) Update(dt, realDt time.Duration) error {
	deferred := m.deferred
	m.deferred = nil
	for _, fn := range deferred {
		fn()
	}

	var errs *multierror.Error
	if err := m.pool.Update(dt, realDt); err != nil {
		errs = multierror.Append(errs, err)
	}
	m.counter.Update(dt, realDt)

	if len(m.unhandled) > 0 {
		errs = multierror.Append(errs, m.unhandled...)
		m.unhandled = nil
	}
	return errs.ErrorOrNil()
}

// Shutdown cancels all downloads and stops every agent.
func (m *Manager) Shutdown() {
	m.pool.Shutdown()
	m.counter.Reset()
	m.agents = nil
	m.deferred = nil
}

// Defer queues fn to run at the start of the next Update. Handlers use it
// to act on a failure after the current admission pass.
func (m *Manager) Defer(fn func()) { m.deferred = append(m.deferred, fn) }

// DeferredCount returns the number of calls waiting for the next Update.
func (m *Manager) DeferredCount() int { return len(m.deferred) }

// Subscribe registers h and returns a function that removes it.
func (m *Manager) Subscribe(h Handlers) (unsubscribe func()) {
	m.nextSubID++
	id := m.nextSubID
	m.subs = append(m.subs, subscription{id: id, h: h})
	return func() {
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) Paused() bool { return m.pool.Paused() }
func (m *Manager) SetPaused(paused bool) { m.pool.SetPaused(paused) }
func (m *Manager) TotalAgentCount() int { return m.pool.TotalAgentCount() }
func (m *Manager) FreeAgentCount() int { return m.pool.FreeAgentCount() }
func (m *Manager) WorkingAgentCount() int { return m.pool.WorkingAgentCount() }
func (m *Manager) WaitingTaskCount() int { return m.pool.WaitingTaskCount() }

// CurrentSpeed returns the trailing download speed in bytes per second.
func (m *Manager) CurrentSpeed() float64 { return m.counter.CurrentSpeed() }

// TaskStats returns allocation statistics of the task pool.
func (m *Manager) TaskStats() refpool.Stats { return m.tasks.Stats() }

func (m *Manager) release(t *Task) {
	delete(m.live, t.SerialID())
	m.tasks.Release(t)
}

func (m *Manager) info(ti taskpool.TaskInfo) Info {
	info := Info{
		SerialID: ti.SerialID,
		Tag:      ti.Tag,
		Priority: ti.Priority,
		Status:   ti.Status,
		URI:      ti.Description,
		UserData: ti.UserData,
	}
	if t, ok := m.live[ti.SerialID]; ok {
		info.Path = t.DownloadPath()
		if t.Status() == TaskError {
			info.Status = taskpool.StatusError
		}
	}
	for _, a := range m.agents {
		if a.task != nil && a.task.SerialID() == ti.SerialID {
			info.CurrentLength = a.CurrentLength()
			info.WaitTime = a.WaitTime()
			break
		}
	}
	return info
}

func (m *Manager) infos(tis []taskpool.TaskInfo) []Info {
	out := make([]Info, 0, len(tis))
	for _, ti := range tis {
		out = append(out, m.info(ti))
	}
	return out
}

func progressOf(a *Agent) Progress {
	p := Progress{
		StartLength:      a.StartLength(),
		DownloadedLength: a.DownloadedLength(),
		SavedLength:      a.SavedLength(),
	}
	if a.task != nil {
		p.SerialID = a.task.SerialID()
		p.Params = a.task.Params()
		p.Corrupted = a.task.Corrupted()
	}
	return p
}

func (m *Manager) onStart(a *Agent) {
	p := progressOf(a)
	for _, s := range m.snapshotSubs() {
		if s.h.Start != nil {
			s.h.Start(p)
		}
	}
}

func (m *Manager) onUpdate(a *Agent, delta int64) {
	m.counter.RecordDeltaLength(delta)
	p := progressOf(a)
	for _, s := range m.snapshotSubs() {
		if s.h.Update != nil {
			s.h.Update(p, delta)
		}
	}
}

func (m *Manager) onSuccess(a *Agent, total int64) {
	p := progressOf(a)
	m.logger.Info("download succeeded", "serial_id", p.SerialID, "path", p.Path, "length", total)
	for _, s := range m.snapshotSubs() {
		if s.h.Success != nil {
			s.h.Success(p, total)
		}
	}
}

func (m *Manager) onFailure(a *Agent, message string) {
	p := progressOf(a)
	m.logger.Warn("download failed", "serial_id", p.SerialID, "uri", p.URI, "message", message)

	handled := false
	for _, s := range m.snapshotSubs() {
		if s.h.Failure != nil {
			s.h.Failure(p, message)
			handled = true
		}
	}
	if !handled {
		m.unhandled = append(m.unhandled,
			fmt.Errorf("%w: download %d: %s", ErrUnhandledFailure, p.SerialID, message))
	}
}

// snapshotSubs lets handlers subscribe or unsubscribe while being called.
func (m *Manager) snapshotSubs() []subscription {
	return append([]subscription(nil), m.subs...)
}
