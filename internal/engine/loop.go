package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("engine: loop stopped")

// Updater is ticked by the loop.
type Updater interface {
	Update(dt, realDt time.Duration) error
}

// Stats is a snapshot of loop counters.
type Stats struct {
	Ticks     uint64 `json:"ticks"`
	Errors    uint64 `json:"errors"`
	LastError string `json:"last_error,omitempty"`
}

// Loop owns the goroutine that ticks an Updater. Everything else that
// touches the updater must go through Do or Post.
type Loop struct {
	target Updater
	config *Config
	logger *slog.Logger

	jobs    chan func()
	stopped chan struct{}
	hooks   []func()

	mu    sync.Mutex
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a loop for target.
func New(target Updater, cfg *Config, logger *slog.Logger) *Loop {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		target:  target,
		config:  cfg,
		logger:  logger.With("component", "engine"),
		jobs:    make(chan func(), 64),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnTick registers fn to run on the loop goroutine after every update.
// It must be called before Start or Run.
func (l *Loop) OnTick(fn func()) {
	l.hooks = append(l.hooks, fn)
}

// Start runs the loop in the background until Stop.
func (l *Loop) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.Run(l.ctx)
	}()
	l.logger.Info("engine started", "tick", l.config.Tick, "time_scale", l.config.TimeScale)
}

// Stop ends the loop and waits for it to exit.
func (l *Loop) Stop() {
	l.cancel()
	l.wg.Wait()
	l.logger.Info("engine stopped")
}

// Run ticks the updater until ctx is done or Stop is called. A loop can
// only run once.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.stopped) })

	tick := l.config.Tick
	if tick <= 0 {
		tick = DefaultConfig().Tick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.ctx.Done():
			return nil
		case fn := <-l.jobs:
			fn()
		case now := <-ticker.C:
			realDt := now.Sub(last)
			last = now
			l.tick(l.config.scale(realDt), realDt)
		}
	}
}

func (l *Loop) tick(dt, realDt time.Duration) {
	err := l.target.Update(dt, realDt)

	l.mu.Lock()
	l.stats.Ticks++
	if err != nil {
		l.stats.Errors++
		l.stats.LastError = err.Error()
	}
	l.mu.Unlock()

	if err != nil {
		l.logger.Error("update failed", "error", err)
	}
	for _, hook := range l.hooks {
		hook()
	}
}

// Do runs fn on the loop goroutine and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	job := func() {
		defer close(done)
		fn()
	}

	select {
	case <-l.stopped:
		return ErrStopped
	default:
	}

	select {
	case l.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrStopped
	}
}

// Post queues fn without waiting. It reports false when the queue is full
// or the loop has exited.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.jobs <- fn:
		return true
	default:
		return false
	}
}

// Stats returns loop counters. It is safe to call from any goroutine.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
