package download

import (
	"errors"
	"io/fs"
	"log/slog"
)

// Retrier re-adds failed downloads on the tick after they failed. The
// partial file is kept between attempts, so each retry resumes where the
// previous one stopped. A corrupted download is never retried.
type Retrier struct {
	// Attempts is the total number of attempts per destination path,
	// including the first one.
	Attempts int
	// DiscardOnGiveUp removes the partial file after the last attempt.
	DiscardOnGiveUp bool
	// GiveUp is called after the last failed attempt.
	GiveUp func(p Progress, message string)

	manager *Manager
	fs      FileSystem
	logger  *slog.Logger
	tries   map[string]int
}

// NewRetrier creates a retrier for m. Call Attach to start it.
func NewRetrier(m *Manager, attempts int) *Retrier {
	return &Retrier{
		Attempts: attempts,
		manager:  m,
		fs:       OSFileSystem{},
		logger:   m.logger.With("component", "retrier"),
		tries:    make(map[string]int),
	}
}

// Attach subscribes the retrier to its manager.
func (r *Retrier) Attach() (detach func()) {
	return r.manager.Subscribe(Handlers{
		Success: r.onSuccess,
		Failure: r.onFailure,
	})
}

// Tries returns the number of failed attempts recorded for path.
func (r *Retrier) Tries(path string) int { return r.tries[path] }

func (r *Retrier) onSuccess(p Progress, _ int64) {
	delete(r.tries, p.Path)
}

func (r *Retrier) onFailure(p Progress, message string) {
	n := r.tries[p.Path] + 1
	if p.Corrupted || n >= r.Attempts {
		r.giveUp(p, n, message)
		return
	}
	r.tries[p.Path] = n
	// Re-adding here would let the same admission pass start the task
	// again, so the retry waits for the next tick.
	r.manager.Defer(func() { r.retry(p, n, message) })
}

func (r *Retrier) retry(p Progress, n int, message string) {
	serial, err := r.manager.AddDownload(p.Params)
	if err != nil {
		r.logger.Error("retry failed", "path", p.Path, "error", err)
		r.giveUp(p, n, message)
		return
	}
	r.logger.Info("retrying download", "path", p.Path, "attempt", n+1, "serial_id", serial, "reason", message)
}

func (r *Retrier) giveUp(p Progress, n int, message string) {
	delete(r.tries, p.Path)
	if r.DiscardOnGiveUp {
		if err := r.fs.Remove(p.Path + TempSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("remove partial file", "path", p.Path, "error", err)
		}
	}
	r.logger.Warn("giving up download", "path", p.Path, "attempts", n, "corrupted", p.Corrupted, "reason", message)
	if r.GiveUp != nil {
		r.GiveUp(p, message)
	}
}
