// Package audit writes download outcomes and control plane actions to the
// store.
package audit

import (
	"log/slog"

	"github.com/fentz26/fetchpool/internal/download"
	"github.com/fentz26/fetchpool/internal/models"
	"github.com/fentz26/fetchpool/internal/store"
)

// Recorder appends every finished download to the history table.
type Recorder struct {
	store  *store.Store
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to s.
func NewRecorder(s *store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, logger: logger.With("component", "audit")}
}

// Handlers returns manager handlers that record outcomes.
func (r *Recorder) Handlers() download.Handlers {
	return download.Handlers{
		Success: func(p download.Progress, total int64) {
			r.record(p, models.OutcomeSucceeded, total, "")
		},
		Failure: func(p download.Progress, message string) {
			r.record(p, models.OutcomeFailed, p.CurrentLength(), message)
		},
	}
}

func (r *Recorder) record(p download.Progress, outcome models.Outcome, length int64, message string) {
	entry := &models.HistoryEntry{
		SerialID: p.SerialID,
		Tag:      p.Tag,
		URI:      p.URI,
		Path:     p.Path,
		Outcome:  outcome,
		Length:   length,
		Message:  message,
	}
	if err := r.store.RecordHistory(entry); err != nil {
		r.logger.Error("record history", "serial_id", p.SerialID, "error", err)
	}
}
