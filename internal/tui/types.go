package tui

import (
	"context"

	"github.com/fentz26/fetchpool/internal/download"
)

// Snapshot is the state shown by one frame of the download view.
type Snapshot struct {
	Downloads []download.Info
	Paused    bool
	Free      int
	Working   int
	Waiting   int
	Speed     float64
}

// Source feeds the download view. Client talks to a daemon and
// LocalSource to an in-process manager.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Remove(ctx context.Context, serialID int) error
	SetPaused(ctx context.Context, paused bool) error
}
