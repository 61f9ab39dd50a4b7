package tui

import (
	"context"

	"github.com/fentz26/fetchpool/internal/download"
	"github.com/fentz26/fetchpool/internal/engine"
)

// LocalSource reads a manager owned by an engine loop in this process.
type LocalSource struct {
	loop    *engine.Loop
	manager *download.Manager
}

// NewLocalSource creates a source for m, which must be ticked by loop.
func NewLocalSource(loop *engine.Loop, m *download.Manager) *LocalSource {
	return &LocalSource{loop: loop, manager: m}
}

func (s *LocalSource) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.loop.Do(ctx, func() {
		snap = Snapshot{
			Downloads: s.manager.AllDownloadInfos(),
			Paused:    s.manager.Paused(),
			Free:      s.manager.FreeAgentCount(),
			Working:   s.manager.WorkingAgentCount(),
			Waiting:   s.manager.WaitingTaskCount() + s.manager.DeferredCount(),
			Speed:     s.manager.CurrentSpeed(),
		}
	})
	return snap, err
}

func (s *LocalSource) Remove(ctx context.Context, serialID int) error {
	return s.loop.Do(ctx, func() { s.manager.RemoveDownload(serialID) })
}

func (s *LocalSource) SetPaused(ctx context.Context, paused bool) error {
	return s.loop.Do(ctx, func() { s.manager.SetPaused(paused) })
}

var _ Source = (*LocalSource)(nil)
