// Package controlplane provides the HTTP API and service layer of the
// fetchpool daemon.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/fentz26/fetchpool/internal/audit"
	"github.com/fentz26/fetchpool/internal/download"
	"github.com/fentz26/fetchpool/internal/engine"
	"github.com/fentz26/fetchpool/internal/models"
	"github.com/fentz26/fetchpool/internal/store"
)

// Service provides the control plane business logic. The manager is only
// touched on the engine loop goroutine.
type Service struct {
	loop      *engine.Loop
	manager   *download.Manager
	store     *store.Store
	actions   *audit.ActionLog
	outputDir string
	logger    *slog.Logger
}

// NewService creates a new control plane service.
func NewService(loop *engine.Loop, m *download.Manager, s *store.Store, actions *audit.ActionLog, outputDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		loop:      loop,
		manager:   m,
		store:     s,
		actions:   actions,
		outputDir: outputDir,
		logger:    logger.With("component", "controlplane"),
	}
}

// AddRequest asks for a new download. Path defaults to the last URI
// segment inside the output directory.
type AddRequest struct {
	URI      string `json:"uri"`
	Path     string `json:"path,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Priority int    `json:"priority"`
	Timeout  string `json:"timeout,omitempty"`
}

// Stats summarizes the daemon state.
type Stats struct {
	Paused        bool                   `json:"paused"`
	TotalAgents   int                    `json:"total_agents"`
	FreeAgents    int                    `json:"free_agents"`
	WorkingAgents int                    `json:"working_agents"`
	WaitingTasks  int                    `json:"waiting_tasks"`
	Speed         float64                `json:"speed"`
	Engine        engine.Stats           `json:"engine"`
	History       map[models.Outcome]int `json:"history"`
}

// --- Download Operations ---

// AddDownload queues a download.
func (s *Service) AddDownload(ctx context.Context, req AddRequest) (download.Info, error) {
	p := download.Params{
		URI:      req.URI,
		Path:     req.Path,
		Tag:      req.Tag,
		Priority: req.Priority,
	}
	if req.URI == "" {
		return download.Info{}, fmt.Errorf("%w: uri is required", ErrInvalidRequest)
	}
	if p.Path == "" {
		dest, err := DestinationPath(s.outputDir, req.URI)
		if err != nil {
			return download.Info{}, err
		}
		p.Path = dest
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			return download.Info{}, fmt.Errorf("%w: timeout %q", ErrInvalidRequest, req.Timeout)
		}
		p.Timeout = d
	}

	var (
		info   download.Info
		addErr error
	)
	err := s.loop.Do(ctx, func() {
		var serial int
		serial, addErr = s.manager.AddDownload(p)
		if addErr == nil {
			info, _ = s.manager.DownloadInfo(serial)
		}
	})
	if err != nil {
		return download.Info{}, err
	}
	if addErr != nil {
		s.record(audit.Action{Name: "download.add", Request: req, Err: addErr})
		if errors.Is(addErr, download.ErrInvalidArgument) {
			return download.Info{}, fmt.Errorf("%w: %v", ErrInvalidRequest, addErr)
		}
		return download.Info{}, addErr
	}

	s.record(audit.Action{Name: "download.add", Request: req, SerialID: info.SerialID, Details: info.Path})
	return info, nil
}

// GetDownload returns a single download.
func (s *Service) GetDownload(ctx context.Context, serialID int) (download.Info, error) {
	var (
		info download.Info
		ok   bool
	)
	if err := s.loop.Do(ctx, func() { info, ok = s.manager.DownloadInfo(serialID) }); err != nil {
		return download.Info{}, err
	}
	if !ok {
		return download.Info{}, ErrNotFound
	}
	return info, nil
}

// ListDownloads returns the downloads with tag, or all of them when tag is
// empty.
func (s *Service) ListDownloads(ctx context.Context, tag string) ([]download.Info, error) {
	var infos []download.Info
	err := s.loop.Do(ctx, func() {
		if tag == "" {
			infos = s.manager.AllDownloadInfos()
		} else {
			infos = s.manager.DownloadInfos(tag)
		}
	})
	return infos, err
}

// RemoveDownload cancels a download. The partial file is kept.
func (s *Service) RemoveDownload(ctx context.Context, serialID int) error {
	var removed bool
	if err := s.loop.Do(ctx, func() { removed = s.manager.RemoveDownload(serialID) }); err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	s.record(audit.Action{Name: "download.remove", Request: map[string]int{"serial_id": serialID}, SerialID: serialID})
	return nil
}

// RemoveDownloads cancels every download with tag, or every download when
// all is set. It returns the number removed.
func (s *Service) RemoveDownloads(ctx context.Context, tag string, all bool) (int, error) {
	if tag == "" && !all {
		return 0, fmt.Errorf("%w: tag is required", ErrInvalidRequest)
	}
	var n int
	err := s.loop.Do(ctx, func() {
		if all {
			n = s.manager.RemoveAllDownloads()
		} else {
			n = s.manager.RemoveDownloads(tag)
		}
	})
	if err != nil {
		return 0, err
	}
	s.record(audit.Action{
		Name:    "download.remove_many",
		Request: map[string]any{"tag": tag, "all": all},
		Details: fmt.Sprintf("removed %d", n),
	})
	return n, nil
}

// SetPaused stops or restarts admission of waiting downloads.
func (s *Service) SetPaused(ctx context.Context, paused bool) error {
	if err := s.loop.Do(ctx, func() { s.manager.SetPaused(paused) }); err != nil {
		return err
	}
	action := "pool.resume"
	if paused {
		action = "pool.pause"
	}
	s.record(audit.Action{Name: action, Request: map[string]bool{"paused": paused}})
	return nil
}

// Stats returns pool, engine and history counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.loop.Do(ctx, func() {
		st.Paused = s.manager.Paused()
		st.TotalAgents = s.manager.TotalAgentCount()
		st.FreeAgents = s.manager.FreeAgentCount()
		st.WorkingAgents = s.manager.WorkingAgentCount()
		st.WaitingTasks = s.manager.WaitingTaskCount()
		st.Speed = s.manager.CurrentSpeed()
	})
	if err != nil {
		return Stats{}, err
	}
	st.Engine = s.loop.Stats()

	counts, err := s.store.CountHistory()
	if err != nil {
		return Stats{}, err
	}
	st.History = counts
	return st, nil
}

// --- History Operations ---

// History returns finished downloads, newest first.
func (s *Service) History(outcome models.Outcome, limit int) ([]models.HistoryEntry, error) {
	switch outcome {
	case "", models.OutcomeSucceeded, models.OutcomeFailed:
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidRequest, outcome)
	}
	return s.store.ListHistory(outcome, limit)
}

// DestinationPath maps uri to a file named after its last path segment
// inside dir.
func DestinationPath(dir, uri string) (string, error) {
	name := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		name = u.Path
	}
	name = path.Base(name)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("%w: cannot derive a file name from %q", ErrInvalidRequest, uri)
	}
	return filepath.Join(dir, name), nil
}

func (s *Service) record(a audit.Action) {
	if s.actions == nil {
		return
	}
	if _, err := s.actions.Log(a); err != nil {
		s.logger.Warn("write action record", "action", a.Name, "error", err)
	}
}
