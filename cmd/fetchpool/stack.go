package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/fentz26/fetchpool/internal/config"
	"github.com/fentz26/fetchpool/internal/download"
	"github.com/fentz26/fetchpool/internal/engine"
	"github.com/fentz26/fetchpool/internal/metrics"
	"github.com/fentz26/fetchpool/internal/transport"
)

// stack is a running download manager with its agents and loop.
type stack struct {
	manager *download.Manager
	loop    *engine.Loop
	metrics *metrics.Metrics
	retrier *download.Retrier
	bucket  *blob.Bucket
}

// newStack builds the manager and its agents. Subscribe handlers before
// calling start.
func newStack(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stack, error) {
	m, err := download.NewManager(cfg.ManagerConfig(), logger)
	if err != nil {
		return nil, err
	}
	s := &stack{manager: m, metrics: metrics.New()}

	if cfg.Bucket != "" {
		s.bucket, err = blob.OpenBucket(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("open bucket: %w", err)
		}
	}

	client := transport.NewClient(cfg.HTTP.Timeout)
	for i := 0; i < cfg.Agents; i++ {
		var t download.Transport
		if s.bucket != nil {
			t = transport.NewBlob(s.bucket, int(cfg.HTTP.BufferSize))
		} else {
			t = transport.NewHTTP(transport.HTTPOptions{
				Client:     client,
				UserAgent:  cfg.HTTP.UserAgent,
				BufferSize: int(cfg.HTTP.BufferSize),
			})
		}
		a, err := download.NewAgent(t, download.WithAgentLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := m.AddAgent(a); err != nil {
			return nil, err
		}
	}

	m.Subscribe(s.metrics.Handlers())
	s.retrier = download.NewRetrier(m, cfg.Retry.Attempts)
	s.retrier.DiscardOnGiveUp = cfg.Retry.DiscardOnGiveUp
	s.retrier.Attach()

	s.loop = engine.New(m, cfg.EngineConfig(), logger)
	s.loop.OnTick(func() { s.metrics.Observe(m) })
	return s, nil
}

func (s *stack) start() { s.loop.Start() }

// close stops the loop and releases every agent.
func (s *stack) close() error {
	s.loop.Stop()
	s.manager.Shutdown()

	var result error
	if s.bucket != nil {
		if err := s.bucket.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
