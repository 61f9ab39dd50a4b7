package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/fetchpool/internal/audit"
	"github.com/fentz26/fetchpool/internal/controlplane"
	"github.com/fentz26/fetchpool/internal/store"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the fetchpool daemon",
	Long:  `Starts the fetchpool daemon which runs the download pool and serves the HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (default: config listen)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (default: config db)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.DB = dbPath
	}
	logger.Info("starting fetchpool daemon", "agents", cfg.Agents, "db", cfg.DB)

	// Initialize store
	st, err := store.New(cfg.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := newStack(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	s.manager.Subscribe(audit.NewRecorder(st, logger).Handlers())

	// Create service and server
	service := controlplane.NewService(s.loop, s.manager, st, audit.NewActionLog(st), cfg.OutputDir, logger)
	server := controlplane.NewServer(service, st, s.metrics, cfg.Listen)

	s.start()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			s.close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("stopping download pool")
	if err := s.close(); err != nil {
		logger.Error("pool shutdown error", "error", err)
	}

	logger.Info("daemon stopped")
	return nil
}
