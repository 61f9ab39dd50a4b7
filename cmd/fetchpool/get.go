package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fentz26/fetchpool/internal/controlplane"
	"github.com/fentz26/fetchpool/internal/download"
	"github.com/fentz26/fetchpool/internal/tui"
)

var getCmd = &cobra.Command{
	Use:   "get [uri...]",
	Short: "Download files without a daemon",
	Long: `Downloads every URI into the output directory and exits. With --bucket the
URIs are object keys inside the bucket instead of HTTP URLs.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGet,
}

var (
	getOutput   string
	getTag      string
	getPriority int
	getRetries  int
	getBucket   string
	getTUI      bool
)

func init() {
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "Output directory (default: config output_dir)")
	getCmd.Flags().StringVar(&getTag, "tag", "", "Tag for all downloads")
	getCmd.Flags().IntVar(&getPriority, "priority", 0, "Priority for all downloads")
	getCmd.Flags().IntVar(&getRetries, "retries", 0, "Total attempts per file (default: config retry.attempts)")
	getCmd.Flags().StringVar(&getBucket, "bucket", "", "Bucket URL, e.g. s3://name or file:///dir")
	getCmd.Flags().BoolVar(&getTUI, "tui", false, "Show the interactive download view")
}

type getFailure struct {
	path    string
	message string
}

func runGet(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("retries") {
		cfg.Retry.Attempts = getRetries
	}
	if getBucket != "" {
		cfg.Bucket = getBucket
	}
	if getOutput != "" {
		cfg.OutputDir = getOutput
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newStack(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Handlers run on the loop goroutine; the results are read after close.
	var (
		succeeded int
		failures  []getFailure
		pending   = len(args)
		done      = make(chan struct{})
	)
	finish := func() {
		pending--
		if pending == 0 {
			close(done)
		}
	}
	s.manager.Subscribe(download.Handlers{
		Success: func(p download.Progress, total int64) {
			succeeded++
			if !getTUI {
				fmt.Printf("✓ %s (%s)\n", p.Path, humanize.IBytes(uint64(total)))
			}
			finish()
		},
	})
	s.retrier.GiveUp = func(p download.Progress, message string) {
		failures = append(failures, getFailure{path: p.Path, message: message})
		if !getTUI {
			fmt.Printf("✗ %s: %s\n", p.Path, message)
		}
		finish()
	}

	for _, uri := range args {
		dest, err := controlplane.DestinationPath(cfg.OutputDir, uri)
		if err != nil {
			s.close()
			return err
		}
		if _, err := s.manager.AddDownload(download.Params{
			Path:     dest,
			URI:      uri,
			Tag:      getTag,
			Priority: getPriority,
		}); err != nil {
			s.close()
			return err
		}
	}

	s.start()
	if getTUI {
		app := tui.New(tui.NewLocalSource(s.loop, s.manager), tui.Options{Title: "fetchpool get", ExitWhenIdle: true})
		if err := app.Run(); err != nil {
			s.close()
			return fmt.Errorf("TUI error: %w", err)
		}
	} else {
		select {
		case <-done:
		case <-ctx.Done():
			fmt.Println("Interrupted; partial files are kept for the next run.")
		}
	}

	if err := s.close(); err != nil {
		logger.Warn("shutdown", "error", err)
	}

	if getTUI {
		for _, f := range failures {
			fmt.Printf("✗ %s: %s\n", f.path, f.message)
		}
	}
	fmt.Printf("%d succeeded, %d failed, %d unfinished\n", succeeded, len(failures), len(args)-succeeded-len(failures))
	if len(failures) > 0 || succeeded < len(args) {
		return fmt.Errorf("%d of %d downloads did not complete", len(args)-succeeded, len(args))
	}
	return nil
}
