package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/fetchpool/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the daemon's downloads in an interactive view",
	RunE:  runWatch,
}

var watchStart bool

func init() {
	watchCmd.Flags().BoolVar(&watchStart, "start", false, "Start a background daemon when none is running")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if _, err := CheckHealth(); err != nil {
		if !watchStart {
			return fmt.Errorf("daemon not reachable at %s: %w", apiAddr, err)
		}
		fmt.Println("fetchpool daemon not running. Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	app := tui.New(tui.NewClient(apiAddr), tui.Options{Title: "fetchpool " + apiAddr})
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	daemonArgs := []string{"daemon"}
	if configPath != "" {
		daemonArgs = append(daemonArgs, "--config", configPath)
	}
	cmd := exec.Command(exe, daemonArgs...)
	// Detach process so it survives the view exiting
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	// Wait for it to become ready
	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ {
		if _, err := CheckHealth(); err == nil {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", apiAddr)
}
