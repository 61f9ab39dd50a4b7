package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fentz26/fetchpool/internal/download"
	"github.com/fentz26/fetchpool/internal/models"
)

var addCmd = &cobra.Command{
	Use:   "add [uri]",
	Short: "Queue a download on the daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List waiting and active downloads",
	RunE:  runList,
}

var rmCmd = &cobra.Command{
	Use:   "rm [serial-id]",
	Short: "Cancel downloads; partial files are kept",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRm,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop starting new downloads",
	RunE:  func(cmd *cobra.Command, args []string) error { return setPaused(true) },
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Start waiting downloads again",
	RunE:  func(cmd *cobra.Command, args []string) error { return setPaused(false) },
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show finished downloads",
	RunE:  runHistory,
}

var (
	addPath     string
	addTag      string
	addPriority int
	addTimeout  string

	listTag string

	rmTag string
	rmAll bool

	historyOutcome string
	historyLimit   int
)

func init() {
	addCmd.Flags().StringVar(&addPath, "path", "", "Destination path (default: daemon output dir + file name)")
	addCmd.Flags().StringVar(&addTag, "tag", "", "Tag for grouping downloads")
	addCmd.Flags().IntVar(&addPriority, "priority", 0, "Higher priorities start first")
	addCmd.Flags().StringVar(&addTimeout, "timeout", "", "Abort after this long without data, e.g. 30s")

	listCmd.Flags().StringVar(&listTag, "tag", "", "Only show downloads with this tag")

	rmCmd.Flags().StringVar(&rmTag, "tag", "", "Remove every download with this tag")
	rmCmd.Flags().BoolVar(&rmAll, "all", false, "Remove every download")

	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "Filter by outcome (succeeded, failed)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of entries")
}

func runAdd(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"uri":      args[0],
		"path":     addPath,
		"tag":      addTag,
		"priority": addPriority,
		"timeout":  addTimeout,
	}

	resp, err := apiPost("/downloads", body)
	if err != nil {
		return err
	}

	var info download.Info
	if err := json.Unmarshal(resp, &info); err != nil {
		return err
	}

	fmt.Printf("Queued #%d %s -> %s\n", info.SerialID, info.URI, info.Path)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	path := "/downloads"
	if listTag != "" {
		path += "?tag=" + url.QueryEscape(listTag)
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}

	var infos []download.Info
	if err := json.Unmarshal(resp, &infos); err != nil {
		return err
	}

	if len(infos) == 0 {
		fmt.Println("No downloads found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tSIZE\tIDLE\tTAG\tURI")
	for _, info := range infos {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			info.SerialID,
			info.Status,
			info.Priority,
			humanize.IBytes(uint64(info.CurrentLength)),
			info.WaitTime.Round(100*time.Millisecond),
			info.Tag,
			truncate(info.URI, 60),
		)
	}
	w.Flush()
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	var path string
	switch {
	case len(args) == 1:
		if _, err := strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid serial id %q", args[0])
		}
		path = "/downloads/" + args[0]
	case rmAll:
		path = "/downloads?all=true"
	case rmTag != "":
		path = "/downloads?tag=" + url.QueryEscape(rmTag)
	default:
		return fmt.Errorf("give a serial id, --tag or --all")
	}

	resp, err := apiDelete(path)
	if err != nil {
		return err
	}

	var result map[string]int
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	fmt.Printf("Removed %d download(s)\n", result["removed"])
	return nil
}

func setPaused(paused bool) error {
	path := "/resume"
	if paused {
		path = "/pause"
	}
	if _, err := apiPost(path, struct{}{}); err != nil {
		return err
	}
	if paused {
		fmt.Println("Paused; active downloads keep running")
	} else {
		fmt.Println("Resumed")
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if historyOutcome != "" {
		q.Set("outcome", historyOutcome)
	}
	q.Set("limit", strconv.Itoa(historyLimit))

	resp, err := apiGet("/history?" + q.Encode())
	if err != nil {
		return err
	}

	var entries []models.HistoryEntry
	if err := json.Unmarshal(resp, &entries); err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No history found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tOUTCOME\tSIZE\tPATH\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(e.FinishedAt),
			e.Outcome,
			humanize.IBytes(uint64(e.Length)),
			truncate(e.Path, 50),
			truncate(e.Message, 40),
		)
	}
	w.Flush()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
