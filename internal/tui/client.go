package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the fetchpool API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// Snapshot fetches the download list and pool counters.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := c.do(ctx, http.MethodGet, "/downloads", &snap.Downloads); err != nil {
		return Snapshot{}, err
	}

	var stats struct {
		Paused        bool    `json:"paused"`
		FreeAgents    int     `json:"free_agents"`
		WorkingAgents int     `json:"working_agents"`
		WaitingTasks  int     `json:"waiting_tasks"`
		Speed         float64 `json:"speed"`
	}
	if err := c.do(ctx, http.MethodGet, "/stats", &stats); err != nil {
		return Snapshot{}, err
	}
	snap.Paused = stats.Paused
	snap.Free = stats.FreeAgents
	snap.Working = stats.WorkingAgents
	snap.Waiting = stats.WaitingTasks
	snap.Speed = stats.Speed
	return snap, nil
}

// Remove cancels a download on the daemon.
func (c *Client) Remove(ctx context.Context, serialID int) error {
	return c.do(ctx, http.MethodDelete, "/downloads/"+strconv.Itoa(serialID), nil)
}

// SetPaused pauses or resumes the daemon pool.
func (c *Client) SetPaused(ctx context.Context, paused bool) error {
	path := "/resume"
	if paused {
		path = "/pause"
	}
	return c.do(ctx, http.MethodPost, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Source = (*Client)(nil)
