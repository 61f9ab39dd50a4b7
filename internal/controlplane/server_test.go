package controlplane

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/fentz26/fetchpool/internal/audit"
	"github.com/fentz26/fetchpool/internal/download"
	"github.com/fentz26/fetchpool/internal/engine"
	"github.com/fentz26/fetchpool/internal/metrics"
	"github.com/fentz26/fetchpool/internal/models"
	"github.com/fentz26/fetchpool/internal/store"
	"github.com/fentz26/fetchpool/internal/taskpool"
	"github.com/fentz26/fetchpool/internal/transport"
)

type testEnv struct {
	server *Server
	store  *store.Store
	loop   *engine.Loop
	outDir string
}

func (e *testEnv) do(t *testing.T, method, target, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w.Result()
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

// newTestEnv starts a daemon stack. With agents > 0 the objects in files
// can be downloaded by key.
func newTestEnv(t *testing.T, agents int, files map[string]string) *testEnv {
	t.Helper()
	tmpDir := t.TempDir()

	st, err := store.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m, err := download.NewManager(download.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	for key, data := range files {
		if err := bucket.WriteAll(context.Background(), key, []byte(data), nil); err != nil {
			t.Fatalf("Failed to write %s: %v", key, err)
		}
	}
	for i := 0; i < agents; i++ {
		a, err := download.NewAgent(transport.NewBlob(bucket, 0))
		if err != nil {
			t.Fatalf("Failed to create agent: %v", err)
		}
		if err := m.AddAgent(a); err != nil {
			t.Fatalf("Failed to add agent: %v", err)
		}
	}

	mt := metrics.New()
	m.Subscribe(audit.NewRecorder(st, nil).Handlers())
	m.Subscribe(mt.Handlers())

	loop := engine.New(m, &engine.Config{Tick: 5 * time.Millisecond, TimeScale: 1}, nil)
	loop.OnTick(func() { mt.Observe(m) })
	loop.Start()
	t.Cleanup(loop.Stop)

	outDir := filepath.Join(tmpDir, "out")
	service := NewService(loop, m, st, audit.NewActionLog(st), outDir, nil)
	return &testEnv{
		server: NewServer(service, st, mt, "127.0.0.1:0"),
		store:  st,
		loop:   loop,
		outDir: outDir,
	}
}

func TestHealthEndpoint_OK(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	resp := env.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	decode(t, resp, &health)
	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" || health.Engine != "ok" {
		t.Errorf("Expected db and engine 'ok', got %q and %q", health.DB, health.Engine)
	}
	if health.Version == "" {
		t.Error("Expected version to be set")
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	resp := env.do(t, http.MethodPost, "/health", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	// Close the store to simulate DB error
	env.store.Close()

	resp := env.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}

	var health HealthResponse
	decode(t, resp, &health)
	if health.OK {
		t.Error("Expected health.OK to be false when DB is down")
	}
	if health.DB == "ok" {
		t.Error("Expected DB status to indicate error")
	}
}

func TestAddAndGetDownload(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	resp := env.do(t, http.MethodPost, "/downloads", `{"uri":"http://example.com/files/a.iso?x=1","tag":"iso","priority":3}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}
	var info download.Info
	decode(t, resp, &info)
	if info.SerialID == 0 {
		t.Error("Expected a serial id")
	}
	if want := filepath.Join(env.outDir, "a.iso"); info.Path != want {
		t.Errorf("Expected path %q, got %q", want, info.Path)
	}
	if info.Status != taskpool.StatusTodo || info.Priority != 3 {
		t.Errorf("Unexpected info: %+v", info)
	}

	resp = env.do(t, http.MethodGet, "/downloads/1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var got download.Info
	decode(t, resp, &got)
	if got.URI != "http://example.com/files/a.iso?x=1" || got.Tag != "iso" {
		t.Errorf("Unexpected info: %+v", got)
	}

	var list []download.Info
	decode(t, env.do(t, http.MethodGet, "/downloads?tag=iso", ""), &list)
	if len(list) != 1 {
		t.Errorf("Expected 1 download with tag, got %d", len(list))
	}
	decode(t, env.do(t, http.MethodGet, "/downloads?tag=other", ""), &list)
	if len(list) != 0 {
		t.Errorf("Expected no downloads for other tag, got %d", len(list))
	}
}

func TestAddDownload_Invalid(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	for _, body := range []string{
		`not json`,
		`{"path":"/tmp/x"}`,
		`{"uri":"http://example.com/"}`,
		`{"uri":"http://example.com/a","timeout":"soon"}`,
	} {
		resp := env.do(t, http.MethodPost, "/downloads", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestGetDownload_NotFound(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	for _, target := range []string{"/downloads/42", "/downloads/abc"} {
		resp := env.do(t, http.MethodGet, target, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", target, resp.StatusCode)
		}
	}
	resp := env.do(t, http.MethodDelete, "/downloads/42", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func TestRemoveDownloads(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	for _, body := range []string{
		`{"uri":"mem://a","path":"/tmp/a","tag":"x"}`,
		`{"uri":"mem://b","path":"/tmp/b","tag":"x"}`,
		`{"uri":"mem://c","path":"/tmp/c"}`,
	} {
		if resp := env.do(t, http.MethodPost, "/downloads", body); resp.StatusCode != http.StatusCreated {
			t.Fatalf("Expected status 201, got %d", resp.StatusCode)
		}
	}

	if resp := env.do(t, http.MethodDelete, "/downloads", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 without tag, got %d", resp.StatusCode)
	}

	var removed map[string]int
	decode(t, env.do(t, http.MethodDelete, "/downloads?tag=x", ""), &removed)
	if removed["removed"] != 2 {
		t.Errorf("Expected 2 removed, got %v", removed)
	}

	if resp := env.do(t, http.MethodDelete, "/downloads/3", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var list []download.Info
	decode(t, env.do(t, http.MethodGet, "/downloads", ""), &list)
	if len(list) != 0 {
		t.Errorf("Expected no downloads, got %d", len(list))
	}

	actions, err := env.store.ListActions(0)
	if err != nil {
		t.Fatalf("ListActions failed: %v", err)
	}
	if len(actions) != 5 {
		t.Errorf("Expected 5 action records, got %d", len(actions))
	}
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	if resp := env.do(t, http.MethodPost, "/pause", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var st Stats
	decode(t, env.do(t, http.MethodGet, "/stats", ""), &st)
	if !st.Paused {
		t.Error("Expected paused")
	}

	env.do(t, http.MethodPost, "/resume", "")
	decode(t, env.do(t, http.MethodGet, "/stats", ""), &st)
	if st.Paused {
		t.Error("Expected resumed")
	}
}

func TestDownloadEndToEnd(t *testing.T) {
	env := newTestEnv(t, 1, map[string]string{"data/a.txt": "hello world"})

	resp := env.do(t, http.MethodPost, "/downloads", `{"uri":"data/a.txt"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}
	resp = env.do(t, http.MethodPost, "/downloads", `{"uri":"data/missing.txt"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}

	var entries []models.HistoryEntry
	deadline := time.Now().Add(5 * time.Second)
	for {
		decode(t, env.do(t, http.MethodGet, "/history", ""), &entries)
		if len(entries) == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(env.outDir, "a.txt"))
	if err != nil {
		t.Fatalf("Failed to read download: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("Unexpected content %q", data)
	}

	var failed []models.HistoryEntry
	decode(t, env.do(t, http.MethodGet, "/history?outcome=failed", ""), &failed)
	if len(failed) != 1 || !strings.Contains(failed[0].Message, "not found") {
		t.Errorf("Expected one not found failure, got %+v", failed)
	}

	resp = env.do(t, http.MethodGet, "/metrics", "")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "fetchpool_downloads_succeeded_total 1") {
		t.Errorf("Expected success counter in metrics, got:\n%s", body)
	}
}

func TestHistory_InvalidQuery(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	for _, target := range []string{"/history?outcome=maybe", "/history?limit=-1"} {
		resp := env.do(t, http.MethodGet, target, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", target, resp.StatusCode)
		}
	}
}

func TestEngineStopped(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	env.loop.Stop()

	resp := env.do(t, http.MethodGet, "/downloads", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
}
