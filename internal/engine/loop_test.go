package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type countingUpdater struct {
	mu    sync.Mutex
	calls int
	dts   []time.Duration
	real  []time.Duration
	err   error
}

func (u *countingUpdater) Update(dt, realDt time.Duration) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.dts = append(u.dts, dt)
	u.real = append(u.real, realDt)
	return u.err
}

func (u *countingUpdater) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met before deadline")
		case <-ticker.C:
		}
	}
}

func TestLoopTicks(t *testing.T) {
	u := &countingUpdater{}
	l := New(u, &Config{Tick: 5 * time.Millisecond, TimeScale: 1}, nil)

	hooks := 0
	l.OnTick(func() { hooks++ })

	l.Start()
	waitFor(t, func() bool { return u.count() >= 3 })

	// hooks is only touched on the loop goroutine.
	var seen int
	if err := l.Do(context.Background(), func() { seen = hooks }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	l.Stop()

	if seen < 3 {
		t.Errorf("expected at least 3 hook calls, got %d", seen)
	}
	if got := l.Stats().Ticks; got < 3 {
		t.Errorf("expected at least 3 ticks, got %d", got)
	}
}

func TestLoopScalesTime(t *testing.T) {
	u := &countingUpdater{}
	l := New(u, &Config{Tick: 5 * time.Millisecond, TimeScale: 2}, nil)
	l.Start()
	waitFor(t, func() bool { return u.count() >= 2 })
	l.Stop()

	u.mu.Lock()
	defer u.mu.Unlock()
	for i := range u.dts {
		if u.dts[i] != 2*u.real[i] {
			t.Errorf("tick %d: dt %v, realDt %v", i, u.dts[i], u.real[i])
		}
	}
}

func TestLoopDoRunsBetweenTicks(t *testing.T) {
	u := &countingUpdater{}
	l := New(u, &Config{Tick: time.Hour}, nil)
	l.Start()
	defer l.Stop()

	ran := false
	if err := l.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Error("expected job to run")
	}
	if u.count() != 0 {
		t.Errorf("expected no ticks, got %d", u.count())
	}
}

func TestLoopPost(t *testing.T) {
	l := New(&countingUpdater{}, &Config{Tick: time.Hour}, nil)
	l.Start()
	defer l.Stop()

	done := make(chan struct{})
	if !l.Post(func() { close(done) }) {
		t.Fatal("Post rejected job")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("posted job did not run")
	}
}

func TestLoopRecordsErrors(t *testing.T) {
	u := &countingUpdater{err: errors.New("broken agent")}
	l := New(u, &Config{Tick: 5 * time.Millisecond}, nil)
	l.Start()
	waitFor(t, func() bool { return l.Stats().Errors >= 1 })
	l.Stop()

	if got := l.Stats().LastError; got != "broken agent" {
		t.Errorf("expected last error %q, got %q", "broken agent", got)
	}
}

func TestLoopDoAfterStop(t *testing.T) {
	l := New(&countingUpdater{}, &Config{Tick: time.Hour}, nil)
	l.Start()
	l.Stop()

	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if l.Post(func() {}) {
		t.Error("expected Post to fail after stop")
	}
}

func TestLoopRunHonorsContext(t *testing.T) {
	l := New(&countingUpdater{}, &Config{Tick: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
