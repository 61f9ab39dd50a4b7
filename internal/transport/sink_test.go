package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type collectSink struct {
	mu       sync.Mutex
	data     []byte
	deltas   int64
	total    int64
	message  string
	discard  bool
	finished bool
	done     chan struct{}
}

func newCollectSink() *collectSink {
	return &collectSink{done: make(chan struct{})}
}

func (s *collectSink) Bytes(data []byte) {
	s.mu.Lock()
	s.data = append(s.data, data...)
	s.mu.Unlock()
}

func (s *collectSink) LengthDelta(delta int64) {
	s.mu.Lock()
	s.deltas += delta
	s.mu.Unlock()
}

func (s *collectSink) Complete(total int64) {
	s.mu.Lock()
	s.total = total
	s.finish()
	s.mu.Unlock()
}

func (s *collectSink) Error(message string, deleteDownloading bool) {
	s.mu.Lock()
	s.message = message
	s.discard = deleteDownloading
	s.finish()
	s.mu.Unlock()
}

func (s *collectSink) finish() {
	if !s.finished {
		s.finished = true
		close(s.done)
	}
}

func (s *collectSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "transfer did not finish")
	}
}
