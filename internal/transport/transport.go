// Package transport provides download.Transport implementations.
package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/fentz26/fetchpool/internal/download"
)

// DefaultBufferSize is the read size used when none is configured.
const DefaultBufferSize = 32 << 10

// ErrClosed is returned by Download after Close.
var ErrClosed = errors.New("transport: closed")

// run tracks the cancel function of the active transfer.
type run struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// begin cancels any previous transfer and returns a context for a new one.
func (r *run) begin() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	return ctx, nil
}

func (r *run) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *run) close() {
	r.reset()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// stream copies src into sink until EOF. Nothing is reported once ctx is
// cancelled.
func stream(ctx context.Context, src io.Reader, bufSize int, sink download.Sink) {
	buf := make([]byte, bufSize)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return
			}
			sink.Bytes(buf[:n])
			sink.LengthDelta(int64(n))
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			if ctx.Err() == nil {
				sink.Complete(total)
			}
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				sink.Error(err.Error(), false)
			}
			return
		}
	}
}
