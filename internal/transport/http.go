package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fentz26/fetchpool/internal/download"
)

// Errors reported through the sink for unusable responses.
var (
	ErrRangeNotSatisfiable = errors.New("http: range not satisfiable")
	ErrRangeIgnored        = errors.New("http: server ignored range request")
	ErrNotFound            = errors.New("http: resource not found")
	ErrForbidden           = errors.New("http: access forbidden")
	ErrUnauthorized        = errors.New("http: unauthorized")
)

// HTTPOptions configures an HTTP transport.
type HTTPOptions struct {
	// Client is shared between transports. Default: a client with
	// compression disabled and no overall timeout.
	Client *http.Client

	// UserAgent is sent with every request when set.
	UserAgent string

	// BufferSize is the read size. Default: 32 KiB
	BufferSize int
}

// NewClient returns an http.Client suited for long downloads. Timeout
// bounds connection setup and response headers, not the body.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: timeout,
			DisableCompression:    true,
		},
	}
}

// HTTP downloads with GET, resuming with a Range header.
type HTTP struct {
	client    *http.Client
	userAgent string
	bufSize   int
	run       run
}

var _ download.Transport = (*HTTP)(nil)

// NewHTTP creates an HTTP transport.
func NewHTTP(opts HTTPOptions) *HTTP {
	if opts.Client == nil {
		opts.Client = NewClient(30 * time.Second)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	return &HTTP{
		client:    opts.Client,
		userAgent: opts.UserAgent,
		bufSize:   opts.BufferSize,
	}
}

// Download starts a GET for req.URI in the background.
func (h *HTTP) Download(req download.Request, sink download.Sink) error {
	ctx, err := h.run.begin()
	if err != nil {
		return err
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URI, nil)
	if err != nil {
		h.run.reset()
		return fmt.Errorf("create request: %w", err)
	}
	if req.Offset > 0 {
		r.Header.Set("Range", fmt.Sprintf("bytes=%d-", req.Offset))
	}
	if h.userAgent != "" {
		r.Header.Set("User-Agent", h.userAgent)
	}

	go h.fetch(ctx, r, req.Offset, sink)
	return nil
}

// Reset cancels the active request.
func (h *HTTP) Reset() { h.run.reset() }

// Close cancels the active request and rejects further downloads.
func (h *HTTP) Close() error {
	h.run.close()
	return nil
}

func (h *HTTP) fetch(ctx context.Context, r *http.Request, offset int64, sink download.Sink) {
	resp, err := h.client.Do(r)
	if err != nil {
		if ctx.Err() == nil {
			sink.Error(err.Error(), false)
		}
		return
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, offset); err != nil {
		if ctx.Err() == nil {
			// A partial file the server cannot continue is useless.
			discard := errors.Is(err, ErrRangeNotSatisfiable) || errors.Is(err, ErrRangeIgnored)
			sink.Error(err.Error(), discard)
		}
		return
	}

	stream(ctx, resp.Body, h.bufSize, sink)
}

func checkResponse(resp *http.Response, offset int64) error {
	switch code := resp.StatusCode; {
	case code == http.StatusPartialContent:
		return nil
	case code == http.StatusOK:
		if offset > 0 {
			return ErrRangeIgnored
		}
		return nil
	case code == http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeNotSatisfiable
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("http: unexpected status %s", resp.Status)
	}
}
