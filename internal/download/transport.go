package download

// Request is passed to a Transport to start one run.
type Request struct {
	URI string
	// Offset is the number of bytes already on disk. Zero requests the
	// whole resource.
	Offset   int64
	UserData any
}

// Transport moves bytes for one agent. Download must return quickly and
// report progress through the sink, usually from another goroutine.
type Transport interface {
	Download(req Request, sink Sink) error

	// Reset cancels the current run, if any. The transport stays usable.
	Reset()

	// Close releases the transport permanently.
	Close() error
}
