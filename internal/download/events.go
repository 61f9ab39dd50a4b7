package download

import "sync"

// EventKind identifies a transport notification.
type EventKind int

const (
	EventBytes EventKind = iota
	EventLengthDelta
	EventComplete
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventBytes:
		return "bytes"
	case EventLengthDelta:
		return "length_delta"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a transport notification queued for the agent.
type Event struct {
	Kind EventKind

	// Data holds received bytes for EventBytes.
	Data []byte
	// Delta is the progress increment for EventLengthDelta.
	Delta int64
	// Total is the length transferred by this run for EventComplete.
	Total int64

	Message           string
	DeleteDownloading bool
}

// Sink receives transport notifications. Implementations must be safe to
// call from any goroutine.
type Sink interface {
	Bytes(data []byte)
	LengthDelta(delta int64)
	Complete(total int64)
	Error(message string, deleteDownloading bool)
}

type stampedEvent struct {
	gen uint64
	ev  Event
}

// mailbox is the only agent state shared with transport goroutines.
type mailbox struct {
	mu     sync.Mutex
	events []stampedEvent
	closed bool
}

func (m *mailbox) post(gen uint64, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.events = append(m.events, stampedEvent{gen: gen, ev: ev})
}

func (m *mailbox) drain() []stampedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events
	m.events = nil
	return events
}

func (m *mailbox) clear() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.events = nil
	m.mu.Unlock()
}

// runSink tags every event with the run that produced it.
type runSink struct {
	box *mailbox
	gen uint64
}

func (s runSink) Bytes(data []byte) {
	if len(data) == 0 {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.box.post(s.gen, Event{Kind: EventBytes, Data: buf})
}

func (s runSink) LengthDelta(delta int64) {
	s.box.post(s.gen, Event{Kind: EventLengthDelta, Delta: delta})
}

func (s runSink) Complete(total int64) {
	s.box.post(s.gen, Event{Kind: EventComplete, Total: total})
}

func (s runSink) Error(message string, deleteDownloading bool) {
	s.box.post(s.gen, Event{Kind: EventError, Message: message, DeleteDownloading: deleteDownloading})
}
