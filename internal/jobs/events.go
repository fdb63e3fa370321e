package jobs

import (
	"sync"
	"time"

	"media-converter/internal/domain"
)

// EventType classifies messages emitted while a batch runs.
type EventType string

const (
	EventTypeBatchStarted EventType = "batch_started"
	EventTypeJobStarted   EventType = "job_started"
	EventTypeProgress     EventType = "progress"
	EventTypeJobDone      EventType = "job_done"
	EventTypeDiagnostic   EventType = "diagnostic"
	EventTypeError        EventType = "error"
	EventTypeBatchDone    EventType = "batch_done"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq           int64                `json:"seq"`
	Timestamp     time.Time            `json:"timestamp"`
	BatchID       string               `json:"batchId"`
	Type          EventType            `json:"type"`
	JobIndex      int                  `json:"jobIndex"`
	JobCount      int                  `json:"jobCount"`
	Source        string               `json:"source,omitempty"`
	Destination   string               `json:"destination,omitempty"`
	Status        domain.JobStatus     `json:"status,omitempty"`
	Percent       float64              `json:"percent"`
	Elapsed       float64              `json:"elapsed,omitempty"`
	Indeterminate bool                 `json:"indeterminate,omitempty"`
	Message       string               `json:"message,omitempty"`
	Command       string               `json:"command,omitempty"`
	Args          []string             `json:"args,omitempty"`
	ExitCode      int                  `json:"exitCode,omitempty"`
	Lines         []string             `json:"lines,omitempty"`
	Stderr        string               `json:"stderr,omitempty"`
	Summary       *domain.BatchSummary `json:"summary,omitempty"`
}

// Terminal reports whether the event closes a batch stream.
func (e Event) Terminal() bool {
	return e.Type == EventTypeBatchDone
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 1000
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the sequence of the newest published event.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
