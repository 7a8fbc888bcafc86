package core

import (
	"context"
	"time"
)

// Activity kinds mirror the pipeline stages plus the terminal states.
const (
	KindPlanning    = "planning"
	KindSearch      = "search"
	KindExtract     = "extract"
	KindAnalyze     = "analyze"
	KindAggregation = "aggregation"
	KindComplete    = "complete"
)

// Activity statuses.
const (
	StatusPending  = "pending"
	StatusComplete = "complete"
	StatusWarning  = "warning"
	StatusError    = "error"
)

// Event types carried on a Stream.
const (
	EventActivity       = "activity"
	EventPartialResults = "partial-results"
	EventResults        = "results"
)

// ActivityEvent is one progress update within a session.
type ActivityEvent struct {
	SessionID      string    `json:"session_id"`
	Kind           string    `json:"kind"`
	Status         string    `json:"status"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	CompletedSteps int64     `json:"completed_steps"`
	TokensUsed     int64     `json:"tokens_used"`
}

// PartialResults is an incremental snapshot emitted after each iteration
// that added candidates.
type PartialResults struct {
	SessionID       string      `json:"session_id"`
	OriginalQuery   string      `json:"original_query"`
	Iteration       int         `json:"iteration"`
	Candidates      []Candidate `json:"candidates"`
	TotalCandidates int         `json:"total_candidates"`
	NewlyAdded      int         `json:"newly_added"`
}

// Event is one frame on the session stream.
type Event struct {
	Type     string           `json:"type"`
	Activity *ActivityEvent   `json:"activity,omitempty"`
	Partial  *PartialResults  `json:"partial,omitempty"`
	Results  *DiscoveryResult `json:"results,omitempty"`
}

// Stream is the ordered event channel for one discovery session. Events
// are delivered in emission order; concurrent emitters are serialized so
// the step and token stamps on consecutive activity events are monotone.
// The channel is closed exactly once, after the terminal results event.
type Stream struct {
	ch     chan Event
	done   chan struct{}
	closed bool
}

// NewStream creates a stream with the given buffer size.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{ch: make(chan Event, buffer), done: make(chan struct{})}
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event { return s.ch }

// Activity stamps the session counters onto an activity event and emits it.
func (s *Stream) Activity(ctx context.Context, session *Session, kind, status, message string) {
	s.emit(ctx, Event{Type: EventActivity, Activity: &ActivityEvent{
		SessionID:      session.ID,
		Kind:           kind,
		Status:         status,
		Message:        message,
		Timestamp:      time.Now(),
		CompletedSteps: session.CompletedSteps(),
		TokensUsed:     session.TokensUsed(),
	}})
}

// Partial emits an incremental results snapshot.
func (s *Stream) Partial(ctx context.Context, p PartialResults) {
	s.emit(ctx, Event{Type: EventPartialResults, Partial: &p})
}

// Results emits the terminal event and closes the stream. It must be
// called exactly once, from the orchestrator goroutine.
func (s *Stream) Results(ctx context.Context, r DiscoveryResult) {
	s.emit(ctx, Event{Type: EventResults, Results: &r})
	s.Close()
}

// Close closes the stream. Safe to call only from the owning goroutine.
func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// emit delivers an event unless the consumer is gone. A cancelled context
// or a closed stream drops the event rather than blocking the pipeline.
func (s *Stream) emit(ctx context.Context, ev Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.ch <- ev:
	case <-s.done:
	case <-ctx.Done():
	}
}
