package journal

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultMaxEvents = 200

type Event struct {
	ID      string         `json:"id"`
	TurnID  string         `json:"turn_id,omitempty"`
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Sink persists events outside the process.
type Sink interface {
	Write(ctx context.Context, evt Event) error
}

// Store is a capped in-memory log of controller events, optionally mirrored
// to a Sink by a background writer.
type Store struct {
	mu     sync.RWMutex
	events []Event
	max    int
	// truncated replaces the dropped oldest events once the cap is hit.
	truncated *Event
	dropped   int

	sink       Sink
	sinkQ      chan Event
	sinkClosed bool
	closed     chan struct{}
	once       sync.Once
}

func New(maxEvents int, sink Sink) *Store {
	if maxEvents <= 1 {
		maxEvents = DefaultMaxEvents
	}
	s := &Store{max: maxEvents, sink: sink, closed: make(chan struct{})}
	if sink != nil {
		s.sinkQ = make(chan Event, 256)
		go s.drain()
	}
	return s
}

func (s *Store) Append(turnID, typ string, payload map[string]any) Event {
	evt := Event{ID: uuid.NewString(), TurnID: turnID, Type: typ, Ts: time.Now().UTC(), Payload: payload}
	s.mu.Lock()
	s.events = append(s.events, evt)
	limit := s.max
	if s.truncated != nil {
		limit--
	}
	// A single truncation marker takes one slot so the total stays at max
	if l := len(s.events); l > limit {
		keep := s.max - 1
		s.dropped += l - keep
		s.events = append([]Event(nil), s.events[l-keep:]...)
		if s.truncated == nil {
			s.truncated = &Event{ID: uuid.NewString(), Type: "events_truncated"}
		}
		s.truncated.Ts = evt.Ts
		s.truncated.Payload = map[string]any{"dropped": s.dropped, "kept": keep}
	}
	if s.sinkQ != nil && !s.sinkClosed {
		select {
		case s.sinkQ <- evt:
		default:
			metricSinkDrops.Inc()
		}
	}
	s.mu.Unlock()
	metricEvents.WithLabelValues(typ).Inc()
	return evt
}

// List returns a copy of the retained events, oldest first. The truncation
// marker, if any, leads.
func (s *Store) List() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, len(s.events)+1)
	if s.truncated != nil {
		out = append(out, *s.truncated)
	}
	return append(out, s.events...)
}

// ListTurn returns the retained events of one turn.
func (s *Store) ListTurn(turnID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.TurnID == turnID {
			out = append(out, e)
		}
	}
	return out
}

// Close stops the sink writer after it has flushed queued events.
func (s *Store) Close() {
	s.once.Do(func() {
		if s.sinkQ == nil {
			return
		}
		s.mu.Lock()
		s.sinkClosed = true
		close(s.sinkQ)
		s.mu.Unlock()
		<-s.closed
	})
}

func (s *Store) drain() {
	defer close(s.closed)
	for evt := range s.sinkQ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.sink.Write(ctx, evt); err != nil {
			metricSinkErrors.Inc()
			log.Printf("[journal] sink write type=%s: %v", evt.Type, err)
		}
		cancel()
	}
}
