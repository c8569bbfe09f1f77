// Package stream fans RBAC change events out to live subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeEvent describes one committed write to the RBAC tables.
type ChangeEvent struct {
	Event          string         `json:"event"`
	OrganizationID string         `json:"organization_id"`
	Actor          string         `json:"actor,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

type subscriber struct {
	organizationID string
	ch             chan ChangeEvent
}

// Stream fans out change events to subscribers of one organization.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	buffer  int
	dropped atomic.Uint64
}

// New returns an empty stream. buffer is the per-subscriber queue length.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 16
	}
	return &Stream{subs: make(map[int]subscriber), buffer: buffer}
}

// Subscribe registers a subscriber for organizationID and returns a channel
// receiving its events. The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, organizationID string) <-chan ChangeEvent {
	ch := make(chan ChangeEvent, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{organizationID: organizationID, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to every subscriber of its organization. Slow
// subscribers lose events instead of blocking the writer.
func (s *Stream) Publish(evt ChangeEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.organizationID != evt.OrganizationID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
