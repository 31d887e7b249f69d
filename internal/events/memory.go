package events

import (
	"context"
	"sync"

	"taskpulse/internal/domain"
)

// Published is one call recorded by Recorder.
type Published struct {
	Kind Kind
	Task domain.Task
}

// Recorder is a Publisher that keeps every call in memory.
type Recorder struct {
	mu    sync.Mutex
	calls []Published
}

func (r *Recorder) Publish(kind Kind, task domain.Task) {
	r.mu.Lock()
	r.calls = append(r.calls, Published{Kind: kind, Task: task})
	r.mu.Unlock()
}

func (r *Recorder) Calls() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.calls...)
}

func (r *Recorder) Kinds() []Kind {
	var kinds []Kind
	for _, c := range r.Calls() {
		kinds = append(kinds, c.Kind)
	}
	return kinds
}

// MemorySink is a Sink that keeps delivered messages and signals each one on C
// when C is non-nil.
type MemorySink struct {
	SinkName string
	C        chan Message

	mu   sync.Mutex
	msgs []Message
}

func (s *MemorySink) Name() string {
	if s.SinkName == "" {
		return "memory"
	}
	return s.SinkName
}

func (s *MemorySink) Deliver(ctx context.Context, msg Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	if s.C != nil {
		select {
		case s.C <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *MemorySink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}
