package event

import (
	"context"
	"sync"
)

// Memory is an in-process Publisher that keeps every envelope.
type Memory struct {
	mu     sync.Mutex
	events []Envelope
	err    error
}

// NewMemory creates an empty in-memory publisher.
func NewMemory() *Memory { return &Memory{} }

// Fail makes subsequent publishes return err. nil restores success.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Events returns the envelopes published so far.
func (m *Memory) Events() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Memory) PublishModeration(_ context.Context, ev ModerationEvent) error {
	return m.add(newEnvelope(subjectModeration+"."+ev.Action, ev))
}

func (m *Memory) PublishSubmission(_ context.Context, ev SubmissionEvent) error {
	return m.add(newEnvelope(subjectSubmission, ev))
}

func (m *Memory) Close() error { return nil }

func (m *Memory) add(env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, env)
	return nil
}
