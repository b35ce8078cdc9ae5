// Package event publishes moderation audit events and new-submission alerts
// to NATS JetStream.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	streamModeration  = "DASH_MODERATION"
	streamSubmissions = "DASH_SUBMISSIONS"

	subjectModeration = "dashboard.moderation"
	subjectSubmission = "dashboard.submissions.arrived"

	dedupWindow = 2 * time.Minute
)

// Publisher publishes dashboard events.
type Publisher interface {
	PublishModeration(ctx context.Context, ev ModerationEvent) error
	PublishSubmission(ctx context.Context, ev SubmissionEvent) error
	Close() error
}

// ModerationEvent records one successful operator action. Value carries the
// new status or flag color where the action has one.
type ModerationEvent struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
	Value  string   `json:"value,omitempty"`
}

// SubmissionEvent announces that a batch brought new card or personal data.
type SubmissionEvent struct {
	Card bool `json:"card"`
	Info bool `json:"info"`
}

// Envelope wraps every published payload.
type Envelope struct {
	Type          string      `json:"type"`
	Version       string      `json:"version"`
	OccurredAt    time.Time   `json:"occurredAt"`
	CorrelationID string      `json:"correlationId"`
	Payload       interface{} `json:"payload"`
}

func newEnvelope(typ string, payload interface{}) Envelope {
	return Envelope{
		Type:          typ,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}
}

type noop struct{}

// Noop returns a publisher that drops everything.
func Noop() Publisher { return noop{} }

func (noop) PublishModeration(context.Context, ModerationEvent) error { return nil }
func (noop) PublishSubmission(context.Context, SubmissionEvent) error { return nil }
func (noop) Close() error                                            { return nil }

type natsPub struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger

	dedup map[string]time.Time
	mutex sync.Mutex
}

// NewPublisher connects to url and ensures the event streams exist. An empty
// url, or any connection failure, yields the noop publisher.
func NewPublisher(url string, logger *zap.Logger) Publisher {
	if url == "" {
		return Noop()
	}

	nc, err := nats.Connect(url)
	if err != nil {
		logger.Warn("NATS connect failed, using noop publisher", zap.Error(err))
		return Noop()
	}

	js, err := nc.JetStream()
	if err != nil {
		logger.Warn("NATS JetStream context creation failed, using noop publisher", zap.Error(err))
		nc.Close()
		return Noop()
	}

	if err := initStreams(js); err != nil {
		logger.Warn("NATS stream initialization failed, using noop publisher", zap.Error(err))
		nc.Close()
		return Noop()
	}

	return &natsPub{nc: nc, js: js, logger: logger, dedup: make(map[string]time.Time)}
}

func initStreams(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamModeration,
		Subjects:  []string{subjectModeration + ".*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s stream: %w", streamModeration, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      streamSubmissions,
		Subjects:  []string{subjectSubmission},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s stream: %w", streamSubmissions, err)
	}
	return nil
}

func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// seen reports whether key was published within the dedup window and marks
// it as published now otherwise.
func (p *natsPub) seen(key string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	if last, ok := p.dedup[key]; ok && now.Sub(last) < dedupWindow {
		return true
	}
	cutoff := now.Add(-5 * time.Minute)
	for k, t := range p.dedup {
		if t.Before(cutoff) {
			delete(p.dedup, k)
		}
	}
	p.dedup[key] = now
	return false
}

func (p *natsPub) forget(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.dedup, key)
}

func (p *natsPub) PublishModeration(ctx context.Context, ev ModerationEvent) error {
	// repeating an idempotent action (approve twice) is one audit entry
	key := fmt.Sprintf("%s/%s/%v", ev.Action, ev.Value, ev.IDs)
	if p.seen(key) {
		return nil
	}
	subject := subjectModeration + "." + ev.Action
	if err := p.publish(ctx, subject, newEnvelope(subject, ev)); err != nil {
		p.forget(key)
		return err
	}
	return nil
}

func (p *natsPub) PublishSubmission(ctx context.Context, ev SubmissionEvent) error {
	return p.publish(ctx, subjectSubmission, newEnvelope(subjectSubmission, ev))
}

func (p *natsPub) publish(ctx context.Context, subject string, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := p.js.Publish(subject, b, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published",
		zap.String("subject", subject),
		zap.String("correlation_id", env.CorrelationID))
	return nil
}
