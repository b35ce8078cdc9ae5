// Package presence tracks which submitting users are online.
//
// A Tracker holds exactly one subscription over the whole presence keyspace
// and answers per-identifier questions from the local map, so the number of
// open subscriptions never depends on how many records are on screen.
package presence

import (
	"context"
	"errors"
	"sync"

	"github.com/a96363877/zain-js-lohan/internal/feed"
	"github.com/a96363877/zain-js-lohan/internal/metrics"
	"github.com/a96363877/zain-js-lohan/internal/model"
	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned by Start on a tracker that is already subscribed.
var ErrAlreadyStarted = errors.New("presence tracker already started")

// Tracker derives online state from a presence feed.
type Tracker struct {
	feed    feed.PresenceFeed
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	entries   map[string]model.PresenceEntry
	loaded    bool // set by the first delivery
	sub       feed.Subscription
	closed    bool
	lastErr   error
	listeners map[int]func()
	nextID    int
}

// NewTracker creates a tracker over f. It does not subscribe until Start.
func NewTracker(f feed.PresenceFeed, logger *zap.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		feed:      f,
		logger:    logger,
		metrics:   m,
		entries:   make(map[string]model.PresenceEntry),
		listeners: make(map[int]func()),
	}
}

// Start opens the single presence subscription.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.sub != nil || t.closed {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.mu.Unlock()

	sub, err := t.feed.Subscribe(ctx, t.handleChange, t.handleError)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	t.sub = sub
	t.mu.Unlock()
	return nil
}

// Close releases the subscription. No listener fires afterwards.
func (t *Tracker) Close() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.closed = true
	t.listeners = make(map[int]func())
	t.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (t *Tracker) handleChange(entries map[string]model.PresenceEntry) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.entries = entries
	t.loaded = true
	t.lastErr = nil
	listeners := t.listenerList()
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.FeedBatchesTotal.WithLabelValues("presence").Inc()
	}
	for _, fn := range listeners {
		fn()
	}
}

func (t *Tracker) handleError(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.lastErr = err
	t.mu.Unlock()

	t.logger.Warn("presence feed error, keeping last known presence", zap.Error(err))
	if t.metrics != nil {
		t.metrics.FeedErrorsTotal.WithLabelValues("presence").Inc()
	}
}

// Status returns the tri-state presence of id.
func (t *Tracker) Status(id string) model.PresenceState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.loaded {
		return model.PresenceUnknown
	}
	entry, ok := t.entries[id]
	switch {
	case !ok:
		return model.PresenceOffline
	case !entry.Readable:
		return model.PresenceUnknown
	case entry.Online():
		return model.PresenceOnline
	default:
		return model.PresenceOffline
	}
}

// OnlineCount returns the number of identifiers currently online.
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, e := range t.entries {
		if e.Online() {
			count++
		}
	}
	return count
}

// OnlineSet returns the identifiers currently online.
func (t *Tracker) OnlineSet() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]bool)
	for id, e := range t.entries {
		if e.Online() {
			out[id] = true
		}
	}
	return out
}

// Err returns the last feed error, cleared by the next successful delivery.
func (t *Tracker) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

// OnChange registers fn to run after every presence delivery.
// The returned func removes the registration.
func (t *Tracker) OnChange(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

func (t *Tracker) listenerList() []func() {
	out := make([]func(), 0, len(t.listeners))
	for _, fn := range t.listeners {
		out = append(out, fn)
	}
	return out
}
