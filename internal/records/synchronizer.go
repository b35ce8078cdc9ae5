// Package records keeps a local, ordered snapshot of the remote notification
// collection in step with the backend.
//
// The Synchronizer owns the snapshot. Remote batches replace it wholesale;
// the moderation dispatcher may patch it optimistically through Remove, Apply
// and Clear and undo those patches with Restore.
package records

import (
	"context"
	"errors"
	"sync"

	"github.com/a96363877/zain-js-lohan/internal/feed"
	"github.com/a96363877/zain-js-lohan/internal/metrics"
	"github.com/a96363877/zain-js-lohan/internal/model"
	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned by Start when the subscription is already open.
var ErrAlreadyStarted = errors.New("synchronizer already started")

// Alerter is the new-submission side effect. Alert must not block.
type Alerter interface {
	Alert(a Arrival)
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(a Arrival)

// Alert implements Alerter.
func (f AlerterFunc) Alert(a Arrival) { f(a) }

// Checkpoint captures one record before an optimistic patch.
type Checkpoint struct {
	gen     uint64
	index   int
	record  model.Notification
	removed bool
}

// Synchronizer mirrors the remote collection.
type Synchronizer struct {
	feed    feed.RecordFeed
	alerter Alerter
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	snapshot  []model.Notification
	stats     model.Stats
	loading   bool
	gen       uint64 // incremented by every remote batch
	started   bool
	closed    bool
	sub       feed.Subscription
	lastErr   error
	policy    AlertPolicy
	listeners map[int]func()
	nextID    int
}

// NewSynchronizer creates a synchronizer over f. alerter may be nil.
func NewSynchronizer(f feed.RecordFeed, alerter Alerter, logger *zap.Logger, m *metrics.Metrics) *Synchronizer {
	return &Synchronizer{
		feed:      f,
		alerter:   alerter,
		logger:    logger,
		metrics:   m,
		loading:   true,
		policy:    DefaultAlertPolicy(),
		listeners: make(map[int]func()),
	}
}

// Start opens the one subscription to the collection.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.loading = true
	s.mu.Unlock()

	sub, err := s.feed.Subscribe(ctx, s.handleBatch, s.handleError)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.loading = false
		s.lastErr = err
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Close releases the subscription. Batches delivered afterwards are ignored.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.closed = true
	s.listeners = make(map[int]func())
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (s *Synchronizer) handleBatch(batch []model.Notification) {
	visible := VisibleOnly(batch)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	arrival := DetectArrival(s.snapshot, visible)
	alert := s.policy.ShouldAlert(arrival)
	s.stats = ComputeStats(visible)
	s.snapshot = visible
	s.gen++
	s.loading = false
	s.lastErr = nil
	listeners := s.listenerList()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.FeedBatchesTotal.WithLabelValues("records").Inc()
	}
	if alert && s.alerter != nil {
		s.alerter.Alert(arrival)
		if s.metrics != nil {
			s.metrics.AlertsTotal.Inc()
		}
	}
	for _, fn := range listeners {
		fn()
	}
}

func (s *Synchronizer) handleError(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.loading = false
	s.lastErr = err
	listeners := s.listenerList()
	s.mu.Unlock()

	s.logger.Error("notification feed error, keeping last snapshot", zap.Error(err))
	if s.metrics != nil {
		s.metrics.FeedErrorsTotal.WithLabelValues("records").Inc()
	}
	for _, fn := range listeners {
		fn()
	}
}

// Snapshot returns a copy of the held records, newest first.
func (s *Synchronizer) Snapshot() []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Notification, len(s.snapshot))
	for i, n := range s.snapshot {
		out[i] = n.Clone()
	}
	return out
}

// IDs returns the ids of the held records in display order.
func (s *Synchronizer) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.snapshot))
	for i, n := range s.snapshot {
		out[i] = n.ID
	}
	return out
}

// Find returns the held record with id.
func (s *Synchronizer) Find(id string) (model.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.snapshot[i].Clone(), true
	}
	return model.Notification{}, false
}

// Stats returns the statistics of the held snapshot.
func (s *Synchronizer) Stats() model.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Loading reports whether the first batch (or error) is still pending.
func (s *Synchronizer) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the last subscription error, cleared by the next batch.
func (s *Synchronizer) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// SetAlertPolicy replaces the alert gating policy.
func (s *Synchronizer) SetAlertPolicy(p AlertPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
}

// OnChange registers fn to run after every batch, error or local patch.
func (s *Synchronizer) OnChange(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Remove drops id from the held snapshot.
func (s *Synchronizer) Remove(id string) (Checkpoint, bool) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return Checkpoint{}, false
	}
	cp := Checkpoint{gen: s.gen, index: i, record: s.snapshot[i].Clone(), removed: true}
	next := make([]model.Notification, 0, len(s.snapshot)-1)
	next = append(next, s.snapshot[:i]...)
	next = append(next, s.snapshot[i+1:]...)
	s.replaceLocked(next)
	listeners := s.listenerList()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return cp, true
}

// Apply merges patch into the held record with id.
func (s *Synchronizer) Apply(id string, patch model.Patch) (Checkpoint, bool) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return Checkpoint{}, false
	}
	cp := Checkpoint{gen: s.gen, index: i, record: s.snapshot[i].Clone()}
	next := make([]model.Notification, len(s.snapshot))
	copy(next, s.snapshot)
	patch.Apply(&next[i])
	if next[i].Hidden {
		next = append(next[:i], next[i+1:]...)
		cp.removed = true
	}
	s.replaceLocked(next)
	listeners := s.listenerList()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return cp, true
}

// Clear empties the held snapshot.
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	s.replaceLocked([]model.Notification{})
	listeners := s.listenerList()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Restore undoes the patch captured by cp. It does nothing, and returns
// false, once a newer remote batch has replaced the snapshot.
func (s *Synchronizer) Restore(cp Checkpoint) bool {
	s.mu.Lock()
	if cp.gen != s.gen || s.closed {
		s.mu.Unlock()
		return false
	}

	next := make([]model.Notification, len(s.snapshot))
	copy(next, s.snapshot)
	if cp.removed {
		if s.indexOf(cp.record.ID) >= 0 {
			s.mu.Unlock()
			return false
		}
		at := cp.index
		if at > len(next) {
			at = len(next)
		}
		next = append(next[:at], append([]model.Notification{cp.record}, next[at:]...)...)
	} else {
		i := s.indexOf(cp.record.ID)
		if i < 0 {
			s.mu.Unlock()
			return false
		}
		next[i] = cp.record
	}
	s.replaceLocked(next)
	listeners := s.listenerList()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return true
}

func (s *Synchronizer) replaceLocked(next []model.Notification) {
	s.snapshot = next
	s.stats = ComputeStats(next)
}

func (s *Synchronizer) indexOf(id string) int {
	for i, n := range s.snapshot {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) listenerList() []func() {
	out := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}
