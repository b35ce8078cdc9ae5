// internal/feed/memory.go
package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/a96363877/zain-js-lohan/internal/model"
)

// memorySub is one registration against an in-memory feed.
type memorySub struct {
	active  atomic.Bool
	onBatch RecordHandler
	onPres  PresenceHandler
	onError ErrorHandler
}

// MemoryRecords implements RecordFeed in memory.
// It is intended for development and tests. Deliveries are synchronous and
// serialized, so every subscriber sees batches in mutation order.
type MemoryRecords struct {
	mu      sync.Mutex                      // Protects records, subs and the failure switches
	deliver sync.Mutex                      // Serializes batch delivery
	records map[string]*model.Notification // Map of id to record
	subs    map[uint64]*memorySub
	nextSub uint64

	failUpdate error // Returned by Update when set
	failBatch  error // Returned by BatchUpdate when set
}

// NewMemoryRecords creates an in-memory collection seeded with records.
func NewMemoryRecords(seed ...model.Notification) *MemoryRecords {
	m := &MemoryRecords{
		records: make(map[string]*model.Notification),
		subs:    make(map[uint64]*memorySub),
	}
	for _, n := range seed {
		c := n.Clone()
		m.records[n.ID] = &c
	}
	return m
}

// Put inserts or replaces a record, as the submitting surface would.
func (m *MemoryRecords) Put(n model.Notification) {
	m.mu.Lock()
	c := n.Clone()
	m.records[n.ID] = &c
	m.mu.Unlock()
	m.emit()
}

// Get returns the stored record, hidden or not.
func (m *MemoryRecords) Get(id string) (model.Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.records[id]
	if !ok {
		return model.Notification{}, false
	}
	return n.Clone(), true
}

// FailUpdates makes every Update return err until called with nil.
func (m *MemoryRecords) FailUpdates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpdate = err
}

// FailBatches makes every BatchUpdate return err until called with nil.
func (m *MemoryRecords) FailBatches(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failBatch = err
}

// EmitError delivers err to every active subscriber.
func (m *MemoryRecords) EmitError(err error) {
	m.deliver.Lock()
	defer m.deliver.Unlock()
	for _, s := range m.activeSubs() {
		if s.active.Load() && s.onError != nil {
			s.onError(err)
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (m *MemoryRecords) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Subscribe implements RecordFeed. The current state is delivered before
// Subscribe returns.
func (m *MemoryRecords) Subscribe(ctx context.Context, onBatch RecordHandler, onError ErrorHandler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &memorySub{onBatch: onBatch, onError: onError}
	s.active.Store(true)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = s
	m.mu.Unlock()

	m.deliver.Lock()
	if s.active.Load() {
		onBatch(m.snapshot())
	}
	m.deliver.Unlock()

	return SubscriptionFunc(func() {
		s.active.Store(false)
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}), nil
}

// Update implements RecordFeed.
func (m *MemoryRecords) Update(ctx context.Context, id string, patch model.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.failUpdate != nil {
		err := m.failUpdate
		m.mu.Unlock()
		return err
	}
	n, exists := m.records[id]
	if !exists {
		m.mu.Unlock()
		return ErrNotFound
	}
	patch.Apply(n)
	m.mu.Unlock()

	m.emit()
	return nil
}

// BatchUpdate implements RecordFeed. Nothing is applied unless every id exists.
func (m *MemoryRecords) BatchUpdate(ctx context.Context, ids []string, patch model.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.failBatch != nil {
		err := m.failBatch
		m.mu.Unlock()
		return err
	}
	for _, id := range ids {
		if _, exists := m.records[id]; !exists {
			m.mu.Unlock()
			return ErrBatchFailed
		}
	}
	for _, id := range ids {
		patch.Apply(m.records[id])
	}
	m.mu.Unlock()

	m.emit()
	return nil
}

func (m *MemoryRecords) activeSubs() []*memorySub {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := make([]*memorySub, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	return subs
}

func (m *MemoryRecords) snapshot() []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Notification, 0, len(m.records))
	for _, n := range m.records {
		out = append(out, n.Clone())
	}
	SortNewestFirst(out)
	return out
}

func (m *MemoryRecords) emit() {
	m.deliver.Lock()
	defer m.deliver.Unlock()
	subs := m.activeSubs()
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		// each subscriber gets its own copy
		s.onBatch(m.snapshot())
	}
}

// MemoryPresence implements PresenceFeed in memory.
// Like the hosted presence service, it delivers the current keyspace as soon
// as a subscriber registers.
type MemoryPresence struct {
	mu      sync.Mutex
	deliver sync.Mutex
	entries map[string]model.PresenceEntry
	subs    map[uint64]*memorySub
	nextSub uint64
}

// NewMemoryPresence creates an empty in-memory presence keyspace.
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{
		entries: make(map[string]model.PresenceEntry),
		subs:    make(map[uint64]*memorySub),
	}
}

// Set stores a readable entry with the given state.
func (p *MemoryPresence) Set(id, state string) {
	p.mu.Lock()
	p.entries[id] = model.PresenceEntry{State: state, Readable: true}
	p.mu.Unlock()
	p.emit()
}

// SetRaw stores an entry decoded from a raw JSON payload.
func (p *MemoryPresence) SetRaw(id string, raw []byte) {
	p.mu.Lock()
	p.entries[id] = DecodePresence(raw)
	p.mu.Unlock()
	p.emit()
}

// Remove deletes the entry for id.
func (p *MemoryPresence) Remove(id string) {
	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()
	p.emit()
}

// EmitError delivers err to every active subscriber.
func (p *MemoryPresence) EmitError(err error) {
	p.deliver.Lock()
	defer p.deliver.Unlock()
	for _, s := range p.activeSubs() {
		if s.active.Load() && s.onError != nil {
			s.onError(err)
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (p *MemoryPresence) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Subscribe implements PresenceFeed.
func (p *MemoryPresence) Subscribe(ctx context.Context, onChange PresenceHandler, onError ErrorHandler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &memorySub{onPres: onChange, onError: onError}
	s.active.Store(true)

	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = s
	p.mu.Unlock()

	p.deliver.Lock()
	if s.active.Load() {
		onChange(p.snapshot())
	}
	p.deliver.Unlock()

	return SubscriptionFunc(func() {
		s.active.Store(false)
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}), nil
}

func (p *MemoryPresence) activeSubs() []*memorySub {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := make([]*memorySub, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	return subs
}

func (p *MemoryPresence) snapshot() map[string]model.PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyEntries(p.entries)
}

func (p *MemoryPresence) emit() {
	p.deliver.Lock()
	defer p.deliver.Unlock()
	for _, s := range p.activeSubs() {
		if s.active.Load() {
			s.onPres(p.snapshot())
		}
	}
}
