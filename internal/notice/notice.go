// Package notice keeps the transient success and failure messages shown to
// the operator after an action.
package notice

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Level is the severity of a notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// DefaultCapacity bounds the number of notices retained.
const DefaultCapacity = 50

// Notice is one operator-visible message.
type Notice struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives notices.
type Notifier interface {
	Notify(level Level, title, message string)
}

// Queue is a bounded, most-recent-first notice buffer.
type Queue struct {
	mu       sync.Mutex
	items    []Notice
	capacity int
	now      func() time.Time
}

// NewQueue creates a queue holding at most capacity notices.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity, now: time.Now}
}

// Notify implements Notifier.
func (q *Queue) Notify(level Level, title, message string) {
	at := q.now().UTC()
	n := Notice{
		ID:      ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		Level:   level,
		Title:   title,
		Message: message,
		At:      at,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]Notice{n}, q.items...)
	if len(q.items) > q.capacity {
		q.items = q.items[:q.capacity]
	}
}

// Recent returns up to limit notices, newest first. limit <= 0 returns all.
func (q *Queue) Recent(limit int) []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.items) {
		limit = len(q.items)
	}
	out := make([]Notice, limit)
	copy(out, q.items[:limit])
	return out
}

// Len returns the number of retained notices.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
