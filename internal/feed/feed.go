// Package feed defines the contracts of the two remote feeds the dashboard
// consumes (the notification collection and the presence keyspace) and
// provides in-memory, PostgreSQL and NATS implementations of them.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/a96363877/zain-js-lohan/internal/model"
)

// Standard errors returned by feed implementations
var (
	ErrNotFound    = errors.New("not found")           // Returned when a targeted record does not exist
	ErrBatchFailed = errors.New("batch update failed") // Returned when an atomic batch was not applied
)

// Subscription is a live feed registration. Unsubscribe releases it; no
// callbacks are delivered after Unsubscribe returns.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

// Unsubscribe implements Subscription.
func (f SubscriptionFunc) Unsubscribe() { f() }

// RecordHandler receives the full current state of the collection,
// newest first, including hidden records.
type RecordHandler func(batch []model.Notification)

// PresenceHandler receives the full current presence keyspace.
type PresenceHandler func(entries map[string]model.PresenceEntry)

// ErrorHandler receives non-fatal subscription errors.
type ErrorHandler func(err error)

// RecordFeed is the remote notification collection ordered by createdDate descending.
type RecordFeed interface {
	// Subscribe streams full collection state on every change.
	Subscribe(ctx context.Context, onBatch RecordHandler, onError ErrorHandler) (Subscription, error)
	// Update merge-patches a single record.
	Update(ctx context.Context, id string, patch model.Patch) error
	// BatchUpdate applies the same patch to every id atomically: all or nothing.
	BatchUpdate(ctx context.Context, ids []string, patch model.Patch) error
}

// PresenceFeed is the remote key-value presence space keyed by user identifier.
type PresenceFeed interface {
	Subscribe(ctx context.Context, onChange PresenceHandler, onError ErrorHandler) (Subscription, error)
}

// SortNewestFirst orders records by createdDate descending, ties broken by id.
func SortNewestFirst(records []model.Notification) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, iok := parseCreated(records[i].CreatedDate)
		tj, jok := parseCreated(records[j].CreatedDate)
		if iok && jok && !ti.Equal(tj) {
			return ti.After(tj)
		}
		if !iok || !jok {
			if records[i].CreatedDate != records[j].CreatedDate {
				return records[i].CreatedDate > records[j].CreatedDate
			}
		}
		return records[i].ID < records[j].ID
	})
}

func parseCreated(v string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DecodePresence decodes one presence payload. An unreadable payload yields
// an entry with Readable set to false.
func DecodePresence(raw []byte) model.PresenceEntry {
	var entry model.PresenceEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return model.PresenceEntry{}
	}
	entry.Readable = true
	return entry
}

func copyEntries(src map[string]model.PresenceEntry) map[string]model.PresenceEntry {
	dst := make(map[string]model.PresenceEntry, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
