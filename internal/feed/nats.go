package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/a96363877/zain-js-lohan/internal/model"
	"github.com/nats-io/nats.go"
)

// NATSPresence implements PresenceFeed over a JetStream key-value bucket.
// Each key is a user identifier and each value a JSON object with a "state"
// field. A single watcher covers the whole bucket.
type NATSPresence struct {
	nc *nats.Conn     // NATS connection
	kv nats.KeyValue  // Presence bucket
}

// NewNATSPresence connects to url and opens (or creates) the presence bucket.
func NewNATSPresence(url, bucket string) (*NATSPresence, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats jetstream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "submitting user presence",
			History:     1,
			Storage:     nats.MemoryStorage,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("presence bucket %s: %w", bucket, err)
	}

	return &NATSPresence{nc: nc, kv: kv}, nil
}

// Close closes the NATS connection.
func (p *NATSPresence) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// Ping reports whether the NATS connection is up.
func (p *NATSPresence) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats connection %s", p.nc.Status())
	}
	return nil
}

// Subscribe implements PresenceFeed. The first delivery happens once the
// watcher has replayed the current bucket contents.
func (p *NATSPresence) Subscribe(ctx context.Context, onChange PresenceHandler, onError ErrorHandler) (Subscription, error) {
	w, err := p.kv.WatchAll()
	if err != nil {
		return nil, fmt.Errorf("presence watch: %w", err)
	}

	var (
		wg     sync.WaitGroup
		active sync.Mutex
		closed bool
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		entries := make(map[string]model.PresenceEntry)
		replayed := false

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Updates():
				if !ok {
					active.Lock()
					if !closed && onError != nil {
						onError(errors.New("presence watcher closed"))
					}
					active.Unlock()
					return
				}
				// nil marks the end of the initial replay
				if e == nil {
					replayed = true
				} else {
					switch e.Operation() {
					case nats.KeyValuePut:
						entries[e.Key()] = DecodePresence(e.Value())
					case nats.KeyValueDelete, nats.KeyValuePurge:
						delete(entries, e.Key())
					}
				}
				if !replayed {
					continue
				}

				snapshot := copyEntries(entries)
				active.Lock()
				if !closed {
					onChange(snapshot)
				}
				active.Unlock()
			}
		}
	}()

	return SubscriptionFunc(func() {
		active.Lock()
		closed = true
		active.Unlock()
		_ = w.Stop()
		wg.Wait()
	}), nil
}
