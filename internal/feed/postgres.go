// internal/feed/postgres.go
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/a96363877/zain-js-lohan/internal/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// changeChannel is the LISTEN/NOTIFY channel raised by the notifications trigger.
const changeChannel = "notifications_changed"

// Listener reconnect policy.
const (
	reconnectInitial = 500 * time.Millisecond
	reconnectMax     = 30 * time.Second
)

// newReconnectBackOff never gives up; the subscription context ends retries.
func newReconnectBackOff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(reconnectInitial),
		backoff.WithMaxInterval(reconnectMax),
		backoff.WithMaxElapsedTime(0),
	)
}

// Postgres implements RecordFeed on a PostgreSQL table.
// Changes are observed through LISTEN/NOTIFY and every notification reloads
// the full ordered collection.
type Postgres struct {
	db     *pgxpool.Pool // Connection pool to PostgreSQL database
	logger *zap.Logger
}

// NewPostgres creates the PostgreSQL record feed.
// It establishes a connection pool to the database and initializes the schema.
func NewPostgres(dsn string, logger *zap.Logger) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	// One connection is held by each live subscription for LISTEN
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Postgres{db: pool, logger: logger}, nil
}

// initSchema creates the notifications table and its change trigger.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS notifications (
		    id TEXT PRIMARY KEY,
		    created_date TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    status TEXT NOT NULL DEFAULT 'pending',
		    is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
		    flag_color TEXT NOT NULL DEFAULT '',
		    data JSONB NOT NULL DEFAULT '{}'::jsonb     -- personal and card fields as submitted
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_created_date ON notifications(created_date DESC);

		CREATE OR REPLACE FUNCTION notify_notifications_changed() RETURNS trigger AS $$
		BEGIN
		    PERFORM pg_notify('` + changeChannel + `', '');
		    RETURN NULL;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS notifications_changed ON notifications;
		CREATE TRIGGER notifications_changed
		    AFTER INSERT OR UPDATE OR DELETE ON notifications
		    FOR EACH STATEMENT EXECUTE FUNCTION notify_notifications_changed();
	`
	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *Postgres) Close() {
	p.db.Close()
}

// Ping reports database reachability.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Subscribe implements RecordFeed.
// The initial state is delivered before Subscribe returns. Connection loss is
// reported through onError and the listener re-acquires a connection.
func (p *Postgres) Subscribe(ctx context.Context, onBatch RecordHandler, onError ErrorHandler) (Subscription, error) {
	conn, err := p.listen(ctx)
	if err != nil {
		return nil, err
	}

	batch, err := p.load(ctx)
	if err != nil {
		conn.Release()
		return nil, err
	}
	onBatch(batch)

	loopCtx, cancel := context.WithCancel(context.Background())
	var (
		wg     sync.WaitGroup
		active sync.Mutex // held while a callback runs so Unsubscribe can fence it
		closed bool
	)
	deliver := func(fn func()) {
		active.Lock()
		defer active.Unlock()
		if !closed {
			fn()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		retry := newReconnectBackOff()
		for {
			if conn == nil {
				c, err := p.listen(loopCtx)
				if err != nil {
					if loopCtx.Err() != nil {
						return
					}
					deliver(func() { onError(err) })
					wait := retry.NextBackOff()
					p.logger.Warn("notifications listener down, retrying", zap.Duration("in", wait), zap.Error(err))
					select {
					case <-loopCtx.Done():
						return
					case <-time.After(wait):
					}
					continue
				}
				conn = c
				retry.Reset()

				// changes made while disconnected were not notified
				batch, err := p.load(loopCtx)
				if err != nil {
					if loopCtx.Err() != nil {
						return
					}
					deliver(func() { onError(err) })
				} else {
					deliver(func() { onBatch(batch) })
				}
			}

			_, err := conn.Conn().WaitForNotification(loopCtx)
			if err != nil {
				conn.Release()
				conn = nil
				if loopCtx.Err() != nil {
					return
				}
				deliver(func() { onError(fmt.Errorf("listen on %s: %w", changeChannel, err)) })
				continue
			}

			batch, err := p.load(loopCtx)
			if err != nil {
				if loopCtx.Err() != nil {
					return
				}
				deliver(func() { onError(err) })
				continue
			}
			deliver(func() { onBatch(batch) })
		}
	}()

	return SubscriptionFunc(func() {
		active.Lock()
		closed = true
		active.Unlock()
		cancel()
		wg.Wait()
	}), nil
}

func (p *Postgres) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := p.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	return conn, nil
}

// load reads the full collection newest first, hidden rows included.
func (p *Postgres) load(ctx context.Context) ([]model.Notification, error) {
	query := `SELECT id, created_date, status, is_hidden, flag_color, data
	          FROM notifications ORDER BY created_date DESC, id ASC`
	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	out := make([]model.Notification, 0)
	for rows.Next() {
		var (
			id, status, flag string
			created          time.Time
			hidden           bool
			data             []byte
		)
		if err := rows.Scan(&id, &created, &status, &hidden, &flag, &data); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		var n model.Notification
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n); err != nil {
				p.logger.Warn("skipping unreadable notification payload", zap.String("id", id), zap.Error(err))
				continue
			}
		}
		n.ID = id
		n.CreatedDate = created.UTC().Format(time.RFC3339Nano)
		n.Status = model.Status(status)
		n.Hidden = hidden
		n.FlagColor = model.FlagColor(flag)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}
	return out, nil
}

// setClause renders the patch as an UPDATE SET list starting at placeholder $start.
// Column names come from model.Patch.Fields and are never operator supplied.
func setClause(patch model.Patch, start int) (string, []any) {
	fields := patch.Fields()
	cols := make([]string, 0, len(fields))
	for col := range fields {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	parts := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, col := range cols {
		parts = append(parts, fmt.Sprintf("%s = $%d", col, start+i))
		args = append(args, fields[col])
	}
	return strings.Join(parts, ", "), args
}

// Update implements RecordFeed.
func (p *Postgres) Update(ctx context.Context, id string, patch model.Patch) error {
	set, args := setClause(patch, 2)
	if set == "" {
		return nil
	}
	query := `UPDATE notifications SET ` + set + ` WHERE id = $1`
	tag, err := p.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BatchUpdate implements RecordFeed inside a single transaction.
// The transaction is rolled back unless every id was updated.
func (p *Postgres) BatchUpdate(ctx context.Context, ids []string, patch model.Patch) error {
	set, args := setClause(patch, 2)
	if set == "" || len(ids) == 0 {
		return nil
	}

	unique := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer func() {
		// no-op after a successful commit
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.logger.Warn("batch rollback failed", zap.Error(rbErr))
		}
	}()

	query := `UPDATE notifications SET ` + set + ` WHERE id = ANY($1)`
	tag, err := tx.Exec(ctx, query, append([]any{ids}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to apply batch: %w", err)
	}
	if tag.RowsAffected() != int64(len(unique)) {
		return fmt.Errorf("%w: %d of %d records updated", ErrBatchFailed, tag.RowsAffected(), len(unique))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}
