// Package offlinequeue is the device-local durable queue of user intents
// captured while offline. Actions are persisted before any network attempt
// and removed only after the server acknowledged them.
package offlinequeue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
	"github.com/okian/happenin/pkg/metrics"
)

const defaultPoolSize = 2

const schema = `
CREATE TABLE IF NOT EXISTS action_queue (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	payload BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS action_queue_by_kind ON action_queue (kind, seq);
CREATE INDEX IF NOT EXISTS action_queue_by_created ON action_queue (created_at);
`

const selectColumns = `SELECT id, kind, payload, created_at, retry_count FROM action_queue`

// Queue is the durable action store used by the replayer.
type Queue interface {
	Enqueue(ctx context.Context, kind model.ActionKind, payload []byte) (model.QueuedAction, error)
	List(ctx context.Context) ([]model.QueuedAction, error)
	Update(ctx context.Context, a model.QueuedAction) error
	Delete(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
}

// SQLiteQueue implements Queue on an embedded SQLite file.
type SQLiteQueue struct {
	pool     *sqlitex.Pool
	path     string
	poolSize int
	clock    clock.Clock
	logger   logger.Logger
	closed   atomic.Bool
}

var _ Queue = (*SQLiteQueue)(nil)

// Open opens (creating if needed) the queue database at path.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteQueue, error) {
	if path == "" {
		return nil, fmt.Errorf("offlinequeue: path is required")
	}
	q := &SQLiteQueue{path: path, poolSize: defaultPoolSize, clock: clock.Real()}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logger.Named("offlinequeue")
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    q.poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("offlinequeue: opening %s: %w", path, err)
	}
	q.pool = pool

	err = q.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	})
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("offlinequeue: schema: %w", err)
	}

	n, _ := q.Len(ctx)
	metrics.UpdateQueueLength(n)
	q.logger.Info(ctx, "offline queue opened", logger.String("path", path), logger.Int("pending", n))
	return q, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Close releases the pool. It is safe to call more than once.
func (q *SQLiteQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := q.pool.Close(); err != nil {
		return fmt.Errorf("offlinequeue: closing %s: %w", q.path, err)
	}
	return nil
}

func (q *SQLiteQueue) withConn(ctx context.Context, fn func(*sqlite.Conn) error) error {
	if q.closed.Load() {
		return ErrClosed
	}
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("offlinequeue: take: %w", err)
	}
	defer q.pool.Put(conn)
	return fn(conn)
}

func (q *SQLiteQueue) publishLen(ctx context.Context) {
	if n, err := q.Len(ctx); err == nil {
		metrics.UpdateQueueLength(n)
	}
}

// Enqueue persists a new action and returns it.
func (q *SQLiteQueue) Enqueue(ctx context.Context, kind model.ActionKind, payload []byte) (model.QueuedAction, error) {
	if !kind.Valid() {
		return model.QueuedAction{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("offlinequeue: id: %w", err)
	}
	if payload == nil {
		payload = []byte{}
	}
	a := model.QueuedAction{
		ID:        id.String(),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.UnixMilli(q.clock.Now().UnixMilli()).UTC(),
	}
	err = q.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO action_queue (id, kind, payload, created_at, retry_count) VALUES (?, ?, ?, ?, 0)`,
			&sqlitex.ExecOptions{Args: []any{a.ID, string(a.Kind), a.Payload, a.CreatedAt.UnixMilli()}})
	})
	if err != nil {
		return model.QueuedAction{}, fmt.Errorf("offlinequeue: enqueue: %w", err)
	}
	q.publishLen(ctx)
	q.logger.Debug(ctx, "action queued", logger.String("id", a.ID), logger.String("kind", string(a.Kind)))
	return a, nil
}

// EnqueueRegistration queues a registration intent.
func (q *SQLiteQueue) EnqueueRegistration(ctx context.Context, intent model.RegistrationIntent) (model.QueuedAction, error) {
	payload, err := EncodeIntent(intent)
	if err != nil {
		return model.QueuedAction{}, err
	}
	return q.Enqueue(ctx, model.ActionRegisterEvent, payload)
}

func scanAction(stmt *sqlite.Stmt) model.QueuedAction {
	payload := make([]byte, stmt.ColumnLen(2))
	stmt.ColumnBytes(2, payload)
	return model.QueuedAction{
		ID:         stmt.ColumnText(0),
		Kind:       model.ActionKind(stmt.ColumnText(1)),
		Payload:    payload,
		CreatedAt:  time.UnixMilli(stmt.ColumnInt64(3)).UTC(),
		RetryCount: stmt.ColumnInt(4),
	}
}

func (q *SQLiteQueue) query(ctx context.Context, query string, args ...any) ([]model.QueuedAction, error) {
	out := []model.QueuedAction{}
	err := q.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, scanAction(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("offlinequeue: query: %w", err)
	}
	return out, nil
}

// List returns every queued action in creation order.
func (q *SQLiteQueue) List(ctx context.Context) ([]model.QueuedAction, error) {
	return q.query(ctx, selectColumns+` ORDER BY seq`)
}

// ListByKind returns queued actions of kind in creation order.
func (q *SQLiteQueue) ListByKind(ctx context.Context, kind model.ActionKind) ([]model.QueuedAction, error) {
	return q.query(ctx, selectColumns+` WHERE kind = ? ORDER BY seq`, string(kind))
}

// FirstOfKind returns the oldest queued action of kind, the one the next
// replay pass delivers first.
func (q *SQLiteQueue) FirstOfKind(ctx context.Context, kind model.ActionKind) (model.QueuedAction, error) {
	out, err := q.query(ctx, selectColumns+` WHERE kind = ? ORDER BY seq LIMIT 1`, string(kind))
	if err != nil {
		return model.QueuedAction{}, err
	}
	if len(out) == 0 {
		return model.QueuedAction{}, ErrNotFound
	}
	return out[0], nil
}

// PendingRegistration decodes the oldest queued registration intent, or
// returns ErrNotFound when none is queued.
func (q *SQLiteQueue) PendingRegistration(ctx context.Context) (model.RegistrationIntent, error) {
	a, err := q.FirstOfKind(ctx, model.ActionRegisterEvent)
	if err != nil {
		return model.RegistrationIntent{}, err
	}
	return DecodeRegistration(a)
}

// Get returns one action by id.
func (q *SQLiteQueue) Get(ctx context.Context, id string) (model.QueuedAction, error) {
	out, err := q.query(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return model.QueuedAction{}, err
	}
	if len(out) == 0 {
		return model.QueuedAction{}, ErrNotFound
	}
	return out[0], nil
}

// Update rewrites an action's payload and retry count.
func (q *SQLiteQueue) Update(ctx context.Context, a model.QueuedAction) error {
	var changed int
	err := q.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `UPDATE action_queue SET payload = ?, retry_count = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{a.Payload, a.RetryCount, a.ID}}); err != nil {
			return err
		}
		changed = conn.Changes()
		return nil
	})
	if err != nil {
		return fmt.Errorf("offlinequeue: update: %w", err)
	}
	if changed == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an action. Deleting a missing action is not an error.
func (q *SQLiteQueue) Delete(ctx context.Context, id string) error {
	err := q.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `DELETE FROM action_queue WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}})
	})
	if err != nil {
		return fmt.Errorf("offlinequeue: delete: %w", err)
	}
	q.publishLen(ctx)
	return nil
}

// Clear removes every action and returns how many there were.
func (q *SQLiteQueue) Clear(ctx context.Context) (int, error) {
	var n int
	err := q.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endFn(&err)
		if err = sqlitex.Execute(conn, `DELETE FROM action_queue`, nil); err != nil {
			return err
		}
		n = conn.Changes()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("offlinequeue: clear: %w", err)
	}
	metrics.UpdateQueueLength(0)
	return n, nil
}

// Len returns the number of queued actions.
func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT COUNT(*) FROM action_queue`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("offlinequeue: len: %w", err)
	}
	return n, nil
}
