package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	queue       TEXT NOT NULL,
	body        BLOB NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	visible_at  INTEGER NOT NULL,
	lease_token TEXT,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_queue_visible ON messages(queue, visible_at);
`

// SQLiteQueue is a durable at-least-once queue backed by a SQLite table.
// Receiving a message pushes its visibility past the lease; acknowledging deletes it.
type SQLiteQueue struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteQueue opens (or creates) the queue database at path
func NewSQLiteQueue(path string) (*SQLiteQueue, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create queue dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite queue: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(messagesSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	return &SQLiteQueue{db: db, now: time.Now}, nil
}

// Close closes the database
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

// Send inserts m, immediately visible
func (q *SQLiteQueue) Send(ctx context.Context, queue string, m Message) error {
	body, err := Encode(m)
	if err != nil {
		return err
	}
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := q.now().UnixNano()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO messages (id, queue, body, visible_at, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, queue, body, now, now)
	if err != nil {
		return fmt.Errorf("send to %s: %w", queue, err)
	}
	return nil
}

// Receive leases up to max visible messages in send order
func (q *SQLiteQueue) Receive(ctx context.Context, queue string, max int, lease time.Duration) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	now := q.now()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin receive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, body, attempts FROM messages
		 WHERE queue = ? AND visible_at <= ?
		 ORDER BY created_at, rowid LIMIT ?`,
		queue, now.UnixNano(), max)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", queue, err)
	}

	type leased struct {
		id       string
		body     []byte
		attempts int
	}
	var batch []leased
	for rows.Next() {
		var l leased
		if err := rows.Scan(&l.id, &l.body, &l.attempts); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		batch = append(batch, l)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	visibleAt := now.Add(lease).UnixNano()
	out := make([]Delivery, 0, len(batch))
	for _, l := range batch {
		token := uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET attempts = attempts + 1, visible_at = ?, lease_token = ? WHERE id = ?`,
			visibleAt, token, l.id); err != nil {
			return nil, fmt.Errorf("lease %s: %w", l.id, err)
		}
		d := Delivery{Receipt: token, Attempt: l.attempts + 1}
		d.Message, d.Err = Decode(l.body)
		d.Message.Attempt = d.Attempt
		out = append(out, d)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit receive: %w", err)
	}
	return out, nil
}

// Ack deletes the message leased under receipt
func (q *SQLiteQueue) Ack(ctx context.Context, queue string, receipt string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM messages WHERE queue = ? AND lease_token = ?`, queue, receipt)
	if err != nil {
		return fmt.Errorf("ack %s: %w", queue, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ack %s: unknown or expired receipt", queue)
	}
	return nil
}

// Depth returns the number of messages in queue, leased or not
func (q *SQLiteQueue) Depth(ctx context.Context, queue string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE queue = ?`, queue).Scan(&n)
	return n, err
}
