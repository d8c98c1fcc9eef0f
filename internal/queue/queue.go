// Package queue implements the durable retry store between the Transcriber
// and the Sender.
//
// Grounded on the schema and retry semantics of the python reference
// implementation's src/queue.py (single SQLite table, status/next_retry
// indexes, exponential backoff), adapted to database/sql over
// modernc.org/sqlite and a single-mutex-serialized API per component.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/xid"
	_ "modernc.org/sqlite"

	"github.com/marvinmvns/whisperlisten-go/internal/apperr"
)

// Status is one queue_items lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusSending         Status = "sending"
	StatusSent            Status = "sent"
	StatusFailedPermanent Status = "failed_permanent"
)

// Item is one transcript queued for delivery to the remote API.
type Item struct {
	ID                  string
	Text                string
	FilePath            string
	TranscriptTimestamp time.Time
	Status              Status
	Attempts            int
	LastAttempt         *time.Time
	LastError           string
	NextRetry           *time.Time
	CreatedAt           time.Time
	SentAt              *time.Time
	Response            string
}

// Record is the caller-supplied payload for Add.
type Record struct {
	Text                string
	FilePath            string
	TranscriptTimestamp time.Time
}

// Stats counts queue items per status.
type Stats struct {
	Pending         int
	Sending         int
	Sent            int
	FailedPermanent int
}

// Config controls retry scheduling.
type Config struct {
	MaxRetries            int
	BaseRetryDelaySeconds int
	MaxRetryDelaySeconds  int
}

// Queue is the durable SQLite-backed retry store. All public methods are
// single critical sections serialized by mu (Go's sync.Mutex is not
// reentrant, so no method ever calls another locking method internally).
type Queue struct {
	db  *sql.DB
	cfg Config
	mu  sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS queue_items (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	file_path TEXT NOT NULL,
	transcript_timestamp TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	last_attempt TEXT,
	last_error TEXT,
	next_retry TEXT,
	created_at TEXT NOT NULL,
	sent_at TEXT,
	response TEXT
);
CREATE INDEX IF NOT EXISTS idx_queue_items_status ON queue_items(status);
CREATE INDEX IF NOT EXISTS idx_queue_items_next_retry ON queue_items(next_retry);
`

// Open creates/migrates the SQLite store at path and resets any orphaned
// "sending" items to "pending" (unconditional startup sweep, per the
// adopted no-grace-window decision).
func Open(path string, cfg Config) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.New(apperr.KindQueue, "open queue store", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperr.New(apperr.KindQueue, "migrate queue schema", err)
	}

	q := &Queue{db: db, cfg: cfg}
	if err := q.recoverOrphanedSends(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

// Close releases the underlying database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}

// recoverOrphanedSends resets any item left in "sending" (a prior process
// crashed mid-dispatch) back to "pending".
func (q *Queue) recoverOrphanedSends() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.db.Exec(`UPDATE queue_items SET status = ? WHERE status = ?`, StatusPending, StatusSending)
	if err != nil {
		return apperr.New(apperr.KindQueue, "recover orphaned sends", err)
	}
	return nil
}

// Add inserts rec as a new pending item with attempts=0.
func (q *Queue) Add(rec Record) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	item := Item{
		ID:                  xid.New().String(),
		Text:                rec.Text,
		FilePath:            rec.FilePath,
		TranscriptTimestamp: rec.TranscriptTimestamp,
		Status:              StatusPending,
		Attempts:            0,
		CreatedAt:           now,
	}

	_, err := q.db.Exec(`
		INSERT INTO queue_items (id, text, file_path, transcript_timestamp, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Text, item.FilePath, formatTime(item.TranscriptTimestamp), item.Status, item.Attempts, formatTime(item.CreatedAt),
	)
	if err != nil {
		return Item{}, apperr.New(apperr.KindQueue, "add item", err)
	}
	return item, nil
}

// NextPending returns the oldest pending item with next_retry <= now, or
// (Item{}, false) if none is eligible. Used for first-attempt dispatch.
func (q *Queue) NextPending() (Item, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	row := q.db.QueryRow(`
		SELECT `+selectColumns+` FROM queue_items
		WHERE status = ? AND (next_retry IS NULL OR next_retry <= ?)
		ORDER BY created_at ASC LIMIT 1`,
		StatusPending, formatTime(time.Now().UTC()),
	)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, apperr.New(apperr.KindQueue, "next pending", err)
	}
	return item, true, nil
}

// Retryable returns all pending items with attempts in (0, max_retries) and
// next_retry <= now, ordered by created_at ascending.
func (q *Queue) Retryable() ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.Query(`
		SELECT `+selectColumns+` FROM queue_items
		WHERE status = ? AND attempts > 0 AND attempts < ? AND next_retry IS NOT NULL AND next_retry <= ?
		ORDER BY created_at ASC`,
		StatusPending, q.cfg.MaxRetries, formatTime(time.Now().UTC()),
	)
	if err != nil {
		return nil, apperr.New(apperr.KindQueue, "retryable", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanRows(rows)
		if err != nil {
			return nil, apperr.New(apperr.KindQueue, "retryable scan", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Pending returns up to limit pending items (regardless of attempt state),
// ordered by created_at ascending, for the `queue` CLI subcommand's
// pending-items view.
func (q *Queue) Pending(limit int) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.Query(`
		SELECT `+selectColumns+` FROM queue_items
		WHERE status = ?
		ORDER BY created_at ASC LIMIT ?`,
		StatusPending, limit,
	)
	if err != nil {
		return nil, apperr.New(apperr.KindQueue, "pending list", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanRows(rows)
		if err != nil {
			return nil, apperr.New(apperr.KindQueue, "pending list scan", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// List returns up to limit items across all statuses, ordered by
// created_at descending (most recent first), for the `queue` CLI
// subcommand's recent-activity view.
func (q *Queue) List(limit int) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.Query(`
		SELECT `+selectColumns+` FROM queue_items
		ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, apperr.New(apperr.KindQueue, "list", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanRows(rows)
		if err != nil {
			return nil, apperr.New(apperr.KindQueue, "list scan", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkSending transitions id from pending to sending, incrementing attempts
// and stamping last_attempt. Rejects items not currently pending.
func (q *Queue) MarkSending(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := formatTime(time.Now().UTC())
	result, err := q.db.Exec(`
		UPDATE queue_items SET status = ?, attempts = attempts + 1, last_attempt = ?
		WHERE id = ? AND status = ?`,
		StatusSending, now, id, StatusPending,
	)
	if err != nil {
		return apperr.New(apperr.KindQueue, "mark sending", err)
	}
	return requireRowsAffected(result, "mark sending", id)
}

// MarkSent transitions id to sent, recording sent_at and the raw response.
func (q *Queue) MarkSent(id string, response string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := formatTime(time.Now().UTC())
	result, err := q.db.Exec(`
		UPDATE queue_items SET status = ?, sent_at = ?, response = ? WHERE id = ?`,
		StatusSent, now, response, id,
	)
	if err != nil {
		return apperr.New(apperr.KindQueue, "mark sent", err)
	}
	return requireRowsAffected(result, "mark sent", id)
}

// MarkFailed records errMsg, computes the next backoff deadline, and
// transitions back to pending (or failed_permanent once attempts reaches
// max_retries).
func (q *Queue) MarkFailed(id string, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var attempts int
	if err := q.db.QueryRow(`SELECT attempts FROM queue_items WHERE id = ?`, id).Scan(&attempts); err != nil {
		if err == sql.ErrNoRows {
			return apperr.New(apperr.KindQueue, "mark failed", fmt.Errorf("item %q not found", id))
		}
		return apperr.New(apperr.KindQueue, "mark failed", err)
	}

	if attempts >= q.cfg.MaxRetries {
		_, err := q.db.Exec(`UPDATE queue_items SET status = ?, last_error = ? WHERE id = ?`,
			StatusFailedPermanent, errMsg, id)
		if err != nil {
			return apperr.New(apperr.KindQueue, "mark failed (permanent)", err)
		}
		return nil
	}

	delay := BackoffDelay(attempts, q.cfg.BaseRetryDelaySeconds, q.cfg.MaxRetryDelaySeconds)
	nextRetry := time.Now().UTC().Add(delay)

	_, err := q.db.Exec(`
		UPDATE queue_items SET status = ?, last_error = ?, next_retry = ? WHERE id = ?`,
		StatusPending, errMsg, formatTime(nextRetry), id,
	)
	if err != nil {
		return apperr.New(apperr.KindQueue, "mark failed", err)
	}
	return nil
}

// MarkPermanentFailure sets id directly to failed_permanent, bypassing the
// backoff schedule. Used by the Sender's 4xx-classification path.
func (q *Queue) MarkPermanentFailure(id string, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	result, err := q.db.Exec(`UPDATE queue_items SET status = ?, last_error = ? WHERE id = ?`,
		StatusFailedPermanent, errMsg, id)
	if err != nil {
		return apperr.New(apperr.KindQueue, "mark permanent failure", err)
	}
	return requireRowsAffected(result, "mark permanent failure", id)
}

// ResetAttempts forces id back to pending with attempts=0, clearing
// last_error/next_retry, backing the Sender's Retry(id) operation.
func (q *Queue) ResetAttempts(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	result, err := q.db.Exec(`
		UPDATE queue_items SET status = ?, attempts = 0, last_error = NULL, next_retry = NULL WHERE id = ?`,
		StatusPending, id,
	)
	if err != nil {
		return apperr.New(apperr.KindQueue, "reset attempts", err)
	}
	return requireRowsAffected(result, "reset attempts", id)
}

// GetStats counts items per status.
func (q *Queue) GetStats() (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.Query(`SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return Stats{}, apperr.New(apperr.KindQueue, "stats", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, apperr.New(apperr.KindQueue, "stats scan", err)
		}
		switch Status(status) {
		case StatusPending:
			s.Pending = count
		case StatusSending:
			s.Sending = count
		case StatusSent:
			s.Sent = count
		case StatusFailedPermanent:
			s.FailedPermanent = count
		}
	}
	return s, rows.Err()
}

// Cleanup deletes sent items with sent_at older than now-days, returning
// the count removed.
func (q *Queue) Cleanup(days int) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	result, err := q.db.Exec(`DELETE FROM queue_items WHERE status = ? AND sent_at IS NOT NULL AND sent_at < ?`,
		StatusSent, formatTime(cutoff))
	if err != nil {
		return 0, apperr.New(apperr.KindQueue, "cleanup", err)
	}
	return result.RowsAffected()
}

// Get fetches a single item by id.
func (q *Queue) Get(id string) (Item, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	row := q.db.QueryRow(`SELECT `+selectColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, apperr.New(apperr.KindQueue, "get item", err)
	}
	return item, true, nil
}

// Ping verifies the database connection is alive, for health checks.
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// BackoffDelay computes delay(n) = min(base * 2^(n-1), max) for the n-th
// attempt (n >= 1).
func BackoffDelay(attempts int, baseSeconds int, maxSeconds int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delaySeconds := float64(baseSeconds) * math.Pow(2, float64(attempts-1))
	if delaySeconds > float64(maxSeconds) {
		delaySeconds = float64(maxSeconds)
	}
	return time.Duration(delaySeconds * float64(time.Second))
}

func requireRowsAffected(result sql.Result, op string, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.New(apperr.KindQueue, op, err)
	}
	if n == 0 {
		return apperr.New(apperr.KindQueue, op, fmt.Errorf("item %q not eligible or not found", id))
	}
	return nil
}

// timeLayout is fixed-width (nanoseconds always present) so that stored
// timestamps compare correctly as text in ORDER BY and next_retry checks.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseOptionalTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const selectColumns = `id, text, file_path, transcript_timestamp, status, attempts, last_attempt, last_error, next_retry, created_at, sent_at, response`

// rowScanner abstracts *sql.Row and *sql.Rows for scanItem/scanRows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	return scanRow(row)
}

func scanRows(rows *sql.Rows) (Item, error) {
	return scanRow(rows)
}

func scanRow(row rowScanner) (Item, error) {
	var (
		item                Item
		transcriptTimestamp string
		createdAt           string
		lastAttempt         sql.NullString
		lastError           sql.NullString
		nextRetry           sql.NullString
		sentAt              sql.NullString
		response            sql.NullString
	)

	if err := row.Scan(
		&item.ID, &item.Text, &item.FilePath, &transcriptTimestamp, &item.Status, &item.Attempts,
		&lastAttempt, &lastError, &nextRetry, &createdAt, &sentAt, &response,
	); err != nil {
		return Item{}, err
	}

	var err error
	if item.TranscriptTimestamp, err = parseTime(transcriptTimestamp); err != nil {
		return Item{}, fmt.Errorf("parse transcript_timestamp: %w", err)
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return Item{}, fmt.Errorf("parse created_at: %w", err)
	}
	if item.LastAttempt, err = parseOptionalTime(lastAttempt); err != nil {
		return Item{}, fmt.Errorf("parse last_attempt: %w", err)
	}
	if item.NextRetry, err = parseOptionalTime(nextRetry); err != nil {
		return Item{}, fmt.Errorf("parse next_retry: %w", err)
	}
	if item.SentAt, err = parseOptionalTime(sentAt); err != nil {
		return Item{}, fmt.Errorf("parse sent_at: %w", err)
	}
	item.LastError = lastError.String
	item.Response = response.String
	return item, nil
}
