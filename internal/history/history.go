package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// SQLite driver registration.
	_ "github.com/mattn/go-sqlite3"

	"github.com/u3640877/transitive/internal/datacache"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

// Entry is one recorded change.
type Entry struct {
	ID        int64
	Topic     string
	Value     any
	External  bool
	CreatedAt time.Time
}

// Recorder appends cache changes to a SQLite database.
//
// Thread Safety: all methods are safe for concurrent use; SQLite access
// is serialized by database/sql.
type Recorder struct {
	db *sql.DB
}

// Open creates or opens the history database and ensures the schema.
//
// Parameters:
//   - path: SQLite database file path
//
// Returns:
//   - *Recorder: Recorder ready for use
//   - error: If the database cannot be opened or initialised
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		value TEXT,
		external INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	);
	CREATE INDEX IF NOT EXISTS idx_changes_topic ON changes(topic);
	CREATE INDEX IF NOT EXISTS idx_changes_created_at ON changes(created_at);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising history schema: %w", err)
	}

	return &Recorder{db: db}, nil
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// Attach subscribes the recorder to a cache. Every flat change is
// appended; recording failures are reported through onError and never
// interrupt the cache's listener chain.
func (r *Recorder) Attach(cache *datacache.Cache, onError func(err error)) datacache.ListenerID {
	return cache.Subscribe(func(changes datacache.ChangeSet, tags datacache.Tags) {
		for _, ch := range changes {
			if err := r.Record(context.Background(), ch.Topic, ch.Value, tags.External()); err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
		}
	})
}

// Record inserts one change row.
func (r *Recorder) Record(ctx context.Context, topic string, value any, external bool) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	var valueJSON sql.NullString
	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshalling value: %w", err)
		}
		valueJSON = sql.NullString{String: string(data), Valid: true}
	}

	ext := 0
	if external {
		ext = 1
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO changes (topic, value, external) VALUES (?, ?, ?)",
		topic, valueJSON, ext,
	)
	if err != nil {
		return fmt.Errorf("inserting change: %w", err)
	}

	return nil
}

// Query returns recent changes for a topic, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - topic: Exact topic to query
//   - limit: Maximum entries to return (default 50, max 200)
func (r *Recorder) Query(ctx context.Context, topic string, limit int) ([]Entry, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, topic, value, external, created_at
		 FROM changes
		 WHERE topic = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		topic, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying changes: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var valueJSON sql.NullString
		var ext int
		var createdAt string

		if err := rows.Scan(&e.ID, &e.Topic, &valueJSON, &ext, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning change: %w", err)
		}

		if valueJSON.Valid {
			if err := json.Unmarshal([]byte(valueJSON.String), &e.Value); err != nil {
				return nil, fmt.Errorf("unmarshalling value: %w", err)
			}
		}
		e.External = ext != 0

		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = ts

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating changes: %w", err)
	}

	return entries, nil
}

// Prune deletes entries older than the given duration.
//
// Returns the number of rows deleted.
func (r *Recorder) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM changes WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting changes: %w", err)
	}

	return result.RowsAffected()
}

// parseTimestamp parses a timestamp stored by SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	ts, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return ts, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
