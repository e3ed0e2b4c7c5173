package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/snarg/speechprep/internal/feedback"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                 TEXT PRIMARY KEY,
	identity           TEXT NOT NULL,
	created_at         INTEGER NOT NULL,
	mode               TEXT NOT NULL,
	transcript         TEXT NOT NULL,
	feedback           TEXT NOT NULL,
	script             TEXT,
	script_tone        TEXT,
	topic              TEXT,
	time_limit_seconds REAL,
	elapsed_seconds    REAL
);
CREATE INDEX IF NOT EXISTS sessions_identity_created ON sessions (identity, created_at DESC);
`

// SQLiteBackend keeps sessions in a local SQLite file. It serves guests and
// is the fallback when the hosted store is unavailable.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

// Ping checks that the database is reachable.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Insert(ctx context.Context, key string, rec Record) error {
	fb, err := json.Marshal(rec.Feedback)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO sessions (id, identity, created_at, mode, transcript, feedback,
			script, script_tone, topic, time_limit_seconds, elapsed_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, key, rec.CreatedAt.UnixNano(), string(rec.Mode), rec.Transcript, string(fb),
		nullString(rec.Script), nullString(rec.ScriptTone), nullString(rec.Topic),
		nullFloat(rec.TimeLimitSeconds), nullFloat(rec.ElapsedSeconds))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) List(ctx context.Context, key string, limit int) ([]Record, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, created_at, mode, transcript, feedback,
			script, script_tone, topic, time_limit_seconds, elapsed_seconds
		FROM sessions
		WHERE identity = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var (
			r                   Record
			createdAt           int64
			mode, fb            string
			script, tone, topic sql.NullString
			timeLimit, elapsed  sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &createdAt, &mode, &r.Transcript, &fb,
			&script, &tone, &topic, &timeLimit, &elapsed); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		r.Mode = feedback.Mode(mode)
		r.Feedback = &feedback.Feedback{}
		if err := json.Unmarshal([]byte(fb), r.Feedback); err != nil {
			return nil, fmt.Errorf("decode feedback for session %s: %w", r.ID, err)
		}
		r.Script, r.ScriptTone, r.Topic = script.String, tone.String, topic.String
		r.TimeLimitSeconds = floatPtr(timeLimit)
		r.ElapsedSeconds = floatPtr(elapsed)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (b *SQLiteBackend) Prune(ctx context.Context, key string, keep int) (int, error) {
	res, err := b.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE identity = ? AND id NOT IN (
			SELECT id FROM sessions
			WHERE identity = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		)
	`, key, key, keep)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return int(n), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
