package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/snarg/speechprep/internal/feedback"
	"github.com/snarg/speechprep/internal/session"
)

// Name implements session.Backend.
func (db *DB) Name() string { return "postgres" }

// Insert stores one session row. key is the user id.
func (db *DB) Insert(ctx context.Context, key string, rec session.Record) error {
	fb, err := json.Marshal(rec.Feedback)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, created_at, mode, transcript, feedback,
			script, script_tone, topic, time_limit_seconds, elapsed_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, $11)
	`, rec.ID, key, rec.CreatedAt, string(rec.Mode), rec.Transcript, fb,
		rec.Script, rec.ScriptTone, rec.Topic, rec.TimeLimitSeconds, rec.ElapsedSeconds)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// List returns the user's most recent sessions.
func (db *DB) List(ctx context.Context, key string, limit int) ([]session.Record, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id::text, created_at, mode, transcript, feedback,
			COALESCE(script, ''), COALESCE(script_tone, ''), COALESCE(topic, ''),
			time_limit_seconds, elapsed_seconds
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var recs []session.Record
	for rows.Next() {
		var r session.Record
		var mode string
		var fb []byte
		if err := rows.Scan(&r.ID, &r.CreatedAt, &mode, &r.Transcript, &fb,
			&r.Script, &r.ScriptTone, &r.Topic, &r.TimeLimitSeconds, &r.ElapsedSeconds); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.Mode = feedback.Mode(mode)
		r.Feedback = &feedback.Feedback{}
		if err := json.Unmarshal(fb, r.Feedback); err != nil {
			return nil, fmt.Errorf("decode feedback for session %s: %w", r.ID, err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Prune deletes all but the keep most recent sessions for the user.
func (db *DB) Prune(ctx context.Context, key string, keep int) (int, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM sessions
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM sessions
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)
	`, key, keep)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
