package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/speechprep/internal/metrics"
)

// Store is the write boundary for session records. Signed-in users go to the
// hosted backend when one is configured; guests, and any hosted failure, use
// the local backend. The retention cap is applied after every insert no
// matter which backend took the write.
type Store struct {
	local  Backend
	hosted Backend // nil when no hosted store is configured
	limit  int
	log    zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewStore creates a store. hosted may be nil. limit <= 0 uses DefaultLimit.
func NewStore(local, hosted Backend, limit int, log zerolog.Logger) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		local:  local,
		hosted: hosted,
		limit:  limit,
		log:    log.With().Str("component", "sessions").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Limit returns the per-identity retention cap.
func (s *Store) Limit() int { return s.limit }

// Save assigns an id and timestamp to rec, stores it, and evicts the oldest
// records beyond the cap.
func (s *Store) Save(ctx context.Context, id Identity, rec Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	rec.ID = s.newID()
	rec.CreatedAt = s.now().UTC()
	rec.Feedback.Checks.KeepOnly(rec.Mode)

	for _, b := range s.route(id) {
		key := s.keyFor(b, id)
		if err := b.Insert(ctx, key, rec); err != nil {
			metrics.SessionWritesTotal.WithLabelValues(b.Name(), "error").Inc()
			s.log.Warn().Err(err).Str("backend", b.Name()).Str("identity", key).Msg("session insert failed")
			continue
		}
		metrics.SessionWritesTotal.WithLabelValues(b.Name(), "ok").Inc()

		removed, err := b.Prune(ctx, key, s.limit)
		if err != nil {
			s.log.Warn().Err(err).Str("backend", b.Name()).Str("identity", key).Msg("session prune failed")
		} else if removed > 0 {
			s.log.Debug().Int("removed", removed).Str("backend", b.Name()).Str("identity", key).Msg("evicted old sessions")
		}
		return &rec, nil
	}
	return nil, fmt.Errorf("save session for %s: no backend accepted the write", id.Key())
}

// List returns the identity's records, most recent first, at most Limit.
func (s *Store) List(ctx context.Context, id Identity) ([]Record, error) {
	var lastErr error
	for _, b := range s.route(id) {
		key := s.keyFor(b, id)
		recs, err := b.List(ctx, key, s.limit)
		if err != nil {
			lastErr = err
			s.log.Warn().Err(err).Str("backend", b.Name()).Str("identity", key).Msg("session list failed")
			continue
		}
		if recs == nil {
			recs = []Record{}
		}
		return recs, nil
	}
	return nil, fmt.Errorf("list sessions for %s: %w", id.Key(), lastErr)
}

func (s *Store) keyFor(b Backend, id Identity) string {
	if s.hosted != nil && b == s.hosted {
		return id.Key()
	}
	return id.LocalKey()
}

// route returns backends in the order they should be tried.
func (s *Store) route(id Identity) []Backend {
	if id.Authenticated() && s.hosted != nil {
		return []Backend{s.hosted, s.local}
	}
	return []Backend{s.local}
}
