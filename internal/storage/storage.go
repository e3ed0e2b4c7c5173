package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/speechprep/internal/config"
	"github.com/snarg/speechprep/internal/session"
)

// SessionBackend is a local session backend that owns resources.
type SessionBackend interface {
	session.Backend
	Close() error
}

// NewSessionBackend creates the local session backend selected by
// SESSION_BACKEND. Returns an error if S3 is configured but unreachable.
func NewSessionBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (SessionBackend, error) {
	switch cfg.SessionBackend {
	case "s3":
		s3store, err := NewS3SessionStore(ctx, cfg.S3, log)
		if err != nil {
			return nil, fmt.Errorf("S3 init failed: %w", err)
		}

		// Startup validation: verify credentials and bucket access
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s3store.HeadBucket(checkCtx); err != nil {
			return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
				cfg.S3.Bucket, cfg.S3.Endpoint, err)
		}
		log.Info().Str("bucket", cfg.S3.Bucket).Str("endpoint", cfg.S3.Endpoint).Msg("S3 connection verified")
		return s3store, nil

	default:
		b, err := session.OpenSQLite(ctx, cfg.SessionDBPath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SessionDBPath).Msg("sqlite session store opened")
		return b, nil
	}
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
