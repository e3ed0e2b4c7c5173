package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/speechprep/internal/metrics"
)

// TempSweeper removes recordings left in the temp directory by requests that
// never reached their cleanup, e.g. after a crash. Only names TempStore.Save
// produces are touched; other files in the directory are left alone.
type TempSweeper struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
}

// NewTempSweeper creates a sweeper deleting files older than retention.
func NewTempSweeper(dir string, retention time.Duration, log zerolog.Logger) *TempSweeper {
	interval := retention / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	return &TempSweeper{
		dir:       dir,
		retention: retention,
		interval:  interval,
		log:       log.With().Str("component", "temp-sweeper").Logger(),
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

func (p *TempSweeper) Start() {
	go p.loop()
}

func (p *TempSweeper) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *TempSweeper) loop() {
	// Run once on startup to clear anything left from the previous process
	p.sweep()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stop:
			return
		}
	}
}

// sweep returns the number of files removed.
func (p *TempSweeper) sweep() int {
	if p.retention <= 0 {
		return 0
	}

	cutoff := p.now().Add(-p.retention)
	var removed int
	var freed int64

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.Warn().Err(err).Str("dir", p.dir).Msg("temp sweep failed")
		}
		return 0
	}
	for _, e := range entries {
		if e.IsDir() || !isTempName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(p.dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.log.Warn().Err(err).Str("path", path).Msg("failed to remove orphaned temp file")
			continue
		}
		removed++
		freed += info.Size()
	}

	if removed > 0 {
		metrics.TempFilesSweptTotal.Add(float64(removed))
		p.log.Info().
			Int("removed", removed).
			Str("freed", humanizeBytes(freed)).
			Msg("orphaned temp files removed")
	}
	return removed
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
