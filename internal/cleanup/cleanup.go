// Package cleanup removes aged artifacts (orphaned work dirs, expired
// videos) on a cron schedule. Sweep failures are logged, never escalated.
package cleanup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically sweeps the configured directories, deleting entries
// whose modification time is older than the TTL.
type Janitor struct {
	dirs   []string
	ttl    time.Duration
	every  time.Duration
	cron   *cron.Cron
	logger *slog.Logger
}

// NewJanitor creates a Janitor sweeping dirs every `every`, removing
// entries older than ttl.
func NewJanitor(dirs []string, ttl, every time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		dirs:   dirs,
		ttl:    ttl,
		every:  every,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start schedules the sweep and launches the cron scheduler.
func (j *Janitor) Start() error {
	spec := fmt.Sprintf("@every %s", j.every)
	if _, err := j.cron.AddFunc(spec, func() {
		removed := j.Sweep()
		if removed > 0 {
			j.logger.Info("cleanup sweep finished", slog.Int("removed", removed))
		}
	}); err != nil {
		return fmt.Errorf("cleanup: schedule sweep: %w", err)
	}
	j.cron.Start()
	j.logger.Info("cleanup janitor started",
		slog.Duration("ttl", j.ttl),
		slog.Duration("every", j.every),
	)
	return nil
}

// Stop halts the scheduler. A sweep already in flight runs to completion.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep removes aged entries from all configured directories and returns
// how many were removed.
func (j *Janitor) Sweep() int {
	cutoff := time.Now().Add(-j.ttl)
	removed := 0
	for _, dir := range j.dirs {
		removed += j.sweepDir(dir, cutoff)
	}
	return removed
}

// sweepDir removes top-level entries of dir older than cutoff. Work dirs
// are removed recursively.
func (j *Janitor) sweepDir(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		j.logger.Warn("cleanup read dir failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("cleanup remove failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}
	return removed
}
