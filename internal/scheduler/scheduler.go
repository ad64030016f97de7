// Package scheduler runs background maintenance for sparcd: daily pruning
// of the session journal.
package scheduler

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sparc-project/sparcd/internal/config"
	"github.com/sparc-project/sparcd/internal/db"
	"github.com/sparc-project/sparcd/internal/util"
)

// JournalStore is the part of the journal the scheduler maintains.
type JournalStore interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context) (db.JournalStats, error)
	Path() string
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     config.JournalConfig
	journal JournalStore
	now     func() time.Time
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg config.JournalConfig, journal JournalStore) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		journal: journal,
		now:     time.Now,
	}
}

// Start runs the scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.cfg.Enabled && s.journal != nil {
		go s.runPruneLoop(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runPruneLoop(ctx context.Context) {
	for {
		nextRun := NextRun(s.now(), s.cfg.CleanupTime)
		sleepDuration := nextRun.Sub(s.now())
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("journal pruning scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.RunOnce(ctx); err != nil {
				log.Warn().Err(err).Msg("journal pruning failed")
			}
		}
	}
}

// RunOnce prunes sessions older than the retention period and logs the
// remaining journal size.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	days := s.cfg.RetentionDays
	if days < 1 {
		days = 1
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	removed, err := s.journal.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	stats, err := s.journal.Stats(ctx)
	if err != nil {
		return removed, err
	}

	var size int64
	if info, err := os.Stat(s.journal.Path()); err == nil {
		size = info.Size()
	}

	log.Info().
		Int64("removed_sessions", removed).
		Int64("sessions", stats.Sessions).
		Int64("requests", stats.Requests).
		Str("size", util.FormatBytes(size)).
		Msg("journal pruning completed")
	return removed, nil
}

// NextRun returns the next occurrence of the HH:MM cleanup time after now.
// An unparsable time falls back to 04:00.
func NextRun(now time.Time, cleanupTime string) time.Time {
	hour, minute := 4, 0
	if t, err := time.Parse("15:04", cleanupTime); err == nil {
		hour, minute = t.Hour(), t.Minute()
	} else if cleanupTime != "" {
		log.Warn().Str("cleanup_time", cleanupTime).Msgf("invalid cleanup time, using %02d:%02d", hour, minute)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
