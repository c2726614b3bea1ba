// Package pipeline runs scheduled data maintenance: moving old submissions
// and audit rows from the database to object storage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/notify"
)

// archiveLockKey serialises archive runs across replicas.
const archiveLockKey = "archive"

// ArchiveNotifier is told how each archive run went.
type ArchiveNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ArchiverConfig controls retention and locking.
type ArchiverConfig struct {
	RetentionDays int
	// LockTTL bounds how long a crashed run can hold the lock.
	LockTTL time.Duration
}

// Archiver moves rows older than the retention window to cold storage. Only
// one replica archives at a time.
type Archiver struct {
	blob     domain.Archiver
	locks    domain.LockManager
	cfg      ArchiverConfig
	notifier ArchiveNotifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiver creates an Archiver. notifier may be nil.
func NewArchiver(blob domain.Archiver, locks domain.LockManager, cfg ArchiverConfig, notifier ArchiveNotifier, logger *slog.Logger) *Archiver {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Archiver{
		blob:     blob,
		locks:    locks,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "archiver")),
		now:      time.Now,
	}
}

// Report summarises one archive run.
type Report struct {
	Cutoff      time.Time
	Submissions int64
	Audit       int64
	// Skipped is set when another replica held the lock.
	Skipped bool
}

// Run executes a single archive run against the retention cutoff.
func (a *Archiver) Run(ctx context.Context) (Report, error) {
	cutoff := a.now().UTC().Add(-time.Duration(a.cfg.RetentionDays) * 24 * time.Hour)
	rep := Report{Cutoff: cutoff}

	unlock, err := a.locks.Acquire(ctx, archiveLockKey, a.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		a.logger.InfoContext(ctx, "archive run skipped, another replica holds the lock")
		rep.Skipped = true
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("pipeline: archive lock: %w", err)
	}
	defer unlock()

	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.RetentionDays),
	)

	if rep.Submissions, err = a.blob.ArchiveSubmissions(ctx, cutoff); err != nil {
		a.report(ctx, rep, err)
		return rep, fmt.Errorf("pipeline: archiving submissions before %v: %w", cutoff, err)
	}
	if rep.Audit, err = a.blob.ArchiveAudit(ctx, cutoff); err != nil {
		a.report(ctx, rep, err)
		return rep, fmt.Errorf("pipeline: archiving audit before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("submissions_archived", rep.Submissions),
		slog.Int64("audit_archived", rep.Audit),
	)
	a.report(ctx, rep, nil)
	return rep, nil
}

func (a *Archiver) report(ctx context.Context, rep Report, runErr error) {
	if a.notifier == nil || (runErr == nil && rep.Submissions == 0 && rep.Audit == 0) {
		return
	}
	title := "archive complete"
	msg := fmt.Sprintf("cutoff: %s\nsubmissions: %d\naudit: %d", rep.Cutoff.Format(time.RFC3339), rep.Submissions, rep.Audit)
	if runErr != nil {
		title = "archive failed"
		msg += "\nerror: " + runErr.Error()
	}
	if err := a.notifier.Notify(ctx, notify.EventArchive, title, msg); err != nil {
		a.logger.WarnContext(ctx, "archive notification failed", slog.String("error", err.Error()))
	}
}

// RunCron runs the archiver on a six-field (seconds first) cron schedule
// until ctx is cancelled. A run in progress is allowed to finish.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(expr, func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("pipeline: parsing cron expression %q: %w", expr, err)
	}

	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", expr))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
