package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

type fakeBlob struct {
	subsBefore  time.Time
	auditBefore time.Time
	subs, audit int64
	err         error
}

func (f *fakeBlob) ArchiveSubmissions(_ context.Context, before time.Time) (int64, error) {
	f.subsBefore = before
	return f.subs, f.err
}

func (f *fakeBlob) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	f.auditBefore = before
	return f.audit, nil
}

type fakeLocks struct {
	held     bool
	acquired int
	released int
	ttl      time.Duration
}

func (l *fakeLocks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	if l.held {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}
	l.acquired++
	l.ttl = ttl
	return func() { l.released++ }, nil
}

type fakeNotifier struct{ titles []string }

func (n *fakeNotifier) Notify(_ context.Context, _, title, _ string) error {
	n.titles = append(n.titles, title)
	return nil
}

var now = time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

func newTestArchiver(blob *fakeBlob, locks *fakeLocks, n *fakeNotifier) *Archiver {
	a := NewArchiver(blob, locks, ArchiverConfig{RetentionDays: 30}, n, slog.New(slog.DiscardHandler))
	a.now = func() time.Time { return now }
	return a
}

func TestArchiverRun(t *testing.T) {
	blob := &fakeBlob{subs: 4, audit: 9}
	locks := &fakeLocks{}
	n := &fakeNotifier{}

	rep, err := newTestArchiver(blob, locks, n).Run(context.Background())
	require.NoError(t, err)
	cutoff := now.Add(-30 * 24 * time.Hour)
	assert.Equal(t, Report{Cutoff: cutoff, Submissions: 4, Audit: 9}, rep)
	assert.Equal(t, cutoff, blob.subsBefore)
	assert.Equal(t, cutoff, blob.auditBefore)
	assert.Equal(t, 1, locks.acquired)
	assert.Equal(t, 1, locks.released)
	assert.Equal(t, 30*time.Minute, locks.ttl)
	assert.Equal(t, []string{"archive complete"}, n.titles)
}

func TestArchiverSkipsWhenLockHeld(t *testing.T) {
	blob := &fakeBlob{}
	rep, err := newTestArchiver(blob, &fakeLocks{held: true}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.True(t, blob.subsBefore.IsZero())
}

func TestArchiverFailureReleasesLockAndNotifies(t *testing.T) {
	blob := &fakeBlob{err: errors.New("s3 down")}
	locks := &fakeLocks{}
	n := &fakeNotifier{}

	_, err := newTestArchiver(blob, locks, n).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 down")
	assert.Equal(t, 1, locks.released)
	assert.Equal(t, []string{"archive failed"}, n.titles)
	assert.True(t, blob.auditBefore.IsZero())
}

func TestArchiverQuietRunDoesNotNotify(t *testing.T) {
	n := &fakeNotifier{}
	_, err := newTestArchiver(&fakeBlob{}, &fakeLocks{}, n).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, n.titles)
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	a := newTestArchiver(&fakeBlob{}, &fakeLocks{}, nil)
	err := a.RunCron(context.Background(), "0 3 * *")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing cron expression")
}

func TestRunCronStopsOnCancel(t *testing.T) {
	a := newTestArchiver(&fakeBlob{}, &fakeLocks{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, "0 0 3 * * *") }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunCron did not stop")
	}
}
