package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 16 * 1024 * 1024
)

// SubmissionArchiveStore is the part of the submission store the archiver
// drains.
type SubmissionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Submission, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver. Rows are uploaded as JSONL first and
// deleted from Postgres only after the upload succeeds.
type Archiver struct {
	writer      domain.BlobWriter
	reader      domain.BlobReader
	submissions SubmissionArchiveStore
	audit       domain.AuditStore
	logger      *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	submissions SubmissionArchiveStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:      writer,
		reader:      reader,
		submissions: submissions,
		audit:       audit,
		logger:      logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSubmissions moves finished submissions older than before to
// archive/submissions/. Pending submissions stay in the database until
// their outcome is known.
func (a *Archiver) ArchiveSubmissions(ctx context.Context, before time.Time) (int64, error) {
	subs, err := a.submissions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive submissions query: %w", err)
	}
	finished := subs[:0:0]
	for _, s := range subs {
		if s.Status != domain.SubmissionPending {
			finished = append(finished, s)
		}
	}
	if len(finished) == 0 {
		return 0, nil
	}

	path, err := upload(ctx, a, "submissions", before, finished)
	if err != nil {
		return 0, err
	}
	deleted, err := a.submissions.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive submissions delete: %w", err)
	}
	return deleted, a.record(ctx, "archive.submissions", path, deleted, before)
}

// ArchiveAudit moves audit entries older than before to archive/audit/.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	path, err := upload(ctx, a, "audit", before, entries)
	if err != nil {
		return 0, err
	}
	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit delete: %w", err)
	}
	return deleted, a.record(ctx, "archive.audit", path, deleted, before)
}

func (a *Archiver) record(ctx context.Context, event, path string, count int64, before time.Time) error {
	a.logger.InfoContext(ctx, "archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	if err := a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("s3blob: %s audit log: %w", event, err)
	}
	return nil
}

// upload refuses to overwrite an existing archive object.
func upload[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (string, error) {
	path := archivePath(kind, before)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if exists {
		return "", fmt.Errorf("s3blob: archive %s: %s: %w", kind, path, domain.ErrAlreadyExists)
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	return path, nil
}

// archivePath partitions archives by the UTC cutoff, for example
// archive/submissions/2026/10/16/000000.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006/01/02/150405"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
