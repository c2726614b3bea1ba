package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SubmissionStore persists submitted transactions and their outcomes.
type SubmissionStore interface {
	Create(ctx context.Context, sub Submission) error
	UpdateStatus(ctx context.Context, id string, status SubmissionStatus, blockNumber uint64, errMsg string) error
	GetByID(ctx context.Context, id string) (Submission, error)
	List(ctx context.Context, opts ListOpts) ([]Submission, error)
	ListBefore(ctx context.Context, before time.Time) ([]Submission, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
