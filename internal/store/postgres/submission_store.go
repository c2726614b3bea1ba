package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// SubmissionStore implements domain.SubmissionStore.
type SubmissionStore struct {
	pool *pgxpool.Pool
}

var _ domain.SubmissionStore = (*SubmissionStore)(nil)

// NewSubmissionStore creates a SubmissionStore backed by pool.
func NewSubmissionStore(pool *pgxpool.Pool) *SubmissionStore {
	return &SubmissionStore{pool: pool}
}

const submissionCols = `id, action, target, sender, tx_hash, status, block_number,
	detail, error, created_at, updated_at`

// Create inserts a new submission. A duplicate transaction hash is reported
// as domain.ErrAlreadyExists.
func (s *SubmissionStore) Create(ctx context.Context, sub domain.Submission) error {
	detail, err := json.Marshal(sub.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal submission detail: %w", err)
	}
	created := sub.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	const query = `
		INSERT INTO submissions (` + submissionCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (tx_hash) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		sub.ID, string(sub.Action), sub.Target.Hex(), sub.Sender.Hex(), sub.TxHash.Hex(),
		string(sub.Status), int64(sub.BlockNumber), detail, sub.Error, created,
	)
	if err != nil {
		return fmt.Errorf("postgres: create submission %s: %w", sub.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: submission %s: %w", sub.TxHash.Hex(), domain.ErrAlreadyExists)
	}
	return nil
}

// UpdateStatus records the outcome of a submission.
func (s *SubmissionStore) UpdateStatus(ctx context.Context, id string, status domain.SubmissionStatus, blockNumber uint64, errMsg string) error {
	const query = `
		UPDATE submissions
		SET status = $1, block_number = $2, error = $3, updated_at = NOW()
		WHERE id = $4`
	tag, err := s.pool.Exec(ctx, query, string(status), int64(blockNumber), errMsg, id)
	if err != nil {
		return fmt.Errorf("postgres: update submission %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns domain.ErrNotFound for unknown ids.
func (s *SubmissionStore) GetByID(ctx context.Context, id string) (domain.Submission, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id = $1`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("postgres: get submission %s: %w", id, err)
	}
	return sub, nil
}

// List returns submissions newest first.
func (s *SubmissionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Submission, error) {
	query, args := listQuery(`SELECT `+submissionCols+` FROM submissions WHERE 1=1`, nil, opts)
	return s.query(ctx, "list submissions", query, args...)
}

// ListBefore returns every submission created before the cutoff, oldest
// first.
func (s *SubmissionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Submission, error) {
	return s.query(ctx, "list submissions before",
		`SELECT `+submissionCols+` FROM submissions WHERE created_at < $1 ORDER BY created_at ASC`, before)
}

// DeleteBefore removes finished submissions created before the cutoff.
// Pending rows stay so their outcome can still be recorded.
func (s *SubmissionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM submissions WHERE created_at < $1 AND status <> $2`,
		before, string(domain.SubmissionPending))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete submissions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *SubmissionStore) query(ctx context.Context, what, query string, args ...any) ([]domain.Submission, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	defer rows.Close()

	var out []domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", what, err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	return out, nil
}

func scanSubmission(row pgx.Row) (domain.Submission, error) {
	var (
		sub                    domain.Submission
		action, status         string
		target, sender, txHash string
		blockNumber            int64
		detail                 []byte
	)
	if err := row.Scan(&sub.ID, &action, &target, &sender, &txHash, &status, &blockNumber,
		&detail, &sub.Error, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return domain.Submission{}, err
	}
	sub.Action = domain.Action(action)
	sub.Status = domain.SubmissionStatus(status)
	sub.Target = common.HexToAddress(target)
	sub.Sender = common.HexToAddress(sender)
	sub.TxHash = common.HexToHash(txHash)
	sub.BlockNumber = uint64(blockNumber)
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &sub.Detail); err != nil {
			return domain.Submission{}, fmt.Errorf("unmarshal detail: %w", err)
		}
	}
	return sub, nil
}
