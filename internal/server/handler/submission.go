package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// SubmissionReader reads recorded submissions.
type SubmissionReader interface {
	Submission(ctx context.Context, id string) (domain.Submission, error)
	Submissions(ctx context.Context, opts domain.ListOpts) ([]domain.Submission, error)
}

// SubmissionHandler serves the submission history.
type SubmissionHandler struct {
	svc    SubmissionReader
	logger *slog.Logger
}

// NewSubmissionHandler creates a SubmissionHandler.
func NewSubmissionHandler(svc SubmissionReader, logger *slog.Logger) *SubmissionHandler {
	return &SubmissionHandler{svc: svc, logger: logger}
}

// ListSubmissions returns submissions, newest first.
// GET /api/submissions?limit=&offset=&since=&until=
func (h *SubmissionHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	subs, err := h.svc.Submissions(r.Context(), opts)
	if err != nil {
		writeDomainError(w, h.logger, r, err, nil)
		return
	}
	if subs == nil {
		subs = []domain.Submission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"submissions": subs,
		"limit":       opts.Limit,
		"offset":      opts.Offset,
	})
}

// GetSubmission returns one submission.
// GET /api/submissions/{id}
func (h *SubmissionHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing submission id")
		return
	}
	sub, err := h.svc.Submission(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
