package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// ArchiveLister lists archived objects.
type ArchiveLister interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// ArchiveHandler serves the archive index.
type ArchiveHandler struct {
	blobs  ArchiveLister
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs ArchiveLister, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

type archiveObject struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

// ListArchives lists archive files. kind narrows to "submissions" or
// "audit".
// GET /api/archives?kind=
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := "archive/"
	switch kind := strings.TrimSpace(r.URL.Query().Get("kind")); kind {
	case "":
	case "submissions", "audit":
		prefix += kind + "/"
	default:
		writeError(w, http.StatusBadRequest, "unknown archive kind "+kind)
		return
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeDomainError(w, h.logger, r, err, nil)
		return
	}
	out := make([]archiveObject, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveObject{Path: info.Path, Size: info.Size, LastModified: info.LastModified})
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": out})
}
