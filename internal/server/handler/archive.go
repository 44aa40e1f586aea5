package handler

import (
	"context"
	"log/slog"
	"net/http"

	s3blob "github.com/alanyoungcy/sharegate/internal/blob/s3"
)

// ArchiveLister lists archived objects. Satisfied by s3blob.Reader.
type ArchiveLister interface {
	List(ctx context.Context, prefix string) ([]s3blob.ObjectInfo, error)
}

// ArchiveHandler exposes the cold-storage archive listing for operators.
type ArchiveHandler struct {
	archives ArchiveLister
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archives ArchiveLister, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archives: archives, logger: logger}
}

// ListArchives returns archive objects under the given prefix.
// GET /api/archives?prefix=archive/processed_events/
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}

	objects, err := h.archives.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	if objects == nil {
		objects = []s3blob.ObjectInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prefix":  prefix,
		"objects": objects,
	})
}
