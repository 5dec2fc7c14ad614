package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// MirrorLister lists persisted mirror outcomes.
type MirrorLister interface {
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.MirrorRecord, error)
}

// MirrorHandler serves mirror history.
type MirrorHandler struct {
	mirrors MirrorLister
	logger  *slog.Logger
}

// NewMirrorHandler creates a MirrorHandler. A nil lister yields empty lists.
func NewMirrorHandler(mirrors MirrorLister, logger *slog.Logger) *MirrorHandler {
	return &MirrorHandler{mirrors: mirrors, logger: logger}
}

type listMirrorsResponse struct {
	Mirrors []domain.MirrorRecord `json:"mirrors"`
}

// ListRecent returns the newest mirror records.
// GET /api/mirrors?limit=50&offset=0&since=RFC3339
func (h *MirrorHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.mirrors == nil {
		writeJSON(w, http.StatusOK, listMirrorsResponse{Mirrors: []domain.MirrorRecord{}})
		return
	}

	records, err := h.mirrors.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list mirrors failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list mirrors")
		return
	}
	if records == nil {
		records = []domain.MirrorRecord{}
	}
	writeJSON(w, http.StatusOK, listMirrorsResponse{Mirrors: records})
}
