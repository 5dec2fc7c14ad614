package handler

import (
	"net/http"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// EventHistory returns recently emitted events, oldest first.
type EventHistory interface {
	Recent(limit int) []domain.Event
	Total() uint64
}

// EventHandler serves the in-memory event history.
type EventHandler struct {
	history EventHistory
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(history EventHistory) *EventHandler {
	return &EventHandler{history: history}
}

// Recent returns up to ?limit= recent events.
// GET /api/events
func (h *EventHandler) Recent(w http.ResponseWriter, r *http.Request) {
	events := h.history.Recent(parseLimit(r, 100, 1000))
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  h.history.Total(),
	})
}
