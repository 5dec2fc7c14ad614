package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/scheduler"
)

// SessionService is the part of the scheduler the session endpoints drive.
type SessionService interface {
	Start(ctx context.Context, settings domain.CopySettings) error
	Stop() error
	Running() bool
	Tick(ctx context.Context) (scheduler.Report, error)
	Status() scheduler.Status
}

// SessionHandler starts, stops and reports on the copy session.
type SessionHandler struct {
	session  SessionService
	defaults func() domain.CopySettings
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler. defaults supplies the settings
// a start request overrides.
func NewSessionHandler(session SessionService, defaults func() domain.CopySettings, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{session: session, defaults: defaults, logger: logger}
}

// startRequest carries optional overrides of the configured settings.
type startRequest struct {
	TargetAddresses []string `json:"targetAddresses"`
	DataAPIBaseURL  *string  `json:"dataApiBaseUrl"`
	CopyFactor      *float64 `json:"copyFactor"`
	MaxSlippageBps  *int     `json:"maxSlippageBps"`
	DryRun          *bool    `json:"dryRun"`
	PollIntervalMs  *int64   `json:"pollIntervalMs"`
	ExecutionMode   *string  `json:"executionMode"`
	FixedSize       *float64 `json:"fixedSize"`
	SellAllOnSell   *bool    `json:"sellAllOnSell"`
}

func (req startRequest) apply(s domain.CopySettings) domain.CopySettings {
	if len(req.TargetAddresses) > 0 {
		s.TargetAddresses = req.TargetAddresses
	}
	if req.DataAPIBaseURL != nil {
		s.DataAPIBaseURL = *req.DataAPIBaseURL
	}
	if req.CopyFactor != nil {
		s.CopyFactor = *req.CopyFactor
	}
	if req.MaxSlippageBps != nil {
		s.MaxSlippageBps = *req.MaxSlippageBps
	}
	if req.DryRun != nil {
		s.DryRun = *req.DryRun
	}
	if req.PollIntervalMs != nil {
		s.PollInterval = time.Duration(*req.PollIntervalMs) * time.Millisecond
	}
	if req.ExecutionMode != nil {
		s.ExecutionMode = domain.ExecutionMode(*req.ExecutionMode)
	}
	if req.FixedSize != nil {
		s.FixedSize = *req.FixedSize
	}
	if req.SellAllOnSell != nil {
		s.SellAllOnSell = *req.SellAllOnSell
	}
	return s
}

// Start begins a session with the configured settings and any overrides in
// the request body.
// POST /api/session/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings := req.apply(h.defaults())
	if err := h.session.Start(r.Context(), settings); err != nil {
		h.logger.WarnContext(r.Context(), "handler: session start failed",
			slog.String("error", err.Error()),
		)
		if errors.Is(err, domain.ErrNoCredential) {
			writeError(w, http.StatusPreconditionFailed, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Stop ends the running session. Stopping an idle session succeeds.
// POST /api/session/stop
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Stop(); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: session stop failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to stop session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Tick runs one tick of the running session now.
// POST /api/session/tick
func (h *SessionHandler) Tick(w http.ResponseWriter, r *http.Request) {
	report, err := h.session.Tick(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrNotRunning):
		writeError(w, http.StatusConflict, "no session started")
		return
	case errors.Is(err, scheduler.ErrTickInProgress):
		writeError(w, http.StatusConflict, "tick in progress")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"skipped":    report.Skipped,
		"addresses":  report.Addresses,
		"fetched":    report.Fetched,
		"new":        report.New,
		"submitted":  report.Submitted,
		"failed":     report.Failed,
		"durationMs": report.Duration.Milliseconds(),
	})
}

// Status reports whether a session runs and where each address's cursor is.
// GET /api/session
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}
