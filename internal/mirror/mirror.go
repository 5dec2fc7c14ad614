// Package mirror places the local account's copy of an observed fill. A
// dry-run submission never touches the venue; live submissions go through
// the primary signed order path or the raw order transport used as fallback.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Primary is the signed-order client.
type Primary interface {
	EnsureCredentials(ctx context.Context) error
	UpdateBalanceAllowance(ctx context.Context) error
	PlaceOrder(ctx context.Context, req domain.MirrorOrderRequest) (domain.OrderResult, error)
}

// Fallback is the raw order transport.
type Fallback interface {
	Submit(ctx context.Context, req domain.MirrorOrderRequest) (domain.OrderResult, error)
}

// Options control path selection.
type Options struct {
	// FallbackOnError sends the request through the fallback transport when
	// the primary path returns an error.
	FallbackOnError bool
	Logger          *slog.Logger
}

// Result is the outcome of a successful submission.
type Result struct {
	Token string
	Path  domain.MirrorPath
}

// ExecutionError wraps a failed submission with the path that failed.
type ExecutionError struct {
	Path domain.MirrorPath
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("mirror: %s: %v", e.Path, e.Err)
}

// Unwrap exposes both the execution sentinel and the cause.
func (e *ExecutionError) Unwrap() []error {
	return []error{domain.ErrExecution, e.Err}
}

// Mirror submits mirror orders.
type Mirror struct {
	primary    Primary
	primaryErr error
	fallback   Fallback
	opts       Options
	logger     *slog.Logger
	warnOnce   sync.Once
}

// New creates a Mirror. initErr is the error returned while building the
// primary client; when it is non-nil primary is ignored and every live
// submission goes through fallback. The same Mirror serves dry-run and live
// sessions; callers pass the session's mode on every call.
func New(primary Primary, initErr error, fallback Fallback, opts Options) *Mirror {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mirror{
		primary:    primary,
		primaryErr: initErr,
		fallback:   fallback,
		opts:       opts,
		logger:     logger.With(slog.String("component", "mirror")),
	}
	if initErr != nil {
		m.primary = nil
	}
	if m.primary == nil && m.primaryErr == nil {
		m.primaryErr = fmt.Errorf("%w: primary client not configured", domain.ErrNoCredential)
	}
	return m
}

// warnNoPrimary reports, once and only for live use, that the primary
// client could not be built.
func (m *Mirror) warnNoPrimary() {
	m.warnOnce.Do(func() {
		m.logger.Warn("primary client unavailable, using fallback transport",
			slog.String("error", m.primaryErr.Error()),
			slog.Bool("fallback_configured", m.fallback != nil),
		)
	})
}

// EnsureReady runs the per-tick preconditions: credentials are derived when
// missing and the collateral balance allowance is refreshed. It does
// nothing in dry-run mode or when only the fallback is usable.
func (m *Mirror) EnsureReady(ctx context.Context, dryRun bool) error {
	if dryRun {
		return nil
	}
	if m.primary == nil {
		m.warnNoPrimary()
		if m.fallback != nil {
			return nil
		}
		return &ExecutionError{Path: domain.PathPrimary, Err: m.primaryErr}
	}
	if err := m.primary.EnsureCredentials(ctx); err != nil {
		return fmt.Errorf("mirror: credentials: %w", err)
	}
	if err := m.primary.UpdateBalanceAllowance(ctx); err != nil {
		return fmt.Errorf("mirror: balance allowance: %w", err)
	}
	return nil
}

// Submit places req and returns its token. In dry-run it only renders the
// simulated token. It does not retry.
func (m *Mirror) Submit(ctx context.Context, req domain.MirrorOrderRequest, dryRun bool) (Result, error) {
	if dryRun {
		return Result{Token: DryRunToken(req), Path: domain.PathDryRun}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("mirror: %w: %w", domain.ErrContextDone, err)
	}

	if m.primary == nil {
		m.warnNoPrimary()
		if m.fallback == nil {
			return Result{}, &ExecutionError{Path: domain.PathPrimary, Err: m.primaryErr}
		}
		return m.submitFallback(ctx, req, nil)
	}

	res, err := m.primary.PlaceOrder(ctx, req)
	if err == nil {
		return Result{Token: res.OrderID, Path: domain.PathPrimary}, nil
	}
	if !m.opts.FallbackOnError || m.fallback == nil || ctx.Err() != nil {
		return Result{}, &ExecutionError{Path: domain.PathPrimary, Err: err}
	}
	m.logger.Warn("primary submission failed, retrying through fallback",
		slog.String("fill_id", req.FillID),
		slog.String("error", err.Error()),
	)
	return m.submitFallback(ctx, req, err)
}

func (m *Mirror) submitFallback(ctx context.Context, req domain.MirrorOrderRequest, primaryErr error) (Result, error) {
	res, err := m.fallback.Submit(ctx, req)
	if err != nil {
		if primaryErr != nil {
			err = errors.Join(primaryErr, err)
		}
		return Result{}, &ExecutionError{Path: domain.PathFallback, Err: err}
	}
	return Result{Token: res.OrderID, Path: domain.PathFallback}, nil
}

// DryRunToken renders the deterministic token reported for a simulated
// submission.
func DryRunToken(req domain.MirrorOrderRequest) string {
	return "dry-run:market=" + req.MarketID +
		" outcome=" + req.OutcomeID +
		" side=" + string(req.Side) +
		" size=" + strconv.FormatFloat(req.Size, 'f', -1, 64) +
		" price=" + strconv.FormatFloat(req.Price, 'f', -1, 64) +
		" slippageBps=" + strconv.Itoa(req.SlippageBps)
}
