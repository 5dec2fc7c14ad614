package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/events"
	"github.com/alanyoungcy/polycopy/internal/retry"
	"github.com/alanyoungcy/polycopy/internal/scheduler"
	"github.com/alanyoungcy/polycopy/internal/server"
	"github.com/alanyoungcy/polycopy/internal/server/handler"
	"github.com/alanyoungcy/polycopy/internal/server/ws"
	"github.com/alanyoungcy/polycopy/internal/syncstate"
)

// runtime is the session and its event plumbing, shared by every mode.
type runtime struct {
	session  *session
	recorder *events.Recorder
	hub      *ws.Hub
}

// buildRuntime assembles the event sinks and the scheduler. The WebSocket
// hub is created only when the HTTP server will run.
func (a *App) buildRuntime(deps *Dependencies, withServer bool) *runtime {
	rt := &runtime{recorder: events.NewRecorder(events.DefaultRecorderSize)}

	sinks := events.Fanout{events.NewLogSink(a.logger), rt.recorder}
	if deps.SignalBus != nil {
		sinks = append(sinks, events.NewBusSink(deps.SignalBus, events.DefaultChannel, events.DefaultStream, a.logger))
	}
	if deps.Notifier.Enabled() {
		sinks = append(sinks, events.NewNotifySink(deps.Notifier, a.logger))
	}
	if withServer {
		// With a bus the hub relays the channel BusSink publishes to, so
		// it must not also receive events directly.
		rt.hub = ws.NewHub(deps.SignalBus, events.DefaultChannel, func() any {
			return rt.session.Status()
		}, a.logger)
		if deps.SignalBus == nil {
			sinks = append(sinks, rt.hub)
		}
	}

	var lock domain.LockManager
	if a.cfg.Copy.TickLock {
		lock = deps.LockManager
	}
	backoff := func(attempts int) retry.Policy {
		return retry.Policy{
			MaxAttempts: attempts,
			BaseDelay:   a.cfg.Retry.BaseDelay.Duration,
			MaxDelay:    a.cfg.Retry.MaxDelay.Duration,
		}
	}

	sched := scheduler.New(scheduler.Deps{
		Source:      deps.Source,
		Mirror:      deps.Mirror,
		Tracker:     syncstate.New(a.cfg.Copy.SeenRetention.Duration),
		Sink:        sinks,
		Account:     deps.Account,
		Fills:       deps.FillStore,
		Mirrors:     deps.MirrorStore,
		Audit:       deps.AuditStore,
		Archiver:    deps.Archiver,
		Lock:        lock,
		LockTTL:     a.cfg.Copy.TickLockTTL.Duration,
		FetchRetry:  backoff(a.cfg.Retry.FetchAttempts),
		SubmitRetry: backoff(a.cfg.Retry.SubmitAttempts),
		WarmStart:   a.cfg.Copy.WarmStart && deps.FillStore != nil,
		Logger:      a.logger,
	})
	rt.session = &session{Scheduler: sched, source: deps.dataAPI}
	return rt
}

// CopyMode starts a session with the configured settings right away and
// keeps it running until ctx is cancelled. The HTTP API runs alongside it
// when enabled.
func (a *App) CopyMode(ctx context.Context, deps *Dependencies) error {
	rt := a.buildRuntime(deps, a.cfg.Server.Enabled)
	if err := rt.session.Start(ctx, a.cfg.CopySettings()); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, rt)
	}
	g.Go(func() error {
		<-gctx.Done()
		return rt.session.Stop()
	})
	return g.Wait()
}

// ServerMode runs only the HTTP API. Sessions are started and stopped
// through it.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	rt := a.buildRuntime(deps, true)
	g, gctx := errgroup.WithContext(ctx)

	a.startHTTPServer(gctx, g, deps, rt)
	g.Go(func() error {
		<-gctx.Done()
		return rt.session.Stop()
	})
	return g.Wait()
}

// OnceMode runs a single tick with the configured settings and returns.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	rt := a.buildRuntime(deps, false)

	report, err := rt.session.RunOnce(ctx, a.cfg.CopySettings())
	if err != nil {
		return fmt.Errorf("app: run once: %w", err)
	}
	a.logger.InfoContext(ctx, "tick finished",
		slog.Int("addresses", report.Addresses),
		slog.Int("fetch_failed", report.FetchFailed),
		slog.Int("fetched", report.Fetched),
		slog.Int("new", report.New),
		slog.Int("submitted", report.Submitted),
		slog.Int("failed", report.Failed),
		slog.Bool("preconditions_failed", report.PreconditionsFailed),
		slog.Duration("duration", report.Duration),
	)
	if report.PreconditionsFailed {
		return fmt.Errorf("app: run once: trading preconditions failed")
	}
	return nil
}

// startHTTPServer registers the API and the WebSocket hub and runs them in g
// until ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Session: handler.NewSessionHandler(rt.session, a.cfg.CopySettings, a.logger),
		Mirrors: handler.NewMirrorHandler(deps.MirrorStore, a.logger),
		Events:  handler.NewEventHandler(rt.recorder),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, rt.hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return ignoreCanceled(rt.hub.Run(ctx))
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func ignoreCanceled(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}
