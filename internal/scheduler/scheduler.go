// Package scheduler runs the copy session: on every tick it pulls new fills
// for each watched address, sizes a mirrored order per fill and submits it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/mirror"
	"github.com/alanyoungcy/polycopy/internal/retry"
	"github.com/alanyoungcy/polycopy/internal/sizing"
	"github.com/alanyoungcy/polycopy/internal/syncstate"
)

var (
	// ErrNotRunning is returned by Tick when no session was started.
	ErrNotRunning = errors.New("scheduler: not running")
	// ErrTickInProgress is returned when a tick is requested while another
	// one is still running.
	ErrTickInProgress = errors.New("scheduler: tick in progress")
)

// DefaultLockKey is the distributed lock taken around each tick.
const DefaultLockKey = "polycopy:tick"

// FillSource fetches fills made by an address.
type FillSource interface {
	Name() string
	FetchFills(ctx context.Context, address string, sinceMs int64, limit int) ([]domain.Fill, error)
}

// Submitter places mirrored orders. dryRun is the session's mode; a dry-run
// submission is simulated by the submitter itself.
type Submitter interface {
	EnsureReady(ctx context.Context, dryRun bool) error
	Submit(ctx context.Context, req domain.MirrorOrderRequest, dryRun bool) (mirror.Result, error)
}

// Archiver stores a tick's new fills in cold storage.
type Archiver interface {
	ArchiveFills(ctx context.Context, fills []domain.Fill) error
}

// Deps are the scheduler's collaborators. Source, Mirror and Tracker are
// required; everything else is optional.
type Deps struct {
	Source  FillSource
	Mirror  Submitter
	Tracker *syncstate.Tracker
	Sink    domain.EventSink

	// Account is the local signing address. Sessions cannot start without it.
	Account string

	Fills    domain.FillStore
	Mirrors  domain.MirrorStore
	Audit    domain.AuditStore
	Archiver Archiver

	Lock    domain.LockManager
	LockKey string
	LockTTL time.Duration

	FetchRetry  retry.Policy
	SubmitRetry retry.Policy
	WarmStart   bool

	Logger *slog.Logger
}

// Report summarizes one tick.
type Report struct {
	Skipped             bool
	PreconditionsFailed bool
	Addresses           int
	FetchFailed         int
	Fetched             int
	New                 int
	Submitted           int
	Failed              int
	Duration            time.Duration
}

// Status is a point-in-time view of the session.
type Status struct {
	Running    bool                 `json:"running"`
	DryRun     bool                 `json:"dryRun"`
	StartedAt  *time.Time           `json:"startedAt,omitempty"`
	LastTickAt *time.Time           `json:"lastTickAt,omitempty"`
	Ticks      uint64               `json:"ticks"`
	Skipped    uint64               `json:"skippedTicks"`
	Addresses  []string             `json:"addresses"`
	Source     string               `json:"source"`
	SyncState  []domain.SyncState   `json:"syncState"`
	Settings   *domain.CopySettings `json:"settings,omitempty"`
}

// Scheduler owns the tick loop of a copy session.
type Scheduler struct {
	deps   Deps
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	settings  domain.CopySettings
	hasConfig bool
	cancel    context.CancelFunc
	done      chan struct{}
	stopping  chan struct{}
	startedAt time.Time
	seeded    map[string]bool

	busy     atomic.Bool
	ticks    atomic.Uint64
	skipped  atomic.Uint64
	lastTick atomic.Int64
}

// New creates a stopped scheduler.
func New(deps Deps) *Scheduler {
	if deps.Tracker == nil {
		deps.Tracker = syncstate.New(0)
	}
	if deps.LockKey == "" {
		deps.LockKey = DefaultLockKey
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = 2 * time.Minute
	}
	if deps.FetchRetry.MaxAttempts == 0 {
		deps.FetchRetry = retry.Once
	}
	if deps.SubmitRetry.MaxAttempts == 0 {
		deps.SubmitRetry = retry.Once
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		deps:   deps,
		logger: logger.With(slog.String("component", "scheduler")),
		seeded: make(map[string]bool),
	}
}

// Start begins a session: one tick runs immediately and a ticker fires every
// PollInterval after that. Starting a running session does nothing. When a
// Stop is still draining, Start waits for it before arming the new loop.
func (s *Scheduler) Start(ctx context.Context, settings domain.CopySettings) error {
	settings = settings.Normalize()
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if s.deps.Account == "" {
		return fmt.Errorf("scheduler: start: %w", domain.ErrNoCredential)
	}

	s.mu.Lock()
	for s.stopping != nil {
		stopping := s.stopping
		s.mu.Unlock()
		select {
		case <-stopping:
		case <-ctx.Done():
			return fmt.Errorf("scheduler: start: %w: %w", domain.ErrContextDone, ctx.Err())
		}
		s.mu.Lock()
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.running = true
	s.settings = settings
	s.hasConfig = true
	s.cancel = cancel
	s.done = done
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	s.warmStart(loopCtx, settings)

	mode := "live"
	if settings.DryRun {
		mode = "dry-run"
	}
	ev := domain.NewEvent(domain.EventSessionStarted, domain.LevelInfo,
		fmt.Sprintf("copy session started (%s, %d addresses, every %s)", mode, len(settings.TargetAddresses), settings.PollInterval))
	s.emit(ctx, ev)
	s.audit(ctx, "session_started", map[string]any{
		"addresses": settings.TargetAddresses,
		"dry_run":   settings.DryRun,
		"interval":  settings.PollInterval.String(),
	})

	go s.loop(loopCtx, settings, done)
	return nil
}

// Stop ends the session. No submission starts after Stop is called; Stop
// returns once the in-flight tick, if any, has finished.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		stopping := s.stopping
		s.mu.Unlock()
		if stopping != nil {
			<-stopping
		}
		return nil
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.stopping = done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	if s.stopping == done {
		s.stopping = nil
	}
	s.mu.Unlock()

	ctx := context.Background()
	s.emit(ctx, domain.NewEvent(domain.EventSessionStopped, domain.LevelInfo, "copy session stopped"))
	s.audit(ctx, "session_stopped", map[string]any{"ticks": s.ticks.Load()})
	return nil
}

// Running reports whether a session is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Tick runs one tick with the current session's settings.
func (s *Scheduler) Tick(ctx context.Context) (Report, error) {
	s.mu.Lock()
	settings, ok := s.settings, s.hasConfig
	s.mu.Unlock()
	if !ok {
		return Report{}, ErrNotRunning
	}
	return s.guardedTick(ctx, settings)
}

// RunOnce runs a single tick with settings without arming the loop.
func (s *Scheduler) RunOnce(ctx context.Context, settings domain.CopySettings) (Report, error) {
	settings = settings.Normalize()
	if err := settings.Validate(); err != nil {
		return Report{}, fmt.Errorf("scheduler: %w", err)
	}
	if s.deps.Account == "" {
		return Report{}, fmt.Errorf("scheduler: run once: %w", domain.ErrNoCredential)
	}
	s.mu.Lock()
	if !s.hasConfig {
		s.settings, s.hasConfig = settings, true
	}
	s.mu.Unlock()

	s.warmStart(ctx, settings)
	return s.guardedTick(ctx, settings)
}

// Status returns the session's current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{Running: s.running, Source: s.deps.Source.Name()}
	if s.hasConfig {
		settings := s.settings
		st.Settings = &settings
		st.DryRun = settings.DryRun
		st.Addresses = append([]string(nil), settings.TargetAddresses...)
	}
	if s.running {
		started := s.startedAt
		st.StartedAt = &started
	}
	s.mu.Unlock()

	if ms := s.lastTick.Load(); ms > 0 {
		t := time.UnixMilli(ms).UTC()
		st.LastTickAt = &t
	}
	st.Ticks = s.ticks.Load()
	st.Skipped = s.skipped.Load()
	st.SyncState = s.deps.Tracker.Snapshots()
	return st
}

func (s *Scheduler) loop(ctx context.Context, settings domain.CopySettings, done chan struct{}) {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(done)
	}()

	fire := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.guardedTick(ctx, settings); err != nil && !errors.Is(err, ErrTickInProgress) {
				s.logger.Warn("tick failed", slog.String("error", err.Error()))
			}
		}()
	}

	fire()
	ticker := time.NewTicker(settings.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire()
		}
	}
}

func (s *Scheduler) guardedTick(ctx context.Context, settings domain.CopySettings) (Report, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.emit(ctx, domain.NewEvent(domain.EventTickSkipped, domain.LevelWarn, "previous tick still running, skipping"))
		return Report{Skipped: true}, ErrTickInProgress
	}
	defer s.busy.Store(false)

	if s.deps.Lock != nil {
		unlock, err := s.deps.Lock.Acquire(ctx, s.deps.LockKey, s.deps.LockTTL)
		if err != nil {
			s.skipped.Add(1)
			msg := "tick lock held by another process, skipping"
			if !errors.Is(err, domain.ErrLockHeld) {
				msg = "tick lock unavailable, skipping: " + err.Error()
			}
			s.emit(ctx, domain.NewEvent(domain.EventTickSkipped, domain.LevelWarn, msg))
			return Report{Skipped: true}, nil
		}
		defer unlock()
	}

	return s.tick(ctx, settings), nil
}

type tickCounters struct {
	fetchFailed atomic.Int64
	fetched     atomic.Int64
	fresh       atomic.Int64
	submitted   atomic.Int64
	failed      atomic.Int64

	mu       sync.Mutex
	newFills []domain.Fill
}

func (s *Scheduler) tick(ctx context.Context, settings domain.CopySettings) Report {
	start := time.Now()
	s.ticks.Add(1)
	s.lastTick.Store(start.UnixMilli())

	report := Report{Addresses: len(settings.TargetAddresses)}

	err := retry.Do(ctx, s.deps.FetchRetry, func(ctx context.Context) error {
		return s.deps.Mirror.EnsureReady(ctx, settings.DryRun)
	})
	if err != nil {
		ev := domain.NewEvent(domain.EventPreconditionsFailed, domain.LevelError,
			"trading preconditions failed, skipping submissions this tick: "+err.Error())
		s.emit(ctx, ev)
		report.PreconditionsFailed = true
		report.Duration = time.Since(start)
		return report
	}

	var c tickCounters
	var g errgroup.Group
	g.SetLimit(settings.Concurrency)
	for _, addr := range settings.TargetAddresses {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.syncAddress(ctx, addr, settings, &c)
			return nil
		})
	}
	_ = g.Wait()

	if s.deps.Archiver != nil && len(c.newFills) > 0 {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if err := s.deps.Archiver.ArchiveFills(actx, c.newFills); err != nil {
			s.logger.Warn("archive fills", slog.String("error", err.Error()))
		}
		cancel()
	}

	report.FetchFailed = int(c.fetchFailed.Load())
	report.Fetched = int(c.fetched.Load())
	report.New = int(c.fresh.Load())
	report.Submitted = int(c.submitted.Load())
	report.Failed = int(c.failed.Load())
	report.Duration = time.Since(start)

	s.logger.Debug("tick complete",
		slog.Int("addresses", report.Addresses),
		slog.Int("fetched", report.Fetched),
		slog.Int("new", report.New),
		slog.Int("submitted", report.Submitted),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration),
	)
	return report
}

// syncAddress handles one address within a tick. Errors never escape: they
// become events so the remaining addresses still run.
func (s *Scheduler) syncAddress(ctx context.Context, addr string, settings domain.CopySettings, c *tickCounters) {
	since := s.deps.Tracker.Cursor(addr)

	var fills []domain.Fill
	err := retry.Do(ctx, s.deps.FetchRetry, func(ctx context.Context) error {
		var ferr error
		fills, ferr = s.deps.Source.FetchFills(ctx, addr, since, settings.FetchLimit)
		return ferr
	})
	if err != nil {
		c.fetchFailed.Add(1)
		ev := domain.NewEvent(domain.EventFetchFailed, domain.LevelError, fmt.Sprintf("fetch fills for %s: %v", addr, err))
		ev.Address = addr
		s.emit(ctx, ev)
		return
	}
	c.fetched.Add(int64(len(fills)))

	fresh := s.deps.Tracker.Observe(addr, fills)
	if len(fresh) == 0 {
		return
	}
	c.fresh.Add(int64(len(fresh)))
	c.mu.Lock()
	c.newFills = append(c.newFills, fresh...)
	c.mu.Unlock()

	if s.deps.Fills != nil {
		if err := s.deps.Fills.InsertBatch(context.WithoutCancel(ctx), fresh); err != nil {
			s.logger.Warn("persist fills", slog.String("address", addr), slog.String("error", err.Error()))
		}
	}

	for _, f := range fresh {
		ev := domain.NewEvent(domain.EventFillDetected, domain.LevelInfo,
			fmt.Sprintf("new fill %s %s %v @ %v on %s", f.ID, f.Side, f.Size, f.Price, f.MarketID))
		ev.Address, ev.FillID = addr, f.ID
		s.emit(ctx, ev)
	}

	for _, f := range fresh {
		if ctx.Err() != nil {
			return
		}
		s.mirrorFill(ctx, addr, f, settings, c)
	}
}

func (s *Scheduler) mirrorFill(ctx context.Context, addr string, f domain.Fill, settings domain.CopySettings, c *tickCounters) {
	req := sizing.BuildRequest(f, settings)
	rec := domain.MirrorRecord{
		ID:            uuid.New().String(),
		FillID:        f.ID,
		SourceAddress: addr,
		MarketID:      req.MarketID,
		OutcomeID:     req.OutcomeID,
		Side:          req.Side,
		Price:         req.Price,
		Size:          req.Size,
		SlippageBps:   req.SlippageBps,
		CreatedAt:     time.Now().UTC(),
	}

	var res mirror.Result
	var err error
	if req.Size <= 0 {
		err = fmt.Errorf("%w: mirrored size %v", domain.ErrInvalidOrder, req.Size)
	} else {
		err = retry.Do(ctx, s.deps.SubmitRetry, func(ctx context.Context) error {
			var serr error
			res, serr = s.deps.Mirror.Submit(ctx, req, settings.DryRun)
			return serr
		})
	}

	var ev domain.Event
	if err != nil {
		c.failed.Add(1)
		rec.Status, rec.Error = domain.MirrorFailed, err.Error()
		rec.Path = domain.PathPrimary
		var ee *mirror.ExecutionError
		if errors.As(err, &ee) {
			rec.Path = ee.Path
		}
		ev = domain.NewEvent(domain.EventOrderFailed, domain.LevelError,
			fmt.Sprintf("mirror %s %v of %s failed: %v", req.Side, req.Size, req.OutcomeID, err))
	} else {
		c.submitted.Add(1)
		rec.Path, rec.Token = res.Path, res.Token
		msg := fmt.Sprintf("%s %v of %s @ %v: %s", req.Side, req.Size, req.OutcomeID, req.Price, res.Token)
		switch res.Path {
		case domain.PathDryRun:
			rec.Status = domain.MirrorSimulated
			ev = domain.NewEvent(domain.EventOrderSimulated, domain.LevelInfo, "simulated "+msg)
		case domain.PathFallback:
			rec.Status = domain.MirrorConfirmed
			ev = domain.NewEvent(domain.EventOrderFallback, domain.LevelWarn, "mirrored via fallback "+msg)
		default:
			rec.Status = domain.MirrorConfirmed
			ev = domain.NewEvent(domain.EventOrderMirrored, domain.LevelInfo, "mirrored "+msg)
		}
	}
	ev.Address, ev.FillID, ev.Token = addr, f.ID, res.Token
	s.emit(ctx, ev)

	pctx := context.WithoutCancel(ctx)
	if s.deps.Mirrors != nil {
		if perr := s.deps.Mirrors.Create(pctx, rec); perr != nil {
			s.logger.Warn("persist mirror record", slog.String("fill_id", f.ID), slog.String("error", perr.Error()))
		}
	}
	s.audit(pctx, "mirror_"+string(rec.Status), map[string]any{
		"fill_id": f.ID,
		"address": addr,
		"path":    string(rec.Path),
		"token":   rec.Token,
		"size":    rec.Size,
		"error":   rec.Error,
	})
}

// warmStart seeds the tracker from persisted fills so a restart does not
// mirror history again. Each address is seeded once per scheduler.
func (s *Scheduler) warmStart(ctx context.Context, settings domain.CopySettings) {
	if !s.deps.WarmStart || s.deps.Fills == nil {
		return
	}
	for _, addr := range settings.TargetAddresses {
		s.mu.Lock()
		done := s.seeded[addr]
		s.seeded[addr] = true
		s.mu.Unlock()
		if done {
			continue
		}
		fills, err := s.deps.Fills.LatestByAddress(ctx, addr, settings.FetchLimit)
		if err != nil {
			s.logger.Warn("warm start", slog.String("address", addr), slog.String("error", err.Error()))
			continue
		}
		s.deps.Tracker.Seed(addr, fills)
		if len(fills) > 0 {
			s.logger.Info("seeded sync state from history",
				slog.String("address", addr),
				slog.Int("fills", len(fills)),
				slog.Int64("high_water_mark_ms", s.deps.Tracker.Cursor(addr)),
			)
		}
	}
}

func (s *Scheduler) emit(ctx context.Context, ev domain.Event) {
	if s.deps.Sink != nil {
		s.deps.Sink.Emit(context.WithoutCancel(ctx), ev)
	}
}

func (s *Scheduler) audit(ctx context.Context, event string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("audit log", slog.String("event", event), slog.String("error", err.Error()))
	}
}
