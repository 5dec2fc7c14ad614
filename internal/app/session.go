package app

import (
	"context"
	"strings"
	"sync"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/platform/dataapi"
	"github.com/alanyoungcy/polycopy/internal/scheduler"
)

// dataAPISource is the data API fill source for whichever base URL the
// current session names.
type dataAPISource struct {
	opts dataapi.Options

	mu   sync.RWMutex
	host string
	src  *dataapi.Source
}

func newDataAPISource(host string, opts dataapi.Options) (*dataAPISource, error) {
	d := &dataAPISource{opts: opts}
	if err := d.use(host); err != nil {
		return nil, err
	}
	return d, nil
}

// use points the source at host, building a new client only when it changed.
func (d *dataAPISource) use(host string) error {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.src != nil && (host == "" || host == d.host) {
		return nil
	}
	src, err := dataapi.NewSource(host, d.opts)
	if err != nil {
		return err
	}
	d.host, d.src = host, src
	return nil
}

func (d *dataAPISource) Name() string { return "data_api" }

func (d *dataAPISource) FetchFills(ctx context.Context, address string, sinceMs int64, limit int) ([]domain.Fill, error) {
	d.mu.RLock()
	src := d.src
	d.mu.RUnlock()
	return src.FetchFills(ctx, address, sinceMs, limit)
}

// session is the scheduler as the HTTP API drives it. Starting a session
// first points the data API source at the session's base URL.
type session struct {
	*scheduler.Scheduler
	source *dataAPISource
}

func (s *session) prepare(settings domain.CopySettings) error {
	if s.source == nil || s.Running() {
		return nil
	}
	return s.source.use(settings.DataAPIBaseURL)
}

func (s *session) Start(ctx context.Context, settings domain.CopySettings) error {
	if err := s.prepare(settings); err != nil {
		return err
	}
	return s.Scheduler.Start(ctx, settings)
}

func (s *session) RunOnce(ctx context.Context, settings domain.CopySettings) (scheduler.Report, error) {
	if err := s.prepare(settings); err != nil {
		return scheduler.Report{}, err
	}
	return s.Scheduler.RunOnce(ctx, settings)
}
