// Package syncstate tracks, per watched address, how far its fills have
// been read and which fills were already handled.
package syncstate

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Tracker holds the sync state of every watched address. Each address has
// its own lock so concurrent per-address work never contends.
type Tracker struct {
	retentionMs int64

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	hwm  int64
	seen map[string]int64 // fill id -> fill timestamp (ms)
}

// New returns an empty tracker. Seen ids older than retention behind an
// address's high-water mark are forgotten, and fills that old are treated
// as already handled. A zero retention keeps every id forever.
func New(retention time.Duration) *Tracker {
	if retention < 0 {
		retention = 0
	}
	return &Tracker{
		retentionMs: retention.Milliseconds(),
		entries:     make(map[string]*entry),
	}
}

func (t *Tracker) entry(address string) *entry {
	address = domain.NormalizeAddress(address)
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[address]
	if !ok {
		e = &entry{seen: make(map[string]int64)}
		t.entries[address] = e
	}
	return e
}

// Cursor returns the since argument for the address's next fetch.
func (t *Tracker) Cursor(address string) int64 {
	e := t.entry(address)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hwm
}

// Observe records a fetched batch and returns the fills not seen before, in
// the order given. The high-water mark becomes the largest timestamp seen
// and never moves backwards.
func (t *Tracker) Observe(address string, fills []domain.Fill) []domain.Fill {
	e := t.entry(address)
	e.mu.Lock()
	defer e.mu.Unlock()

	floor := t.floor(e.hwm)
	fresh := make([]domain.Fill, 0, len(fills))
	for _, f := range fills {
		if f.TimestampMs > e.hwm {
			e.hwm = f.TimestampMs
		}
		if _, dup := e.seen[f.ID]; dup {
			continue
		}
		if f.TimestampMs < floor {
			continue
		}
		e.seen[f.ID] = f.TimestampMs
		fresh = append(fresh, f)
	}

	t.prune(e)
	return fresh
}

// Seed marks fills as already handled without returning them, e.g. from
// persisted history on startup.
func (t *Tracker) Seed(address string, fills []domain.Fill) {
	e := t.entry(address)
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, f := range fills {
		if f.TimestampMs > e.hwm {
			e.hwm = f.TimestampMs
		}
		e.seen[f.ID] = f.TimestampMs
	}
	t.prune(e)
}

// Snapshot returns the address's current state.
func (t *Tracker) Snapshot(address string) domain.SyncState {
	address = domain.NormalizeAddress(address)
	e := t.entry(address)
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.SyncState{Address: address, HighWaterMarkMs: e.hwm, SeenFillIDs: len(e.seen)}
}

// Snapshots returns every tracked address's state, sorted by address.
func (t *Tracker) Snapshots() []domain.SyncState {
	t.mu.Lock()
	addrs := make([]string, 0, len(t.entries))
	for a := range t.entries {
		addrs = append(addrs, a)
	}
	t.mu.Unlock()

	sort.Strings(addrs)
	out := make([]domain.SyncState, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, t.Snapshot(a))
	}
	return out
}

func (t *Tracker) floor(hwm int64) int64 {
	if t.retentionMs == 0 || hwm <= t.retentionMs {
		return 0
	}
	return hwm - t.retentionMs
}

func (t *Tracker) prune(e *entry) {
	floor := t.floor(e.hwm)
	if floor == 0 {
		return
	}
	for id, ts := range e.seen {
		if ts < floor {
			delete(e.seen, id)
		}
	}
}
