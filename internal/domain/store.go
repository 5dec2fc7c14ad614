package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// FillStore persists fills observed on watched addresses.
type FillStore interface {
	InsertBatch(ctx context.Context, fills []Fill) error
	// LatestByAddress returns the address's most recent fills, newest first.
	LatestByAddress(ctx context.Context, address string, limit int) ([]Fill, error)
	ListByAddress(ctx context.Context, address string, opts ListOpts) ([]Fill, error)
}

// MirrorStore persists mirror outcomes.
type MirrorStore interface {
	Create(ctx context.Context, rec MirrorRecord) error
	GetByFillID(ctx context.Context, fillID string) (MirrorRecord, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]MirrorRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
