package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// MirrorStore implements domain.MirrorStore.
type MirrorStore struct {
	pool *pgxpool.Pool
}

// NewMirrorStore creates a MirrorStore.
func NewMirrorStore(pool *pgxpool.Pool) *MirrorStore {
	return &MirrorStore{pool: pool}
}

const mirrorSelectCols = `id, fill_id, source_address, market_id, outcome_id, side,
	price, size, slippage_bps, path, status, token, error, created_at`

func scanMirror(row pgx.Row) (domain.MirrorRecord, error) {
	var r domain.MirrorRecord
	var side, path, status string
	err := row.Scan(
		&r.ID, &r.FillID, &r.SourceAddress, &r.MarketID, &r.OutcomeID, &side,
		&r.Price, &r.Size, &r.SlippageBps, &path, &status, &r.Token, &r.Error, &r.CreatedAt,
	)
	r.Side = domain.ParseSide(side)
	r.Path = domain.MirrorPath(path)
	r.Status = domain.MirrorStatus(status)
	return r, err
}

// Create inserts a mirror record. Recording the same id twice returns
// domain.ErrAlreadyExists.
func (s *MirrorStore) Create(ctx context.Context, rec domain.MirrorRecord) error {
	const query = `
		INSERT INTO mirror_orders (
			id, fill_id, source_address, market_id, outcome_id, side,
			price, size, slippage_bps, path, status, token, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		rec.ID, rec.FillID, domain.NormalizeAddress(rec.SourceAddress), rec.MarketID, rec.OutcomeID, string(rec.Side),
		rec.Price, rec.Size, rec.SlippageBps, string(rec.Path), string(rec.Status), rec.Token, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create mirror record %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mirror record %s: %w", rec.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// GetByFillID returns the latest mirror record for a fill.
func (s *MirrorStore) GetByFillID(ctx context.Context, fillID string) (domain.MirrorRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mirrorSelectCols+` FROM mirror_orders WHERE fill_id = $1 ORDER BY created_at DESC LIMIT 1`,
		fillID)
	rec, err := scanMirror(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MirrorRecord{}, fmt.Errorf("postgres: mirror for fill %s: %w", fillID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MirrorRecord{}, fmt.Errorf("postgres: get mirror for fill %s: %w", fillID, err)
	}
	return rec, nil
}

// ListRecent returns mirror records, newest first.
func (s *MirrorStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.MirrorRecord, error) {
	query, args := listFilter(`SELECT `+mirrorSelectCols+` FROM mirror_orders WHERE 1=1`, nil,
		"created_at", rangeOf(opts, asTime))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list mirror records: %w", err)
	}
	defer rows.Close()

	var out []domain.MirrorRecord
	for rows.Next() {
		rec, err := scanMirror(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan mirror record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list mirror records rows: %w", err)
	}
	return out, nil
}

var _ domain.MirrorStore = (*MirrorStore)(nil)
