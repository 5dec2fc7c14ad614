package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// FillStore implements domain.FillStore.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a FillStore.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillSelectCols = `fill_id, source_address, market_id, outcome_id, outcome_index,
	side, price, size, timestamp_ms, tx_hash`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	defer rows.Close()
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		if err := rows.Scan(
			&f.ID, &f.SourceAddress, &f.MarketID, &f.OutcomeID, &f.OutcomeIndex,
			&side, &f.Price, &f.Size, &f.TimestampMs, &f.TxHash,
		); err != nil {
			return nil, err
		}
		f.Side = domain.ParseSide(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// InsertBatch stores fills in one round trip. A fill already stored for the
// same address is skipped.
func (s *FillStore) InsertBatch(ctx context.Context, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	const query = `
		INSERT INTO fills (
			source_address, fill_id, market_id, outcome_id, outcome_index,
			side, price, size, timestamp_ms, tx_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (source_address, fill_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, f := range fills {
		batch.Queue(query,
			domain.NormalizeAddress(f.SourceAddress), f.ID, f.MarketID, f.OutcomeID, f.OutcomeIndex,
			string(f.Side), f.Price, f.Size, f.TimestampMs, f.TxHash,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range fills {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill batch item %d: %w", i, err)
		}
	}
	return nil
}

// LatestByAddress returns the address's newest fills, newest first.
func (s *FillStore) LatestByAddress(ctx context.Context, address string, limit int) ([]domain.Fill, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills WHERE source_address = $1
		 ORDER BY timestamp_ms DESC LIMIT $2`,
		domain.NormalizeAddress(address), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest fills for %s: %w", address, err)
	}
	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills: %w", err)
	}
	return fills, nil
}

// ListByAddress returns the address's fills filtered by fill time.
func (s *FillStore) ListByAddress(ctx context.Context, address string, opts domain.ListOpts) ([]domain.Fill, error) {
	query, args := listFilter(
		`SELECT `+fillSelectCols+` FROM fills WHERE source_address = $1`,
		[]any{domain.NormalizeAddress(address)},
		"timestamp_ms", rangeOf(opts, asUnixMilli),
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for %s: %w", address, err)
	}
	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills: %w", err)
	}
	return fills, nil
}

var _ domain.FillStore = (*FillStore)(nil)
