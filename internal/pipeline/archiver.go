// Package pipeline moves observed fills into cold storage.
package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

var csvHeader = []string{
	"timestamp_ms",
	"source_address",
	"fill_id",
	"market_id",
	"outcome_id",
	"outcome_index",
	"side",
	"price",
	"size",
	"tx_hash",
}

// FillArchiver uploads each tick's new fills as one CSV object.
type FillArchiver struct {
	writer domain.BlobWriter
	now    func() time.Time
	logger *slog.Logger
}

// NewFillArchiver creates a FillArchiver that writes through w.
func NewFillArchiver(w domain.BlobWriter, logger *slog.Logger) *FillArchiver {
	return &FillArchiver{
		writer: w,
		now:    time.Now,
		logger: logger.With(slog.String("component", "fill_archiver")),
	}
}

// ArchiveFills writes fills to fills/<date>/<unix ms>-<id>.csv.
func (a *FillArchiver) ArchiveFills(ctx context.Context, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	data, err := FillsToCSV(fills)
	if err != nil {
		return fmt.Errorf("pipeline: fills to csv: %w", err)
	}

	now := a.now().UTC()
	path := fmt.Sprintf("fills/%s/%d-%s.csv", now.Format("2006-01-02"), now.UnixMilli(), uuid.NewString()[:8])
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "text/csv"); err != nil {
		return fmt.Errorf("pipeline: upload %s: %w", path, err)
	}

	a.logger.Info("archived fills",
		slog.Int("count", len(fills)),
		slog.String("path", path),
	)
	return nil
}

// FillsToCSV renders fills as CSV with a header row.
func FillsToCSV(fills []domain.Fill) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}
	for _, f := range fills {
		idx := ""
		if f.OutcomeIndex != nil {
			idx = strconv.Itoa(*f.OutcomeIndex)
		}
		row := []string{
			strconv.FormatInt(f.TimestampMs, 10),
			f.SourceAddress,
			f.ID,
			f.MarketID,
			f.OutcomeID,
			idx,
			string(f.Side),
			strconv.FormatFloat(f.Price, 'f', -1, 64),
			strconv.FormatFloat(f.Size, 'f', -1, 64),
			f.TxHash,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing CSV writer: %w", err)
	}
	return buf.Bytes(), nil
}
