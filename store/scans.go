package store

import (
	"context"
	"time"

	"gaptrade/scanner"
)

// SaveScan records the candidates of one live scan pass.
func (s *Store) SaveScan(ctx context.Context, at time.Time, direction scanner.Direction, hits []scanner.Candidate) error {
	if len(hits) == 0 {
		return nil
	}
	rows := make([]ScanModel, 0, len(hits))
	for _, h := range hits {
		rows = append(rows, ScanModel{
			Time:         at.UTC(),
			Symbol:       h.Symbol,
			Direction:    string(direction),
			GapPct:       h.GapPct,
			Open:         h.Open,
			PrevClose:    h.PrevClose,
			SuggestedQty: h.SuggestedQty,
		})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

// ListScans returns scan hits recorded at or after since, newest first.
func (s *Store) ListScans(ctx context.Context, since time.Time, limit int) ([]ScanModel, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx)
	if !since.IsZero() {
		q = q.Where("time >= ?", since.UTC())
	}
	var rows []ScanModel
	if err := q.Order("time DESC, gap_pct DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
