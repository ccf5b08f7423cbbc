package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tdx_screener/models"
)

// IndicatorStore is the cache storage the backfill coordinator reads and
// writes. Upserts are keyed by (code, trade_date, period).
type IndicatorStore interface {
	Rows(ctx context.Context, code, period string, from, to time.Time) ([]models.IndicatorRow, error)
	Upsert(ctx context.Context, rows []models.IndicatorRow) error
}

// GormIndicatorStore persists indicator rows in the stock_indicators table.
type GormIndicatorStore struct {
	db *gorm.DB
}

func NewGormIndicatorStore(db *gorm.DB) *GormIndicatorStore {
	return &GormIndicatorStore{db: db}
}

func (s *GormIndicatorStore) Rows(ctx context.Context, code, period string, from, to time.Time) ([]models.IndicatorRow, error) {
	var rows []models.IndicatorRow
	err := WithRetry(ctx, func() error {
		rows = rows[:0]
		return s.db.WithContext(ctx).
			Where("code = ? AND period = ? AND trade_date BETWEEN ? AND ?", code, period, from, to).
			Order("trade_date").
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("read indicator rows for %s: %w", code, err)
	}
	return rows, nil
}

func (s *GormIndicatorStore) Upsert(ctx context.Context, rows []models.IndicatorRow) error {
	if len(rows) == 0 {
		return nil
	}
	err := WithRetry(ctx, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "code"}, {Name: "trade_date"}, {Name: "period"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"macd_dif", "macd_dea", "macd_hist",
				"kdj_k", "kdj_d", "kdj_j",
				"short_trend_line", "bull_bear_line", "updated_at",
			}),
		}).CreateInBatches(rows, 500).Error
	})
	if err != nil {
		return fmt.Errorf("upsert %d indicator rows: %w", len(rows), err)
	}
	return nil
}
