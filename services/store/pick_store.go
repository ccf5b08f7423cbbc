package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tdx_screener/models"
)

// MaxPickPageSize caps cursor pagination; callers asking for more get this.
const MaxPickPageSize = 50

// PickStore persists screening results. A run replaces the whole
// (rule_name, trade_date) set in one transaction; readers never observe a
// half-written run.
type PickStore interface {
	ReplaceRun(ctx context.Context, ruleName string, tradeDate time.Time, rows []models.PickRow) error
	// List pages through one run's picks ordered by code ascending;
	// cursor is the last code of the previous page ("" for the first).
	List(ctx context.Context, ruleName string, tradeDate time.Time, cursor string, limit int) ([]models.PickRow, error)
	Count(ctx context.Context, ruleName string, tradeDate time.Time) (int64, error)
}

// GormPickStore stores picks in the stock_pick_results table.
type GormPickStore struct {
	db *gorm.DB
}

func NewGormPickStore(db *gorm.DB) *GormPickStore {
	return &GormPickStore{db: db}
}

func (s *GormPickStore) ReplaceRun(ctx context.Context, ruleName string, tradeDate time.Time, rows []models.PickRow) error {
	err := WithRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("rule_name = ? AND trade_date = ?", ruleName, tradeDate).
				Delete(&models.PickRow{}).Error; err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			return tx.CreateInBatches(rows, 500).Error
		})
	})
	if err != nil {
		return fmt.Errorf("replace picks for %s/%s: %w", ruleName, tradeDate.Format("2006-01-02"), err)
	}
	return nil
}

func (s *GormPickStore) List(ctx context.Context, ruleName string, tradeDate time.Time, cursor string, limit int) ([]models.PickRow, error) {
	if limit <= 0 || limit > MaxPickPageSize {
		limit = MaxPickPageSize
	}
	var rows []models.PickRow
	err := WithRetry(ctx, func() error {
		rows = rows[:0]
		q := s.db.WithContext(ctx).
			Where("rule_name = ? AND trade_date = ?", ruleName, tradeDate)
		if cursor != "" {
			q = q.Where("code > ?", cursor)
		}
		return q.Order("code").Limit(limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list picks for %s: %w", ruleName, err)
	}
	return rows, nil
}

func (s *GormPickStore) Count(ctx context.Context, ruleName string, tradeDate time.Time) (int64, error) {
	var n int64
	err := WithRetry(ctx, func() error {
		return s.db.WithContext(ctx).Model(&models.PickRow{}).
			Where("rule_name = ? AND trade_date = ?", ruleName, tradeDate).
			Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("count picks for %s: %w", ruleName, err)
	}
	return n, nil
}

// UniverseStore resolves the symbol universe screened per run.
type UniverseStore interface {
	Symbols(ctx context.Context) ([]models.Symbol, error)
}

// GormUniverseStore reads the symbol table, code ascending.
type GormUniverseStore struct {
	db *gorm.DB
}

func NewGormUniverseStore(db *gorm.DB) *GormUniverseStore {
	return &GormUniverseStore{db: db}
}

func (s *GormUniverseStore) Symbols(ctx context.Context) ([]models.Symbol, error) {
	var out []models.Symbol
	err := WithRetry(ctx, func() error {
		out = out[:0]
		return s.db.WithContext(ctx).
			Where("status = ?", "active").
			Order("code").
			Find(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("load universe: %w", err)
	}
	return out, nil
}
