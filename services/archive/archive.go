package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tdx_screener/models"
	"tdx_screener/services/store"
)

// ErrNotFound means the symbol has no bars for the requested period.
var ErrNotFound = errors.New("no bars for symbol")

// BarArchive is the read-only view over ordered bar history. The evaluator
// only ever sees windows produced here; it never touches storage.
type BarArchive interface {
	// Window returns up to lookback bars for one symbol ending at the last
	// trade date <= asOf, oldest first.
	Window(ctx context.Context, code, period string, asOf time.Time, lookback int) (*models.BarWindow, error)
	// TradeDates lists the symbol's bar dates inside [from, to], ascending.
	TradeDates(ctx context.Context, code, period string, from, to time.Time) ([]time.Time, error)
	// LatestTradeDate returns the most recent trade date in the archive.
	LatestTradeDate(ctx context.Context, period string) (time.Time, error)
}

// GormArchive reads bars from the stock_bars table.
type GormArchive struct {
	db *gorm.DB
}

func NewGormArchive(db *gorm.DB) *GormArchive {
	return &GormArchive{db: db}
}

func (a *GormArchive) Window(ctx context.Context, code, period string, asOf time.Time, lookback int) (*models.BarWindow, error) {
	var bars []models.Bar
	err := store.WithRetry(ctx, func() error {
		bars = bars[:0]
		return a.db.WithContext(ctx).
			Where("code = ? AND period = ? AND trade_date <= ?", code, period, asOf).
			Order("trade_date DESC").
			Limit(lookback).
			Find(&bars).Error
	})
	if err != nil {
		return nil, fmt.Errorf("load bars for %s: %w", code, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, code, period)
	}

	// reverse into chronological order
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return WindowFromBars(code, period, bars), nil
}

func (a *GormArchive) TradeDates(ctx context.Context, code, period string, from, to time.Time) ([]time.Time, error) {
	var dates []time.Time
	err := store.WithRetry(ctx, func() error {
		dates = dates[:0]
		return a.db.WithContext(ctx).Model(&models.Bar{}).
			Where("code = ? AND period = ? AND trade_date BETWEEN ? AND ?", code, period, from, to).
			Order("trade_date").
			Pluck("trade_date", &dates).Error
	})
	if err != nil {
		return nil, fmt.Errorf("load trade dates for %s: %w", code, err)
	}
	return dates, nil
}

func (a *GormArchive) LatestTradeDate(ctx context.Context, period string) (time.Time, error) {
	var d *time.Time
	err := store.WithRetry(ctx, func() error {
		d = nil
		return a.db.WithContext(ctx).Model(&models.Bar{}).
			Where("period = ?", period).
			Select("MAX(trade_date)").
			Scan(&d).Error
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("latest trade date: %w", err)
	}
	if d == nil {
		return time.Time{}, fmt.Errorf("%w: archive is empty", ErrNotFound)
	}
	return *d, nil
}

// WindowFromBars converts stored rows into the evaluator's float64 window.
// Bars are expected in chronological order.
func WindowFromBars(code, period string, bars []models.Bar) *models.BarWindow {
	n := len(bars)
	w := &models.BarWindow{
		Code:     code,
		Period:   period,
		Dates:    make([]time.Time, n),
		Open:     make([]float64, n),
		High:     make([]float64, n),
		Low:      make([]float64, n),
		Close:    make([]float64, n),
		Volume:   make([]float64, n),
		Amount:   make([]float64, n),
		Turnover: make([]float64, n),
	}
	for i, b := range bars {
		w.Dates[i] = b.TradeDate
		w.Open[i], _ = b.Open.Float64()
		w.High[i], _ = b.High.Float64()
		w.Low[i], _ = b.Low.Float64()
		w.Close[i], _ = b.Close.Float64()
		w.Volume[i] = float64(b.Volume)
		w.Amount[i], _ = b.Amount.Float64()
		w.Turnover[i], _ = b.TurnoverRate.Float64()
	}
	return w
}
