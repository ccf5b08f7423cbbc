package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tdx_screener/models"
	"tdx_screener/services/archive"
	"tdx_screener/services/indicator"
	"tdx_screener/services/store"
)

// SeedBars is how much extra history is read in front of the earliest
// missing row so the recursive functions are reseeded from raw bars. Twice
// the longest lookback keeps recursive drift below float noise; cached row
// values are never used as recursion state.
const SeedBars = 2 * indicator.LongestLookback

// Coordinator backfills the indicator cache row-granularly: it computes only
// the missing (symbol, trade_date) rows of a requested range and merges them
// into the persisted table.
type Coordinator struct {
	archive archive.BarArchive
	store   store.IndicatorStore
	log     zerolog.Logger
}

func NewCoordinator(a archive.BarArchive, s store.IndicatorStore, log zerolog.Logger) *Coordinator {
	return &Coordinator{archive: a, store: s, log: log.With().Str("component", "backfill").Logger()}
}

// Ensure returns the cached indicator rows for (code, period) over [from, to],
// computing and persisting any that are missing. A missing single day only
// triggers recomputation of the trailing window needed to reseed it.
func (c *Coordinator) Ensure(ctx context.Context, code, period string, from, to time.Time) ([]models.IndicatorRow, error) {
	barDates, err := c.archive.TradeDates(ctx, code, period, from, to)
	if err != nil {
		return nil, err
	}
	if len(barDates) == 0 {
		return nil, nil
	}

	cached, err := c.store.Rows(ctx, code, period, from, to)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(cached))
	for _, r := range cached {
		have[dateKey(r.TradeDate)] = true
	}

	var missing []time.Time
	for _, d := range barDates {
		if !have[dateKey(d)] {
			missing = append(missing, d)
		}
	}
	if len(missing) == 0 {
		return cached, nil
	}

	fresh, err := c.compute(ctx, code, period, missing, to, len(barDates))
	if err != nil {
		return nil, err
	}
	if err := c.store.Upsert(ctx, fresh); err != nil {
		return nil, err
	}
	c.log.Debug().Str("code", code).Str("period", period).
		Int("missing", len(missing)).Msg("backfilled indicator rows")

	merged := append(cached, fresh...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].TradeDate.Before(merged[j].TradeDate) })
	return merged, nil
}

// compute derives indicator columns over a window ending at `to` that covers
// every missing date plus the seed history, then keeps only the missing rows.
func (c *Coordinator) compute(ctx context.Context, code, period string, missing []time.Time, to time.Time, rangeBars int) ([]models.IndicatorRow, error) {
	w, err := c.archive.Window(ctx, code, period, to, rangeBars+SeedBars)
	if err != nil {
		return nil, fmt.Errorf("seed window for %s: %w", code, err)
	}
	cols := indicator.Derive(w)
	all := cols.Rows(w, time.Now())

	want := make(map[string]bool, len(missing))
	for _, d := range missing {
		want[dateKey(d)] = true
	}
	out := make([]models.IndicatorRow, 0, len(missing))
	for _, r := range all {
		if want[dateKey(r.TradeDate)] {
			out = append(out, r)
		}
	}
	return out, nil
}

func dateKey(t time.Time) string { return t.Format("2006-01-02") }
