package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdx_screener/models"
)

// memArchive serves one symbol's bars from memory.
type memArchive struct {
	code   string
	period string
	dates  []time.Time
	close  []float64
}

func (a *memArchive) Window(_ context.Context, code, period string, asOf time.Time, lookback int) (*models.BarWindow, error) {
	if code != a.code || period != a.period {
		return nil, fmt.Errorf("unknown symbol %s/%s", code, period)
	}
	end := 0
	for i, d := range a.dates {
		if !d.After(asOf) {
			end = i + 1
		}
	}
	start := end - lookback
	if start < 0 {
		start = 0
	}
	n := end - start
	w := &models.BarWindow{
		Code:   code,
		Period: period,
		Dates:  append([]time.Time(nil), a.dates[start:end]...),
		Open:   make([]float64, n),
		High:   make([]float64, n),
		Low:    make([]float64, n),
		Close:  append([]float64(nil), a.close[start:end]...),
		Volume: make([]float64, n),
		Amount: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		w.High[i] = w.Close[i] + 0.5
		w.Low[i] = w.Close[i] - 0.5
		w.Open[i] = w.Close[i]
	}
	return w, nil
}

func (a *memArchive) TradeDates(_ context.Context, code, period string, from, to time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, d := range a.dates {
		if !d.Before(from) && !d.After(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (a *memArchive) LatestTradeDate(context.Context, string) (time.Time, error) {
	return a.dates[len(a.dates)-1], nil
}

// memStore records upserts so tests can see exactly which rows were written.
type memStore struct {
	rows     map[string]models.IndicatorRow
	upserted [][]models.IndicatorRow
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]models.IndicatorRow)}
}

func (s *memStore) Rows(_ context.Context, code, period string, from, to time.Time) ([]models.IndicatorRow, error) {
	var out []models.IndicatorRow
	for _, r := range s.rows {
		if r.Code == code && r.Period == period &&
			!r.TradeDate.Before(from) && !r.TradeDate.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) Upsert(_ context.Context, rows []models.IndicatorRow) error {
	s.upserted = append(s.upserted, rows)
	for _, r := range rows {
		s.rows[r.Code+"|"+dateKey(r.TradeDate)+"|"+r.Period] = r
	}
	return nil
}

func fixtureArchive(n int) *memArchive {
	a := &memArchive{code: "600000", period: models.PeriodDaily}
	d := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		a.dates = append(a.dates, d)
		a.close = append(a.close, 10+0.3*float64(i%7)+0.01*float64(i))
		d = d.AddDate(0, 0, 1)
	}
	return a
}

func TestEnsureComputesAllWhenCacheEmpty(t *testing.T) {
	arch := fixtureArchive(30)
	st := newMemStore()
	co := NewCoordinator(arch, st, zerolog.Nop())

	from, to := arch.dates[0], arch.dates[29]
	rows, err := co.Ensure(context.Background(), "600000", models.PeriodDaily, from, to)
	require.NoError(t, err)
	require.Len(t, rows, 30)
	require.Len(t, st.upserted, 1)
	assert.Len(t, st.upserted[0], 30)
	for i, r := range rows {
		assert.Equal(t, arch.dates[i], r.TradeDate, "row %d out of order", i)
	}
}

func TestEnsureNoWritesWhenCacheComplete(t *testing.T) {
	arch := fixtureArchive(30)
	st := newMemStore()
	co := NewCoordinator(arch, st, zerolog.Nop())
	from, to := arch.dates[0], arch.dates[29]

	_, err := co.Ensure(context.Background(), "600000", models.PeriodDaily, from, to)
	require.NoError(t, err)
	require.Len(t, st.upserted, 1)

	rows, err := co.Ensure(context.Background(), "600000", models.PeriodDaily, from, to)
	require.NoError(t, err)
	assert.Len(t, rows, 30)
	assert.Len(t, st.upserted, 1, "second run must not write")
}

func TestEnsureBackfillsOnlyMissingRows(t *testing.T) {
	arch := fixtureArchive(30)
	st := newMemStore()
	co := NewCoordinator(arch, st, zerolog.Nop())

	// warm the first 20 days, then request the full range
	_, err := co.Ensure(context.Background(), "600000", models.PeriodDaily, arch.dates[0], arch.dates[19])
	require.NoError(t, err)
	require.Len(t, st.upserted, 1)

	rows, err := co.Ensure(context.Background(), "600000", models.PeriodDaily, arch.dates[0], arch.dates[29])
	require.NoError(t, err)
	require.Len(t, rows, 30)
	require.Len(t, st.upserted, 2)
	assert.Len(t, st.upserted[1], 10, "only the 10 uncached days are written")
	for _, r := range st.upserted[1] {
		assert.False(t, r.TradeDate.Before(arch.dates[20]))
	}
}

func TestBackfilledRowsMatchFullRecomputation(t *testing.T) {
	// history shorter than the seed window, so a partial backfill reseeds
	// from the same first bar as a full computation and must agree exactly
	arch := fixtureArchive(120)
	ctx := context.Background()

	full := newMemStore()
	fullRows, err := NewCoordinator(arch, full, zerolog.Nop()).
		Ensure(ctx, "600000", models.PeriodDaily, arch.dates[0], arch.dates[119])
	require.NoError(t, err)

	part := newMemStore()
	co := NewCoordinator(arch, part, zerolog.Nop())
	_, err = co.Ensure(ctx, "600000", models.PeriodDaily, arch.dates[0], arch.dates[99])
	require.NoError(t, err)
	partRows, err := co.Ensure(ctx, "600000", models.PeriodDaily, arch.dates[0], arch.dates[119])
	require.NoError(t, err)

	require.Len(t, partRows, len(fullRows))
	for i := range fullRows {
		f, p := fullRows[i], partRows[i]
		assert.Equal(t, f.TradeDate, p.TradeDate)
		assertSamePtr(t, f.MacdDif, p.MacdDif, "macd_dif", i)
		assertSamePtr(t, f.MacdDea, p.MacdDea, "macd_dea", i)
		assertSamePtr(t, f.KdjJ, p.KdjJ, "kdj_j", i)
		assertSamePtr(t, f.ShortTrendLine, p.ShortTrendLine, "short_trend_line", i)
		assertSamePtr(t, f.BullBearLine, p.BullBearLine, "bull_bear_line", i)
	}
}

func TestEnsureEmptyRangeIsNoop(t *testing.T) {
	arch := fixtureArchive(10)
	st := newMemStore()
	co := NewCoordinator(arch, st, zerolog.Nop())

	// a weekend-only range has no trade dates
	from := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	rows, err := co.Ensure(context.Background(), "600000", models.PeriodDaily, from, to)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, st.upserted)
}

func assertSamePtr(t *testing.T, a, b *float64, col string, i int) {
	t.Helper()
	if a == nil || b == nil {
		assert.Equal(t, a == nil, b == nil, "%s[%d] nil mismatch", col, i)
		return
	}
	assert.InDelta(t, *a, *b, 1e-9, "%s[%d]", col, i)
}
