package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdx_screener/config"
	"tdx_screener/models"
	"tdx_screener/services/archive"
	"tdx_screener/services/cache"
	"tdx_screener/services/runlock"
	"tdx_screener/services/screener"
)

// memArchive serves fixed per-symbol closes, one bar per weekday ending at
// the same latest trade date for every symbol.
type memArchive struct {
	bars map[string][]float64
	last time.Time
}

func (a *memArchive) dates(code string) []time.Time {
	n := len(a.bars[code])
	out := make([]time.Time, n)
	d := a.last
	for i := n - 1; i >= 0; i-- {
		out[i] = d
		d = d.AddDate(0, 0, -1)
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, -1)
		}
	}
	return out
}

func (a *memArchive) Window(_ context.Context, code, period string, asOf time.Time, lookback int) (*models.BarWindow, error) {
	closes, ok := a.bars[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", archive.ErrNotFound, code, period)
	}
	dates := a.dates(code)
	end := 0
	for i, d := range dates {
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
		Dates:  append([]time.Time(nil), dates[start:end]...),
		Open:   make([]float64, n),
		High:   make([]float64, n),
		Low:    make([]float64, n),
		Close:  append([]float64(nil), closes[start:end]...),
		Volume: make([]float64, n),
		Amount: make([]float64, n),
	}
	for i := range w.Close {
		w.Open[i] = w.Close[i]
		w.High[i] = w.Close[i] + 0.2
		w.Low[i] = w.Close[i] - 0.2
	}
	return w, nil
}

func (a *memArchive) TradeDates(_ context.Context, code, _ string, from, to time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, d := range a.dates(code) {
		if !d.Before(from) && !d.After(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (a *memArchive) LatestTradeDate(context.Context, string) (time.Time, error) {
	return a.last, nil
}

type memUniverse struct {
	symbols []models.Symbol
}

func (u *memUniverse) Symbols(context.Context) ([]models.Symbol, error) {
	return append([]models.Symbol(nil), u.symbols...), nil
}

// memIndicatorStore counts upserted cache rows.
type memIndicatorStore struct {
	rows     map[string]models.IndicatorRow
	upserted int
}

func newMemIndicatorStore() *memIndicatorStore {
	return &memIndicatorStore{rows: make(map[string]models.IndicatorRow)}
}

func (s *memIndicatorStore) Rows(_ context.Context, code, period string, from, to time.Time) ([]models.IndicatorRow, error) {
	var out []models.IndicatorRow
	for _, r := range s.rows {
		if r.Code == code && r.Period == period &&
			!r.TradeDate.Before(from) && !r.TradeDate.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memIndicatorStore) Upsert(_ context.Context, rows []models.IndicatorRow) error {
	s.upserted += len(rows)
	for _, r := range rows {
		s.rows[r.Code+"|"+r.TradeDate.Format("2006-01-02")+"|"+r.Period] = r
	}
	return nil
}

// memPickStore counts run replacements.
type memPickStore struct {
	runs     map[string][]models.PickRow
	replaces int
}

func newMemPickStore() *memPickStore {
	return &memPickStore{runs: make(map[string][]models.PickRow)}
}

func (s *memPickStore) ReplaceRun(_ context.Context, rule string, d time.Time, rows []models.PickRow) error {
	s.replaces++
	s.runs[rule+"|"+d.Format("2006-01-02")] = append([]models.PickRow(nil), rows...)
	return nil
}

func (s *memPickStore) List(_ context.Context, rule string, d time.Time, cursor string, limit int) ([]models.PickRow, error) {
	return s.runs[rule+"|"+d.Format("2006-01-02")], nil
}

func (s *memPickStore) Count(_ context.Context, rule string, d time.Time) (int64, error) {
	return int64(len(s.runs[rule+"|"+d.Format("2006-01-02")])), nil
}

// memLock mimics the advisory lock at the pipeline boundary.
type memLock struct {
	held     bool
	acquires int
}

func (l *memLock) Acquire(context.Context) (runlock.Lease, error) {
	l.acquires++
	if l.held {
		return nil, runlock.ErrConcurrentRun
	}
	l.held = true
	return &memLease{l: l}, nil
}

type memLease struct{ l *memLock }

func (le *memLease) Release(context.Context) error {
	le.l.held = false
	return nil
}

type pipelineFixture struct {
	sched *Scheduler
	lock  *memLock
	ind   *memIndicatorStore
	picks *memPickStore
}

func newPipelineFixture(t *testing.T, lock *memLock) *pipelineFixture {
	t.Helper()
	ruleDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(ruleDir, "demo.tdx"),
		[]byte("选股: CLOSE > 20;\n"), 0o644))

	tradeDate := time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC) // a Friday
	arch := &memArchive{
		last: tradeDate,
		bars: map[string][]float64{
			"600000": risingCloses(40, 25), // picked
			"600519": risingCloses(40, 15), // not picked
		},
	}
	uni := &memUniverse{symbols: []models.Symbol{
		{Code: "600000", Name: "浦发银行", Exchange: "SH"},
		{Code: "600519", Name: "贵州茅台", Exchange: "SH"},
	}}
	ind := newMemIndicatorStore()
	picks := newMemPickStore()

	cfg := &config.Config{
		RuleDir:      ruleDir,
		Rules:        []string{"demo"},
		Workers:      2,
		LookbackBars: 40,
		PipelineAt:   "16:00",
	}
	// the scheduler owns the pipeline lock; inner rule runs must not
	// re-acquire it
	orch := screener.NewOrchestrator(arch, uni, picks, runlock.NoopLocker{},
		cfg.Workers, cfg.LookbackBars, zerolog.Nop())
	coord := cache.NewCoordinator(arch, ind, zerolog.Nop())
	sched := NewScheduler(cfg, arch, coord, uni, orch, lock, zerolog.Nop())
	return &pipelineFixture{sched: sched, lock: lock, ind: ind, picks: picks}
}

func risingCloses(n int, last float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = last - 0.1*float64(n-1-i)
	}
	return out
}

func TestRunDailyPipelineBackfillsThenScreens(t *testing.T) {
	lock := &memLock{}
	fx := newPipelineFixture(t, lock)

	require.NoError(t, fx.sched.RunDailyPipeline(context.Background()))

	assert.Greater(t, fx.ind.upserted, 0, "backfill must write cache rows")
	assert.Equal(t, 1, fx.picks.replaces)
	run := fx.picks.runs["demo|2025-06-06"]
	require.Len(t, run, 1)
	assert.Equal(t, "600000", run[0].Code)
	assert.False(t, lock.held, "lock released after the run")
}

func TestRunDailyPipelineLockCoversAllPhases(t *testing.T) {
	lock := &memLock{held: true}
	fx := newPipelineFixture(t, lock)

	err := fx.sched.RunDailyPipeline(context.Background())
	require.ErrorIs(t, err, runlock.ErrConcurrentRun)

	// the losing invocation performs no writes at all
	assert.Zero(t, fx.ind.upserted, "no cache rows while the lock is held")
	assert.Zero(t, fx.picks.replaces, "no pick runs while the lock is held")
}

func TestRunDailyPipelineAcquiresLockOnce(t *testing.T) {
	lock := &memLock{}
	fx := newPipelineFixture(t, lock)

	require.NoError(t, fx.sched.RunDailyPipeline(context.Background()))
	assert.Equal(t, 1, lock.acquires, "one acquisition for the whole pipeline")
}
