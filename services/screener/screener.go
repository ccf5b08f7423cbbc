package screener

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tdx_screener/models"
	"tdx_screener/services/archive"
	"tdx_screener/services/runlock"
	"tdx_screener/services/store"
	"tdx_screener/services/tdx"
)

// RunState tracks one screening run through its lifecycle.
type RunState int

const (
	StateInit RunState = iota
	StateResolveUniverse
	StateEvaluateEach
	StateAggregate
	StateDone
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateResolveUniverse:
		return "resolve_universe"
	case StateEvaluateEach:
		return "evaluate_each"
	case StateAggregate:
		return "aggregate"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// SymbolFailure records one symbol excluded from a run by a non-fatal error.
type SymbolFailure struct {
	Code string
	Err  error
}

// PickResult is the outcome of one (rule, trade date) run: the selected
// symbols in stable code-ascending order plus run accounting. Re-running the
// same rule on unchanged bars reproduces it exactly.
type PickResult struct {
	RuleName  string
	TradeDate time.Time
	Picks     []models.PickRow
	Evaluated int
	Skipped   int
	Failures  []SymbolFailure
	State     RunState
}

// Orchestrator runs parsed rules across the symbol universe for one trade
// date. Per-symbol evaluation is independent, so it fans out over a bounded
// worker pool; each worker owns its read-only bar window.
type Orchestrator struct {
	archive  archive.BarArchive
	universe store.UniverseStore
	picks    store.PickStore
	lock     runlock.Locker
	workers  int
	lookback int
	log      zerolog.Logger
}

// DefaultLookbackBars covers the longest trend lookback (MA114) with room to
// seed the recursive functions.
const DefaultLookbackBars = 300

func NewOrchestrator(a archive.BarArchive, u store.UniverseStore, p store.PickStore, l runlock.Locker, workers, lookbackBars int, log zerolog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 4
	}
	if lookbackBars <= 0 {
		lookbackBars = DefaultLookbackBars
	}
	return &Orchestrator{
		archive:  a,
		universe: u,
		picks:    p,
		lock:     l,
		workers:  workers,
		lookback: lookbackBars,
		log:      log.With().Str("component", "screener").Logger(),
	}
}

// RunScreen executes one rule for one trade date and persists the PickResult.
// Fatal rule errors (parse, unknown function, cyclic reference) surface
// before any symbol is evaluated; per-symbol failures only exclude that
// symbol. If another run holds the pipeline lock, ErrConcurrentRun is
// returned and nothing is written.
func (o *Orchestrator) RunScreen(ctx context.Context, ruleName, ruleText string, tradeDate time.Time) (*PickResult, error) {
	res := &PickResult{RuleName: ruleName, TradeDate: tradeDate, State: StateInit}

	f, err := tdx.Parse(ruleText)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("rule %s: %w", ruleName, err)
	}
	if err := tdx.Validate(f); err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("rule %s: %w", ruleName, err)
	}

	lease, err := o.lock.Acquire(ctx)
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	if err := o.run(ctx, f, res); err != nil {
		res.State = StateFailed
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, f *tdx.Formula, res *PickResult) error {
	res.State = StateResolveUniverse
	symbols, err := o.universe.Symbols(ctx)
	if err != nil {
		return err
	}
	constraints := tdx.UniverseConstraints(f)
	eligible := symbols[:0:0]
	for _, s := range symbols {
		meta := tdx.SymbolMeta{Code: s.Code, Name: s.Name, Exchange: s.Exchange}
		if metaMatches(meta, constraints) {
			eligible = append(eligible, s)
		}
	}
	o.log.Info().Str("rule", res.RuleName).
		Int("universe", len(symbols)).Int("eligible", len(eligible)).
		Msg("universe resolved")

	res.State = StateEvaluateEach
	picks, failures, evaluated, skipped := o.evaluateAll(ctx, f, res, eligible)
	if err := ctx.Err(); err != nil {
		// a cancelled run must not publish a partial result as complete
		return err
	}

	res.State = StateAggregate
	for i := range picks {
		picks[i].RuleName = res.RuleName
	}
	sort.Slice(picks, func(i, j int) bool { return picks[i].Code < picks[j].Code })
	res.Picks = picks
	res.Failures = failures
	res.Evaluated = evaluated
	res.Skipped = skipped

	if err := o.picks.ReplaceRun(ctx, res.RuleName, res.TradeDate, picks); err != nil {
		return err
	}
	res.State = StateDone
	o.log.Info().Str("rule", res.RuleName).
		Str("trade_date", res.TradeDate.Format("2006-01-02")).
		Int("picked", len(picks)).Int("evaluated", evaluated).
		Int("skipped", skipped).Int("failed", len(failures)).
		Msg("screen run done")
	return nil
}

func (o *Orchestrator) evaluateAll(ctx context.Context, f *tdx.Formula, res *PickResult, symbols []models.Symbol) (picks []models.PickRow, failures []SymbolFailure, evaluated, skipped int) {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan models.Symbol)
	)
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				pick, err := o.evaluateOne(ctx, f, res.TradeDate, sym)
				mu.Lock()
				switch {
				case errors.Is(err, errNoBarForDate):
					skipped++
				case errors.Is(err, tdx.ErrInsufficientHistory), errors.Is(err, archive.ErrNotFound):
					skipped++
					failures = append(failures, SymbolFailure{Code: sym.Code, Err: err})
				case err != nil:
					failures = append(failures, SymbolFailure{Code: sym.Code, Err: err})
				default:
					evaluated++
					if pick != nil {
						picks = append(picks, *pick)
					}
				}
				done := evaluated + skipped + len(failures)
				if done%200 == 0 {
					o.log.Info().Int("done", done).Int("total", len(symbols)).
						Int("picked", len(picks)).Msg("screen progress")
				}
				mu.Unlock()
			}
		}()
	}

	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		jobs <- sym
	}
	close(jobs)
	wg.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].Code < failures[j].Code })
	return picks, failures, evaluated, skipped
}

var errNoBarForDate = errors.New("no bar for trade date")

// evaluateOne runs the formula for one symbol. A nil pick with nil error
// means evaluated but not selected.
func (o *Orchestrator) evaluateOne(ctx context.Context, f *tdx.Formula, tradeDate time.Time, sym models.Symbol) (*models.PickRow, error) {
	w, err := o.archive.Window(ctx, sym.Code, models.PeriodDaily, tradeDate, o.lookback)
	if err != nil {
		return nil, err
	}
	last, ok := w.LastDate()
	if !ok || !sameDay(last, tradeDate) {
		// the symbol did not trade that day (suspension, delisting)
		return nil, errNoBarForDate
	}
	w.Name = sym.Name
	w.Exchange = sym.Exchange

	r, err := tdx.Evaluate(f, w)
	if err != nil {
		return nil, err
	}
	if !r.Picked(w.Len()) {
		return nil, nil
	}
	metrics, err := snapshotMetrics(r, w.Len())
	if err != nil {
		return nil, err
	}
	return &models.PickRow{
		TradeDate: tradeDate,
		Code:      sym.Code,
		Name:      sym.Name,
		Exchange:  sym.Exchange,
		Metrics:   metrics,
	}, nil
}

func metaMatches(m tdx.SymbolMeta, cs []tdx.Constraint) bool {
	for _, c := range cs {
		if !c.Match(m) {
			return false
		}
	}
	return true
}

func sameDay(a, b time.Time) bool {
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}
