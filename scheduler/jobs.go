package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"tdx_screener/config"
	"tdx_screener/models"
	"tdx_screener/services/archive"
	"tdx_screener/services/cache"
	"tdx_screener/services/runlock"
	"tdx_screener/services/screener"
	"tdx_screener/services/store"
)

// Scheduler wires the after-close pipeline: backfill the indicator cache for
// the universe, then run every configured rule for the latest trade date.
// The run time comes from configuration. The pipeline lock is taken here,
// once, covering both phases; pass the orchestrator a runlock.NoopLocker so
// the per-rule runs reuse the held lock instead of re-acquiring it.
type Scheduler struct {
	cron     *gocron.Scheduler
	cfg      *config.Config
	archive  archive.BarArchive
	backfill *cache.Coordinator
	universe store.UniverseStore
	orch     *screener.Orchestrator
	lock     runlock.Locker
	log      zerolog.Logger
}

func NewScheduler(cfg *config.Config, a archive.BarArchive, b *cache.Coordinator, u store.UniverseStore, o *screener.Orchestrator, l runlock.Locker, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     gocron.NewScheduler(time.Local),
		cfg:      cfg,
		archive:  a,
		backfill: b,
		universe: u,
		orch:     o,
		lock:     l,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the daily pipeline job and runs the scheduler in the
// background.
func (s *Scheduler) Start() {
	s.cron.Every(1).Day().At(s.cfg.PipelineAt).Do(func() {
		if err := s.RunDailyPipeline(context.Background()); err != nil {
			if errors.Is(err, runlock.ErrConcurrentRun) {
				s.log.Warn().Msg("daily pipeline already running, skip")
				return
			}
			s.log.Error().Err(err).Msg("daily pipeline failed")
		}
	})
	s.cron.StartAsync()
	s.log.Info().Str("at", s.cfg.PipelineAt).Msg("scheduler started")
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info().Msg("scheduler stopped")
}

// RunDailyPipeline refreshes the indicator cache for the universe, then
// screens every configured rule for the archive's latest trade date. The
// pipeline lock is acquired before anything is written; a losing invocation
// observes ErrConcurrentRun and leaves both the cache and the pick tables
// untouched.
func (s *Scheduler) RunDailyPipeline(ctx context.Context) error {
	lease, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	tradeDate, err := s.archive.LatestTradeDate(ctx, models.PeriodDaily)
	if err != nil {
		return err
	}
	if err := s.backfillUniverse(ctx, tradeDate); err != nil {
		return err
	}
	for _, rule := range s.cfg.Rules {
		text, err := screener.LoadRule(s.cfg.RuleDir, rule)
		if err != nil {
			s.log.Warn().Err(err).Str("rule", rule).Msg("rule not loadable, skip")
			continue
		}
		res, err := s.orch.RunScreen(ctx, rule, text, tradeDate)
		if err != nil {
			return err
		}
		s.log.Info().Str("rule", rule).
			Str("trade_date", tradeDate.Format("2006-01-02")).
			Int("picked", len(res.Picks)).
			Msg("pipeline rule done")
	}
	return nil
}

// backfillUniverse tops up the indicator cache with the last month of rows
// for every active symbol. Failed symbols degrade to missing cache rows and
// are recomputed lazily on first use.
func (s *Scheduler) backfillUniverse(ctx context.Context, tradeDate time.Time) error {
	symbols, err := s.universe.Symbols(ctx)
	if err != nil {
		return err
	}
	from := tradeDate.AddDate(0, -1, 0)
	failed := 0
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.backfill.Ensure(ctx, sym.Code, models.PeriodDaily, from, tradeDate); err != nil {
			failed++
			s.log.Warn().Err(err).Str("code", sym.Code).Msg("indicator backfill failed")
		}
	}
	s.log.Info().Int("symbols", len(symbols)).Int("failed", failed).Msg("indicator backfill done")
	return nil
}
