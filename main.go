package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"tdx_screener/config"
	"tdx_screener/models"
	"tdx_screener/scheduler"
	"tdx_screener/services/archive"
	"tdx_screener/services/cache"
	"tdx_screener/services/runlock"
	"tdx_screener/services/screener"
	"tdx_screener/services/store"
)

var (
	flagRuleName  string
	flagTradeDate string
	flagCode      string
	flagPeriod    string
	flagFrom      string
	flagTo        string
	flagCursor    string
	flagLimit     int
)

var rootCmd = &cobra.Command{
	Use:   "tdx-screener",
	Short: "TDX formula stock screener and indicator cache",
	Long: `tdx-screener evaluates TDX-dialect stock selection rules against the
daily bar archive, maintains the derived indicator cache (MACD, KDJ, trend
lines) and stores per trade date pick results.`,
}

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Run one rule for one trade date",
	RunE:  runScreen,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill missing indicator cache rows for one symbol",
	RunE:  runBackfill,
}

var picksCmd = &cobra.Command{
	Use:   "picks",
	Short: "List stored picks for one rule and trade date",
	RunE:  runPicks,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run the daily pipeline scheduler in the foreground",
	RunE:  runJobs,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := bootstrap()
		if err != nil {
			return err
		}
		return models.MigrateStockModels(db)
	},
}

func init() {
	screenCmd.Flags().StringVar(&flagRuleName, "rule-name", "b1", "rule name (rules/<name>.tdx)")
	screenCmd.Flags().StringVar(&flagTradeDate, "trade-date", "", "trade date YYYY-MM-DD (default: latest in archive)")

	backfillCmd.Flags().StringVar(&flagCode, "code", "", "symbol code")
	backfillCmd.Flags().StringVar(&flagPeriod, "period", models.PeriodDaily, "bar period: daily or weekly")
	backfillCmd.Flags().StringVar(&flagFrom, "from", "", "range start YYYY-MM-DD")
	backfillCmd.Flags().StringVar(&flagTo, "to", "", "range end YYYY-MM-DD")
	backfillCmd.MarkFlagRequired("code")
	backfillCmd.MarkFlagRequired("from")
	backfillCmd.MarkFlagRequired("to")

	picksCmd.Flags().StringVar(&flagRuleName, "rule-name", "b1", "rule name")
	picksCmd.Flags().StringVar(&flagTradeDate, "trade-date", "", "trade date YYYY-MM-DD")
	picksCmd.Flags().StringVar(&flagCursor, "cursor", "", "pagination cursor (last code of previous page)")
	picksCmd.Flags().IntVar(&flagLimit, "limit", 50, "page size (max 50)")
	picksCmd.MarkFlagRequired("trade-date")

	rootCmd.AddCommand(screenCmd, backfillCmd, picksCmd, jobsCmd, migrateCmd)
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, *gorm.DB, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func runScreen(cmd *cobra.Command, args []string) error {
	cfg, db, err := bootstrap()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	bars := archive.NewGormArchive(db)
	tradeDate, err := resolveTradeDate(ctx, bars, flagTradeDate)
	if err != nil {
		return err
	}
	text, err := screener.LoadRule(cfg.RuleDir, flagRuleName)
	if err != nil {
		return err
	}

	orch := screener.NewOrchestrator(
		bars,
		store.NewGormUniverseStore(db),
		store.NewGormPickStore(db),
		runlock.NewAdvisoryLock(db, cfg.LockKey),
		cfg.Workers,
		cfg.LookbackBars,
		log.Logger,
	)
	res, err := orch.RunScreen(ctx, flagRuleName, text, tradeDate)
	if err != nil {
		return err
	}
	fmt.Printf("rule=%s trade_date=%s picked=%d evaluated=%d skipped=%d failed=%d\n",
		res.RuleName, res.TradeDate.Format("2006-01-02"),
		len(res.Picks), res.Evaluated, res.Skipped, len(res.Failures))
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	_, db, err := bootstrap()
	if err != nil {
		return err
	}
	from, err := parseDate(flagFrom)
	if err != nil {
		return err
	}
	to, err := parseDate(flagTo)
	if err != nil {
		return err
	}
	coord := cache.NewCoordinator(
		archive.NewGormArchive(db),
		store.NewGormIndicatorStore(db),
		log.Logger,
	)
	rows, err := coord.Ensure(cmd.Context(), flagCode, flagPeriod, from, to)
	if err != nil {
		return err
	}
	fmt.Printf("code=%s period=%s rows=%d\n", flagCode, flagPeriod, len(rows))
	return nil
}

func runPicks(cmd *cobra.Command, args []string) error {
	_, db, err := bootstrap()
	if err != nil {
		return err
	}
	tradeDate, err := parseDate(flagTradeDate)
	if err != nil {
		return err
	}
	picks := store.NewGormPickStore(db)
	rows, err := picks.List(cmd.Context(), flagRuleName, tradeDate, flagCursor, flagLimit)
	if err != nil {
		return err
	}
	for _, r := range rows {
		line := map[string]any{"code": r.Code, "name": r.Name, "exchange": r.Exchange}
		if len(r.Metrics) > 0 {
			var m map[string]any
			if json.Unmarshal(r.Metrics, &m) == nil {
				line["metrics"] = m
			}
		}
		b, _ := json.Marshal(line)
		fmt.Println(string(b))
	}
	return nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, db, err := bootstrap()
	if err != nil {
		return err
	}
	bars := archive.NewGormArchive(db)
	universe := store.NewGormUniverseStore(db)
	coord := cache.NewCoordinator(bars, store.NewGormIndicatorStore(db), log.Logger)
	// the scheduler holds the pipeline lock across backfill and every rule
	// run, so the inner orchestrator must not try to re-acquire it
	orch := screener.NewOrchestrator(
		bars,
		universe,
		store.NewGormPickStore(db),
		runlock.NoopLocker{},
		cfg.Workers,
		cfg.LookbackBars,
		log.Logger,
	)
	sched := scheduler.NewScheduler(cfg, bars, coord, universe, orch,
		runlock.NewAdvisoryLock(db, cfg.LockKey), log.Logger)
	sched.Start()
	defer sched.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")
	return nil
}

func resolveTradeDate(ctx context.Context, bars archive.BarArchive, s string) (time.Time, error) {
	if s == "" {
		return bars.LatestTradeDate(ctx, models.PeriodDaily)
	}
	return parseDate(s)
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", s, err)
	}
	return d, nil
}
