/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the budget engine service: store, scheduler,
  HTTP surface, graceful shutdown.

CONFIGURATION:
  Environment variables (BUDGET_ prefix) with flag overrides:

    BUDGET_PORT            HTTP port               (default 8080)
    BUDGET_DB              SQLite path             (default budgets.db)
    BUDGET_TICK_INTERVAL   Scheduler tick          (default 1h)
    BUDGET_DEDUP_WINDOW    Alert dedup window      (default 24h)
    BUDGET_LOG_LEVEL       zerolog level           (default info)

  Use -db=":memory:" for an in-memory database.

SHUTDOWN:
  On SIGINT/SIGTERM: stop the scheduler (finishing the in-flight tick),
  drain HTTP with a 30s timeout, close the database.

SEE ALSO:
  - api/server.go: Router configuration
  - scheduler: the tick loop started here
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/warp/budget-engine/api"
	"github.com/warp/budget-engine/engine"
	"github.com/warp/budget-engine/scheduler"
	"github.com/warp/budget-engine/store/sqlite"
)

type config struct {
	Port         int           `default:"8080"`
	DB           string        `default:"budgets.db"`
	TickInterval time.Duration `split_words:"true" default:"1h"`
	DedupWindow  time.Duration `split_words:"true" default:"24h"`
	LogLevel     string        `split_words:"true" default:"info"`
}

func main() {
	var cfg config
	if err := envconfig.Process("budget", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DB, "db", cfg.DB, "SQLite database path")
	flag.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "scheduler tick interval")
	flag.Parse()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	store, err := sqlite.New(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("opening database failed")
	}
	defer store.Close()

	opts := engine.DefaultOptions()
	opts.DedupWindow = cfg.DedupWindow

	sched := scheduler.New(scheduler.Config{
		Budgets:      store,
		Audit:        store,
		Templates:    store,
		History:      store,
		Sink:         &logSink{log: log},
		Expenses:     &logExpenses{log: log},
		Options:      opts,
		TickInterval: cfg.TickInterval,
		Log:          log.With().Str("component", "scheduler").Logger(),
	})
	sched.Start()
	defer sched.Stop()

	router := api.NewRouter(api.NewHandler(sched))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}

// logSink is the default alert sink when no push/email delivery is wired:
// alerts land in the log, and the history store keeps them queryable.
type logSink struct {
	log zerolog.Logger
}

func (s *logSink) Deliver(_ context.Context, e engine.AlertEvent) error {
	s.log.Warn().
		Str("budget", string(e.BudgetID)).
		Str("kind", string(e.Kind)).
		Str("severity", string(e.Severity)).
		Str("current", e.CurrentAmount.String()).
		Str("cap", e.BudgetAmount.String()).
		Msg("budget alert")
	return nil
}

// logExpenses stands in for the expense-creation collaborator when the
// engine runs standalone; materialized drafts are logged and acknowledged.
type logExpenses struct {
	log zerolog.Logger
}

func (c *logExpenses) CreateExpense(_ context.Context, d engine.ExpenseDraft) error {
	c.log.Info().
		Str("template", string(d.TemplateID)).
		Str("date", d.Date.String()).
		Str("amount", d.Amount.String()).
		Msg("recurring expense materialized")
	return nil
}
