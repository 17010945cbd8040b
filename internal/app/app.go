package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pricefeed/pricefeed/internal/alerting"
	"github.com/pricefeed/pricefeed/internal/config"
	"github.com/pricefeed/pricefeed/internal/fetcher"
	"github.com/pricefeed/pricefeed/internal/httpapi"
	"github.com/pricefeed/pricefeed/internal/metrics"
	"github.com/pricefeed/pricefeed/internal/scheduler"
	"github.com/pricefeed/pricefeed/internal/service"
	"github.com/pricefeed/pricefeed/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() *fetcher.Deribit {
	feed := a.Config.Feed
	return fetcher.NewDeribit(fetcher.Options{
		BaseURL:     feed.BaseURL,
		Endpoint:    feed.Endpoint,
		Timeout:     feed.RequestTimeout,
		Concurrency: feed.Concurrency,
		UserAgent:   feed.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

// openStore connects to PostgreSQL and applies the schema when configured.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if !a.Config.Database.Configured() {
		return nil, nil, storage.ErrNotConfigured
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return store, store.Close, nil
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	opts := scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}
	if a.Config.Scheduler.Cron != "" {
		schedule, err := config.ParseCron(a.Config.Scheduler.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse scheduler.cron: %w", err)
		}
		opts.Schedule = schedule
		a.logSchedule(schedule)
	}
	return scheduler.New(opts, a.Logger), nil
}

func (a *App) logSchedule(schedule cron.Schedule) {
	a.Logger.Info().
		Str("cron", a.Config.Scheduler.Cron).
		Time("first_tick", schedule.Next(time.Now().UTC())).
		Msg("using cron schedule")
}

func (a *App) newService(sched *scheduler.Scheduler, feed fetcher.PriceFetcher, store storage.PriceWriter, m *metrics.Metrics) *service.Service {
	return service.New(service.Options{
		Tickers:   a.Config.ResolveTickers(),
		Retry:     a.Config.Retry,
		LockKey:   a.Config.Scheduler.AdvisoryLockKey,
		Scheduler: sched,
	}, feed, store, a.newNotifier(), m, a.Logger)
}

func (a *App) newHTTPServer(store *storage.Store, m *metrics.Metrics) *httpapi.Server {
	router := httpapi.NewRouter(httpapi.Options{
		Prefix:  a.Config.HTTP.Prefix,
		Reader:  store,
		Health:  store,
		Metrics: m,
	}, a.Logger)
	return httpapi.NewServer(a.Config.HTTP, router, a.Logger)
}

// Run executes the scheduled ingestion loop alongside the query API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	feed := a.newFetcher()
	defer feed.Close()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}

	m := metrics.New()
	svc := a.newService(sched, feed, store, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	if a.Config.HTTP.Enabled {
		srv := a.newHTTPServer(store, m)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	a.Logger.Info().
		Strs("tickers", a.Config.Feed.Tickers).
		Dur("interval", a.Config.Scheduler.Interval).
		Bool("http", a.Config.HTTP.Enabled).
		Msg("starting pricefeed")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("pricefeed terminated with error")
		return err
	}

	a.Logger.Info().Msg("pricefeed stopped")
	return nil
}

// Serve runs only the query API.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return a.newHTTPServer(store, metrics.New()).Run(ctx)
}

// Collect runs a single collection cycle now, with retries.
func (a *App) Collect(ctx context.Context) (service.CycleReport, error) {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return service.CycleReport{}, err
	}
	defer closeStore()

	feed := a.newFetcher()
	defer feed.Close()

	svc := a.newService(nil, feed, store, nil)
	return svc.RunCycle(ctx, time.Now().UTC())
}

// ExportOptions hold parameters for exporting stored observations.
type ExportOptions struct {
	Ticker    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Ticker string
	Limit  int
}
