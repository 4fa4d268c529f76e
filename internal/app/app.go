package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/config"
	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/market"
	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/notify"
	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/scheduler"
	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/service"
	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/storage"
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

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, storage.PoolConfig{
		DSN:             a.Config.Database.DSN,
		MaxOpenConns:    a.Config.Database.MaxOpenConns,
		MaxIdleConns:    a.Config.Database.MaxIdleConns,
		ConnMaxLifetime: a.Config.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newFetcher(recorder market.CallRecorder) (*market.Client, error) {
	limiter, err := market.NewLimiter(a.Config.Market.QuotaPerMinute, market.Policy(a.Config.Market.QuotaPolicy))
	if err != nil {
		return nil, err
	}

	calendar, err := market.NewCalendar(market.CalendarOptions{
		Enabled:  a.Config.Market.Hours.Enabled,
		Timezone: a.Config.Market.Hours.Timezone,
		Open:     a.Config.Market.Hours.Open,
		Close:    a.Config.Market.Hours.Close,
	})
	if err != nil {
		return nil, err
	}

	return market.NewClient(market.Options{
		BaseURL:          a.Config.Market.BaseURL,
		APIKey:           a.Config.Market.APIKey,
		Timeout:          a.Config.Market.RequestTimeout,
		UserAgent:        a.Config.Market.UserAgent,
		RejectionCeiling: a.Config.Market.RejectionCeiling,
	}, limiter, calendar, recorder, a.Logger), nil
}

func (a *App) newNotifier() notify.Notifier {
	if !a.Config.Notify.Enabled {
		return nil
	}
	cfg := a.Config.Notify.SMTP
	return notify.NewSMTPNotifier(notify.SMTPOptions{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	}, a.Logger)
}

func (a *App) newService(store *storage.Store, opts service.Options) (*service.Service, error) {
	fetcher, err := a.newFetcher(store)
	if err != nil {
		return nil, err
	}
	return service.New(store, store, store, store, fetcher, a.newNotifier(), store, opts, a.Logger), nil
}

// Run executes the long-running alerting service: the price cycle, the alert
// cycle, and the retention cycle, each on its own cadence.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store, service.Options{
		FetchWorkers:  a.Config.Scheduler.FetchWorkers,
		PriceLockKey:  a.Config.Scheduler.PriceLockKey,
		AlertLockKey:  a.Config.Scheduler.AlertLockKey,
		PriceWindow:   a.Config.Retention.PriceWindow,
		TriggerWindow: a.Config.Retention.TriggerWindow,
	})
	if err != nil {
		return err
	}

	if err := svc.SeedInstruments(ctx, a.seedInstruments()); err != nil {
		return fmt.Errorf("seed instruments: %w", err)
	}

	runner := scheduler.New(scheduler.Options{
		AlignToInterval: a.Config.Scheduler.AlignToInterval,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	runner.Add(scheduler.Job{
		Name:     "price_fetch",
		Interval: a.Config.Scheduler.PriceInterval,
		Tick: a.withCycleTimeout(func(ctx context.Context, tick time.Time) error {
			_, err := svc.RunPriceCycle(ctx, tick)
			return err
		}),
	})
	runner.Add(scheduler.Job{
		Name:     "alert_eval",
		Interval: a.Config.Scheduler.AlertInterval,
		Tick: a.withCycleTimeout(func(ctx context.Context, tick time.Time) error {
			_, err := svc.RunAlertCycle(ctx, tick)
			return err
		}),
	})
	runner.Add(scheduler.Job{
		Name:     "retention",
		Interval: a.Config.Scheduler.RetentionInterval,
		Tick: a.withCycleTimeout(func(ctx context.Context, tick time.Time) error {
			_, err := svc.RunRetentionCycle(ctx, tick)
			return err
		}),
	})

	a.Logger.Info().Msg("starting stock alerting service")
	err = runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("stock alerting service stopped")
	return nil
}

// withCycleTimeout bounds one tick so a stalled cycle yields to the next one.
func (a *App) withCycleTimeout(tick scheduler.TickFunc) scheduler.TickFunc {
	timeout := a.Config.Scheduler.CycleTimeout
	if timeout <= 0 {
		return tick
	}
	return func(ctx context.Context, at time.Time) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return tick(ctx, at)
	}
}

func (a *App) seedInstruments() []storage.Instrument {
	seeds := make([]storage.Instrument, 0, len(a.Config.Instruments))
	for _, seed := range a.Config.Instruments {
		seeds = append(seeds, storage.Instrument{
			Symbol:   seed.Symbol,
			Name:     seed.Name,
			Exchange: seed.Exchange,
		})
	}
	return seeds
}

// FetchOne refreshes a single symbol immediately, outside the fetch cadence.
func (a *App) FetchOne(ctx context.Context, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, a.Config.Scheduler.OnDemandTimeout)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store, service.Options{FetchWorkers: 1})
	if err != nil {
		return err
	}

	inst, err := svc.RefreshInstrument(ctx, symbol)
	if err != nil {
		return err
	}

	price := "n/a"
	if inst.LatestPrice != nil {
		price = inst.LatestPrice.StringFixed(2)
	}
	a.Logger.Info().Str("symbol", inst.Symbol).Str("price", price).Msg("instrument refreshed")
	return nil
}

// EvaluateOne evaluates a single alert rule immediately, outside the
// evaluation cadence.
func (a *App) EvaluateOne(ctx context.Context, ruleID int64) error {
	ctx, cancel := context.WithTimeout(ctx, a.Config.Scheduler.OnDemandTimeout)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store, service.Options{FetchWorkers: 1})
	if err != nil {
		return err
	}

	triggered, err := svc.EvaluateRule(ctx, ruleID)
	if err != nil {
		return err
	}

	if triggered {
		a.Logger.Info().Int64("rule_id", ruleID).Msg("alert rule fired")
	} else {
		a.Logger.Info().Int64("rule_id", ruleID).Msg("alert rule evaluated; condition not satisfied")
	}
	return nil
}

// ExportOptions hold parameters for exporting one instrument's price history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Triggers bool
}
