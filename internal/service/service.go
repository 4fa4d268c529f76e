// Package service orchestrates the periodic cycles: price fetching, alert
// evaluation, and retention. Per-item failures are collected into cycle
// summaries and never abort the remaining items.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/alert"
	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/market"
	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/notify"
	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/storage"
)

// QuoteFetcher retrieves one symbol's quote under the shared quota.
type QuoteFetcher interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
}

// Options tune the orchestrator.
type Options struct {
	FetchWorkers  int
	PriceLockKey  int64
	AlertLockKey  int64
	PriceWindow   time.Duration
	TriggerWindow time.Duration
}

// Service wires the fetcher, stores, and notifier into runnable cycles.
type Service struct {
	instruments storage.InstrumentStore
	prices      storage.PriceStore
	alerts      storage.AlertRuleStore
	triggers    storage.TriggerStore
	fetcher     QuoteFetcher
	notifier    notify.Notifier
	locker      storage.AdvisoryLocker
	opts        Options
	logger      zerolog.Logger
}

// New constructs the orchestrator. The notifier and locker may be nil.
func New(
	instruments storage.InstrumentStore,
	prices storage.PriceStore,
	alerts storage.AlertRuleStore,
	triggers storage.TriggerStore,
	fetcher QuoteFetcher,
	notifier notify.Notifier,
	locker storage.AdvisoryLocker,
	opts Options,
	logger zerolog.Logger,
) *Service {
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = 1
	}
	return &Service{
		instruments: instruments,
		prices:      prices,
		alerts:      alerts,
		triggers:    triggers,
		fetcher:     fetcher,
		notifier:    notifier,
		locker:      locker,
		opts:        opts,
		logger:      logger.With().Str("component", "service").Logger(),
	}
}

// PriceCycleResult summarises one fetch cycle.
type PriceCycleResult struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
}

// AlertCycleResult summarises one evaluation cycle.
type AlertCycleResult struct {
	Evaluated int
	Triggered int
	Failed    int
}

// RetentionResult summarises one cleanup cycle.
type RetentionResult struct {
	ObservationsDeleted int64
	TriggersDeleted     int64
}

// RunPriceCycle fetches quotes for all active instruments and appends them to
// the price series. Fan-out is bounded so concurrent fetches still queue on
// the shared limiter instead of double-spending the quota.
func (s *Service) RunPriceCycle(ctx context.Context, now time.Time) (PriceCycleResult, error) {
	unlock, proceed, err := s.acquireLock(ctx, s.opts.PriceLockKey)
	if err != nil {
		return PriceCycleResult{}, err
	}
	if !proceed {
		s.logger.Debug().Msg("skip price cycle; advisory lock held elsewhere")
		return PriceCycleResult{}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	instruments, err := s.instruments.ListActiveInstruments(ctx)
	if err != nil {
		return PriceCycleResult{}, fmt.Errorf("list active instruments: %w", err)
	}

	var (
		mu     sync.Mutex
		result PriceCycleResult
	)
	result.Processed = len(instruments)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.opts.FetchWorkers)

	for _, inst := range instruments {
		inst := inst
		group.Go(func() error {
			err := s.refreshInstrument(groupCtx, inst)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Succeeded++
			case errors.Is(err, market.ErrQuotaExhausted):
				// Integration failure: stop the cycle, not just the item.
				result.Failed++
				return err
			case errors.Is(err, market.ErrMarketClosed), errors.Is(err, market.ErrRateLimited):
				result.Skipped++
				s.logger.Debug().Err(err).Str("symbol", inst.Symbol).Msg("fetch skipped")
			default:
				result.Failed++
				s.logger.Warn().Err(err).Str("symbol", inst.Symbol).Msg("fetch failed")
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return result, fmt.Errorf("price cycle aborted: %w", err)
	}

	s.logger.Info().
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Time("cycle", now).
		Msg("price cycle complete")
	return result, nil
}

func (s *Service) refreshInstrument(ctx context.Context, inst storage.Instrument) error {
	quote, err := s.fetcher.Quote(ctx, inst.Symbol)
	if err != nil {
		return err
	}

	obs := storage.PriceObservation{
		InstrumentID: inst.ID,
		Symbol:       inst.Symbol,
		Price:        quote.Price,
		Open:         quote.Open,
		High:         quote.High,
		Low:          quote.Low,
		Close:        quote.Close,
		Volume:       quote.Volume,
		Timestamp:    quote.Timestamp,
	}
	if _, err := s.prices.InsertObservation(ctx, obs); err != nil {
		return fmt.Errorf("persist observation: %w", err)
	}
	if err := s.instruments.UpdateLatestPrice(ctx, inst.ID, quote.Price, quote.Timestamp); err != nil {
		return fmt.Errorf("cache latest price: %w", err)
	}
	return nil
}

// RunAlertCycle evaluates every active rule against its instrument's latest
// price. A failure on one rule never aborts the rest.
func (s *Service) RunAlertCycle(ctx context.Context, now time.Time) (AlertCycleResult, error) {
	unlock, proceed, err := s.acquireLock(ctx, s.opts.AlertLockKey)
	if err != nil {
		return AlertCycleResult{}, err
	}
	if !proceed {
		s.logger.Debug().Msg("skip alert cycle; advisory lock held elsewhere")
		return AlertCycleResult{}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	rules, err := s.alerts.ListActiveRules(ctx)
	if err != nil {
		return AlertCycleResult{}, fmt.Errorf("list active rules: %w", err)
	}

	var result AlertCycleResult
	for _, rule := range rules {
		if ctx.Err() != nil {
			// Deadline hit: abandon the remaining rules to the next cycle.
			s.logger.Warn().Int("remaining", len(rules)-result.Evaluated).Msg("alert cycle deadline reached")
			break
		}

		result.Evaluated++
		triggered, evalErr := s.evaluateRule(ctx, rule, now)
		if evalErr != nil {
			result.Failed++
			s.logger.Warn().Err(evalErr).Int64("rule_id", rule.ID).Str("symbol", rule.Symbol).Msg("rule evaluation failed")
			continue
		}
		if triggered {
			result.Triggered++
		}
	}

	s.logger.Info().
		Int("evaluated", result.Evaluated).
		Int("triggered", result.Triggered).
		Int("failed", result.Failed).
		Time("cycle", now).
		Msg("alert cycle complete")
	return result, nil
}

func (s *Service) evaluateRule(ctx context.Context, rule alert.Rule, now time.Time) (bool, error) {
	price, _, err := s.prices.LatestPrice(ctx, rule.InstrumentID)
	if err != nil {
		if errors.Is(err, storage.ErrNoPriceData) {
			return false, fmt.Errorf("no price data for %s: %w", rule.Symbol, err)
		}
		return false, err
	}

	res := alert.Evaluate(rule, price, now)

	if res.StateChanged {
		if err := s.alerts.UpdateDurationState(ctx, rule.ID, res.FirstMetAt, res.CurrentlyMet); err != nil {
			return false, fmt.Errorf("persist duration state: %w", err)
		}
	}

	if res.Action != alert.Fire {
		return false, nil
	}

	event, err := s.alerts.FireAlert(ctx, rule, res.TriggerPrice, now)
	if err != nil {
		if errors.Is(err, storage.ErrRuleInactive) {
			// Another evaluation already fired this crossing.
			return false, nil
		}
		return false, fmt.Errorf("fire alert: %w", err)
	}

	s.logger.Info().
		Int64("rule_id", rule.ID).
		Str("symbol", rule.Symbol).
		Str("price", res.TriggerPrice.String()).
		Msg("alert triggered")

	s.dispatch(ctx, rule, event)
	return true, nil
}

// dispatch sends the notification and records its outcome on the trigger
// event. Notification failure never reverses the firing.
func (s *Service) dispatch(ctx context.Context, rule alert.Rule, event storage.TriggerEvent) {
	if s.notifier == nil {
		return
	}

	instrumentName := rule.Symbol
	if inst, err := s.instruments.GetInstrumentBySymbol(ctx, rule.Symbol); err == nil {
		instrumentName = inst.Name
	}

	msg := notify.Render(rule, event, instrumentName)
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.Error().Err(err).Int64("trigger_id", event.ID).Msg("notification failed")
		if markErr := s.triggers.MarkTriggerNotifyFailed(ctx, event.ID, err.Error()); markErr != nil {
			s.logger.Error().Err(markErr).Int64("trigger_id", event.ID).Msg("failed to record notification error")
		}
		return
	}

	if err := s.triggers.MarkTriggerNotified(ctx, event.ID, time.Now().UTC()); err != nil {
		s.logger.Error().Err(err).Int64("trigger_id", event.ID).Msg("failed to record notification success")
	}
}

// RunRetentionCycle purges observations and triggers older than their
// retention windows.
func (s *Service) RunRetentionCycle(ctx context.Context, now time.Time) (RetentionResult, error) {
	var result RetentionResult

	observations, err := s.prices.DeleteObservationsBefore(ctx, now.Add(-s.opts.PriceWindow))
	if err != nil {
		return result, fmt.Errorf("purge observations: %w", err)
	}
	result.ObservationsDeleted = observations

	triggers, err := s.triggers.DeleteTriggersBefore(ctx, now.Add(-s.opts.TriggerWindow))
	if err != nil {
		return result, fmt.Errorf("purge triggers: %w", err)
	}
	result.TriggersDeleted = triggers

	s.logger.Info().
		Int64("observations_deleted", result.ObservationsDeleted).
		Int64("triggers_deleted", result.TriggersDeleted).
		Msg("retention cycle complete")
	return result, nil
}

// EvaluateRule evaluates one rule immediately, bypassing the cadence.
func (s *Service) EvaluateRule(ctx context.Context, ruleID int64) (bool, error) {
	rule, err := s.alerts.GetRule(ctx, ruleID)
	if err != nil {
		return false, err
	}
	if !rule.Active {
		return false, fmt.Errorf("alert rule %d is not active", ruleID)
	}
	return s.evaluateRule(ctx, rule, time.Now().UTC())
}

// RefreshInstrument fetches one symbol immediately, bypassing the cadence.
// The call still serialises through the shared limiter.
func (s *Service) RefreshInstrument(ctx context.Context, symbol string) (storage.Instrument, error) {
	inst, err := s.instruments.GetInstrumentBySymbol(ctx, symbol)
	if err != nil {
		return storage.Instrument{}, err
	}
	if err := s.refreshInstrument(ctx, inst); err != nil {
		return storage.Instrument{}, err
	}
	return s.instruments.GetInstrumentBySymbol(ctx, symbol)
}

// SeedInstruments upserts the configured instrument list.
func (s *Service) SeedInstruments(ctx context.Context, seeds []storage.Instrument) error {
	for _, seed := range seeds {
		seed.Active = true
		if _, err := s.instruments.UpsertInstrument(ctx, seed); err != nil {
			return err
		}
	}
	if len(seeds) > 0 {
		s.logger.Info().Int("count", len(seeds)).Msg("instrument seed list applied")
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	if key == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
