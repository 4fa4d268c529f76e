package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/alert"
	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/market"
	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/notify"
	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/storage"
)

type fakeStore struct {
	mu sync.Mutex

	instruments map[int64]storage.Instrument
	latest      map[int64]struct {
		price decimal.Decimal
		ts    time.Time
	}
	observations []storage.PriceObservation
	rules        map[int64]alert.Rule
	triggers     map[int64]storage.TriggerEvent

	nextObservationID int64
	nextTriggerID     int64

	latestPriceErr error
	fireErr        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		instruments: make(map[int64]storage.Instrument),
		latest: make(map[int64]struct {
			price decimal.Decimal
			ts    time.Time
		}),
		rules:    make(map[int64]alert.Rule),
		triggers: make(map[int64]storage.TriggerEvent),
	}
}

func (f *fakeStore) addInstrument(inst storage.Instrument) {
	f.instruments[inst.ID] = inst
}

func (f *fakeStore) addRule(rule alert.Rule) {
	f.rules[rule.ID] = rule
}

func (f *fakeStore) setLatest(instrumentID int64, price decimal.Decimal, ts time.Time) {
	f.latest[instrumentID] = struct {
		price decimal.Decimal
		ts    time.Time
	}{price, ts}
}

func (f *fakeStore) UpsertInstrument(_ context.Context, inst storage.Instrument) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.instruments {
		if existing.Symbol == inst.Symbol {
			inst.ID = id
			f.instruments[id] = inst
			return id, nil
		}
	}
	inst.ID = int64(len(f.instruments) + 1)
	f.instruments[inst.ID] = inst
	return inst.ID, nil
}

func (f *fakeStore) ListActiveInstruments(context.Context) ([]storage.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.Instrument, 0, len(f.instruments))
	for _, inst := range f.instruments {
		if inst.Active {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *fakeStore) GetInstrumentBySymbol(_ context.Context, symbol string) (storage.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.instruments {
		if inst.Symbol == symbol {
			return inst, nil
		}
	}
	return storage.Instrument{}, errors.New("instrument not found")
}

func (f *fakeStore) UpdateLatestPrice(_ context.Context, instrumentID int64, price decimal.Decimal, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.instruments[instrumentID]
	inst.LatestPrice = &price
	inst.LatestPriceAt = &at
	f.instruments[instrumentID] = inst
	return nil
}

func (f *fakeStore) SetInstrumentActive(_ context.Context, symbol string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, inst := range f.instruments {
		if inst.Symbol == symbol {
			inst.Active = active
			f.instruments[id] = inst
			return nil
		}
	}
	return errors.New("instrument not found")
}

func (f *fakeStore) InsertObservation(_ context.Context, obs storage.PriceObservation) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextObservationID++
	obs.ID = f.nextObservationID
	f.observations = append(f.observations, obs)
	return obs.ID, nil
}

func (f *fakeStore) LatestPrice(_ context.Context, instrumentID int64) (decimal.Decimal, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestPriceErr != nil {
		return decimal.Decimal{}, time.Time{}, f.latestPriceErr
	}
	entry, ok := f.latest[instrumentID]
	if !ok {
		return decimal.Decimal{}, time.Time{}, storage.ErrNoPriceData
	}
	return entry.price, entry.ts, nil
}

func (f *fakeStore) ListObservationsBetween(context.Context, int64, time.Time, time.Time) ([]storage.PriceObservation, error) {
	return nil, nil
}

func (f *fakeStore) ListRecentObservations(context.Context, int) ([]storage.PriceObservation, error) {
	return nil, nil
}

func (f *fakeStore) DeleteObservationsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.observations[:0]
	var deleted int64
	for _, obs := range f.observations {
		if obs.Timestamp.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, obs)
	}
	f.observations = kept
	return deleted, nil
}

func (f *fakeStore) CreateRule(_ context.Context, rule alert.Rule) (alert.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule.ID = int64(len(f.rules) + 1)
	rule.Active = true
	f.rules[rule.ID] = rule
	return rule, nil
}

func (f *fakeStore) ListActiveRules(context.Context) ([]alert.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]alert.Rule, 0, len(f.rules))
	for _, rule := range f.rules {
		if rule.Active {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (f *fakeStore) GetRule(_ context.Context, id int64) (alert.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule, ok := f.rules[id]
	if !ok {
		return alert.Rule{}, errors.New("rule not found")
	}
	return rule, nil
}

func (f *fakeStore) UpdateDurationState(_ context.Context, id int64, firstMetAt *time.Time, currentlyMet bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule, ok := f.rules[id]
	if !ok {
		return errors.New("rule not found")
	}
	rule.ConditionFirstMetAt = firstMetAt
	rule.ConditionCurrentlyMet = currentlyMet
	f.rules[id] = rule
	return nil
}

func (f *fakeStore) FireAlert(_ context.Context, rule alert.Rule, price decimal.Decimal, at time.Time) (storage.TriggerEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fireErr != nil {
		return storage.TriggerEvent{}, f.fireErr
	}
	stored, ok := f.rules[rule.ID]
	if !ok || !stored.Active {
		return storage.TriggerEvent{}, storage.ErrRuleInactive
	}
	stored.Active = false
	stored.ConditionFirstMetAt = nil
	stored.ConditionCurrentlyMet = false
	f.rules[rule.ID] = stored

	f.nextTriggerID++
	event := storage.TriggerEvent{
		ID:           f.nextTriggerID,
		AlertID:      rule.ID,
		Symbol:       rule.Symbol,
		Owner:        rule.Owner,
		TriggerPrice: price,
		TriggeredAt:  at,
	}
	f.triggers[event.ID] = event
	return event, nil
}

func (f *fakeStore) DeleteRule(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rules, id)
	return nil
}

func (f *fakeStore) MarkTriggerNotified(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.triggers[id]
	if !ok {
		return errors.New("trigger not found")
	}
	event.Notified = true
	event.NotifiedAt = &at
	event.NotifyError = nil
	f.triggers[id] = event
	return nil
}

func (f *fakeStore) MarkTriggerNotifyFailed(_ context.Context, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.triggers[id]
	if !ok {
		return errors.New("trigger not found")
	}
	event.Notified = false
	event.NotifyError = &reason
	f.triggers[id] = event
	return nil
}

func (f *fakeStore) ListRecentTriggers(context.Context, int) ([]storage.TriggerEvent, error) {
	return nil, nil
}

func (f *fakeStore) DeleteTriggersBefore(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for id, event := range f.triggers {
		if event.TriggeredAt.Before(olderThan) {
			delete(f.triggers, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeFetcher struct {
	mu     sync.Mutex
	quotes map[string]market.Quote
	errs   map[string]error
	calls  []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		quotes: make(map[string]market.Quote),
		errs:   make(map[string]error),
	}
}

func (f *fakeFetcher) Quote(_ context.Context, symbol string) (market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbol)
	if err, ok := f.errs[symbol]; ok {
		return market.Quote{}, err
	}
	quote, ok := f.quotes[symbol]
	if !ok {
		return market.Quote{}, market.ErrSymbolNotFound
	}
	return quote, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func newTestService(store *fakeStore, fetcher QuoteFetcher, notifier notify.Notifier) *Service {
	return New(store, store, store, store, fetcher, notifier, nil, Options{
		FetchWorkers:  2,
		PriceWindow:   30 * 24 * time.Hour,
		TriggerWindow: 30 * 24 * time.Hour,
	}, zerolog.Nop())
}

func TestPriceCyclePersistsQuotes(t *testing.T) {
	store := newFakeStore()
	store.addInstrument(storage.Instrument{ID: 1, Symbol: "AAPL", Active: true})
	store.addInstrument(storage.Instrument{ID: 2, Symbol: "MSFT", Active: true})

	now := time.Date(2024, 7, 2, 14, 30, 0, 0, time.UTC)
	fetcher := newFakeFetcher()
	fetcher.quotes["AAPL"] = market.Quote{Symbol: "AAPL", Price: decimal.NewFromFloat(205.25), Timestamp: now}
	fetcher.quotes["MSFT"] = market.Quote{Symbol: "MSFT", Price: decimal.NewFromFloat(441.10), Timestamp: now}

	svc := newTestService(store, fetcher, nil)

	result, err := svc.RunPriceCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Succeeded)
	assert.Zero(t, result.Failed)

	require.Len(t, store.observations, 2)
	apple, err := store.GetInstrumentBySymbol(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, apple.LatestPrice)
	assert.True(t, apple.LatestPrice.Equal(decimal.NewFromFloat(205.25)))
}

func TestPriceCycleIsolatesPerInstrumentFailures(t *testing.T) {
	store := newFakeStore()
	store.addInstrument(storage.Instrument{ID: 1, Symbol: "AAPL", Active: true})
	store.addInstrument(storage.Instrument{ID: 2, Symbol: "BOGUS", Active: true})

	now := time.Now().UTC()
	fetcher := newFakeFetcher()
	fetcher.quotes["AAPL"] = market.Quote{Symbol: "AAPL", Price: decimal.NewFromInt(200), Timestamp: now}
	fetcher.errs["BOGUS"] = market.ErrSymbolNotFound

	svc := newTestService(store, fetcher, nil)

	result, err := svc.RunPriceCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, store.observations, 1)
}

func TestPriceCycleCountsClosedMarketAsSkip(t *testing.T) {
	store := newFakeStore()
	store.addInstrument(storage.Instrument{ID: 1, Symbol: "AAPL", Active: true})

	fetcher := newFakeFetcher()
	fetcher.errs["AAPL"] = market.ErrMarketClosed

	svc := newTestService(store, fetcher, nil)

	result, err := svc.RunPriceCycle(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Failed)
	assert.Empty(t, store.observations)
}

func TestPriceCycleAbortsOnQuotaExhaustion(t *testing.T) {
	store := newFakeStore()
	store.addInstrument(storage.Instrument{ID: 1, Symbol: "AAPL", Active: true})

	fetcher := newFakeFetcher()
	fetcher.errs["AAPL"] = market.ErrQuotaExhausted

	svc := newTestService(store, fetcher, nil)

	_, err := svc.RunPriceCycle(context.Background(), time.Now().UTC())
	require.ErrorIs(t, err, market.ErrQuotaExhausted)
}

func TestAlertCycleFiresThresholdRule(t *testing.T) {
	store := newFakeStore()
	store.addInstrument(storage.Instrument{ID: 1, Symbol: "AAPL", Name: "Apple Inc.", Active: true})
	store.addRule(alert.Rule{
		ID: 10, Owner: "trader@example.com", InstrumentID: 1, Symbol: "AAPL",
		Kind: alert.KindThreshold, Comparison: alert.ComparisonAbove,
		Threshold: decimal.NewFromInt(200), Active: true,
	})
	now := time.Date(2024, 7, 2, 14, 35, 0, 0, time.UTC)
	store.setLatest(1, decimal.NewFromFloat(205.25), now)

	notifier := &fakeNotifier{}
	svc := newTestService(store, newFakeFetcher(), notifier)

	result, err := svc.RunAlertCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Evaluated)
	assert.Equal(t, 1, result.Triggered)
	assert.Zero(t, result.Failed)

	rule, err := store.GetRule(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, rule.Active, "a fired rule must be deactivated")

	require.Len(t, store.triggers, 1)
	event := store.triggers[1]
	assert.True(t, event.TriggerPrice.Equal(decimal.NewFromFloat(205.25)))
	assert.True(t, event.Notified)

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "trader@example.com", notifier.messages[0].To)
	assert.Contains(t, notifier.messages[0].Subject, "AAPL above $200.00")
}

func TestAlertCycleDurationRuleWaitsForHold(t *testing.T) {
	store := newFakeStore()
	store.addInstrument(storage.Instrument{ID: 1, Symbol: "AAPL", Active: true})
	store.addRule(alert.Rule{
		ID: 11, Owner: "trader@example.com", InstrumentID: 1, Symbol: "AAPL",
		Kind: alert.KindDuration, Comparison: alert.ComparisonAbove,
		Threshold: decimal.NewFromInt(200), DurationMinutes: 15, Active: true,
	})

	start := time.Date(2024, 7, 2, 14, 0, 0, 0, time.UTC)
	store.setLatest(1, decimal.NewFromFloat(201.00), start)

	svc := newTestService(store, newFakeFetcher(), nil)

	// First met tick starts the clock; nothing fires yet.
	result, err := svc.RunAlertCycle(context.Background(), start)
	require.NoError(t, err)
	assert.Zero(t, result.Triggered)

	rule, err := store.GetRule(context.Background(), 11)
	require.NoError(t, err)
	require.NotNil(t, rule.ConditionFirstMetAt)
	assert.True(t, rule.ConditionCurrentlyMet)
	assert.True(t, rule.Active)

	// Five minutes in the hold is still running.
	result, err = svc.RunAlertCycle(context.Background(), start.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, result.Triggered)

	// Hold complete.
	result, err = svc.RunAlertCycle(context.Background(), start.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Triggered)

	rule, err = store.GetRule(context.Background(), 11)
	require.NoError(t, err)
	assert.False(t, rule.Active)
}

func TestAlertCycleSkipsRulesWithoutPriceData(t *testing.T) {
	store := newFakeStore()
	store.addInstrument(storage.Instrument{ID: 1, Symbol: "AAPL", Active: true})
	store.addInstrument(storage.Instrument{ID: 2, Symbol: "MSFT", Active: true})
	store.addRule(alert.Rule{
		ID: 20, Owner: "a@example.com", InstrumentID: 1, Symbol: "AAPL",
		Kind: alert.KindThreshold, Comparison: alert.ComparisonAbove,
		Threshold: decimal.NewFromInt(200), Active: true,
	})
	store.addRule(alert.Rule{
		ID: 21, Owner: "b@example.com", InstrumentID: 2, Symbol: "MSFT",
		Kind: alert.KindThreshold, Comparison: alert.ComparisonBelow,
		Threshold: decimal.NewFromInt(500), Active: true,
	})
	// Only MSFT has data.
	now := time.Now().UTC()
	store.setLatest(2, decimal.NewFromFloat(441.10), now)

	svc := newTestService(store, newFakeFetcher(), nil)

	result, err := svc.RunAlertCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Evaluated)
	assert.Equal(t, 1, result.Triggered)
	assert.Equal(t, 1, result.Failed)
}

func TestAlertCycleLostFireRaceIsNotAnError(t *testing.T) {
	store := newFakeStore()
	store.addInstrument(storage.Instrument{ID: 1, Symbol: "AAPL", Active: true})
	store.addRule(alert.Rule{
		ID: 30, Owner: "trader@example.com", InstrumentID: 1, Symbol: "AAPL",
		Kind: alert.KindThreshold, Comparison: alert.ComparisonAbove,
		Threshold: decimal.NewFromInt(200), Active: true,
	})
	now := time.Now().UTC()
	store.setLatest(1, decimal.NewFromFloat(205.25), now)
	store.fireErr = storage.ErrRuleInactive

	notifier := &fakeNotifier{}
	svc := newTestService(store, newFakeFetcher(), notifier)

	result, err := svc.RunAlertCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, result.Triggered)
	assert.Zero(t, result.Failed)
	assert.Empty(t, notifier.messages, "losing the fire race must not notify")
}

func TestAlertCycleRecordsNotificationFailure(t *testing.T) {
	store := newFakeStore()
	store.addInstrument(storage.Instrument{ID: 1, Symbol: "AAPL", Active: true})
	store.addRule(alert.Rule{
		ID: 40, Owner: "trader@example.com", InstrumentID: 1, Symbol: "AAPL",
		Kind: alert.KindThreshold, Comparison: alert.ComparisonAbove,
		Threshold: decimal.NewFromInt(200), Active: true,
	})
	now := time.Now().UTC()
	store.setLatest(1, decimal.NewFromFloat(205.25), now)

	notifier := &fakeNotifier{err: errors.New("smtp unavailable")}
	svc := newTestService(store, newFakeFetcher(), notifier)

	result, err := svc.RunAlertCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Triggered, "the firing stands even when delivery fails")

	event := store.triggers[1]
	assert.False(t, event.Notified)
	require.NotNil(t, event.NotifyError)
	assert.Contains(t, *event.NotifyError, "smtp unavailable")
}

func TestRetentionCyclePurgesOldRows(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	old := now.Add(-60 * 24 * time.Hour)

	store.observations = []storage.PriceObservation{
		{ID: 1, InstrumentID: 1, Price: decimal.NewFromInt(100), Timestamp: old},
		{ID: 2, InstrumentID: 1, Price: decimal.NewFromInt(101), Timestamp: now},
	}
	store.triggers[1] = storage.TriggerEvent{ID: 1, AlertID: 1, TriggeredAt: old}
	store.triggers[2] = storage.TriggerEvent{ID: 2, AlertID: 1, TriggeredAt: now}

	svc := newTestService(store, newFakeFetcher(), nil)

	result, err := svc.RunRetentionCycle(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ObservationsDeleted)
	assert.Equal(t, int64(1), result.TriggersDeleted)
	assert.Len(t, store.observations, 1)
	assert.Len(t, store.triggers, 1)
}

func TestEvaluateRuleRejectsInactiveRule(t *testing.T) {
	store := newFakeStore()
	store.addRule(alert.Rule{
		ID: 50, InstrumentID: 1, Symbol: "AAPL",
		Kind: alert.KindThreshold, Comparison: alert.ComparisonAbove,
		Threshold: decimal.NewFromInt(200), Active: false,
	})

	svc := newTestService(store, newFakeFetcher(), nil)

	_, err := svc.EvaluateRule(context.Background(), 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestRefreshInstrumentFetchesOnDemand(t *testing.T) {
	store := newFakeStore()
	store.addInstrument(storage.Instrument{ID: 1, Symbol: "AAPL", Active: true})

	now := time.Now().UTC()
	fetcher := newFakeFetcher()
	fetcher.quotes["AAPL"] = market.Quote{Symbol: "AAPL", Price: decimal.NewFromFloat(205.25), Timestamp: now}

	svc := newTestService(store, fetcher, nil)

	inst, err := svc.RefreshInstrument(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, inst.LatestPrice)
	assert.True(t, inst.LatestPrice.Equal(decimal.NewFromFloat(205.25)))
	assert.Equal(t, []string{"AAPL"}, fetcher.calls)
	assert.Len(t, store.observations, 1)
}

func TestSeedInstrumentsUpserts(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeFetcher(), nil)

	err := svc.SeedInstruments(context.Background(), []storage.Instrument{
		{Symbol: "AAPL", Name: "Apple Inc.", Exchange: "NASDAQ"},
		{Symbol: "MSFT", Name: "Microsoft Corporation", Exchange: "NASDAQ"},
	})
	require.NoError(t, err)

	listed, err := store.ListActiveInstruments(context.Background())
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}
