package app

import (
	"context"
	"fmt"
	"os"
	"time"
)

// SetInstrumentActive toggles fetching for one symbol. Deactivation keeps
// history and rules on record; the symbol just stops being fetched.
func (a *App) SetInstrumentActive(ctx context.Context, symbol string, active bool) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.SetInstrumentActive(ctx, symbol, active); err != nil {
		return err
	}

	a.Logger.Info().Str("symbol", symbol).Bool("active", active).Msg("instrument updated")
	return nil
}

// ShowQuota prints today's outbound API call count.
func (a *App) ShowQuota(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	today := time.Now().UTC()
	count, err := store.DailyCallCount(ctx, today)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s: %d api calls\n", today.Format("2006-01-02"), count)
	return nil
}
