package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/storage"
)

// Show prints recent price observations or recent trigger events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Triggers {
		return showTriggers(ctx, store, opts.Limit)
	}
	return showObservations(ctx, store, opts.Limit)
}

func showObservations(ctx context.Context, store *storage.Store, limit int) error {
	observations, err := store.ListRecentObservations(ctx, limit)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		fmt.Fprintln(os.Stdout, "no price observations found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tPrice\tOpen\tHigh\tLow\tClose\tVolume")

	for _, obs := range observations {
		volume := ""
		if obs.Volume != nil {
			volume = fmt.Sprintf("%d", *obs.Volume)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			obs.Timestamp.UTC().Format(time.RFC3339),
			obs.Symbol,
			obs.Price.StringFixed(2),
			formatOptionalDecimal(obs.Open),
			formatOptionalDecimal(obs.High),
			formatOptionalDecimal(obs.Low),
			formatOptionalDecimal(obs.Close),
			volume,
		)
	}

	writer.Flush()
	return nil
}

func showTriggers(ctx context.Context, store *storage.Store, limit int) error {
	triggers, err := store.ListRecentTriggers(ctx, limit)
	if err != nil {
		return err
	}
	if len(triggers) == 0 {
		fmt.Fprintln(os.Stdout, "no trigger events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Triggered (UTC)\tSymbol\tOwner\tPrice\tNotified\tError")

	for _, event := range triggers {
		errMsg := ""
		if event.NotifyError != nil {
			errMsg = sanitizeInline(*event.NotifyError)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%t\t%s\n",
			event.TriggeredAt.UTC().Format(time.RFC3339),
			event.Symbol,
			event.Owner,
			event.TriggerPrice.StringFixed(2),
			event.Notified,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func formatOptionalDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
