package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/alert"
)

// AddAlertOptions carry the fields for a new alert rule.
type AddAlertOptions struct {
	Owner           string
	Symbol          string
	Kind            string
	Comparison      string
	Threshold       string
	DurationMinutes int
}

// AddAlert validates and persists a new alert rule for an existing instrument.
func (a *App) AddAlert(ctx context.Context, opts AddAlertOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	inst, err := store.GetInstrumentBySymbol(ctx, opts.Symbol)
	if err != nil {
		return err
	}

	threshold, err := decimal.NewFromString(opts.Threshold)
	if err != nil {
		return fmt.Errorf("invalid threshold price %q: %w", opts.Threshold, err)
	}

	rule, err := store.CreateRule(ctx, alert.Rule{
		Owner:           opts.Owner,
		InstrumentID:    inst.ID,
		Symbol:          inst.Symbol,
		Kind:            alert.Kind(opts.Kind),
		Comparison:      alert.Comparison(opts.Comparison),
		Threshold:       threshold,
		DurationMinutes: opts.DurationMinutes,
	})
	if err != nil {
		return err
	}

	a.Logger.Info().
		Int64("rule_id", rule.ID).
		Str("symbol", rule.Symbol).
		Str("kind", string(rule.Kind)).
		Msg("alert rule created")
	fmt.Fprintf(os.Stdout, "created alert rule %d\n", rule.ID)
	return nil
}

// ListAlerts prints the active alert rules.
func (a *App) ListAlerts(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rules, err := store.ListActiveRules(ctx)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Fprintln(os.Stdout, "no active alert rules")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tOwner\tSymbol\tKind\tCondition\tHold\tPending Since")

	for _, rule := range rules {
		hold := ""
		if rule.Kind == alert.KindDuration {
			hold = fmt.Sprintf("%dm", rule.DurationMinutes)
		}
		pending := ""
		if rule.ConditionFirstMetAt != nil {
			pending = rule.ConditionFirstMetAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s %s\t%s\t%s\n",
			rule.ID,
			rule.Owner,
			rule.Symbol,
			rule.Kind,
			rule.Comparison,
			rule.Threshold.StringFixed(2),
			hold,
			pending,
		)
	}

	writer.Flush()
	return nil
}

// DeleteAlert removes an alert rule and its trigger history.
func (a *App) DeleteAlert(ctx context.Context, ruleID int64) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.DeleteRule(ctx, ruleID); err != nil {
		return err
	}

	a.Logger.Info().Int64("rule_id", ruleID).Msg("alert rule deleted")
	return nil
}
