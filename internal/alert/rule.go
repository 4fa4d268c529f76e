package alert

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind selects how a rule decides to fire.
type Kind string

const (
	// KindThreshold fires the instant the price crosses the bound.
	KindThreshold Kind = "threshold"
	// KindDuration fires only after the price stays across the bound
	// continuously for the configured number of minutes.
	KindDuration Kind = "duration"
)

// Comparison is the direction of the price check.
type Comparison string

const (
	ComparisonAbove Comparison = "above"
	ComparisonBelow Comparison = "below"
)

// Rule is one user-defined alert. Duration rules carry tracking state that is
// written back only on state transitions.
type Rule struct {
	ID              int64
	Owner           string
	InstrumentID    int64
	Symbol          string
	Kind            Kind
	Comparison      Comparison
	Threshold       decimal.Decimal
	DurationMinutes int
	Active          bool

	ConditionFirstMetAt   *time.Time
	ConditionCurrentlyMet bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Duration returns the required hold time for duration rules.
func (r Rule) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// conditionMet applies the strict comparison. Equality never counts.
func (r Rule) conditionMet(price decimal.Decimal) bool {
	switch r.Comparison {
	case ComparisonAbove:
		return price.GreaterThan(r.Threshold)
	case ComparisonBelow:
		return price.LessThan(r.Threshold)
	default:
		return false
	}
}

// ValidationError reports a rule rejected at the creation boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid alert rule: %s %s", e.Field, e.Reason)
}

// Validate checks the kind/duration coupling and value ranges. It normalises
// threshold rules by clearing any stray duration.
func (r *Rule) Validate() error {
	switch r.Kind {
	case KindThreshold, KindDuration:
	default:
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("must be %q or %q", KindThreshold, KindDuration)}
	}

	switch r.Comparison {
	case ComparisonAbove, ComparisonBelow:
	default:
		return &ValidationError{Field: "comparison", Reason: fmt.Sprintf("must be %q or %q", ComparisonAbove, ComparisonBelow)}
	}

	if r.Owner == "" {
		return &ValidationError{Field: "owner", Reason: "is required"}
	}

	if !r.Threshold.IsPositive() {
		return &ValidationError{Field: "threshold", Reason: "must be greater than zero"}
	}

	if r.Kind == KindDuration && r.DurationMinutes < 1 {
		return &ValidationError{Field: "duration_minutes", Reason: "must be at least 1 for duration rules"}
	}
	if r.Kind == KindThreshold {
		r.DurationMinutes = 0
	}

	return nil
}
