// Package alert holds the alert rule model and the condition evaluator.
//
// The evaluator is a pure function: it never touches storage. Duration rules
// carry a small state machine (unmet, pending since T, satisfied) whose state
// lives on the rule row; Evaluate reports the new state only when it changed,
// so callers write on transitions and skip steady-state re-evaluations.
package alert

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the evaluator's verdict for one observation.
type Action int

const (
	// NoAction means the rule stays as it is.
	NoAction Action = iota
	// Fire means the rule triggered and the caller must create a trigger
	// event and deactivate the rule in the same transaction.
	Fire
)

// Result describes the outcome of evaluating one rule against one price.
type Result struct {
	Action       Action
	TriggerPrice decimal.Decimal

	// StateChanged is set when the duration tracking fields transitioned and
	// must be persisted. FirstMetAt and CurrentlyMet carry the new values.
	StateChanged bool
	FirstMetAt   *time.Time
	CurrentlyMet bool
}

// Evaluate decides whether rule should fire given the current price at now.
//
// Threshold rules fire immediately on a strict crossing and keep no state.
// Duration rules never fire on the tick the condition first becomes true;
// they fire once the condition has held for at least the rule's duration, and
// any intervening false tick resets the clock.
func Evaluate(rule Rule, price decimal.Decimal, now time.Time) Result {
	met := rule.conditionMet(price)

	if rule.Kind == KindThreshold {
		if met {
			return Result{Action: Fire, TriggerPrice: price}
		}
		return Result{}
	}

	if !met {
		if rule.ConditionCurrentlyMet {
			// Pending or satisfied, condition broke: reset the clock.
			return Result{StateChanged: true, FirstMetAt: nil, CurrentlyMet: false}
		}
		return Result{}
	}

	if !rule.ConditionCurrentlyMet || rule.ConditionFirstMetAt == nil {
		// Condition just became true: enter pending, never fire yet.
		since := now
		return Result{StateChanged: true, FirstMetAt: &since, CurrentlyMet: true}
	}

	if now.Sub(*rule.ConditionFirstMetAt) >= rule.Duration() {
		// Satisfied. The caller deactivates the rule on fire, so this state
		// is never observed again on the same active rule.
		return Result{Action: Fire, TriggerPrice: price}
	}

	// Still pending, no persistence needed.
	return Result{}
}
