/*
rollover.go - Closing a cycle and sizing the rollover into the next one

PURPOSE:
  At the end of a cycle the unspent (or overspent) balance is handed to the
  next cycle when the budget has rollover enabled.

ARITHMETIC:
  totalAvailable = amount + rolloverIn
  remaining      = totalAvailable - spent
  rolloverOut    = rolloverEnabled ? remaining : 0

  A negative remaining is a DEFICIT and, under the default policy, carries
  forward and shrinks the next cycle. RolloverPolicy can stop deficits from
  carrying or cap how deep they go.

EXAMPLE:
  amount 500, rolloverIn 0, spent 300 -> remaining 200, rolloverOut 200
  amount 500, rolloverIn 0, spent 650 -> remaining -150, rolloverOut -150

SEE ALSO:
  - instantiator.go: Feeds the spend aggregation into CloseCycle
  - history.go: Records every closing
*/
package budget

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLLOVER POLICY
// =============================================================================

// RolloverPolicy controls how deficits move between cycles.
type RolloverPolicy struct {
	// AllowDeficit carries negative remainders forward. When false a deficit
	// closes with a zero rollover.
	AllowDeficit bool

	// MaxDeficit caps the magnitude of a carried deficit. Nil = uncapped.
	MaxDeficit *decimal.Decimal
}

func DefaultRolloverPolicy() RolloverPolicy {
	return RolloverPolicy{AllowDeficit: true}
}

// Anomaly thresholds relative to the base amount.
var (
	anomalyRolloverMultiple = decimal.NewFromInt(5)
	anomalyDeficitRatio     = decimal.NewFromInt(2)
)

// =============================================================================
// CYCLE CLOSE
// =============================================================================

// CycleClose is the outcome of closing one budget cycle.
type CycleClose struct {
	BudgetID string
	Cycle    Cycle

	Amount         decimal.Decimal
	RolloverIn     decimal.Decimal
	Spent          decimal.Decimal
	TotalAvailable decimal.Decimal
	Remaining      decimal.Decimal

	OutgoingRollover decimal.Decimal
	Outcome          Outcome
}

// CloseCycle computes the remaining balance of prior and the rollover it
// hands to the next cycle.
func CloseCycle(prior Budget, spent decimal.Decimal, policy RolloverPolicy) CycleClose {
	total := prior.TotalAvailable()
	remaining := total.Sub(spent)

	c := CycleClose{
		BudgetID:         prior.ID,
		Cycle:            prior.Cycle,
		Amount:           prior.Amount,
		RolloverIn:       prior.RolloverAmount,
		Spent:            spent,
		TotalAvailable:   total,
		Remaining:        remaining,
		OutgoingRollover: decimal.Zero,
		Outcome:          OutcomeSurplus,
	}
	if remaining.IsNegative() {
		c.Outcome = OutcomeDeficit
	}

	if prior.RolloverEnabled {
		c.OutgoingRollover = policy.carry(remaining)
	}
	return c
}

func (p RolloverPolicy) carry(remaining decimal.Decimal) decimal.Decimal {
	if !remaining.IsNegative() {
		return remaining
	}
	if !p.AllowDeficit {
		return decimal.Zero
	}
	if p.MaxDeficit != nil && remaining.Abs().GreaterThan(p.MaxDeficit.Abs()) {
		return p.MaxDeficit.Abs().Neg()
	}
	return remaining
}

// Anomalies flags closings whose numbers look implausible for the budget
// size. They are reported, never corrected.
func (c CycleClose) Anomalies() []string {
	if !c.Amount.IsPositive() {
		return nil
	}

	var out []string
	if c.OutgoingRollover.Abs().GreaterThan(c.Amount.Mul(anomalyRolloverMultiple)) {
		out = append(out, fmt.Sprintf("rollover %s exceeds %sx the base amount %s",
			c.OutgoingRollover, anomalyRolloverMultiple, c.Amount))
	}
	if c.Remaining.IsNegative() && c.Remaining.Abs().Div(c.Amount).GreaterThan(anomalyDeficitRatio) {
		out = append(out, fmt.Sprintf("deficit %s is more than %s%% of the base amount %s",
			c.Remaining.Abs(), anomalyDeficitRatio.Mul(decimal.NewFromInt(100)), c.Amount))
	}
	return out
}

// HistoryEntry builds the ROLLOVER record for this closing.
func (c CycleClose) HistoryEntry(chain ChainKey, nextBudgetID string) HistoryEntry {
	return HistoryEntry{
		BudgetID:     c.BudgetID,
		Chain:        chain,
		CycleLabel:   c.Cycle.String(),
		EntryType:    EntryRollover,
		BudgetAmount: c.Amount,
		SpentAmount:  c.Spent,
		RolloverIn:   c.RolloverIn,
		RolloverOut:  c.OutgoingRollover,
		Outcome:      c.Outcome,
		NextBudgetID: nextBudgetID,
	}
}
