/*
history.go - Append-only record of cycle transitions

PURPOSE:
  Every budget except the first of its chain was produced by closing the
  previous cycle. The History Ledger keeps one entry per closing so that any
  rollover amount can be explained after the fact.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. ONE ENTRY PER CLOSING: (budget id, cycle label) is unique. A second
     writer observes the first writer's entry and succeeds.
  3. CHAINED: entry[n].RolloverIn == entry[n-1].RolloverOut for an unbroken
     rollover chain.

REPLAY:
  For an unbroken chain with an uncapped policy

    finalRollover = initialRollover + sum(budgetAmount) - sum(spent)

  ADJUSTMENT entries are manual corrections written outside the engine; they
  are tolerated and their delta is folded into the summary.

SEE ALSO:
  - rollover.go: Produces the numbers recorded here
  - store.go: HistoryRepository
*/
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// HISTORY LEDGER
// =============================================================================

type HistoryLedger struct {
	Repo HistoryRepository
	now  func() time.Time
}

func NewHistoryLedger(repo HistoryRepository) *HistoryLedger {
	return &HistoryLedger{Repo: repo, now: time.Now}
}

// Append writes e once. A duplicate (BudgetID, CycleLabel) is success and
// returns the entry already stored.
func (l *HistoryLedger) Append(ctx context.Context, e HistoryEntry) (HistoryEntry, error) {
	if e.BudgetID == "" {
		return HistoryEntry{}, fmt.Errorf("history entry: missing budget id")
	}
	if _, err := ParseCycleLabel(e.CycleLabel); err != nil {
		return HistoryEntry{}, err
	}
	if err := e.Chain.Validate(); err != nil {
		return HistoryEntry{}, err
	}
	if e.EntryType == "" {
		e.EntryType = EntryRollover
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}

	stored, _, err := l.Repo.AppendHistory(ctx, e)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("append history %s %s: %w", e.BudgetID, e.CycleLabel, err)
	}
	return stored, nil
}

// FindByChain returns the chain's entries ordered by CreatedAt.
func (l *HistoryLedger) FindByChain(ctx context.Context, chain ChainKey) ([]HistoryEntry, error) {
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	return l.Repo.FindHistory(ctx, chain)
}

// =============================================================================
// REPLAY - Reconstruct how a rollover amount arose
// =============================================================================

// ChainSummary folds a chain's history.
type ChainSummary struct {
	Transitions     int
	Adjustments     int
	InitialRollover decimal.Decimal
	TotalBudgeted   decimal.Decimal
	TotalSpent      decimal.Decimal
	TotalAdjusted   decimal.Decimal
	FinalRollover   decimal.Decimal

	// Breaks lists the labels whose RolloverIn does not match the previous
	// RolloverOut: rollover was off, a cap applied, or a cycle is missing.
	Breaks []string
}

// Expected is what FinalRollover must equal for an unbroken chain.
func (s ChainSummary) Expected() decimal.Decimal {
	return s.InitialRollover.Add(s.TotalBudgeted).Sub(s.TotalSpent).Add(s.TotalAdjusted)
}

// Consistent reports whether the telescoping identity holds.
func (s ChainSummary) Consistent() bool {
	return len(s.Breaks) == 0 && s.FinalRollover.Equal(s.Expected())
}

// Replay folds entries, which must be in chain order.
func Replay(entries []HistoryEntry) ChainSummary {
	s := ChainSummary{
		InitialRollover: decimal.Zero,
		TotalBudgeted:   decimal.Zero,
		TotalSpent:      decimal.Zero,
		TotalAdjusted:   decimal.Zero,
		FinalRollover:   decimal.Zero,
	}

	first := true
	for _, e := range entries {
		if e.EntryType == EntryAdjustment {
			s.Adjustments++
			delta := e.RolloverOut.Sub(e.RolloverIn)
			s.TotalAdjusted = s.TotalAdjusted.Add(delta)
			s.FinalRollover = s.FinalRollover.Add(delta)
			continue
		}

		if first {
			s.InitialRollover = e.RolloverIn
			first = false
		} else if !e.RolloverIn.Equal(s.FinalRollover) {
			s.Breaks = append(s.Breaks, e.CycleLabel)
		}

		s.Transitions++
		s.TotalBudgeted = s.TotalBudgeted.Add(e.BudgetAmount)
		s.TotalSpent = s.TotalSpent.Add(e.SpentAmount)
		s.FinalRollover = e.RolloverOut
	}
	return s
}
