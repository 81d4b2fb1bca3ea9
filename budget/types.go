package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BUDGET - One materialized cycle's allocation
// =============================================================================

// Budget is created once per (chain, cycle start) and never mutated by the
// engine afterwards.
type Budget struct {
	ID            string
	Owner         Owner
	AccountBookID string
	CategoryID    string // empty = whole account book

	Amount     decimal.Decimal // base allocation for this cycle
	RefreshDay RefreshDay
	Cycle      Cycle

	RolloverEnabled bool
	RolloverAmount  decimal.Decimal // carried in from the prior cycle

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b Budget) Chain() ChainKey {
	return ChainKey{Owner: b.Owner, AccountBookID: b.AccountBookID, CategoryID: b.CategoryID}
}

// TotalAvailable is the base amount plus whatever was carried in.
func (b Budget) TotalAvailable() decimal.Decimal {
	return b.Amount.Add(b.RolloverAmount)
}

func (b Budget) Validate() error {
	if err := b.Chain().Validate(); err != nil {
		return err
	}
	if !b.RefreshDay.Valid() {
		return &InvalidRefreshDayError{Day: int(b.RefreshDay)}
	}
	if b.Cycle.End.Before(b.Cycle.Start) {
		return ErrInvalidDate
	}
	return nil
}

// defaultBudget is the template for an owner that has never had a budget:
// zero allocation, no rollover, whole account book.
func defaultBudget(chain ChainKey, day RefreshDay) Budget {
	return Budget{
		Owner:         chain.Owner,
		AccountBookID: chain.AccountBookID,
		CategoryID:    chain.CategoryID,
		Amount:        decimal.Zero,
		RefreshDay:    day,
	}
}

// =============================================================================
// HISTORY ENTRY - One record per cycle closing
// =============================================================================

type EntryType string

const (
	EntryRollover   EntryType = "ROLLOVER"   // produced by the engine
	EntryAdjustment EntryType = "ADJUSTMENT" // manual correction, read-only here
)

// Outcome classifies how a cycle closed.
type Outcome string

const (
	OutcomeSurplus Outcome = "SURPLUS"
	OutcomeDeficit Outcome = "DEFICIT"
)

// HistoryEntry records the closing of BudgetID's cycle and the rollover it
// handed to NextBudgetID.
type HistoryEntry struct {
	ID         string
	BudgetID   string
	Chain      ChainKey
	CycleLabel string
	EntryType  EntryType

	BudgetAmount decimal.Decimal
	SpentAmount  decimal.Decimal
	RolloverIn   decimal.Decimal
	RolloverOut  decimal.Decimal
	Outcome      Outcome

	NextBudgetID string
	CreatedAt    time.Time
}

// =============================================================================
// RESULT - What EnsureBudgetsUpToDate reports back
// =============================================================================

// Warning codes.
const (
	WarnPeriodGapTooLarge = "PERIOD_GAP_TOO_LARGE"
	WarnRolloverAnomaly   = "ROLLOVER_ANOMALY"
)

type Warning struct {
	Code     string
	Chain    ChainKey
	OwnerRef string
	Message  string
}

// Result of one EnsureBudgetsUpToDate pass. Concurrent callers sharing a
// single-flight execution receive the same Result; treat it as read-only.
type Result struct {
	CreatedBudgetIDs []string
	Warnings         []Warning
	Failures         []OwnerFailure
}
