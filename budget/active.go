package budget

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// ActivePeriod is the budget covering a date together with what is left of it.
type ActivePeriod struct {
	Budget         Budget
	Spent          decimal.Decimal
	TotalAvailable decimal.Decimal
	Remaining      decimal.Decimal // may be negative
	UsagePercent   decimal.Decimal // spent / totalAvailable * 100, 0 when nothing is available
	DaysInCycle    int
	RemainingDays  int
}

var hundred = decimal.NewFromInt(100)

// GetActivePeriod returns the budget whose cycle contains asOf without
// creating anything. Returns ErrNoActiveBudget when the chain has not been
// brought up to date for asOf.
func (in *Instantiator) GetActivePeriod(ctx context.Context, owner Owner, accountBookID, categoryID string, asOf Date) (*ActivePeriod, error) {
	chain := ChainKey{Owner: owner, AccountBookID: accountBookID, CategoryID: categoryID}
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		return nil, fmt.Errorf("%w: zero as-of date", ErrInvalidDate)
	}

	b, err := in.activeBudget(ctx, chain, asOf)
	if err != nil {
		return nil, err
	}

	q := SpendQuery{Owner: owner, AccountBookID: accountBookID, CategoryID: categoryID, Cycle: b.Cycle}
	spent, err := in.spend.SumSpend(ctx, q)
	if err != nil {
		return nil, &AggregationError{Query: q, Err: err}
	}

	total := b.TotalAvailable()
	usage := decimal.Zero
	if total.IsPositive() {
		usage = spent.Div(total).Mul(hundred).Round(2)
	}

	return &ActivePeriod{
		Budget:         *b,
		Spent:          spent,
		TotalAvailable: total,
		Remaining:      total.Sub(spent),
		UsagePercent:   usage,
		DaysInCycle:    b.Cycle.Days(),
		RemainingDays:  b.Cycle.RemainingDays(asOf),
	}, nil
}

func (in *Instantiator) activeBudget(ctx context.Context, chain ChainKey, asOf Date) (*Budget, error) {
	latest, err := in.store.FindLatest(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("find latest budget for %s: %w", chain, err)
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %s has no budgets", ErrNoActiveBudget, chain)
	}
	if latest.Cycle.Contains(asOf) {
		return latest, nil
	}

	cycle, err := ComputeCycle(asOf, latest.RefreshDay)
	if err != nil {
		return nil, err
	}
	b, err := in.store.FindByKey(ctx, chain, cycle.Start)
	if err != nil {
		return nil, fmt.Errorf("find budget %s %s: %w", chain, cycle, err)
	}
	if b == nil || !b.Cycle.Contains(asOf) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoActiveBudget, chain, asOf)
	}
	return b, nil
}

// History returns the chain's transitions and their replay summary.
func (in *Instantiator) History(ctx context.Context, chain ChainKey) ([]HistoryEntry, ChainSummary, error) {
	entries, err := NewHistoryLedger(in.store).FindByChain(ctx, chain)
	if err != nil {
		return nil, ChainSummary{}, err
	}
	return entries, Replay(entries), nil
}
