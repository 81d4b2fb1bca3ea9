/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines what the engine needs from the outside world. Storage, the owner
  directory and the spend ledger all belong to the surrounding application;
  the engine only sees these interfaces.

KEY INTERFACES:
  BudgetRepository:  Budget rows, create-if-absent on (chain, cycle start)
  HistoryRepository: Append-only cycle closings, deduped on (budget, label)
  TxStore:           Both, plus atomic multi-write
  OwnerDirectory:    Who is eligible for budgets in an account book
  SpendAggregator:   Expense totals over a cycle
  EventPublisher:    Optional notification of newly opened cycles

APPEND-ONLY CONTRACT:
  There is no Update or Delete. A budget is written once per
  (owner kind, owner ref, account book, category, cycle start) and a history
  entry once per (budget, cycle label). Losing a race on either key is not an
  error: the store hands back the row that won.

IMPLEMENTATIONS:
  - budget/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go: SQLite (default)
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - instantiator.go: Main consumer
*/
package budget

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Budgets and history (append-only)
// =============================================================================

type BudgetRepository interface {
	// ListChains returns every chain the owner has in the account book.
	// Returns ErrOwnerNotFound if the store does not know the owner.
	ListChains(ctx context.Context, owner Owner, accountBookID string) ([]ChainKey, error)

	// FindLatest returns the budget with the latest cycle start, or nil.
	FindLatest(ctx context.Context, chain ChainKey) (*Budget, error)

	// FindByKey returns the budget starting on cycleStart, or nil.
	FindByKey(ctx context.Context, chain ChainKey, cycleStart Date) (*Budget, error)

	// CreateIfAbsent inserts b unless its (chain, cycle start) exists.
	// Returns the stored budget and whether this call created it.
	CreateIfAbsent(ctx context.Context, b Budget) (Budget, bool, error)
}

type HistoryRepository interface {
	// AppendHistory inserts e unless (BudgetID, CycleLabel) exists.
	// Returns the stored entry and whether this call created it.
	AppendHistory(ctx context.Context, e HistoryEntry) (HistoryEntry, bool, error)

	// FindHistory returns the chain's entries ordered by CreatedAt.
	FindHistory(ctx context.Context, chain ChainKey) ([]HistoryEntry, error)
}

type Store interface {
	BudgetRepository
	HistoryRepository
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// OwnerDirectory lists the account holder and, for family books, the
// custodial members and the shared pseudo-owner.
type OwnerDirectory interface {
	ListEligibleOwners(ctx context.Context, accountBookID string) ([]Member, error)
}

// SpendQuery selects the expenses counted against one cycle of one chain.
type SpendQuery struct {
	Owner         Owner
	AccountBookID string
	CategoryID    string // empty = every category
	Cycle         Cycle
}

func (q SpendQuery) Chain() ChainKey {
	return ChainKey{Owner: q.Owner, AccountBookID: q.AccountBookID, CategoryID: q.CategoryID}
}

// SpendAggregator sums expenses. Read-only, may run concurrently.
type SpendAggregator interface {
	SumSpend(ctx context.Context, q SpendQuery) (decimal.Decimal, error)
}

// CycleOpenedEvent announces a newly created budget.
type CycleOpenedEvent struct {
	BudgetID       string          `json:"budget_id"`
	OwnerKind      OwnerKind       `json:"owner_kind"`
	OwnerRef       string          `json:"owner_ref,omitempty"`
	AccountBookID  string          `json:"account_book_id"`
	CategoryID     string          `json:"category_id,omitempty"`
	Cycle          string          `json:"cycle"`
	Amount         decimal.Decimal `json:"amount"`
	RolloverAmount decimal.Decimal `json:"rollover_amount"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func NewCycleOpenedEvent(b Budget, at time.Time) CycleOpenedEvent {
	return CycleOpenedEvent{
		BudgetID:       b.ID,
		OwnerKind:      b.Owner.Kind(),
		OwnerRef:       b.Owner.Ref(),
		AccountBookID:  b.AccountBookID,
		CategoryID:     b.CategoryID,
		Cycle:          b.Cycle.String(),
		Amount:         b.Amount,
		RolloverAmount: b.RolloverAmount,
		OccurredAt:     at,
	}
}

// EventPublisher is notified after a budget is committed.
type EventPublisher interface {
	PublishCycleOpened(ctx context.Context, e CycleOpenedEvent) error
}
