// Package store provides in-memory implementations of the budget engine's
// storage and collaborator interfaces.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	budgets  map[budget.ChainKey][]budget.Budget // sorted by cycle start
	history  map[historyKey]budget.HistoryEntry
	members  map[string][]budget.Member
	expenses []Expense

	// SpendErr, when set, is returned by SumSpend for matching queries.
	SpendErr func(q budget.SpendQuery) error
}

type historyKey struct {
	BudgetID   string
	CycleLabel string
}

// Expense is one recorded spend used by SumSpend.
type Expense struct {
	Owner         budget.Owner
	AccountBookID string
	CategoryID    string
	Date          budget.Date
	Amount        decimal.Decimal
}

func NewMemory() *Memory {
	return &Memory{
		budgets: make(map[budget.ChainKey][]budget.Budget),
		history: make(map[historyKey]budget.HistoryEntry),
		members: make(map[string][]budget.Member),
	}
}

// =============================================================================
// OWNER DIRECTORY + SPEND (fixtures)
// =============================================================================

// AddMember registers an eligible owner for an account book.
func (m *Memory) AddMember(member budget.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.AccountBookID] = append(m.members[member.AccountBookID], member)
}

func (m *Memory) ListEligibleOwners(_ context.Context, accountBookID string) ([]budget.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]budget.Member(nil), m.members[accountBookID]...), nil
}

// ListAccountBooks returns every book with at least one registered owner.
func (m *Memory) ListAccountBooks(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	books := make([]string, 0, len(m.members))
	for id := range m.members {
		books = append(books, id)
	}
	sort.Strings(books)
	return books, nil
}

func (m *Memory) RecordExpense(e Expense) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses = append(m.expenses, e)
}

// SumSpend adds up expenses in the cycle. A SHARED query counts every
// member's expenses in the book.
func (m *Memory) SumSpend(_ context.Context, q budget.SpendQuery) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.SpendErr != nil {
		if err := m.SpendErr(q); err != nil {
			return decimal.Zero, err
		}
	}

	total := decimal.Zero
	for _, e := range m.expenses {
		if e.AccountBookID != q.AccountBookID || !q.Cycle.Contains(e.Date) {
			continue
		}
		if q.CategoryID != "" && e.CategoryID != q.CategoryID {
			continue
		}
		if !q.Owner.IsShared() && e.Owner != q.Owner {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total, nil
}

// =============================================================================
// BUDGETS
// =============================================================================

// ListChains returns the owner's chains. Owners that are neither registered
// members nor have budgets are unknown.
func (m *Memory) ListChains(_ context.Context, owner budget.Owner, accountBookID string) ([]budget.ChainKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listChainsLocked(owner, accountBookID)
}

func (m *Memory) listChainsLocked(owner budget.Owner, accountBookID string) ([]budget.ChainKey, error) {
	var chains []budget.ChainKey
	for k := range m.budgets {
		if k.Owner == owner && k.AccountBookID == accountBookID {
			chains = append(chains, k)
		}
	}
	if len(chains) == 0 && !owner.IsShared() && !m.isMemberLocked(owner, accountBookID) {
		return nil, budget.ErrOwnerNotFound
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].CategoryID < chains[j].CategoryID })
	return chains, nil
}

func (m *Memory) isMemberLocked(owner budget.Owner, accountBookID string) bool {
	for _, mem := range m.members[accountBookID] {
		if mem.Owner == owner {
			return true
		}
	}
	return false
}

func (m *Memory) FindLatest(_ context.Context, chain budget.ChainKey) (*budget.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLatestLocked(chain), nil
}

func (m *Memory) findLatestLocked(chain budget.ChainKey) *budget.Budget {
	bs := m.budgets[chain]
	if len(bs) == 0 {
		return nil
	}
	b := bs[len(bs)-1]
	return &b
}

func (m *Memory) FindByKey(_ context.Context, chain budget.ChainKey, cycleStart budget.Date) (*budget.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByKeyLocked(chain, cycleStart), nil
}

func (m *Memory) findByKeyLocked(chain budget.ChainKey, cycleStart budget.Date) *budget.Budget {
	for _, b := range m.budgets[chain] {
		if b.Cycle.Start.Equal(cycleStart) {
			b := b
			return &b
		}
	}
	return nil
}

func (m *Memory) CreateIfAbsent(_ context.Context, b budget.Budget) (budget.Budget, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(b)
}

func (m *Memory) createLocked(b budget.Budget) (budget.Budget, bool, error) {
	if err := b.Validate(); err != nil {
		return budget.Budget{}, false, err
	}
	chain := b.Chain()
	if existing := m.findByKeyLocked(chain, b.Cycle.Start); existing != nil {
		return *existing, false, nil
	}

	bs := m.budgets[chain]
	i := sort.Search(len(bs), func(i int) bool {
		return bs[i].Cycle.Start.After(b.Cycle.Start)
	})
	bs = append(bs, budget.Budget{})
	copy(bs[i+1:], bs[i:])
	bs[i] = b
	m.budgets[chain] = bs
	return b, true, nil
}

// =============================================================================
// HISTORY
// =============================================================================

func (m *Memory) AppendHistory(_ context.Context, e budget.HistoryEntry) (budget.HistoryEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendHistoryLocked(e)
}

func (m *Memory) appendHistoryLocked(e budget.HistoryEntry) (budget.HistoryEntry, bool, error) {
	k := historyKey{BudgetID: e.BudgetID, CycleLabel: e.CycleLabel}
	if existing, ok := m.history[k]; ok {
		return existing, false, nil
	}
	m.history[k] = e
	return e, true, nil
}

func (m *Memory) FindHistory(_ context.Context, chain budget.ChainKey) ([]budget.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findHistoryLocked(chain), nil
}

func (m *Memory) findHistoryLocked(chain budget.ChainKey) []budget.HistoryEntry {
	var out []budget.HistoryEntry
	for _, e := range m.history {
		if e.Chain == chain {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CycleLabel < out[j].CycleLabel
	})
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(budget.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	budgets map[budget.ChainKey][]budget.Budget
	history map[historyKey]budget.HistoryEntry
}

func (m *Memory) snapshot() memorySnapshot {
	budgets := make(map[budget.ChainKey][]budget.Budget, len(m.budgets))
	for k, v := range m.budgets {
		budgets[k] = append([]budget.Budget{}, v...)
	}
	history := make(map[historyKey]budget.HistoryEntry, len(m.history))
	for k, v := range m.history {
		history[k] = v
	}
	return memorySnapshot{budgets: budgets, history: history}
}

func (m *Memory) restore(s memorySnapshot) {
	m.budgets = s.budgets
	m.history = s.history
}

// txMemoryView runs with the parent's write lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) ListChains(_ context.Context, owner budget.Owner, accountBookID string) ([]budget.ChainKey, error) {
	return tv.parent.listChainsLocked(owner, accountBookID)
}

func (tv *txMemoryView) FindLatest(_ context.Context, chain budget.ChainKey) (*budget.Budget, error) {
	return tv.parent.findLatestLocked(chain), nil
}

func (tv *txMemoryView) FindByKey(_ context.Context, chain budget.ChainKey, cycleStart budget.Date) (*budget.Budget, error) {
	return tv.parent.findByKeyLocked(chain, cycleStart), nil
}

func (tv *txMemoryView) CreateIfAbsent(_ context.Context, b budget.Budget) (budget.Budget, bool, error) {
	return tv.parent.createLocked(b)
}

func (tv *txMemoryView) AppendHistory(_ context.Context, e budget.HistoryEntry) (budget.HistoryEntry, bool, error) {
	return tv.parent.appendHistoryLocked(e)
}

func (tv *txMemoryView) FindHistory(_ context.Context, chain budget.ChainKey) ([]budget.HistoryEntry, error) {
	return tv.parent.findHistoryLocked(chain), nil
}

var (
	_ budget.TxStore         = (*Memory)(nil)
	_ budget.OwnerDirectory  = (*Memory)(nil)
	_ budget.SpendAggregator = (*Memory)(nil)
)
