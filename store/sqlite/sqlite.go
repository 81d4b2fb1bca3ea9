/*
Package sqlite provides a SQLite-backed implementation of the budget storage interfaces.

PURPOSE:
  Implements budget.TxStore, budget.OwnerDirectory and budget.SpendAggregator
  using SQLite. The PostgreSQL store in store/postgres follows the same
  layout with dialect differences only.

INTERFACES IMPLEMENTED:
  budget.TxStore:         Budgets and history, with transactions
  budget.OwnerDirectory:  Owners registered per account book
  budget.SpendAggregator: Expense totals over a cycle

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on budgets or budget_history
  - No DELETE statements on budgets or budget_history
  - Duplicate (chain, cycle start) and (budget, cycle label) inserts are
    absorbed with ON CONFLICT DO NOTHING and the winning row is returned

KEY TABLES:
  budgets:        One row per materialized cycle
  budget_history: Cycle closings
  owners:         Eligible owners per account book
  expenses:       Spend ledger read by SumSpend

INDEXES:
  - idx_budgets_chain_cycle: Enforces one budget per chain and cycle start
  - idx_history_budget_label: Enforces one closing per budget and cycle
  - idx_expenses_book_date: Spend aggregation (hot path)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. With PostgreSQL the unique indexes
  alone arbitrate between concurrent writers.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/budgets.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := budget.NewInstantiator(store, store, store, cfg)

MIGRATION:
  Versioned migrations are embedded from migrations/ and applied with
  golang-migrate on New().

SEE ALSO:
  - budget/store.go: Interface definitions
  - budget/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Timestamps use a fixed-width layout so that TEXT ordering matches time ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the embedded migrations. The migrate instance is not
// closed: its driver would close the shared *sql.DB.
func (s *Store) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	defer src.Close()

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// BUDGETS
// =============================================================================

const budgetColumns = `id, owner_kind, owner_ref, account_book_id, category_id, amount,
	refresh_day, cycle_start, cycle_end, rollover_enabled, rollover_amount,
	created_at, updated_at`

// ListChains returns the owner's chains in the account book, ordered by category.
func (s *Store) ListChains(ctx context.Context, owner budget.Owner, accountBookID string) ([]budget.ChainKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listChains(ctx, s.db, owner, accountBookID)
}

func listChains(ctx context.Context, q queryer, owner budget.Owner, accountBookID string) ([]budget.ChainKey, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT category_id FROM budgets
		WHERE owner_kind = ? AND owner_ref = ? AND account_book_id = ?
		ORDER BY category_id
	`, string(owner.Kind()), owner.Ref(), accountBookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}
	defer rows.Close()

	var chains []budget.ChainKey
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, err
		}
		chains = append(chains, budget.ChainKey{Owner: owner, AccountBookID: accountBookID, CategoryID: category})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chains) > 0 || owner.IsShared() {
		return chains, nil
	}

	var n int
	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM owners
		WHERE account_book_id = ? AND owner_kind = ? AND owner_ref = ?
	`, accountBookID, string(owner.Kind()), owner.Ref()).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("failed to look up owner: %w", err)
	}
	if n == 0 {
		return nil, budget.ErrOwnerNotFound
	}
	return nil, nil
}

// FindLatest returns the chain's budget with the latest cycle start, or nil.
func (s *Store) FindLatest(ctx context.Context, chain budget.ChainKey) (*budget.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findLatest(ctx, s.db, chain)
}

func findLatest(ctx context.Context, q queryer, chain budget.ChainKey) (*budget.Budget, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE owner_kind = ? AND owner_ref = ? AND account_book_id = ? AND category_id = ?
		ORDER BY cycle_start DESC
		LIMIT 1
	`, chainArgs(chain)...)
	return scanBudgetRow(row)
}

// FindByKey returns the chain's budget starting on cycleStart, or nil.
func (s *Store) FindByKey(ctx context.Context, chain budget.ChainKey, cycleStart budget.Date) (*budget.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByKey(ctx, s.db, chain, cycleStart)
}

func findByKey(ctx context.Context, q queryer, chain budget.ChainKey, cycleStart budget.Date) (*budget.Budget, error) {
	args := append(chainArgs(chain), cycleStart.String())
	row := q.QueryRowContext(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE owner_kind = ? AND owner_ref = ? AND account_book_id = ? AND category_id = ?
			AND cycle_start = ?
	`, args...)
	return scanBudgetRow(row)
}

// CreateIfAbsent inserts b unless its chain already has a budget starting
// on the same day. Returns the stored row and whether this call wrote it.
func (s *Store) CreateIfAbsent(ctx context.Context, b budget.Budget) (budget.Budget, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createIfAbsent(ctx, s.db, b)
}

func createIfAbsent(ctx context.Context, q queryer, b budget.Budget) (budget.Budget, bool, error) {
	if err := b.Validate(); err != nil {
		return budget.Budget{}, false, err
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO budgets (`+budgetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_kind, owner_ref, account_book_id, category_id, cycle_start) DO NOTHING
	`,
		b.ID,
		string(b.Owner.Kind()),
		b.Owner.Ref(),
		b.AccountBookID,
		b.CategoryID,
		b.Amount.String(),
		int(b.RefreshDay),
		b.Cycle.Start.String(),
		b.Cycle.End.String(),
		b.RolloverEnabled,
		b.RolloverAmount.String(),
		formatTimestamp(b.CreatedAt),
		formatTimestamp(b.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return budget.Budget{}, false, fmt.Errorf("%w: %s", budget.ErrDuplicateBudget, b.ID)
		}
		return budget.Budget{}, false, fmt.Errorf("failed to insert budget: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return b, true, nil
	}

	existing, err := findByKey(ctx, q, b.Chain(), b.Cycle.Start)
	if err != nil {
		return budget.Budget{}, false, err
	}
	if existing == nil {
		return budget.Budget{}, false, fmt.Errorf("%w: %s %s", budget.ErrDuplicateBudget, b.Chain(), b.Cycle)
	}
	return *existing, false, nil
}

func chainArgs(chain budget.ChainKey) []any {
	return []any{string(chain.Owner.Kind()), chain.Owner.Ref(), chain.AccountBookID, chain.CategoryID}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBudgetRow(row *sql.Row) (*budget.Budget, error) {
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBudget(row rowScanner) (budget.Budget, error) {
	var (
		b                      budget.Budget
		kind, ref              string
		amount, rolloverAmount string
		refreshDay             int
		cycleStart, cycleEnd   string
		rolloverEnabled        bool
		createdAt, updatedAt   string
	)
	err := row.Scan(&b.ID, &kind, &ref, &b.AccountBookID, &b.CategoryID, &amount,
		&refreshDay, &cycleStart, &cycleEnd, &rolloverEnabled, &rolloverAmount,
		&createdAt, &updatedAt)
	if err != nil {
		return budget.Budget{}, err
	}

	if b.Owner, err = budget.ParseOwner(kind, ref); err != nil {
		return budget.Budget{}, err
	}
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return budget.Budget{}, fmt.Errorf("budget %s amount: %w", b.ID, err)
	}
	if b.RolloverAmount, err = decimal.NewFromString(rolloverAmount); err != nil {
		return budget.Budget{}, fmt.Errorf("budget %s rollover: %w", b.ID, err)
	}
	b.RefreshDay = budget.RefreshDay(refreshDay)
	if b.Cycle.Start, err = budget.ParseDate(cycleStart); err != nil {
		return budget.Budget{}, err
	}
	if b.Cycle.End, err = budget.ParseDate(cycleEnd); err != nil {
		return budget.Budget{}, err
	}
	b.RolloverEnabled = rolloverEnabled
	b.CreatedAt = parseTimestamp(createdAt)
	b.UpdatedAt = parseTimestamp(updatedAt)
	return b, nil
}

// =============================================================================
// HISTORY
// =============================================================================

const historyColumns = `id, budget_id, owner_kind, owner_ref, account_book_id, category_id,
	cycle_label, entry_type, budget_amount, spent_amount, rollover_in, rollover_out,
	outcome, next_budget_id, created_at`

// AppendHistory inserts e unless (budget_id, cycle_label) exists.
func (s *Store) AppendHistory(ctx context.Context, e budget.HistoryEntry) (budget.HistoryEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendHistory(ctx, s.db, e)
}

func appendHistory(ctx context.Context, q queryer, e budget.HistoryEntry) (budget.HistoryEntry, bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO budget_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (budget_id, cycle_label) DO NOTHING
	`,
		e.ID,
		e.BudgetID,
		string(e.Chain.Owner.Kind()),
		e.Chain.Owner.Ref(),
		e.Chain.AccountBookID,
		e.Chain.CategoryID,
		e.CycleLabel,
		string(e.EntryType),
		e.BudgetAmount.String(),
		e.SpentAmount.String(),
		e.RolloverIn.String(),
		e.RolloverOut.String(),
		string(e.Outcome),
		e.NextBudgetID,
		formatTimestamp(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return budget.HistoryEntry{}, false, fmt.Errorf("%w: %s", budget.ErrDuplicateHistory, e.ID)
		}
		return budget.HistoryEntry{}, false, fmt.Errorf("failed to insert history: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return e, true, nil
	}

	row := q.QueryRowContext(ctx, `
		SELECT `+historyColumns+` FROM budget_history
		WHERE budget_id = ? AND cycle_label = ?
	`, e.BudgetID, e.CycleLabel)
	existing, err := scanHistory(row)
	if err != nil {
		return budget.HistoryEntry{}, false, fmt.Errorf("failed to load existing history: %w", err)
	}
	return existing, false, nil
}

// FindHistory returns the chain's entries oldest first.
func (s *Store) FindHistory(ctx context.Context, chain budget.ChainKey) ([]budget.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findHistory(ctx, s.db, chain)
}

func findHistory(ctx context.Context, q queryer, chain budget.ChainKey) ([]budget.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM budget_history
		WHERE owner_kind = ? AND owner_ref = ? AND account_book_id = ? AND category_id = ?
		ORDER BY created_at, cycle_label
	`, chainArgs(chain)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []budget.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanHistory(row rowScanner) (budget.HistoryEntry, error) {
	var (
		e                      budget.HistoryEntry
		kind, ref, book, cat   string
		entryType, outcome     string
		amount, spent, in, out string
		createdAt              string
	)
	err := row.Scan(&e.ID, &e.BudgetID, &kind, &ref, &book, &cat,
		&e.CycleLabel, &entryType, &amount, &spent, &in, &out,
		&outcome, &e.NextBudgetID, &createdAt)
	if err != nil {
		return budget.HistoryEntry{}, err
	}

	owner, err := budget.ParseOwner(kind, ref)
	if err != nil {
		return budget.HistoryEntry{}, err
	}
	e.Chain = budget.ChainKey{Owner: owner, AccountBookID: book, CategoryID: cat}
	e.EntryType = budget.EntryType(entryType)
	e.Outcome = budget.Outcome(outcome)
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"budget_amount", amount, &e.BudgetAmount},
		{"spent_amount", spent, &e.SpentAmount},
		{"rollover_in", in, &e.RolloverIn},
		{"rollover_out", out, &e.RolloverOut},
	} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return budget.HistoryEntry{}, fmt.Errorf("history %s %s: %w", e.ID, f.name, err)
		}
	}
	e.CreatedAt = parseTimestamp(createdAt)
	return e, nil
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store budget.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every statement on the open transaction. It must not touch
// the parent's lock, which WithTx already holds.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) ListChains(ctx context.Context, owner budget.Owner, accountBookID string) ([]budget.ChainKey, error) {
	return listChains(ctx, ts.tx, owner, accountBookID)
}

func (ts *txStore) FindLatest(ctx context.Context, chain budget.ChainKey) (*budget.Budget, error) {
	return findLatest(ctx, ts.tx, chain)
}

func (ts *txStore) FindByKey(ctx context.Context, chain budget.ChainKey, cycleStart budget.Date) (*budget.Budget, error) {
	return findByKey(ctx, ts.tx, chain, cycleStart)
}

func (ts *txStore) CreateIfAbsent(ctx context.Context, b budget.Budget) (budget.Budget, bool, error) {
	return createIfAbsent(ctx, ts.tx, b)
}

func (ts *txStore) AppendHistory(ctx context.Context, e budget.HistoryEntry) (budget.HistoryEntry, bool, error) {
	return appendHistory(ctx, ts.tx, e)
}

func (ts *txStore) FindHistory(ctx context.Context, chain budget.ChainKey) ([]budget.HistoryEntry, error) {
	return findHistory(ctx, ts.tx, chain)
}

// =============================================================================
// OWNER DIRECTORY
// =============================================================================

// SaveOwner registers (or renames) an eligible owner of an account book.
func (s *Store) SaveOwner(ctx context.Context, m budget.Member) error {
	if err := m.Owner.Validate(); err != nil {
		return err
	}
	if m.AccountBookID == "" {
		return budget.ErrInvalidAccountBook
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owners (account_book_id, owner_kind, owner_ref, display_name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_book_id, owner_kind, owner_ref)
		DO UPDATE SET display_name = excluded.display_name
	`, m.AccountBookID, string(m.Owner.Kind()), m.Owner.Ref(), m.DisplayName, formatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save owner: %w", err)
	}
	return nil
}

// ListEligibleOwners returns the book's owners in registration order.
func (s *Store) ListEligibleOwners(ctx context.Context, accountBookID string) ([]budget.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_kind, owner_ref, display_name FROM owners
		WHERE account_book_id = ?
		ORDER BY created_at, owner_kind, owner_ref
	`, accountBookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	var members []budget.Member
	for rows.Next() {
		var kind, ref, name string
		if err := rows.Scan(&kind, &ref, &name); err != nil {
			return nil, err
		}
		owner, err := budget.ParseOwner(kind, ref)
		if err != nil {
			return nil, err
		}
		members = append(members, budget.Member{Owner: owner, DisplayName: name, AccountBookID: accountBookID})
	}
	return members, rows.Err()
}

// ListAccountBooks returns every book with at least one registered owner.
func (s *Store) ListAccountBooks(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT account_book_id FROM owners ORDER BY account_book_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list account books: %w", err)
	}
	defer rows.Close()

	var books []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		books = append(books, id)
	}
	return books, rows.Err()
}

// =============================================================================
// EXPENSES + SPEND AGGREGATION
// =============================================================================

// Expense is a row of the spend ledger.
type Expense struct {
	ID            string
	AccountBookID string
	Owner         budget.Owner
	CategoryID    string
	SpentOn       budget.Date
	Amount        decimal.Decimal
	Description   string
}

// RecordExpense appends an expense. Expenses are owned by the surrounding
// application; the engine only reads them.
func (s *Store) RecordExpense(ctx context.Context, e Expense) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.AccountBookID == "" {
		return budget.ErrInvalidAccountBook
	}
	if e.SpentOn.IsZero() {
		return fmt.Errorf("%w: expense %s has no date", budget.ErrInvalidDate, e.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, account_book_id, owner_kind, owner_ref, category_id, spent_on, amount, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.AccountBookID, string(e.Owner.Kind()), e.Owner.Ref(), e.CategoryID,
		e.SpentOn.String(), e.Amount.String(), e.Description, formatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return nil
}

// SumSpend totals expenses inside the cycle. A SHARED query counts every
// owner's spend in the book. Amounts are summed as decimals, not in SQL.
func (s *Store) SumSpend(ctx context.Context, q budget.SpendQuery) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sb   strings.Builder
		args = []any{q.AccountBookID, q.Cycle.Start.String(), q.Cycle.End.String()}
	)
	sb.WriteString(`SELECT amount FROM expenses WHERE account_book_id = ? AND spent_on BETWEEN ? AND ?`)
	if q.CategoryID != "" {
		sb.WriteString(` AND category_id = ?`)
		args = append(args, q.CategoryID)
	}
	if !q.Owner.IsShared() {
		sb.WriteString(` AND owner_kind = ? AND owner_ref = ?`)
		args = append(args, string(q.Owner.Kind()), q.Owner.Ref())
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return decimal.Zero, &budget.AggregationError{Query: q, Err: err}
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, &budget.AggregationError{Query: q, Err: err}
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, &budget.AggregationError{Query: q, Err: err}
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, &budget.AggregationError{Query: q, Err: err}
	}
	return total, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

var (
	_ budget.TxStore         = (*Store)(nil)
	_ budget.OwnerDirectory  = (*Store)(nil)
	_ budget.SpendAggregator = (*Store)(nil)
)
