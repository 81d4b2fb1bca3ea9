/*
Package postgres provides a PostgreSQL-backed implementation of the budget storage interfaces.

PURPOSE:
  Same contract as store/sqlite, for deployments that share the database
  with the rest of the finance application. Concurrency is left to the
  database: the unique indexes on (chain, cycle start) and
  (budget, cycle label) decide which concurrent writer wins, and
  ON CONFLICT DO NOTHING turns the loser into a read.

TYPES:
  Amounts are NUMERIC and travel as text so no precision is lost between
  PostgreSQL and decimal.Decimal. Cycle bounds are DATE.

CONNECTING:
  Open retries the initial connection with exponential backoff, pings,
  then applies the embedded migrations.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite implementation (default)
  - budget/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

// Options configures Open.
type Options struct {
	URL      string
	MaxConns int32
	Retries  int
	Backoff  time.Duration
	Logger   *logging.Logger
}

// Store implements all storage interfaces on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, retrying with exponential backoff, and migrates the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	log = log.WithComponent(logging.ComponentStorage).With(logging.FieldDriver, "postgres")

	poolConfig, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}

	retries := opts.Retries
	if retries <= 0 {
		retries = 5
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var pool *pgxpool.Pool
	for i := 0; i < retries; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = pool.Ping(pingCtx)
			cancel()
			if err == nil {
				break
			}
			pool.Close()
			pool = nil
		}

		log.Warn("database connection attempt failed",
			logging.FieldAttempt, i+1,
			logging.FieldError, err,
			"retry_in", backoff.String(),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	if pool == nil {
		return nil, fmt.Errorf("connect to database after %d attempts: %w", retries, err)
	}

	if err := migrateUp(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info("database ready")

	return &Store{pool: pool}, nil
}

// NewFromPool wraps an already migrated pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// migrateUp runs the embedded migrations on a dedicated database/sql
// connection built from the pool's config.
func migrateUp(pool *pgxpool.Pool) error {
	db := stdlib.OpenDB(*pool.Config().ConnConfig)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("create pgx driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// BUDGETS
// =============================================================================

const budgetColumns = `id, owner_kind, owner_ref, account_book_id, category_id, amount::text,
	refresh_day, cycle_start, cycle_end, rollover_enabled, rollover_amount::text,
	created_at, updated_at`

func (s *Store) ListChains(ctx context.Context, owner budget.Owner, accountBookID string) ([]budget.ChainKey, error) {
	return listChains(ctx, s.pool, owner, accountBookID)
}

func listChains(ctx context.Context, db dbtx, owner budget.Owner, accountBookID string) ([]budget.ChainKey, error) {
	rows, err := db.Query(ctx, `
		SELECT DISTINCT category_id FROM budgets
		WHERE owner_kind = $1 AND owner_ref = $2 AND account_book_id = $3
		ORDER BY category_id
	`, string(owner.Kind()), owner.Ref(), accountBookID)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	categories, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}

	if len(categories) == 0 && !owner.IsShared() {
		var known bool
		err := db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM owners
				WHERE account_book_id = $1 AND owner_kind = $2 AND owner_ref = $3
			)
		`, accountBookID, string(owner.Kind()), owner.Ref()).Scan(&known)
		if err != nil {
			return nil, fmt.Errorf("look up owner: %w", err)
		}
		if !known {
			return nil, budget.ErrOwnerNotFound
		}
	}

	chains := make([]budget.ChainKey, 0, len(categories))
	for _, c := range categories {
		chains = append(chains, budget.ChainKey{Owner: owner, AccountBookID: accountBookID, CategoryID: c})
	}
	return chains, nil
}

func (s *Store) FindLatest(ctx context.Context, chain budget.ChainKey) (*budget.Budget, error) {
	return findLatest(ctx, s.pool, chain)
}

func findLatest(ctx context.Context, db dbtx, chain budget.ChainKey) (*budget.Budget, error) {
	row := db.QueryRow(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE owner_kind = $1 AND owner_ref = $2 AND account_book_id = $3 AND category_id = $4
		ORDER BY cycle_start DESC
		LIMIT 1
	`, chainArgs(chain)...)
	return scanBudgetRow(row)
}

func (s *Store) FindByKey(ctx context.Context, chain budget.ChainKey, cycleStart budget.Date) (*budget.Budget, error) {
	return findByKey(ctx, s.pool, chain, cycleStart)
}

func findByKey(ctx context.Context, db dbtx, chain budget.ChainKey, cycleStart budget.Date) (*budget.Budget, error) {
	row := db.QueryRow(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE owner_kind = $1 AND owner_ref = $2 AND account_book_id = $3 AND category_id = $4
			AND cycle_start = $5
	`, append(chainArgs(chain), cycleStart.Time)...)
	return scanBudgetRow(row)
}

func (s *Store) CreateIfAbsent(ctx context.Context, b budget.Budget) (budget.Budget, bool, error) {
	return createIfAbsent(ctx, s.pool, b)
}

func createIfAbsent(ctx context.Context, db dbtx, b budget.Budget) (budget.Budget, bool, error) {
	if err := b.Validate(); err != nil {
		return budget.Budget{}, false, err
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}

	tag, err := db.Exec(ctx, `
		INSERT INTO budgets (id, owner_kind, owner_ref, account_book_id, category_id, amount,
			refresh_day, cycle_start, cycle_end, rollover_enabled, rollover_amount,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8, $9, $10, $11::text::numeric, $12, $13)
		ON CONFLICT (owner_kind, owner_ref, account_book_id, category_id, cycle_start) DO NOTHING
	`,
		b.ID,
		string(b.Owner.Kind()),
		b.Owner.Ref(),
		b.AccountBookID,
		b.CategoryID,
		b.Amount.String(),
		int16(b.RefreshDay),
		b.Cycle.Start.Time,
		b.Cycle.End.Time,
		b.RolloverEnabled,
		b.RolloverAmount.String(),
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return budget.Budget{}, false, fmt.Errorf("%w: %s", budget.ErrDuplicateBudget, b.ID)
		}
		return budget.Budget{}, false, fmt.Errorf("insert budget: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return b, true, nil
	}

	existing, err := findByKey(ctx, db, b.Chain(), b.Cycle.Start)
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

func scanBudgetRow(row pgx.Row) (*budget.Budget, error) {
	b, err := scanBudget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBudget(row pgx.Row) (budget.Budget, error) {
	var (
		b                      budget.Budget
		kind, ref              string
		amount, rolloverAmount string
		refreshDay             int16
		cycleStart, cycleEnd   time.Time
	)
	err := row.Scan(&b.ID, &kind, &ref, &b.AccountBookID, &b.CategoryID, &amount,
		&refreshDay, &cycleStart, &cycleEnd, &b.RolloverEnabled, &rolloverAmount,
		&b.CreatedAt, &b.UpdatedAt)
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
	b.Cycle = budget.Cycle{Start: budget.DateOf(cycleStart), End: budget.DateOf(cycleEnd)}
	return b, nil
}

// =============================================================================
// HISTORY
// =============================================================================

const historyColumns = `id, budget_id, owner_kind, owner_ref, account_book_id, category_id,
	cycle_label, entry_type, budget_amount::text, spent_amount::text, rollover_in::text,
	rollover_out::text, outcome, next_budget_id, created_at`

func (s *Store) AppendHistory(ctx context.Context, e budget.HistoryEntry) (budget.HistoryEntry, bool, error) {
	return appendHistory(ctx, s.pool, e)
}

func appendHistory(ctx context.Context, db dbtx, e budget.HistoryEntry) (budget.HistoryEntry, bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	tag, err := db.Exec(ctx, `
		INSERT INTO budget_history (id, budget_id, owner_kind, owner_ref, account_book_id, category_id,
			cycle_label, entry_type, budget_amount, spent_amount, rollover_in, rollover_out,
			outcome, next_budget_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			$9::text::numeric, $10::text::numeric, $11::text::numeric, $12::text::numeric,
			$13, $14, $15)
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
		e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return budget.HistoryEntry{}, false, fmt.Errorf("%w: %s", budget.ErrDuplicateHistory, e.ID)
		}
		return budget.HistoryEntry{}, false, fmt.Errorf("insert history: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return e, true, nil
	}

	row := db.QueryRow(ctx, `
		SELECT `+historyColumns+` FROM budget_history
		WHERE budget_id = $1 AND cycle_label = $2
	`, e.BudgetID, e.CycleLabel)
	existing, err := scanHistory(row)
	if err != nil {
		return budget.HistoryEntry{}, false, fmt.Errorf("load existing history: %w", err)
	}
	return existing, false, nil
}

func (s *Store) FindHistory(ctx context.Context, chain budget.ChainKey) ([]budget.HistoryEntry, error) {
	return findHistory(ctx, s.pool, chain)
}

func findHistory(ctx context.Context, db dbtx, chain budget.ChainKey) ([]budget.HistoryEntry, error) {
	rows, err := db.Query(ctx, `
		SELECT `+historyColumns+` FROM budget_history
		WHERE owner_kind = $1 AND owner_ref = $2 AND account_book_id = $3 AND category_id = $4
		ORDER BY created_at, cycle_label
	`, chainArgs(chain)...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
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

func scanHistory(row pgx.Row) (budget.HistoryEntry, error) {
	var (
		e                      budget.HistoryEntry
		kind, ref, book, cat   string
		entryType, outcome     string
		amount, spent, in, out string
	)
	err := row.Scan(&e.ID, &e.BudgetID, &kind, &ref, &book, &cat,
		&e.CycleLabel, &entryType, &amount, &spent, &in, &out,
		&outcome, &e.NextBudgetID, &e.CreatedAt)
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
	return e, nil
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(store budget.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txStore struct {
	tx pgx.Tx
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

func (s *Store) SaveOwner(ctx context.Context, m budget.Member) error {
	if err := m.Owner.Validate(); err != nil {
		return err
	}
	if m.AccountBookID == "" {
		return budget.ErrInvalidAccountBook
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO owners (account_book_id, owner_kind, owner_ref, display_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_book_id, owner_kind, owner_ref)
		DO UPDATE SET display_name = EXCLUDED.display_name
	`, m.AccountBookID, string(m.Owner.Kind()), m.Owner.Ref(), m.DisplayName)
	if err != nil {
		return fmt.Errorf("save owner: %w", err)
	}
	return nil
}

func (s *Store) ListEligibleOwners(ctx context.Context, accountBookID string) ([]budget.Member, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT owner_kind, owner_ref, display_name FROM owners
		WHERE account_book_id = $1
		ORDER BY created_at, owner_kind, owner_ref
	`, accountBookID)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
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
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT account_book_id FROM owners ORDER BY account_book_id`)
	if err != nil {
		return nil, fmt.Errorf("list account books: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO expenses (id, account_book_id, owner_kind, owner_ref, category_id, spent_on, amount, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8)
	`, e.ID, e.AccountBookID, string(e.Owner.Kind()), e.Owner.Ref(), e.CategoryID,
		e.SpentOn.Time, e.Amount.String(), e.Description)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	return nil
}

// SumSpend totals expenses inside the cycle with an exact NUMERIC sum.
// A SHARED query counts every owner's spend in the book.
func (s *Store) SumSpend(ctx context.Context, q budget.SpendQuery) (decimal.Decimal, error) {
	var (
		sb   strings.Builder
		args = []any{q.AccountBookID, q.Cycle.Start.Time, q.Cycle.End.Time}
	)
	sb.WriteString(`SELECT COALESCE(SUM(amount), 0)::text FROM expenses
		WHERE account_book_id = $1 AND spent_on BETWEEN $2 AND $3`)
	if q.CategoryID != "" {
		args = append(args, q.CategoryID)
		fmt.Fprintf(&sb, ` AND category_id = $%d`, len(args))
	}
	if !q.Owner.IsShared() {
		args = append(args, string(q.Owner.Kind()), q.Owner.Ref())
		fmt.Fprintf(&sb, ` AND owner_kind = $%d AND owner_ref = $%d`, len(args)-1, len(args))
	}

	var raw string
	if err := s.pool.QueryRow(ctx, sb.String(), args...).Scan(&raw); err != nil {
		return decimal.Zero, &budget.AggregationError{Query: q, Err: err}
	}
	total, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &budget.AggregationError{Query: q, Err: err}
	}
	return total, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var (
	_ budget.TxStore         = (*Store)(nil)
	_ budget.OwnerDirectory  = (*Store)(nil)
	_ budget.SpendAggregator = (*Store)(nil)
)
