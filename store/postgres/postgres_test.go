package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/store/postgres"
)

// Tests run against a real server only when BUDGETD_TEST_POSTGRES_URL is set.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("BUDGETD_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("BUDGETD_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	s, err := postgres.Open(ctx, postgres.Options{URL: url, Retries: 1})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer pool.Close()
	_, err = pool.Exec(ctx, `TRUNCATE budget_history, budgets, owners, expenses`)
	require.NoError(t, err)

	return s
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func july(t *testing.T) budget.Cycle {
	c, err := budget.ComputeCycle(budget.NewDate(2024, 7, 15), 1)
	require.NoError(t, err)
	return c
}

func TestPostgres_CreateIfAbsent_ConcurrentWritersOneWins(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c := july(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]bool{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx budget.Store) error {
				got, ok, err := tx.CreateIfAbsent(ctx, budget.Budget{
					Owner:          budget.Shared(),
					AccountBookID:  "book-1",
					Amount:         decimal.RequireFromString("500.25"),
					RefreshDay:     1,
					Cycle:          c,
					RolloverAmount: dec(0),
				})
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				if ok {
					created++
				}
				ids[got.ID] = true
				return nil
			})
			if err != nil {
				t.Errorf("writer: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)

	b, err := s.FindByKey(ctx, budget.ChainKey{Owner: budget.Shared(), AccountBookID: "book-1"}, c.Start)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Amount.Equal(decimal.RequireFromString("500.25")))
	assert.Equal(t, c.String(), b.Cycle.String())
}

func TestPostgres_ListChains_UnknownOwner(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.ListChains(ctx, budget.Individual("ghost"), "book-1")
	assert.ErrorIs(t, err, budget.ErrOwnerNotFound)

	require.NoError(t, s.SaveOwner(ctx, budget.Member{Owner: budget.Individual("u-1"), AccountBookID: "book-1"}))
	chains, err := s.ListChains(ctx, budget.Individual("u-1"), "book-1")
	require.NoError(t, err)
	assert.Empty(t, chains)
}

func TestPostgres_SumSpend(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c := july(t)

	for _, e := range []postgres.Expense{
		{AccountBookID: "book-1", Owner: budget.Individual("u-1"), CategoryID: "groceries", SpentOn: budget.NewDate(2024, 7, 1), Amount: decimal.RequireFromString("10.10")},
		{AccountBookID: "book-1", Owner: budget.Individual("u-1"), CategoryID: "fuel", SpentOn: budget.NewDate(2024, 7, 31), Amount: decimal.RequireFromString("20.20")},
		{AccountBookID: "book-1", Owner: budget.Custodial("m-1"), CategoryID: "groceries", SpentOn: budget.NewDate(2024, 7, 5), Amount: dec(5)},
		{AccountBookID: "book-1", Owner: budget.Individual("u-1"), SpentOn: budget.NewDate(2024, 8, 1), Amount: dec(999)},
	} {
		require.NoError(t, s.RecordExpense(ctx, e))
	}

	total, err := s.SumSpend(ctx, budget.SpendQuery{Owner: budget.Individual("u-1"), AccountBookID: "book-1", Cycle: c})
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("30.30")), "got %s", total)

	total, err = s.SumSpend(ctx, budget.SpendQuery{Owner: budget.Shared(), AccountBookID: "book-1", CategoryID: "groceries", Cycle: c})
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("15.10")), "got %s", total)
}

func TestPostgres_EngineEndToEnd(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	owner := budget.Individual("u-1")

	require.NoError(t, s.SaveOwner(ctx, budget.Member{Owner: owner, AccountBookID: "book-1"}))
	may, err := budget.ComputeCycle(budget.NewDate(2024, 5, 1), 1)
	require.NoError(t, err)
	_, _, err = s.CreateIfAbsent(ctx, budget.Budget{
		ID: "b-may", Owner: owner, AccountBookID: "book-1", Amount: dec(500), RefreshDay: 1,
		Cycle: may, RolloverEnabled: true, RolloverAmount: dec(0),
	})
	require.NoError(t, err)
	require.NoError(t, s.RecordExpense(ctx, postgres.Expense{AccountBookID: "book-1", Owner: owner, SpentOn: budget.NewDate(2024, 5, 3), Amount: dec(300)}))

	engine := budget.NewInstantiator(s, s, s, budget.DefaultInstantiatorConfig())
	asOf := budget.NewDate(2024, 7, 15)
	res, err := engine.EnsureBudgetsUpToDate(ctx, "book-1", asOf)
	require.NoError(t, err)
	assert.Len(t, res.CreatedBudgetIDs, 2)

	period, err := engine.GetActivePeriod(ctx, owner, "book-1", "", asOf)
	require.NoError(t, err)
	assert.True(t, period.Budget.RolloverAmount.Equal(dec(700)), "got %s", period.Budget.RolloverAmount)

	entries, summary, err := engine.History(ctx, budget.ChainKey{Owner: owner, AccountBookID: "book-1"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.True(t, summary.Consistent())
	assert.WithinDuration(t, time.Now(), entries[1].CreatedAt, time.Minute)
}
