package budget_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/budget/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T, opts ...budget.Option) (*budget.Instantiator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := budget.NewInstantiator(mem, mem, mem, budget.DefaultInstantiatorConfig(), opts...)
	return engine, mem
}

func seedBudget(t *testing.T, mem *store.Memory, b budget.Budget) budget.Budget {
	t.Helper()
	if b.ID == "" {
		b.ID = "seed-" + b.Cycle.Start.String()
	}
	_, created, err := mem.CreateIfAbsent(context.Background(), b)
	require.NoError(t, err)
	require.True(t, created)
	return b
}

func cycleOf(t *testing.T, d budget.Date, day budget.RefreshDay) budget.Cycle {
	t.Helper()
	c, err := budget.ComputeCycle(d, day)
	require.NoError(t, err)
	return c
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []budget.CycleOpenedEvent
	err    error
}

func (p *recordingPublisher) PublishCycleOpened(_ context.Context, e budget.CycleOpenedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

// =============================================================================
// FAN-OUT
// =============================================================================

func TestEnsure_FamilyFanOut_CreatesOnePerOwner(t *testing.T) {
	// GIVEN: A family book with one holder, two custodial members and no budgets
	// WHEN: EnsureBudgetsUpToDate is called twice
	// THEN: 3 budgets the first time, 0 the second

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	mem.AddMember(budget.Member{Owner: budget.Individual("holder"), AccountBookID: "family"})
	mem.AddMember(budget.Member{Owner: budget.Custodial("kid-1"), AccountBookID: "family"})
	mem.AddMember(budget.Member{Owner: budget.Custodial("kid-2"), AccountBookID: "family"})
	mem.AddMember(budget.Member{Owner: budget.Shared(), AccountBookID: "family"})

	asOf := date(2024, 7, 15)
	res, err := engine.EnsureBudgetsUpToDate(ctx, "family", asOf)
	require.NoError(t, err)
	require.Len(t, res.CreatedBudgetIDs, 3)
	assert.Empty(t, res.Failures)

	kinds := map[budget.OwnerKind]int{}
	for _, owner := range []budget.Owner{budget.Individual("holder"), budget.Custodial("kid-1"), budget.Custodial("kid-2")} {
		b, err := mem.FindLatest(ctx, budget.ChainKey{Owner: owner, AccountBookID: "family"})
		require.NoError(t, err)
		require.NotNil(t, b, "budget for %s", owner)
		assert.True(t, b.RolloverAmount.IsZero())
		assert.True(t, b.Amount.IsZero())
		assert.False(t, b.RolloverEnabled)
		assert.Equal(t, budget.DefaultRefreshDay, b.RefreshDay)
		assert.Equal(t, "2024-07-01..2024-07-31", b.Cycle.String())
		kinds[owner.Kind()]++
	}
	assert.Equal(t, 1, kinds[budget.OwnerIndividual])
	assert.Equal(t, 2, kinds[budget.OwnerCustodial])

	res, err = engine.EnsureBudgetsUpToDate(ctx, "family", asOf)
	require.NoError(t, err)
	assert.Empty(t, res.CreatedBudgetIDs)
}

// =============================================================================
// BACKFILL + ROLLOVER
// =============================================================================

func TestEnsure_BackfillsGapWithRollover(t *testing.T) {
	// GIVEN: A 500/cycle budget on refresh day 25, last cycle 2024-04-25..2024-05-24,
	//        300 spent in that cycle and 650 in the next
	// WHEN: Ensuring as of 2024-07-15
	// THEN: Two cycles created, rollover 200 then 200+500-650 = 50

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	owner := budget.Individual("u-1")
	mem.AddMember(budget.Member{Owner: owner, AccountBookID: "book"})

	seed := seedBudget(t, mem, budget.Budget{
		Owner:           owner,
		AccountBookID:   "book",
		CategoryID:      "groceries",
		Amount:          dec(500),
		RefreshDay:      25,
		Cycle:           cycleOf(t, date(2024, 5, 1), 25),
		RolloverEnabled: true,
		RolloverAmount:  decimal.Zero,
	})
	mem.RecordExpense(store.Expense{Owner: owner, AccountBookID: "book", CategoryID: "groceries", Date: date(2024, 5, 10), Amount: dec(300)})
	mem.RecordExpense(store.Expense{Owner: owner, AccountBookID: "book", CategoryID: "groceries", Date: date(2024, 6, 1), Amount: dec(650)})
	// other category, not counted
	mem.RecordExpense(store.Expense{Owner: owner, AccountBookID: "book", CategoryID: "fuel", Date: date(2024, 6, 1), Amount: dec(1000)})

	res, err := engine.EnsureBudgetsUpToDate(ctx, "book", date(2024, 7, 15))
	require.NoError(t, err)
	require.Len(t, res.CreatedBudgetIDs, 2)
	assert.Empty(t, res.Failures)

	chain := seed.Chain()
	june, err := mem.FindByKey(ctx, chain, date(2024, 5, 25))
	require.NoError(t, err)
	require.NotNil(t, june)
	assert.Equal(t, "2024-05-25..2024-06-24", june.Cycle.String())
	assert.True(t, june.RolloverAmount.Equal(dec(200)), "got %s", june.RolloverAmount)
	assert.True(t, june.Amount.Equal(dec(500)))

	july, err := mem.FindByKey(ctx, chain, date(2024, 6, 25))
	require.NoError(t, err)
	require.NotNil(t, july)
	assert.True(t, july.RolloverAmount.Equal(dec(50)), "got %s", july.RolloverAmount)

	entries, summary, err := engine.History(ctx, chain)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, seed.ID, entries[0].BudgetID)
	assert.Equal(t, june.ID, entries[0].NextBudgetID)
	assert.Equal(t, june.ID, entries[1].BudgetID)
	assert.Equal(t, budget.OutcomeSurplus, entries[1].Outcome)
	assert.True(t, summary.Consistent())
	assert.True(t, summary.FinalRollover.Equal(july.RolloverAmount))
}

func TestEnsure_OverspendCarriesIntoNextCycle(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	owner := budget.Individual("u-1")
	mem.AddMember(budget.Member{Owner: owner, AccountBookID: "book"})

	seedBudget(t, mem, budget.Budget{
		Owner: owner, AccountBookID: "book", Amount: dec(500), RefreshDay: 1,
		Cycle: cycleOf(t, date(2024, 6, 1), 1), RolloverEnabled: true,
	})
	mem.RecordExpense(store.Expense{Owner: owner, AccountBookID: "book", Date: date(2024, 6, 20), Amount: dec(650)})

	res, err := engine.EnsureBudgetsUpToDate(ctx, "book", date(2024, 7, 2))
	require.NoError(t, err)
	require.Len(t, res.CreatedBudgetIDs, 1)

	b, err := mem.FindLatest(ctx, budget.ChainKey{Owner: owner, AccountBookID: "book"})
	require.NoError(t, err)
	assert.True(t, b.RolloverAmount.Equal(dec(-150)), "got %s", b.RolloverAmount)
	assert.True(t, b.TotalAvailable().Equal(dec(350)))
}

func TestEnsure_RolloverDisabled_ZeroCarry(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	owner := budget.Custodial("kid")
	mem.AddMember(budget.Member{Owner: owner, AccountBookID: "book"})

	seedBudget(t, mem, budget.Budget{
		Owner: owner, AccountBookID: "book", Amount: dec(100), RefreshDay: 1,
		Cycle: cycleOf(t, date(2024, 6, 1), 1), RolloverEnabled: false,
	})

	res, err := engine.EnsureBudgetsUpToDate(ctx, "book", date(2024, 7, 2))
	require.NoError(t, err)
	require.Len(t, res.CreatedBudgetIDs, 1)

	b, _ := mem.FindLatest(ctx, budget.ChainKey{Owner: owner, AccountBookID: "book"})
	assert.True(t, b.RolloverAmount.IsZero())

	// The transition is still recorded
	entries, _, err := engine.History(ctx, b.Chain())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].RolloverOut.IsZero())
}

func TestEnsure_SharedChainIsBackfilled(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	mem.AddMember(budget.Member{Owner: budget.Shared(), AccountBookID: "family"})
	mem.AddMember(budget.Member{Owner: budget.Individual("a"), AccountBookID: "family"})

	seedBudget(t, mem, budget.Budget{
		Owner: budget.Shared(), AccountBookID: "family", Amount: dec(1000), RefreshDay: 10,
		Cycle: cycleOf(t, date(2024, 6, 12), 10), RolloverEnabled: true,
	})
	// Shared chains count everyone's spend
	mem.RecordExpense(store.Expense{Owner: budget.Individual("a"), AccountBookID: "family", Date: date(2024, 6, 15), Amount: dec(300)})
	mem.RecordExpense(store.Expense{Owner: budget.Custodial("k"), AccountBookID: "family", Date: date(2024, 6, 16), Amount: dec(200)})

	res, err := engine.EnsureBudgetsUpToDate(ctx, "family", date(2024, 7, 15))
	require.NoError(t, err)
	assert.Len(t, res.CreatedBudgetIDs, 2) // shared July cycle + default for "a"

	b, _ := mem.FindLatest(ctx, budget.ChainKey{Owner: budget.Shared(), AccountBookID: "family"})
	assert.Equal(t, "2024-07-10..2024-08-09", b.Cycle.String())
	assert.True(t, b.RolloverAmount.Equal(dec(500)), "got %s", b.RolloverAmount)
}

// =============================================================================
// ERROR ISOLATION
// =============================================================================

func TestEnsure_AggregationFailure_IsolatedAndRetryable(t *testing.T) {
	// GIVEN: Two owners with rollover budgets, spend aggregation fails for one
	// WHEN: Ensuring
	// THEN: The other owner is brought up to date, the failure is reported,
	//       and a later call with a healthy ledger completes the first owner

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	good, bad := budget.Individual("good"), budget.Custodial("bad")
	for _, o := range []budget.Owner{good, bad} {
		mem.AddMember(budget.Member{Owner: o, AccountBookID: "book"})
		seedBudget(t, mem, budget.Budget{
			ID: "seed-" + o.Ref(), Owner: o, AccountBookID: "book", Amount: dec(100), RefreshDay: 1,
			Cycle: cycleOf(t, date(2024, 6, 1), 1), RolloverEnabled: true,
		})
	}
	mem.SpendErr = func(q budget.SpendQuery) error {
		if q.Owner == bad {
			return errors.New("ledger unavailable")
		}
		return nil
	}

	res, err := engine.EnsureBudgetsUpToDate(ctx, "book", date(2024, 7, 2))
	require.NoError(t, err)
	assert.Len(t, res.CreatedBudgetIDs, 1)
	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, "bad", f.OwnerRef)
	assert.Equal(t, budget.ReasonAggregationFailure, f.Reason)
	assert.True(t, budget.IsRetryable(f.Err))

	latest, _ := mem.FindLatest(ctx, budget.ChainKey{Owner: bad, AccountBookID: "book"})
	assert.Equal(t, "2024-06-01..2024-06-30", latest.Cycle.String(), "failed chain must not advance")

	mem.SpendErr = nil
	res, err = engine.EnsureBudgetsUpToDate(ctx, "book", date(2024, 7, 3))
	require.NoError(t, err)
	assert.Len(t, res.CreatedBudgetIDs, 1)
	assert.Empty(t, res.Failures)
}

func TestEnsure_UnknownOwner_ReportedAsFailure(t *testing.T) {
	mem := store.NewMemory()
	dir := staticDirectory{budget.Member{Owner: budget.Individual("ghost"), AccountBookID: "book"}}
	engine := budget.NewInstantiator(mem, dir, mem, budget.DefaultInstantiatorConfig())

	res, err := engine.EnsureBudgetsUpToDate(context.Background(), "book", date(2024, 7, 2))
	require.NoError(t, err)
	assert.Empty(t, res.CreatedBudgetIDs)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, budget.ReasonOwnerNotFound, res.Failures[0].Reason)
	assert.True(t, errors.Is(res.Failures[0].Err, budget.ErrOwnerNotFound))
}

func TestEnsure_InvalidOwnerVariant_ReportedAsFailure(t *testing.T) {
	mem := store.NewMemory()
	dir := staticDirectory{
		budget.Member{Owner: budget.Owner{}, AccountBookID: "book"},
		budget.Member{Owner: budget.Individual("ok"), AccountBookID: "book"},
	}
	mem.AddMember(budget.Member{Owner: budget.Individual("ok"), AccountBookID: "book"})
	engine := budget.NewInstantiator(mem, dir, mem, budget.DefaultInstantiatorConfig())

	res, err := engine.EnsureBudgetsUpToDate(context.Background(), "book", date(2024, 7, 2))
	require.NoError(t, err)
	assert.Len(t, res.CreatedBudgetIDs, 1)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, budget.ErrInvalidOwner)
}

func TestEnsure_InputValidation(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.EnsureBudgetsUpToDate(context.Background(), "", date(2024, 7, 2))
	assert.ErrorIs(t, err, budget.ErrInvalidAccountBook)

	_, err = engine.EnsureBudgetsUpToDate(context.Background(), "book", budget.Date{})
	assert.ErrorIs(t, err, budget.ErrInvalidDate)
}

func TestEnsure_GapTooLarge_Warns(t *testing.T) {
	mem := store.NewMemory()
	cfg := budget.DefaultInstantiatorConfig()
	cfg.MaxCycles = 3
	engine := budget.NewInstantiator(mem, mem, mem, cfg)
	owner := budget.Individual("u")
	mem.AddMember(budget.Member{Owner: owner, AccountBookID: "book"})
	seedBudget(t, mem, budget.Budget{
		Owner: owner, AccountBookID: "book", Amount: dec(10), RefreshDay: 1,
		Cycle: cycleOf(t, date(2023, 1, 1), 1),
	})

	res, err := engine.EnsureBudgetsUpToDate(context.Background(), "book", date(2024, 7, 2))
	require.NoError(t, err)
	assert.Len(t, res.CreatedBudgetIDs, 3)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, budget.WarnPeriodGapTooLarge, res.Warnings[0].Code)
	assert.Equal(t, "u", res.Warnings[0].OwnerRef)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestEnsure_ConcurrentCallers_CreateExactlyOnce(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	for _, ref := range []string{"a", "b", "c", "d", "e"} {
		mem.AddMember(budget.Member{Owner: budget.Individual(ref), AccountBookID: "book"})
	}

	const callers = 8
	results := make([]budget.Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := engine.EnsureBudgetsUpToDate(ctx, "book", date(2024, 7, 2))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	unique := map[string]bool{}
	for _, r := range results {
		for _, id := range r.CreatedBudgetIDs {
			unique[id] = true
		}
	}
	assert.Len(t, unique, 5)

	// Separate engines share no single-flight group; storage still dedupes
	other := budget.NewInstantiator(mem, mem, mem, budget.DefaultInstantiatorConfig())
	res, err := other.EnsureBudgetsUpToDate(ctx, "book", date(2024, 7, 2))
	require.NoError(t, err)
	assert.Empty(t, res.CreatedBudgetIDs)
}

func TestEnsure_JoiningCallerSurvivesFirstCallerCancel(t *testing.T) {
	// GIVEN: A refresh in flight for the first caller, blocked listing owners
	// WHEN: A second caller joins with a live context and the first caller cancels
	// THEN: The first caller gets its cancellation, the second gets a complete
	//       result, and the budget is created with its rollover

	mem := store.NewMemory()
	owner := budget.Individual("a")
	mem.AddMember(budget.Member{Owner: owner, AccountBookID: "book"})
	seedBudget(t, mem, budget.Budget{
		Owner: owner, AccountBookID: "book", Amount: dec(100), RefreshDay: 1,
		Cycle: cycleOf(t, date(2024, 6, 1), 1), RolloverEnabled: true,
	})

	dir := &gatedDirectory{next: mem, entered: make(chan struct{}), release: make(chan struct{})}
	engine := budget.NewInstantiator(mem, dir, contextSpend{mem}, budget.DefaultInstantiatorConfig())

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := engine.EnsureBudgetsUpToDate(firstCtx, "book", date(2024, 7, 2))
		firstErr <- err
	}()
	<-dir.entered

	type outcome struct {
		res budget.Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := engine.EnsureBudgetsUpToDate(context.Background(), "book", date(2024, 7, 2))
		second <- outcome{res, err}
	}()
	// let the second caller attach to the in-flight run
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(dir.release)

	got := <-second
	require.NoError(t, got.err)
	assert.Empty(t, got.res.Failures)

	july, err := mem.FindByKey(context.Background(), budget.ChainKey{Owner: owner, AccountBookID: "book"}, date(2024, 7, 1))
	require.NoError(t, err)
	require.NotNil(t, july)
	assert.True(t, july.RolloverAmount.Equal(dec(100)))
}

func TestEnsure_CanceledAggregation_NotRetryable(t *testing.T) {
	// GIVEN: Spend aggregation that stops on a deadline
	// WHEN: Ensuring
	// THEN: The owner fails as CANCELED and is not marked retryable

	engine, mem := newTestEngine(t)
	owner := budget.Individual("a")
	mem.AddMember(budget.Member{Owner: owner, AccountBookID: "book"})
	seedBudget(t, mem, budget.Budget{
		Owner: owner, AccountBookID: "book", Amount: dec(100), RefreshDay: 1,
		Cycle: cycleOf(t, date(2024, 6, 1), 1), RolloverEnabled: true,
	})
	mem.SpendErr = func(budget.SpendQuery) error { return context.DeadlineExceeded }

	res, err := engine.EnsureBudgetsUpToDate(context.Background(), "book", date(2024, 7, 2))
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, budget.ReasonCanceled, f.Reason)
	assert.ErrorIs(t, f.Err, budget.ErrAggregationFailure)
	assert.False(t, budget.IsRetryable(f.Err))

	assert.True(t, budget.IsRetryable(&budget.AggregationError{Err: errors.New("ledger unavailable")}))
	assert.False(t, budget.IsRetryable(&budget.AggregationError{Err: context.Canceled}))
}

type gatedDirectory struct {
	next    budget.OwnerDirectory
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDirectory) ListEligibleOwners(ctx context.Context, accountBookID string) ([]budget.Member, error) {
	d.once.Do(func() { close(d.entered) })
	<-d.release
	return d.next.ListEligibleOwners(ctx, accountBookID)
}

// contextSpend fails like a database driver once ctx is done.
type contextSpend struct {
	next budget.SpendAggregator
}

func (s contextSpend) SumSpend(ctx context.Context, q budget.SpendQuery) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	return s.next.SumSpend(ctx, q)
}

// =============================================================================
// EVENTS
// =============================================================================

func TestEnsure_PublishesCycleOpened(t *testing.T) {
	pub := &recordingPublisher{}
	fixed := time.Date(2024, 7, 2, 9, 0, 0, 0, time.UTC)
	engine, mem := newTestEngine(t, budget.WithPublisher(pub), budget.WithClock(func() time.Time { return fixed }))
	mem.AddMember(budget.Member{Owner: budget.Individual("a"), AccountBookID: "book"})

	res, err := engine.EnsureBudgetsUpToDate(context.Background(), "book", date(2024, 7, 2))
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	assert.Equal(t, res.CreatedBudgetIDs[0], pub.events[0].BudgetID)
	assert.Equal(t, "2024-07-01..2024-07-31", pub.events[0].Cycle)
	assert.Equal(t, fixed, pub.events[0].OccurredAt)
}

func TestEnsure_PublishFailure_DoesNotFailCall(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	engine, mem := newTestEngine(t, budget.WithPublisher(pub))
	mem.AddMember(budget.Member{Owner: budget.Individual("a"), AccountBookID: "book"})

	res, err := engine.EnsureBudgetsUpToDate(context.Background(), "book", date(2024, 7, 2))
	require.NoError(t, err)
	assert.Len(t, res.CreatedBudgetIDs, 1)
	assert.Empty(t, res.Failures)
}

func TestEnsure_BackfillPublishesInCycleOrder(t *testing.T) {
	pub := &recordingPublisher{}
	engine, mem := newTestEngine(t, budget.WithPublisher(pub))
	owner := budget.Individual("a")
	mem.AddMember(budget.Member{Owner: owner, AccountBookID: "book"})
	seedBudget(t, mem, budget.Budget{
		Owner: owner, AccountBookID: "book", Amount: dec(100), RefreshDay: 1,
		Cycle: cycleOf(t, date(2024, 4, 1), 1), RolloverEnabled: true,
	})

	res, err := engine.EnsureBudgetsUpToDate(context.Background(), "book", date(2024, 7, 2))
	require.NoError(t, err)
	require.Len(t, res.CreatedBudgetIDs, 3)
	require.Len(t, pub.events, 3)
	for i, e := range pub.events {
		assert.Equal(t, res.CreatedBudgetIDs[i], e.BudgetID)
	}
	assert.Equal(t, "2024-07-01..2024-07-31", pub.events[2].Cycle)
}

func TestEnsure_PublishFailure_StopsOwnerBatch(t *testing.T) {
	// GIVEN: A broker that rejects every publish and a three-cycle gap
	// WHEN: Ensuring
	// THEN: Every budget is created, and publishing gives up after one attempt

	pub := &recordingPublisher{err: errors.New("broker down")}
	engine, mem := newTestEngine(t, budget.WithPublisher(pub))
	owner := budget.Individual("a")
	mem.AddMember(budget.Member{Owner: owner, AccountBookID: "book"})
	seedBudget(t, mem, budget.Budget{
		Owner: owner, AccountBookID: "book", Amount: dec(100), RefreshDay: 1,
		Cycle: cycleOf(t, date(2024, 4, 1), 1), RolloverEnabled: true,
	})

	res, err := engine.EnsureBudgetsUpToDate(context.Background(), "book", date(2024, 7, 2))
	require.NoError(t, err)
	assert.Len(t, res.CreatedBudgetIDs, 3)
	assert.Empty(t, res.Failures)
	assert.Len(t, pub.events, 1)
}

// =============================================================================
// ACTIVE PERIOD
// =============================================================================

func TestGetActivePeriod(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	owner := budget.Individual("u")
	mem.AddMember(budget.Member{Owner: owner, AccountBookID: "book"})
	seedBudget(t, mem, budget.Budget{
		Owner: owner, AccountBookID: "book", CategoryID: "food", Amount: dec(400), RefreshDay: 25,
		Cycle: cycleOf(t, date(2024, 7, 15), 25), RolloverEnabled: true, RolloverAmount: dec(100),
	})
	mem.RecordExpense(store.Expense{Owner: owner, AccountBookID: "book", CategoryID: "food", Date: date(2024, 7, 1), Amount: dec(125)})

	ap, err := engine.GetActivePeriod(ctx, owner, "book", "food", date(2024, 7, 15))
	require.NoError(t, err)
	assert.True(t, ap.TotalAvailable.Equal(dec(500)))
	assert.True(t, ap.Spent.Equal(dec(125)))
	assert.True(t, ap.Remaining.Equal(dec(375)))
	assert.True(t, ap.UsagePercent.Equal(dec(25)), "got %s", ap.UsagePercent)
	assert.Equal(t, 30, ap.DaysInCycle)
	assert.Equal(t, 10, ap.RemainingDays)

	// Nothing is created for a date past the last cycle
	_, err = engine.GetActivePeriod(ctx, owner, "book", "food", date(2024, 8, 1))
	assert.ErrorIs(t, err, budget.ErrNoActiveBudget)
	latest, _ := mem.FindLatest(ctx, budget.ChainKey{Owner: owner, AccountBookID: "book", CategoryID: "food"})
	assert.Equal(t, "2024-06-25..2024-07-24", latest.Cycle.String())

	// Before the chain started
	_, err = engine.GetActivePeriod(ctx, owner, "book", "food", date(2024, 6, 1))
	assert.ErrorIs(t, err, budget.ErrNoActiveBudget)
	assert.True(t, budget.IsNotFound(err))

	_, err = engine.GetActivePeriod(ctx, budget.Individual(""), "book", "", date(2024, 7, 15))
	assert.ErrorIs(t, err, budget.ErrInvalidOwner)
}

type staticDirectory []budget.Member

func (d staticDirectory) ListEligibleOwners(context.Context, string) ([]budget.Member, error) {
	return d, nil
}
