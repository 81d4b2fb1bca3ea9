package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/budget/store"
)

func TestRefreshScheduler_SweepOpensCyclesForEveryBook(t *testing.T) {
	// GIVEN: Two books with one member each and no budgets
	// WHEN: The scheduler sweeps twice
	// THEN: One budget per book the first time, nothing the second
	mem := store.NewMemory()
	mem.AddMember(budget.Member{Owner: budget.Individual("u-1"), AccountBookID: "book-a"})
	mem.AddMember(budget.Member{Owner: budget.Custodial("kid"), AccountBookID: "book-b"})
	engine := budget.NewInstantiator(mem, mem, mem, budget.DefaultInstantiatorConfig())

	rs := NewRefreshScheduler(mem, engine, nil)
	rs.now = func() time.Time { return fixedNow }

	sum := rs.Sweep(context.Background())
	assert.Equal(t, SweepSummary{Books: 2, Created: 2}, sum)

	b, err := mem.FindLatest(context.Background(), budget.ChainKey{Owner: budget.Custodial("kid"), AccountBookID: "book-b"})
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "2024-07-01..2024-07-31", b.Cycle.String())

	sum = rs.Sweep(context.Background())
	assert.Equal(t, SweepSummary{Books: 2}, sum)
}

type failingBooks struct{}

func (failingBooks) ListAccountBooks(context.Context) ([]string, error) {
	return nil, errors.New("db down")
}

func TestRefreshScheduler_ListErrorCounted(t *testing.T) {
	rs := NewRefreshScheduler(failingBooks{}, stubEngine{}, nil)
	assert.Equal(t, SweepSummary{Errors: 1}, rs.Sweep(context.Background()))
}

func TestRefreshScheduler_EngineErrorSkipsBook(t *testing.T) {
	mem := store.NewMemory()
	mem.AddMember(budget.Member{Owner: budget.Individual("u-1"), AccountBookID: "book-a"})

	rs := NewRefreshScheduler(mem, stubEngine{err: errors.New("boom")}, nil)
	assert.Equal(t, SweepSummary{Books: 1, Errors: 1}, rs.Sweep(context.Background()))
}

func TestRefreshScheduler_StartStop(t *testing.T) {
	mem := store.NewMemory()
	engine := budget.NewInstantiator(mem, mem, mem, budget.DefaultInstantiatorConfig())

	rs := NewRefreshScheduler(mem, engine, nil)
	rs.CheckInterval = 10 * time.Millisecond
	rs.Start()
	rs.Start() // second start is a no-op
	time.Sleep(25 * time.Millisecond)
	rs.Stop()
	rs.Stop()

	rs.Enabled = false
	rs.Start()
	assert.Nil(t, rs.ticker)
}
