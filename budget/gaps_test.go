package budget_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
)

func labels(cycles []budget.Cycle) []string {
	out := make([]string, len(cycles))
	for i, c := range cycles {
		out[i] = c.String()
	}
	return out
}

func datePtr(y int, m time.Month, d int) *budget.Date {
	v := budget.NewDate(y, m, d)
	return &v
}

func TestMissingCycles_NoPriorCycle(t *testing.T) {
	// GIVEN: A chain that never had a budget
	// WHEN: Enumerating missing cycles as of July 15
	// THEN: Only the cycle containing July 15

	gap, err := budget.MissingCycles(nil, date(2024, 7, 15), 25, 36)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-25..2024-07-24"}, labels(gap.Cycles))
	assert.False(t, gap.Truncated())
}

func TestMissingCycles_TwoCycleGap(t *testing.T) {
	// GIVEN: Last cycle 2024-04-25..2024-05-24, refresh day 25
	// WHEN: asOf 2024-07-15
	// THEN: Exactly the two cycles in between and including the current one

	gap, err := budget.MissingCycles(datePtr(2024, 5, 24), date(2024, 7, 15), 25, 36)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-05-25..2024-06-24",
		"2024-06-25..2024-07-24",
	}, labels(gap.Cycles))
}

func TestMissingCycles_UpToDate(t *testing.T) {
	gap, err := budget.MissingCycles(datePtr(2024, 7, 24), date(2024, 7, 15), 25, 36)
	require.NoError(t, err)
	assert.Empty(t, gap.Cycles)

	// lastCycleEnd in the future
	gap, err = budget.MissingCycles(datePtr(2024, 9, 24), date(2024, 7, 15), 25, 36)
	require.NoError(t, err)
	assert.Empty(t, gap.Cycles)
}

func TestMissingCycles_CommonCase(t *testing.T) {
	gap, err := budget.MissingCycles(datePtr(2024, 6, 30), date(2024, 7, 1), 1, 36)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-07-01..2024-07-31"}, labels(gap.Cycles))
}

func TestMissingCycles_Contiguous(t *testing.T) {
	gap, err := budget.MissingCycles(datePtr(2022, 3, 9), date(2024, 7, 15), 10, 36)
	require.NoError(t, err)
	require.Len(t, gap.Cycles, 29)

	assert.True(t, gap.Cycles[0].Start.Equal(date(2022, 3, 10)))
	for i := 1; i < len(gap.Cycles); i++ {
		prev, cur := gap.Cycles[i-1], gap.Cycles[i]
		if !cur.Start.Equal(prev.End.AddDays(1)) {
			t.Fatalf("gap or overlap between %s and %s", prev, cur)
		}
	}
	assert.True(t, gap.Cycles[len(gap.Cycles)-1].Contains(date(2024, 7, 15)))
}

func TestMissingCycles_TruncatedToMostRecent(t *testing.T) {
	// GIVEN: A chain idle for ten years
	// WHEN: Enumerating with a cap of 36
	// THEN: The 36 most recent cycles, the rest reported as skipped

	gap, err := budget.MissingCycles(datePtr(2014, 6, 30), date(2024, 7, 15), 1, 36)
	require.NoError(t, err)

	require.Len(t, gap.Cycles, 36)
	assert.True(t, gap.Truncated())
	assert.Equal(t, 85, gap.Skipped) // 121 cycles from 2014-07 through 2024-07
	assert.Equal(t, "2024-07-01..2024-07-31", gap.Cycles[35].String())
	assert.Equal(t, "2021-08-01..2021-08-31", gap.Cycles[0].String())
}

func TestMissingCycles_DefaultCap(t *testing.T) {
	gap, err := budget.MissingCycles(datePtr(2000, 1, 31), date(2024, 7, 15), 1, 0)
	require.NoError(t, err)
	assert.Len(t, gap.Cycles, budget.DefaultMaxCycles)
}

func TestMissingCycles_RefreshDayChanged_BridgesWithoutOverlap(t *testing.T) {
	// GIVEN: The last budget used refresh day 1 and ended 2024-05-31,
	//        the chain now refreshes on the 15th
	// WHEN: Enumerating as of 2024-07-20
	// THEN: A short bridging cycle June 1 - June 14, then regular cycles

	gap, err := budget.MissingCycles(datePtr(2024, 5, 31), date(2024, 7, 20), 15, 36)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-06-01..2024-06-14",
		"2024-06-15..2024-07-14",
		"2024-07-15..2024-08-14",
	}, labels(gap.Cycles))
}

func TestMissingCycles_InvalidRefreshDay(t *testing.T) {
	_, err := budget.MissingCycles(nil, date(2024, 7, 15), 7, 36)
	assert.ErrorIs(t, err, budget.ErrInvalidRefreshDay)
}
