/*
cycle.go - Budget cycles anchored on a refresh day

PURPOSE:
  Pure date arithmetic. A budget does not reset on the 1st of the month but
  on its refresh day, so the cycle containing July 15th for a budget that
  refreshes on the 25th is [June 25, July 24].

REFRESH DAYS:
  Only 1, 5, 10, 15, 20 and 25 are accepted. Every month has a 25th, so a
  cycle start never needs clamping and stepping by one calendar month is
  always exact.

EXAMPLE:
  c, _ := ComputeCycle(NewDate(2024, 7, 15), 25)
  c.String()          // "2024-06-25..2024-07-24"
  c.Next().String()   // "2024-07-25..2024-08-24"

SEE ALSO:
  - gaps.go: Walks cycles forward to find the ones never materialized
*/
package budget

import (
	"fmt"
	"strings"
)

// =============================================================================
// REFRESH DAY
// =============================================================================

// RefreshDay is the day of month a budget cycle resets on.
type RefreshDay int

// DefaultRefreshDay is used for budgets created without an explicit refresh day.
const DefaultRefreshDay RefreshDay = 1

var refreshDays = [...]RefreshDay{1, 5, 10, 15, 20, 25}

// RefreshDays returns the accepted refresh days in ascending order.
func RefreshDays() []RefreshDay {
	out := make([]RefreshDay, len(refreshDays))
	copy(out, refreshDays[:])
	return out
}

func (d RefreshDay) Valid() bool {
	for _, v := range refreshDays {
		if d == v {
			return true
		}
	}
	return false
}

// ParseRefreshDay validates n as a refresh day.
func ParseRefreshDay(n int) (RefreshDay, error) {
	d := RefreshDay(n)
	if !d.Valid() {
		return 0, &InvalidRefreshDayError{Day: n}
	}
	return d, nil
}

// =============================================================================
// CYCLE
// =============================================================================

// Cycle is one inclusive [Start, End] budget period.
type Cycle struct {
	Start Date
	End   Date
}

// ComputeCycle returns the cycle containing ref for the given refresh day.
func ComputeCycle(ref Date, day RefreshDay) (Cycle, error) {
	if !day.Valid() {
		return Cycle{}, &InvalidRefreshDayError{Day: int(day)}
	}

	start := NewDate(ref.Year(), ref.Month(), int(day))
	// Before this month's refresh day we are still in last month's cycle
	if ref.Day() < int(day) {
		start = start.AddMonths(-1)
	}
	return cycleStartingAt(start), nil
}

func cycleStartingAt(start Date) Cycle {
	return Cycle{Start: start, End: start.AddMonths(1).AddDays(-1)}
}

// Contains returns true if d is within [Start, End].
func (c Cycle) Contains(d Date) bool {
	return d.AfterOrEqual(c.Start) && d.BeforeOrEqual(c.End)
}

// Next returns the cycle starting the day after c ends.
func (c Cycle) Next() Cycle {
	return cycleStartingAt(c.End.AddDays(1))
}

// Previous returns the cycle ending the day before c starts.
func (c Cycle) Previous() Cycle {
	return Cycle{Start: c.Start.AddMonths(-1), End: c.Start.AddDays(-1)}
}

// Days returns the length of the cycle in days.
func (c Cycle) Days() int {
	return DaysBetween(c.Start, c.End) + 1
}

// RemainingDays counts the days left in the cycle, asOf included.
func (c Cycle) RemainingDays(asOf Date) int {
	switch {
	case asOf.After(c.End):
		return 0
	case asOf.Before(c.Start):
		return c.Days()
	default:
		return DaysBetween(asOf, c.End) + 1
	}
}

func (c Cycle) IsZero() bool { return c.Start.IsZero() && c.End.IsZero() }

// String returns the cycle label, e.g. "2024-06-25..2024-07-24".
func (c Cycle) String() string {
	return c.Start.String() + ".." + c.End.String()
}

// ParseCycleLabel parses a label produced by Cycle.String.
func ParseCycleLabel(label string) (Cycle, error) {
	start, end, ok := strings.Cut(label, "..")
	if !ok {
		return Cycle{}, fmt.Errorf("%w: cycle label %q", ErrInvalidDate, label)
	}
	s, err := ParseDate(start)
	if err != nil {
		return Cycle{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Cycle{}, err
	}
	if e.Before(s) {
		return Cycle{}, fmt.Errorf("%w: cycle label %q ends before it starts", ErrInvalidDate, label)
	}
	return Cycle{Start: s, End: e}, nil
}
