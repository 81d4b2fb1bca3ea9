package budget

// =============================================================================
// GAP ENUMERATOR - Cycles that should exist but were never materialized
// =============================================================================

// DefaultMaxCycles caps a single backfill at roughly three years.
const DefaultMaxCycles = 36

// GapResult is the ordered list of missing cycles.
// Skipped counts the oldest cycles dropped by the backfill cap.
type GapResult struct {
	Cycles  []Cycle
	Skipped int
}

func (g GapResult) Truncated() bool { return g.Skipped > 0 }

// MissingCycles lists the cycles after lastCycleEnd through the cycle
// containing asOf, oldest first.
//
// A nil lastCycleEnd means the chain has no budget yet and yields the single
// cycle containing asOf. When the chain was built with another refresh day the
// first cycle starts the day after lastCycleEnd and ends on the regular
// boundary, so cycles never overlap and never leave a hole.
//
// At most maxCycles cycles are returned (DefaultMaxCycles when maxCycles <= 0);
// older ones are dropped and reported through Skipped.
func MissingCycles(lastCycleEnd *Date, asOf Date, day RefreshDay, maxCycles int) (GapResult, error) {
	current, err := ComputeCycle(asOf, day)
	if err != nil {
		return GapResult{}, err
	}
	if lastCycleEnd == nil {
		return GapResult{Cycles: []Cycle{current}}, nil
	}
	if maxCycles <= 0 {
		maxCycles = DefaultMaxCycles
	}

	first := lastCycleEnd.AddDays(1)
	aligned, err := ComputeCycle(first, day)
	if err != nil {
		return GapResult{}, err
	}

	count := monthsBetween(aligned.Start, current.Start) + 1
	if count <= 0 {
		return GapResult{}, nil
	}

	result := GapResult{}
	if count > maxCycles {
		result.Skipped = count - maxCycles
		aligned = cycleStartingAt(aligned.Start.AddMonths(result.Skipped))
		first = aligned.Start
		count = maxCycles
	}

	result.Cycles = make([]Cycle, 0, count)
	cycle := Cycle{Start: first, End: aligned.End}
	for i := 0; i < count; i++ {
		result.Cycles = append(result.Cycles, cycle)
		cycle = cycle.Next()
	}
	return result, nil
}
