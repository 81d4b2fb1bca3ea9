/*
scheduler.go - Periodic budget refresh

PURPOSE:
  Periodically brings every known account book up to date so that a new
  cycle opens (and its event goes out) even when nobody opens the app on
  the refresh day.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Lists account books from the store, refreshes them one at a time
  - A failing book is logged and skipped; the next tick retries it
  - Refreshing is idempotent, so overlapping with HTTP refreshes is safe

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRefreshScheduler(store, engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Refresh endpoint (manual refresh)
  - budget/instantiator.go: EnsureBudgetsUpToDate
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/logging"
)

// BookLister enumerates the account books the scheduler sweeps.
type BookLister interface {
	ListAccountBooks(ctx context.Context) ([]string, error)
}

// SweepSummary is the outcome of one pass over all account books.
type SweepSummary struct {
	Books    int
	Created  int
	Failures int
	Errors   int
}

// RefreshScheduler handles automated cycle opening.
type RefreshScheduler struct {
	Books         BookLister
	Engine        Engine
	CheckInterval time.Duration
	Enabled       bool

	log    *logging.Logger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRefreshScheduler creates a new scheduler.
func NewRefreshScheduler(books BookLister, engine Engine, log *logging.Logger) *RefreshScheduler {
	if log == nil {
		log = logging.Nop()
	}
	return &RefreshScheduler{
		Books:         books,
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.WithComponent(logging.ComponentScheduler),
		now:           time.Now,
	}
}

// Start begins the scheduler.
func (rs *RefreshScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.log.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.log.Info("scheduler started", "interval", rs.CheckInterval.String())
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (rs *RefreshScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log.Info("scheduler stopped")
	}
}

func (rs *RefreshScheduler) run() {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-rs.stop
		cancel()
	}()

	// Run immediately on start
	rs.Sweep(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.Sweep(ctx)
		case <-rs.stop:
			return
		}
	}
}

// Sweep refreshes every account book as of today.
func (rs *RefreshScheduler) Sweep(ctx context.Context) SweepSummary {
	var sum SweepSummary
	start := rs.now()
	asOf := budget.DateOf(start)

	books, err := rs.Books.ListAccountBooks(ctx)
	if err != nil {
		rs.log.ErrorContext(ctx, "failed to list account books", logging.FieldError, err)
		sum.Errors++
		return sum
	}

	for _, book := range books {
		if ctx.Err() != nil {
			break
		}
		sum.Books++

		res, err := rs.Engine.EnsureBudgetsUpToDate(ctx, book, asOf)
		if err != nil {
			rs.log.WarnContext(ctx, "refresh failed",
				logging.FieldAccountBook, book,
				logging.FieldError, err,
			)
			sum.Errors++
			continue
		}
		sum.Created += len(res.CreatedBudgetIDs)
		sum.Failures += len(res.Failures)
	}

	if sum.Created > 0 || sum.Failures > 0 || sum.Errors > 0 {
		rs.log.InfoContext(ctx, "sweep completed",
			logging.FieldOperation, logging.OpSweep,
			logging.FieldAsOf, asOf.String(),
			logging.FieldBooks, sum.Books,
			logging.FieldCreated, sum.Created,
			logging.FieldFailures, sum.Failures,
			logging.FieldDuration, time.Since(start).Milliseconds(),
		)
	}
	return sum
}
