/*
instantiator.go - Brings every budget chain of an account book up to date

PURPOSE:
  EnsureBudgetsUpToDate is invoked on demand (there is no timer). For each
  eligible owner of the account book it finds the cycles that should exist
  by asOf, creates them oldest first and records each transition.

FLOW (per owner, owners in parallel):
  1. ListChains; an owner with no chain gets a default whole-book budget
     (INDIVIDUAL and CUSTODIAL only; SHARED budgets are created elsewhere)
  2. FindLatest -> template (amount, refresh day, rollover flag) + lastCycleEnd
  3. MissingCycles(lastCycleEnd, asOf)
  4. For each missing cycle, ascending:
     a. already stored -> skip, it becomes the prior
     b. SumSpend over the prior cycle, CloseCycle
     c. CreateIfAbsent the new budget with the outgoing rollover
     d. Append the ROLLOVER history entry (same transaction as c)

CONCURRENCY:
  - Concurrent calls for the same (account book, asOf) share one execution
    through a single-flight group.
  - Storage uniqueness on (chain, cycle start) and (budget, cycle label)
    stays the correctness backstop across processes.
  - No cross-owner locking. Owners run on a bounded errgroup.

ERRORS:
  Input errors reject the whole call. Anything that goes wrong for one owner
  is collected into Result.Failures and the other owners carry on. A failed
  spend query leaves the chain where it was, so the next call retries it.

SEE ALSO:
  - gaps.go, rollover.go, history.go: The steps above
  - active.go: Read-only companion
*/
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/warp/budget-engine/logging"
)

// DefaultOwnerConcurrency bounds how many owners are processed at once.
const DefaultOwnerConcurrency = 4

// DefaultRefreshTimeout bounds one shared refresh of an account book.
const DefaultRefreshTimeout = 5 * time.Minute

// InstantiatorConfig holds the engine's policy values.
type InstantiatorConfig struct {
	MaxCycles         int
	OwnerConcurrency  int
	DefaultRefreshDay RefreshDay
	// RefreshTimeout bounds a refresh once callers have joined it. Each
	// caller still stops waiting when its own context ends.
	RefreshTimeout    time.Duration
	Policy            RolloverPolicy
}

func DefaultInstantiatorConfig() InstantiatorConfig {
	return InstantiatorConfig{
		MaxCycles:         DefaultMaxCycles,
		OwnerConcurrency:  DefaultOwnerConcurrency,
		DefaultRefreshDay: DefaultRefreshDay,
		RefreshTimeout:    DefaultRefreshTimeout,
		Policy:            DefaultRolloverPolicy(),
	}
}

type Option func(*Instantiator)

// WithPublisher announces every created budget.
func WithPublisher(p EventPublisher) Option {
	return func(in *Instantiator) { in.publisher = p }
}

func WithLogger(l *logging.Logger) Option {
	return func(in *Instantiator) {
		if l != nil {
			in.log = l.WithComponent(logging.ComponentEngine)
		}
	}
}

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(in *Instantiator) { in.now = now }
}

// =============================================================================
// INSTANTIATOR
// =============================================================================

type Instantiator struct {
	store     TxStore
	owners    OwnerDirectory
	spend     SpendAggregator
	publisher EventPublisher
	cfg       InstantiatorConfig
	log       *logging.Logger
	now       func() time.Time

	flight singleflight.Group
}

func NewInstantiator(store TxStore, owners OwnerDirectory, spend SpendAggregator, cfg InstantiatorConfig, opts ...Option) *Instantiator {
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultMaxCycles
	}
	if cfg.OwnerConcurrency <= 0 {
		cfg.OwnerConcurrency = DefaultOwnerConcurrency
	}
	if !cfg.DefaultRefreshDay.Valid() {
		cfg.DefaultRefreshDay = DefaultRefreshDay
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}

	in := &Instantiator{
		store:  store,
		owners: owners,
		spend:  spend,
		cfg:    cfg,
		log:    logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// EnsureBudgetsUpToDate creates every missing cycle for every eligible owner
// of accountBookID up to the cycle containing asOf. Calling it again with the
// same arguments creates nothing.
//
// Concurrent calls for the same book and date share one run. The run is
// detached from every caller's cancellation and bounded by RefreshTimeout,
// so a caller that gives up only stops waiting for it.
func (in *Instantiator) EnsureBudgetsUpToDate(ctx context.Context, accountBookID string, asOf Date) (Result, error) {
	if accountBookID == "" {
		return Result{}, ErrInvalidAccountBook
	}
	if asOf.IsZero() {
		return Result{}, fmt.Errorf("%w: zero as-of date", ErrInvalidDate)
	}

	key := "ensure:" + accountBookID + ":" + asOf.String()
	ch := in.flight.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), in.cfg.RefreshTimeout)
		defer cancel()
		return in.ensure(runCtx, accountBookID, asOf)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	}
}

func (in *Instantiator) ensure(ctx context.Context, accountBookID string, asOf Date) (Result, error) {
	started := in.now()
	log := in.log.With(logging.FieldAccountBook, accountBookID, logging.FieldAsOf, asOf.String())

	members, err := in.owners.ListEligibleOwners(ctx, accountBookID)
	if err != nil {
		return Result{}, fmt.Errorf("list eligible owners for %s: %w", accountBookID, err)
	}
	members = uniqueMembers(members)

	outcomes := make([]ownerOutcome, len(members))
	var g errgroup.Group
	g.SetLimit(in.cfg.OwnerConcurrency)
	for i, m := range members {
		i, m := i, m
		g.Go(func() error {
			outcomes[i] = in.ensureOwner(ctx, log, m, accountBookID, asOf)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{CreatedBudgetIDs: []string{}}
	for _, o := range outcomes {
		res.CreatedBudgetIDs = append(res.CreatedBudgetIDs, o.created...)
		res.Warnings = append(res.Warnings, o.warnings...)
		res.Failures = append(res.Failures, o.failures...)
	}

	log.Info("account book refreshed",
		logging.FieldCreated, len(res.CreatedBudgetIDs),
		logging.FieldWarnings, len(res.Warnings),
		logging.FieldFailures, len(res.Failures),
		logging.FieldDuration, in.now().Sub(started).Milliseconds(),
	)
	return res, nil
}

// ownerOutcome is what one owner contributes to the Result.
type ownerOutcome struct {
	created  []string
	warnings []Warning
	failures []OwnerFailure

	opened []Budget
}

func (o *ownerOutcome) fail(owner Owner, err error) {
	o.failures = append(o.failures, newOwnerFailure(owner, err))
}

func (o *ownerOutcome) warn(code string, chain ChainKey, msg string) {
	o.warnings = append(o.warnings, Warning{Code: code, Chain: chain, OwnerRef: chain.Owner.Ref(), Message: msg})
}

func (in *Instantiator) ensureOwner(ctx context.Context, log *logging.Logger, m Member, accountBookID string, asOf Date) ownerOutcome {
	var out ownerOutcome
	owner := m.Owner
	log = log.With(logging.FieldOwner, owner.String())

	if err := owner.Validate(); err != nil {
		out.fail(owner, err)
		log.Warn("owner skipped", logging.FieldError, err)
		return out
	}

	chains, err := in.store.ListChains(ctx, owner, accountBookID)
	if err != nil {
		out.fail(owner, fmt.Errorf("list chains: %w", err))
		log.Warn("owner skipped", logging.FieldError, err)
		return out
	}
	if len(chains) == 0 {
		if owner.IsShared() {
			log.Debug("no shared budgets")
			return out
		}
		chains = []ChainKey{{Owner: owner, AccountBookID: accountBookID}}
	}

	for _, chain := range chains {
		if err := in.ensureChain(ctx, log, chain, asOf, &out); err != nil {
			out.fail(owner, err)
			log.Warn("chain not brought up to date", logging.FieldChain, chain.String(), logging.FieldError, err)
		}
	}
	in.publishOpened(ctx, log, out.opened)
	return out
}

func (in *Instantiator) ensureChain(ctx context.Context, log *logging.Logger, chain ChainKey, asOf Date, out *ownerOutcome) error {
	latest, err := in.store.FindLatest(ctx, chain)
	if err != nil {
		return fmt.Errorf("find latest budget for %s: %w", chain, err)
	}

	template := defaultBudget(chain, in.cfg.DefaultRefreshDay)
	var lastEnd *Date
	if latest != nil {
		template = *latest
		end := latest.Cycle.End
		lastEnd = &end
	}

	gap, err := MissingCycles(lastEnd, asOf, template.RefreshDay, in.cfg.MaxCycles)
	if err != nil {
		return fmt.Errorf("enumerate cycles for %s: %w", chain, err)
	}
	if gap.Truncated() {
		out.warn(WarnPeriodGapTooLarge, chain, fmt.Sprintf("%v: skipped %d cycles, backfilled the latest %d",
			ErrPeriodGapTooLarge, gap.Skipped, len(gap.Cycles)))
		log.Warn("backfill truncated", logging.FieldChain, chain.String(), logging.FieldSkipped, gap.Skipped)
	}

	prior := latest
	for _, cycle := range gap.Cycles {
		existing, err := in.store.FindByKey(ctx, chain, cycle.Start)
		if err != nil {
			return fmt.Errorf("find budget %s %s: %w", chain, cycle, err)
		}
		if existing != nil {
			prior = existing
			continue
		}

		next, created, err := in.openCycle(ctx, log, chain, template, prior, cycle, out)
		if err != nil {
			return err
		}
		if created {
			out.created = append(out.created, next.ID)
			out.opened = append(out.opened, next)
		}
		prior = &next
	}
	return nil
}

// openCycle creates the budget for cycle, closing prior first if there is one.
func (in *Instantiator) openCycle(ctx context.Context, log *logging.Logger, chain ChainKey, template Budget, prior *Budget, cycle Cycle, out *ownerOutcome) (Budget, bool, error) {
	now := in.now().UTC()
	next := Budget{
		ID:              uuid.NewString(),
		Owner:           chain.Owner,
		AccountBookID:   chain.AccountBookID,
		CategoryID:      chain.CategoryID,
		Amount:          template.Amount,
		RefreshDay:      template.RefreshDay,
		Cycle:           cycle,
		RolloverEnabled: template.RolloverEnabled,
		RolloverAmount:  decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var (
		entry     *HistoryEntry
		anomalies []string
	)
	if prior != nil {
		q := SpendQuery{Owner: chain.Owner, AccountBookID: chain.AccountBookID, CategoryID: chain.CategoryID, Cycle: prior.Cycle}
		spent, err := in.spend.SumSpend(ctx, q)
		if err != nil {
			return Budget{}, false, &AggregationError{Query: q, Err: err}
		}

		closing := CloseCycle(*prior, spent, in.cfg.Policy)
		next.RolloverAmount = closing.OutgoingRollover
		anomalies = closing.Anomalies()

		e := closing.HistoryEntry(chain, next.ID)
		e.ID = uuid.NewString()
		e.CreatedAt = now
		entry = &e
	}

	var (
		stored  Budget
		created bool
	)
	err := in.store.WithTx(ctx, func(tx Store) error {
		var err error
		stored, created, err = tx.CreateIfAbsent(ctx, next)
		if err != nil || !created || entry == nil {
			return err
		}
		_, err = NewHistoryLedger(tx).Append(ctx, *entry)
		return err
	})
	if errors.Is(err, ErrDuplicateBudget) {
		existing, ferr := in.store.FindByKey(ctx, chain, cycle.Start)
		if ferr != nil {
			return Budget{}, false, fmt.Errorf("reload budget %s %s: %w", chain, cycle, ferr)
		}
		if existing == nil {
			return Budget{}, false, fmt.Errorf("create budget %s %s: %w", chain, cycle, err)
		}
		return *existing, false, nil
	}
	if err != nil {
		return Budget{}, false, fmt.Errorf("create budget %s %s: %w", chain, cycle, err)
	}

	if created {
		for _, a := range anomalies {
			out.warn(WarnRolloverAnomaly, chain, fmt.Sprintf("closing %s: %s", prior.Cycle, a))
			log.Warn("rollover anomaly", logging.FieldChain, chain.String(), logging.FieldCycle, prior.Cycle.String(), "detail", a)
		}
		log.Info("cycle opened",
			logging.FieldChain, chain.String(),
			logging.FieldCycle, cycle.String(),
			logging.FieldBudgetID, stored.ID,
			logging.FieldRollover, stored.RolloverAmount.String(),
		)
	}
	return stored, created, nil
}

// publishOpened announces an owner's new budgets once its chains are done.
// The first failure drops the rest of the batch.
func (in *Instantiator) publishOpened(ctx context.Context, log *logging.Logger, opened []Budget) {
	if in.publisher == nil {
		return
	}
	for i, b := range opened {
		if err := in.publisher.PublishCycleOpened(ctx, NewCycleOpenedEvent(b, in.now().UTC())); err != nil {
			log.Warn("publish cycle opened failed",
				logging.FieldBudgetID, b.ID,
				logging.FieldSkipped, len(opened)-i-1,
				logging.FieldError, err,
			)
			return
		}
	}
}

func uniqueMembers(members []Member) []Member {
	seen := make(map[Owner]bool, len(members))
	out := members[:0:0]
	for _, m := range members {
		if seen[m.Owner] {
			continue
		}
		seen[m.Owner] = true
		out = append(out, m)
	}
	return out
}
