/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the budget domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Query: Query-string parameters, bound by hand and validated like bodies
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal strings ("500.00"), never floats.

VALIDATION:
  Struct tags are checked with go-playground/validator before the engine is
  called. Domain rules that need more than a tag (owner kind vs. owner ref)
  are left to budget.ParseOwner and surface as 400s through
  budget.IsClientError.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// REQUESTS
// =============================================================================

// RefreshRequest triggers EnsureBudgetsUpToDate. as_of defaults to today.
type RefreshRequest struct {
	AsOf string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

// ChainQuery selects one chain of an account book.
type ChainQuery struct {
	OwnerKind  string `validate:"required,oneof=INDIVIDUAL CUSTODIAL SHARED"`
	OwnerRef   string `validate:"max=128"`
	CategoryID string `validate:"max=128"`
	AsOf       string `validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type RefreshResponse struct {
	AccountBookID    string       `json:"account_book_id"`
	AsOf             string       `json:"as_of"`
	CreatedBudgetIDs []string     `json:"created_budget_ids"`
	Warnings         []WarningDTO `json:"warnings"`
	Failures         []FailureDTO `json:"failures"`
}

type WarningDTO struct {
	Code       string `json:"code"`
	OwnerKind  string `json:"owner_kind"`
	OwnerRef   string `json:"owner_ref,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
	Message    string `json:"message"`
}

type FailureDTO struct {
	OwnerKind string `json:"owner_kind"`
	OwnerRef  string `json:"owner_ref,omitempty"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
	Details   string `json:"details,omitempty"`
}

type BudgetDTO struct {
	ID              string `json:"id"`
	OwnerKind       string `json:"owner_kind"`
	OwnerRef        string `json:"owner_ref,omitempty"`
	AccountBookID   string `json:"account_book_id"`
	CategoryID      string `json:"category_id,omitempty"`
	Amount          string `json:"amount"`
	RefreshDay      int    `json:"refresh_day"`
	CycleStart      string `json:"cycle_start"`
	CycleEnd        string `json:"cycle_end"`
	RolloverEnabled bool   `json:"rollover_enabled"`
	RolloverAmount  string `json:"rollover_amount"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// ActivePeriodDTO is the budget covering as_of plus what is left of it.
type ActivePeriodDTO struct {
	Budget         BudgetDTO `json:"budget"`
	Spent          string    `json:"spent"`
	TotalAvailable string    `json:"total_available"`
	Remaining      string    `json:"remaining"`
	UsagePercent   string    `json:"usage_percent"`
	DaysInCycle    int       `json:"days_in_cycle"`
	RemainingDays  int       `json:"remaining_days"`
}

type HistoryEntryDTO struct {
	ID           string `json:"id"`
	BudgetID     string `json:"budget_id"`
	NextBudgetID string `json:"next_budget_id,omitempty"`
	Cycle        string `json:"cycle"`
	Type         string `json:"type"`
	BudgetAmount string `json:"budget_amount"`
	SpentAmount  string `json:"spent_amount"`
	RolloverIn   string `json:"rollover_in"`
	RolloverOut  string `json:"rollover_out"`
	Outcome      string `json:"outcome,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type HistorySummaryDTO struct {
	Transitions     int      `json:"transitions"`
	Adjustments     int      `json:"adjustments"`
	InitialRollover string   `json:"initial_rollover"`
	TotalBudgeted   string   `json:"total_budgeted"`
	TotalSpent      string   `json:"total_spent"`
	FinalRollover   string   `json:"final_rollover"`
	Consistent      bool     `json:"consistent"`
	Breaks          []string `json:"breaks,omitempty"`
}

type HistoryResponse struct {
	Entries []HistoryEntryDTO `json:"entries"`
	Summary HistorySummaryDTO `json:"summary"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toRefreshResponse(accountBookID string, asOf budget.Date, res budget.Result) RefreshResponse {
	resp := RefreshResponse{
		AccountBookID:    accountBookID,
		AsOf:             asOf.String(),
		CreatedBudgetIDs: res.CreatedBudgetIDs,
		Warnings:         make([]WarningDTO, 0, len(res.Warnings)),
		Failures:         make([]FailureDTO, 0, len(res.Failures)),
	}
	if resp.CreatedBudgetIDs == nil {
		resp.CreatedBudgetIDs = []string{}
	}
	for _, w := range res.Warnings {
		resp.Warnings = append(resp.Warnings, WarningDTO{
			Code:       w.Code,
			OwnerKind:  string(w.Chain.Owner.Kind()),
			OwnerRef:   w.OwnerRef,
			CategoryID: w.Chain.CategoryID,
			Message:    w.Message,
		})
	}
	for _, f := range res.Failures {
		dto := FailureDTO{
			OwnerKind: string(f.Owner.Kind()),
			OwnerRef:  f.OwnerRef,
			Reason:    f.Reason,
			Retryable: budget.IsRetryable(f.Err),
		}
		if f.Err != nil {
			dto.Details = f.Err.Error()
		}
		resp.Failures = append(resp.Failures, dto)
	}
	return resp
}

func toBudgetDTO(b budget.Budget) BudgetDTO {
	dto := BudgetDTO{
		ID:              b.ID,
		OwnerKind:       string(b.Owner.Kind()),
		OwnerRef:        b.Owner.Ref(),
		AccountBookID:   b.AccountBookID,
		CategoryID:      b.CategoryID,
		Amount:          b.Amount.StringFixed(2),
		RefreshDay:      int(b.RefreshDay),
		CycleStart:      b.Cycle.Start.String(),
		CycleEnd:        b.Cycle.End.String(),
		RolloverEnabled: b.RolloverEnabled,
		RolloverAmount:  b.RolloverAmount.StringFixed(2),
	}
	if !b.CreatedAt.IsZero() {
		dto.CreatedAt = b.CreatedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toActivePeriodDTO(p *budget.ActivePeriod) ActivePeriodDTO {
	return ActivePeriodDTO{
		Budget:         toBudgetDTO(p.Budget),
		Spent:          p.Spent.StringFixed(2),
		TotalAvailable: p.TotalAvailable.StringFixed(2),
		Remaining:      p.Remaining.StringFixed(2),
		UsagePercent:   p.UsagePercent.StringFixed(2),
		DaysInCycle:    p.DaysInCycle,
		RemainingDays:  p.RemainingDays,
	}
}

func toHistoryResponse(entries []budget.HistoryEntry, s budget.ChainSummary) HistoryResponse {
	resp := HistoryResponse{
		Entries: make([]HistoryEntryDTO, 0, len(entries)),
		Summary: HistorySummaryDTO{
			Transitions:     s.Transitions,
			Adjustments:     s.Adjustments,
			InitialRollover: s.InitialRollover.StringFixed(2),
			TotalBudgeted:   s.TotalBudgeted.StringFixed(2),
			TotalSpent:      s.TotalSpent.StringFixed(2),
			FinalRollover:   s.FinalRollover.StringFixed(2),
			Consistent:      s.Consistent(),
			Breaks:          s.Breaks,
		},
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, HistoryEntryDTO{
			ID:           e.ID,
			BudgetID:     e.BudgetID,
			NextBudgetID: e.NextBudgetID,
			Cycle:        e.CycleLabel,
			Type:         string(e.EntryType),
			BudgetAmount: e.BudgetAmount.StringFixed(2),
			SpentAmount:  e.SpentAmount.StringFixed(2),
			RolloverIn:   e.RolloverIn.StringFixed(2),
			RolloverOut:  e.RolloverOut.StringFixed(2),
			Outcome:      string(e.Outcome),
			CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return resp
}
