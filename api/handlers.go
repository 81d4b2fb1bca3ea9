/*
handlers.go - HTTP API handlers for the budget engine

PURPOSE:
  Exposes the budget instantiator via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Account books:
    POST   /api/account-books/{id}/refresh   Bring every chain up to as_of
    GET    /api/account-books/{id}/active    Budget covering as_of for one chain
    GET    /api/account-books/{id}/history   Cycle closings for one chain

  Operations:
    GET    /api/health                       Liveness

CHAIN SELECTION:
  active and history take owner_kind, owner_ref and category_id as query
  parameters. SHARED takes no owner_ref; an empty category_id selects the
  whole-book budget.

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags, then domain parsing)
  3. Call the engine
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: No active budget, unknown owner
  - 429: Refresh rate exceeded for the account book
  - 503: Transient failure (spend aggregation), retry later
  - 500: Internal errors

  A refresh that fails for some owners still answers 200: the failures
  are listed in the body next to what was created.

SECURITY NOTE:
  No authentication here. The gateway in front of the service resolves
  the caller and only forwards requests for books they may access.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/logging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Engine is what the handlers need from budget.Instantiator.
type Engine interface {
	EnsureBudgetsUpToDate(ctx context.Context, accountBookID string, asOf budget.Date) (budget.Result, error)
	GetActivePeriod(ctx context.Context, owner budget.Owner, accountBookID, categoryID string, asOf budget.Date) (*budget.ActivePeriod, error)
	History(ctx context.Context, chain budget.ChainKey) ([]budget.HistoryEntry, budget.ChainSummary, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine Engine

	validator *RequestValidator
	limiter   *bookLimiter
	log       *logging.Logger
	now       func() time.Time
}

type HandlerOption func(*Handler)

// WithRefreshRateLimit allows perMinute refreshes per account book, with
// bursts of up to burst. perMinute <= 0 disables limiting.
func WithRefreshRateLimit(perMinute, burst int) HandlerOption {
	return func(h *Handler) {
		if perMinute > 0 {
			h.limiter = newBookLimiter(perMinute, burst)
		}
	}
}

func WithHandlerLogger(l *logging.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l.WithComponent(logging.ComponentHTTP)
		}
	}
}

// WithToday overrides the date used when a request has no as_of.
func WithToday(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine Engine, opts ...HandlerOption) *Handler {
	h := &Handler{
		Engine:    engine,
		validator: NewRequestValidator(),
		log:       logging.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// ACCOUNT BOOK HANDLERS
// =============================================================================

// Refresh brings every chain of the account book up to as_of.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	asOf, err := h.parseAsOf(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}

	res, err := h.Engine.EnsureBudgetsUpToDate(r.Context(), bookID, asOf)
	if err != nil {
		h.writeEngineError(w, r, "Failed to refresh budgets", err)
		return
	}

	h.log.InfoContext(r.Context(), "refresh completed",
		logging.FieldRequestID, middleware.GetReqID(r.Context()),
		logging.FieldAccountBook, bookID,
		logging.FieldAsOf, asOf.String(),
		logging.FieldCreated, len(res.CreatedBudgetIDs),
		logging.FieldFailures, len(res.Failures),
	)
	writeJSON(w, http.StatusOK, toRefreshResponse(bookID, asOf, res))
}

// GetActive returns the budget covering as_of for one chain. Nothing is created.
func (h *Handler) GetActive(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")

	q, chain, ok := h.parseChainQuery(w, r, bookID)
	if !ok {
		return
	}
	asOf, err := h.parseAsOf(q.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}

	period, err := h.Engine.GetActivePeriod(r.Context(), chain.Owner, bookID, chain.CategoryID, asOf)
	if err != nil {
		h.writeEngineError(w, r, "Failed to load active budget", err)
		return
	}
	writeJSON(w, http.StatusOK, toActivePeriodDTO(period))
}

// GetHistory returns the chain's closings and their replay summary.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")

	_, chain, ok := h.parseChainQuery(w, r, bookID)
	if !ok {
		return
	}

	entries, summary, err := h.Engine.History(r.Context(), chain)
	if err != nil {
		h.writeEngineError(w, r, "Failed to load history", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponse(entries, summary))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) parseChainQuery(w http.ResponseWriter, r *http.Request, bookID string) (ChainQuery, budget.ChainKey, bool) {
	values := r.URL.Query()
	q := ChainQuery{
		OwnerKind:  values.Get("owner_kind"),
		OwnerRef:   values.Get("owner_ref"),
		CategoryID: values.Get("category_id"),
		AsOf:       values.Get("as_of"),
	}
	if err := h.validator.Validate(q); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return q, budget.ChainKey{}, false
	}

	owner, err := budget.ParseOwner(q.OwnerKind, q.OwnerRef)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid owner", err)
		return q, budget.ChainKey{}, false
	}
	chain := budget.ChainKey{Owner: owner, AccountBookID: bookID, CategoryID: q.CategoryID}
	if err := chain.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid chain", err)
		return q, budget.ChainKey{}, false
	}
	return q, chain, true
}

func (h *Handler) parseAsOf(s string) (budget.Date, error) {
	if s == "" {
		return budget.DateOf(h.now()), nil
	}
	return budget.ParseDate(s)
}

// writeEngineError maps engine errors to status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := http.StatusInternalServerError
	code := ""
	switch {
	case budget.IsClientError(err):
		status = http.StatusBadRequest
		code = "INVALID_INPUT"
	case errors.Is(err, budget.ErrNoActiveBudget):
		status = http.StatusNotFound
		code = "NO_ACTIVE_BUDGET"
	case budget.IsNotFound(err):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case budget.IsRetryable(err):
		status = http.StatusServiceUnavailable
		code = "RETRY_LATER"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		code = "CANCELED"
	}

	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), message,
			logging.FieldRequestID, middleware.GetReqID(r.Context()),
			logging.FieldError, err,
		)
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
