/*
handlers.go - HTTP API handlers for the split allocation engine

PURPOSE:
  Exposes the split engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the engine and the SQLite store.

ENDPOINTS:
  Targets:
    GET    /api/targets                    Buckets and goals
    GET    /api/buckets                    List buckets
    POST   /api/buckets                    Create bucket
    GET    /api/goals                      List goals
    POST   /api/goals                      Create goal
    GET    /api/buckets/{id}/transactions  Ledger of a bucket
    POST   /api/buckets/{id}/transactions  Manual inbound/outbound
    (same two routes under /api/goals/{id})

  Splits:
    POST   /api/splits/validate            Validate an unsaved split
    POST   /api/splits/summary             Live summary of an unsaved split
    GET    /api/splits                     List active splits
    POST   /api/splits                     Create split
    GET    /api/splits/{id}                Get split with allocations
    PUT    /api/splits/{id}                Replace split and allocation set
    DELETE /api/splits/{id}                Deactivate split
    GET    /api/splits/{id}/summary        Summary of a stored split
    POST   /api/splits/{id}/distribute     Distribute base amount to targets

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access, also the DistributionExecutor
  - Orchestrator: Drives distribution through the executor
  - Labeler: Currency used in summary display types

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed JSON, invalid input
  - 404: Split or target not found
  - 409: Distribution failed, split inactive, insufficient balance
  - 422: Validation errors, with the full list in details
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/warp/split-engine/engine"
	"github.com/warp/split-engine/factory"
	"github.com/warp/split-engine/ledger"
	"github.com/warp/split-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Orchestrator *engine.Orchestrator
	Labeler      *engine.Labeler
	Metrics      *Metrics

	log zerolog.Logger

	// Concurrent distribute calls for one split share a single execution
	inflight singleflight.Group

	mu              sync.Mutex
	currentScenario string
}

type HandlerOption func(*Handler)

func WithLogger(l zerolog.Logger) HandlerOption {
	return func(h *Handler) { h.log = l }
}

func WithLabeler(l *engine.Labeler) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.Labeler = l
		}
	}
}

func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) { h.Metrics = m }
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		Store:   store,
		Labeler: engine.DefaultLabeler,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.Metrics == nil {
		h.Metrics = NewMetrics()
	}
	h.Orchestrator = engine.NewOrchestrator(store, engine.WithLogger(h.log))
	return h
}

// =============================================================================
// TARGET HANDLERS
// =============================================================================

// ListTargets returns every active bucket and goal.
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.Store.Targets(r.Context())
	if err != nil {
		h.writeInternal(w, r, "Failed to list targets", err)
		return
	}

	dtos := make([]TargetDTO, len(targets))
	for i, t := range targets {
		dtos[i] = toTargetDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListBuckets returns all active buckets.
func (h *Handler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.Store.ListBuckets(r.Context())
	if err != nil {
		h.writeInternal(w, r, "Failed to list buckets", err)
		return
	}

	dtos := make([]TargetDTO, len(buckets))
	for i, b := range buckets {
		dtos[i] = toBucketDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBucket creates a bucket with an opening balance.
func (h *Handler) CreateBucket(w http.ResponseWriter, r *http.Request) {
	var req CreateBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if msg := validateTargetFields(req.Name, req.CurrentAmount, nil); msg != "" {
		writeError(w, http.StatusBadRequest, msg, nil)
		return
	}

	bucket := sqlite.Bucket{
		ID:            req.ID,
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		CurrentAmount: req.CurrentAmount,
		Active:        true,
	}
	if err := h.Store.SaveBucket(r.Context(), bucket); err != nil {
		h.writeInternal(w, r, "Failed to create bucket", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBucketDTO(bucket))
}

// ListGoals returns all active goals.
func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := h.Store.ListGoals(r.Context())
	if err != nil {
		h.writeInternal(w, r, "Failed to list goals", err)
		return
	}

	dtos := make([]TargetDTO, len(goals))
	for i, g := range goals {
		dtos[i] = toGoalDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateGoal creates a goal with an opening balance and a target amount.
func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	var req CreateGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if msg := validateTargetFields(req.Name, req.CurrentAmount, &req.TargetAmount); msg != "" {
		writeError(w, http.StatusBadRequest, msg, nil)
		return
	}

	goal := sqlite.Goal{
		ID:            req.ID,
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		CurrentAmount: req.CurrentAmount,
		TargetAmount:  req.TargetAmount,
		Active:        true,
	}
	if err := h.Store.SaveGoal(r.Context(), goal); err != nil {
		h.writeInternal(w, r, "Failed to create goal", err)
		return
	}

	writeJSON(w, http.StatusCreated, toGoalDTO(goal))
}

func validateTargetFields(name string, current decimal.Decimal, target *decimal.Decimal) string {
	if strings.TrimSpace(name) == "" {
		return "name is required"
	}
	if current.IsNegative() || current.GreaterThan(engine.MaxCurrency) {
		return "current_amount must be between 0 and 999,999,999.99"
	}
	if target != nil && engine.InRange(engine.Round2(*target), engine.MinCurrency, engine.MaxCurrency) != nil {
		return "target_amount must be between 0.01 and 999,999,999.99"
	}
	return ""
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListTransactions returns the ledger of one target, oldest first.
func (h *Handler) ListTransactions(targetType engine.TargetType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := engine.TargetRef{Type: targetType, ID: engine.TargetID(chi.URLParam(r, "id"))}
		ctx := r.Context()

		target, err := h.Store.GetTarget(ctx, ref)
		if err != nil {
			h.writeInternal(w, r, "Failed to get target", err)
			return
		}
		if target == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s not found", targetType), nil)
			return
		}

		txs, err := h.Store.Transactions(ctx, ref)
		if err != nil {
			h.writeInternal(w, r, "Failed to get transactions", err)
			return
		}
		writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
	}
}

// CreateTransaction records a manual inbound or outbound transaction.
func (h *Handler) CreateTransaction(targetType engine.TargetType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}

		tx := ledger.Transaction{
			Target:      engine.TargetRef{Type: targetType, ID: engine.TargetID(chi.URLParam(r, "id"))},
			Type:        engine.TransactionType(req.Type),
			Amount:      req.Amount,
			Description: req.Description,
		}
		posted, err := h.Store.Record(r.Context(), tx)
		if err != nil {
			h.writeDomainError(w, r, "Failed to record transaction", err)
			return
		}

		h.log.Info().
			Str("target", tx.Target.String()).
			Str("type", string(posted.Type)).
			Str("amount", money(posted.Amount)).
			Str("balance_after", money(posted.BalanceAfter)).
			Msg("transaction recorded")
		writeJSON(w, http.StatusCreated, toTransactionDTO(posted))
	}
}

// =============================================================================
// SPLIT HANDLERS
// =============================================================================

// ValidateSplit validates an unsaved split and returns its summary with the
// full list of field errors.
func (h *Handler) ValidateSplit(w http.ResponseWriter, r *http.Request) {
	sj, err := decodeSplit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	split, rows := sj.ToEngine()

	resp := ValidationResponse{Valid: true, Errors: []FieldErrorDTO{}}
	if _, err := engine.ValidateSplit(split, rows); err != nil {
		var verrs engine.ValidationErrors
		if !errors.As(err, &verrs) {
			h.writeInternal(w, r, "Failed to validate split", err)
			return
		}
		h.Metrics.observeValidation(verrs)
		resp.Valid = false
		resp.Errors = toFieldErrorDTOs(verrs)
	}

	summary, err := h.summarize(r.Context(), split, rows)
	if err != nil {
		h.writeInternal(w, r, "Failed to summarize split", err)
		return
	}
	resp.Summary = summary

	status := http.StatusOK
	if !resp.Valid {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// SummarizeSplit returns the live summary of an unsaved split. The split
// does not need to be valid.
func (h *Handler) SummarizeSplit(w http.ResponseWriter, r *http.Request) {
	sj, err := decodeSplit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	split, rows := sj.ToEngine()

	summary, err := h.summarize(r.Context(), split, rows)
	if err != nil {
		h.writeInternal(w, r, "Failed to summarize split", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListSplits returns the headers of all active splits.
func (h *Handler) ListSplits(w http.ResponseWriter, r *http.Request) {
	splits, err := h.Store.ListSplits(r.Context())
	if err != nil {
		h.writeInternal(w, r, "Failed to list splits", err)
		return
	}

	dtos := make([]SplitHeaderDTO, len(splits))
	for i, s := range splits {
		dtos[i] = toSplitHeaderDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSplit returns a split with its allocations.
func (h *Handler) GetSplit(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadSplit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSplitDTO(rec))
}

// CreateSplit validates and stores a new split.
func (h *Handler) CreateSplit(w http.ResponseWriter, r *http.Request) {
	sj, err := decodeSplit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if sj.ID == "" {
		sj.ID = uuid.NewString()
	}

	ctx := r.Context()
	existing, err := h.Store.GetSplit(ctx, engine.SplitID(sj.ID))
	if err != nil {
		h.writeInternal(w, r, "Failed to check split", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Split already exists", nil)
		return
	}

	h.saveSplit(w, r, sj, http.StatusCreated)
}

// UpdateSplit replaces a split and its whole allocation set.
func (h *Handler) UpdateSplit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sj, err := decodeSplit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if sj.ID != "" && sj.ID != id {
		writeError(w, http.StatusBadRequest, "Split id does not match URL", nil)
		return
	}
	sj.ID = id

	if _, ok := h.loadSplit(w, r); !ok {
		return
	}

	h.saveSplit(w, r, sj, http.StatusOK)
}

func (h *Handler) saveSplit(w http.ResponseWriter, r *http.Request, sj factory.SplitJSON, status int) {
	ctx := r.Context()
	split, rows := sj.ToEngine()

	valid, err := engine.ValidateSplit(split, rows)
	if err != nil {
		var verrs engine.ValidationErrors
		if errors.As(err, &verrs) {
			h.Metrics.observeValidation(verrs)
		}
		h.writeDomainError(w, r, "Split is invalid", err)
		return
	}
	if err := h.Store.SaveSplit(ctx, valid); err != nil {
		h.writeDomainError(w, r, "Failed to save split", err)
		return
	}

	rec, err := h.Store.GetSplit(ctx, valid.Split().ID)
	if err != nil || rec == nil {
		h.writeInternal(w, r, "Failed to reload split", err)
		return
	}
	writeJSON(w, status, toSplitDTO(rec))
}

// DeleteSplit deactivates a split. Past distributions stay in the ledger.
func (h *Handler) DeleteSplit(w http.ResponseWriter, r *http.Request) {
	id := engine.SplitID(chi.URLParam(r, "id"))
	if err := h.Store.DeactivateSplit(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "Failed to delete split", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSplitSummary returns the summary of a stored split.
func (h *Handler) GetSplitSummary(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadSplit(w, r)
	if !ok {
		return
	}

	summary, err := h.summarize(r.Context(), rec.Split, rec.Rows)
	if err != nil {
		h.writeInternal(w, r, "Failed to summarize split", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// DistributeSplit distributes the base amount of a stored split to its
// targets. Concurrent calls for the same split share one execution.
func (h *Handler) DistributeSplit(w http.ResponseWriter, r *http.Request) {
	id := engine.SplitID(chi.URLParam(r, "id"))

	// Joined callers must not be failed by the first caller going away
	ctx := context.WithoutCancel(r.Context())
	v, err, shared := h.inflight.Do(string(id), func() (any, error) {
		return h.distribute(ctx, id)
	})
	if shared {
		h.log.Debug().Str("split_id", string(id)).Msg("joined in-flight distribution")
	}
	if err != nil {
		h.writeDomainError(w, r, "Distribution failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toPlanDTO(v.(engine.DistributionPlan)))
}

func (h *Handler) distribute(ctx context.Context, id engine.SplitID) (engine.DistributionPlan, error) {
	rec, err := h.Store.GetSplit(ctx, id)
	if err != nil {
		return engine.DistributionPlan{}, err
	}
	if rec == nil {
		return engine.DistributionPlan{}, engine.ErrSplitNotFound
	}
	if !rec.Split.Active {
		return engine.DistributionPlan{}, engine.ErrSplitInactive
	}

	plan, err := h.Orchestrator.Distribute(ctx, engine.NewDraftFromRows(rec.Split, rec.Rows))
	if err != nil {
		result := resultFailed
		if engine.IsValidationError(err) {
			result = resultInvalid
		}
		var verrs engine.ValidationErrors
		if errors.As(err, &verrs) {
			h.Metrics.observeValidation(verrs)
		}
		h.Metrics.observeDistribution(result, 0)
		return plan, err
	}

	h.Metrics.observeDistribution(resultSuccess, plan.Total.InexactFloat64())
	return plan, nil
}

// ListDistributions returns the past distributions of a split, oldest first.
func (h *Handler) ListDistributions(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadSplit(w, r)
	if !ok {
		return
	}

	dists, err := h.Store.Distributions(r.Context(), rec.Split.ID)
	if err != nil {
		h.writeInternal(w, r, "Failed to get distributions", err)
		return
	}
	writeJSON(w, http.StatusOK, toDistributionRecordDTOs(dists))
}

// ListSplitTransactions returns every ledger entry the split's distributions
// wrote, across all of its targets.
func (h *Handler) ListSplitTransactions(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadSplit(w, r)
	if !ok {
		return
	}

	txs, err := h.Store.SplitTransactions(r.Context(), rec.Split.ID)
	if err != nil {
		h.writeInternal(w, r, "Failed to get transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// HELPERS
// =============================================================================

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

func (h *Handler) writeInternal(w http.ResponseWriter, r *http.Request, message string, err error) {
	h.log.Error().
		Err(err).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg(message)
	writeError(w, http.StatusInternalServerError, message, err)
}

// writeDomainError maps engine, ledger and store errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	resp := ErrorResponse{Error: message, Code: errorCode(err), Details: err.Error()}

	var verrs engine.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		resp.Details = toFieldErrorDTOs(verrs)
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case engine.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, resp)
	case errors.Is(err, ledger.ErrInvalidTransaction):
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, engine.ErrDuplicateTarget):
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, engine.ErrExecutionFailed),
		errors.Is(err, engine.ErrSplitInactive),
		errors.Is(err, ledger.ErrInsufficientBalance):
		writeJSON(w, http.StatusConflict, resp)
	default:
		h.writeInternal(w, r, message, err)
	}
}

// loadSplit fetches the split named in the URL and writes a 404 when it does
// not exist.
func (h *Handler) loadSplit(w http.ResponseWriter, r *http.Request) (*sqlite.SplitRecord, bool) {
	id := engine.SplitID(chi.URLParam(r, "id"))
	rec, err := h.Store.GetSplit(r.Context(), id)
	if err != nil {
		h.writeInternal(w, r, "Failed to get split", err)
		return nil, false
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Split not found", nil)
		return nil, false
	}
	return rec, true
}

// summarize computes a summary with target names resolved from the store.
// Rows are read as belonging to split regardless of their split_id, which is
// the validator's concern.
func (h *Handler) summarize(ctx context.Context, split engine.Split, rows []engine.AllocationInput) (SummaryDTO, error) {
	catalog, err := engine.LoadTargetCatalog(ctx, h.Store)
	if err != nil {
		return SummaryDTO{}, err
	}

	owned := make([]engine.AllocationInput, len(rows))
	for i, row := range rows {
		row.SplitID = split.ID
		owned[i] = row
	}
	summary := engine.Summarize(split, owned, engine.WithCatalog(catalog), engine.WithLabeler(h.Labeler))
	return toSummaryDTO(summary), nil
}

func decodeSplit(r *http.Request) (factory.SplitJSON, error) {
	var sj factory.SplitJSON
	if err := json.NewDecoder(r.Body).Decode(&sj); err != nil {
		return factory.SplitJSON{}, err
	}
	return sj, nil
}
