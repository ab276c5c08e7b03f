/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract. Money is always sent as
  a decimal string with two places ("400.00").

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Targets:
    TargetDTO, CreateBucketRequest, CreateGoalRequest

  Ledger:
    TransactionDTO, CreateTransactionRequest

  Splits:
    SplitDTO (wraps factory.SplitJSON), SummaryDTO, SummaryLineDTO,
    ValidationResponse, FieldErrorDTO, DistributionDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/split.go: SplitJSON type
*/
package api

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/split-engine/engine"
	"github.com/warp/split-engine/factory"
	"github.com/warp/split-engine/ledger"
	"github.com/warp/split-engine/store/sqlite"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// TargetDTO represents a bucket or goal in API responses.
type TargetDTO struct {
	Type          string  `json:"type"`
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	CurrentAmount string  `json:"current_amount"`
	TargetAmount  *string `json:"target_amount,omitempty"`
}

// CreateBucketRequest is the request to create a bucket.
type CreateBucketRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   *string         `json:"description,omitempty"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
}

// CreateGoalRequest is the request to create a goal.
type CreateGoalRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   *string         `json:"description,omitempty"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
}

// TransactionDTO represents a ledger transaction.
type TransactionDTO struct {
	ID           string `json:"id"`
	TargetType   string `json:"target_type"`
	TargetID     string `json:"target_id"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	BalanceAfter string `json:"balance_after"`
	Description  string `json:"description"`
	SplitID      string `json:"split_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// CreateTransactionRequest is a manual inbound or outbound transaction.
type CreateTransactionRequest struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// SplitDTO represents a stored split in API responses.
type SplitDTO struct {
	factory.SplitJSON
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// SplitHeaderDTO is a split without its allocations, used in lists.
type SplitHeaderDTO struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	BaseAmount  string  `json:"base_amount"`
	IsActive    bool    `json:"is_active"`
}

// FieldErrorDTO is one validation failure. Row is omitted for split-level
// errors.
type FieldErrorDTO struct {
	Code    string `json:"code"`
	Row     *int   `json:"row,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// SummaryLineDTO is one row of a split summary.
type SummaryLineDTO struct {
	Row             int    `json:"row"`
	AllocationID    string `json:"allocation_id"`
	TargetType      string `json:"target_type"`
	TargetID        string `json:"target_id"`
	TargetName      string `json:"target_name,omitempty"`
	EffectiveAmount string `json:"effective_amount"`
	DisplayType     string `json:"display_type"`
}

// SummaryDTO is the live total of a split.
type SummaryDTO struct {
	SplitID       string           `json:"split_id"`
	BaseAmount    string           `json:"base_amount"`
	Total         string           `json:"total"`
	Remaining     string           `json:"remaining"`
	OverAllocated bool             `json:"over_allocated"`
	Lines         []SummaryLineDTO `json:"lines"`
}

// ValidationResponse is returned by POST /api/splits/validate.
type ValidationResponse struct {
	Valid   bool            `json:"valid"`
	Errors  []FieldErrorDTO `json:"errors"`
	Summary SummaryDTO      `json:"summary"`
}

// PlannedEntryDTO is one ledger entry of a distribution.
type PlannedEntryDTO struct {
	AllocationID string `json:"allocation_id"`
	TargetType   string `json:"target_type"`
	TargetID     string `json:"target_id"`
	Amount       string `json:"amount"`
	Type         string `json:"type"`
}

// DistributionDTO is the result of distributing a split.
type DistributionDTO struct {
	SplitID string            `json:"split_id"`
	Status  string            `json:"status"`
	Total   string            `json:"total"`
	Entries []PlannedEntryDTO `json:"entries"`
}

// DistributionRecordDTO is one past distribution of a split.
type DistributionRecordDTO struct {
	ID        string `json:"id"`
	SplitID   string `json:"split_id"`
	Total     string `json:"total"`
	Entries   int    `json:"entries"`
	CreatedAt string `json:"created_at"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string {
	return engine.Round2(d).StringFixed(2)
}

func toTargetDTO(t engine.Target) TargetDTO {
	dto := TargetDTO{
		Type:          string(t.Ref.Type),
		ID:            string(t.Ref.ID),
		Name:          t.Name,
		CurrentAmount: money(t.CurrentAmount),
	}
	if t.TargetAmount != nil {
		v := money(*t.TargetAmount)
		dto.TargetAmount = &v
	}
	return dto
}

func toBucketDTO(b sqlite.Bucket) TargetDTO {
	dto := toTargetDTO(b.Target())
	dto.Description = b.Description
	return dto
}

func toGoalDTO(g sqlite.Goal) TargetDTO {
	dto := toTargetDTO(g.Target())
	dto.Description = g.Description
	return dto
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		TargetType:   string(tx.Target.Type),
		TargetID:     string(tx.Target.ID),
		Type:         string(tx.Type),
		Amount:       money(tx.Amount),
		BalanceAfter: money(tx.BalanceAfter),
		Description:  tx.Description,
		SplitID:      string(tx.SplitID),
		CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toDistributionRecordDTOs(dists []sqlite.Distribution) []DistributionRecordDTO {
	dtos := make([]DistributionRecordDTO, len(dists))
	for i, d := range dists {
		dtos[i] = DistributionRecordDTO{
			ID:        d.ID,
			SplitID:   string(d.SplitID),
			Total:     money(d.Total),
			Entries:   d.Entries,
			CreatedAt: d.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}

func toSplitDTO(rec *sqlite.SplitRecord) SplitDTO {
	return SplitDTO{
		SplitJSON: factory.FromEngine(rec.Split, rec.Rows),
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt: rec.UpdatedAt.Format(time.RFC3339),
	}
}

func toSplitHeaderDTO(s engine.Split) SplitHeaderDTO {
	return SplitHeaderDTO{
		ID:          string(s.ID),
		Name:        s.Name,
		Description: s.Description,
		BaseAmount:  money(s.BaseAmount),
		IsActive:    s.Active,
	}
}

func toSummaryDTO(s engine.Summary) SummaryDTO {
	dto := SummaryDTO{
		SplitID:       string(s.SplitID),
		BaseAmount:    money(s.BaseAmount),
		Total:         money(s.Total),
		Remaining:     money(s.Remaining),
		OverAllocated: s.OverAllocated(),
		Lines:         make([]SummaryLineDTO, len(s.Lines)),
	}
	for i, l := range s.Lines {
		dto.Lines[i] = SummaryLineDTO{
			Row:             l.Row,
			AllocationID:    string(l.AllocationID),
			TargetType:      string(l.Target.Type),
			TargetID:        string(l.Target.ID),
			TargetName:      l.TargetName,
			EffectiveAmount: money(l.EffectiveAmount),
			DisplayType:     l.DisplayType,
		}
	}
	return dto
}

func toPlanDTO(plan engine.DistributionPlan) DistributionDTO {
	dto := DistributionDTO{
		SplitID: string(plan.SplitID),
		Status:  "distributed",
		Total:   money(plan.Total),
		Entries: make([]PlannedEntryDTO, len(plan.Entries)),
	}
	for i, e := range plan.Entries {
		dto.Entries[i] = PlannedEntryDTO{
			AllocationID: string(e.AllocationID),
			TargetType:   string(e.Target.Type),
			TargetID:     string(e.Target.ID),
			Amount:       money(e.Amount),
			Type:         string(e.Type),
		}
	}
	return dto
}

// errorCodes names the validation sentinels on the wire.
var errorCodes = []struct {
	err  error
	code string
}{
	{engine.ErrShapeMismatch, "SHAPE_MISMATCH"},
	{engine.ErrInvalidTarget, "INVALID_TARGET"},
	{engine.ErrInvalidPercentage, "INVALID_PERCENTAGE"},
	{engine.ErrInvalidAmount, "INVALID_AMOUNT"},
	{engine.ErrDuplicateTarget, "DUPLICATE_TARGET"},
	{engine.ErrOrphanAllocation, "ORPHAN_ALLOCATION"},
	{engine.ErrPercentageOverflow, "PERCENTAGE_OVERFLOW"},
	{engine.ErrAllocationExceedsBase, "ALLOCATION_EXCEEDS_BASE"},
	{engine.ErrEmptyAllocationSet, "EMPTY_ALLOCATION_SET"},
	{engine.ErrOutOfRange, "OUT_OF_RANGE"},
	{engine.ErrInvalidName, "INVALID_NAME"},
	{engine.ErrInvalidDescription, "INVALID_DESCRIPTION"},
	{engine.ErrSplitNotFound, "SPLIT_NOT_FOUND"},
	{engine.ErrTargetNotFound, "TARGET_NOT_FOUND"},
	{engine.ErrSplitInactive, "SPLIT_INACTIVE"},
	{ledger.ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{ledger.ErrInvalidTransaction, "INVALID_TRANSACTION"},
	{engine.ErrExecutionFailed, "EXECUTION_FAILED"},
}

func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

func toFieldErrorDTOs(errs engine.ValidationErrors) []FieldErrorDTO {
	dtos := make([]FieldErrorDTO, len(errs))
	for i, fe := range errs {
		dtos[i] = FieldErrorDTO{
			Code:    errorCode(fe.Code),
			Field:   fe.Field,
			Message: fe.Message,
		}
		if fe.Row != engine.SplitRow {
			row := fe.Row
			dtos[i].Row = &row
		}
	}
	return dtos
}
