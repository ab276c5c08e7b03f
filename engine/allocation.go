package engine

import (
	"github.com/google/uuid"
)

// =============================================================================
// ALLOCATION MODEL
// =============================================================================

// CreateAllocation returns a fully formed allocation row. Unset fields get
// defaults: a fresh id, allocation type fixed, target type bucket and no
// value. Caller supplied fields win.
func CreateAllocation(partial AllocationInput) AllocationInput {
	in := partial
	if in.ID == "" {
		in.ID = AllocationID(uuid.NewString())
	}
	if in.AllocationType == "" {
		in.AllocationType = AllocationFixed
	}
	if in.TargetType == "" {
		in.TargetType = TargetBucket
	}
	return in
}

// ValidateAllocationShape checks a single row and, when it is well formed,
// converts it into the Fixed or Percentage variant. Raw values are checked
// against their bounds, then rounded to cents. All problems with the row are returned;
// row indices on the returned errors are left at zero for the caller to set.
func ValidateAllocationShape(in AllocationInput) (Allocation, []*FieldError) {
	var errs []*FieldError
	fail := func(code error, field, msg string) {
		errs = append(errs, &FieldError{Code: code, Field: field, Message: msg})
	}

	if !in.TargetType.Valid() {
		fail(ErrInvalidTarget, "target_type", "Target type must be bucket or goal")
	}
	if in.TargetID == "" {
		fail(ErrInvalidTarget, "target_id", "Target is required")
	}

	var share Share
	switch in.AllocationType {
	case AllocationFixed:
		if in.Amount == nil || in.Percentage != nil {
			fail(ErrShapeMismatch, "amount", "Fixed allocations must have an amount and no percentage")
			break
		}
		if !in.Amount.IsPositive() {
			fail(ErrInvalidAmount, "amount", "Amount must be greater than 0")
			break
		}
		if err := InRange(*in.Amount, MinCurrency, MaxCurrency); err != nil {
			fail(ErrInvalidAmount, "amount", "Amount must be between 0.01 and 999,999,999.99")
			break
		}
		share = Fixed{Amount: Round2(*in.Amount)}
	case AllocationPercentage:
		if in.Percentage == nil || in.Amount != nil {
			fail(ErrShapeMismatch, "percentage", "Percentage allocations must have a percentage and no amount")
			break
		}
		if err := InRange(*in.Percentage, MinPercentage, MaxPercentage); err != nil {
			fail(ErrInvalidPercentage, "percentage", "Percentage must be between 0.01% and 100%")
			break
		}
		share = Percentage{Percent: Round2(*in.Percentage)}
	default:
		fail(ErrShapeMismatch, "allocation_type", "Allocation type must be fixed or percentage")
	}

	if len(errs) > 0 {
		return Allocation{}, errs
	}
	return Allocation{
		ID:      in.ID,
		SplitID: in.SplitID,
		Target:  in.Target(),
		Share:   share,
	}, nil
}
