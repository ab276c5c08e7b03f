/*
Package engine provides the split allocation engine.

PURPOSE:
  A split divides a fixed base amount across savings buckets and goals.
  Each share of the split is an allocation: either a fixed currency amount
  or a percentage of the base. This package validates allocation sets,
  computes what every allocation is worth, and turns a validated split into
  the ledger deltas that distribute the base amount to its targets.

KEY CONCEPTS IN THIS FILE (types.go):
  - Split: the named base amount being divided
  - Allocation: one target's share, a tagged union of Fixed | Percentage
  - AllocationInput: the nullable wire/form shape before validation
  - TargetRef: which bucket or goal receives an allocation

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, rounded to cents via Round2
  2. Construction: a validated Allocation cannot carry both an amount and a
     percentage; the Share variant decides which one exists
  3. Purity: validation and calculation never perform I/O
  4. Delegation: the balance mutation itself belongs to a DistributionExecutor

USAGE:
  split := engine.Split{ID: "s-1", Name: "Payday", BaseAmount: engine.MustAmount("1000")}
  valid, err := engine.ValidateSplit(split, inputs)
  if err != nil {
      // err is engine.ValidationErrors, one entry per violation
  }
  plan := engine.PrepareDistribution(valid)

SEE ALSO:
  - allocation.go: CreateAllocation and ValidateAllocationShape
  - validate.go: ValidateSplit
  - calculate.go: EffectiveAmount and Summarize
  - distribute.go: DistributionPlan and the Orchestrator
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SplitID string
type AllocationID string
type TargetID string

// =============================================================================
// ENUMS
// =============================================================================

// TargetType says which kind of entity receives an allocation.
type TargetType string

const (
	TargetBucket TargetType = "bucket"
	TargetGoal   TargetType = "goal"
)

// Valid reports whether t is a known target type.
func (t TargetType) Valid() bool {
	return t == TargetBucket || t == TargetGoal
}

// AllocationType is the declared kind of an allocation row.
type AllocationType string

const (
	AllocationFixed      AllocationType = "fixed"
	AllocationPercentage AllocationType = "percentage"
)

func (t AllocationType) Valid() bool {
	return t == AllocationFixed || t == AllocationPercentage
}

// =============================================================================
// SPLIT
// =============================================================================

type Split struct {
	ID          SplitID
	Name        string
	Description *string
	BaseAmount  decimal.Decimal
	Active      bool
}

// =============================================================================
// TARGET REFERENCE
// =============================================================================

// TargetRef identifies a bucket or goal. Its Key is the uniqueness key used
// when checking that a split allocates to each target at most once.
type TargetRef struct {
	Type TargetType
	ID   TargetID
}

func (r TargetRef) Key() string {
	return fmt.Sprintf("%s-%s", r.Type, r.ID)
}

func (r TargetRef) String() string { return r.Key() }

// =============================================================================
// ALLOCATION - tagged union of Fixed | Percentage
// =============================================================================

// Share is the value of an allocation. Only Fixed and Percentage implement
// it, so an Allocation always has exactly one kind of value.
type Share interface {
	Type() AllocationType
	isShare()
}

// Fixed is a share of a set currency amount.
type Fixed struct {
	Amount decimal.Decimal
}

func (Fixed) Type() AllocationType { return AllocationFixed }
func (Fixed) isShare()             {}

// Percentage is a share expressed as a percent of the split's base amount.
type Percentage struct {
	Percent decimal.Decimal
}

func (Percentage) Type() AllocationType { return AllocationPercentage }
func (Percentage) isShare()             {}

// Allocation is a validated share of a split. Build one with
// ValidateAllocationShape; the zero value has no Share and is not usable.
type Allocation struct {
	ID      AllocationID
	SplitID SplitID
	Target  TargetRef
	Share   Share
}

// Type returns the allocation type carried by the Share variant.
func (a Allocation) Type() AllocationType {
	if a.Share == nil {
		return ""
	}
	return a.Share.Type()
}

// Input converts a validated allocation back to its nullable wire shape.
func (a Allocation) Input() AllocationInput {
	in := AllocationInput{
		ID:         a.ID,
		SplitID:    a.SplitID,
		TargetType: a.Target.Type,
		TargetID:   a.Target.ID,
	}
	switch s := a.Share.(type) {
	case Fixed:
		amount := s.Amount
		in.AllocationType = AllocationFixed
		in.Amount = &amount
	case Percentage:
		pct := s.Percent
		in.AllocationType = AllocationPercentage
		in.Percentage = &pct
	}
	return in
}

// AllocationInput is the unvalidated shape of an allocation row as it
// arrives from a form or JSON body. Amount and Percentage are nullable and
// nothing prevents both (or neither) from being set.
type AllocationInput struct {
	ID             AllocationID
	SplitID        SplitID
	TargetType     TargetType
	TargetID       TargetID
	AllocationType AllocationType
	Amount         *decimal.Decimal
	Percentage     *decimal.Decimal
}

// Target returns the row's target reference.
func (in AllocationInput) Target() TargetRef {
	return TargetRef{Type: in.TargetType, ID: in.TargetID}
}

// =============================================================================
// TARGETS - read-only view of buckets and goals
// =============================================================================

// Target is a bucket or goal as supplied by a TargetReader.
// TargetAmount is only set for goals and is informational.
type Target struct {
	Ref           TargetRef
	Name          string
	CurrentAmount decimal.Decimal
	TargetAmount  *decimal.Decimal
}
