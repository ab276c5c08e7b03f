/*
Package factory provides JSON to Go split conversion.

PURPOSE:
  Converts JSON split definitions into engine.Split and the nullable
  engine.AllocationInput rows the validator consumes, and back. The JSON
  keeps the wire shape of a split form: amount and percentage are both
  present and nullable, exactly one is expected to be set.

JSON SCHEMA:
  {
    "id": "1f0c...",
    "name": "Payday",
    "description": "Monthly salary",
    "base_amount": 1000,
    "is_active": true,
    "allocations": [
      {"target_type": "bucket", "target_id": "b-1",
       "allocation_type": "fixed", "amount": 400, "percentage": null},
      {"target_type": "goal", "target_id": "g-1",
       "allocation_type": "percentage", "amount": null, "percentage": 60}
    ]
  }

  Numbers may also be sent as strings ("400.00").

KEY FEATURES:
  - Missing allocation ids, types and target types get CreateAllocation
    defaults
  - Missing split_id on a row is filled with the parent split id
  - is_active defaults to true
  - Presets for common splits (EvenSplit, FixedSplit)

USAGE:
  split, rows, err := factory.ParseSplit(body)
  valid, err := engine.ValidateSplit(split, rows)

SEE ALSO:
  - engine/allocation.go: CreateAllocation defaults
  - api/dto.go: Embeds SplitJSON
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/split-engine/engine"
)

// =============================================================================
// JSON TYPES
// =============================================================================

type SplitJSON struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description *string          `json:"description,omitempty"`
	BaseAmount  decimal.Decimal  `json:"base_amount"`
	IsActive    *bool            `json:"is_active,omitempty"`
	Allocations []AllocationJSON `json:"allocations"`
}

type AllocationJSON struct {
	ID             string           `json:"id,omitempty"`
	SplitID        string           `json:"split_id,omitempty"`
	TargetType     string           `json:"target_type"`
	TargetID       string           `json:"target_id"`
	AllocationType string           `json:"allocation_type"`
	Amount         *decimal.Decimal `json:"amount"`
	Percentage     *decimal.Decimal `json:"percentage"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseSplit decodes a JSON split. It only fails on malformed JSON; whether
// the split is valid is decided by engine.ValidateSplit.
func ParseSplit(data []byte) (engine.Split, []engine.AllocationInput, error) {
	var sj SplitJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return engine.Split{}, nil, fmt.Errorf("invalid split JSON: %w", err)
	}
	split, rows := sj.ToEngine()
	return split, rows, nil
}

// ToEngine converts sj to the engine's input types.
func (sj SplitJSON) ToEngine() (engine.Split, []engine.AllocationInput) {
	active := true
	if sj.IsActive != nil {
		active = *sj.IsActive
	}
	split := engine.Split{
		ID:          engine.SplitID(sj.ID),
		Name:        sj.Name,
		Description: sj.Description,
		BaseAmount:  sj.BaseAmount,
		Active:      active,
	}

	rows := make([]engine.AllocationInput, len(sj.Allocations))
	for i, aj := range sj.Allocations {
		splitID := engine.SplitID(aj.SplitID)
		if aj.SplitID == "" {
			splitID = split.ID
		}
		rows[i] = engine.CreateAllocation(engine.AllocationInput{
			ID:             engine.AllocationID(aj.ID),
			SplitID:        splitID,
			TargetType:     engine.TargetType(aj.TargetType),
			TargetID:       engine.TargetID(aj.TargetID),
			AllocationType: engine.AllocationType(aj.AllocationType),
			Amount:         aj.Amount,
			Percentage:     aj.Percentage,
		})
	}
	return split, rows
}

// FromEngine builds the JSON form of a split and its rows.
func FromEngine(split engine.Split, rows []engine.AllocationInput) SplitJSON {
	active := split.Active
	sj := SplitJSON{
		ID:          string(split.ID),
		Name:        split.Name,
		Description: split.Description,
		BaseAmount:  split.BaseAmount,
		IsActive:    &active,
		Allocations: make([]AllocationJSON, len(rows)),
	}
	for i, row := range rows {
		sj.Allocations[i] = AllocationJSON{
			ID:             string(row.ID),
			SplitID:        string(row.SplitID),
			TargetType:     string(row.TargetType),
			TargetID:       string(row.TargetID),
			AllocationType: string(row.AllocationType),
			Amount:         row.Amount,
			Percentage:     row.Percentage,
		}
	}
	return sj
}

// FromValid builds the JSON form of a validated split.
func FromValid(v engine.ValidSplit) SplitJSON {
	allocations := v.Allocations()
	rows := make([]engine.AllocationInput, len(allocations))
	for i, a := range allocations {
		rows[i] = a.Input()
	}
	return FromEngine(v.Split(), rows)
}

// =============================================================================
// PRESETS
// =============================================================================

// EvenSplit divides base evenly in percentages across targets. Percentages
// are truncated to cents and the last target takes the remainder so they sum
// to 100. When rounding each share to cents would hand out more than base,
// shares are lowered from the last target backwards until the split
// validates, which leaves a little of base unallocated.
func EvenSplit(id, name string, base decimal.Decimal, targets ...engine.TargetRef) SplitJSON {
	sj := SplitJSON{ID: id, Name: name, BaseAmount: base}
	if len(targets) == 0 {
		return sj
	}

	share := decimal.NewFromInt(100).Div(decimal.NewFromInt(int64(len(targets)))).Truncate(2)
	left := decimal.NewFromInt(100)
	pcts := make([]decimal.Decimal, len(targets))
	for i := range targets {
		pcts[i] = share
		if i == len(targets)-1 {
			pcts[i] = left
		}
		left = left.Sub(pcts[i])
	}
	fitToBase(engine.Round2(base), pcts)

	for i, t := range targets {
		sj.Allocations = append(sj.Allocations, AllocationJSON{
			SplitID:        id,
			TargetType:     string(t.Type),
			TargetID:       string(t.ID),
			AllocationType: string(engine.AllocationPercentage),
			Percentage:     engine.Ptr(pcts[i]),
		})
	}
	return sj
}

var cent = decimal.RequireFromString("0.01")

// fitToBase lowers percentages, last first, until the rounded effective
// amounts sum to at most base.
func fitToBase(base decimal.Decimal, pcts []decimal.Decimal) {
	if !base.IsPositive() {
		return
	}
	effective := func(pct decimal.Decimal) decimal.Decimal {
		return engine.EffectiveAmount(engine.Allocation{Share: engine.Percentage{Percent: pct}}, base)
	}
	total := func() decimal.Decimal {
		sum := decimal.Zero
		for _, p := range pcts {
			sum = sum.Add(effective(p))
		}
		return sum
	}

	for i := len(pcts) - 1; i >= 0 && total().GreaterThan(base); {
		lowered, ok := lowerOneCent(base, pcts[i], effective)
		if !ok {
			i--
			continue
		}
		pcts[i] = lowered
	}
}

// lowerOneCent returns the largest percentage, in steps of 0.01, whose
// effective amount is at least one cent below that of pct. It fails when
// that would take the percentage under the minimum.
func lowerOneCent(base, pct decimal.Decimal, effective func(decimal.Decimal) decimal.Decimal) (decimal.Decimal, bool) {
	e := effective(pct)
	if !e.IsPositive() {
		return pct, false
	}
	want := e.Sub(cent)
	// base * p / 100 rounds to want for every p below (want + 0.005) * 100 / base.
	p := want.Add(decimal.RequireFromString("0.005")).Mul(decimal.NewFromInt(100)).Div(base).Truncate(2)
	if p.GreaterThanOrEqual(pct) {
		p = pct.Sub(cent)
	}
	for p.GreaterThanOrEqual(engine.MinPercentage) && effective(p).GreaterThan(want) {
		p = p.Sub(cent)
	}
	if p.LessThan(engine.MinPercentage) {
		return pct, false
	}
	return p, true
}

// FixedShare is one fixed amount in a FixedSplit.
type FixedShare struct {
	Target engine.TargetRef
	Amount decimal.Decimal
}

// FixedSplit allocates a fixed amount to each target. What the shares do not
// cover stays unallocated.
func FixedSplit(id, name string, base decimal.Decimal, shares ...FixedShare) SplitJSON {
	sj := SplitJSON{ID: id, Name: name, BaseAmount: base}
	for _, s := range shares {
		sj.Allocations = append(sj.Allocations, AllocationJSON{
			SplitID:        id,
			TargetType:     string(s.Target.Type),
			TargetID:       string(s.Target.ID),
			AllocationType: string(engine.AllocationFixed),
			Amount:         engine.Ptr(s.Amount),
		})
	}
	return sj
}

// MarshalSplit is the inverse of ParseSplit.
func MarshalSplit(sj SplitJSON) (string, error) {
	b, err := json.Marshal(sj)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
