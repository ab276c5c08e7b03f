/*
validate.go - Split validation

PURPOSE:
  Checks a split header and its full allocation set and either returns a
  ValidSplit or every violation found. Nothing short-circuits: a form can
  render all errors against their fields in one pass.

ORDER OF CHECKS:
  0. Split header: name, description, base amount
  1. Shape of every allocation row
  2. Uniqueness of (target_type, target_id)
  3. Every row references the split
  4. Percentage ceiling: sum of percentages <= 100
  5. Value ceiling: fixed + base * pct / 100 <= base, and the sum of the
     rounded per-row effective amounts <= base
  6. At least one row

SEE ALSO:
  - allocation.go: Row shape rules
  - calculate.go: Effective values used after validation
*/
package engine

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	MaxNameLength        = 100
	MaxDescriptionLength = 500
)

// ValidSplit is a split whose allocation set passed ValidateSplit.
// It can only be obtained from ValidateSplit.
type ValidSplit struct {
	split       Split
	allocations []Allocation
}

func (v ValidSplit) Split() Split { return v.split }

// Allocations returns a copy of the validated allocations in row order.
func (v ValidSplit) Allocations() []Allocation {
	out := make([]Allocation, len(v.allocations))
	copy(out, v.allocations)
	return out
}

// IsZero reports whether v is the zero value rather than a real result.
func (v ValidSplit) IsZero() bool { return v.split.ID == "" && v.allocations == nil }

// NormalizeSplit trims the name and description, drops an empty description
// and rounds the base amount to cents.
func NormalizeSplit(s Split) Split {
	s.Name = strings.TrimSpace(s.Name)
	if s.Description != nil {
		d := strings.TrimSpace(*s.Description)
		if d == "" {
			s.Description = nil
		} else {
			s.Description = &d
		}
	}
	s.BaseAmount = Round2(s.BaseAmount)
	return s
}

// ValidateSplit validates split and its allocation rows. On success the
// returned ValidSplit holds the normalized split and the rows converted to
// Fixed / Percentage allocations. On failure the error is ValidationErrors.
//
// The rounded effective amounts must also fit in the base. A 50/50 split of
// an odd-cent base such as 999.99 rounds to 500.00 + 500.00 and is rejected
// with ErrAllocationExceedsBase; factory.EvenSplit builds splits that avoid
// this.
func ValidateSplit(split Split, rows []AllocationInput) (ValidSplit, error) {
	split = NormalizeSplit(split)
	var errs ValidationErrors

	splitErr := func(code error, field, msg string) {
		errs = append(errs, &FieldError{Code: code, Row: SplitRow, Field: field, Message: msg})
	}

	// 0. Header
	if n := utf8.RuneCountInString(split.Name); n < 1 {
		splitErr(ErrInvalidName, "name", "Split name is required")
	} else if n > MaxNameLength {
		splitErr(ErrInvalidName, "name", "Split name must be 100 characters or less")
	}
	if split.Description != nil && utf8.RuneCountInString(*split.Description) > MaxDescriptionLength {
		splitErr(ErrInvalidDescription, "description", "Description must be 500 characters or less")
	}
	baseOK := true
	if err := InRange(split.BaseAmount, MinCurrency, MaxCurrency); err != nil {
		baseOK = false
		splitErr(ErrOutOfRange, "base_amount", "Base amount must be between 0.01 and 999,999,999.99")
	}

	// 1. Shape
	allocations := make([]Allocation, 0, len(rows))
	for i, row := range rows {
		a, rowErrs := ValidateAllocationShape(row)
		for _, fe := range rowErrs {
			fe.Row = i
			errs = append(errs, fe)
		}
		if rowErrs == nil {
			allocations = append(allocations, a)
		}
	}

	// 2. Uniqueness
	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		key := row.Target().Key()
		if seen[key] {
			errs = append(errs, &FieldError{
				Code: ErrDuplicateTarget, Row: i, Field: "target_id",
				Message: "Each bucket or goal can only be allocated once",
			})
			continue
		}
		seen[key] = true
	}

	// 3. Referential integrity
	for i, row := range rows {
		if row.SplitID != split.ID {
			errs = append(errs, &FieldError{
				Code: ErrOrphanAllocation, Row: i, Field: "split_id",
				Message: "All allocations must reference the parent split",
			})
		}
	}

	// 4. Percentage ceiling
	totalFixed, totalPct := rowTotals(rows)
	if Round2(totalPct).GreaterThan(MaxPercentage) {
		splitErr(ErrPercentageOverflow, "allocations", "Total percentage allocations cannot exceed 100%")
	}

	// 5. Value ceiling
	// Per-row rounding can push the sum of effective amounts a cent past the
	// base even when the exact total fits, so both are checked.
	if baseOK {
		pctValue := split.BaseAmount.Mul(totalPct).Div(hundred)
		effTotal := decimal.Zero
		for _, row := range rows {
			effTotal = effTotal.Add(rowEffective(row, split.BaseAmount))
		}
		if Round2(totalFixed.Add(pctValue)).GreaterThan(split.BaseAmount) || effTotal.GreaterThan(split.BaseAmount) {
			splitErr(ErrAllocationExceedsBase, "allocations", "Total allocations exceed base amount")
		}
	}

	// 6. Non-empty
	if len(rows) == 0 {
		splitErr(ErrEmptyAllocationSet, "allocations", "At least one allocation is required")
	}

	if len(errs) > 0 {
		return ValidSplit{}, errs
	}
	return ValidSplit{split: split, allocations: allocations}, nil
}

// rowTotals sums the rounded fixed amounts and percentages of the rows whose
// declared type carries them. Rows missing their value contribute nothing.
func rowTotals(rows []AllocationInput) (fixed, pct decimal.Decimal) {
	fixed, pct = decimal.Zero, decimal.Zero
	for _, row := range rows {
		switch row.AllocationType {
		case AllocationFixed:
			if row.Amount != nil {
				fixed = fixed.Add(Round2(*row.Amount))
			}
		case AllocationPercentage:
			if row.Percentage != nil {
				pct = pct.Add(Round2(*row.Percentage))
			}
		}
	}
	return fixed, pct
}
