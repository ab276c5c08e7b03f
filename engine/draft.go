/*
draft.go - Editable split with an arena of allocation rows

PURPOSE:
  Holds a split while it is being edited. Rows live in a slice and are
  addressed by a stable integer index: removing a row tombstones its slot, it
  never shifts the rows after it. Nothing here is persisted.

STATE:
  Every edit moves the draft back to StateDraft. Validate moves it through
  Validating to Valid or Invalid. Only the Orchestrator moves it further.

SEE ALSO:
  - state.go: The state machine
  - distribute.go: Orchestrator.Distribute
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Draft struct {
	split Split
	rows  []*AllocationInput
	state State
	valid ValidSplit
	errs  ValidationErrors
}

// NewDraft starts editing split. The draft has no rows.
func NewDraft(split Split) *Draft {
	return &Draft{split: split, state: StateDraft}
}

// NewDraftFromRows opens a draft over a stored split and its rows. Every row
// is stamped with the split's id.
func NewDraftFromRows(split Split, rows []AllocationInput) *Draft {
	d := NewDraft(split)
	for _, row := range rows {
		d.AddRow(row)
	}
	return d
}

// DraftFromValid reopens a validated split for editing.
func DraftFromValid(v ValidSplit) *Draft {
	allocations := v.Allocations()
	rows := make([]AllocationInput, len(allocations))
	for i, a := range allocations {
		rows[i] = a.Input()
	}
	return NewDraftFromRows(v.Split(), rows)
}

func (d *Draft) Split() Split { return d.split }
func (d *Draft) State() State { return d.state }
func (d *Draft) Len() int     { return len(d.liveIndices()) }

// LastErrors returns the errors of the last failed validation, with Row set
// to arena indices.
func (d *Draft) LastErrors() ValidationErrors { return d.errs }

// Valid returns the last successful validation result.
func (d *Draft) Valid() (ValidSplit, bool) {
	return d.valid, d.state == StateValid || d.state == StateDistributing || d.state == StateDistributed
}

// AddRow appends a row built by CreateAllocation and stamped with the
// draft's split id. It returns the row's index.
func (d *Draft) AddRow(partial AllocationInput) int {
	d.touch()
	partial.SplitID = d.split.ID
	row := CreateAllocation(partial)
	d.rows = append(d.rows, &row)
	return len(d.rows) - 1
}

// Row returns the row at index i.
func (d *Draft) Row(i int) (AllocationInput, bool) {
	if i < 0 || i >= len(d.rows) || d.rows[i] == nil {
		return AllocationInput{}, false
	}
	return *d.rows[i], true
}

// Rows returns the live rows in index order.
func (d *Draft) Rows() []AllocationInput {
	out := make([]AllocationInput, 0, len(d.rows))
	for _, r := range d.rows {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// UpdateRow edits row i in place. The split id cannot be changed.
func (d *Draft) UpdateRow(i int, fn func(*AllocationInput)) {
	row := d.mustRow(i)
	d.touch()
	fn(row)
	row.SplitID = d.split.ID
}

// RemoveRow tombstones row i. The last remaining row cannot be removed.
func (d *Draft) RemoveRow(i int) error {
	d.mustRow(i)
	if d.Len() == 1 {
		return ErrLastRow
	}
	d.touch()
	d.rows[i] = nil
	return nil
}

// SetAllocationType switches the row's type and resets its value fields:
// fixed gets amount 0 and no percentage, percentage gets percentage 0 and
// no amount.
func (d *Draft) SetAllocationType(i int, t AllocationType) {
	d.UpdateRow(i, func(row *AllocationInput) {
		row.AllocationType = t
		switch t {
		case AllocationFixed:
			row.Percentage = nil
			row.Amount = Ptr(decimal.Zero)
		case AllocationPercentage:
			row.Amount = nil
			row.Percentage = Ptr(decimal.Zero)
		}
	})
}

// SetTarget points row i at id, inferring bucket or goal from catalog.
func (d *Draft) SetTarget(i int, id TargetID, catalog *TargetCatalog) {
	d.UpdateRow(i, func(row *AllocationInput) {
		row.TargetID = id
		row.TargetType = catalog.TypeOf(id)
	})
}

// SetBaseAmount changes the split's base amount.
func (d *Draft) SetBaseAmount(base decimal.Decimal) {
	d.touch()
	d.split.BaseAmount = base
}

// UpdateSplit edits the split header. The id cannot be changed.
func (d *Draft) UpdateSplit(fn func(*Split)) {
	d.touch()
	id := d.split.ID
	fn(&d.split)
	d.split.ID = id
}

// Summary returns the live summary of the current rows. Line.Row is the
// arena index of the row.
func (d *Draft) Summary(opts ...SummaryOption) Summary {
	sum := Summarize(d.split, d.Rows(), opts...)
	idx := d.liveIndices()
	for i := range sum.Lines {
		sum.Lines[i].Row = idx[sum.Lines[i].Row]
	}
	return sum
}

// Validate runs ValidateSplit on the current rows and records the outcome.
func (d *Draft) Validate() (ValidSplit, error) {
	if err := d.transition(StateValidating); err != nil {
		return ValidSplit{}, err
	}
	v, err := ValidateSplit(d.split, d.Rows())
	if err != nil {
		d.errs, _ = err.(ValidationErrors)
		idx := d.liveIndices()
		for _, fe := range d.errs {
			if fe.Row != SplitRow {
				fe.Row = idx[fe.Row]
			}
		}
		d.valid = ValidSplit{}
		d.state = StateInvalid
		return ValidSplit{}, err
	}
	d.errs = nil
	d.valid = v
	d.state = StateValid
	return v, nil
}

func (d *Draft) liveIndices() []int {
	idx := make([]int, 0, len(d.rows))
	for i, r := range d.rows {
		if r != nil {
			idx = append(idx, i)
		}
	}
	return idx
}

func (d *Draft) transition(to State) error {
	if !d.state.CanTransition(to) {
		return &TransitionError{From: d.state, To: to}
	}
	d.state = to
	return nil
}

// touch returns an edited draft to StateDraft. A distributed draft is
// terminal and further edits are a programming error.
func (d *Draft) touch() {
	if d.state == StateDistributed || d.state == StateDistributing {
		panic(fmt.Sprintf("engine: edit of split %s in state %s", d.split.ID, d.state))
	}
	d.state = StateDraft
	d.valid = ValidSplit{}
}

func (d *Draft) mustRow(i int) *AllocationInput {
	if i < 0 || i >= len(d.rows) || d.rows[i] == nil {
		panic(fmt.Sprintf("engine: split %s has no row %d", d.split.ID, i))
	}
	return d.rows[i]
}
