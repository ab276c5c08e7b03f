package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// =============================================================================
// EFFECTIVE AMOUNT
// =============================================================================

// EffectiveAmount is the currency value an allocation resolves to against
// base: the amount itself for Fixed, base * percent / 100 rounded to cents
// for Percentage.
func EffectiveAmount(a Allocation, base decimal.Decimal) decimal.Decimal {
	switch s := a.Share.(type) {
	case Fixed:
		return Round2(s.Amount)
	case Percentage:
		return percentOf(base, s.Percent)
	default:
		panic(fmt.Sprintf("engine: allocation %s has no share", a.ID))
	}
}

func percentOf(base, pct decimal.Decimal) decimal.Decimal {
	return Round2(base.Mul(pct).Div(hundred))
}

// rowEffective is EffectiveAmount for rows that have not been validated yet.
// Missing values count as zero.
func rowEffective(row AllocationInput, base decimal.Decimal) decimal.Decimal {
	switch row.AllocationType {
	case AllocationFixed:
		if row.Amount != nil {
			return Round2(*row.Amount)
		}
	case AllocationPercentage:
		if row.Percentage != nil {
			return percentOf(base, Round2(*row.Percentage))
		}
	}
	return decimal.Zero
}

// =============================================================================
// LABELS
// =============================================================================

const FixedAmountLabel = "Fixed Amount"

// Labeler renders the display type of a summary line.
type Labeler struct {
	unit    currency.Unit
	printer *message.Printer
}

// NewLabeler builds a Labeler for an ISO 4217 currency code such as "PHP".
func NewLabeler(code string, tag language.Tag) (*Labeler, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("unknown currency %q: %w", code, err)
	}
	return &Labeler{unit: unit, printer: message.NewPrinter(tag)}, nil
}

// DefaultLabeler formats Philippine pesos in English.
var DefaultLabeler = &Labeler{unit: currency.MustParseISO("PHP"), printer: message.NewPrinter(language.English)}

// Currency formats an amount with the currency code and grouped digits.
func (l *Labeler) Currency(d decimal.Decimal) string {
	return l.printer.Sprintf("%s %.2f", l.unit.String(), Round2(d).InexactFloat64())
}

// Percent formats a percentage without trailing zeros, e.g. "12.5%".
func (l *Labeler) Percent(d decimal.Decimal) string {
	return Round2(d).String() + "%"
}

// Label returns "Fixed Amount" or "X% of <base>".
func (l *Labeler) Label(t AllocationType, pct *decimal.Decimal, base decimal.Decimal) string {
	switch t {
	case AllocationFixed:
		return FixedAmountLabel
	case AllocationPercentage:
		p := decimal.Zero
		if pct != nil {
			p = *pct
		}
		return fmt.Sprintf("%s of %s", l.Percent(p), l.Currency(base))
	}
	return ""
}

// =============================================================================
// SUMMARY
// =============================================================================

// SummaryLine is the derived view of one allocation row.
type SummaryLine struct {
	Row             int
	AllocationID    AllocationID
	Target          TargetRef
	TargetName      string
	EffectiveAmount decimal.Decimal
	DisplayType     string
}

// Summary is the live total of a split. Remaining is negative when the rows
// allocate more than the base amount.
type Summary struct {
	SplitID    SplitID
	BaseAmount decimal.Decimal
	Lines      []SummaryLine
	Total      decimal.Decimal
	Remaining  decimal.Decimal
}

// OverAllocated reports whether the rows exceed the base amount.
func (s Summary) OverAllocated() bool { return s.Remaining.IsNegative() }

type summaryOptions struct {
	catalog *TargetCatalog
	labeler *Labeler
}

type SummaryOption func(*summaryOptions)

// WithCatalog resolves target names from c.
func WithCatalog(c *TargetCatalog) SummaryOption {
	return func(o *summaryOptions) { o.catalog = c }
}

// WithLabeler overrides DefaultLabeler.
func WithLabeler(l *Labeler) SummaryOption {
	return func(o *summaryOptions) {
		if l != nil {
			o.labeler = l
		}
	}
}

// Summarize computes the per-row effective amounts, their total and what is
// left of the base amount. It is a pure function of its arguments and is
// meant to be rerun on every edit. Rows belonging to another split are a
// programming error and cause a panic.
func Summarize(split Split, rows []AllocationInput, opts ...SummaryOption) Summary {
	o := summaryOptions{labeler: DefaultLabeler}
	for _, opt := range opts {
		opt(&o)
	}

	base := Round2(split.BaseAmount)
	sum := Summary{
		SplitID:    split.ID,
		BaseAmount: base,
		Lines:      make([]SummaryLine, 0, len(rows)),
		Total:      decimal.Zero,
	}

	for i, row := range rows {
		if row.SplitID != split.ID {
			panic(fmt.Sprintf("engine: summarize split %s with allocation %s of split %s", split.ID, row.ID, row.SplitID))
		}
		var pct *decimal.Decimal
		if row.Percentage != nil {
			pct = Ptr(Round2(*row.Percentage))
		}
		line := SummaryLine{
			Row:             i,
			AllocationID:    row.ID,
			Target:          row.Target(),
			EffectiveAmount: rowEffective(row, base),
			DisplayType:     o.labeler.Label(row.AllocationType, pct, base),
		}
		if o.catalog != nil {
			if t, ok := o.catalog.Lookup(row.Target()); ok {
				line.TargetName = t.Name
			}
		}
		sum.Lines = append(sum.Lines, line)
		sum.Total = sum.Total.Add(line.EffectiveAmount)
	}

	sum.Remaining = base.Sub(sum.Total)
	return sum
}

// Summary summarizes a validated split.
func (v ValidSplit) Summary(opts ...SummaryOption) Summary {
	rows := make([]AllocationInput, len(v.allocations))
	for i, a := range v.allocations {
		rows[i] = a.Input()
	}
	return Summarize(v.split, rows, opts...)
}
