/*
Package reconcile provides the sales reconciliation and aggregation engine.

PURPOSE:
  This package contains the core logic for turning raw school-photography
  sales exports into mutually consistent financial rollups: matching rows
  against the school/assignment master, applying retroactive corrections
  (assignee aliases, school-manager overrides), computing the four
  dimensional breakdowns for a period, and folding monthly results into a
  year-to-date cumulative store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A yen amount backed by decimal.Decimal (no float drift)
  - Period: A (calendar year, month) pair with fiscal-year derivation
  - SalesRecord / EnrollmentRecord: Raw source rows delivered by ingestion
  - MatchedRecord: A sales row bound to its canonical school entity

DESIGN PRINCIPLES:
  1. Precision: decimal arithmetic throughout; whole-yen rounding only at
     the presentation boundary
  2. Fail closed: unmatched rows reject the whole batch, never a partial sum
  3. One record set: every dimensional rollup is computed from the same
     matched-and-corrected records, so the totals cannot diverge

SEE ALSO:
  - master.go:      SchoolEntity and the master index
  - match.go:       Entity matching
  - corrections.go: Aliases and manager overrides
  - aggregate.go:   Dimensional aggregation
  - cumulative.go:  Year-to-date merging
*/
package reconcile

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Yen amount with exact arithmetic
// =============================================================================

// Money is a monetary amount in yen. Arithmetic stays exact all the way
// through aggregation and merging; rounding to the smallest currency unit
// happens at the presentation boundary, via Yen or RoundYen.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

func ZeroMoney() Money {
	return Money{Value: decimal.Zero}
}

func (m Money) Add(o Money) Money      { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money      { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money             { return Money{Value: m.Value.Neg()} }
func (m Money) Abs() Money             { return Money{Value: m.Value.Abs()} }
func (m Money) IsZero() bool           { return m.Value.IsZero() }
func (m Money) Equal(o Money) bool     { return m.Value.Equal(o.Value) }
func (m Money) LessThan(o Money) bool  { return m.Value.LessThan(o.Value) }
func (m Money) Div(n int64) Money      { return Money{Value: m.Value.Div(decimal.NewFromInt(n))} }

// RoundYen rounds to the smallest currency unit (whole yen).
func (m Money) RoundYen() Money {
	return Money{Value: m.Value.Round(0)}
}

// Yen returns the amount as whole yen after rounding.
func (m Money) Yen() int64 {
	return m.Value.Round(0).IntPart()
}

func (m Money) String() string {
	return m.Value.String()
}

// =============================================================================
// PERIOD - One reporting month
// =============================================================================

// fiscalYearStart is the month that opens a fiscal year. Fiscal years run
// April through the following March and are named for their starting
// calendar year.
const fiscalYearStart = time.April

// Period identifies one reporting month by calendar year and month.
type Period struct {
	Year  int
	Month time.Month
}

func NewPeriod(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// FiscalYear returns the fiscal year this period belongs to.
func (p Period) FiscalYear() int {
	if p.Month >= fiscalYearStart {
		return p.Year
	}
	return p.Year - 1
}

// FiscalIndex returns the 0-based position of the period's month within its
// fiscal year (April = 0, March = 11). Used for ordering and for override
// range checks.
func (p Period) FiscalIndex() int {
	return fiscalMonthIndex(p.Month)
}

func fiscalMonthIndex(m time.Month) int {
	return (int(m) - int(fiscalYearStart) + 12) % 12
}

func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) String() string {
	return p.Key()
}

// =============================================================================
// SOURCE RECORDS - Delivered already decoded and trimmed by ingestion
// =============================================================================

// Channel distinguishes direct transactions from studio/school-mediated ones.
type Channel string

const (
	ChannelDirect Channel = "direct"
	ChannelStudio Channel = "studio"
)

// SalesRecord is one raw sales row. SchoolID is zero when the source row
// carries no identifier; the raw labels are matched against the master by
// the entity matcher. Amount is the net amount (subtotal minus tax).
type SalesRecord struct {
	SchoolID   SchoolID
	SchoolName string
	Assignee   string
	Studio     string
	Amount     Money
	EventName  string
	EventDate  time.Time // zero when the source has no event date
	Channel    Channel
}

// EnrollmentRecord is one raw membership row for member-rate computation.
type EnrollmentRecord struct {
	SchoolID    SchoolID
	SchoolName  string
	Grade       string
	MemberCount int
	TotalCount  int
}

// MatchedRecord is a sales row bound to its canonical school. Branch, Studio
// and Assignee come from the master row (the source file's stated assignee is
// superseded); Assignee is further rewritten by the correction engine.
type MatchedRecord struct {
	Record   SalesRecord
	School   *SchoolEntity
	Branch   string
	Studio   string
	Assignee string
}

// EventMonth returns the month used for override range checks: the event
// date's month when present, otherwise the reporting period's month.
func (r MatchedRecord) EventMonth(period Period) time.Month {
	if !r.Record.EventDate.IsZero() {
		return r.Record.EventDate.Month()
	}
	return period.Month
}
