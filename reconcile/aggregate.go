/*
aggregate.go - Dimensional aggregator

PURPOSE:
  Computes every rollup for one reporting period from a single matched and
  corrected record set: grand total, direct/studio channel split, and the
  four dimensional breakdowns (branch, assignee, school, event). Sums stay
  exact decimals end to end; rounding to whole yen happens once, at the
  presentation boundary (Money.Yen). Rounding the total and the per-key
  entries separately would let the same sum round differently per partition
  and break the cross-dimension invariant on fractional net amounts.

SEE ALSO:
  - validate.go:   Asserts the cross-dimension invariant over the result
  - cumulative.go: Stores results per period
*/
package reconcile

import "strings"

// DefaultDirectKeyword marks the in-house studio whose transactions count as
// direct sales.
const DefaultDirectKeyword = "大塚カラー"

// =============================================================================
// DIMENSIONS
// =============================================================================

// Dimension enumerates the rollup axes. The set is closed: adding an axis
// means adding a variant here and a case in each switch, which the compiler
// will point out.
type Dimension int

const (
	DimensionBranch Dimension = iota
	DimensionAssignee
	DimensionSchool
	DimensionEvent
)

func (d Dimension) String() string {
	switch d {
	case DimensionBranch:
		return "branch"
	case DimensionAssignee:
		return "assignee"
	case DimensionSchool:
		return "school"
	case DimensionEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Dimensions lists every rollup axis.
func Dimensions() []Dimension {
	return []Dimension{DimensionBranch, DimensionAssignee, DimensionSchool, DimensionEvent}
}

// =============================================================================
// RESULT TYPES
// =============================================================================

// BreakdownEntry is one label's rolled-up amount within a dimension.
type BreakdownEntry struct {
	Label  string
	Amount Money
}

// SchoolBreakdown is one school's rolled-up amount with the attribution the
// cumulative tables and correction reapply need.
type SchoolBreakdown struct {
	School   SchoolID
	Name     string
	Branch   string
	Studio   string
	Assignee string
	Amount   Money
}

// EventBreakdown is one event occurrence's rolled-up amount.
type EventBreakdown struct {
	School    SchoolID
	Name      string
	Branch    string
	EventName string
	EventDate string // yyyy-mm-dd, empty when the source had none
	Amount    Money
}

// AggregationResult is everything computed for one period.
type AggregationResult struct {
	Period      Period
	Total       Money
	DirectSales Money
	StudioSales Money
	SchoolCount int
	// AveragePerSchool is nil when no school had sales; a zero average and
	// "no schools" must stay distinguishable.
	AveragePerSchool *Money
	Branches         []BreakdownEntry
	Assignees        []BreakdownEntry
	Schools          []SchoolBreakdown
	Events           []EventBreakdown
	// CorrectionVersion stamps which correction set state produced this
	// result. Older than the live set means stale.
	CorrectionVersion uint64
}

// Breakdown returns the named dimension's entries as label/amount pairs.
func (r *AggregationResult) Breakdown(d Dimension) []BreakdownEntry {
	switch d {
	case DimensionBranch:
		return r.Branches
	case DimensionAssignee:
		return r.Assignees
	case DimensionSchool:
		entries := make([]BreakdownEntry, len(r.Schools))
		for i, s := range r.Schools {
			entries[i] = BreakdownEntry{Label: s.Name, Amount: s.Amount}
		}
		return entries
	case DimensionEvent:
		entries := make([]BreakdownEntry, len(r.Events))
		for i, e := range r.Events {
			entries[i] = BreakdownEntry{Label: e.EventName, Amount: e.Amount}
		}
		return entries
	default:
		return nil
	}
}

// =============================================================================
// AGGREGATION
// =============================================================================

// AggregateOptions tunes one aggregation run. The zero value is usable.
type AggregateOptions struct {
	// DirectKeyword marks direct-channel rows by studio-name substring.
	// Empty means DefaultDirectKeyword. Rows whose Channel is already set
	// by ingestion keep it.
	DirectKeyword string
	// CorrectionVersion stamps the result; pass the version returned by
	// CorrectionSet.Apply.
	CorrectionVersion uint64
}

// Aggregate computes the full result for one period. The record set must
// already be matched and corrected; every rollup reads the same slice, so
// the dimensional sums cannot diverge from the total except by an engine
// bug, which Validate exists to catch.
func Aggregate(records []MatchedRecord, period Period, opts AggregateOptions) *AggregationResult {
	keyword := opts.DirectKeyword
	if keyword == "" {
		keyword = DefaultDirectKeyword
	}

	type accum struct {
		order []string
		sums  map[string]Money
	}
	newAccum := func() *accum { return &accum{sums: map[string]Money{}} }
	add := func(a *accum, key string, amt Money) {
		if _, seen := a.sums[key]; !seen {
			a.order = append(a.order, key)
		}
		a.sums[key] = a.sums[key].Add(amt)
	}

	branches := newAccum()
	assignees := newAccum()
	schools := newAccum()
	events := newAccum()
	schoolMeta := map[string]SchoolBreakdown{}
	schoolHasSales := map[string]bool{}
	eventMeta := map[string]EventBreakdown{}

	total := ZeroMoney()
	direct := ZeroMoney()
	studio := ZeroMoney()

	for _, rec := range records {
		amt := rec.Record.Amount
		total = total.Add(amt)

		ch := rec.Record.Channel
		if ch == "" {
			if strings.Contains(rec.Studio, keyword) || strings.Contains(rec.Record.Studio, keyword) {
				ch = ChannelDirect
			} else {
				ch = ChannelStudio
			}
		}
		if ch == ChannelDirect {
			direct = direct.Add(amt)
		} else {
			studio = studio.Add(amt)
		}

		add(branches, rec.Branch, amt)
		add(assignees, rec.Assignee, amt)

		schoolKey := rec.School.Name
		add(schools, schoolKey, amt)
		if !amt.IsZero() {
			schoolHasSales[schoolKey] = true
		}
		if _, seen := schoolMeta[schoolKey]; !seen {
			schoolMeta[schoolKey] = SchoolBreakdown{
				School:   rec.School.ID,
				Name:     rec.School.Name,
				Branch:   rec.Branch,
				Studio:   rec.Studio,
				Assignee: rec.Assignee,
			}
		}

		eventKey := eventOccurrenceKey(rec)
		add(events, eventKey, amt)
		if _, seen := eventMeta[eventKey]; !seen {
			date := ""
			if !rec.Record.EventDate.IsZero() {
				date = rec.Record.EventDate.Format("2006-01-02")
			}
			eventMeta[eventKey] = EventBreakdown{
				School:    rec.School.ID,
				Name:      rec.School.Name,
				Branch:    rec.Branch,
				EventName: rec.Record.EventName,
				EventDate: date,
			}
		}
	}

	result := &AggregationResult{
		Period:            period,
		Total:             total,
		DirectSales:       direct,
		StudioSales:       studio,
		CorrectionVersion: opts.CorrectionVersion,
	}

	for _, key := range branches.order {
		result.Branches = append(result.Branches, BreakdownEntry{Label: key, Amount: branches.sums[key]})
	}
	for _, key := range assignees.order {
		result.Assignees = append(result.Assignees, BreakdownEntry{Label: key, Amount: assignees.sums[key]})
	}
	for _, key := range schools.order {
		sb := schoolMeta[key]
		sb.Amount = schools.sums[key]
		result.Schools = append(result.Schools, sb)
		// A school counts when any of its records carried an amount, even
		// when sales and refunds cancel out to a zero net sum.
		if schoolHasSales[key] {
			result.SchoolCount++
		}
	}
	for _, key := range events.order {
		eb := eventMeta[key]
		eb.Amount = events.sums[key]
		result.Events = append(result.Events, eb)
	}

	if result.SchoolCount > 0 {
		avg := result.Total.Div(int64(result.SchoolCount)).RoundYen()
		result.AveragePerSchool = &avg
	}
	return result
}

// eventOccurrenceKey identifies one event occurrence: same school, same
// event name, same date. Two schools running "運動会" on the same day stay
// separate rows.
func eventOccurrenceKey(rec MatchedRecord) string {
	date := ""
	if !rec.Record.EventDate.IsZero() {
		date = rec.Record.EventDate.Format("2006-01-02")
	}
	return rec.School.Name + "\x00" + rec.Record.EventName + "\x00" + date
}
