/*
cumulative.go - Cumulative merger

PURPOSE:
  Holds per-fiscal-year snapshots of monthly aggregation results and derives
  the year-to-date tables from them. Merging an already-present period is an
  error unless replacement is confirmed; after any merge or replacement the
  per-school and per-event cumulative tables are recomputed from scratch
  across every stored period, never patched incrementally, so a replaced
  month can lower a cumulative value and the tables still come out right.

SEE ALSO:
  - aggregate.go:   The snapshots being merged
  - corrections.go: Reapply refreshes snapshots stamped with an old version
*/
package reconcile

import (
	"sort"
	"sync"
)

// =============================================================================
// DERIVED TABLE ROWS
// =============================================================================

// CumulativeSchool is one school's year-to-date amount with its latest
// attribution (the most recently merged period's branch/studio/assignee).
type CumulativeSchool struct {
	School   SchoolID
	Name     string
	Branch   string
	Studio   string
	Assignee string
	Amount   Money
	Months   int
}

// CumulativeEvent is one event occurrence's year-to-date amount.
type CumulativeEvent struct {
	School    SchoolID
	Name      string
	Branch    string
	EventName string
	EventDate string
	Amount    Money
}

// YearSummary is the rolled-up view of one fiscal year.
type YearSummary struct {
	FiscalYear  int
	Periods     []Period
	Total       Money
	DirectSales Money
	StudioSales Money
	Branches    []BreakdownEntry
	Assignees   []BreakdownEntry
	Schools     []CumulativeSchool
	Events      []CumulativeEvent
}

// =============================================================================
// STORE
// =============================================================================

type yearLedger struct {
	order   []Period
	periods map[string]*AggregationResult
}

// CumulativeStore accumulates monthly results per fiscal year. All methods
// are safe for concurrent use; mutation is a critical section.
type CumulativeStore struct {
	mu    sync.Mutex
	years map[int]*yearLedger
}

func NewCumulativeStore() *CumulativeStore {
	return &CumulativeStore{years: map[int]*yearLedger{}}
}

// MergeOptions tunes one merge.
type MergeOptions struct {
	// Replace confirms overwriting periods the store already holds.
	Replace bool
}

// Merge folds one period result into its fiscal year. Without Replace, a
// period already present is rejected with DuplicatePeriodError and the
// store is left untouched.
func (s *CumulativeStore) Merge(result *AggregationResult, opts MergeOptions) error {
	return s.MergeAll([]*AggregationResult{result}, opts)
}

// MergeAll folds several period results in caller order. Duplicates are
// collected across the whole request before anything is written, so the
// error lists every conflicting period and a partial merge cannot happen.
func (s *CumulativeStore) MergeAll(results []*AggregationResult, opts MergeOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !opts.Replace {
		var dup []Period
		seen := map[string]struct{}{}
		for _, r := range results {
			key := r.Period.Key()
			_, inStore := s.ledgerFor(r.Period.FiscalYear()).periods[key]
			_, inBatch := seen[key]
			if inStore || inBatch {
				dup = append(dup, r.Period)
			}
			seen[key] = struct{}{}
		}
		if len(dup) > 0 {
			return &DuplicatePeriodError{Periods: dup}
		}
	}

	for _, r := range results {
		ledger := s.ledgerFor(r.Period.FiscalYear())
		key := r.Period.Key()
		if _, exists := ledger.periods[key]; !exists {
			ledger.order = append(ledger.order, r.Period)
			sort.Slice(ledger.order, func(i, j int) bool {
				return ledger.order[i].Before(ledger.order[j])
			})
		}
		ledger.periods[key] = r
	}
	return nil
}

func (s *CumulativeStore) ledgerFor(fiscalYear int) *yearLedger {
	ledger := s.years[fiscalYear]
	if ledger == nil {
		ledger = &yearLedger{periods: map[string]*AggregationResult{}}
		s.years[fiscalYear] = ledger
	}
	return ledger
}

// Drop removes one period snapshot, leaving the store as if it had never
// been merged. Callers use it to undo a merge whose persistence failed.
func (s *CumulativeStore) Drop(p Period) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.years[p.FiscalYear()]
	if ledger == nil {
		return
	}
	key := p.Key()
	if _, ok := ledger.periods[key]; !ok {
		return
	}
	delete(ledger.periods, key)
	for i, q := range ledger.order {
		if q.Key() == key {
			ledger.order = append(ledger.order[:i], ledger.order[i+1:]...)
			break
		}
	}
}

// Years returns the fiscal years holding at least one period, ascending.
func (s *CumulativeStore) Years() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	years := make([]int, 0, len(s.years))
	for fy, ledger := range s.years {
		if len(ledger.order) > 0 {
			years = append(years, fy)
		}
	}
	sort.Ints(years)
	return years
}

// Period returns the stored snapshot for one period, or ErrNotFound.
func (s *CumulativeStore) Period(p Period) (*AggregationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.years[p.FiscalYear()]
	if ledger == nil {
		return nil, ErrNotFound
	}
	r, ok := ledger.periods[p.Key()]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// Year derives the full cumulative view of one fiscal year from its stored
// periods, in fiscal order. Returns ErrNotFound for an empty year.
func (s *CumulativeStore) Year(fiscalYear int) (*YearSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.years[fiscalYear]
	if ledger == nil || len(ledger.order) == 0 {
		return nil, ErrNotFound
	}
	return deriveYear(fiscalYear, ledger), nil
}

// deriveYear recomputes every cumulative table from scratch across the
// year's stored periods. Caller holds the lock.
func deriveYear(fiscalYear int, ledger *yearLedger) *YearSummary {
	summary := &YearSummary{
		FiscalYear:  fiscalYear,
		Total:       ZeroMoney(),
		DirectSales: ZeroMoney(),
		StudioSales: ZeroMoney(),
	}

	type accum struct {
		order []string
		sums  map[string]Money
	}
	branches := accum{sums: map[string]Money{}}
	assignees := accum{sums: map[string]Money{}}
	add := func(a *accum, key string, amt Money) {
		if _, seen := a.sums[key]; !seen {
			a.order = append(a.order, key)
		}
		a.sums[key] = a.sums[key].Add(amt)
	}

	schoolOrder := []SchoolID{}
	schoolRows := map[SchoolID]*CumulativeSchool{}
	eventOrder := []string{}
	eventRows := map[string]*CumulativeEvent{}

	for _, p := range ledger.order {
		r := ledger.periods[p.Key()]
		summary.Periods = append(summary.Periods, p)
		summary.Total = summary.Total.Add(r.Total)
		summary.DirectSales = summary.DirectSales.Add(r.DirectSales)
		summary.StudioSales = summary.StudioSales.Add(r.StudioSales)

		for _, b := range r.Branches {
			add(&branches, b.Label, b.Amount)
		}
		for _, a := range r.Assignees {
			add(&assignees, a.Label, a.Amount)
		}
		for _, sb := range r.Schools {
			row := schoolRows[sb.School]
			if row == nil {
				row = &CumulativeSchool{School: sb.School}
				schoolRows[sb.School] = row
				schoolOrder = append(schoolOrder, sb.School)
			}
			// Attribution follows the latest period; periods iterate in
			// fiscal order, so the last writer is the newest month.
			row.Name = sb.Name
			row.Branch = sb.Branch
			row.Studio = sb.Studio
			row.Assignee = sb.Assignee
			row.Amount = row.Amount.Add(sb.Amount)
			row.Months++
		}
		for _, eb := range r.Events {
			key := eb.Name + "\x00" + eb.EventName + "\x00" + eb.EventDate
			row := eventRows[key]
			if row == nil {
				row = &CumulativeEvent{
					School:    eb.School,
					Name:      eb.Name,
					Branch:    eb.Branch,
					EventName: eb.EventName,
					EventDate: eb.EventDate,
				}
				eventRows[key] = row
				eventOrder = append(eventOrder, key)
			}
			row.Amount = row.Amount.Add(eb.Amount)
		}
	}

	for _, key := range branches.order {
		summary.Branches = append(summary.Branches, BreakdownEntry{Label: key, Amount: branches.sums[key]})
	}
	for _, key := range assignees.order {
		summary.Assignees = append(summary.Assignees, BreakdownEntry{Label: key, Amount: assignees.sums[key]})
	}
	for _, id := range schoolOrder {
		summary.Schools = append(summary.Schools, *schoolRows[id])
	}
	for _, key := range eventOrder {
		summary.Events = append(summary.Events, *eventRows[key])
	}
	return summary
}

// =============================================================================
// RETROACTIVE REAPPLY
// =============================================================================

// Reapply refreshes every stored snapshot whose correction version is older
// than the live set: school-row assignees are rewritten through the current
// aliases and overrides, the period's assignee rollup is rebuilt from its
// school rows, and the snapshot is restamped. Returns the refreshed period
// count. Totals and the other dimensions are untouched; corrections move
// attribution, never money.
//
// Overrides are resolved at the period's month. Stored school rows carry no
// per-event dates, so a period whose events straddle an override boundary is
// rewritten uniformly here, while live ingestion resolves per event month.
// Exact event granularity needs a re-import of the source file.
func (s *CumulativeStore) Reapply(corrections *CorrectionSet) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := corrections.Version()
	refreshed := 0
	for _, ledger := range s.years {
		for _, p := range ledger.order {
			r := ledger.periods[p.Key()]
			if r.CorrectionVersion >= version {
				continue
			}

			order := []string{}
			sums := map[string]Money{}
			for i := range r.Schools {
				sb := &r.Schools[i]
				sb.Assignee = corrections.ApplyAssignee(sb.School, sb.Assignee, r.Period)
				if _, seen := sums[sb.Assignee]; !seen {
					order = append(order, sb.Assignee)
				}
				sums[sb.Assignee] = sums[sb.Assignee].Add(sb.Amount)
			}
			r.Assignees = r.Assignees[:0]
			for _, key := range order {
				r.Assignees = append(r.Assignees, BreakdownEntry{Label: key, Amount: sums[key]})
			}
			r.CorrectionVersion = version
			refreshed++
		}
	}
	return refreshed
}
