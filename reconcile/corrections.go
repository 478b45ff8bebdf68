/*
corrections.go - Retroactive correction engine

PURPOSE:
  Holds the two kinds of correction reference data and applies them to
  matched batches:

  - ManagerAlias: a person went by two names across exports; every
    occurrence of the source name is rewritten to the target name.
  - SchoolManagerOverride: for one school and a month range within one
    fiscal year, responsibility belonged to someone other than the master's
    current manager. Applied by event month.

  The set is versioned. Every mutation bumps the version; stored aggregates
  stamped with an older version are stale and must be reapplied. Mutations
  and Apply are serialized with an RWMutex so a batch never sees a
  half-updated set.

SEE ALSO:
  - cumulative.go: Reapply refreshes stale stored periods
  - errors.go:     OverlappingOverrideError, ErrDuplicateAlias
*/
package reconcile

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// REFERENCE DATA ROWS
// =============================================================================

// ManagerAlias rewrites one assignee name to another.
type ManagerAlias struct {
	From      string
	To        string
	CreatedAt time.Time
}

// SchoolManagerOverride assigns a manager to one school for a month range
// within one fiscal year. EndMonth zero means "through the end of the fiscal
// year". Original records the master's assignee at creation time, for audit.
type SchoolManagerOverride struct {
	School     SchoolID
	FiscalYear int
	StartMonth time.Month
	EndMonth   time.Month
	Manager    string
	Original   string
	CreatedAt  time.Time
}

// contains reports whether the override covers the given month, compared in
// fiscal order (April first) so a January override in fiscal 2024 sorts
// after December.
func (o SchoolManagerOverride) contains(m time.Month) bool {
	i := fiscalMonthIndex(m)
	if i < fiscalMonthIndex(o.StartMonth) {
		return false
	}
	if o.EndMonth == 0 {
		return true
	}
	return i <= fiscalMonthIndex(o.EndMonth)
}

// overlaps reports whether two overrides' month ranges intersect.
func (o SchoolManagerOverride) overlaps(other SchoolManagerOverride) bool {
	aStart, aEnd := o.fiscalRange()
	bStart, bEnd := other.fiscalRange()
	return aStart <= bEnd && bStart <= aEnd
}

func (o SchoolManagerOverride) fiscalRange() (int, int) {
	start := fiscalMonthIndex(o.StartMonth)
	end := 11
	if o.EndMonth != 0 {
		end = fiscalMonthIndex(o.EndMonth)
	}
	return start, end
}

func (o SchoolManagerOverride) rangeString() string {
	if o.EndMonth == 0 {
		return fmt.Sprintf("%s onward", o.StartMonth)
	}
	return fmt.Sprintf("%s through %s", o.StartMonth, o.EndMonth)
}

// =============================================================================
// CORRECTION SET
// =============================================================================

// CorrectionSet is the versioned, concurrency-safe container for all
// correction reference data.
type CorrectionSet struct {
	mu        sync.RWMutex
	version   uint64
	aliases   []ManagerAlias
	aliasMap  map[string]string
	overrides map[SchoolID][]SchoolManagerOverride
}

func NewCorrectionSet() *CorrectionSet {
	return &CorrectionSet{
		aliasMap:  map[string]string{},
		overrides: map[SchoolID][]SchoolManagerOverride{},
	}
}

// Version returns the current version. Zero means no corrections exist yet.
func (c *CorrectionSet) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// AddAlias registers a name rewrite. The alias map is kept a fixpoint:
// existing targets equal to the new source are rewritten through, so
// applying the map once is always enough. A source that already has an
// alias is rejected.
func (c *CorrectionSet) AddAlias(from, to string) (ManagerAlias, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" || from == to {
		return ManagerAlias{}, fmt.Errorf("%w: %q -> %q", ErrDuplicateAlias, from, to)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.aliasMap[from]; exists {
		return ManagerAlias{}, fmt.Errorf("%w: %q", ErrDuplicateAlias, from)
	}
	// Collapse the chain the new alias would create: if "to" is itself
	// aliased, point straight at its target.
	if final, ok := c.aliasMap[to]; ok {
		to = final
	}
	for src, dst := range c.aliasMap {
		if dst == from {
			c.aliasMap[src] = to
		}
	}
	alias := ManagerAlias{From: from, To: to, CreatedAt: time.Now()}
	c.aliasMap[from] = to
	c.aliases = append(c.aliases, alias)
	c.version++
	return alias, nil
}

// AddOverride registers a school-manager override after checking the month
// range against every stored override for the same school and fiscal year.
func (c *CorrectionSet) AddOverride(ov SchoolManagerOverride) error {
	if ov.School == 0 || ov.Manager == "" || ov.StartMonth < time.January || ov.StartMonth > time.December {
		return fmt.Errorf("%w: incomplete override", ErrOverlappingOverride)
	}
	if ov.EndMonth != 0 {
		start, end := ov.fiscalRange()
		if end < start {
			return fmt.Errorf("%w: end month %s precedes start month %s in fiscal order",
				ErrOverlappingOverride, ov.EndMonth, ov.StartMonth)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.overrides[ov.School] {
		if existing.FiscalYear == ov.FiscalYear && existing.overlaps(ov) {
			return &OverlappingOverrideError{
				School:     ov.School,
				FiscalYear: ov.FiscalYear,
				Existing:   existing,
			}
		}
	}
	if ov.CreatedAt.IsZero() {
		ov.CreatedAt = time.Now()
	}
	c.overrides[ov.School] = append(c.overrides[ov.School], ov)
	c.version++
	return nil
}

// Aliases returns a copy of all alias rows in creation order.
func (c *CorrectionSet) Aliases() []ManagerAlias {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ManagerAlias, len(c.aliases))
	copy(out, c.aliases)
	return out
}

// Overrides returns a copy of all override rows.
func (c *CorrectionSet) Overrides() []SchoolManagerOverride {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []SchoolManagerOverride
	for _, ovs := range c.overrides {
		out = append(out, ovs...)
	}
	return out
}

// ResolveAlias maps one assignee name through the alias map.
func (c *CorrectionSet) ResolveAlias(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if to, ok := c.aliasMap[name]; ok {
		return to
	}
	return name
}

// Apply rewrites a matched batch: aliases first, then overrides by event
// month within the batch period's fiscal year. Returns the corrected batch
// and the version it reflects, for staleness stamping. The input slice is
// not modified.
func (c *CorrectionSet) Apply(records []MatchedRecord, period Period) ([]MatchedRecord, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]MatchedRecord, len(records))
	fy := period.FiscalYear()
	for i, rec := range records {
		if to, ok := c.aliasMap[rec.Assignee]; ok {
			rec.Assignee = to
		}
		if manager, ok := c.managerFor(rec.School.ID, fy, rec.EventMonth(period)); ok {
			rec.Assignee = manager
		}
		out[i] = rec
	}
	return out, c.version
}

// ApplyAssignee resolves one assignee value the way Apply would, for
// refreshing stored per-school rows without the original records.
func (c *CorrectionSet) ApplyAssignee(school SchoolID, assignee string, period Period) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if to, ok := c.aliasMap[assignee]; ok {
		assignee = to
	}
	if manager, ok := c.managerFor(school, period.FiscalYear(), period.Month); ok {
		return manager
	}
	return assignee
}

// managerFor finds the override covering a month. Insertion validates
// non-overlap, so at most one row should apply; for legacy data predating
// validation the newest-first scan makes most-recently-created win.
// Callers hold at least the read lock.
func (c *CorrectionSet) managerFor(school SchoolID, fiscalYear int, month time.Month) (string, bool) {
	ovs := c.overrides[school]
	best := -1
	for i, ov := range ovs {
		if ov.FiscalYear != fiscalYear || !ov.contains(month) {
			continue
		}
		if best == -1 || ov.CreatedAt.After(ovs[best].CreatedAt) {
			best = i
		}
	}
	if best == -1 {
		return "", false
	}
	return ovs[best].Manager, true
}
