/*
errors.go - Error types for the reconciliation engine

PURPOSE:
  Defines the sentinel errors and structured error types the engine reports.
  Batch-level failures carry complete context (every unmatched label, every
  conflicting period) so one rejection is enough to fix the source data.

SEE ALSO:
  - validate.go:   Produces SchoolMasterMismatchError and ConsistencyError
  - cumulative.go: Produces DuplicatePeriodError
  - corrections.go: Produces OverlappingOverrideError
*/
package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrUnmatchedSchools indicates source rows referencing schools absent
	// from the master. The batch is rejected as a whole.
	ErrUnmatchedSchools = errors.New("unmatched schools in batch")

	// ErrDuplicatePeriod indicates a merge for a period the cumulative store
	// already holds, without replacement confirmed.
	ErrDuplicatePeriod = errors.New("period already merged")

	// ErrOverlappingOverride indicates a manager override whose month range
	// overlaps an existing override for the same school and fiscal year.
	ErrOverlappingOverride = errors.New("overlapping manager override")

	// ErrDuplicateAlias indicates an alias whose source name is already
	// aliased.
	ErrDuplicateAlias = errors.New("alias already defined for name")

	// ErrInternalConsistency indicates the cross-dimension invariant was
	// violated. This is an engine bug, not a data problem.
	ErrInternalConsistency = errors.New("internal consistency violation")

	// ErrInvalidPeriod indicates a period outside the representable range.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrInvalidTransition indicates a pipeline state change that skips or
	// revisits a stage.
	ErrInvalidTransition = errors.New("invalid pipeline transition")

	// ErrSessionRejected indicates an operation on a batch that has already
	// been rejected. Rejection is terminal.
	ErrSessionRejected = errors.New("batch has been rejected")

	// ErrNotFound indicates a missing record in a store lookup.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// SchoolMasterMismatchError rejects a batch whose rows reference schools the
// master does not know. Labels holds every offending raw label, sorted, so
// the master can be fixed in one pass.
type SchoolMasterMismatchError struct {
	Labels []string
}

func (e *SchoolMasterMismatchError) Error() string {
	return fmt.Sprintf("%d school(s) not found in master: %s",
		len(e.Labels), strings.Join(e.Labels, ", "))
}

func (e *SchoolMasterMismatchError) Unwrap() error {
	return ErrUnmatchedSchools
}

// DuplicatePeriodError reports every period of a merge request that the
// cumulative store already holds.
type DuplicatePeriodError struct {
	Periods []Period
}

func (e *DuplicatePeriodError) Error() string {
	keys := make([]string, len(e.Periods))
	for i, p := range e.Periods {
		keys[i] = p.Key()
	}
	return fmt.Sprintf("period(s) already merged: %s (set replace to overwrite)",
		strings.Join(keys, ", "))
}

func (e *DuplicatePeriodError) Unwrap() error {
	return ErrDuplicatePeriod
}

// OverlappingOverrideError reports the override that blocked an insertion.
type OverlappingOverrideError struct {
	School     SchoolID
	FiscalYear int
	Existing   SchoolManagerOverride
}

func (e *OverlappingOverrideError) Error() string {
	return fmt.Sprintf("school %d fiscal year %d: override overlaps existing range %s (manager %q)",
		e.School, e.FiscalYear, e.Existing.rangeString(), e.Existing.Manager)
}

func (e *OverlappingOverrideError) Unwrap() error {
	return ErrOverlappingOverride
}

// ConsistencyError reports which dimensional rollup diverged from the total
// and by how much.
type ConsistencyError struct {
	Dimension Dimension
	Total     Money
	Sum       Money
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency check failed: %s rollup sums to %s, total is %s (delta %s)",
		e.Dimension, e.Sum, e.Total, e.Sum.Sub(e.Total))
}

func (e *ConsistencyError) Unwrap() error {
	return ErrInternalConsistency
}

// TransitionError reports an out-of-order pipeline step.
type TransitionError struct {
	From SessionState
	To   SessionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition batch from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

func IsUnmatchedSchools(err error) bool { return errors.Is(err, ErrUnmatchedSchools) }
func IsDuplicatePeriod(err error) bool  { return errors.Is(err, ErrDuplicatePeriod) }
func IsNotFound(err error) bool         { return errors.Is(err, ErrNotFound) }
