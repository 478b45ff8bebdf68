/*
match.go - Entity matcher

PURPOSE:
  Resolves raw sales and enrollment rows against the master index. Matching
  is identifier-first, then exact normalized name, then variant rewrite plus
  normalized name. Failure is a typed result, never an error: the caller
  collects every unmatched label and rejects the batch in one pass.

SEE ALSO:
  - master.go:   The index being matched against
  - validate.go: Turns collected unmatched labels into the batch rejection
*/
package reconcile

import "sort"

// MatchOutcome classifies one matcher resolution.
type MatchOutcome int

const (
	// MatchedByID resolved through the source row's identifier.
	MatchedByID MatchOutcome = iota
	// MatchedByName resolved through the exact normalized name.
	MatchedByName
	// MatchedByVariant resolved after a known-variant rewrite.
	MatchedByVariant
	// Unmatched found no master row. The raw label is preserved for the
	// batch rejection.
	Unmatched
)

func (o MatchOutcome) String() string {
	switch o {
	case MatchedByID:
		return "id"
	case MatchedByName:
		return "name"
	case MatchedByVariant:
		return "variant"
	default:
		return "unmatched"
	}
}

// MatchResult is the typed outcome for one row.
type MatchResult struct {
	Outcome MatchOutcome
	School  *SchoolEntity
	// RawLabel is the source label as it appeared, kept for rejection
	// reporting when Outcome is Unmatched.
	RawLabel string
}

// Match resolves one (identifier, raw label) pair against the index.
func (m *MasterIndex) Match(id SchoolID, rawName string) MatchResult {
	if id != 0 {
		if s := m.byID[id]; s != nil {
			return MatchResult{Outcome: MatchedByID, School: s}
		}
	}
	key := NormalizeSchoolName(rawName)
	if key != "" {
		if s := m.byName[key]; s != nil {
			return MatchResult{Outcome: MatchedByName, School: s}
		}
		if alt := m.table.Rewrite(key); alt != key {
			if s := m.byName[alt]; s != nil {
				return MatchResult{Outcome: MatchedByVariant, School: s}
			}
		}
	}
	return MatchResult{Outcome: Unmatched, RawLabel: rawName}
}

// MatchBatch resolves a whole sales batch. Matched rows come back bound to
// their master entity with branch, studio, and assignee taken from the
// master (the export's own assignee column is unreliable and superseded).
// Unmatched raw labels come back deduplicated and sorted; a non-empty list
// means the batch must be rejected.
func (m *MasterIndex) MatchBatch(records []SalesRecord) ([]MatchedRecord, []string) {
	matched := make([]MatchedRecord, 0, len(records))
	missing := map[string]struct{}{}
	for _, rec := range records {
		res := m.Match(rec.SchoolID, rec.SchoolName)
		if res.Outcome == Unmatched {
			missing[res.RawLabel] = struct{}{}
			continue
		}
		matched = append(matched, MatchedRecord{
			Record:   rec,
			School:   res.School,
			Branch:   res.School.Branch,
			Studio:   res.School.Studio,
			Assignee: res.School.Manager,
		})
	}
	return matched, sortedLabels(missing)
}

// MatchEnrollment resolves enrollment rows the same way. Unmatched labels
// join the sales batch's rejection list.
func (m *MasterIndex) MatchEnrollment(records []EnrollmentRecord) ([]EnrollmentRecord, []string) {
	matched := make([]EnrollmentRecord, 0, len(records))
	missing := map[string]struct{}{}
	for _, rec := range records {
		res := m.Match(rec.SchoolID, rec.SchoolName)
		if res.Outcome == Unmatched {
			missing[res.RawLabel] = struct{}{}
			continue
		}
		rec.SchoolID = res.School.ID
		rec.SchoolName = res.School.Name
		matched = append(matched, rec)
	}
	return matched, sortedLabels(missing)
}

func sortedLabels(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	labels := make([]string, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
