/*
validate.go - Consistency validator

PURPOSE:
  Two gates between aggregation and merge:

  1. Fail closed on unmatched schools. Any raw label the master could not
     resolve rejects the whole batch with the complete sorted label list.
     A partially matched batch must never be summed.
  2. Cross-dimension invariant. The branch, assignee, and school rollups are
     computed from the same record set as the total, so their sums must
     agree with it. A divergence is an engine bug and is reported with the
     offending dimension and the delta.

SEE ALSO:
  - errors.go: SchoolMasterMismatchError, ConsistencyError
*/
package reconcile

// consistencyDimensions are the axes the invariant covers. The event axis is
// excluded: rows without an event still count toward the total but carry no
// event occurrence.
var consistencyDimensions = []Dimension{DimensionBranch, DimensionAssignee, DimensionSchool}

// Validate gates one aggregation result. unmatched is the deduplicated label
// list collected during matching; non-empty rejects the batch. Returns nil
// when the result may proceed to merge.
func Validate(result *AggregationResult, unmatched []string) error {
	if len(unmatched) > 0 {
		labels := make([]string, len(unmatched))
		copy(labels, unmatched)
		return &SchoolMasterMismatchError{Labels: labels}
	}

	for _, dim := range consistencyDimensions {
		sum := ZeroMoney()
		for _, entry := range result.Breakdown(dim) {
			sum = sum.Add(entry.Amount)
		}
		if !sum.Equal(result.Total) {
			return &ConsistencyError{Dimension: dim, Total: result.Total, Sum: sum}
		}
	}
	return nil
}
