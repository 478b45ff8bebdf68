/*
memberrate.go - Member-rate calculator

PURPOSE:
  Computes per-school, per-grade membership rates from enrollment rows:
  members divided by total enrollment. A grade with zero total enrollment
  has no defined rate (nil, serialized as null), which is different from a
  rate of zero. When several reports cover the same school and period the
  latest ingested one wins.

SEE ALSO:
  - match.go: Enrollment rows are matched fail-closed like sales rows
*/
package reconcile

import "github.com/shopspring/decimal"

// MemberRate is one school/grade rate row.
type MemberRate struct {
	School      SchoolID
	SchoolName  string
	Grade       string
	MemberCount int
	TotalCount  int
	// Rate is members/total, nil when TotalCount is zero.
	Rate *decimal.Decimal
}

// MemberRateResult is the computed rate table for one report.
type MemberRateResult struct {
	Period Period
	Rates  []MemberRate
}

// ComputeRates matches enrollment rows against the master and computes the
// rate table. Unmatched school labels reject the whole report with the same
// fail-closed error the sales path uses. Duplicate school/grade rows within
// one report keep the last occurrence, mirroring the
// latest-report-wins rule at row granularity.
func ComputeRates(records []EnrollmentRecord, master *MasterIndex, period Period) (*MemberRateResult, error) {
	matched, unmatched := master.MatchEnrollment(records)
	if len(unmatched) > 0 {
		return nil, &SchoolMasterMismatchError{Labels: unmatched}
	}

	order := []string{}
	rows := map[string]MemberRate{}
	for _, rec := range matched {
		key := rec.SchoolName + "\x00" + rec.Grade
		if _, seen := rows[key]; !seen {
			order = append(order, key)
		}
		rate := MemberRate{
			School:      rec.SchoolID,
			SchoolName:  rec.SchoolName,
			Grade:       rec.Grade,
			MemberCount: rec.MemberCount,
			TotalCount:  rec.TotalCount,
		}
		if rec.TotalCount > 0 {
			v := decimal.NewFromInt(int64(rec.MemberCount)).
				Div(decimal.NewFromInt(int64(rec.TotalCount))).
				Round(4)
			rate.Rate = &v
		}
		rows[key] = rate
	}

	result := &MemberRateResult{Period: period}
	for _, key := range order {
		result.Rates = append(result.Rates, rows[key])
	}
	return result, nil
}
