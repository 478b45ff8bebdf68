/*
dto.go - Request/response data structures

PURPOSE:
  JSON shapes for the REST surface, kept separate from the domain types so
  the wire format can stay stable while the engine evolves. Amounts are
  serialized as whole-yen integers; the average is a pointer so "no
  schools" serializes as null rather than zero.

SEE ALSO:
  - handlers.go: Producers and consumers of these types
*/
package api

import (
	"github.com/schoolphoto/sales-engine/reconcile"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	Periods []string `json:"periods,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

type BreakdownDTO struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

type SchoolRowDTO struct {
	SchoolID int64  `json:"school_id"`
	Name     string `json:"name"`
	Branch   string `json:"branch"`
	Studio   string `json:"studio"`
	Assignee string `json:"assignee"`
	Amount   int64  `json:"amount"`
}

type EventRowDTO struct {
	SchoolID  int64  `json:"school_id"`
	Name      string `json:"school_name"`
	Branch    string `json:"branch"`
	EventName string `json:"event_name"`
	EventDate string `json:"event_date,omitempty"`
	Amount    int64  `json:"amount"`
}

type ReportDTO struct {
	Period            string         `json:"period"`
	FiscalYear        int            `json:"fiscal_year"`
	Total             int64          `json:"total"`
	DirectSales       int64          `json:"direct_sales"`
	StudioSales       int64          `json:"studio_sales"`
	SchoolCount       int            `json:"school_count"`
	AveragePerSchool  *int64         `json:"average_per_school"`
	Branches          []BreakdownDTO `json:"branches"`
	Assignees         []BreakdownDTO `json:"assignees"`
	Schools           []SchoolRowDTO `json:"schools"`
	Events            []EventRowDTO  `json:"events"`
	CorrectionVersion uint64         `json:"correction_version"`
}

func toReportDTO(r *reconcile.AggregationResult) ReportDTO {
	dto := ReportDTO{
		Period:            r.Period.Key(),
		FiscalYear:        r.Period.FiscalYear(),
		Total:             r.Total.Yen(),
		DirectSales:       r.DirectSales.Yen(),
		StudioSales:       r.StudioSales.Yen(),
		SchoolCount:       r.SchoolCount,
		Branches:          toBreakdownDTOs(r.Branches),
		Assignees:         toBreakdownDTOs(r.Assignees),
		Schools:           []SchoolRowDTO{},
		Events:            []EventRowDTO{},
		CorrectionVersion: r.CorrectionVersion,
	}
	if r.AveragePerSchool != nil {
		v := r.AveragePerSchool.Yen()
		dto.AveragePerSchool = &v
	}
	for _, row := range r.Schools {
		dto.Schools = append(dto.Schools, SchoolRowDTO{
			SchoolID: int64(row.School),
			Name:     row.Name,
			Branch:   row.Branch,
			Studio:   row.Studio,
			Assignee: row.Assignee,
			Amount:   row.Amount.Yen(),
		})
	}
	for _, row := range r.Events {
		dto.Events = append(dto.Events, EventRowDTO{
			SchoolID:  int64(row.School),
			Name:      row.Name,
			Branch:    row.Branch,
			EventName: row.EventName,
			EventDate: row.EventDate,
			Amount:    row.Amount.Yen(),
		})
	}
	return dto
}

func toBreakdownDTOs(entries []reconcile.BreakdownEntry) []BreakdownDTO {
	dtos := make([]BreakdownDTO, len(entries))
	for i, e := range entries {
		dtos[i] = BreakdownDTO{Label: e.Label, Amount: e.Amount.Yen()}
	}
	return dtos
}

// =============================================================================
// CUMULATIVE
// =============================================================================

type CumulativeSchoolDTO struct {
	SchoolID int64  `json:"school_id"`
	Name     string `json:"name"`
	Branch   string `json:"branch"`
	Studio   string `json:"studio"`
	Assignee string `json:"assignee"`
	Amount   int64  `json:"amount"`
	Months   int    `json:"months"`
}

type YearSummaryDTO struct {
	FiscalYear  int                   `json:"fiscal_year"`
	Periods     []string              `json:"periods"`
	Total       int64                 `json:"total"`
	DirectSales int64                 `json:"direct_sales"`
	StudioSales int64                 `json:"studio_sales"`
	Branches    []BreakdownDTO        `json:"branches"`
	Assignees   []BreakdownDTO        `json:"assignees"`
	Schools     []CumulativeSchoolDTO `json:"schools"`
	Events      []EventRowDTO         `json:"events"`
}

func toYearSummaryDTO(y *reconcile.YearSummary) YearSummaryDTO {
	dto := YearSummaryDTO{
		FiscalYear:  y.FiscalYear,
		Total:       y.Total.Yen(),
		DirectSales: y.DirectSales.Yen(),
		StudioSales: y.StudioSales.Yen(),
		Branches:    toBreakdownDTOs(y.Branches),
		Assignees:   toBreakdownDTOs(y.Assignees),
		Schools:     []CumulativeSchoolDTO{},
		Events:      []EventRowDTO{},
	}
	for _, p := range y.Periods {
		dto.Periods = append(dto.Periods, p.Key())
	}
	for _, row := range y.Schools {
		dto.Schools = append(dto.Schools, CumulativeSchoolDTO{
			SchoolID: int64(row.School),
			Name:     row.Name,
			Branch:   row.Branch,
			Studio:   row.Studio,
			Assignee: row.Assignee,
			Amount:   row.Amount.Yen(),
			Months:   row.Months,
		})
	}
	for _, row := range y.Events {
		dto.Events = append(dto.Events, EventRowDTO{
			SchoolID:  int64(row.School),
			Name:      row.Name,
			Branch:    row.Branch,
			EventName: row.EventName,
			EventDate: row.EventDate,
			Amount:    row.Amount.Yen(),
		})
	}
	return dto
}

// =============================================================================
// CORRECTIONS
// =============================================================================

type AliasDTO struct {
	From      string `json:"from"`
	To        string `json:"to"`
	CreatedAt string `json:"created_at,omitempty"`
}

type OverrideDTO struct {
	SchoolID   int64  `json:"school_id"`
	FiscalYear int    `json:"fiscal_year"`
	StartMonth int    `json:"start_month"`
	EndMonth   int    `json:"end_month,omitempty"`
	Manager    string `json:"manager"`
	Original   string `json:"original,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// =============================================================================
// MASTER
// =============================================================================

type SchoolDTO struct {
	SchoolID  int64  `json:"school_id"`
	Name      string `json:"name"`
	Attribute string `json:"attribute,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Studio    string `json:"studio,omitempty"`
	Manager   string `json:"manager,omitempty"`
}

type ReplaceMasterRequest struct {
	Schools []SchoolDTO `json:"schools"`
}

// =============================================================================
// MEMBER RATES
// =============================================================================

type EnrollmentRowDTO struct {
	SchoolID    int64  `json:"school_id,omitempty"`
	SchoolName  string `json:"school_name"`
	Grade       string `json:"grade"`
	MemberCount int    `json:"member_count"`
	TotalCount  int    `json:"total_count"`
}

type SubmitMemberRatesRequest struct {
	Year    int                `json:"year"`
	Month   int                `json:"month"`
	Replace bool               `json:"replace"`
	Records []EnrollmentRowDTO `json:"records"`
}

type MemberRateDTO struct {
	SchoolID    int64   `json:"school_id"`
	SchoolName  string  `json:"school_name"`
	Grade       string  `json:"grade"`
	MemberCount int     `json:"member_count"`
	TotalCount  int     `json:"total_count"`
	Rate        *string `json:"rate"`
}

type MemberRatesDTO struct {
	Period string          `json:"period"`
	Rates  []MemberRateDTO `json:"rates"`
}

func toMemberRatesDTO(r *reconcile.MemberRateResult) MemberRatesDTO {
	dto := MemberRatesDTO{Period: r.Period.Key(), Rates: []MemberRateDTO{}}
	for _, rate := range r.Rates {
		row := MemberRateDTO{
			SchoolID:    int64(rate.School),
			SchoolName:  rate.SchoolName,
			Grade:       rate.Grade,
			MemberCount: rate.MemberCount,
			TotalCount:  rate.TotalCount,
		}
		if rate.Rate != nil {
			v := rate.Rate.String()
			row.Rate = &v
		}
		dto.Rates = append(dto.Rates, row)
	}
	return dto
}
