/*
store.go - Persistence interfaces

PURPOSE:
  The engine core stays storage-agnostic: these interfaces are what the
  pipeline and API need from a backing store, and store/sqlite (production)
  and store/memory (tests) implement them. Methods return ErrNotFound for
  missing rows so callers can branch with errors.Is.

SEE ALSO:
  - ../store/memory: In-memory implementation
  - ../store/sqlite: SQLite implementation
*/
package reconcile

// MasterStore persists the school master snapshot.
type MasterStore interface {
	ReplaceSchools(schools []SchoolEntity) error
	LoadSchools() ([]SchoolEntity, error)
}

// CorrectionStore persists correction reference data. Loading rebuilds a
// CorrectionSet at startup; saving happens row by row as admins add them.
type CorrectionStore interface {
	SaveAlias(alias ManagerAlias) error
	LoadAliases() ([]ManagerAlias, error)
	SaveOverride(ov SchoolManagerOverride) error
	LoadOverrides() ([]SchoolManagerOverride, error)
}

// ReportStore persists merged period results and member-rate tables.
// SaveResult with replace overwrites the period wholesale, matching the
// cumulative store's replacement semantics.
type ReportStore interface {
	SaveResult(result *AggregationResult, replace bool) error
	LoadResult(period Period) (*AggregationResult, error)
	LoadYear(fiscalYear int) ([]*AggregationResult, error)
	FiscalYears() ([]int, error)
	SaveMemberRates(result *MemberRateResult, replace bool) error
	LoadMemberRates(period Period) (*MemberRateResult, error)
}

// Store is the full persistence surface the server wires together.
type Store interface {
	MasterStore
	CorrectionStore
	ReportStore
	Close() error
}
