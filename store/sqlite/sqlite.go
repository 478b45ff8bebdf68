/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements reconcile.Store using SQLite. One database file holds the
  school master, the correction reference data, the merged period results
  in normalized rollup tables, and the member-rate tables.

KEY TABLES:
  schools_master:        Canonical school rows
  manager_aliases:       Assignee name rewrites
  manager_overrides:     Time-bounded school-manager overrides
  monthly_totals:        One row per merged period (totals, channel split)
  branch_monthly_sales:  Branch rollup per period
  manager_monthly_sales: Assignee rollup per period
  school_monthly_sales:  School rollup per period
  event_sales:           Event rollup per period
  member_rates:          Member-rate rows per period

REPLACEMENT SEMANTICS:
  SaveResult with replace deletes every rollup row for the period and
  reinserts, inside one transaction. A period is either fully the old
  report or fully the new one, never a mix.

CONCURRENCY:
  sync.RWMutex on top of WAL mode. Multiple readers, one writer.

USAGE:
  store, err := sqlite.New("./data/sales.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - reconcile/store.go: Interface definitions
  - store/memory:       In-memory implementation for testing
*/
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/schoolphoto/sales-engine/reconcile"
)

// Store implements reconcile.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ reconcile.Store = (*Store)(nil)

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schools_master (
		school_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		attribute TEXT,
		branch TEXT,
		studio TEXT,
		manager TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_schools_master_name
		ON schools_master(name);

	CREATE TABLE IF NOT EXISTS manager_aliases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_name TEXT NOT NULL UNIQUE,
		to_name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS manager_overrides (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		school_id INTEGER NOT NULL,
		fiscal_year INTEGER NOT NULL,
		start_month INTEGER NOT NULL,
		end_month INTEGER NOT NULL DEFAULT 0,
		manager TEXT NOT NULL,
		original TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_manager_overrides_school
		ON manager_overrides(school_id, fiscal_year);

	-- One row per merged period
	CREATE TABLE IF NOT EXISTS monthly_totals (
		period TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		fiscal_year INTEGER NOT NULL,
		total TEXT NOT NULL,
		direct_sales TEXT NOT NULL,
		studio_sales TEXT NOT NULL,
		school_count INTEGER NOT NULL,
		average_per_school TEXT,
		correction_version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_monthly_totals_fiscal
		ON monthly_totals(fiscal_year);

	CREATE TABLE IF NOT EXISTS branch_monthly_sales (
		period TEXT NOT NULL,
		position INTEGER NOT NULL,
		branch TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (period, position)
	);

	CREATE TABLE IF NOT EXISTS manager_monthly_sales (
		period TEXT NOT NULL,
		position INTEGER NOT NULL,
		manager TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (period, position)
	);

	CREATE TABLE IF NOT EXISTS school_monthly_sales (
		period TEXT NOT NULL,
		position INTEGER NOT NULL,
		school_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		branch TEXT,
		studio TEXT,
		manager TEXT,
		amount TEXT NOT NULL,
		PRIMARY KEY (period, position)
	);

	CREATE INDEX IF NOT EXISTS idx_school_monthly_sales_school
		ON school_monthly_sales(school_id);

	CREATE TABLE IF NOT EXISTS event_sales (
		period TEXT NOT NULL,
		position INTEGER NOT NULL,
		school_id INTEGER NOT NULL,
		school_name TEXT NOT NULL,
		branch TEXT,
		event_name TEXT,
		event_date TEXT,
		amount TEXT NOT NULL,
		PRIMARY KEY (period, position)
	);

	CREATE TABLE IF NOT EXISTS member_rates (
		period TEXT NOT NULL,
		position INTEGER NOT NULL,
		school_id INTEGER NOT NULL,
		school_name TEXT NOT NULL,
		grade TEXT,
		member_count INTEGER NOT NULL,
		total_count INTEGER NOT NULL,
		rate TEXT,
		PRIMARY KEY (period, position)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// MASTER STORE
// =============================================================================

// ReplaceSchools swaps the master snapshot wholesale.
func (s *Store) ReplaceSchools(schools []reconcile.SchoolEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM schools_master"); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO schools_master (school_id, name, attribute, branch, studio, manager)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, school := range schools {
		if _, err := stmt.Exec(int64(school.ID), school.Name, school.Attribute,
			school.Branch, school.Studio, school.Manager); err != nil {
			return fmt.Errorf("failed to insert school %q: %w", school.Name, err)
		}
	}
	return tx.Commit()
}

// LoadSchools returns the full master snapshot.
func (s *Store) LoadSchools() ([]reconcile.SchoolEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT school_id, name, attribute, branch, studio, manager
		FROM schools_master ORDER BY school_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schools []reconcile.SchoolEntity
	for rows.Next() {
		var school reconcile.SchoolEntity
		var id int64
		var attribute, branch, studio, manager sql.NullString
		if err := rows.Scan(&id, &school.Name, &attribute, &branch, &studio, &manager); err != nil {
			return nil, err
		}
		school.ID = reconcile.SchoolID(id)
		school.Attribute = attribute.String
		school.Branch = branch.String
		school.Studio = studio.String
		school.Manager = manager.String
		schools = append(schools, school)
	}
	return schools, rows.Err()
}

// =============================================================================
// CORRECTION STORE
// =============================================================================

func (s *Store) SaveAlias(alias reconcile.ManagerAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO manager_aliases (from_name, to_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(from_name) DO UPDATE SET to_name = excluded.to_name
	`, alias.From, alias.To, alias.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *Store) LoadAliases() ([]reconcile.ManagerAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT from_name, to_name, created_at FROM manager_aliases ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aliases []reconcile.ManagerAlias
	for rows.Next() {
		var alias reconcile.ManagerAlias
		var createdAt string
		if err := rows.Scan(&alias.From, &alias.To, &createdAt); err != nil {
			return nil, err
		}
		alias.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		aliases = append(aliases, alias)
	}
	return aliases, rows.Err()
}

func (s *Store) SaveOverride(ov reconcile.SchoolManagerOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO manager_overrides
		(school_id, fiscal_year, start_month, end_month, manager, original, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, int64(ov.School), ov.FiscalYear, int(ov.StartMonth), int(ov.EndMonth),
		ov.Manager, ov.Original, ov.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *Store) LoadOverrides() ([]reconcile.SchoolManagerOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT school_id, fiscal_year, start_month, end_month, manager, original, created_at
		FROM manager_overrides ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []reconcile.SchoolManagerOverride
	for rows.Next() {
		var ov reconcile.SchoolManagerOverride
		var school int64
		var startMonth, endMonth int
		var original sql.NullString
		var createdAt string
		if err := rows.Scan(&school, &ov.FiscalYear, &startMonth, &endMonth,
			&ov.Manager, &original, &createdAt); err != nil {
			return nil, err
		}
		ov.School = reconcile.SchoolID(school)
		ov.StartMonth = time.Month(startMonth)
		ov.EndMonth = time.Month(endMonth)
		ov.Original = original.String
		ov.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		overrides = append(overrides, ov)
	}
	return overrides, rows.Err()
}

// =============================================================================
// REPORT STORE
// =============================================================================

var rollupTables = []string{
	"branch_monthly_sales",
	"manager_monthly_sales",
	"school_monthly_sales",
	"event_sales",
}

// SaveResult persists one period's full rollup set atomically. With replace,
// existing rows for the period are deleted first; without it, an existing
// period is a DuplicatePeriodError.
func (s *Store) SaveResult(result *reconcile.AggregationResult, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := result.Period.Key()

	var count int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM monthly_totals WHERE period = ?", key,
	).Scan(&count); err != nil {
		return err
	}
	if count > 0 && !replace {
		return &reconcile.DuplicatePeriodError{Periods: []reconcile.Period{result.Period}}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if count > 0 {
		if _, err := tx.Exec("DELETE FROM monthly_totals WHERE period = ?", key); err != nil {
			return err
		}
		for _, table := range rollupTables {
			if _, err := tx.Exec("DELETE FROM "+table+" WHERE period = ?", key); err != nil {
				return err
			}
		}
	}

	var average *string
	if result.AveragePerSchool != nil {
		v := result.AveragePerSchool.String()
		average = &v
	}
	if _, err := tx.Exec(`
		INSERT INTO monthly_totals
		(period, year, month, fiscal_year, total, direct_sales, studio_sales,
		 school_count, average_per_school, correction_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, key, result.Period.Year, int(result.Period.Month), result.Period.FiscalYear(),
		result.Total.String(), result.DirectSales.String(), result.StudioSales.String(),
		result.SchoolCount, average, result.CorrectionVersion,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	for i, entry := range result.Branches {
		if _, err := tx.Exec(`
			INSERT INTO branch_monthly_sales (period, position, branch, amount)
			VALUES (?, ?, ?, ?)
		`, key, i, entry.Label, entry.Amount.String()); err != nil {
			return err
		}
	}
	for i, entry := range result.Assignees {
		if _, err := tx.Exec(`
			INSERT INTO manager_monthly_sales (period, position, manager, amount)
			VALUES (?, ?, ?, ?)
		`, key, i, entry.Label, entry.Amount.String()); err != nil {
			return err
		}
	}
	for i, row := range result.Schools {
		if _, err := tx.Exec(`
			INSERT INTO school_monthly_sales
			(period, position, school_id, name, branch, studio, manager, amount)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, key, i, int64(row.School), row.Name, row.Branch, row.Studio,
			row.Assignee, row.Amount.String()); err != nil {
			return err
		}
	}
	for i, row := range result.Events {
		if _, err := tx.Exec(`
			INSERT INTO event_sales
			(period, position, school_id, school_name, branch, event_name, event_date, amount)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, key, i, int64(row.School), row.Name, row.Branch, row.EventName,
			row.EventDate, row.Amount.String()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadResult reconstructs one period's result from the rollup tables.
func (s *Store) LoadResult(period reconcile.Period) (*reconcile.AggregationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadResult(period.Key())
}

// FiscalYears returns every fiscal year holding at least one merged period,
// ascending.
func (s *Store) FiscalYears() ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT DISTINCT fiscal_year FROM monthly_totals ORDER BY fiscal_year
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var fy int
		if err := rows.Scan(&fy); err != nil {
			return nil, err
		}
		years = append(years, fy)
	}
	return years, rows.Err()
}

// LoadYear returns every merged result in a fiscal year, in fiscal order.
func (s *Store) LoadYear(fiscalYear int) ([]*reconcile.AggregationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT period FROM monthly_totals
		WHERE fiscal_year = ? ORDER BY year, month
	`, fiscalYear)
	if err != nil {
		return nil, err
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, err
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]*reconcile.AggregationResult, 0, len(keys))
	for _, key := range keys {
		result, err := s.loadResult(key)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Store) loadResult(key string) (*reconcile.AggregationResult, error) {
	result := &reconcile.AggregationResult{}
	var year, month int
	var total, direct, studio string
	var average sql.NullString

	err := s.db.QueryRow(`
		SELECT year, month, total, direct_sales, studio_sales,
		       school_count, average_per_school, correction_version
		FROM monthly_totals WHERE period = ?
	`, key).Scan(&year, &month, &total, &direct, &studio,
		&result.SchoolCount, &average, &result.CorrectionVersion)
	if err == sql.ErrNoRows {
		return nil, reconcile.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	result.Period = reconcile.NewPeriod(year, time.Month(month))
	if result.Total, err = parseMoney(total); err != nil {
		return nil, err
	}
	if result.DirectSales, err = parseMoney(direct); err != nil {
		return nil, err
	}
	if result.StudioSales, err = parseMoney(studio); err != nil {
		return nil, err
	}
	if average.Valid {
		avg, err := parseMoney(average.String)
		if err != nil {
			return nil, err
		}
		result.AveragePerSchool = &avg
	}

	if result.Branches, err = s.loadBreakdown(key, "branch_monthly_sales", "branch"); err != nil {
		return nil, err
	}
	if result.Assignees, err = s.loadBreakdown(key, "manager_monthly_sales", "manager"); err != nil {
		return nil, err
	}
	if result.Schools, err = s.loadSchoolRows(key); err != nil {
		return nil, err
	}
	if result.Events, err = s.loadEventRows(key); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) loadBreakdown(key, table, labelCol string) ([]reconcile.BreakdownEntry, error) {
	rows, err := s.db.Query(
		"SELECT "+labelCol+", amount FROM "+table+" WHERE period = ? ORDER BY position", key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []reconcile.BreakdownEntry
	for rows.Next() {
		var entry reconcile.BreakdownEntry
		var amount string
		if err := rows.Scan(&entry.Label, &amount); err != nil {
			return nil, err
		}
		if entry.Amount, err = parseMoney(amount); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) loadSchoolRows(key string) ([]reconcile.SchoolBreakdown, error) {
	rows, err := s.db.Query(`
		SELECT school_id, name, branch, studio, manager, amount
		FROM school_monthly_sales WHERE period = ? ORDER BY position
	`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reconcile.SchoolBreakdown
	for rows.Next() {
		var row reconcile.SchoolBreakdown
		var id int64
		var branch, studio, manager sql.NullString
		var amount string
		if err := rows.Scan(&id, &row.Name, &branch, &studio, &manager, &amount); err != nil {
			return nil, err
		}
		row.School = reconcile.SchoolID(id)
		row.Branch = branch.String
		row.Studio = studio.String
		row.Assignee = manager.String
		if row.Amount, err = parseMoney(amount); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) loadEventRows(key string) ([]reconcile.EventBreakdown, error) {
	rows, err := s.db.Query(`
		SELECT school_id, school_name, branch, event_name, event_date, amount
		FROM event_sales WHERE period = ? ORDER BY position
	`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reconcile.EventBreakdown
	for rows.Next() {
		var row reconcile.EventBreakdown
		var id int64
		var branch, eventName, eventDate sql.NullString
		var amount string
		if err := rows.Scan(&id, &row.Name, &branch, &eventName, &eventDate, &amount); err != nil {
			return nil, err
		}
		row.School = reconcile.SchoolID(id)
		row.Branch = branch.String
		row.EventName = eventName.String
		row.EventDate = eventDate.String
		if row.Amount, err = parseMoney(amount); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// =============================================================================
// MEMBER RATES
// =============================================================================

func (s *Store) SaveMemberRates(result *reconcile.MemberRateResult, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := result.Period.Key()

	var count int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM member_rates WHERE period = ?", key,
	).Scan(&count); err != nil {
		return err
	}
	if count > 0 && !replace {
		return &reconcile.DuplicatePeriodError{Periods: []reconcile.Period{result.Period}}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if count > 0 {
		if _, err := tx.Exec("DELETE FROM member_rates WHERE period = ?", key); err != nil {
			return err
		}
	}
	for i, rate := range result.Rates {
		var rateText *string
		if rate.Rate != nil {
			v := rate.Rate.String()
			rateText = &v
		}
		if _, err := tx.Exec(`
			INSERT INTO member_rates
			(period, position, school_id, school_name, grade, member_count, total_count, rate)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, key, i, int64(rate.School), rate.SchoolName, rate.Grade,
			rate.MemberCount, rate.TotalCount, rateText); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LoadMemberRates(period reconcile.Period) (*reconcile.MemberRateResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT school_id, school_name, grade, member_count, total_count, rate
		FROM member_rates WHERE period = ? ORDER BY position
	`, period.Key())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &reconcile.MemberRateResult{Period: period}
	for rows.Next() {
		var rate reconcile.MemberRate
		var id int64
		var grade, rateText sql.NullString
		if err := rows.Scan(&id, &rate.SchoolName, &grade,
			&rate.MemberCount, &rate.TotalCount, &rateText); err != nil {
			return nil, err
		}
		rate.School = reconcile.SchoolID(id)
		rate.Grade = grade.String
		if rateText.Valid {
			v, err := decimal.NewFromString(rateText.String)
			if err != nil {
				return nil, fmt.Errorf("invalid stored rate %q: %w", rateText.String, err)
			}
			rate.Rate = &v
		}
		result.Rates = append(result.Rates, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result.Rates) == 0 {
		return nil, reconcile.ErrNotFound
	}
	return result, nil
}

func parseMoney(text string) (reconcile.Money, error) {
	v, err := decimal.NewFromString(text)
	if err != nil {
		return reconcile.ZeroMoney(), fmt.Errorf("invalid stored amount %q: %w", text, err)
	}
	return reconcile.Money{Value: v}, nil
}
