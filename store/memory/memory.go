/*
memory.go - In-memory store

PURPOSE:
  Map-backed implementation of reconcile.Store for tests and for running
  the server without a database file. Behavior mirrors store/sqlite:
  wholesale period replacement, ErrNotFound on misses.

SEE ALSO:
  - ../../reconcile/store.go: The interfaces implemented here
  - ../sqlite:                The production implementation
*/
package memory

import (
	"sort"
	"sync"

	"github.com/schoolphoto/sales-engine/reconcile"
)

// Store is a map-backed reconcile.Store. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	schools   []reconcile.SchoolEntity
	aliases   []reconcile.ManagerAlias
	overrides []reconcile.SchoolManagerOverride
	results   map[string]*reconcile.AggregationResult
	rates     map[string]*reconcile.MemberRateResult
}

var _ reconcile.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		results: map[string]*reconcile.AggregationResult{},
		rates:   map[string]*reconcile.MemberRateResult{},
	}
}

// ===== MASTER =====

func (s *Store) ReplaceSchools(schools []reconcile.SchoolEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schools = append([]reconcile.SchoolEntity(nil), schools...)
	return nil
}

func (s *Store) LoadSchools() ([]reconcile.SchoolEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]reconcile.SchoolEntity(nil), s.schools...), nil
}

// ===== CORRECTIONS =====

func (s *Store) SaveAlias(alias reconcile.ManagerAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases = append(s.aliases, alias)
	return nil
}

func (s *Store) LoadAliases() ([]reconcile.ManagerAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]reconcile.ManagerAlias(nil), s.aliases...), nil
}

func (s *Store) SaveOverride(ov reconcile.SchoolManagerOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = append(s.overrides, ov)
	return nil
}

func (s *Store) LoadOverrides() ([]reconcile.SchoolManagerOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]reconcile.SchoolManagerOverride(nil), s.overrides...), nil
}

// ===== REPORTS =====

func (s *Store) SaveResult(result *reconcile.AggregationResult, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := result.Period.Key()
	if _, exists := s.results[key]; exists && !replace {
		return &reconcile.DuplicatePeriodError{Periods: []reconcile.Period{result.Period}}
	}
	s.results[key] = result
	return nil
}

func (s *Store) LoadResult(period reconcile.Period) (*reconcile.AggregationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[period.Key()]
	if !ok {
		return nil, reconcile.ErrNotFound
	}
	return r, nil
}

func (s *Store) FiscalYears() ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[int]struct{}{}
	for _, r := range s.results {
		seen[r.Period.FiscalYear()] = struct{}{}
	}
	years := make([]int, 0, len(seen))
	for fy := range seen {
		years = append(years, fy)
	}
	sort.Ints(years)
	return years, nil
}

func (s *Store) LoadYear(fiscalYear int) ([]*reconcile.AggregationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*reconcile.AggregationResult
	for _, r := range s.results {
		if r.Period.FiscalYear() == fiscalYear {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	return out, nil
}

// ===== MEMBER RATES =====

func (s *Store) SaveMemberRates(result *reconcile.MemberRateResult, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := result.Period.Key()
	if _, exists := s.rates[key]; exists && !replace {
		return &reconcile.DuplicatePeriodError{Periods: []reconcile.Period{result.Period}}
	}
	s.rates[key] = result
	return nil
}

func (s *Store) LoadMemberRates(period reconcile.Period) (*reconcile.MemberRateResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rates[period.Key()]
	if !ok {
		return nil, reconcile.ErrNotFound
	}
	return r, nil
}

func (s *Store) Close() error { return nil }
