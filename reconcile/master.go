/*
master.go - School master snapshot and lookup index

PURPOSE:
  SchoolEntity is the canonical row for one school: identifier, display name,
  attribute (kindergarten / elementary / ...), owning branch, studio, and the
  assigned manager. MasterIndex is an immutable snapshot of the master with
  the lookup maps the entity matcher needs: by identifier and by normalized
  name (with variant rewrites folded in at build time).

SEE ALSO:
  - match.go:     Consumes the index
  - normalize.go: The normalization the index keys live in
*/
package reconcile

// SchoolID identifies a school in the master. Zero means "no identifier on
// the source row".
type SchoolID int64

// SchoolEntity is one canonical master row.
type SchoolEntity struct {
	ID        SchoolID
	Name      string
	Attribute string
	Branch    string
	Studio    string
	Manager   string
}

// MasterIndex is a read-only lookup structure over a master snapshot. Build
// it once per batch; concurrent reads need no locking.
type MasterIndex struct {
	byID   map[SchoolID]*SchoolEntity
	byName map[string]*SchoolEntity
	order  []*SchoolEntity
	table  *VariantTable
}

// NewMasterIndex builds the index. Name keys are normalized, and every
// known-variant spelling that rewrites onto a master name becomes an
// additional key, so variant labels resolve without a second lookup pass.
// On duplicate normalized names the first master row wins.
func NewMasterIndex(schools []SchoolEntity, table *VariantTable) *MasterIndex {
	if table == nil {
		table = DefaultVariants()
	}
	idx := &MasterIndex{
		byID:   make(map[SchoolID]*SchoolEntity, len(schools)),
		byName: make(map[string]*SchoolEntity, len(schools)),
		order:  make([]*SchoolEntity, 0, len(schools)),
		table:  table,
	}
	for i := range schools {
		s := schools[i]
		entity := &s
		idx.order = append(idx.order, entity)
		if s.ID != 0 {
			if _, exists := idx.byID[s.ID]; !exists {
				idx.byID[s.ID] = entity
			}
		}
		key := NormalizeSchoolName(s.Name)
		if key == "" {
			continue
		}
		if _, exists := idx.byName[key]; !exists {
			idx.byName[key] = entity
		}
		// Index the variant-rewritten form too: a master row whose own
		// spelling uses a variant character must still be reachable from
		// the canonical spelling.
		if alt := table.Rewrite(key); alt != key {
			if _, exists := idx.byName[alt]; !exists {
				idx.byName[alt] = entity
			}
		}
	}
	return idx
}

// ByID returns the master row for an identifier, or nil.
func (m *MasterIndex) ByID(id SchoolID) *SchoolEntity {
	return m.byID[id]
}

// ByName returns the master row whose normalized name equals the already
// normalized key, or nil.
func (m *MasterIndex) ByName(normalized string) *SchoolEntity {
	return m.byName[normalized]
}

// Schools returns the snapshot rows in master order.
func (m *MasterIndex) Schools() []*SchoolEntity {
	return m.order
}

// Variants returns the variant table the index was built with.
func (m *MasterIndex) Variants() *VariantTable {
	return m.table
}

// Len returns the number of master rows.
func (m *MasterIndex) Len() int {
	return len(m.order)
}
