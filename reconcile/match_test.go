package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func testMaster() *MasterIndex {
	return NewMasterIndex([]SchoolEntity{
		{ID: 1, Name: "学校法人青葉学園青葉幼稚園", Attribute: "幼稚園", Branch: "東京支店", Studio: "大塚カラー東京", Manager: "田中"},
		{ID: 2, Name: "中央小学校", Attribute: "小学校", Branch: "東京支店", Studio: "フォト青山", Manager: "佐藤"},
		{ID: 3, Name: "ひばりが丘幼稚園", Attribute: "幼稚園", Branch: "埼玉支店", Studio: "スタジオ彩", Manager: "鈴木"},
		{ID: 4, Name: "高田小学校", Attribute: "小学校", Branch: "埼玉支店", Studio: "スタジオ彩", Manager: "鈴木"},
	}, nil)
}

func rec(name string, amount int64) SalesRecord {
	return SalesRecord{SchoolName: name, Amount: NewMoneyFromInt(amount)}
}

// =============================================================================
// MATCH ORDER
// =============================================================================

func TestMatch_IdentifierWinsOverName(t *testing.T) {
	// GIVEN: A row carrying an identifier and a name pointing at different schools
	// WHEN: Matching
	// THEN: The identifier decides

	m := testMaster()
	res := m.Match(2, "ひばりが丘幼稚園")

	assert.Equal(t, MatchedByID, res.Outcome)
	assert.Equal(t, "中央小学校", res.School.Name)
}

func TestMatch_NormalizedNameFallback(t *testing.T) {
	// GIVEN: A row without an identifier, name decorated with a fiscal-year marker
	// WHEN: Matching
	// THEN: Normalization bridges the gap

	m := testMaster()
	res := m.Match(0, "中央小学校（2024年度）")

	assert.Equal(t, MatchedByName, res.Outcome)
	assert.Equal(t, SchoolID(2), res.School.ID)
}

func TestMatch_MasterNameNormalizedToo(t *testing.T) {
	// The master's own formal name carries a corporate prefix; the export
	// uses the bare operational name.
	m := testMaster()
	res := m.Match(0, "青葉学園青葉幼稚園")

	assert.Equal(t, MatchedByName, res.Outcome)
	assert.Equal(t, SchoolID(1), res.School.ID)
}

func TestMatch_VariantRewriteFallback(t *testing.T) {
	m := testMaster()

	res := m.Match(0, "ひばりヶ丘幼稚園")
	assert.Equal(t, MatchedByVariant, res.Outcome)
	assert.Equal(t, SchoolID(3), res.School.ID)

	// Orthographic variant character
	res = m.Match(0, "髙田小学校")
	assert.Equal(t, MatchedByVariant, res.Outcome)
	assert.Equal(t, SchoolID(4), res.School.ID)
}

func TestMatch_UnmatchedIsTypedResultNotError(t *testing.T) {
	m := testMaster()
	res := m.Match(0, "存在しない学校")

	assert.Equal(t, Unmatched, res.Outcome)
	assert.Nil(t, res.School)
	assert.Equal(t, "存在しない学校", res.RawLabel)
}

func TestMatch_UnknownIdentifierFallsThroughToName(t *testing.T) {
	// GIVEN: An identifier the master does not know but a resolvable name
	// WHEN: Matching
	// THEN: The name fallback still applies

	m := testMaster()
	res := m.Match(999, "中央小学校")

	assert.Equal(t, MatchedByName, res.Outcome)
	assert.Equal(t, SchoolID(2), res.School.ID)
}

// =============================================================================
// BATCH MATCHING
// =============================================================================

func TestMatchBatch_MasterAttributionSupersedesExport(t *testing.T) {
	// GIVEN: An export row whose assignee column disagrees with the master
	// WHEN: Matching the batch
	// THEN: Branch, studio and assignee come from the master row

	m := testMaster()
	records := []SalesRecord{
		{SchoolName: "中央小学校", Assignee: "誰か別の人", Amount: NewMoneyFromInt(1000)},
	}

	matched, unmatched := m.MatchBatch(records)

	require.Len(t, matched, 1)
	assert.Empty(t, unmatched)
	assert.Equal(t, "佐藤", matched[0].Assignee)
	assert.Equal(t, "東京支店", matched[0].Branch)
	assert.Equal(t, "フォト青山", matched[0].Studio)
}

func TestMatchBatch_CollectsAllUnmatchedSortedDeduplicated(t *testing.T) {
	m := testMaster()
	records := []SalesRecord{
		rec("未知の学校B", 100),
		rec("中央小学校", 200),
		rec("未知の学校A", 300),
		rec("未知の学校B", 400),
	}

	matched, unmatched := m.MatchBatch(records)

	assert.Len(t, matched, 1)
	assert.Equal(t, []string{"未知の学校A", "未知の学校B"}, unmatched)
}

func TestMatchEnrollment_BindsCanonicalIdentity(t *testing.T) {
	m := testMaster()
	records := []EnrollmentRecord{
		{SchoolName: "ひばりヶ丘幼稚園", Grade: "年長", MemberCount: 20, TotalCount: 30},
		{SchoolName: "知らない園", Grade: "年少", MemberCount: 1, TotalCount: 2},
	}

	matched, unmatched := m.MatchEnrollment(records)

	require.Len(t, matched, 1)
	assert.Equal(t, SchoolID(3), matched[0].SchoolID)
	assert.Equal(t, "ひばりが丘幼稚園", matched[0].SchoolName)
	assert.Equal(t, []string{"知らない園"}, unmatched)
}
