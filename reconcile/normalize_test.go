package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSchoolName_StripsCorporatePrefix(t *testing.T) {
	// GIVEN: A formal master name with a corporate prefix
	// WHEN: Normalizing
	// THEN: The prefix is gone and the operational name remains

	assert.Equal(t, "青葉学園幼稚園", NormalizeSchoolName("学校法人青葉学園幼稚園"))
	assert.Equal(t, "ひかり保育園", NormalizeSchoolName("社会福祉法人ひかり保育園"))
}

func TestNormalizeSchoolName_StripsFiscalYearMarkers(t *testing.T) {
	assert.Equal(t, "中央小学校", NormalizeSchoolName("中央小学校（2024年度）"))
	assert.Equal(t, "中央小学校", NormalizeSchoolName("（令和6年度）中央小学校"))
	// Full-width digits fold before the marker regexp runs
	assert.Equal(t, "中央小学校", NormalizeSchoolName("中央小学校（２０２４年度）"))
}

func TestNormalizeSchoolName_StripsParenthesizedSupplements(t *testing.T) {
	assert.Equal(t, "第一中学校", NormalizeSchoolName("第一中学校（本校舎）"))
	// Stacked supplements all come off
	assert.Equal(t, "第一中学校", NormalizeSchoolName("第一中学校（本校舎）（3年）"))
}

func TestNormalizeSchoolName_CollapsesWhitespaceAndWidth(t *testing.T) {
	assert.Equal(t, "さくら幼稚園", NormalizeSchoolName("  さくら 幼稚園 "))
	assert.Equal(t, "さくら幼稚園", NormalizeSchoolName("さくら　幼稚園"))
}

func TestNormalizeSchoolName_EmptyAndUnrecognizable(t *testing.T) {
	assert.Equal(t, "", NormalizeSchoolName("   "))
	// A label nothing applies to normalizes to itself
	assert.Equal(t, "みなと小学校", NormalizeSchoolName("みなと小学校"))
}

func TestVariantTable_WholeNameRewrite(t *testing.T) {
	table := DefaultVariants()
	assert.Equal(t, "青葉台小学校", table.Rewrite("青葉台第二小学校"))
}

func TestVariantTable_CharacterVariants(t *testing.T) {
	table := DefaultVariants()

	assert.Equal(t, "高田小学校", table.Rewrite("髙田小学校"))
	assert.Equal(t, "松が丘中学校", table.Rewrite("松ヶ丘中学校"))
	// No variant present: input returned unchanged
	assert.Equal(t, "中央小学校", table.Rewrite("中央小学校"))
}

func TestVariantTable_CharacterRewriteReachesRenamedLabel(t *testing.T) {
	// GIVEN: A label that only matches a rename after character folding
	// WHEN: Rewriting
	// THEN: Both rewrites apply in one pass

	table := DefaultVariants()
	assert.Equal(t, "桜が丘中学校", table.Rewrite("桜ヶ丘中学校"))
}

func TestVariantTable_NilTableIsIdentity(t *testing.T) {
	var table *VariantTable
	assert.Equal(t, "中央小学校", table.Rewrite("中央小学校"))
}
