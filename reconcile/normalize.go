/*
normalize.go - School name normalization and the known-variant table

PURPOSE:
  One shared normalization function applied to both master names and raw
  source labels, so the two sides always meet in the same canonical space.
  A static versioned variant table handles the spellings normalization alone
  cannot: renamed schools and orthographic character variants.

SEE ALSO:
  - match.go:  Uses NormalizeSchoolName + the variant table for lookup
  - master.go: Index keys are normalized names
*/
package reconcile

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

// =============================================================================
// NORMALIZATION
// =============================================================================

var (
	// Corporate-entity prefixes that appear on formal school names but never
	// on the operational labels in sales exports.
	corporatePrefixes = []string{
		"学校法人",
		"社会福祉法人",
		"宗教法人",
		"財団法人",
		"一般財団法人",
		"公益財団法人",
		"社団法人",
		"一般社団法人",
		"株式会社",
		"有限会社",
	}

	// Fiscal-year markers like 「2024年度」 or （令和6年度）, attached before or
	// after the name.
	fiscalYearMarker = regexp.MustCompile(`[（(]?(令和|平成)?\d{1,4}年度[）)]?`)

	// Trailing parenthesized supplements: campus names, grade notes, etc.
	parenSupplement = regexp.MustCompile(`[（(][^（）()]*[）)]\s*$`)

	whitespaceRun = regexp.MustCompile(`[\s　]+`)
)

// NormalizeSchoolName maps a raw school label into the canonical comparison
// space: half-width/full-width folded, corporate prefixes and fiscal-year
// markers removed, trailing parenthesized supplements dropped, whitespace
// collapsed out. Pure; an unrecognizable label simply normalizes to itself.
func NormalizeSchoolName(name string) string {
	s := strings.TrimSpace(name)
	if s == "" {
		return ""
	}

	// Fold width first so the regexps below only see one form of digits
	// and parentheses within kana/kanji text.
	s = width.Fold.String(s)

	s = fiscalYearMarker.ReplaceAllString(s, "")

	for _, prefix := range corporatePrefixes {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}

	// Strip supplements repeatedly: 「X（A）（B）」 carries two.
	for {
		trimmed := parenSupplement.ReplaceAllString(s, "")
		if trimmed == s {
			break
		}
		s = trimmed
	}

	s = whitespaceRun.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// =============================================================================
// KNOWN-VARIANT TABLE
// =============================================================================

// VariantTable rewrites known alternate spellings into the master's spelling.
// Names holds whole-label rewrites (renames, mergers); Runes holds
// orthographic character variants applied anywhere in a label. The table is
// versioned so matcher behavior changes are traceable.
type VariantTable struct {
	Version int
	Names   map[string]string
	Runes   map[rune]rune
}

// defaultVariants is the built-in table. Keys are normalized forms.
var defaultVariants = &VariantTable{
	Version: 3,
	Names: map[string]string{
		"青葉台第二小学校":  "青葉台小学校",
		"ひばりヶ丘幼稚園":  "ひばりが丘幼稚園",
		"みどりの森こども園": "みどりの森認定こども園",
		"桜ケ丘中学校":    "桜が丘中学校",
		"聖メリー学院":    "聖マリア学院",
	},
	Runes: map[rune]rune{
		'髙': '高',
		'﨑': '崎',
		'邊': '辺',
		'邉': '辺',
		'ヶ': 'が',
		'ケ': 'が',
		'檜': '桧',
	},
}

// DefaultVariants returns the built-in variant table.
func DefaultVariants() *VariantTable {
	return defaultVariants
}

// Rewrite maps a normalized name through the table: first the whole-label
// rename map, then character variants. Returns the input unchanged when no
// variant applies.
func (t *VariantTable) Rewrite(normalized string) string {
	if t == nil {
		return normalized
	}
	if mapped, ok := t.Names[normalized]; ok {
		return mapped
	}
	if len(t.Runes) == 0 {
		return normalized
	}
	var changed bool
	out := strings.Map(func(r rune) rune {
		if sub, ok := t.Runes[r]; ok {
			changed = true
			return sub
		}
		return r
	}, normalized)
	if !changed {
		return normalized
	}
	// A character rewrite can land on a renamed label.
	if mapped, ok := t.Names[out]; ok {
		return mapped
	}
	return out
}
