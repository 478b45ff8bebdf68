/*
workbook.go - Master and enrollment workbook reader

PURPOSE:
  Reads the two XLSX inputs: the school/assignment master sheet and the
  enrollment (member-count) sheet. Both are header-mapped like the CSV
  path, and blank trailing rows are skipped rather than erroring, because
  hand-maintained sheets always have a few.

SEE ALSO:
  - csv.go: The sales export reader these sheets are reconciled against
*/
package ingest

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/schoolphoto/sales-engine/reconcile"
)

// Master sheet headers.
const (
	mcolID        = "学校ID"
	mcolName      = "学校名"
	mcolAttribute = "属性"
	mcolBranch    = "支店"
	mcolStudio    = "スタジオ"
	mcolManager   = "担当者"
)

// Enrollment sheet headers.
const (
	ecolSchoolID = "学校ID"
	ecolSchool   = "学校名"
	ecolGrade    = "学年"
	ecolMembers  = "会員数"
	ecolTotal    = "総数"
)

// ReadMasterWorkbook reads the school master from the named sheet. An empty
// sheet name means the workbook's first sheet.
func ReadMasterWorkbook(r io.Reader, sheet string) ([]reconcile.SchoolEntity, error) {
	rows, err := sheetRows(r, sheet)
	if err != nil {
		return nil, err
	}
	cols, err := headerIndex(rows, mcolName)
	if err != nil {
		return nil, err
	}

	var schools []reconcile.SchoolEntity
	for _, row := range rows[1:] {
		name := cell(row, cols, mcolName)
		if name == "" {
			continue
		}
		entity := reconcile.SchoolEntity{
			Name:      name,
			Attribute: cell(row, cols, mcolAttribute),
			Branch:    cell(row, cols, mcolBranch),
			Studio:    cell(row, cols, mcolStudio),
			Manager:   cell(row, cols, mcolManager),
		}
		if idText := cell(row, cols, mcolID); idText != "" {
			id, err := strconv.ParseInt(idText, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("school %q: invalid id %q", name, idText)
			}
			entity.ID = reconcile.SchoolID(id)
		}
		schools = append(schools, entity)
	}
	return schools, nil
}

// ReadEnrollmentWorkbook reads the member-count sheet.
func ReadEnrollmentWorkbook(r io.Reader, sheet string) ([]reconcile.EnrollmentRecord, error) {
	rows, err := sheetRows(r, sheet)
	if err != nil {
		return nil, err
	}
	cols, err := headerIndex(rows, ecolSchool)
	if err != nil {
		return nil, err
	}

	var records []reconcile.EnrollmentRecord
	for _, row := range rows[1:] {
		name := cell(row, cols, ecolSchool)
		if name == "" {
			continue
		}
		rec := reconcile.EnrollmentRecord{
			SchoolName: name,
			Grade:      cell(row, cols, ecolGrade),
		}
		if idText := cell(row, cols, ecolSchoolID); idText != "" {
			id, err := strconv.ParseInt(idText, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("school %q: invalid id %q", name, idText)
			}
			rec.SchoolID = reconcile.SchoolID(id)
		}
		if rec.MemberCount, err = count(row, cols, ecolMembers, name); err != nil {
			return nil, err
		}
		if rec.TotalCount, err = count(row, cols, ecolTotal, name); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func sheetRows(r io.Reader, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}
	return rows, nil
}

func headerIndex(rows [][]string, required string) (map[string]int, error) {
	cols := map[string]int{}
	for i, name := range rows[0] {
		cols[strings.TrimSpace(name)] = i
	}
	if _, ok := cols[required]; !ok {
		return nil, fmt.Errorf("missing required column %q", required)
	}
	return cols, nil
}

func cell(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func count(row []string, cols map[string]int, name, school string) (int, error) {
	text := strings.ReplaceAll(cell(row, cols, name), ",", "")
	if text == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("school %q: invalid %s %q", school, name, text)
	}
	return n, nil
}
