/*
csv.go - Sales CSV reader

PURPOSE:
  Parses the monthly sales export into SalesRecord rows. Columns are located
  by header name, not position, because the upstream export reorders columns
  between releases. Rows are filtered before they ever reach aggregation:
  cancelled orders and the school-delivered graduation-album product are not
  sales. The row amount is the net amount, subtotal minus the contained tax.

SEE ALSO:
  - decode.go: Encoding normalization applied to the raw bytes first
*/
package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/schoolphoto/sales-engine/reconcile"
)

// Export column headers.
const (
	colSchoolID  = "学校ID"
	colSchool    = "学校名"
	colAssignee  = "担当者"
	colStudio    = "スタジオ"
	colEvent     = "イベント名"
	colEventDate = "撮影日"
	colSubtotal  = "小計"
	colTax       = "うち消費税"
	colStatus    = "ステータス"
	colProduct   = "商品名"
)

// excludeStatuses marks rows that never count as sales.
var excludeStatuses = map[string]struct{}{
	"キャンセル済み": {},
	"自動キャンセル": {},
}

// excludeProducts marks products settled outside this ledger.
var excludeProducts = map[string]struct{}{
	"卒業・卒園アルバム アルバム（学校納品）": {},
}

var eventDateLayouts = []string{"2006/01/02", "2006-01-02", "2006/1/2"}

// ReadSalesCSV decodes and parses one sales export. Rows failing the
// status/product filters are dropped silently; a malformed amount or date
// is an error carrying the 1-based row number.
func ReadSalesCSV(raw []byte) ([]reconcile.SalesRecord, error) {
	decoded, err := DecodeText(raw)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(decoded))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{colSchool, colSubtotal} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}
	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []reconcile.SalesRecord
	for rowNum := 2; ; rowNum++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}
		if len(row) == 0 {
			continue
		}

		if _, skip := excludeStatuses[field(row, colStatus)]; skip {
			continue
		}
		if _, skip := excludeProducts[field(row, colProduct)]; skip {
			continue
		}
		if field(row, colSchool) == "" && field(row, colSubtotal) == "" {
			continue
		}

		subtotal, err := parseAmount(field(row, colSubtotal))
		if err != nil {
			return nil, fmt.Errorf("row %d: subtotal: %w", rowNum, err)
		}
		tax, err := parseAmount(field(row, colTax))
		if err != nil {
			return nil, fmt.Errorf("row %d: tax: %w", rowNum, err)
		}

		rec := reconcile.SalesRecord{
			SchoolName: field(row, colSchool),
			Assignee:   field(row, colAssignee),
			Studio:     field(row, colStudio),
			EventName:  field(row, colEvent),
			Amount:     subtotal.Sub(tax),
		}
		if idText := field(row, colSchoolID); idText != "" {
			id, err := strconv.ParseInt(idText, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: school id %q: %w", rowNum, idText, err)
			}
			rec.SchoolID = reconcile.SchoolID(id)
		}
		if dateText := field(row, colEventDate); dateText != "" {
			date, err := parseEventDate(dateText)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", rowNum, err)
			}
			rec.EventDate = date
		}
		records = append(records, rec)
	}
	return records, nil
}

// parseAmount reads a yen amount as exported: optional currency sign,
// thousands separators, occasionally a decimal fraction. Empty is zero.
func parseAmount(text string) (reconcile.Money, error) {
	cleaned := strings.NewReplacer(",", "", "¥", "", "￥", "", " ", "").Replace(text)
	if cleaned == "" {
		return reconcile.ZeroMoney(), nil
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return reconcile.ZeroMoney(), fmt.Errorf("invalid amount %q", text)
	}
	return reconcile.NewMoney(value), nil
}

func parseEventDate(text string) (time.Time, error) {
	for _, layout := range eventDateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid event date %q", text)
}
