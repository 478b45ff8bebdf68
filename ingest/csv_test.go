package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
)

const salesHeader = "学校ID,学校名,担当者,スタジオ,イベント名,撮影日,小計,うち消費税,ステータス,商品名\n"

func TestReadSalesCSV_ParsesRowsWithNetAmount(t *testing.T) {
	// GIVEN: A row with subtotal 11,000 including 1,000 yen tax
	// WHEN: Parsing
	// THEN: The record amount is the net 10,000

	csv := salesHeader +
		"2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,\"11,000\",\"1,000\",確定,スナップ写真\n"

	records, err := ReadSalesCSV([]byte(csv))
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, int64(2), int64(r.SchoolID))
	assert.Equal(t, "中央小学校", r.SchoolName)
	assert.Equal(t, "運動会", r.EventName)
	assert.Equal(t, time.Date(2025, time.June, 5, 0, 0, 0, 0, time.UTC), r.EventDate)
	assert.Equal(t, int64(10000), r.Amount.Yen())
}

func TestReadSalesCSV_FiltersCancelledAndExcludedProduct(t *testing.T) {
	csv := salesHeader +
		"2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,1000,0,確定,スナップ写真\n" +
		"2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,2000,0,キャンセル済み,スナップ写真\n" +
		"2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,3000,0,自動キャンセル,スナップ写真\n" +
		"2,中央小学校,佐藤,フォト青山,卒業式,2025/03/10,4000,0,確定,卒業・卒園アルバム アルバム（学校納品）\n"

	records, err := ReadSalesCSV([]byte(csv))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1000), records[0].Amount.Yen())
}

func TestReadSalesCSV_HeaderMappedColumnOrder(t *testing.T) {
	// Columns reordered by an upstream release: header names still win.
	csv := "小計,学校名,うち消費税\n500,中央小学校,0\n"

	records, err := ReadSalesCSV([]byte(csv))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "中央小学校", records[0].SchoolName)
	assert.Equal(t, int64(500), records[0].Amount.Yen())
	assert.Equal(t, int64(0), int64(records[0].SchoolID))
	assert.True(t, records[0].EventDate.IsZero())
}

func TestReadSalesCSV_MissingRequiredColumn(t *testing.T) {
	_, err := ReadSalesCSV([]byte("学校名,担当者\n中央小学校,佐藤\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "小計")
}

func TestReadSalesCSV_MalformedAmountNamesRow(t *testing.T) {
	csv := salesHeader +
		"2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,1000,0,確定,スナップ写真\n" +
		"2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,abc,0,確定,スナップ写真\n"

	_, err := ReadSalesCSV([]byte(csv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 3")
}

func TestReadSalesCSV_SkipsBlankRows(t *testing.T) {
	csv := salesHeader +
		"2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,1000,0,確定,スナップ写真\n" +
		",,,,,,,,,\n"

	records, err := ReadSalesCSV([]byte(csv))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestReadSalesCSV_ShiftJISExport(t *testing.T) {
	// GIVEN: The whole export encoded as Shift-JIS
	// WHEN: Parsing
	// THEN: Decoding happens transparently before the CSV reader

	utf8CSV := salesHeader +
		"2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,1000,0,確定,スナップ写真\n"
	sjis, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(utf8CSV))
	require.NoError(t, err)

	records, err := ReadSalesCSV(sjis)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "中央小学校", records[0].SchoolName)
}

func TestReadSalesCSV_CurrencySignsAndSpaces(t *testing.T) {
	csv := "学校名,小計,うち消費税\n中央小学校,¥1500,¥0\n"

	records, err := ReadSalesCSV([]byte(csv))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1500), records[0].Amount.Yen())
}

func TestReadSalesCSV_EmptyTaxMeansZero(t *testing.T) {
	csv := "学校名,小計,うち消費税\n中央小学校,1000,\n"
	records, err := ReadSalesCSV([]byte(csv))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), records[0].Amount.Yen())
}

func TestReadSalesCSV_HeaderOnly(t *testing.T) {
	records, err := ReadSalesCSV([]byte(strings.TrimSuffix(salesHeader, "\n")))
	require.NoError(t, err)
	assert.Empty(t, records)
}
