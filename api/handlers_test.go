package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolphoto/sales-engine/reconcile"
	"github.com/schoolphoto/sales-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const salesHeader = "学校ID,学校名,担当者,スタジオ,イベント名,撮影日,小計,うち消費税,ステータス,商品名\n"

func seedMaster(t *testing.T, store reconcile.MasterStore) {
	t.Helper()
	require.NoError(t, store.ReplaceSchools([]reconcile.SchoolEntity{
		{ID: 1, Name: "青葉幼稚園", Attribute: "幼稚園", Branch: "東京支店", Studio: "大塚カラー東京", Manager: "田中"},
		{ID: 2, Name: "中央小学校", Attribute: "小学校", Branch: "東京支店", Studio: "フォト青山", Manager: "佐藤"},
		{ID: 4, Name: "高田小学校", Attribute: "小学校", Branch: "埼玉支店", Studio: "スタジオ彩", Manager: "鈴木"},
	}))
}

func serverFor(t *testing.T, store reconcile.Store) *httptest.Server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	h, err := NewHandler(store, reconcile.DefaultDirectKeyword, log)
	require.NoError(t, err)
	ts := httptest.NewServer(NewRouter(h))
	t.Cleanup(ts.Close)
	return ts
}

func testServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	seedMaster(t, store)
	return serverFor(t, store), store
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func submitCSV(t *testing.T, ts *httptest.Server, query, csv string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/reports?"+query, "text/csv", strings.NewReader(csv))
	require.NoError(t, err)
	return resp
}

// =============================================================================
// REPORTS
// =============================================================================

func TestAPI_SubmitReport(t *testing.T) {
	// GIVEN: A clean June export with one direct and one studio row
	// WHEN: Submitting
	// THEN: 201 with the aggregated report

	ts, _ := testServer(t)
	csv := salesHeader +
		"1,青葉幼稚園,田中,大塚カラー東京,入園式,2025/06/02,5000,0,確定,スナップ写真\n" +
		"2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,\"11,000\",\"1,000\",確定,スナップ写真\n"

	resp := submitCSV(t, ts, "year=2025&month=6", csv)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	report := decodeBody[ReportDTO](t, resp)
	assert.Equal(t, "2025-06", report.Period)
	assert.Equal(t, 2025, report.FiscalYear)
	assert.Equal(t, int64(15000), report.Total)
	assert.Equal(t, int64(5000), report.DirectSales)
	assert.Equal(t, int64(10000), report.StudioSales)
	assert.Equal(t, 2, report.SchoolCount)
	require.NotNil(t, report.AveragePerSchool)
	assert.Equal(t, int64(7500), *report.AveragePerSchool)

	// The result is also queryable
	resp2, err := http.Get(ts.URL + "/api/reports/2025/6")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	stored := decodeBody[ReportDTO](t, resp2)
	assert.Equal(t, report.Total, stored.Total)
}

func TestAPI_SubmitReport_UnmatchedSchoolsRejected(t *testing.T) {
	ts, _ := testServer(t)
	csv := salesHeader +
		"2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,1000,0,確定,スナップ写真\n" +
		",未知の学校,誰か,どこか,遠足,2025/06/10,500,0,確定,スナップ写真\n"

	resp := submitCSV(t, ts, "year=2025&month=6", csv)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, []string{"未知の学校"}, errResp.Labels)

	// Fail-closed: nothing was stored
	resp2, err := http.Get(ts.URL + "/api/reports/2025/6")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestAPI_SubmitReport_DuplicatePeriod(t *testing.T) {
	ts, _ := testServer(t)
	csv := salesHeader +
		"2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,1000,0,確定,スナップ写真\n"

	resp := submitCSV(t, ts, "year=2025&month=6", csv)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = submitCSV(t, ts, "year=2025&month=6", csv)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, []string{"2025-06"}, errResp.Periods)

	// Explicit replace goes through
	resp = submitCSV(t, ts, "year=2025&month=6&replace=true", salesHeader+
		"2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,2000,0,確定,スナップ写真\n")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	report := decodeBody[ReportDTO](t, resp)
	assert.Equal(t, int64(2000), report.Total)
}

func TestAPI_SubmitReport_BadPeriod(t *testing.T) {
	ts, _ := testServer(t)
	resp := submitCSV(t, ts, "year=2025&month=13", salesHeader)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// CUMULATIVE
// =============================================================================

func TestAPI_YearSummary(t *testing.T) {
	ts, _ := testServer(t)

	apr := salesHeader + "2,中央小学校,佐藤,フォト青山,入学式,2025/04/08,1000,0,確定,スナップ写真\n"
	may := salesHeader + "2,中央小学校,佐藤,フォト青山,遠足,2025/05/12,2000,0,確定,スナップ写真\n"
	submitCSV(t, ts, "year=2025&month=4", apr).Body.Close()
	submitCSV(t, ts, "year=2025&month=5", may).Body.Close()

	resp, err := http.Get(ts.URL + "/api/years")
	require.NoError(t, err)
	years := decodeBody[map[string][]int](t, resp)
	assert.Equal(t, []int{2025}, years["years"])

	resp, err = http.Get(ts.URL + "/api/years/2025")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decodeBody[YearSummaryDTO](t, resp)
	assert.Equal(t, []string{"2025-04", "2025-05"}, summary.Periods)
	assert.Equal(t, int64(3000), summary.Total)
	require.Len(t, summary.Schools, 1)
	assert.Equal(t, 2, summary.Schools[0].Months)

	resp, err = http.Get(ts.URL + "/api/years/2031")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// CORRECTIONS
// =============================================================================

func TestAPI_AliasReappliesRetroactively(t *testing.T) {
	// GIVEN: June already merged under 佐藤
	// WHEN: Adding the alias 佐藤 to 高橋
	// THEN: The stored June report carries the new name

	ts, store := testServer(t)
	csv := salesHeader + "2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,1000,0,確定,スナップ写真\n"
	submitCSV(t, ts, "year=2025&month=6", csv).Body.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/aliases", AliasDTO{From: "佐藤", To: "高橋"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp2, err := http.Get(ts.URL + "/api/reports/2025/6")
	require.NoError(t, err)
	report := decodeBody[ReportDTO](t, resp2)
	require.Len(t, report.Assignees, 1)
	assert.Equal(t, "高橋", report.Assignees[0].Label)
	assert.Equal(t, int64(1000), report.Total)

	// Persisted too, not just the in-memory snapshot
	aliases, err := store.LoadAliases()
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Equal(t, "高橋", aliases[0].To)

	// Duplicates are refused
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/aliases", AliasDTO{From: "佐藤", To: "山本"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_OverrideConflict(t *testing.T) {
	ts, _ := testServer(t)

	ov := OverrideDTO{SchoolID: 2, FiscalYear: 2025, StartMonth: 6, EndMonth: 9, Manager: "山田"}
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/overrides", ov)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Overlapping window for the same school and fiscal year
	overlap := OverrideDTO{SchoolID: 2, FiscalYear: 2025, StartMonth: 8, EndMonth: 11, Manager: "中村"}
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/overrides", overlap)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err := http.Get(ts.URL + "/api/overrides")
	require.NoError(t, err)
	overrides := decodeBody[[]OverrideDTO](t, resp)
	require.Len(t, overrides, 1)
	assert.Equal(t, "山田", overrides[0].Manager)
	// Original captured from the master
	assert.Equal(t, "佐藤", overrides[0].Original)
}

// =============================================================================
// MASTER
// =============================================================================

func TestAPI_ReplaceMaster(t *testing.T) {
	ts, store := testServer(t)

	req := ReplaceMasterRequest{Schools: []SchoolDTO{
		{SchoolID: 9, Name: "新設小学校", Branch: "大阪支店", Studio: "スタジオ浪速", Manager: "木村"},
	}}
	resp := doJSON(t, http.MethodPut, ts.URL+"/api/master", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/master")
	require.NoError(t, err)
	schools := decodeBody[[]SchoolDTO](t, resp)
	require.Len(t, schools, 1)
	assert.Equal(t, "新設小学校", schools[0].Name)

	persisted, err := store.LoadSchools()
	require.NoError(t, err)
	assert.Len(t, persisted, 1)

	// The new snapshot is what matching runs against
	csv := salesHeader + "9,新設小学校,木村,スタジオ浪速,運動会,2025/06/05,1000,0,確定,スナップ写真\n"
	resp = submitCSV(t, ts, "year=2025&month=6", csv)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestAPI_ReplaceMaster_EmptyNameRejected(t *testing.T) {
	ts, _ := testServer(t)
	req := ReplaceMasterRequest{Schools: []SchoolDTO{{SchoolID: 9}}}
	resp := doJSON(t, http.MethodPut, ts.URL+"/api/master", req)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// MEMBER RATES
// =============================================================================

func TestAPI_MemberRates(t *testing.T) {
	ts, _ := testServer(t)

	req := SubmitMemberRatesRequest{
		Year:  2025,
		Month: 6,
		Records: []EnrollmentRowDTO{
			{SchoolName: "中央小学校", Grade: "1年", MemberCount: 25, TotalCount: 100},
			{SchoolName: "中央小学校", Grade: "特別", MemberCount: 0, TotalCount: 0},
		},
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/member-rates", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rates := decodeBody[MemberRatesDTO](t, resp)
	require.Len(t, rates.Rates, 2)
	require.NotNil(t, rates.Rates[0].Rate)
	assert.Equal(t, "0.25", *rates.Rates[0].Rate)
	assert.Nil(t, rates.Rates[1].Rate)

	resp2, err := http.Get(ts.URL + "/api/member-rates/2025/6")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	stored := decodeBody[MemberRatesDTO](t, resp2)
	assert.Equal(t, "2025-06", stored.Period)

	// Unmatched enrollment rows reject the whole report
	bad := SubmitMemberRatesRequest{Year: 2025, Month: 7, Records: []EnrollmentRowDTO{
		{SchoolName: "未知の学校", Grade: "1年", MemberCount: 1, TotalCount: 2},
	}}
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/member-rates", bad)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, []string{"未知の学校"}, errResp.Labels)
}

// =============================================================================
// STARTUP
// =============================================================================

func TestAPI_StateReloadedOnRestart(t *testing.T) {
	// GIVEN: A store holding a merged period and an alias
	// WHEN: Building a fresh handler on it
	// THEN: Cumulative queries work without resubmitting anything

	ts, store := testServer(t)
	csv := salesHeader + "2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,1000,0,確定,スナップ写真\n"
	submitCSV(t, ts, "year=2025&month=6", csv).Body.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)
	h2, err := NewHandler(store, reconcile.DefaultDirectKeyword, log)
	require.NoError(t, err)

	ts2 := httptest.NewServer(NewRouter(h2))
	defer ts2.Close()

	resp, err := http.Get(ts2.URL + "/api/years/2025")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decodeBody[YearSummaryDTO](t, resp)
	assert.Equal(t, int64(1000), summary.Total)
}

func TestAPI_OldFiscalYearsSurviveRestart(t *testing.T) {
	// GIVEN: A store holding periods decades apart
	// WHEN: Building a fresh handler on it
	// THEN: Every stored fiscal year is listed, however old

	ts, store := testServer(t)
	old := salesHeader + "2,中央小学校,佐藤,フォト青山,運動会,2008/10/05,1000,0,確定,スナップ写真\n"
	recent := salesHeader + "2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,2000,0,確定,スナップ写真\n"
	submitCSV(t, ts, "year=2008&month=10", old).Body.Close()
	submitCSV(t, ts, "year=2025&month=6", recent).Body.Close()

	ts2 := serverFor(t, store)

	resp, err := http.Get(ts2.URL + "/api/years")
	require.NoError(t, err)
	years := decodeBody[map[string][]int](t, resp)
	assert.Equal(t, []int{2008, 2025}, years["years"])

	resp, err = http.Get(ts2.URL + "/api/years/2008")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decodeBody[YearSummaryDTO](t, resp)
	assert.Equal(t, int64(1000), summary.Total)
}

// =============================================================================
// PERSISTENCE FAILURES
// =============================================================================

// failingSaveStore refuses result writes while fail is set.
type failingSaveStore struct {
	*memory.Store
	fail bool
}

func (s *failingSaveStore) SaveResult(result *reconcile.AggregationResult, replace bool) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.SaveResult(result, replace)
}

func TestAPI_SaveFailureRollsBackMerge(t *testing.T) {
	// GIVEN: A store whose result writes fail
	// WHEN: Submitting a report
	// THEN: 500, the period is not queryable, and once writes recover the
	//       same period submits cleanly instead of conflicting

	store := &failingSaveStore{Store: memory.New(), fail: true}
	seedMaster(t, store)
	ts := serverFor(t, store)

	csv := salesHeader + "2,中央小学校,佐藤,フォト青山,運動会,2025/06/05,1000,0,確定,スナップ写真\n"
	resp := submitCSV(t, ts, "year=2025&month=6", csv)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// The in-memory state matches the (unwritten) disk state
	resp, err := http.Get(ts.URL + "/api/reports/2025/6")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/years")
	require.NoError(t, err)
	years := decodeBody[map[string][]int](t, resp)
	assert.Empty(t, years["years"])

	store.fail = false
	resp = submitCSV(t, ts, "year=2025&month=6", csv)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	report := decodeBody[ReportDTO](t, resp)
	assert.Equal(t, int64(1000), report.Total)
}
