/*
handlers.go - HTTP API handlers for the sales reconciliation engine

PURPOSE:
  Exposes the engine via REST. Handles HTTP request/response and JSON
  serialization, delegates everything else to the reconcile package.

ENDPOINTS:
  Reports:
    POST   /api/reports                  Ingest a sales CSV for one period
    GET    /api/reports/{year}/{month}   Stored period result

  Cumulative:
    GET    /api/years                    Fiscal years with merged periods
    GET    /api/years/{fy}               Year-to-date summary

  Corrections:
    GET    /api/aliases                  List manager aliases
    POST   /api/aliases                  Add alias (retroactive)
    GET    /api/overrides                List manager overrides
    POST   /api/overrides                Add override (retroactive)

  Master:
    GET    /api/master                   List master rows
    PUT    /api/master                   Replace the master snapshot

  Member rates:
    POST   /api/member-rates             Submit an enrollment report
    GET    /api/member-rates/{year}/{month}

ERROR HANDLING:
  - 400: Malformed input, invalid period
  - 404: Missing period/year
  - 409: Duplicate period without replace, overlapping override,
         duplicate alias
  - 422: Unmatched schools (batch rejected, full label list returned)
  - 500: Storage or engine failures

SEE ALSO:
  - dto.go:    Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/schoolphoto/sales-engine/ingest"
	"github.com/schoolphoto/sales-engine/reconcile"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         reconcile.Store
	Corrections   *reconcile.CorrectionSet
	Cumulative    *reconcile.CumulativeStore
	DirectKeyword string
	Log           logrus.FieldLogger

	// master is swapped wholesale on replacement; reads take the lock
	// briefly to grab the current snapshot.
	mu     sync.RWMutex
	master *reconcile.MasterIndex
}

// NewHandler builds a handler and loads engine state from the store:
// master snapshot, correction reference data, and every merged period.
func NewHandler(store reconcile.Store, directKeyword string, log logrus.FieldLogger) (*Handler, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Handler{
		Store:         store,
		Corrections:   reconcile.NewCorrectionSet(),
		Cumulative:    reconcile.NewCumulativeStore(),
		DirectKeyword: directKeyword,
		Log:           log,
	}

	schools, err := store.LoadSchools()
	if err != nil {
		return nil, fmt.Errorf("loading master: %w", err)
	}
	h.master = reconcile.NewMasterIndex(schools, nil)

	aliases, err := store.LoadAliases()
	if err != nil {
		return nil, fmt.Errorf("loading aliases: %w", err)
	}
	for _, alias := range aliases {
		if _, err := h.Corrections.AddAlias(alias.From, alias.To); err != nil {
			log.WithError(err).WithField("from", alias.From).Warn("skipping stored alias")
		}
	}
	overrides, err := store.LoadOverrides()
	if err != nil {
		return nil, fmt.Errorf("loading overrides: %w", err)
	}
	for _, ov := range overrides {
		if err := h.Corrections.AddOverride(ov); err != nil {
			log.WithError(err).WithField("school", ov.School).Warn("skipping stored override")
		}
	}

	if err := h.loadMergedPeriods(); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"schools":   h.master.Len(),
		"aliases":   len(aliases),
		"overrides": len(overrides),
	}).Info("engine state loaded")
	return h, nil
}

// loadMergedPeriods rebuilds the in-memory cumulative store from persisted
// results. Persisted data was validated before it was saved, so duplicate
// errors here would mean store corruption.
func (h *Handler) loadMergedPeriods() error {
	years, err := h.Store.FiscalYears()
	if err != nil {
		return fmt.Errorf("listing fiscal years: %w", err)
	}
	for _, fy := range years {
		results, err := h.Store.LoadYear(fy)
		if err != nil {
			return fmt.Errorf("loading fiscal year %d: %w", fy, err)
		}
		if err := h.Cumulative.MergeAll(results, reconcile.MergeOptions{Replace: true}); err != nil {
			return fmt.Errorf("rebuilding fiscal year %d: %w", fy, err)
		}
	}
	return nil
}

func (h *Handler) masterIndex() *reconcile.MasterIndex {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.master
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// SubmitReport ingests one sales CSV for one period and runs the full
// pipeline. Query params: year, month, replace.
// POST /api/reports
func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	year, month, ok := parsePeriodQuery(w, r)
	if !ok {
		return
	}
	replace := r.URL.Query().Get("replace") == "true"

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 32<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}
	records, err := ingest.ReadSalesCSV(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse sales CSV", err)
		return
	}

	pipeline := &reconcile.Pipeline{
		Master:        h.masterIndex(),
		Corrections:   h.Corrections,
		Cumulative:    h.Cumulative,
		DirectKeyword: h.DirectKeyword,
		Log:           h.Log,
	}
	session, err := pipeline.NewSession(records, reconcile.SessionOptions{
		Year:    year,
		Month:   time.Month(month),
		Replace: replace,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	prev, _ := h.Cumulative.Period(session.Period)
	if err := session.Run(); err != nil {
		writeEngineError(w, err)
		return
	}
	if err := h.Store.SaveResult(session.Result, replace); err != nil {
		// Undo the merge so the in-memory store stays aligned with disk.
		if prev != nil {
			_ = h.Cumulative.Merge(prev, reconcile.MergeOptions{Replace: true})
		} else {
			h.Cumulative.Drop(session.Period)
		}
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toReportDTO(session.Result))
}

// GetReport returns the stored result for one period.
// GET /api/reports/{year}/{month}
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	year, month, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	result, err := h.Store.LoadResult(reconcile.NewPeriod(year, time.Month(month)))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(result))
}

// =============================================================================
// CUMULATIVE HANDLERS
// =============================================================================

// ListYears returns the fiscal years holding merged periods.
// GET /api/years
func (h *Handler) ListYears(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"years": h.Cumulative.Years()})
}

// GetYear returns the year-to-date summary for one fiscal year.
// GET /api/years/{fy}
func (h *Handler) GetYear(w http.ResponseWriter, r *http.Request) {
	fy, err := strconv.Atoi(chi.URLParam(r, "fy"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fiscal year", err)
		return
	}
	summary, err := h.Cumulative.Year(fy)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toYearSummaryDTO(summary))
}

// =============================================================================
// CORRECTION HANDLERS
// =============================================================================

// ListAliases returns all manager aliases.
// GET /api/aliases
func (h *Handler) ListAliases(w http.ResponseWriter, r *http.Request) {
	dtos := []AliasDTO{}
	for _, alias := range h.Corrections.Aliases() {
		dtos = append(dtos, AliasDTO{
			From:      alias.From,
			To:        alias.To,
			CreatedAt: alias.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAlias adds a manager alias and retroactively refreshes every stored
// period the change makes stale.
// POST /api/aliases
func (h *Handler) CreateAlias(w http.ResponseWriter, r *http.Request) {
	var req AliasDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	alias, err := h.Corrections.AddAlias(req.From, req.To)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := h.Store.SaveAlias(alias); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to persist alias", err)
		return
	}
	h.reapplyCorrections()
	writeJSON(w, http.StatusCreated, AliasDTO{
		From:      alias.From,
		To:        alias.To,
		CreatedAt: alias.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// ListOverrides returns all school-manager overrides.
// GET /api/overrides
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	dtos := []OverrideDTO{}
	for _, ov := range h.Corrections.Overrides() {
		dtos = append(dtos, OverrideDTO{
			SchoolID:   int64(ov.School),
			FiscalYear: ov.FiscalYear,
			StartMonth: int(ov.StartMonth),
			EndMonth:   int(ov.EndMonth),
			Manager:    ov.Manager,
			Original:   ov.Original,
			CreatedAt:  ov.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateOverride adds a school-manager override and retroactively refreshes
// stale stored periods.
// POST /api/overrides
func (h *Handler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ov := reconcile.SchoolManagerOverride{
		School:     reconcile.SchoolID(req.SchoolID),
		FiscalYear: req.FiscalYear,
		StartMonth: time.Month(req.StartMonth),
		EndMonth:   time.Month(req.EndMonth),
		Manager:    req.Manager,
	}
	if school := h.masterIndex().ByID(ov.School); school != nil {
		ov.Original = school.Manager
	}
	if err := h.Corrections.AddOverride(ov); err != nil {
		writeEngineError(w, err)
		return
	}
	if err := h.Store.SaveOverride(ov); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to persist override", err)
		return
	}
	h.reapplyCorrections()
	writeJSON(w, http.StatusCreated, req)
}

// reapplyCorrections refreshes stale cumulative snapshots and persists the
// refreshed periods. Persistence failures are logged, not returned: the
// correction itself is already saved and the refresh will rerun at the next
// mutation or restart.
func (h *Handler) reapplyCorrections() {
	refreshed := h.Cumulative.Reapply(h.Corrections)
	if refreshed == 0 {
		return
	}
	for _, fy := range h.Cumulative.Years() {
		summary, err := h.Cumulative.Year(fy)
		if err != nil {
			continue
		}
		for _, p := range summary.Periods {
			result, err := h.Cumulative.Period(p)
			if err != nil {
				continue
			}
			if err := h.Store.SaveResult(result, true); err != nil {
				h.Log.WithError(err).WithField("period", p.Key()).
					Error("failed to persist refreshed period")
			}
		}
	}
	h.Log.WithField("periods", refreshed).Info("corrections reapplied")
}

// =============================================================================
// MASTER HANDLERS
// =============================================================================

// ListMaster returns the current master snapshot.
// GET /api/master
func (h *Handler) ListMaster(w http.ResponseWriter, r *http.Request) {
	dtos := []SchoolDTO{}
	for _, school := range h.masterIndex().Schools() {
		dtos = append(dtos, SchoolDTO{
			SchoolID:  int64(school.ID),
			Name:      school.Name,
			Attribute: school.Attribute,
			Branch:    school.Branch,
			Studio:    school.Studio,
			Manager:   school.Manager,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReplaceMaster swaps the master snapshot wholesale.
// PUT /api/master
func (h *Handler) ReplaceMaster(w http.ResponseWriter, r *http.Request) {
	var req ReplaceMasterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	schools := make([]reconcile.SchoolEntity, 0, len(req.Schools))
	for _, dto := range req.Schools {
		if dto.Name == "" {
			writeError(w, http.StatusBadRequest, "School name must not be empty", nil)
			return
		}
		schools = append(schools, reconcile.SchoolEntity{
			ID:        reconcile.SchoolID(dto.SchoolID),
			Name:      dto.Name,
			Attribute: dto.Attribute,
			Branch:    dto.Branch,
			Studio:    dto.Studio,
			Manager:   dto.Manager,
		})
	}
	if err := h.Store.ReplaceSchools(schools); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to persist master", err)
		return
	}

	h.mu.Lock()
	h.master = reconcile.NewMasterIndex(schools, nil)
	h.mu.Unlock()

	h.Log.WithField("schools", len(schools)).Info("master replaced")
	writeJSON(w, http.StatusOK, map[string]any{"schools": len(schools)})
}

// =============================================================================
// MEMBER-RATE HANDLERS
// =============================================================================

// SubmitMemberRates computes and stores the rate table for one enrollment
// report.
// POST /api/member-rates
func (h *Handler) SubmitMemberRates(w http.ResponseWriter, r *http.Request) {
	var req SubmitMemberRatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Month < 1 || req.Month > 12 || req.Year < 2000 {
		writeError(w, http.StatusBadRequest, "Invalid period", reconcile.ErrInvalidPeriod)
		return
	}

	records := make([]reconcile.EnrollmentRecord, 0, len(req.Records))
	for _, row := range req.Records {
		records = append(records, reconcile.EnrollmentRecord{
			SchoolID:    reconcile.SchoolID(row.SchoolID),
			SchoolName:  row.SchoolName,
			Grade:       row.Grade,
			MemberCount: row.MemberCount,
			TotalCount:  row.TotalCount,
		})
	}

	period := reconcile.NewPeriod(req.Year, time.Month(req.Month))
	result, err := reconcile.ComputeRates(records, h.masterIndex(), period)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := h.Store.SaveMemberRates(result, req.Replace); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberRatesDTO(result))
}

// GetMemberRates returns the stored rate table for one period.
// GET /api/member-rates/{year}/{month}
func (h *Handler) GetMemberRates(w http.ResponseWriter, r *http.Request) {
	year, month, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	result, err := h.Store.LoadMemberRates(reconcile.NewPeriod(year, time.Month(month)))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberRatesDTO(result))
}

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func parsePeriodQuery(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid or missing year", err)
		return 0, 0, false
	}
	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "Invalid or missing month", err)
		return 0, 0, false
	}
	return year, month, true
}

func parsePeriodPath(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return 0, 0, false
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return 0, 0, false
	}
	return year, month, true
}

// writeEngineError maps engine errors to HTTP statuses with their full
// context (labels, periods) preserved in the response body.
func writeEngineError(w http.ResponseWriter, err error) {
	var mismatch *reconcile.SchoolMasterMismatchError
	if errors.As(err, &mismatch) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "Batch rejected: schools not found in master",
			Labels: mismatch.Labels,
		})
		return
	}
	var dup *reconcile.DuplicatePeriodError
	if errors.As(err, &dup) {
		keys := make([]string, len(dup.Periods))
		for i, p := range dup.Periods {
			keys[i] = p.Key()
		}
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "Period already merged; set replace=true to overwrite",
			Periods: keys,
		})
		return
	}
	switch {
	case errors.Is(err, reconcile.ErrOverlappingOverride),
		errors.Is(err, reconcile.ErrDuplicateAlias):
		writeError(w, http.StatusConflict, "Correction conflicts with existing data", err)
	case errors.Is(err, reconcile.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, "Invalid period", err)
	case errors.Is(err, reconcile.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
