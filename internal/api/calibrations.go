package api

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"strconv"

	"github.com/MikeSquared-Agency/RailKPI/internal/calibration"
	"github.com/MikeSquared-Agency/RailKPI/internal/fitting"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

type CalibrationsHandler struct {
	svc       *calibration.Service
	store     store.Store
	surveyDir string
}

func NewCalibrationsHandler(svc *calibration.Service, s store.Store, surveyDir string) *CalibrationsHandler {
	return &CalibrationsHandler{svc: svc, store: s, surveyDir: surveyDir}
}

// CalibrationResponse is an Outcome plus the dropped-row count of a CSV
// upload.
type CalibrationResponse struct {
	*calibration.Outcome
	Dropped int `json:"dropped,omitempty"`
}

// Create fits one key. The body is either JSON (a calibration.Job) or a
// survey CSV with rail_type, kpi, model_type and dry_run in the query string.
// A failed fit answers 422 with the recorded run, including a CSV whose rows
// were all dropped.
func (h *CalibrationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	job, dropped, ok := h.readJob(w, r)
	if !ok {
		return
	}

	out, err := h.svc.Calibrate(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := CalibrationResponse{Outcome: out, Dropped: dropped}
	switch {
	case out.Failure != nil:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  out.Failure.Error(),
			"reason": out.Failure.Reason,
			"run":    out.Run,
		})
	case out.Persisted:
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *CalibrationsHandler) readJob(w http.ResponseWriter, r *http.Request) (calibration.Job, int, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "text/csv" {
		var job calibration.Job
		if !decodeJSON(w, r, &job) {
			return job, 0, false
		}
		if job.RailType == "" || job.KPI == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rail_type and kpi required"})
			return job, 0, false
		}
		if len(job.Samples) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "samples required"})
			return job, 0, false
		}
		return job, 0, true
	}

	q := r.URL.Query()
	job := calibration.Job{
		RailType:  kpi.Category(q.Get("rail_type")),
		KPI:       kpi.Indicator(q.Get("kpi")),
		ModelType: q.Get("model_type"),
		Source:    q.Get("source"),
	}
	if job.RailType == "" || job.KPI == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rail_type and kpi query parameters required"})
		return job, 0, false
	}
	job.DryRun, _ = strconv.ParseBool(q.Get("dry_run"))

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	samples, dropped, err := fitting.ParseSamplesCSV(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return job, 0, false
	}
	job.Samples = samples
	return job, dropped, true
}

type BatchRequest struct {
	Jobs   []calibration.Job `json:"jobs"`
	DryRun bool              `json:"dry_run,omitempty"`
}

// Batch fits several keys on the worker pool. dry_run at the top level
// applies to every job.
func (h *CalibrationsHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Jobs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "jobs required"})
		return
	}
	for i := range req.Jobs {
		if req.DryRun {
			req.Jobs[i].DryRun = true
		}
		if req.Jobs[i].RailType == "" || req.Jobs[i].KPI == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "every job needs rail_type and kpi"})
			return
		}
	}

	res, err := h.svc.RunBatch(r.Context(), req.Jobs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CalibrationsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CalibrationFilter{
		RailType: kpi.NormalizeCategory(q.Get("rail_type")),
		KPI:      kpi.NormalizeIndicator(q.Get("kpi")),
	}
	if v := q.Get("outcome"); v != "" {
		o := store.Outcome(v)
		if o != store.OutcomeSucceeded && o != store.OutcomeFailed {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid outcome"})
			return
		}
		filter.Outcome = &o
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
			return
		}
		filter.Offset = n
	}

	runs, err := h.store.ListCalibrations(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []*store.CalibrationRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// Refresh re-fits every key from the configured survey directory.
func (h *CalibrationsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.surveyDir == "" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "survey directory not configured"})
		return
	}
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	res, err := h.svc.Refresh(r.Context(), os.DirFS(h.surveyDir), dryRun)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "survey directory not found"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
