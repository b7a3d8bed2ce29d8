package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
	"github.com/MikeSquared-Agency/RailKPI/internal/scoring"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

type ScoringHandler struct {
	repo *store.Repository
}

func NewScoringHandler(repo *store.Repository) *ScoringHandler {
	return &ScoringHandler{repo: repo}
}

// engine binds a request to the snapshot current when it arrived.
func (h *ScoringHandler) engine() *scoring.Engine {
	return scoring.NewEngine(h.repo.Snapshot())
}

type ScoreRequest struct {
	RailType    string   `json:"rail_type"`
	KPI         string   `json:"kpi"`
	Measurement *float64 `json:"measurement"`
}

type ScoreResponse struct {
	RailType    kpi.Category  `json:"rail_type"`
	KPI         kpi.Indicator `json:"kpi"`
	Measurement float64       `json:"measurement"`
	Score       float64       `json:"score"`
}

func parseKey(railType, code string) (kpi.Category, kpi.Indicator, bool) {
	cat := kpi.NormalizeCategory(railType)
	ind := kpi.NormalizeIndicator(code)
	return cat, ind, cat != "" && ind != ""
}

func (h *ScoringHandler) Score(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cat, ind, ok := parseKey(req.RailType, req.KPI)
	if !ok || req.Measurement == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rail_type, kpi and measurement required"})
		return
	}
	s, err := h.engine().Score(cat, ind, *req.Measurement)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ScoreResponse{RailType: cat, KPI: ind, Measurement: *req.Measurement, Score: s})
}

type InverseRequest struct {
	RailType string   `json:"rail_type"`
	KPI      string   `json:"kpi"`
	Score    *float64 `json:"score"`
}

// InverseResponse carries a null measurement with Unbounded set when the
// score is unreachable at any finite measurement.
type InverseResponse struct {
	RailType    kpi.Category  `json:"rail_type"`
	KPI         kpi.Indicator `json:"kpi"`
	Score       float64       `json:"score"`
	Measurement *float64      `json:"measurement"`
	Unbounded   bool          `json:"unbounded"`
}

func (h *ScoringHandler) Inverse(w http.ResponseWriter, r *http.Request) {
	var req InverseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cat, ind, ok := parseKey(req.RailType, req.KPI)
	if !ok || req.Score == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rail_type, kpi and score required"})
		return
	}
	x, err := h.engine().Inverse(cat, ind, *req.Score)
	if err != nil {
		writeError(w, err)
		return
	}
	m := finite(x)
	writeJSON(w, http.StatusOK, InverseResponse{
		RailType:    cat,
		KPI:         ind,
		Score:       *req.Score,
		Measurement: m,
		Unbounded:   m == nil,
	})
}

type SensitivityResponse struct {
	RailType kpi.Category               `json:"rail_type"`
	KPI      kpi.Indicator              `json:"kpi"`
	Points   []scoring.SensitivityPoint `json:"points"`
}

func (h *ScoringHandler) Sensitivity(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cat, ind, ok := parseKey(req.RailType, req.KPI)
	if !ok || req.Measurement == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rail_type, kpi and measurement required"})
		return
	}
	points, err := h.engine().Sensitivity(cat, ind, *req.Measurement)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SensitivityResponse{RailType: cat, KPI: ind, Points: points})
}

func (h *ScoringHandler) Indicator(w http.ResponseWriter, r *http.Request) {
	var req scoring.IndicatorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.scoreIndicator(w, req)
}

func (h *ScoringHandler) scoreIndicator(w http.ResponseWriter, req scoring.IndicatorRequest) {
	if _, _, ok := parseKey(string(req.RailType), string(req.KPI)); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rail_type and kpi required"})
		return
	}
	res, err := h.engine().ScoreIndicator(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type PhysicalAccessRequest struct {
	RailType string   `json:"rail_type"`
	Modes    []string `json:"modes"`
}

func (h *ScoringHandler) PhysicalAccess(w http.ResponseWriter, r *http.Request) {
	var req PhysicalAccessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.scoreIndicator(w, scoring.IndicatorRequest{
		RailType: kpi.Category(req.RailType),
		KPI:      kpi.PhysicalAccess,
		Modes:    req.Modes,
	})
}

type TransferConvenienceRequest struct {
	RailType  string             `json:"rail_type"`
	Distances map[string]float64 `json:"distances"`
}

func (h *ScoringHandler) TransferConvenience(w http.ResponseWriter, r *http.Request) {
	var req TransferConvenienceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.scoreIndicator(w, scoring.IndicatorRequest{
		RailType:  kpi.Category(req.RailType),
		KPI:       kpi.TransferConvenience,
		Distances: req.Distances,
	})
}

// ProjectionResponse mirrors scoring.Projection with asymptotic values as
// null.
type ProjectionResponse struct {
	RailType       kpi.Category  `json:"rail_type"`
	KPI            kpi.Indicator `json:"kpi"`
	CurrentValue   float64       `json:"current_value"`
	CurrentScore   float64       `json:"current_score"`
	PredictedValue *float64      `json:"predicted_value"`
	PredictedScore float64       `json:"predicted_score"`
	GoalValue      *float64      `json:"goal_value"`
	GoalScore      float64       `json:"goal_score"`
	Gap            float64       `json:"gap"`
	IsFail         bool          `json:"is_fail"`
}

func (h *ScoringHandler) Project(w http.ResponseWriter, r *http.Request) {
	var req scoring.ProjectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, _, ok := parseKey(string(req.RailType), string(req.KPI)); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rail_type and kpi required"})
		return
	}
	p, err := h.engine().Project(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProjectionResponse{
		RailType:       p.RailType,
		KPI:            p.KPI,
		CurrentValue:   p.CurrentValue,
		CurrentScore:   p.CurrentScore,
		PredictedValue: finite(p.PredictedValue),
		PredictedScore: p.PredictedScore,
		GoalValue:      finite(p.GoalValue),
		GoalScore:      p.GoalScore,
		Gap:            p.Gap,
		IsFail:         p.IsFail,
	})
}

type IndicatorInfo struct {
	Code      kpi.Indicator `json:"code"`
	Name      string        `json:"name"`
	Composite bool          `json:"composite"`
}

// Catalog lists the rail types and indicators the service knows about.
func (h *ScoringHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	indicators := make([]IndicatorInfo, len(kpi.Indicators))
	for i, ind := range kpi.Indicators {
		indicators[i] = IndicatorInfo{Code: ind, Name: ind.Name(), Composite: ind.Composite()}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rail_types":       kpi.Categories,
		"indicators":       indicators,
		"access_modes":     kpi.AccessModes,
		"transfer_modes":   kpi.TransferModes,
		"snapshot_version": h.repo.Snapshot().Version(),
	})
}
