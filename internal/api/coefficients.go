package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/RailKPI/internal/hermes"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

// DefaultsFunc supplies the table restored by the restore endpoint.
type DefaultsFunc func() ([]store.Coefficient, error)

type CoefficientsHandler struct {
	repo     *store.Repository
	hermes   hermes.Client
	defaults DefaultsFunc
}

func NewCoefficientsHandler(repo *store.Repository, h hermes.Client, defaults DefaultsFunc) *CoefficientsHandler {
	if defaults == nil {
		defaults = func() ([]store.Coefficient, error) { return store.DefaultCoefficients(), nil }
	}
	return &CoefficientsHandler{repo: repo, hermes: h, defaults: defaults}
}

type CoefficientsResponse struct {
	Version  uint64              `json:"version"`
	LoadedAt time.Time           `json:"loaded_at"`
	Keys     []store.Key         `json:"keys"`
	Rows     []store.Coefficient `json:"rows"`
}

// List returns the current table, optionally for one rail type. With
// ?format=tsv the rows are written as a table ReadCoefficients accepts.
func (h *CoefficientsHandler) List(w http.ResponseWriter, r *http.Request) {
	snap := h.repo.Snapshot()
	rows := snap.Rows()
	if v := r.URL.Query().Get("rail_type"); v != "" {
		cat := kpi.NormalizeCategory(v)
		filtered := rows[:0]
		for _, row := range rows {
			if row.RailType == cat {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	if r.URL.Query().Get("format") == "tsv" {
		w.Header().Set("Content-Type", "text/tab-separated-values; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="coefficients.tsv"`)
		if err := store.WriteCoefficientsTSV(w, rows); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}

	keys := store.KeysOf(rows)
	if keys == nil {
		keys = []store.Key{}
	}
	writeJSON(w, http.StatusOK, CoefficientsResponse{
		Version:  snap.Version(),
		LoadedAt: snap.LoadedAt(),
		Keys:     keys,
		Rows:     rows,
	})
}

// Get returns the model entry for one key.
func (h *CoefficientsHandler) Get(w http.ResponseWriter, r *http.Request) {
	cat := kpi.NormalizeCategory(chi.URLParam(r, "rail_type"))
	ind := kpi.NormalizeIndicator(chi.URLParam(r, "kpi"))
	entry, ok := h.repo.Snapshot().Lookup(cat, ind)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "coefficients not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rail_type":  cat,
		"kpi":        ind,
		"model_type": entry.ModelType,
		"params":     entry.Params,
		"r_squared":  entry.RSquared,
	})
}

// Replace uploads a coefficient table. Every key present in the upload is
// replaced; other keys are kept.
func (h *CoefficientsHandler) Replace(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	rows, err := store.ReadCoefficients(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(rows) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no coefficient rows"})
		return
	}

	snap, err := h.repo.Replace(r.Context(), rows)
	if err != nil {
		writeError(w, err)
		return
	}
	keys := store.KeysOf(rows)
	h.publish(hermes.SubjectCoefficientsReplaced, snap, keys, len(rows))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": snap.Version(),
		"keys":    keys,
		"rows":    len(rows),
	})
}

// Restore resets the whole table to the configured defaults.
func (h *CoefficientsHandler) Restore(w http.ResponseWriter, r *http.Request) {
	rows, err := h.defaults()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	snap, err := h.repo.Restore(r.Context(), rows)
	if err != nil {
		writeError(w, err)
		return
	}
	h.publish(hermes.SubjectCoefficientsRestored, snap, snap.Keys(), len(rows))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": snap.Version(),
		"rows":    len(rows),
	})
}

func (h *CoefficientsHandler) publish(subject string, snap *store.Snapshot, keys []store.Key, rows int) {
	if h.hermes == nil {
		return
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	_ = h.hermes.Publish(subject, hermes.CoefficientsReplacedEvent{
		Version:   snap.Version(),
		Keys:      names,
		Rows:      rows,
		Timestamp: time.Now().UTC(),
	})
}
