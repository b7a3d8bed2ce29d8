package hermes

import (
	"strconv"
	"time"
)

// identified events name their own JetStream message ID.
type identified interface {
	MessageID() string
}

const nilRunID = "00000000-0000-0000-0000-000000000000"

// CalibrationEvent is published after every fit attempt.
type CalibrationEvent struct {
	RunID       string             `json:"run_id"`
	RailType    string             `json:"rail_type"`
	KPI         string             `json:"kpi"`
	ModelType   string             `json:"model_type"`
	Outcome     string             `json:"outcome"`
	Reason      string             `json:"reason,omitempty"`
	Params      map[string]float64 `json:"params,omitempty"`
	RSquared    float64            `json:"r_squared,omitempty"`
	N           int                `json:"n"`
	ScaleFactor float64            `json:"scale_factor,omitempty"`
	DryRun      bool               `json:"dry_run"`
	Timestamp   time.Time          `json:"timestamp"`
}

// MessageID identifies one fit attempt. Runs without a recorded ID fall back
// to a payload-derived ID.
func (e CalibrationEvent) MessageID() string {
	if e.RunID == "" || e.RunID == nilRunID {
		return ""
	}
	return "calibration." + e.RunID + "." + e.RailType + "." + e.KPI
}

// CoefficientsReplacedEvent announces a new snapshot version.
type CoefficientsReplacedEvent struct {
	Version   uint64    `json:"version"`
	Keys      []string  `json:"keys,omitempty"`
	Rows      int       `json:"rows"`
	Timestamp time.Time `json:"timestamp"`
}

func (e CoefficientsReplacedEvent) MessageID() string {
	return "coefficients." + strconv.FormatUint(e.Version, 10) + "." + strconv.FormatInt(e.Timestamp.UnixNano(), 10)
}

// BatchCompletedEvent summarises a batch or refresh run.
type BatchCompletedEvent struct {
	Jobs      int       `json:"jobs"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Persisted int       `json:"persisted"`
	DryRun    bool      `json:"dry_run"`
	Timestamp time.Time `json:"timestamp"`
}

// CalibrationRequestEvent asks the service to fit one sample set.
type CalibrationRequestEvent struct {
	RailType  string       `json:"rail_type"`
	KPI       string       `json:"kpi"`
	ModelType string       `json:"model_type,omitempty"`
	Samples   [][2]float64 `json:"samples"`
	DryRun    bool         `json:"dry_run,omitempty"`
	Source    string       `json:"source,omitempty"`
}
