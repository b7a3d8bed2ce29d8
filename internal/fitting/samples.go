package fitting

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/RailKPI/internal/curve"
)

// Sample is one survey observation.
type Sample struct {
	X float64 `json:"x"`
	S float64 `json:"s"`
}

// SampleSet holds the observations for one (rail category, indicator).
type SampleSet []Sample

// Xs returns the measurements in order.
func (s SampleSet) Xs() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.X
	}
	return out
}

// Ss returns the satisfaction scores in order.
func (s SampleSet) Ss() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.S
	}
	return out
}

// Scaled returns a copy with every measurement divided by factor.
func (s SampleSet) Scaled(factor float64) SampleSet {
	out := make(SampleSet, len(s))
	for i, p := range s {
		out[i] = Sample{X: p.X / factor, S: p.S}
	}
	return out
}

// Valid reports whether every pair is finite and every score lies in
// [0, curve.MaxScore].
func (s SampleSet) Valid() bool {
	for _, p := range s {
		if !p.valid() {
			return false
		}
	}
	return true
}

func (p Sample) valid() bool {
	if !finite(p.X) || !finite(p.S) {
		return false
	}
	return p.S >= 0 && p.S <= curve.MaxScore
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Accepted header names for the measurement and satisfaction columns.
var (
	measurementColumns  = []string{"kpi", "kpi_value"}
	satisfactionColumns = []string{"satisfaction", "satisfaction_score"}
)

// ParseSamplesCSV reads survey pairs from a CSV with a header row. Rows whose
// measurement or score is not a finite number are dropped and counted.
// Out-of-range scores are kept so that Fit rejects the set as invalid_data.
func ParseSamplesCSV(r io.Reader) (SampleSet, int, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(3); err == nil && bytes.Equal(head, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, errors.New("empty survey file")
		}
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	xi, si := -1, -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, name := range measurementColumns {
			if h == name && xi < 0 {
				xi = i
			}
		}
		for _, name := range satisfactionColumns {
			if h == name && si < 0 {
				si = i
			}
		}
	}
	if xi < 0 || si < 0 {
		return nil, 0, fmt.Errorf("survey file needs KPI and Satisfaction columns, got %v", header)
	}

	var (
		set     SampleSet
		dropped int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read survey row: %w", err)
		}
		if xi >= len(rec) || si >= len(rec) {
			dropped++
			continue
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(rec[xi]), 64)
		s, errS := strconv.ParseFloat(strings.TrimSpace(rec[si]), 64)
		if errX != nil || errS != nil || !finite(x) || !finite(s) {
			dropped++
			continue
		}
		set = append(set, Sample{X: x, S: s})
	}
	return set, dropped, nil
}
