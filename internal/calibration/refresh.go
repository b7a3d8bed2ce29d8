package calibration

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/MikeSquared-Agency/RailKPI/internal/fitting"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
)

// RefreshMinPoints is the smallest survey file Refresh will fit.
const RefreshMinPoints = 3

// Skipped explains why a key was left out of a refresh.
type Skipped struct {
	Key    string `json:"key"`
	File   string `json:"file,omitempty"`
	Reason string `json:"reason"`
}

// RefreshResult is a batch run over the survey directory.
type RefreshResult struct {
	*BatchResult
	Skipped []Skipped `json:"skipped"`
}

// SurveyFileName is the file Refresh reads for a key, e.g. "TV_H.csv".
func SurveyFileName(cat kpi.Category, ind kpi.Indicator) (string, bool) {
	code, ok := cat.FileCode()
	if !ok {
		return "", false
	}
	return string(ind) + "_" + code + ".csv", true
}

// Refresh re-fits every key in the current coefficient table that has a
// survey file in fsys, keeping each key's model type. File names are matched
// case-insensitively so "tv_H.csv" serves TV.
func (s *Service) Refresh(ctx context.Context, fsys fs.FS, dryRun bool) (*RefreshResult, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read survey directory: %w", err)
	}
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			files[strings.ToLower(e.Name())] = e.Name()
		}
	}

	snap := s.repo.Snapshot()
	out := &RefreshResult{}
	var jobs []Job
	for _, key := range snap.Keys() {
		skip := func(file, reason string) {
			out.Skipped = append(out.Skipped, Skipped{Key: key.String(), File: file, Reason: reason})
		}
		if key.KPI == kpi.TransferConvenience {
			skip("", "computed directly")
			continue
		}
		want, ok := SurveyFileName(key.RailType, key.KPI)
		if !ok {
			skip("", "no survey file code for rail type")
			continue
		}
		name, ok := files[strings.ToLower(want)]
		if !ok {
			skip(want, "survey file not found")
			continue
		}
		samples, dropped, err := readSurvey(fsys, name)
		if err != nil {
			s.logger.Warn("unreadable survey file", "file", name, "error", err)
			skip(name, err.Error())
			continue
		}
		if len(samples) < RefreshMinPoints {
			skip(name, fmt.Sprintf("only %d usable rows", len(samples)))
			continue
		}
		if dropped > 0 {
			s.logger.Info("dropped non-numeric survey rows", "file", name, "dropped", dropped)
		}

		entry, _ := snap.Lookup(key.RailType, key.KPI)
		jobs = append(jobs, Job{
			RailType:  key.RailType,
			KPI:       key.KPI,
			ModelType: entry.ModelType,
			Samples:   samples,
			DryRun:    dryRun,
			Source:    name,
		})
	}

	batch, err := s.RunBatch(ctx, jobs)
	if err != nil {
		return nil, err
	}
	out.BatchResult = batch
	s.logger.Info("coefficient refresh finished", "fitted", len(jobs), "skipped", len(out.Skipped))
	return out, nil
}

func readSurvey(fsys fs.FS, name string) (fitting.SampleSet, int, error) {
	f, err := fsys.Open(path.Clean(name))
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return fitting.ParseSamplesCSV(f)
}

