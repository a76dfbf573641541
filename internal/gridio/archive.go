package gridio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/i474232898/weather-inference/internal/common"
	"github.com/i474232898/weather-inference/internal/forecast"
)

const (
	snapshotPrefix = "forecast_"
	seriesPrefix   = "combined_"
	ext            = ".nc"
)

// Archive writes run output under <root>/<run id>/.
type Archive struct {
	root string
}

// NewArchive creates an archive rooted at dir.
func NewArchive(dir string) *Archive {
	return &Archive{root: dir}
}

// Root returns the archive directory.
func (a *Archive) Root() string { return a.root }

// RunDir returns the directory holding a run's files.
func (a *Archive) RunDir(runID string) string {
	return filepath.Join(a.root, runID)
}

// SnapshotPath returns the file name of the step valid at s.Time().
func (a *Archive) SnapshotPath(runID string, s forecast.Snapshot) string {
	return filepath.Join(a.RunDir(runID), snapshotPrefix+common.FormatStamp(s.Time())+ext)
}

// WriteSnapshot stores one step as a single-time series.
func (a *Archive) WriteSnapshot(ctx context.Context, runID string, s forecast.Snapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	series, err := forecast.Assembler{}.Combine([]forecast.Snapshot{s})
	if err != nil {
		return "", err
	}
	path := a.SnapshotPath(runID, s)
	if err := WriteSeries(path, series); err != nil {
		return "", err
	}
	return path, nil
}

// WriteSeries stores the combined series of a run.
func (a *Archive) WriteSeries(ctx context.Context, runID string, c *forecast.CombinedTimeSeries) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c == nil || c.Len() == 0 {
		return "", fmt.Errorf("run %s: empty series", runID)
	}
	name := seriesPrefix + common.FormatStamp(c.Times[0]) + "_" + common.FormatStamp(c.Times[c.Len()-1]) + ext
	path := filepath.Join(a.RunDir(runID), name)
	if err := WriteSeries(path, c); err != nil {
		return "", err
	}
	return path, nil
}

// ReadSnapshots loads every per-step file of a run in valid-time order.
func (a *Archive) ReadSnapshots(runID string, layout forecast.Layout) ([]forecast.Snapshot, error) {
	entries, err := os.ReadDir(a.RunDir(runID))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	var names []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasPrefix(n, snapshotPrefix) && strings.HasSuffix(n, ext) {
			names = append(names, n)
		}
	}
	// The stamp layout sorts lexically in time order.
	sort.Strings(names)

	out := make([]forecast.Snapshot, 0, len(names))
	for i, n := range names {
		series, err := ReadSeries(filepath.Join(a.RunDir(runID), n), layout)
		if err != nil {
			return nil, err
		}
		snaps, err := series.Snapshots()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n, err)
		}
		for _, s := range snaps {
			s.Step = i + 1
			out = append(out, s)
		}
	}
	return out, nil
}
