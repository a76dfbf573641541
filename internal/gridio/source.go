package gridio

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/i474232898/weather-inference/internal/common"
	"github.com/i474232898/weather-inference/internal/forecast"
)

// DirSource loads analysis states from <dir>/input_<YYYY-MM-DD-HH-MM>.nc.
type DirSource struct {
	dir string
}

// NewDirSource creates a source reading from dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Path returns the input file expected for valid.
func (s *DirSource) Path(valid time.Time) string {
	return filepath.Join(s.dir, "input_"+common.FormatStamp(valid)+ext)
}

// Load reads the input file for valid and returns the state at that time.
// The file may hold several times; only the matching one is decoded.
func (s *DirSource) Load(ctx context.Context, codec *forecast.Codec, valid time.Time) (*forecast.AtmosphericState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.Path(valid)
	series, err := ReadSeries(path, codec.Layout())
	if err != nil {
		return nil, err
	}
	if want := codec.Grid(); !series.Grid.Equal(want) {
		return nil, fmt.Errorf("%s: %w", path, &forecast.ShapeMismatchError{
			Where:  "initial state",
			Tensor: "grid",
			Time:   valid,
			Want:   forecast.Shape{len(want.Levels), len(want.Latitudes), len(want.Longitudes)},
			Got:    forecast.Shape{len(series.Grid.Levels), len(series.Grid.Latitudes), len(series.Grid.Longitudes)},
		})
	}

	for i, t := range series.Times {
		if !t.Equal(valid) {
			continue
		}
		snap, err := series.Snapshot(i)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return snap.State, nil
	}
	return nil, fmt.Errorf("%s: no state valid at %s", path, valid.UTC().Format(time.RFC3339))
}
