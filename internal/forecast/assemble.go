package forecast

import (
	"errors"
	"fmt"
	"time"
)

// Dimension names of combined series variables.
const (
	DimTime      = "time"
	DimLevel     = "level"
	DimLatitude  = "latitude"
	DimLongitude = "longitude"
)

// Variable is one field stacked along a leading time dimension.
type Variable struct {
	Field Field
	Dims  []string
	Shape Shape
	Data  []float32
}

// CombinedTimeSeries is the multi-step dataset sharing one strictly
// increasing time axis.
type CombinedTimeSeries struct {
	Grid      Grid
	Layout    Layout
	Times     []time.Time
	Variables map[Field]*Variable

	// Rejected lists snapshots excluded by a partial assembly.
	Rejected []*InconsistentSeriesError
}

// Len returns the number of time steps.
func (c *CombinedTimeSeries) Len() int { return len(c.Times) }

// Assembler merges ordered snapshots into a CombinedTimeSeries.
type Assembler struct {
	// Grid, when set, is the contract every snapshot must match. Otherwise
	// the first snapshot defines it.
	Grid *Grid
	// AllowPartial excludes offending snapshots instead of failing the combine.
	AllowPartial bool
}

// Combine validates snapshots in arrival order and stacks them along time.
func (a Assembler) Combine(snapshots []Snapshot) (*CombinedTimeSeries, error) {
	var (
		accepted []Snapshot
		rejected []*InconsistentSeriesError
		grid     Grid
		layout   Layout
		haveRef  bool
		last     time.Time
	)
	if a.Grid != nil {
		grid, haveRef = *a.Grid, true
	}

	for i, s := range snapshots {
		if s.State == nil {
			err := &InconsistentSeriesError{Index: i, Msg: "snapshot has no state"}
			if !a.AllowPartial {
				return nil, err
			}
			rejected = append(rejected, err)
			continue
		}
		if !haveRef {
			grid, haveRef = s.State.Grid(), true
		}
		if len(accepted) == 0 {
			layout = s.State.Layout()
		}

		if err := checkSnapshot(i, s, grid, layout, last, len(accepted) > 0); err != nil {
			if !a.AllowPartial {
				return nil, err
			}
			rejected = append(rejected, err)
			continue
		}
		accepted = append(accepted, s)
		last = s.Time()
	}
	if len(accepted) == 0 {
		return nil, &InconsistentSeriesError{Index: -1, Msg: "no valid snapshots to combine"}
	}

	out := newSeries(grid, layout, len(accepted))
	for _, s := range accepted {
		out.Times = append(out.Times, s.Time())
		for _, f := range layout.Fields() {
			v, _ := s.State.Values(f)
			out.Variables[f].Data = append(out.Variables[f].Data, v...)
		}
	}
	out.Rejected = rejected
	return out, nil
}

func checkSnapshot(i int, s Snapshot, grid Grid, layout Layout, last time.Time, haveLast bool) *InconsistentSeriesError {
	valid := s.Time()
	if haveLast && !valid.After(last) {
		return &InconsistentSeriesError{
			Index: i, Time: valid,
			Msg: "timestamp does not follow " + last.Format(stampLayout),
		}
	}

	want := ContractFor(grid, layout)
	got := s.State.Contract()
	if !got.Upper.Equal(want.Upper) {
		return &InconsistentSeriesError{Index: i, Time: valid, Cause: &ShapeMismatchError{
			Where: "assembly", Tensor: "upper", Time: valid, Want: want.Upper[1:], Got: got.Upper[1:],
		}}
	}
	if !got.Surface.Equal(want.Surface) {
		return &InconsistentSeriesError{Index: i, Time: valid, Cause: &ShapeMismatchError{
			Where: "assembly", Tensor: "surface", Time: valid, Want: want.Surface[1:], Got: got.Surface[1:],
		}}
	}
	if !sameLayout(s.State.Layout(), layout) {
		return &InconsistentSeriesError{Index: i, Time: valid, Msg: "field layout differs from earlier snapshots"}
	}
	if !s.State.Grid().Equal(grid) {
		return &InconsistentSeriesError{Index: i, Time: valid, Msg: "grid coordinates differ from earlier snapshots"}
	}
	return nil
}

func newSeries(grid Grid, layout Layout, steps int) *CombinedTimeSeries {
	out := &CombinedTimeSeries{
		Grid:      grid,
		Layout:    layout,
		Times:     make([]time.Time, 0, steps),
		Variables: make(map[Field]*Variable, len(layout.Surface)+len(layout.Upper)),
	}
	lat, lon := len(grid.Latitudes), len(grid.Longitudes)
	for _, f := range layout.Surface {
		out.Variables[f] = &Variable{
			Field: f,
			Dims:  []string{DimTime, DimLatitude, DimLongitude},
			Shape: Shape{steps, lat, lon},
			Data:  make([]float32, 0, steps*lat*lon),
		}
	}
	for _, f := range layout.Upper {
		out.Variables[f] = &Variable{
			Field: f,
			Dims:  []string{DimTime, DimLevel, DimLatitude, DimLongitude},
			Shape: Shape{steps, len(grid.Levels), lat, lon},
			Data:  make([]float32, 0, steps*len(grid.Levels)*lat*lon),
		}
	}
	return out
}

// Concat appends b after a. Both series must share grid and layout, and every
// time in b must follow every time in a.
func Concat(a, b *CombinedTimeSeries) (*CombinedTimeSeries, error) {
	if a == nil || b == nil {
		return nil, errors.New("concat: nil series")
	}
	if !a.Grid.Equal(b.Grid) || !sameLayout(a.Layout, b.Layout) {
		return nil, &InconsistentSeriesError{Index: a.Len(), Msg: "grid or layout differs between series"}
	}
	if a.Len() > 0 && b.Len() > 0 && !b.Times[0].After(a.Times[a.Len()-1]) {
		return nil, &InconsistentSeriesError{
			Index: a.Len(), Time: b.Times[0],
			Msg: "series overlap: does not follow " + a.Times[a.Len()-1].Format(stampLayout),
		}
	}

	out := newSeries(a.Grid, a.Layout, a.Len()+b.Len())
	out.Times = append(append(out.Times, a.Times...), b.Times...)
	for _, f := range a.Layout.Fields() {
		va, vb := a.Variables[f], b.Variables[f]
		if va == nil || vb == nil {
			return nil, fmt.Errorf("concat: field %s missing", f)
		}
		out.Variables[f].Data = append(append(out.Variables[f].Data, va.Data...), vb.Data...)
	}
	return out, nil
}

// Snapshot extracts the state at time index i as a standalone snapshot.
// Steps are numbered from 1, as the loop numbers them.
func (c *CombinedTimeSeries) Snapshot(i int) (Snapshot, error) {
	if i < 0 || i >= c.Len() {
		return Snapshot{}, fmt.Errorf("time index %d out of range [0, %d)", i, c.Len())
	}
	codec := NewCodec(c.Grid, c.Layout)
	fields := make(map[Field][]float32, len(c.Variables))
	for f, v := range c.Variables {
		n := v.Shape[1:].Size()
		fields[f] = v.Data[i*n : (i+1)*n]
	}
	state, err := codec.Pack(fields, c.Times[i])
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Step: i + 1, State: state}, nil
}

// Snapshots splits the series back into per-time snapshots.
func (c *CombinedTimeSeries) Snapshots() ([]Snapshot, error) {
	out := make([]Snapshot, 0, c.Len())
	for i := range c.Times {
		s, err := c.Snapshot(i)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// VariableInfo summarizes one variable of a series.
type VariableInfo struct {
	Name  string   `json:"name"`
	Units string   `json:"units,omitempty"`
	Dims  []string `json:"dims"`
	Shape Shape    `json:"shape"`
}

// Describe lists the coordinate and data variables with their dimensions.
func (c *CombinedTimeSeries) Describe() []VariableInfo {
	out := []VariableInfo{
		{Name: DimTime, Dims: []string{DimTime}, Shape: Shape{c.Len()}},
		{Name: DimLevel, Units: "hPa", Dims: []string{DimLevel}, Shape: Shape{len(c.Grid.Levels)}},
		{Name: DimLatitude, Units: "degrees_north", Dims: []string{DimLatitude}, Shape: Shape{len(c.Grid.Latitudes)}},
		{Name: DimLongitude, Units: "degrees_east", Dims: []string{DimLongitude}, Shape: Shape{len(c.Grid.Longitudes)}},
	}
	for _, f := range c.Layout.Fields() {
		v := c.Variables[f]
		if v == nil {
			continue
		}
		out = append(out, VariableInfo{Name: f.ArchiveName(), Units: f.Units(), Dims: v.Dims, Shape: v.Shape})
	}
	return out
}
