package forecast

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field names a single atmospheric variable.
type Field string

const (
	MeanSeaLevelPressure Field = "msl"
	WindU10              Field = "u10"
	WindV10              Field = "v10"
	Temperature2m        Field = "t2m"

	Geopotential     Field = "z"
	SpecificHumidity Field = "q"
	Temperature      Field = "t"
	WindU            Field = "u"
	WindV            Field = "v"
)

// ArchiveName returns the long variable name used in gridded archives.
func (f Field) ArchiveName() string {
	switch f {
	case MeanSeaLevelPressure:
		return "mean_sea_level_pressure"
	case WindU10:
		return "u_component_of_wind_10m"
	case WindV10:
		return "v_component_of_wind_10m"
	case Temperature2m:
		return "temperature_2m"
	case Geopotential:
		return "geopotential"
	case SpecificHumidity:
		return "specific_humidity"
	case Temperature:
		return "temperature"
	case WindU:
		return "u_component_of_wind"
	case WindV:
		return "v_component_of_wind"
	default:
		return string(f)
	}
}

// Units returns the physical units of the field.
func (f Field) Units() string {
	switch f {
	case MeanSeaLevelPressure:
		return "Pa"
	case WindU10, WindV10, WindU, WindV:
		return "m s**-1"
	case Temperature2m, Temperature:
		return "K"
	case Geopotential:
		return "m**2 s**-2"
	case SpecificHumidity:
		return "kg kg**-1"
	default:
		return ""
	}
}

// PressureLevels are the upper-air levels in hPa, surface first.
var PressureLevels = []int{1000, 925, 850, 700, 600, 500, 400, 300, 250, 200, 150, 100, 50}

// Layout declares the order in which fields are packed into operator tensors.
// Operators are order-sensitive, so the layout is part of the operator contract.
type Layout struct {
	Surface []Field
	Upper   []Field
}

// DefaultLayout is the packing order used by the pretrained operators.
func DefaultLayout() Layout {
	return Layout{
		Surface: []Field{MeanSeaLevelPressure, WindU10, WindV10, Temperature2m},
		Upper:   []Field{Geopotential, SpecificHumidity, Temperature, WindU, WindV},
	}
}

// Fields returns surface then upper fields.
func (l Layout) Fields() []Field {
	out := make([]Field, 0, len(l.Surface)+len(l.Upper))
	out = append(out, l.Surface...)
	return append(out, l.Upper...)
}

// IsUpper reports whether f is an upper-air field of the layout.
func (l Layout) IsUpper(f Field) bool {
	return indexOf(l.Upper, f) >= 0
}

func indexOf(fields []Field, f Field) int {
	for i, x := range fields {
		if x == f {
			return i
		}
	}
	return -1
}

// Shape is a tensor shape, outermost dimension first.
type Shape []int

// Size returns the number of elements.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether both shapes have identical dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Grid holds the fixed horizontal and vertical coordinates of a pipeline.
type Grid struct {
	Latitudes  []float64 // degrees north, as stored (usually 90 → -90)
	Longitudes []float64 // degrees east, 0 → 360
	Levels     []int     // hPa
}

// DefaultGrid is the 0.25° global grid: 721 latitudes, 1440 longitudes, 13 levels.
func DefaultGrid() Grid {
	g, _ := NewGrid(0.25)
	return g
}

// NewGrid builds a global grid at the given resolution in degrees, latitudes
// descending from 90 and longitudes ascending from 0.
func NewGrid(resolution float64) (Grid, error) {
	if resolution <= 0 || resolution > 90 {
		return Grid{}, fmt.Errorf("invalid grid resolution %v", resolution)
	}
	nlat := 180/resolution + 1
	nlon := 360 / resolution
	if nlat != math.Trunc(nlat) || nlon != math.Trunc(nlon) {
		return Grid{}, fmt.Errorf("grid resolution %v does not divide the globe", resolution)
	}

	g := Grid{
		Latitudes:  make([]float64, int(nlat)),
		Longitudes: make([]float64, int(nlon)),
		Levels:     append([]int(nil), PressureLevels...),
	}
	for i := range g.Latitudes {
		g.Latitudes[i] = 90 - float64(i)*resolution
	}
	for i := range g.Longitudes {
		g.Longitudes[i] = float64(i) * resolution
	}
	return g, nil
}

// SurfaceShape is the (latitude, longitude) shape of one surface field.
func (g Grid) SurfaceShape() Shape { return Shape{len(g.Latitudes), len(g.Longitudes)} }

// UpperShape is the (level, latitude, longitude) shape of one upper-air field.
func (g Grid) UpperShape() Shape {
	return Shape{len(g.Levels), len(g.Latitudes), len(g.Longitudes)}
}

// Equal reports whether both grids have identical coordinates.
func (g Grid) Equal(o Grid) bool {
	if len(g.Latitudes) != len(o.Latitudes) || len(g.Longitudes) != len(o.Longitudes) || len(g.Levels) != len(o.Levels) {
		return false
	}
	for i := range g.Latitudes {
		if g.Latitudes[i] != o.Latitudes[i] {
			return false
		}
	}
	for i := range g.Longitudes {
		if g.Longitudes[i] != o.Longitudes[i] {
			return false
		}
	}
	for i := range g.Levels {
		if g.Levels[i] != o.Levels[i] {
			return false
		}
	}
	return true
}

// Tensor is a bare row-major float32 array.
type Tensor struct {
	Shape Shape
	Data  []float32
}

func (t Tensor) clone() Tensor {
	return Tensor{
		Shape: append(Shape(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// Tensors is the bare form consumed and produced by step operators:
// surface (field, lat, lon) and upper (field, level, lat, lon).
type Tensors struct {
	Surface Tensor
	Upper   Tensor
}

// Contract is the declared tensor shape pair of an operator boundary.
type Contract struct {
	Surface Shape
	Upper   Shape
}

// ContractFor derives the tensor contract of a grid and layout.
func ContractFor(g Grid, l Layout) Contract {
	lat, lon := len(g.Latitudes), len(g.Longitudes)
	return Contract{
		Surface: Shape{len(l.Surface), lat, lon},
		Upper:   Shape{len(l.Upper), len(g.Levels), lat, lon},
	}
}

// AtmosphericState is the full working state at one valid time. It is
// immutable once decoded; accessors return views that must not be modified.
type AtmosphericState struct {
	time    time.Time
	grid    Grid
	layout  Layout
	tensors Tensors
}

// Time returns the valid timestamp.
func (s *AtmosphericState) Time() time.Time { return s.time }

// Grid returns the coordinate axes.
func (s *AtmosphericState) Grid() Grid { return s.grid }

// Layout returns the field layout.
func (s *AtmosphericState) Layout() Layout { return s.layout }

// Contract returns the shapes of the packed tensors.
func (s *AtmosphericState) Contract() Contract {
	return Contract{Surface: s.tensors.Surface.Shape, Upper: s.tensors.Upper.Shape}
}

// Surface returns the (lat, lon) values of a surface field.
func (s *AtmosphericState) Surface(f Field) ([]float32, bool) {
	i := indexOf(s.layout.Surface, f)
	if i < 0 {
		return nil, false
	}
	n := len(s.grid.Latitudes) * len(s.grid.Longitudes)
	return s.tensors.Surface.Data[i*n : (i+1)*n], true
}

// Upper returns the (level, lat, lon) values of an upper-air field.
func (s *AtmosphericState) Upper(f Field) ([]float32, bool) {
	i := indexOf(s.layout.Upper, f)
	if i < 0 {
		return nil, false
	}
	n := len(s.grid.Levels) * len(s.grid.Latitudes) * len(s.grid.Longitudes)
	return s.tensors.Upper.Data[i*n : (i+1)*n], true
}

// Values returns the values of any field of the layout.
func (s *AtmosphericState) Values(f Field) ([]float32, bool) {
	if v, ok := s.Surface(f); ok {
		return v, true
	}
	return s.Upper(f)
}

// Snapshot is one decoded, georeferenced state produced by a completed step.
type Snapshot struct {
	Step     int // 1-based position in the plan; 0 for analysis states
	Operator string
	State    *AtmosphericState
}

// Time returns the valid timestamp of the snapshot.
func (s Snapshot) Time() time.Time {
	if s.State == nil {
		return time.Time{}
	}
	return s.State.Time()
}

// PlanStep is one scheduled operator invocation and its resulting valid time.
type PlanStep struct {
	Operator Descriptor
	Valid    time.Time
}

// HorizonPlan is the ordered sequence of steps covering [Start, End].
type HorizonPlan struct {
	Start time.Time
	End   time.Time
	Steps []PlanStep
}

// Increments returns the per-step time increments in order.
func (p HorizonPlan) Increments() []time.Duration {
	out := make([]time.Duration, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Operator.Step
	}
	return out
}
