// Package gridio persists snapshots and combined series as NetCDF archives
// and reads analysis states from them.
package gridio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/i474232898/weather-inference/internal/forecast"
)

const timeUnits = "hours since 1970-01-01 00:00:00"

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Coordinate names accepted when reading; the first one is written.
var (
	timeNames      = []string{"time", "valid_time"}
	levelNames     = []string{"level", "pressure_level", "isobaricInhPa"}
	latitudeNames  = []string{"latitude", "lat"}
	longitudeNames = []string{"longitude", "lon"}
)

// WriteSeries writes c to path. The file is written under a temporary name
// and renamed, so a crash never leaves a truncated archive behind.
func WriteSeries(path string, c *forecast.CombinedTimeSeries) (err error) {
	if c == nil || c.Len() == 0 {
		return errors.New("write series: empty series")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	cw, err := netcdf.OpenWriter(tmp, netcdf.KindCDF)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = cw.Close()
		}
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	hours := make([]float64, c.Len())
	for i, t := range c.Times {
		hours[i] = t.Sub(epoch).Hours()
	}
	levels := make([]int32, len(c.Grid.Levels))
	for i, l := range c.Grid.Levels {
		levels[i] = int32(l)
	}

	coords := []struct {
		name   string
		values interface{}
		units  string
	}{
		{forecast.DimTime, hours, timeUnits},
		{forecast.DimLevel, levels, "hPa"},
		{forecast.DimLatitude, append([]float64(nil), c.Grid.Latitudes...), "degrees_north"},
		{forecast.DimLongitude, append([]float64(nil), c.Grid.Longitudes...), "degrees_east"},
	}
	for _, cv := range coords {
		if err := addVar(cw, cv.name, cv.values, []string{cv.name}, cv.units); err != nil {
			return err
		}
	}

	for _, f := range c.Layout.Fields() {
		v := c.Variables[f]
		if v == nil {
			return fmt.Errorf("write series: field %s missing", f)
		}
		if v.Shape.Size() != len(v.Data) {
			return fmt.Errorf("write series: %s shape %s holds %d values, have %d", f, v.Shape, v.Shape.Size(), len(v.Data))
		}
		if err := addVar(cw, f.ArchiveName(), nest(v.Data, v.Shape), v.Dims, f.Units()); err != nil {
			return err
		}
	}

	closed = true
	if err := cw.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func addVar(cw api.Writer, name string, values interface{}, dims []string, units string) error {
	attrs, err := util.NewOrderedMap([]string{"units"}, map[string]interface{}{"units": units})
	if err != nil {
		return err
	}
	if err := cw.AddVar(name, api.Variable{Values: values, Dimensions: dims, Attributes: attrs}); err != nil {
		return fmt.Errorf("add variable %s: %w", name, err)
	}
	return nil
}

// nest views a flat row-major array as nested slices of the given shape.
func nest(data []float32, shape forecast.Shape) interface{} {
	switch len(shape) {
	case 3:
		return nest3(data, shape[0], shape[1], shape[2])
	case 4:
		out := make([][][][]float32, shape[0])
		n := shape[1] * shape[2] * shape[3]
		for i := range out {
			out[i] = nest3(data[i*n:(i+1)*n], shape[1], shape[2], shape[3])
		}
		return out
	default:
		return data
	}
}

func nest3(data []float32, a, b, c int) [][][]float32 {
	out := make([][][]float32, a)
	for i := range out {
		out[i] = make([][]float32, b)
		for j := range out[i] {
			off := (i*b + j) * c
			out[i][j] = data[off : off+c : off+c]
		}
	}
	return out
}

// ReadSeries reads an archive written by WriteSeries, or any NetCDF file with
// the same coordinates whose variables use either the long archive names or
// the short field names of layout.
func ReadSeries(path string, layout forecast.Layout) (*forecast.CombinedTimeSeries, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer nc.Close()

	times, err := readTimes(nc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var grid forecast.Grid
	if grid.Latitudes, err = readFloats(nc, latitudeNames); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if grid.Longitudes, err = readFloats(nc, longitudeNames); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	levels, err := readFloats(nc, levelNames)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	grid.Levels = make([]int, len(levels))
	for i, l := range levels {
		grid.Levels[i] = int(math.Round(l))
	}

	out := &forecast.CombinedTimeSeries{
		Grid:      grid,
		Layout:    layout,
		Times:     times,
		Variables: make(map[forecast.Field]*forecast.Variable),
	}
	for _, f := range layout.Fields() {
		want := forecast.Shape{len(times), len(grid.Latitudes), len(grid.Longitudes)}
		dims := []string{forecast.DimTime, forecast.DimLatitude, forecast.DimLongitude}
		if layout.IsUpper(f) {
			want = forecast.Shape{len(times), len(grid.Levels), len(grid.Latitudes), len(grid.Longitudes)}
			dims = []string{forecast.DimTime, forecast.DimLevel, forecast.DimLatitude, forecast.DimLongitude}
		}

		v, err := getVariable(nc, f.ArchiveName(), string(f))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		data, shape, err := flatten(v.Values, scaling(v.Attributes))
		if err != nil {
			return nil, fmt.Errorf("%s: variable %s: %w", path, f.ArchiveName(), err)
		}
		if !shape.Equal(want) {
			return nil, &forecast.ShapeMismatchError{Where: "archive " + filepath.Base(path), Tensor: f.ArchiveName(), Want: want, Got: shape}
		}
		out.Variables[f] = &forecast.Variable{Field: f, Dims: dims, Shape: shape, Data: data}
	}
	return out, nil
}

func getVariable(nc api.Group, names ...string) (*api.Variable, error) {
	var firstErr error
	for _, name := range names {
		v, err := nc.GetVariable(name)
		if err == nil {
			return v, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("variable %s: %w", strings.Join(names, "|"), firstErr)
}

func readFloats(nc api.Group, names []string) ([]float64, error) {
	v, err := getVariable(nc, names...)
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(v.Values)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("coordinate %s is not one-dimensional", names[0])
	}
	out := make([]float64, rv.Len())
	for i := range out {
		f, ok := toFloat(rv.Index(i))
		if !ok {
			return nil, fmt.Errorf("coordinate %s has non-numeric type %s", names[0], rv.Type())
		}
		out[i] = f
	}
	return out, nil
}

func readTimes(nc api.Group) ([]time.Time, error) {
	v, err := getVariable(nc, timeNames...)
	if err != nil {
		return nil, err
	}
	units := timeUnits
	if v.Attributes != nil {
		if u, ok := v.Attributes.Get("units"); ok {
			if s, ok := u.(string); ok {
				units = s
			}
		}
	}
	step, origin, err := parseTimeUnits(units)
	if err != nil {
		return nil, err
	}

	values, err := readFloats(nc, timeNames)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(values))
	for i, x := range values {
		secs := math.Round(x * step.Seconds())
		out[i] = origin.Add(time.Duration(secs) * time.Second)
	}
	return out, nil
}

// parseTimeUnits parses CF units such as "hours since 1900-01-01 00:00:00.0".
func parseTimeUnits(units string) (time.Duration, time.Time, error) {
	unit, since, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("unsupported time units %q", units)
	}
	var step time.Duration
	switch strings.ToLower(unit) {
	case "seconds", "second", "s":
		step = time.Second
	case "minutes", "minute":
		step = time.Minute
	case "hours", "hour", "h":
		step = time.Hour
	case "days", "day":
		step = 24 * time.Hour
	default:
		return 0, time.Time{}, fmt.Errorf("unsupported time unit %q", unit)
	}

	since = strings.TrimSpace(since)
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04:05.0", "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, since, time.UTC); err == nil {
			return step, t, nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("unsupported time origin %q", since)
}

type linear struct{ scale, offset float64 }

// scaling reads CF packing attributes used by archives that store int16.
func scaling(attrs api.AttributeMap) linear {
	l := linear{scale: 1}
	if attrs == nil {
		return l
	}
	if v, ok := attrs.Get("scale_factor"); ok {
		if f, ok := toFloat(reflect.ValueOf(v)); ok {
			l.scale = f
		}
	}
	if v, ok := attrs.Get("add_offset"); ok {
		if f, ok := toFloat(reflect.ValueOf(v)); ok {
			l.offset = f
		}
	}
	return l
}

// flatten copies nested numeric slices into a flat float32 array.
func flatten(values interface{}, l linear) ([]float32, forecast.Shape, error) {
	rv := reflect.ValueOf(values)
	var shape forecast.Shape
	for cur := rv; cur.Kind() == reflect.Slice; {
		shape = append(shape, cur.Len())
		if cur.Len() == 0 {
			break
		}
		cur = cur.Index(0)
	}
	if len(shape) == 0 {
		return nil, nil, fmt.Errorf("not an array: %T", values)
	}

	out := make([]float32, 0, shape.Size())
	var walk func(v reflect.Value, depth int) error
	walk = func(v reflect.Value, depth int) error {
		if depth == len(shape) {
			f, ok := toFloat(v)
			if !ok {
				return fmt.Errorf("unsupported element type %s", v.Type())
			}
			out = append(out, float32(f*l.scale+l.offset))
			return nil
		}
		if v.Kind() != reflect.Slice || v.Len() != shape[depth] {
			return fmt.Errorf("ragged array at depth %d", depth)
		}
		for i := 0; i < v.Len(); i++ {
			if err := walk(v.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return out, shape, nil
}

func toFloat(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	default:
		return 0, false
	}
}
