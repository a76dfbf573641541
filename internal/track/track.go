// Package track follows a tropical cyclone through a forecast series by its
// pressure minimum and grades its intensity on the CMA scale.
package track

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/i474232898/weather-inference/internal/forecast"
)

// Category is a CMA intensity grade.
type Category struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// CMA grades by near-centre maximum 10 m wind, lower bounds in m/s.
var categories = []struct {
	min float64
	Category
}{
	{51.0, Category{"SuperTY", "Super Typhoon", "red"}},
	{41.5, Category{"STY", "Severe Typhoon", "orange"}},
	{32.7, Category{"TY", "Typhoon", "yellow"}},
	{24.5, Category{"STS", "Severe Tropical Storm", "green"}},
	{17.2, Category{"TS", "Tropical Storm", "blue"}},
	{10.8, Category{"TD", "Tropical Depression", "skyblue"}},
}

var lowPressure = Category{"LP", "Low Pressure", "gray"}

// Classify grades a wind speed in m/s.
func Classify(windMS float64) Category {
	for _, c := range categories {
		if windMS >= c.min {
			return c.Category
		}
	}
	return lowPressure
}

// Point is the cyclone centre at one valid time.
type Point struct {
	Time        time.Time
	Latitude    float64
	Longitude   float64
	MinPressure float64 // Pa
	MaxWind     float64 // m/s, corrected
	Category    Category
}

// Options drive a tracking pass.
type Options struct {
	StartLat float64
	StartLon float64
	// TrackingRadius bounds the pressure-minimum search around the previous centre.
	TrackingRadius float64
	// WindRadius bounds the maximum wind search around the new centre.
	WindRadius float64
	// CorrectionFactor scales grid-mean wind towards sustained eyewall wind.
	CorrectionFactor float64
}

// ErrEmptySearch is returned when the first search box holds no grid points.
var ErrEmptySearch = errors.New("search box selects no grid points")

// Track follows the pressure minimum through every time step of c. Tracking
// stops early if the search box ever leaves the grid.
func Track(c *forecast.CombinedTimeSeries, opts Options) ([]Point, error) {
	if opts.TrackingRadius <= 0 || opts.WindRadius < 0 {
		return nil, fmt.Errorf("invalid radii: tracking %v, wind %v", opts.TrackingRadius, opts.WindRadius)
	}
	if opts.CorrectionFactor <= 0 {
		opts.CorrectionFactor = 1
	}
	msl := c.Variables[forecast.MeanSeaLevelPressure]
	u10 := c.Variables[forecast.WindU10]
	v10 := c.Variables[forecast.WindV10]
	if msl == nil || u10 == nil || v10 == nil {
		return nil, errors.New("series lacks mean sea level pressure or 10 m wind")
	}

	grid := c.Grid
	nlat, nlon := len(grid.Latitudes), len(grid.Longitudes)
	slab := nlat * nlon

	lat, lon := opts.StartLat, opts.StartLon
	var out []Point
	for t, valid := range c.Times {
		off := t * slab

		lats, lons := around(lat, lon, opts.TrackingRadius).Indices(grid)
		if len(lats) == 0 || len(lons) == 0 {
			if t == 0 {
				return nil, ErrEmptySearch
			}
			break
		}
		ci, cj := lats[0], lons[0]
		minP := math.Inf(1)
		for _, i := range lats {
			for _, j := range lons {
				if p := float64(msl.Data[off+i*nlon+j]); p < minP {
					minP, ci, cj = p, i, j
				}
			}
		}
		lat, lon = grid.Latitudes[ci], grid.Longitudes[cj]

		maxWind := 0.0
		wl, wn := around(lat, lon, opts.WindRadius).Indices(grid)
		for _, i := range wl {
			for _, j := range wn {
				k := off + i*nlon + j
				u, v := float64(u10.Data[k]), float64(v10.Data[k])
				if w := math.Hypot(u, v); w > maxWind {
					maxWind = w
				}
			}
		}
		maxWind *= opts.CorrectionFactor

		out = append(out, Point{
			Time:        valid,
			Latitude:    lat,
			Longitude:   lon,
			MinPressure: minP,
			MaxWind:     maxWind,
			Category:    Classify(maxWind),
		})
	}
	return out, nil
}

// around is the square box of half-width r centred on (lat, lon), with
// longitudes folded into [0, 360).
func around(lat, lon, r float64) forecast.Box {
	b := forecast.Box{LatMin: lat - r, LatMax: lat + r}
	if 2*r >= 360 {
		b.LonMin, b.LonMax = 0, 360
		return b
	}
	b.LonMin = wrap(lon - r)
	b.LonMax = wrap(lon + r)
	return b
}

func wrap(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	return lon
}
