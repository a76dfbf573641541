package forecast

import "fmt"

// Box is a latitude/longitude selection in degrees. LonMin > LonMax selects a
// band crossing the 0/360 meridian.
type Box struct {
	LatMin float64 `yaml:"lat_min" json:"latMin"`
	LatMax float64 `yaml:"lat_max" json:"latMax"`
	LonMin float64 `yaml:"lon_min" json:"lonMin"`
	LonMax float64 `yaml:"lon_max" json:"lonMax"`
}

func (b Box) containsLat(lat float64) bool {
	lo, hi := b.LatMin, b.LatMax
	if lo > hi {
		lo, hi = hi, lo
	}
	return lat >= lo && lat <= hi
}

func (b Box) containsLon(lon float64) bool {
	if b.LonMin <= b.LonMax {
		return lon >= b.LonMin && lon <= b.LonMax
	}
	return lon >= b.LonMin || lon <= b.LonMax
}

// Indices returns the grid indices inside the box, in stored order, whatever
// the direction of the latitude axis.
func (b Box) Indices(g Grid) (lats, lons []int) {
	for i, lat := range g.Latitudes {
		if b.containsLat(lat) {
			lats = append(lats, i)
		}
	}
	for j, lon := range g.Longitudes {
		if b.containsLon(lon) {
			lons = append(lons, j)
		}
	}
	return lats, lons
}

// Region returns a copy of the series restricted to the box.
func (c *CombinedTimeSeries) Region(b Box) (*CombinedTimeSeries, error) {
	lats, lons := b.Indices(c.Grid)
	if len(lats) == 0 || len(lons) == 0 {
		return nil, fmt.Errorf("region %+v selects no grid points", b)
	}

	grid := Grid{
		Latitudes:  make([]float64, len(lats)),
		Longitudes: make([]float64, len(lons)),
		Levels:     append([]int(nil), c.Grid.Levels...),
	}
	for i, li := range lats {
		grid.Latitudes[i] = c.Grid.Latitudes[li]
	}
	for j, lj := range lons {
		grid.Longitudes[j] = c.Grid.Longitudes[lj]
	}

	out := newSeries(grid, c.Layout, c.Len())
	out.Times = append(out.Times, c.Times...)

	nlat, nlon := len(c.Grid.Latitudes), len(c.Grid.Longitudes)
	for _, f := range c.Layout.Fields() {
		src := c.Variables[f]
		if src == nil {
			return nil, fmt.Errorf("region: field %s missing", f)
		}
		// Every leading index (time, or time*level) selects one lat/lon slab.
		slabs := src.Shape.Size() / (nlat * nlon)
		dst := out.Variables[f]
		for s := 0; s < slabs; s++ {
			base := s * nlat * nlon
			for _, li := range lats {
				row := base + li*nlon
				for _, lj := range lons {
					dst.Data = append(dst.Data, src.Data[row+lj])
				}
			}
		}
	}
	return out, nil
}
