package track

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var header = []string{
	"time", "latitude", "longitude", "min_pressure_pa", "max_wind_speed_ms",
	"intensity_code", "intensity_category", "intensity_color",
}

// WriteCSV writes one row per track point.
func WriteCSV(w io.Writer, points []Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, p := range points {
		row := []string{
			p.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.Latitude, 'f', -1, 64),
			strconv.FormatFloat(p.Longitude, 'f', -1, 64),
			strconv.FormatFloat(p.MinPressure, 'f', 1, 64),
			strconv.FormatFloat(p.MaxWind, 'f', 2, 64),
			p.Category.Code,
			p.Category.Name,
			p.Category.Color,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the track to path, creating parent directories.
func SaveCSV(path string, points []Point) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, points); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
