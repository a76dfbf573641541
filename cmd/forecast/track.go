package main

import (
	"fmt"

	"github.com/i474232898/weather-inference/internal/forecast"
	"github.com/i474232898/weather-inference/internal/gridio"
	"github.com/i474232898/weather-inference/internal/track"
)

var cmdTrack = &Command{
	UsageLine: "track config.yaml",
	Short:     "follow a cyclone through a combined series",
	Long: `
Track reads a YAML job (input_file, start_lat, start_lon, tracking_radius_deg,
search_radius_deg, correction_factor, output_base_dir and an optional region)
and follows the mean sea level pressure minimum from the start position
through every time step. For each step it reports the centre, the minimum
pressure, the corrected maximum 10 m wind and its intensity category, and
writes them as CSV to <output_base_dir>/<experiment>/<experiment>_intensity.csv.
`,
}

func init() {
	cmdTrack.Run = runTrack // break init cycle
}

func runTrack(cmd *Command, args []string) error {
	if len(args) != 1 {
		cmd.Usage()
	}
	cfg, err := track.LoadConfig(args[0])
	if err != nil {
		return err
	}
	series, err := gridio.ReadSeries(cfg.InputFile, forecast.DefaultLayout())
	if err != nil {
		return err
	}
	if cfg.Region != nil {
		if series, err = series.Region(*cfg.Region); err != nil {
			return err
		}
	}

	points, err := track.Track(series, cfg.Options())
	if err != nil {
		return err
	}
	for _, p := range points {
		fmt.Printf("%s  %6.2f %7.2f  %8.1f Pa  %5.1f m/s  %s\n",
			p.Time.Format("2006-01-02 15:04"), p.Latitude, p.Longitude, p.MinPressure, p.MaxWind, p.Category.Name)
	}
	out := cfg.OutputPath()
	if err := track.SaveCSV(out, points); err != nil {
		return err
	}
	fmt.Printf("%d points\t%s\n", len(points), out)
	return nil
}
