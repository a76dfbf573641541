package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/i474232898/weather-inference/internal/forecast"
	"github.com/i474232898/weather-inference/internal/gridio"
)

var cmdCombine = &Command{
	UsageLine: "combine [-output dir] [-partial] [-region latmin,latmax,lonmin,lonmax] run-id",
	Short:     "merge the per-step files of a run into one series",
	Long: `
Combine reads every forecast_<YYYY-MM-DD-HH-MM>.nc file of a run directory in
time order and writes the combined series next to them. With -region only
the given latitude/longitude box is kept; lonmin greater than lonmax selects
a band across the 0/360 meridian.
`,
}

var (
	combineOutput  string
	combinePartial bool
	combineRegion  string
)

func init() {
	cmdCombine.Run = runCombine // break init cycle
	cmdCombine.Flag.StringVar(&combineOutput, "output", "", "output directory holding run directories (default OUTPUT_DIR)")
	cmdCombine.Flag.BoolVar(&combinePartial, "partial", false, "exclude inconsistent snapshots instead of failing")
	cmdCombine.Flag.StringVar(&combineRegion, "region", "", "latmin,latmax,lonmin,lonmax")
}

func runCombine(cmd *Command, args []string) error {
	if len(args) != 1 {
		cmd.Usage()
	}
	cfg, logger, err := loadEnv()
	if err != nil {
		return err
	}
	if combineOutput != "" {
		cfg.OutputDir = combineOutput
	}

	archive := gridio.NewArchive(cfg.OutputDir)
	snaps, err := archive.ReadSnapshots(args[0], forecast.DefaultLayout())
	if err != nil {
		return err
	}
	series, err := forecast.Assembler{AllowPartial: combinePartial}.Combine(snaps)
	if err != nil {
		return err
	}
	for _, r := range series.Rejected {
		logger.Warn("snapshot excluded", "index", r.Index, "valid_time", r.Time, "error", r)
	}

	if combineRegion != "" {
		box, err := parseBox(combineRegion)
		if err != nil {
			return err
		}
		if series, err = series.Region(box); err != nil {
			return err
		}
	}

	path, err := archive.WriteSeries(context.Background(), args[0], series)
	if err != nil {
		return err
	}
	fmt.Printf("%d steps\t%s\n", series.Len(), path)
	return nil
}

func parseBox(s string) (forecast.Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return forecast.Box{}, fmt.Errorf("region %q: want latmin,latmax,lonmin,lonmax", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return forecast.Box{}, fmt.Errorf("region %q: %w", s, err)
		}
		v[i] = f
	}
	return forecast.Box{LatMin: v[0], LatMax: v[1], LonMin: v[2], LonMax: v[3]}, nil
}
