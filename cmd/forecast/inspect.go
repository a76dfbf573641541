package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/i474232898/weather-inference/internal/forecast"
	"github.com/i474232898/weather-inference/internal/gridio"
)

var cmdInspect = &Command{
	UsageLine: "inspect [-json] file.nc",
	Short:     "list the variables of a gridded archive file",
	Long: `
Inspect prints the time axis and every coordinate and data variable of a
snapshot or combined series file with its units, dimensions and shape.
`,
}

var inspectJSON bool

func init() {
	cmdInspect.Run = runInspect // break init cycle
	cmdInspect.Flag.BoolVar(&inspectJSON, "json", false, "dump information in JSON format")
}

func runInspect(cmd *Command, args []string) error {
	if len(args) != 1 {
		cmd.Usage()
	}
	series, err := gridio.ReadSeries(args[0], forecast.DefaultLayout())
	if err != nil {
		return err
	}

	if inspectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Times     []time.Time             `json:"times"`
			Variables []forecast.VariableInfo `json:"variables"`
		}{series.Times, series.Describe()})
	}

	fmt.Printf("times: %d", series.Len())
	if series.Len() > 0 {
		fmt.Printf(" (%s .. %s)", series.Times[0].Format(time.RFC3339), series.Times[series.Len()-1].Format(time.RFC3339))
	}
	fmt.Println()
	for _, v := range series.Describe() {
		fmt.Printf("%-28s %-14s (%s) %s\n", v.Name, v.Units, strings.Join(v.Dims, ", "), v.Shape)
	}
	return nil
}
