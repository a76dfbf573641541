/*
Forecast drives the multi-step inference pipeline from the command line.

Usage:

	forecast command [arguments]

The commands are:

	run         run a forecast from an analysis file to a combined series
	plan        print the operator sequence covering a horizon
	combine     merge the per-step files of a run into one series
	inspect     list the variables of a gridded archive file
	track       follow a cyclone through a combined series

Configuration is read from the environment (and .env), as for the
weather-inference service; flags override it.
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/i474232898/weather-inference/internal/config"
	"github.com/i474232898/weather-inference/internal/logging"
)

// A Command is an implementation of a forecast subcommand.
type Command struct {
	Run       func(cmd *Command, args []string) error
	UsageLine string
	Short     string
	Long      string
	Flag      flag.FlagSet
}

// Name is the first word of the usage line.
func (c *Command) Name() string {
	name := c.UsageLine
	if i := strings.Index(name, " "); i >= 0 {
		name = name[:i]
	}
	return name
}

func (c *Command) Usage() {
	fmt.Fprintf(os.Stderr, "usage: forecast %s\n\n", c.UsageLine)
	c.Flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "%s\n", strings.TrimSpace(c.Long))
	os.Exit(2)
}

// Order here is the order printed by usage.
var commands = []*Command{
	cmdRun,
	cmdPlan,
	cmdCombine,
	cmdInspect,
	cmdTrack,
}

var usageTemplate = template.Must(template.New("usage").Parse(`Forecast drives the multi-step inference pipeline.

Usage:

	forecast command [arguments]

The commands are:
{{range .}}
	{{.Name | printf "%-11s"}} {{.Short}}{{end}}

Use "forecast command -h" for more information about a command.
`))

func usage() {
	_ = usageTemplate.Execute(os.Stderr, commands)
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	log.SetFlags(0)

	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	for _, cmd := range commands {
		if cmd.Name() != args[0] {
			continue
		}
		cmd.Flag.Usage = cmd.Usage
		_ = cmd.Flag.Parse(args[1:])
		if err := cmd.Run(cmd, cmd.Flag.Args()); err != nil {
			log.Printf("forecast %s: %v", cmd.Name(), err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "forecast: unknown subcommand %q\nRun 'forecast' for usage.\n", args[0])
	os.Exit(2)
}

// loadEnv reads the shared configuration and builds the CLI logger.
func loadEnv() (*config.AppConfig, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.NewWriter(os.Stderr, cfg.AppEnv, cfg.LogLevel, "forecast"), nil
}
