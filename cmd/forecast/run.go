package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/i474232898/weather-inference/internal/common"
	"github.com/i474232898/weather-inference/internal/config"
	"github.com/i474232898/weather-inference/internal/forecast"
	"github.com/i474232898/weather-inference/internal/forecast/operators"
	"github.com/i474232898/weather-inference/internal/gridio"
	"github.com/i474232898/weather-inference/internal/store"
)

var cmdRun = &Command{
	UsageLine: "run [flags] -start time -end time",
	Short:     "run a forecast from an analysis file to a combined series",
	Long: `
Run loads the analysis valid at -start from the input directory
(input_<YYYY-MM-DD-HH-MM>.nc), advances it to -end with the registered
operators and writes one file per step plus the combined series under
<output>/<run id>/.

Times are RFC3339, YYYY-MM-DD-HH-MM or unix seconds. If a step fails the
steps already produced are kept and combined; the error names the failed
valid time and operator so a new run can resume from the last snapshot.
`,
}

// pipelineFlags are shared by run and plan.
type pipelineFlags struct {
	start, end string
	policy     string
	steps      string
	backend    string
	url        string
	resolution float64
}

func (p *pipelineFlags) register(c *Command) {
	c.Flag.StringVar(&p.start, "start", "", "analysis (start) time")
	c.Flag.StringVar(&p.end, "end", "", "last valid time of the forecast")
	c.Flag.StringVar(&p.policy, "policy", "", "schedule policy: mixed or single (default SCHEDULE_POLICY)")
	c.Flag.StringVar(&p.steps, "steps", "", "comma separated operator increments, e.g. 1h,6h (default OPERATOR_STEPS)")
	c.Flag.StringVar(&p.backend, "backend", "", "operator backend: remote or persistence (default OPERATOR_BACKEND)")
	c.Flag.StringVar(&p.url, "url", "", "inference server base URL (default OPERATOR_URL)")
	c.Flag.Float64Var(&p.resolution, "resolution", 0, "grid resolution in degrees (default GRID_RESOLUTION)")
}

// apply overrides the environment configuration with the flags that were set.
func (p *pipelineFlags) apply(cfg *config.AppConfig) error {
	if p.policy != "" {
		policy, err := forecast.ParsePolicy(p.policy)
		if err != nil {
			return err
		}
		cfg.SchedulePolicy = policy
	}
	if p.steps != "" {
		cfg.OperatorSteps = cfg.OperatorSteps[:0]
		for _, s := range strings.Split(p.steps, ",") {
			d, err := time.ParseDuration(strings.TrimSpace(s))
			if err != nil {
				return fmt.Errorf("-steps: %w", err)
			}
			cfg.OperatorSteps = append(cfg.OperatorSteps, d)
		}
	}
	if p.backend != "" {
		cfg.OperatorBackend = operators.Backend(p.backend)
	}
	if p.url != "" {
		cfg.OperatorURL = p.url
	}
	if p.resolution != 0 {
		cfg.GridResolution = p.resolution
	}
	return nil
}

func (p *pipelineFlags) times() (time.Time, time.Time, error) {
	if p.start == "" || p.end == "" {
		return time.Time{}, time.Time{}, errors.New("-start and -end are required")
	}
	start, err := common.ParseTime(p.start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("-start: %w", err)
	}
	end, err := common.ParseTime(p.end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("-end: %w", err)
	}
	return start, end, nil
}

func (p *pipelineFlags) pipeline(cfg *config.AppConfig) (*forecast.Codec, *forecast.Registry, error) {
	grid, err := forecast.NewGrid(cfg.GridResolution)
	if err != nil {
		return nil, nil, err
	}
	codec := forecast.NewCodec(grid, forecast.DefaultLayout())
	reg, err := operators.NewRegistry(operators.Options{
		Backend: cfg.OperatorBackend,
		BaseURL: cfg.OperatorURL,
		Steps:   cfg.OperatorSteps,
		Client:  &http.Client{Timeout: cfg.OperatorTimeout},
		Backoff: operators.BackoffConfig{
			MaxRetries:      cfg.OperatorRetries,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
		},
	}, codec)
	if err != nil {
		return nil, nil, err
	}
	return codec, reg, nil
}

var (
	runFlags   pipelineFlags
	runInput   string
	runOutput  string
	runID      string
	runPartial bool
)

func init() {
	cmdRun.Run = runRun // break init cycle
	runFlags.register(cmdRun)
	cmdRun.Flag.StringVar(&runInput, "input", "", "directory of analysis files (default INPUT_DIR)")
	cmdRun.Flag.StringVar(&runOutput, "output", "", "output directory (default OUTPUT_DIR)")
	cmdRun.Flag.StringVar(&runID, "id", "", "run id (default <start>to<end>)")
	cmdRun.Flag.BoolVar(&runPartial, "partial", false, "exclude inconsistent snapshots instead of failing the combine")
}

func runRun(cmd *Command, args []string) error {
	if len(args) != 0 {
		cmd.Usage()
	}
	cfg, logger, err := loadEnv()
	if err != nil {
		return err
	}
	if err := runFlags.apply(cfg); err != nil {
		return err
	}
	if runInput != "" {
		cfg.InputDir = runInput
	}
	if runOutput != "" {
		cfg.OutputDir = runOutput
	}
	start, end, err := runFlags.times()
	if err != nil {
		return err
	}
	codec, reg, err := runFlags.pipeline(cfg)
	if err != nil {
		return err
	}

	id := runID
	if id == "" {
		id = common.FormatStamp(start) + "to" + common.FormatStamp(end)
	}

	svc := forecast.NewService(forecast.ServiceConfig{
		Codec:           codec,
		Registry:        reg,
		Policy:          cfg.SchedulePolicy,
		Source:          gridio.NewDirSource(cfg.InputDir),
		Archive:         gridio.NewArchive(cfg.OutputDir),
		Store:           store.NewMemoryStore(1),
		PartialAssembly: runPartial || cfg.PartialAssembly,
		StepTimeout:     cfg.StepTimeout,
		Logger:          logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := svc.Run(ctx, forecast.RunRequest{ID: id, Start: start, End: end, Policy: cfg.SchedulePolicy})
	if res != nil {
		for _, s := range res.Run.Steps {
			fmt.Printf("%s\t%s\t%s\n", s.Valid.Format(time.RFC3339), s.Operator, s.Path)
		}
		if res.Run.SeriesPath != "" {
			fmt.Printf("combined\t%s\n", res.Run.SeriesPath)
		}
		if err != nil && len(res.Run.Steps) > 0 {
			fmt.Printf("resume from %s\n", res.Run.LastValid().Format(time.RFC3339))
		}
	}
	return err
}
