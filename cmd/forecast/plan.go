package main

import (
	"fmt"
	"time"

	"github.com/i474232898/weather-inference/internal/forecast"
)

var cmdPlan = &Command{
	UsageLine: "plan [flags] -start time -end time",
	Short:     "print the operator sequence covering a horizon",
	Long: `
Plan prints, one line per step, the valid time, increment and operator the
pipeline would use between -start and -end. No operator is invoked.
`,
}

var planFlags pipelineFlags

func init() {
	cmdPlan.Run = runPlan // break init cycle
	planFlags.register(cmdPlan)
}

func runPlan(cmd *Command, args []string) error {
	if len(args) != 0 {
		cmd.Usage()
	}
	cfg, _, err := loadEnv()
	if err != nil {
		return err
	}
	if err := planFlags.apply(cfg); err != nil {
		return err
	}
	start, end, err := planFlags.times()
	if err != nil {
		return err
	}
	_, reg, err := planFlags.pipeline(cfg)
	if err != nil {
		return err
	}

	plan, err := forecast.NewHorizonScheduler(reg, cfg.SchedulePolicy).Plan(start, end)
	if err != nil {
		return err
	}
	for _, s := range plan.Steps {
		fmt.Printf("%s\t%s\t%s\n", s.Valid.Format(time.RFC3339), s.Operator.Step, s.Operator.Name)
	}
	fmt.Printf("%d steps\n", len(plan.Steps))
	return nil
}
