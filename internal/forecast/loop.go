package forecast

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"
)

// Loop threads a state through the operators of a plan, one step at a time.
type Loop struct {
	codec  *Codec
	logger *slog.Logger

	// StepTimeout bounds a single operator invocation; zero means no limit.
	StepTimeout time.Duration
}

// NewLoop returns an inference loop using codec at every operator boundary.
func NewLoop(codec *Codec, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{codec: codec, logger: logger}
}

// Run lazily executes plan starting from initial, yielding one snapshot per
// completed step. It stops after yielding the first error. Cancellation of ctx
// is observed between steps, never during an operator invocation; snapshots
// already yielded stay valid in every case.
//
// Each step's input is exactly the previous step's output; initial is only
// ever read by the first step.
func (l *Loop) Run(ctx context.Context, initial *AtmosphericState, plan HorizonPlan) iter.Seq2[Snapshot, error] {
	return func(yield func(Snapshot, error) bool) {
		if initial == nil {
			yield(Snapshot{}, fmt.Errorf("nil initial state"))
			return
		}
		if !initial.Time().Equal(plan.Start) {
			yield(Snapshot{}, &InvalidRangeError{
				Start: plan.Start, End: plan.End,
				Msg: "initial state is valid at " + initial.Time().Format(stampLayout),
			})
			return
		}

		current := initial
		for i, step := range plan.Steps {
			if err := ctx.Err(); err != nil {
				yield(Snapshot{}, fmt.Errorf("cancelled before step %d (%s): %w", i+1, step.Valid.Format(stampLayout), err))
				return
			}

			next, err := l.step(ctx, i+1, current, step)
			if err != nil {
				yield(Snapshot{}, err)
				return
			}

			snap := Snapshot{Step: i + 1, Operator: step.Operator.Name, State: next}
			if !yield(snap, nil) {
				return
			}
			current = next
		}
	}
}

func (l *Loop) step(ctx context.Context, index int, current *AtmosphericState, step PlanStep) (*AtmosphericState, error) {
	op := step.Operator

	in, err := l.codec.Encode(current)
	if err != nil {
		return nil, err
	}
	if err := checkContract("operator input", op.Name, op.Input, in, current.Time()); err != nil {
		return nil, err
	}

	// A started step runs to completion even if the run is cancelled meanwhile.
	opCtx := context.WithoutCancel(ctx)
	if l.StepTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(opCtx, l.StepTimeout)
		defer cancel()
	}

	began := time.Now()
	out, err := op.Operator.Apply(opCtx, in)
	if err != nil {
		return nil, &StepExecutionError{Step: index, Operator: op.Name, Time: step.Valid, Err: err}
	}
	if err := checkContract("operator output", op.Name, op.Output, out, step.Valid); err != nil {
		return nil, err
	}

	next, err := l.codec.Decode(out, step.Valid)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("forecast step completed",
		"step", index,
		"operator", op.Name,
		"valid_time", step.Valid,
		"elapsed", time.Since(began),
	)
	return next, nil
}

// Collect drains a loop run, returning every snapshot produced before the
// first error together with that error.
func Collect(seq iter.Seq2[Snapshot, error]) ([]Snapshot, error) {
	var out []Snapshot
	for snap, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, snap)
	}
	return out, nil
}
