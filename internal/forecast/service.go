package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service orchestrates planning, inference, persistence and assembly of runs.
type Service struct {
	codec    *Codec
	registry *Registry
	planner  *HorizonScheduler
	loop     *Loop
	source   InitialStateSource
	archive  Archive
	store    RunStore
	notifier Notifier
	partial  bool
	logger   *slog.Logger
}

// ServiceConfig bundles the collaborators of a Service. Notifier may be nil.
type ServiceConfig struct {
	Codec           *Codec
	Registry        *Registry
	Policy          Policy
	Source          InitialStateSource
	Archive         Archive
	Store           RunStore
	Notifier        Notifier
	PartialAssembly bool
	// StepTimeout bounds each operator invocation; zero means no limit.
	StepTimeout     time.Duration
	Logger          *slog.Logger
}

// NewService creates a new Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loop := NewLoop(cfg.Codec, logger)
	loop.StepTimeout = cfg.StepTimeout
	return &Service{
		codec:    cfg.Codec,
		registry: cfg.Registry,
		planner:  NewHorizonScheduler(cfg.Registry, cfg.Policy),
		loop:     loop,
		source:   cfg.Source,
		archive:  cfg.Archive,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		partial:  cfg.PartialAssembly,
		logger:   logger,
	}
}

// Registry exposes the operator catalog.
func (s *Service) Registry() *Registry { return s.registry }

// Plan computes a plan without running anything. An empty policy uses the
// service default.
func (s *Service) Plan(start, end time.Time, policy Policy) (HorizonPlan, error) {
	if policy == "" {
		policy = s.planner.Policy()
	}
	return s.planner.PlanWith(start, end, policy)
}

// Prepare validates and plans a request and records it as pending. Range and
// horizon errors are returned before anything is written.
func (s *Service) Prepare(ctx context.Context, req RunRequest) (Run, HorizonPlan, error) {
	plan, err := s.Plan(req.Start, req.End, req.Policy)
	if err != nil {
		return Run{}, HorizonPlan{}, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	policy := req.Policy
	if policy == "" {
		policy = s.planner.Policy()
	}

	run := Run{
		ID:           req.ID,
		Start:        plan.Start,
		End:          plan.End,
		Policy:       policy,
		PlannedSteps: len(plan.Steps),
		Status:       RunPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return Run{}, HorizonPlan{}, fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return run, plan, nil
}

// RunResult is what Execute produced, including partial output on failure.
type RunResult struct {
	Run    Run
	Series *CombinedTimeSeries
}

// Run prepares and executes a request synchronously.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	run, plan, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, run, plan)
}

// Execute runs a prepared plan. Every completed step is persisted and
// recorded before the next one starts; on failure or cancellation the steps
// already produced are kept and combined into a partial series.
func (s *Service) Execute(ctx context.Context, run Run, plan HorizonPlan) (*RunResult, error) {
	logger := s.logger.With("run_id", run.ID)
	// Bookkeeping must survive cancellation of the run itself.
	bg := context.WithoutCancel(ctx)

	if err := s.store.UpdateStatus(bg, run.ID, RunRunning); err != nil {
		return nil, fmt.Errorf("mark run %s running: %w", run.ID, err)
	}
	logger.Info("forecast run started",
		"start", plan.Start,
		"end", plan.End,
		"steps", len(plan.Steps),
		"increments", plan.Increments(),
	)

	var (
		snapshots []Snapshot
		runErr    error
	)

	initial, err := s.source.Load(ctx, s.codec, plan.Start)
	if err != nil {
		runErr = fmt.Errorf("load initial state at %s: %w", plan.Start.Format(stampLayout), err)
	} else {
		for snap, err := range s.loop.Run(ctx, initial, plan) {
			if err != nil {
				runErr = err
				break
			}
			if err := s.record(bg, run.ID, snap); err != nil {
				runErr = err
				break
			}
			snapshots = append(snapshots, snap)
		}
	}

	outcome := RunOutcome{Status: RunSucceeded}
	result := &RunResult{}

	if len(snapshots) > 0 {
		grid := s.codec.Grid()
		series, err := Assembler{Grid: &grid, AllowPartial: s.partial}.Combine(snapshots)
		if err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("combine: %w", err))
		} else {
			result.Series = series
			path, err := s.archive.WriteSeries(bg, run.ID, series)
			if err != nil {
				runErr = errors.Join(runErr, fmt.Errorf("write combined series: %w", err))
			}
			outcome.SeriesPath = path
		}
	}

	if runErr != nil {
		outcome.Status = RunFailed
		// Only the run's own context marks it cancelled; a step timeout is a failure.
		if ctx.Err() != nil && errors.Is(runErr, ctx.Err()) {
			outcome.Status = RunCancelled
		}
		outcome.Error = runErr.Error()
		var stepErr *StepExecutionError
		if errors.As(runErr, &stepErr) {
			outcome.FailedAt = stepErr.Time
			outcome.FailedOperator = stepErr.Operator
		} else if len(snapshots) < len(plan.Steps) {
			next := plan.Steps[len(snapshots)]
			outcome.FailedAt = next.Valid
			outcome.FailedOperator = next.Operator.Name
		}
	}
	outcome.FinishedAt = time.Now().UTC()

	if err := s.store.FinishRun(bg, run.ID, outcome); err != nil {
		logger.Error("failed to record run outcome", "error", err)
	}
	s.publish(bg, Event{
		Kind:   EventRunFinished,
		RunID:  run.ID,
		Status: outcome.Status,
		Path:   outcome.SeriesPath,
		Error:  outcome.Error,
		At:     outcome.FinishedAt,
	})

	if stored, err := s.store.GetRun(bg, run.ID); err == nil {
		result.Run = stored
	} else {
		result.Run = run
	}

	if runErr != nil {
		logger.Error("forecast run failed",
			"status", outcome.Status,
			"completed_steps", len(snapshots),
			"failed_at", outcome.FailedAt,
			"operator", outcome.FailedOperator,
			"error", runErr,
		)
		return result, runErr
	}
	logger.Info("forecast run completed", "steps", len(snapshots), "series", outcome.SeriesPath)
	return result, nil
}

func (s *Service) record(ctx context.Context, runID string, snap Snapshot) error {
	path, err := s.archive.WriteSnapshot(ctx, runID, snap)
	if err != nil {
		return fmt.Errorf("write snapshot %d at %s: %w", snap.Step, snap.Time().Format(stampLayout), err)
	}

	rec := StepRecord{
		Index:       snap.Step,
		Operator:    snap.Operator,
		Valid:       snap.Time(),
		Path:        path,
		CompletedAt: time.Now().UTC(),
	}
	if d, ok := s.lookupByName(snap.Operator); ok {
		rec.Increment = d.Step
	}
	if err := s.store.AppendStep(ctx, runID, rec); err != nil {
		return fmt.Errorf("record step %d: %w", snap.Step, err)
	}

	s.publish(ctx, Event{
		Kind:     EventStepCompleted,
		RunID:    runID,
		Step:     snap.Step,
		Operator: snap.Operator,
		Valid:    snap.Time(),
		Path:     path,
		At:       rec.CompletedAt,
	})
	return nil
}

func (s *Service) lookupByName(name string) (Descriptor, bool) {
	for _, d := range s.registry.Descriptors() {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// publish is best effort: a notification failure never fails a run.
func (s *Service) publish(ctx context.Context, ev Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", "run_id", ev.RunID, "kind", ev.Kind, "error", err)
	}
}

// GetRun delegates to the underlying store.
func (s *Service) GetRun(ctx context.Context, id string) (Run, error) {
	return s.store.GetRun(ctx, id)
}

// ListRuns delegates to the underlying store.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return s.store.ListRuns(ctx, limit)
}
