package scheduler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-inference/internal/common"
	"github.com/i474232898/weather-inference/internal/forecast"
	"github.com/i474232898/weather-inference/internal/store"
)

// Submitter accepts forecast runs for background execution.
type Submitter interface {
	Submit(req forecast.RunRequest) (forecast.Run, forecast.HorizonPlan, error)
}

// Config describes the forecast cycle.
type Config struct {
	// Interval between cycles; cycle start times are aligned to it (e.g. 6h
	// gives 00, 06, 12 and 18 UTC).
	Interval time.Duration
	// Lag is how long after the nominal analysis time its input is expected.
	Lag time.Duration
	// Horizon is the forecast length of each cycle.
	Horizon time.Duration
	Policy  forecast.Policy
}

// Scheduler periodically submits one forecast run per analysis cycle.
type Scheduler struct {
	scheduler *gocron.Scheduler
	submitter Submitter
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a new Scheduler.
func New(cfg Config, submitter Submitter, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		submitter: submitter,
		cfg:       cfg,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
	}
}

// CycleStart returns the latest cycle whose input should be available at now.
func (s *Scheduler) CycleStart(now time.Time) time.Time {
	return now.UTC().Add(-s.cfg.Lag).Truncate(s.cfg.Interval)
}

// RunCycle submits the cycle due at now. Each cycle has a stable run id, so a
// cycle already in the ledger is not submitted twice.
func (s *Scheduler) RunCycle(now time.Time) (forecast.Run, error) {
	start := s.CycleStart(now)
	req := forecast.RunRequest{
		ID:     "cycle-" + common.FormatStamp(start),
		Start:  start,
		End:    start.Add(s.cfg.Horizon),
		Policy: s.cfg.Policy,
	}
	run, plan, err := s.submitter.Submit(req)
	if errors.Is(err, store.ErrExists) {
		s.logger.Debug("cycle already submitted", "run_id", req.ID)
		return forecast.Run{}, err
	}
	if err != nil {
		s.logger.Error("cycle submission failed", "run_id", req.ID, "start", start, "error", err)
		return forecast.Run{}, err
	}
	s.logger.Info("cycle submitted", "run_id", run.ID, "start", run.Start, "end", run.End, "steps", len(plan.Steps))
	return run, nil
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first cycle runs immediately.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.cfg.Interval).Do(func() {
		_, _ = s.RunCycle(s.now())
	})
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
