package forecast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrRunNotActive is returned when cancelling a run that is not queued or running.
var ErrRunNotActive = errors.New("run is not active")

// Dispatcher executes runs in the background, at most a fixed number at a
// time. Each run owns its own state chain; runs never share states.
type Dispatcher struct {
	service *Service
	sem     *semaphore.Weighted
	base    context.Context
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher whose runs derive from ctx.
func NewDispatcher(ctx context.Context, service *Service, maxConcurrent int, logger *slog.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		service: service,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		base:    ctx,
		logger:  logger,
		active:  make(map[string]context.CancelFunc),
	}
}

// Submit plans and records the request, then executes it asynchronously.
// Planning errors are returned immediately.
func (d *Dispatcher) Submit(req RunRequest) (Run, HorizonPlan, error) {
	run, plan, err := d.service.Prepare(d.base, req)
	if err != nil {
		return Run{}, HorizonPlan{}, err
	}

	ctx, cancel := context.WithCancel(d.base)
	d.mu.Lock()
	d.active[run.ID] = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(run.ID)

		if err := d.sem.Acquire(ctx, 1); err != nil {
			d.logger.Info("forecast run cancelled while queued", "run_id", run.ID)
			d.service.abandon(run.ID, err)
			return
		}
		defer d.sem.Release(1)

		// Errors are recorded in the ledger by Execute.
		_, _ = d.service.Execute(ctx, run, plan)
	}()
	return run, plan, nil
}

// Cancel requests cooperative cancellation; the run stops before its next step.
func (d *Dispatcher) Cancel(id string) error {
	d.mu.Lock()
	cancel, ok := d.active[id]
	d.mu.Unlock()
	if !ok {
		return ErrRunNotActive
	}
	cancel()
	return nil
}

// Active returns the ids of queued or running runs.
func (d *Dispatcher) Active() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.active))
	for id := range d.active {
		out = append(out, id)
	}
	return out
}

// Wait blocks until every submitted run has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	cancel := d.active[id]
	delete(d.active, id)
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// abandon records a run that never started.
func (s *Service) abandon(runID string, cause error) {
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.store.FinishRun(ctx, runID, RunOutcome{
		Status:     RunCancelled,
		Error:      cause.Error(),
		FinishedAt: now,
	}); err != nil {
		s.logger.Error("failed to record abandoned run", "run_id", runID, "error", err)
	}
	s.publish(ctx, Event{Kind: EventRunFinished, RunID: runID, Status: RunCancelled, Error: cause.Error(), At: now})
}
