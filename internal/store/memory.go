package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/i474232898/weather-inference/internal/forecast"
)

var (
	// ErrNotFound is returned when no run has the requested id.
	ErrNotFound = errors.New("run not found")
	// ErrExists is returned when creating a run whose id is taken.
	ErrExists = errors.New("run already exists")
	// ErrFinished is returned when modifying a run in a terminal status.
	ErrFinished = errors.New("run already finished")
)

// MemoryStore is a concurrency-safe in-memory run ledger.
type MemoryStore struct {
	mu sync.RWMutex

	// key: run id
	runs  map[string]*forecast.Run
	order []string // creation order

	// retention configuration
	maxRuns int // max number of finished runs kept
}

// NewMemoryStore creates a new MemoryStore.
// If maxRuns is <= 0, finished runs are kept forever.
func NewMemoryStore(maxRuns int) *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]*forecast.Run),
		maxRuns: maxRuns,
	}
}

// CreateRun records a new run.
func (s *MemoryStore) CreateRun(_ context.Context, run forecast.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, run.ID)
	}
	r := cloneRun(run)
	s.runs[run.ID] = &r
	s.order = append(s.order, run.ID)
	s.evict()
	return nil
}

// UpdateStatus moves a run to a non-terminal status.
func (s *MemoryStore) UpdateStatus(_ context.Context, runID string, status forecast.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.active(runID)
	if err != nil {
		return err
	}
	r.Status = status
	return nil
}

// AppendStep records a completed step.
func (s *MemoryStore) AppendStep(_ context.Context, runID string, step forecast.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.active(runID)
	if err != nil {
		return err
	}
	r.Steps = append(r.Steps, step)
	return nil
}

// FinishRun records the terminal outcome of a run.
func (s *MemoryStore) FinishRun(_ context.Context, runID string, outcome forecast.RunOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.active(runID)
	if err != nil {
		return err
	}
	applyOutcome(r, outcome)
	s.evict()
	return nil
}

// GetRun returns a copy of the run.
func (s *MemoryStore) GetRun(_ context.Context, runID string) (forecast.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok {
		return forecast.Run{}, ErrNotFound
	}
	return cloneRun(*r), nil
}

// ListRuns returns the most recent runs first, at most limit when limit > 0.
func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]forecast.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]forecast.Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cloneRun(*s.runs[s.order[i]]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) active(runID string) (*forecast.Run, error) {
	r, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrFinished, runID, r.Status)
	}
	return r, nil
}

// evict enforces retention by dropping the oldest finished runs.
func (s *MemoryStore) evict() {
	if s.maxRuns <= 0 {
		return
	}
	finished := 0
	for _, id := range s.order {
		if s.runs[id].Status.Terminal() {
			finished++
		}
	}
	over := finished - s.maxRuns
	if over <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if over > 0 && s.runs[id].Status.Terminal() {
			delete(s.runs, id)
			over--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func applyOutcome(r *forecast.Run, o forecast.RunOutcome) {
	r.Status = o.Status
	r.SeriesPath = o.SeriesPath
	r.Error = o.Error
	r.FailedOperator = o.FailedOperator
	if !o.FailedAt.IsZero() {
		t := o.FailedAt
		r.FailedAt = &t
	}
	if !o.FinishedAt.IsZero() {
		t := o.FinishedAt
		r.FinishedAt = &t
	}
}

func cloneRun(r forecast.Run) forecast.Run {
	r.Steps = append([]forecast.StepRecord(nil), r.Steps...)
	if r.FailedAt != nil {
		t := *r.FailedAt
		r.FailedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	return r
}
