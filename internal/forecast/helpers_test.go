package forecast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(1997, 8, 16, 2, 0, 0, 0, time.UTC)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	g, err := NewGrid(30)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	return NewCodec(g, DefaultLayout())
}

// filledState returns a state whose every value equals v.
func filledState(t *testing.T, c *Codec, valid time.Time, v float32) *AtmosphericState {
	t.Helper()
	fields := make(map[Field][]float32)
	for _, f := range c.Layout().Surface {
		fields[f] = fill(c.Grid().SurfaceShape().Size(), v)
	}
	for _, f := range c.Layout().Upper {
		fields[f] = fill(c.Grid().UpperShape().Size(), v)
	}
	s, err := c.Pack(fields, valid)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return s
}

func fill(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// addOperator adds delta to every value, so after k steps of delta 1 the
// state holds initial+k.
func addOperator(delta float32) StepOperator {
	return OperatorFunc(func(_ context.Context, in Tensors) (Tensors, error) {
		out := Tensors{Surface: in.Surface.clone(), Upper: in.Upper.clone()}
		for i := range out.Surface.Data {
			out.Surface.Data[i] += delta
		}
		for i := range out.Upper.Data {
			out.Upper.Data[i] += delta
		}
		return out, nil
	})
}

func testRegistry(t *testing.T, c *Codec, steps ...time.Duration) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, s := range steps {
		if err := r.Register(Descriptor{Step: s, Operator: addOperator(1)}, c); err != nil {
			t.Fatalf("register %s: %v", s, err)
		}
	}
	return r
}

type fakeSource struct {
	value float32
	err   error
}

func (f fakeSource) Load(_ context.Context, c *Codec, valid time.Time) (*AtmosphericState, error) {
	if f.err != nil {
		return nil, f.err
	}
	fields := make(map[Field][]float32)
	for _, fl := range c.Layout().Surface {
		fields[fl] = fill(c.Grid().SurfaceShape().Size(), f.value)
	}
	for _, fl := range c.Layout().Upper {
		fields[fl] = fill(c.Grid().UpperShape().Size(), f.value)
	}
	return c.Pack(fields, valid)
}

type fakeArchive struct {
	mu        sync.Mutex
	snapshots map[string][]Snapshot
	series    map[string]*CombinedTimeSeries
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{snapshots: map[string][]Snapshot{}, series: map[string]*CombinedTimeSeries{}}
}

func (a *fakeArchive) WriteSnapshot(_ context.Context, runID string, s Snapshot) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshots[runID] = append(a.snapshots[runID], s)
	return fmt.Sprintf("%s/step_%d", runID, s.Step), nil
}

func (a *fakeArchive) WriteSeries(_ context.Context, runID string, c *CombinedTimeSeries) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.series[runID] = c
	return runID + "/combined", nil
}

var errNoRun = errors.New("no such run")

type fakeStore struct {
	mu   sync.Mutex
	runs map[string]Run
}

func newFakeStore() *fakeStore { return &fakeStore{runs: map[string]Run{}} }

func (s *fakeStore) CreateRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return errors.New("run exists")
	}
	s.runs[run.ID] = run
	return nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id string, status RunStatus) error {
	return s.update(id, func(r *Run) { r.Status = status })
}

func (s *fakeStore) AppendStep(_ context.Context, id string, step StepRecord) error {
	return s.update(id, func(r *Run) { r.Steps = append(r.Steps, step) })
}

func (s *fakeStore) FinishRun(_ context.Context, id string, o RunOutcome) error {
	return s.update(id, func(r *Run) {
		r.Status = o.Status
		r.SeriesPath = o.SeriesPath
		r.Error = o.Error
		r.FailedOperator = o.FailedOperator
		if !o.FailedAt.IsZero() {
			at := o.FailedAt
			r.FailedAt = &at
		}
		fin := o.FinishedAt
		r.FinishedAt = &fin
	})
}

func (s *fakeStore) update(id string, fn func(*Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return errNoRun
	}
	fn(&r)
	s.runs[id] = r
	return nil
}

func (s *fakeStore) GetRun(_ context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return Run{}, errNoRun
	}
	return r, nil
}

func (s *fakeStore) ListRuns(_ context.Context, _ int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Publish(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) kinds() []EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventKind, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Kind
	}
	return out
}
