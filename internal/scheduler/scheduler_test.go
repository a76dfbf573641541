package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/weather-inference/internal/forecast"
	"github.com/i474232898/weather-inference/internal/store"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	seen map[string]forecast.RunRequest
}

func (f *fakeSubmitter) Submit(req forecast.RunRequest) (forecast.Run, forecast.HorizonPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]forecast.RunRequest)
	}
	if _, ok := f.seen[req.ID]; ok {
		return forecast.Run{}, forecast.HorizonPlan{}, fmt.Errorf("record run %s: %w", req.ID, store.ErrExists)
	}
	f.seen[req.ID] = req
	return forecast.Run{ID: req.ID, Start: req.Start, End: req.End}, forecast.HorizonPlan{Start: req.Start, End: req.End}, nil
}

func TestCycleStart(t *testing.T) {
	s := New(Config{Interval: 6 * time.Hour, Lag: 3 * time.Hour, Horizon: 24 * time.Hour}, &fakeSubmitter{}, nil)
	cases := []struct {
		now, want time.Time
	}{
		{time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)},
		{time.Date(2024, 5, 1, 8, 59, 0, 0, time.UTC), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC), time.Date(2024, 4, 30, 18, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := s.CycleStart(tc.now); !got.Equal(tc.want) {
			t.Fatalf("CycleStart(%v) = %v, want %v", tc.now, got, tc.want)
		}
	}
}

func TestRunCycleSubmitsOncePerCycle(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(Config{Interval: 6 * time.Hour, Lag: time.Hour, Horizon: 12 * time.Hour, Policy: forecast.PolicySingle}, sub, nil)
	now := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)

	run, err := s.RunCycle(now)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if run.ID != "cycle-2024-05-01-12-00" {
		t.Fatalf("unexpected run id %s", run.ID)
	}
	req := sub.seen[run.ID]
	if !req.End.Equal(req.Start.Add(12*time.Hour)) || req.Policy != forecast.PolicySingle {
		t.Fatalf("unexpected request %+v", req)
	}

	// Same cycle later on is a no-op.
	if _, err := s.RunCycle(now.Add(2 * time.Hour)); !errors.Is(err, store.ErrExists) {
		t.Fatalf("expected ErrExists for repeated cycle, got %v", err)
	}
	if _, err := s.RunCycle(now.Add(6 * time.Hour)); err != nil {
		t.Fatalf("next cycle: %v", err)
	}
	if len(sub.seen) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(sub.seen))
	}
}

func TestStartRunsFirstCycle(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(Config{Interval: time.Hour, Horizon: time.Hour}, sub, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sub.mu.Lock()
		n := len(sub.seen)
		sub.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("first cycle was not submitted")
}
