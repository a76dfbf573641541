package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/i474232898/weather-inference/internal/forecast"
)

var (
	_ forecast.RunStore = (*MemoryStore)(nil)
	_ forecast.RunStore = (*SQLiteStore)(nil)
)

func newStores(t *testing.T) map[string]forecast.RunStore {
	t.Helper()
	lite, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "runs.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if err := lite.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
	})
	return map[string]forecast.RunStore{
		"memory": NewMemoryStore(0),
		"sqlite": lite,
	}
}

func pendingRun(id string, created time.Time) forecast.Run {
	start := time.Date(2018, 7, 18, 20, 0, 0, 0, time.UTC)
	return forecast.Run{
		ID:           id,
		Start:        start,
		End:          start.Add(4 * time.Hour),
		Policy:       forecast.PolicyMixed,
		PlannedSteps: 2,
		Status:       forecast.RunPending,
		CreatedAt:    created,
	}
}

func TestRunLifecycle(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			run := pendingRun("run-a", now)

			if err := s.CreateRun(ctx, run); err != nil {
				t.Fatalf("CreateRun: %v", err)
			}
			if err := s.CreateRun(ctx, run); !errors.Is(err, ErrExists) {
				t.Fatalf("duplicate CreateRun: got %v, want ErrExists", err)
			}
			if err := s.UpdateStatus(ctx, run.ID, forecast.RunRunning); err != nil {
				t.Fatalf("UpdateStatus: %v", err)
			}

			step := forecast.StepRecord{
				Index:       1,
				Operator:    "pangu_weather_3",
				Increment:   3 * time.Hour,
				Valid:       run.Start.Add(3 * time.Hour),
				Path:        "/out/run-a/forecast_2018-07-18-23-00.nc",
				CompletedAt: now.Add(time.Minute),
			}
			if err := s.AppendStep(ctx, run.ID, step); err != nil {
				t.Fatalf("AppendStep: %v", err)
			}

			failedAt := run.Start.Add(4 * time.Hour)
			if err := s.FinishRun(ctx, run.ID, forecast.RunOutcome{
				Status:         forecast.RunFailed,
				SeriesPath:     "/out/run-a/combined.nc",
				Error:          "boom",
				FailedAt:       failedAt,
				FailedOperator: "pangu_weather_1",
				FinishedAt:     now.Add(2 * time.Minute),
			}); err != nil {
				t.Fatalf("FinishRun: %v", err)
			}

			got, err := s.GetRun(ctx, run.ID)
			if err != nil {
				t.Fatalf("GetRun: %v", err)
			}
			if got.Status != forecast.RunFailed || got.Error != "boom" || got.FailedOperator != "pangu_weather_1" {
				t.Fatalf("unexpected run %+v", got)
			}
			if got.FailedAt == nil || !got.FailedAt.Equal(failedAt) {
				t.Fatalf("FailedAt = %v, want %v", got.FailedAt, failedAt)
			}
			if got.FinishedAt == nil {
				t.Fatal("FinishedAt not set")
			}
			if len(got.Steps) != 1 || got.Steps[0].Increment != 3*time.Hour || !got.Steps[0].Valid.Equal(step.Valid) {
				t.Fatalf("unexpected steps %+v", got.Steps)
			}
			if !got.LastValid().Equal(step.Valid) {
				t.Fatalf("LastValid = %v", got.LastValid())
			}

			// Terminal runs are immutable.
			if err := s.AppendStep(ctx, run.ID, step); !errors.Is(err, ErrFinished) {
				t.Fatalf("AppendStep after finish: got %v, want ErrFinished", err)
			}
			if err := s.UpdateStatus(ctx, run.ID, forecast.RunRunning); !errors.Is(err, ErrFinished) {
				t.Fatalf("UpdateStatus after finish: got %v, want ErrFinished", err)
			}
		})
	}
}

func TestUnknownRun(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetRun: got %v, want ErrNotFound", err)
			}
			if err := s.UpdateStatus(ctx, "missing", forecast.RunRunning); !errors.Is(err, ErrNotFound) {
				t.Fatalf("UpdateStatus: got %v, want ErrNotFound", err)
			}
			if err := s.FinishRun(ctx, "missing", forecast.RunOutcome{Status: forecast.RunSucceeded}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("FinishRun: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, id := range []string{"a", "b", "c"} {
				if err := s.CreateRun(ctx, pendingRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
					t.Fatalf("CreateRun %s: %v", id, err)
				}
			}

			all, err := s.ListRuns(ctx, 0)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
				t.Fatalf("unexpected order %+v", all)
			}

			two, err := s.ListRuns(ctx, 2)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(two) != 2 || two[0].ID != "c" || two[1].ID != "b" {
				t.Fatalf("unexpected limited list %+v", two)
			}
		})
	}
}

func TestMemoryStoreRetention(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(1)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new", "live"} {
		if err := s.CreateRun(ctx, pendingRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	for _, id := range []string{"old", "new"} {
		if err := s.FinishRun(ctx, id, forecast.RunOutcome{Status: forecast.RunSucceeded, FinishedAt: base}); err != nil {
			t.Fatalf("FinishRun: %v", err)
		}
	}

	if _, err := s.GetRun(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected oldest finished run to be evicted, got %v", err)
	}
	for _, id := range []string{"new", "live"} {
		if _, err := s.GetRun(ctx, id); err != nil {
			t.Fatalf("GetRun %s: %v", id, err)
		}
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	if err := s.CreateRun(ctx, pendingRun("x", time.Now())); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.AppendStep(ctx, "x", forecast.StepRecord{Index: 1, Operator: "op"}); err != nil {
		t.Fatalf("AppendStep: %v", err)
	}
	got, _ := s.GetRun(ctx, "x")
	got.Steps[0].Operator = "mutated"

	again, _ := s.GetRun(ctx, "x")
	if again.Steps[0].Operator != "op" {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestSQLiteReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	s, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.CreateRun(ctx, pendingRun("persisted", time.Now())); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Migrations already applied must be skipped on reopen.
	s, err = OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.GetRun(ctx, "persisted"); err != nil {
		t.Fatalf("GetRun after reopen: %v", err)
	}
}
