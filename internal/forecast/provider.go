package forecast

import (
	"context"
	"time"
)

// InitialStateSource supplies analysis states for a requested valid time.
type InitialStateSource interface {
	Load(ctx context.Context, codec *Codec, valid time.Time) (*AtmosphericState, error)
}

// Archive persists snapshots and combined series, returning where they went.
type Archive interface {
	WriteSnapshot(ctx context.Context, runID string, s Snapshot) (string, error)
	WriteSeries(ctx context.Context, runID string, c *CombinedTimeSeries) (string, error)
}

// RunStore is the contract the run ledger (in-memory or SQLite) must satisfy.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateStatus(ctx context.Context, runID string, status RunStatus) error
	AppendStep(ctx context.Context, runID string, step StepRecord) error
	FinishRun(ctx context.Context, runID string, outcome RunOutcome) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Notifier publishes run and step events to interested parties.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}
