package forecast

import "time"

// RunStatus is the lifecycle state of a forecast run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// RunRequest asks for a forecast from Start to End.
type RunRequest struct {
	ID     string
	Start  time.Time
	End    time.Time
	Policy Policy
}

// StepRecord is the ledger entry of one completed step.
type StepRecord struct {
	Index       int           `json:"index"`
	Operator    string        `json:"operator"`
	Increment   time.Duration `json:"increment"`
	Valid       time.Time     `json:"validTime"`
	Path        string        `json:"path,omitempty"`
	CompletedAt time.Time     `json:"completedAt"`
}

// RunOutcome is recorded when a run reaches a terminal status.
type RunOutcome struct {
	Status         RunStatus
	SeriesPath     string
	Error          string
	FailedAt       time.Time // valid time of the failed step
	FailedOperator string
	FinishedAt     time.Time
}

// Run is the ledger view of a forecast run.
type Run struct {
	ID             string       `json:"id"`
	Start          time.Time    `json:"start"`
	End            time.Time    `json:"end"`
	Policy         Policy       `json:"policy"`
	PlannedSteps   int          `json:"plannedSteps"`
	Status         RunStatus    `json:"status"`
	Steps          []StepRecord `json:"steps,omitempty"`
	SeriesPath     string       `json:"seriesPath,omitempty"`
	Error          string       `json:"error,omitempty"`
	FailedAt       *time.Time   `json:"failedAt,omitempty"`
	FailedOperator string       `json:"failedOperator,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	FinishedAt     *time.Time   `json:"finishedAt,omitempty"`
}

// LastValid returns the valid time of the last completed step, or Start.
func (r Run) LastValid() time.Time {
	if len(r.Steps) == 0 {
		return r.Start
	}
	return r.Steps[len(r.Steps)-1].Valid
}

// EventKind classifies published events.
type EventKind string

const (
	EventStepCompleted EventKind = "step_completed"
	EventRunFinished   EventKind = "run_finished"
)

// Event describes a step completion or a run reaching a terminal status.
type Event struct {
	Kind     EventKind `json:"kind"`
	RunID    string    `json:"runId"`
	Step     int       `json:"step,omitempty"`
	Operator string    `json:"operator,omitempty"`
	Valid    time.Time `json:"validTime,omitempty"`
	Path     string    `json:"path,omitempty"`
	Status   RunStatus `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
