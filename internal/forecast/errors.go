package forecast

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRange       = errors.New("invalid forecast range")
	ErrUnreachableHorizon = errors.New("unreachable forecast horizon")
	ErrShapeMismatch      = errors.New("shape mismatch")
	ErrStepExecution      = errors.New("step execution failed")
	ErrInconsistentSeries = errors.New("inconsistent snapshot series")
)

const stampLayout = "2006-01-02T15:04Z07:00"

// InvalidRangeError is returned for malformed horizon requests.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
	Msg   string
}

func (e *InvalidRangeError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "end must be after start"
	}
	return fmt.Sprintf("%s [%s, %s]: %s", ErrInvalidRange, e.Start.Format(stampLayout), e.End.Format(stampLayout), msg)
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// UnreachableHorizonError is returned when no combination of increments sums
// to the requested horizon.
type UnreachableHorizonError struct {
	Horizon    time.Duration
	Increments []time.Duration
}

func (e *UnreachableHorizonError) Error() string {
	return fmt.Sprintf("%s: %s is not a sum of %v", ErrUnreachableHorizon, e.Horizon, e.Increments)
}

func (e *UnreachableHorizonError) Unwrap() error { return ErrUnreachableHorizon }

// ShapeMismatchError reports a tensor whose dimensions violate the grid contract.
type ShapeMismatchError struct {
	Where    string // codec, operator input, operator output, assembly
	Tensor   string
	Operator string
	Time     time.Time
	Want     Shape
	Got      Shape
}

func (e *ShapeMismatchError) Error() string {
	msg := fmt.Sprintf("%s at %s: %s tensor has shape %s, want %s", ErrShapeMismatch, e.Where, e.Tensor, e.Got, e.Want)
	if e.Operator != "" {
		msg += " (operator " + e.Operator + ")"
	}
	if !e.Time.IsZero() {
		msg += " valid " + e.Time.Format(stampLayout)
	}
	return msg
}

func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

// StepExecutionError wraps an operator failure with the step it happened on.
type StepExecutionError struct {
	Step     int
	Operator string
	Time     time.Time // valid time the step was meant to produce
	Err      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("%s: step %d (%s) to %s: %v", ErrStepExecution, e.Step, e.Operator, e.Time.Format(stampLayout), e.Err)
}

func (e *StepExecutionError) Is(target error) bool { return target == ErrStepExecution }

func (e *StepExecutionError) Unwrap() error { return e.Err }

// InconsistentSeriesError reports a snapshot rejected during assembly.
type InconsistentSeriesError struct {
	Index int
	Time  time.Time
	Msg   string
	Cause error
}

func (e *InconsistentSeriesError) Error() string {
	msg := fmt.Sprintf("%s: snapshot %d", ErrInconsistentSeries, e.Index)
	if !e.Time.IsZero() {
		msg += " valid " + e.Time.Format(stampLayout)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *InconsistentSeriesError) Is(target error) bool { return target == ErrInconsistentSeries }

func (e *InconsistentSeriesError) Unwrap() error { return e.Cause }
