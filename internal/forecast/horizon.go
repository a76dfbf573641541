package forecast

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"time"
)

// Policy selects how a horizon may be decomposed into operator steps.
type Policy string

const (
	// PolicyMixed minimizes invocations, allowing different increments in one plan.
	PolicyMixed Policy = "mixed"
	// PolicySingle repeats a single operator for the whole horizon.
	PolicySingle Policy = "single"
)

// ParsePolicy parses a policy name; the empty string means PolicyMixed.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyMixed:
		return PolicyMixed, nil
	case PolicySingle:
		return PolicySingle, nil
	default:
		return "", fmt.Errorf("unknown schedule policy %q (allowed: mixed, single)", s)
	}
}

// maxPlanUnits bounds the dynamic program when increments share only a tiny
// common divisor relative to the horizon.
const maxPlanUnits = 1 << 20

// MaxIncrements caps the distinct increments a registry may serve. Planning
// runs one dynamic program per subset of increments.
const MaxIncrements = 8

// planTooFineError reports a horizon too long for the common step unit. The
// scheduler turns it into an InvalidRangeError once the times are known.
type planTooFineError struct {
	horizon, unit time.Duration
	units         int
}

func (e *planTooFineError) msg() string {
	return fmt.Sprintf("horizon %s spans %d units of %s", e.horizon, e.units, e.unit)
}

func (e *planTooFineError) Error() string { return ErrInvalidRange.Error() + ": " + e.msg() }

func (e *planTooFineError) Unwrap() error { return ErrInvalidRange }

// HorizonScheduler turns a [start, end] request into a HorizonPlan using the
// operators of a registry.
type HorizonScheduler struct {
	registry *Registry
	policy   Policy
}

// NewHorizonScheduler returns a scheduler over the given registry.
func NewHorizonScheduler(registry *Registry, policy Policy) *HorizonScheduler {
	if policy == "" {
		policy = PolicyMixed
	}
	return &HorizonScheduler{registry: registry, policy: policy}
}

// Policy returns the default policy of the scheduler.
func (s *HorizonScheduler) Policy() Policy { return s.policy }

// Plan computes the plan for [start, end] with the scheduler's default policy.
func (s *HorizonScheduler) Plan(start, end time.Time) (HorizonPlan, error) {
	return s.PlanWith(start, end, s.policy)
}

// PlanWith computes the plan for [start, end] with an explicit policy.
func (s *HorizonScheduler) PlanWith(start, end time.Time, policy Policy) (HorizonPlan, error) {
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return HorizonPlan{}, &InvalidRangeError{Start: start, End: end}
	}

	steps, err := Decompose(end.Sub(start), s.registry.Increments(), policy)
	var tooFine *planTooFineError
	if errors.As(err, &tooFine) {
		return HorizonPlan{}, &InvalidRangeError{Start: start, End: end, Msg: tooFine.msg()}
	}
	if err != nil {
		return HorizonPlan{}, err
	}

	plan := HorizonPlan{Start: start, End: end, Steps: make([]PlanStep, 0, len(steps))}
	valid := start
	for _, step := range steps {
		d, ok := s.registry.Lookup(step)
		if !ok {
			return HorizonPlan{}, fmt.Errorf("no operator registered for %s", step)
		}
		valid = valid.Add(step)
		plan.Steps = append(plan.Steps, PlanStep{Operator: d, Valid: valid})
	}
	return plan, nil
}

// Decompose splits total into a sequence of the given increments whose sum is
// exactly total. It minimizes the number of steps, then the number of distinct
// increments used, and orders larger steps first.
func Decompose(total time.Duration, increments []time.Duration, policy Policy) ([]time.Duration, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: horizon %s must be positive", ErrInvalidRange, total)
	}

	coins := distinctPositive(increments)
	unreachable := &UnreachableHorizonError{Horizon: total, Increments: coins}
	if len(coins) == 0 {
		return nil, unreachable
	}
	if len(coins) > MaxIncrements {
		return nil, fmt.Errorf("%d distinct increments exceed the limit of %d", len(coins), MaxIncrements)
	}

	unit := coins[0]
	for _, c := range coins[1:] {
		unit = gcd(unit, c)
	}
	if total%unit != 0 {
		return nil, unreachable
	}
	n := int(total / unit)
	if n > maxPlanUnits {
		return nil, &planTooFineError{horizon: total, unit: unit, units: n}
	}
	values := make([]int, len(coins))
	for i, c := range coins {
		values[i] = int(c / unit)
	}

	var (
		best      []int
		bestCount = math.MaxInt
		bestSize  int
	)
	for size := 1; size <= len(values); size++ {
		if policy == PolicySingle && size > 1 {
			break
		}
		for mask := 1; mask < 1<<len(values); mask++ {
			if bits.OnesCount(uint(mask)) != size {
				continue
			}
			seq, ok := minCoins(n, values, mask)
			if !ok {
				continue
			}
			// Subsets are visited by ascending size, so a larger subset only
			// replaces the best plan when it needs strictly fewer steps.
			switch {
			case len(seq) < bestCount:
				best, bestCount, bestSize = seq, len(seq), size
			case len(seq) == bestCount && size == bestSize && lexGreater(seq, best):
				best = seq
			}
		}
	}
	if best == nil {
		return nil, unreachable
	}

	out := make([]time.Duration, len(best))
	for i, v := range best {
		out[i] = time.Duration(v) * unit
	}
	return out, nil
}

// minCoins solves the change-making problem for amount n using the coins
// selected by mask, returning the pieces sorted largest first.
func minCoins(n int, values []int, mask int) ([]int, bool) {
	const inf = math.MaxInt32
	dp := make([]int32, n+1)
	for a := 1; a <= n; a++ {
		dp[a] = inf
		for i, v := range values {
			if mask&(1<<i) == 0 || v > a || dp[a-v] == inf {
				continue
			}
			if dp[a-v]+1 < dp[a] {
				dp[a] = dp[a-v] + 1
			}
		}
	}
	if dp[n] == inf {
		return nil, false
	}

	seq := make([]int, 0, dp[n])
	for a := n; a > 0; {
		for i, v := range values { // values are sorted largest first
			if mask&(1<<i) == 0 || v > a || dp[a-v] != dp[a]-1 {
				continue
			}
			seq = append(seq, v)
			a -= v
			break
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(seq)))
	return seq, true
}

func lexGreater(a, b []int) bool {
	if b == nil {
		return true
	}
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return len(a) > len(b)
}

func distinctPositive(in []time.Duration) []time.Duration {
	seen := make(map[time.Duration]bool, len(in))
	out := make([]time.Duration, 0, len(in))
	for _, d := range in {
		if d <= 0 || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

func gcd(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
