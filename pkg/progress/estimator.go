// Package progress estimates completion of commands whose output carries no
// machine-readable progress. Each output line that satisfies a heuristic
// Matcher advances a counter bounded by a precomputed total.
package progress

import (
	"context"

	"github.com/magebox/magebox/pkg/process"
)

// State is the running progress of one operation.
type State struct {
	Completed int
	Total     int
}

// Fraction returns Completed/Total in [0, 1].
func (s State) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}

// Target is the fixed goal of an operation, computed before it starts.
type Target struct {
	Total int
	Match Matcher
}

// Estimator counts matching lines toward a Target.
type Estimator struct {
	target  Target
	state   State
	display Display
}

// NewEstimator creates an estimator. A nil display is replaced by NopDisplay.
func NewEstimator(target Target, display Display) *Estimator {
	if display == nil {
		display = NopDisplay{}
	}
	total := target.Total
	if total < 0 {
		total = 0
	}
	return &Estimator{
		target:  target,
		state:   State{Total: total},
		display: display,
	}
}

// Observe feeds one output line. It satisfies process.LineFunc and reports
// whether the line counted as a unit of work.
func (e *Estimator) Observe(_ process.Stream, line string) bool {
	if e.target.Match == nil || !e.target.Match(line) {
		return false
	}
	if e.state.Completed < e.state.Total {
		e.state.Completed++
		e.display.Update(e.state)
	}
	return true
}

// State returns the current progress.
func (e *Estimator) State() State {
	return e.state
}

// Wrap runs cmd through runner while estimating progress toward target.
func Wrap(ctx context.Context, runner process.Runner, cmd process.Command, target Target, display Display) (process.Result, State, error) {
	est := NewEstimator(target, display)
	est.display.Start(est.state.Total)
	res, err := runner.Run(ctx, cmd, est.Observe)
	est.display.Finish()
	return res, est.State(), err
}
