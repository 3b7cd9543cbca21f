package progress

import (
	"bytes"
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/magebox/magebox/pkg/process"
)

// scriptedRunner replays fixed output lines then returns a fixed result.
type scriptedRunner struct {
	lines  []string
	result process.Result
}

func (r *scriptedRunner) Run(_ context.Context, _ process.Command, onLine process.LineFunc) (process.Result, error) {
	for _, l := range r.lines {
		if onLine != nil {
			onLine(process.Stdout, l)
		}
	}
	return r.result, nil
}

type recordingDisplay struct {
	started  int
	updates  []State
	finished bool
}

func (d *recordingDisplay) Start(total int)    { d.started = total }
func (d *recordingDisplay) Update(state State) { d.updates = append(d.updates, state) }
func (d *recordingDisplay) Finish()            { d.finished = true }

func TestEstimatorClampsAtTotal(t *testing.T) {
	words := []string{"tagged", "noise", "Successfully tagged x", "skip", "TAGGED"}
	for seed := int64(0); seed < 25; seed++ {
		rng := rand.New(rand.NewSource(seed))
		total := rng.Intn(6)
		est := NewEstimator(Target{Total: total, Match: Contains("tagged")}, nil)

		lines := rng.Intn(40)
		for i := 0; i < lines; i++ {
			est.Observe(process.Stdout, words[rng.Intn(len(words))])
			if s := est.State(); s.Completed < 0 || s.Completed > total {
				t.Fatalf("seed %d: completed %d outside [0, %d]", seed, s.Completed, total)
			}
		}
	}
}

func TestEstimatorCountsLineOnce(t *testing.T) {
	est := NewEstimator(Target{Total: 5, Match: Contains("creating", "done")}, nil)

	if !est.Observe(process.Stdout, "Creating network default ... done") {
		t.Error("Expected matching line to be counted")
	}
	if est.Observe(process.Stdout, "Pulling php") {
		t.Error("Expected unrelated line to be ignored")
	}
	if got := est.State(); got != (State{Completed: 1, Total: 5}) {
		t.Errorf("Expected 1/5, got %+v", got)
	}
}

func TestEstimatorNilMatcher(t *testing.T) {
	est := NewEstimator(Target{Total: 2}, nil)

	if est.Observe(process.Stdout, "anything") {
		t.Error("Expected no match without a matcher")
	}
	if est.State().Completed != 0 {
		t.Errorf("Expected 0 completed, got %d", est.State().Completed)
	}
}

func TestWrapReportsProgressToDisplay(t *testing.T) {
	runner := &scriptedRunner{
		lines:  []string{"Successfully tagged php", "Step 2/4", "Successfully tagged nginx", "Successfully tagged mysql"},
		result: process.Result{Succeeded: true},
	}
	display := &recordingDisplay{}

	res, state, err := Wrap(context.Background(), runner, process.Command{}, Target{Total: 3, Match: Contains("tagged")}, display)
	if err != nil {
		t.Fatalf("Wrap() returned error: %v", err)
	}

	if !res.Succeeded {
		t.Error("Expected success")
	}
	if state != (State{Completed: 3, Total: 3}) {
		t.Errorf("Expected 3/3, got %+v", state)
	}
	if display.started != 3 {
		t.Errorf("Expected display started with 3, got %d", display.started)
	}
	if len(display.updates) != 3 {
		t.Errorf("Expected 3 updates, got %d", len(display.updates))
	}
	if !display.finished {
		t.Error("Expected display to be finished")
	}
}

func TestMatcherCombinators(t *testing.T) {
	start := AnyOf(
		AllOf(Contains("creating"), Contains("network", "volume", "done")),
		AllOf(Contains("starting"), Contains("done")),
	)

	tests := []struct {
		line string
		want bool
	}{
		{"Creating network \"shop_default\" with the default driver", true},
		{"Starting shop_mysql_1 ... done", true},
		{"Starting shop_mysql_1 ...", false},
		{"Creating shop_php_1 ...", false},
	}
	for _, tt := range tests {
		if got := start(tt.line); got != tt.want {
			t.Errorf("match(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}

	if AllOf()("anything") || AnyOf()("anything") {
		t.Error("Empty combinators must not match")
	}
}

func TestStateFraction(t *testing.T) {
	if got := (State{Completed: 1, Total: 2}).Fraction(); got != 0.5 {
		t.Errorf("Expected 0.5, got %v", got)
	}
	if got := (State{}).Fraction(); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
}

func TestBarDisplayWritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	d := NewBarDisplay(&buf, "build")
	d.Start(2)
	d.Update(State{Completed: 1, Total: 2})
	d.Update(State{Completed: 2, Total: 2})
	d.Finish()

	if !strings.Contains(buf.String(), "build") {
		t.Errorf("Expected bar title in output, got %q", buf.String())
	}
}
