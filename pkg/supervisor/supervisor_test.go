package supervisor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/magebox/magebox/pkg/faults"
	"github.com/magebox/magebox/pkg/process"
	"github.com/rs/zerolog"
)

type staticFacts struct {
	containers int
	volumes    int
	err        error
}

func (f staticFacts) Containers() (int, error) { return f.containers, f.err }
func (f staticFacts) Volumes() (int, error)    { return f.volumes, f.err }
func (f staticFacts) DockerVariables() map[string]string {
	return map[string]string{"COMPOSE_PROJECT_NAME": "magento2_shop"}
}

// fakeRunner replays lines, then either returns result or, when hang is set,
// behaves like a process that never exits within its timeout.
type fakeRunner struct {
	lines  []string
	result process.Result
	hang   bool
	err    error

	got process.Command
}

func (r *fakeRunner) Run(_ context.Context, cmd process.Command, onLine process.LineFunc) (process.Result, error) {
	r.got = cmd
	for _, l := range r.lines {
		onLine(process.Stdout, l)
	}
	if r.err != nil {
		return process.Result{}, r.err
	}
	if r.hang {
		return process.Result{ExitCode: process.ExitTimeout, Timeout: true}, nil
	}
	return r.result, nil
}

func newSupervisor(facts FactsSource, runner process.Runner, opts Options) *Supervisor {
	opts.Logger = zerolog.Nop()
	return New(facts, runner, opts)
}

func TestTargets(t *testing.T) {
	facts := staticFacts{containers: 3, volumes: 2}
	tests := []struct {
		op      Operation
		install bool
		verbose bool
		total   int
		timeout time.Duration
	}{
		{OpBuild, false, false, 3, 600 * time.Second},
		{OpStart, false, false, 4, 60 * time.Second},
		{OpStart, false, true, 4, 60 * time.Second},
		{OpStart, true, false, 7, 60 * time.Second},
		{OpStart, true, true, 7, 360 * time.Second},
		{OpStop, false, false, 4, 60 * time.Second},
		{OpPurge, false, false, 10, 300 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/install=%v/verbose=%v", tt.op, tt.install, tt.verbose), func(t *testing.T) {
			s := newSupervisor(facts, &fakeRunner{}, Options{Verbose: tt.verbose})
			target, timeout, err := s.Target(tt.op, RunOptions{Install: tt.install})
			if err != nil {
				t.Fatalf("Target() returned error: %v", err)
			}
			if target.Total != tt.total {
				t.Errorf("Expected total %d, got %d", tt.total, target.Total)
			}
			if timeout != tt.timeout {
				t.Errorf("Expected timeout %s, got %s", tt.timeout, timeout)
			}
		})
	}
}

func TestTimeoutOverrides(t *testing.T) {
	facts := staticFacts{containers: 1}

	s := newSupervisor(facts, &fakeRunner{}, Options{Timeouts: map[Operation]time.Duration{OpBuild: time.Hour}})
	_, timeout, err := s.Target(OpBuild, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if timeout != time.Hour {
		t.Errorf("Expected overridden timeout 1h, got %s", timeout)
	}

	s = newSupervisor(facts, &fakeRunner{}, Options{NoTimeout: true})
	_, timeout, err = s.Target(OpStop, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if timeout != 0 {
		t.Errorf("Expected no timeout, got %s", timeout)
	}
}

func TestBuildScenario(t *testing.T) {
	runner := &fakeRunner{
		lines: []string{
			"Step 1/5 : FROM php",
			"Successfully tagged emakinafr/php:7.3",
			"Successfully tagged emakinafr/nginx",
			"Successfully tagged emakinafr/mysql",
		},
		result: process.Result{Succeeded: true},
	}
	s := newSupervisor(staticFacts{containers: 3}, runner, Options{})

	out, err := s.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}

	if !out.Result.Succeeded {
		t.Error("Expected success")
	}
	if out.Progress.Completed != 3 || out.Progress.Total != 3 {
		t.Errorf("Expected 3/3, got %+v", out.Progress)
	}
	if err := out.Failure(); err != nil {
		t.Errorf("Expected no failure, got %v", err)
	}
	if want := []string{"make", "build"}; !reflect.DeepEqual(runner.got.Args, want) {
		t.Errorf("Expected args %v, got %v", want, runner.got.Args)
	}
	if runner.got.Env["COMPOSE_PROJECT_NAME"] != "magento2_shop" {
		t.Errorf("Expected docker variables, got %v", runner.got.Env)
	}
}

func TestPurgeScenario(t *testing.T) {
	runner := &fakeRunner{
		lines: []string{
			"Stopping shop_php_1 ... done",
			"Stopping shop_mysql_1 ... done",
			"Removing shop_php_1 ... done",
			"Removing shop_mysql_1 ... done",
			"Removing network shop_default",
			"Removing volume shop_mysql",
			"Removing volume shop_synchro",
		},
		result: process.Result{Succeeded: true},
	}
	s := newSupervisor(staticFacts{containers: 2, volumes: 1}, runner, Options{})

	out, err := s.Purge(context.Background())
	if err != nil {
		t.Fatalf("Purge() returned error: %v", err)
	}

	if !out.Result.Succeeded {
		t.Error("Expected success")
	}
	if out.Progress.Completed != 7 || out.Progress.Total != 7 {
		t.Errorf("Expected 7/7, got %+v", out.Progress)
	}
}

func TestStartTimeoutIsExpected(t *testing.T) {
	runner := &fakeRunner{
		lines: []string{"Creating network shop_default", "Creating shop_php_1 ... done"},
		hang:  true,
	}
	s := newSupervisor(staticFacts{containers: 2, volumes: 1}, runner, Options{})

	out, err := s.Start(context.Background(), true)
	if err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	if !out.TimedOut() || !out.NeedsSyncFallback() {
		t.Errorf("Expected expected timeout, got %+v", out.Result)
	}
	if err := out.Failure(); err != nil {
		t.Errorf("Expected no failure, got %v", err)
	}
	if out.Status() != "timeout_expected" {
		t.Errorf("Expected status timeout_expected, got %q", out.Status())
	}
	if out.Progress.Completed != 2 {
		t.Errorf("Expected 2 completed, got %d", out.Progress.Completed)
	}
	if runner.got.Timeout != 60*time.Second {
		t.Errorf("Expected 60s timeout, got %s", runner.got.Timeout)
	}
}

func TestStartExitingWithTimeoutCodeIsFailure(t *testing.T) {
	runner := &fakeRunner{result: process.Result{ExitCode: process.ExitTimeout, Stderr: "boom\n"}}
	s := newSupervisor(staticFacts{containers: 1}, runner, Options{})

	out, err := s.Start(context.Background(), false)
	if err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	if out.TimedOut() || out.NeedsSyncFallback() {
		t.Error("A process exiting with 124 must not count as a timeout")
	}
	failure := out.Failure()
	if !faults.IsProcessFailure(failure) {
		t.Fatalf("Expected process failure, got %v", failure)
	}
	var fe *faults.Error
	if !errors.As(failure, &fe) || fe.Output != "boom" {
		t.Errorf("Expected stderr in failure, got %v", failure)
	}
	if out.Status() != "failed" {
		t.Errorf("Expected status failed, got %q", out.Status())
	}
}

func TestTimeoutIsFatalForOtherOperations(t *testing.T) {
	for _, op := range []Operation{OpBuild, OpStop, OpPurge} {
		t.Run(string(op), func(t *testing.T) {
			s := newSupervisor(staticFacts{containers: 1}, &fakeRunner{hang: true}, Options{})

			out, err := s.Run(context.Background(), op, RunOptions{})
			if err != nil {
				t.Fatalf("Run() returned error: %v", err)
			}

			if out.NeedsSyncFallback() {
				t.Error("Only start may fall back to sync")
			}
			if failure := out.Failure(); !faults.IsTimeout(failure) {
				t.Errorf("Expected timeout failure, got %v", failure)
			}
		})
	}
}

func TestNonZeroExitIsProcessFailure(t *testing.T) {
	runner := &fakeRunner{result: process.Result{ExitCode: 2, Stderr: "ERROR: pull access denied\n"}}
	s := newSupervisor(staticFacts{containers: 1}, runner, Options{})

	out, err := s.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}

	failure := out.Failure()
	if !faults.IsProcessFailure(failure) {
		t.Fatalf("Expected process failure, got %v", failure)
	}
	var fe *faults.Error
	if !errors.As(failure, &fe) {
		t.Fatalf("Expected *faults.Error, got %T", failure)
	}
	if fe.Output != "ERROR: pull access denied" {
		t.Errorf("Unexpected output %q", fe.Output)
	}
	if len(fe.Hint) == 0 {
		t.Error("Expected a hint")
	}
	if out.Status() != "failed" {
		t.Errorf("Expected status failed, got %q", out.Status())
	}
}

func TestStartNonZeroExitIsFailure(t *testing.T) {
	runner := &fakeRunner{result: process.Result{ExitCode: 1, Stdout: "port already allocated\n"}}
	s := newSupervisor(staticFacts{containers: 1}, runner, Options{})

	out, err := s.Start(context.Background(), false)
	if err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	if out.NeedsSyncFallback() {
		t.Error("Failed start must not fall back to sync")
	}
	if !faults.IsProcessFailure(out.Failure()) {
		t.Errorf("Expected process failure, got %v", out.Failure())
	}
}

func TestRunPropagatesLaunchError(t *testing.T) {
	runner := &fakeRunner{err: faults.NewLaunchError("cannot run make", nil)}
	s := newSupervisor(staticFacts{containers: 1}, runner, Options{})

	if _, err := s.Stop(context.Background()); !faults.IsLaunch(err) {
		t.Errorf("Expected launch error, got %v", err)
	}
}

func TestRunFactsError(t *testing.T) {
	s := newSupervisor(staticFacts{err: errors.New("docker-compose.yml is not found")}, &fakeRunner{}, Options{})

	if _, err := s.Build(context.Background()); err == nil {
		t.Error("Expected facts error")
	}
	if _, err := s.Run(context.Background(), Operation("restart"), RunOptions{}); err == nil {
		t.Error("Expected unknown operation error")
	}
	if err := Operation("restart").Validate(); err == nil {
		t.Error("Expected restart to be invalid")
	}
	if err := OpPurge.Validate(); err != nil {
		t.Errorf("Expected purge to be valid, got %v", err)
	}
}
