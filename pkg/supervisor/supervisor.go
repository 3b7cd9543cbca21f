// Package supervisor runs the build wrapper's lifecycle operations (build,
// start, stop, purge) with a progress estimate and a per-operation failure
// policy.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/magebox/magebox/pkg/faults"
	"github.com/magebox/magebox/pkg/process"
	"github.com/magebox/magebox/pkg/progress"
	"github.com/magebox/magebox/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// FactsSource provides the environment figures used to size progress targets
// and the variables passed to every operation.
type FactsSource interface {
	Containers() (int, error)
	Volumes() (int, error)
	DockerVariables() map[string]string
}

// DisplayFactory creates the progress display for one operation.
type DisplayFactory func(op Operation) progress.Display

// Options configures a Supervisor.
type Options struct {
	// Verbose selects the longer start budget during installation.
	Verbose bool

	// NoTimeout disables every deadline.
	NoTimeout bool

	// Timeouts overrides the table timeouts per operation.
	Timeouts map[Operation]time.Duration

	// Dir is the working directory of the build wrapper.
	Dir string

	Display DisplayFactory
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// RunOptions varies a single invocation.
type RunOptions struct {
	Install bool
}

// Outcome is the result of one supervised operation.
type Outcome struct {
	Spec     Spec
	Result   process.Result
	Progress progress.State
	Duration time.Duration
}

// TimedOut reports whether the operation hit its deadline.
func (o Outcome) TimedOut() bool {
	return o.Result.TimedOut()
}

// NeedsSyncFallback reports a timeout the operation policy treats as
// "containers are up, synchronization still converging".
func (o Outcome) NeedsSyncFallback() bool {
	return o.TimedOut() && o.Spec.TimeoutExpected
}

// Status returns a short label for journaling and metrics.
func (o Outcome) Status() string {
	switch {
	case o.Result.Succeeded:
		return "succeeded"
	case o.NeedsSyncFallback():
		return "timeout_expected"
	case o.TimedOut():
		return "timeout"
	default:
		return "failed"
	}
}

// Failure applies the operation policy. It returns nil on success and on an
// expected timeout.
func (o Outcome) Failure() error {
	op := string(o.Spec.Op)
	switch {
	case o.Result.Succeeded, o.NeedsSyncFallback():
		return nil
	case o.TimedOut():
		return faults.NewTimeout(fmt.Sprintf("%s timed out", op), nil).
			WithOperation(op).
			WithOutput(o.Result.Diagnostics()).
			WithHint(fmt.Sprintf("Use the option --no-timeout or run `%s` directly.", process.Command{Args: o.Spec.Args}))
	default:
		return faults.NewProcessFailure(fmt.Sprintf("%s exited with code %d", op, o.Result.ExitCode), nil).
			WithOperation(op).
			WithOutput(o.Result.Diagnostics()).
			WithHint(o.Spec.Hint...)
	}
}

// Supervisor runs lifecycle operations for one environment.
type Supervisor struct {
	facts  FactsSource
	runner process.Runner
	specs  map[Operation]Spec
	opts   Options
	logger zerolog.Logger
}

// New creates a supervisor bound to facts.
func New(facts FactsSource, runner process.Runner, opts Options) *Supervisor {
	if opts.Display == nil {
		opts.Display = func(Operation) progress.Display { return progress.NopDisplay{} }
	}
	return &Supervisor{
		facts:  facts,
		runner: runner,
		specs:  DefaultSpecs(),
		opts:   opts,
		logger: opts.Logger.With().Str("component", "supervisor").Logger(),
	}
}

// Spec returns the table entry of op.
func (s *Supervisor) Spec(op Operation) (Spec, error) {
	spec, ok := s.specs[op]
	if !ok {
		return Spec{}, fmt.Errorf("unknown operation: %s", op)
	}
	return spec, nil
}

// Target computes the progress target and timeout of op for the current facts.
func (s *Supervisor) Target(op Operation, ro RunOptions) (progress.Target, time.Duration, error) {
	spec, err := s.Spec(op)
	if err != nil {
		return progress.Target{}, 0, err
	}
	containers, err := s.facts.Containers()
	if err != nil {
		return progress.Target{}, 0, err
	}
	volumes, err := s.facts.Volumes()
	if err != nil {
		return progress.Target{}, 0, err
	}
	facts := Facts{Containers: containers, Volumes: volumes, Install: ro.Install, Verbose: s.opts.Verbose}

	timeout := spec.Timeout(facts)
	if d, ok := s.opts.Timeouts[op]; ok && d > 0 {
		timeout = d
	}
	if s.opts.NoTimeout {
		timeout = 0
	}
	return progress.Target{Total: spec.Total(facts), Match: spec.Match}, timeout, nil
}

// Run executes op. Timeouts and non-zero exits are reported in the Outcome,
// not as errors; the returned error covers launch failures, unreadable facts
// and cancellation.
func (s *Supervisor) Run(ctx context.Context, op Operation, ro RunOptions) (Outcome, error) {
	spec, err := s.Spec(op)
	if err != nil {
		return Outcome{}, err
	}
	target, timeout, err := s.Target(op, ro)
	if err != nil {
		return Outcome{Spec: spec}, err
	}

	ctx, span := s.opts.Tracer.StartOperationSpan(ctx, string(op),
		attribute.Int("progress.total", target.Total),
		attribute.Bool("install", ro.Install),
	)
	defer span.End()

	logger := s.logger.With().Str("operation", string(op)).Logger()
	logger.Debug().
		Int("total", target.Total).
		Dur("timeout", timeout).
		Msg("Running operation")

	cmd := process.Command{
		Args:    spec.Args,
		Timeout: timeout,
		Env:     s.facts.DockerVariables(),
		Dir:     s.opts.Dir,
	}

	display := s.opts.Display(op)
	if display == nil {
		display = progress.NopDisplay{}
	}
	est := progress.NewEstimator(target, display)
	observe := func(stream process.Stream, line string) bool {
		counted := est.Observe(stream, line)
		logger.Trace().Str("stream", stream.String()).Bool("counted", counted).Msg(line)
		return counted
	}
	display.Start(target.Total)

	start := time.Now()
	res, err := s.runner.Run(ctx, cmd, observe)
	display.Finish()

	out := Outcome{
		Spec:     spec,
		Result:   res,
		Progress: est.State(),
		Duration: time.Since(start),
	}
	if err != nil {
		telemetry.RecordError(span, err)
		s.opts.Metrics.RecordError(string(faults.ClassOf(err)))
		return out, err
	}

	s.opts.Metrics.RecordOperation(string(op), out.Status(), out.Duration, out.Progress.Completed)
	if failure := out.Failure(); failure != nil {
		telemetry.RecordError(span, failure)
	} else {
		telemetry.RecordSuccess(span)
	}

	logger.Debug().
		Int("exit_code", res.ExitCode).
		Int("completed", out.Progress.Completed).
		Str("status", out.Status()).
		Dur("duration", out.Duration).
		Msg("Operation finished")

	return out, nil
}

// Build runs the build operation.
func (s *Supervisor) Build(ctx context.Context) (Outcome, error) {
	return s.Run(ctx, OpBuild, RunOptions{})
}

// Start runs the start operation.
func (s *Supervisor) Start(ctx context.Context, install bool) (Outcome, error) {
	return s.Run(ctx, OpStart, RunOptions{Install: install})
}

// Stop runs the stop operation.
func (s *Supervisor) Stop(ctx context.Context) (Outcome, error) {
	return s.Run(ctx, OpStop, RunOptions{})
}

// Purge runs the purge operation.
func (s *Supervisor) Purge(ctx context.Context) (Outcome, error) {
	return s.Run(ctx, OpPurge, RunOptions{})
}
