// Package provision sequences the end-to-end installation of a Magento docker
// environment and the stand-alone lifecycle commands.
//
// The Installer runs six phases in order: prerequisites, dependencies,
// configuration, build, start (with the file synchronization fallback) and
// database import. The first failing phase ends the run; nothing already done
// is rolled back. Every run and phase is written to the run journal.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/magebox/magebox/pkg/faults"
	"github.com/magebox/magebox/pkg/progress"
	"github.com/magebox/magebox/pkg/prompt"
	"github.com/magebox/magebox/pkg/stores"
	"github.com/magebox/magebox/pkg/supervisor"
	"github.com/magebox/magebox/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Lifecycle runs the supervised build wrapper operations.
type Lifecycle interface {
	Build(ctx context.Context) (supervisor.Outcome, error)
	Start(ctx context.Context, install bool) (supervisor.Outcome, error)
	Stop(ctx context.Context) (supervisor.Outcome, error)
	Purge(ctx context.Context) (supervisor.Outcome, error)
}

// Synchronizer brings the file synchronization session to a synced state.
type Synchronizer interface {
	EnsureSessionRunning(ctx context.Context) (bool, error)
	MonitorUntilSynced(ctx context.Context) (bool, error)
}

// Dependencies installs the PHP dependencies of the project.
type Dependencies interface {
	Install(ctx context.Context, display progress.Display) error
	MaterializeTemplate(ctx context.Context) error
}

// TagSource lists the published tags of an image.
type TagSource interface {
	Tags(ctx context.Context, image string) ([]string, error)
}

// DatabaseImporter loads a dump into the database container.
type DatabaseImporter interface {
	ImportDatabase(ctx context.Context, database, dumpPath string) error
}

// HostsEditor reads and extends the system hosts file.
type HostsEditor interface {
	Contains(host string) (bool, error)
	Append(ctx context.Context, host string) error
}

// console writes the user-facing progress of a run.
type console struct {
	out io.Writer
}

func (c console) section(title string) {
	fmt.Fprintf(c.out, "\n== %s ==\n", title)
}

func (c console) text(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c console) ok(format string, args ...any) {
	fmt.Fprintf(c.out, "✓ "+format+"\n", args...)
}

func (c console) warn(format string, args ...any) {
	fmt.Fprintf(c.out, "! "+format+"\n", args...)
}

// tracker journals one run and its phases. Journal errors are logged and
// never fail the run.
type tracker struct {
	journal   stores.Journal
	component string
	logger    zerolog.Logger
	run       *stores.Run
}

func (t *tracker) start(ctx context.Context, command, root string) context.Context {
	run, err := t.journal.StartRun(ctx, command, root)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to journal run")
		run, _ = stores.Discard{}.StartRun(ctx, command, root)
	}
	t.run = run
	ctx = telemetry.StartRun(ctx, run.ID, command)
	t.logger = t.runLogger(ctx)
	return ctx
}

// runLogger prefers the run logger stored by telemetry.StartRun, which
// carries the run, command and project fields.
func (t *tracker) runLogger(ctx context.Context) zerolog.Logger {
	if telemetry.FromTelemetryContext(ctx) == nil {
		return t.logger.With().Str("run_id", t.run.ID).Logger()
	}
	logger := telemetry.FromContext(ctx).NewComponentLogger(t.component)
	if id := telemetry.TraceID(ctx); id != "" {
		logger = logger.WithField("trace_id", id)
	}
	return logger.Zerolog()
}

func runStatus(err error) stores.RunStatus {
	switch {
	case err == nil:
		return stores.RunStatusSucceeded
	case errors.Is(err, context.Canceled), errors.Is(err, prompt.ErrCancelled):
		return stores.RunStatusCancelled
	default:
		return stores.RunStatusFailed
	}
}

func (t *tracker) finish(ctx context.Context, err error) {
	status := runStatus(err)
	telemetry.EndRun(ctx, string(status), err)
	// The run context may already be cancelled.
	if jerr := t.journal.FinishRun(context.WithoutCancel(ctx), t.run.ID, status, err); jerr != nil {
		t.logger.Warn().Err(jerr).Msg("Failed to journal run completion")
	}
}

func (t *tracker) record(ctx context.Context, op *stores.Operation) {
	op.RunID = t.run.ID
	if err := t.journal.RecordOperation(context.WithoutCancel(ctx), op); err != nil {
		t.logger.Warn().Err(err).Str("operation", op.Name).Msg("Failed to journal operation")
	}
}

// phase records a non-supervised step.
func (t *tracker) phase(ctx context.Context, name string, started time.Time, err error) {
	op := &stores.Operation{
		Name:     name,
		Status:   "succeeded",
		Duration: time.Since(started),
	}
	if err != nil {
		op.Status = string(runStatus(err))
		msg := err.Error()
		op.Error = &msg
	}
	t.record(ctx, op)
}

// outcome records a supervised operation.
func (t *tracker) outcome(ctx context.Context, out supervisor.Outcome) {
	op := &stores.Operation{
		Name:      string(out.Spec.Op),
		Status:    out.Status(),
		ExitCode:  out.Result.ExitCode,
		Completed: out.Progress.Completed,
		Total:     out.Progress.Total,
		Duration:  out.Duration,
	}
	if f := out.Failure(); f != nil {
		msg := faults.Describe(f)
		op.Error = &msg
	}
	t.logger.Debug().
		Str("operation", op.Name).
		Str("status", op.Status).
		Int("exit_code", op.ExitCode).
		Dur("duration", op.Duration).
		Msg("Operation finished")
	t.record(ctx, op)
}
