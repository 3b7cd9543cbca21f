// Package filesync keeps the file synchronization session between the
// project checkout and the synchro container alive, and waits for it to
// converge after the containers start.
package filesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/magebox/magebox/pkg/faults"
	"github.com/magebox/magebox/pkg/progress"
	"github.com/magebox/magebox/pkg/telemetry"
	"github.com/rs/zerolog"
)

// State is the observed state of a sync session.
type State int

const (
	Absent State = iota
	Created
	Paused
	Syncing
	Synced
	Error
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Created:
		return "created"
	case Paused:
		return "paused"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is one observation of a session. Percent is -1 when the daemon
// does not report one.
type Status struct {
	State   State
	Percent int
	Raw     string
}

// SessionSpec describes a session to create.
type SessionSpec struct {
	Name   string
	Alpha  string
	Beta   string
	Owner  string
	Ignore []string
}

// Daemon controls the synchronization daemon.
type Daemon interface {
	Status(ctx context.Context, name string) (Status, error)
	Create(ctx context.Context, spec SessionSpec) error
	Resume(ctx context.Context, name string) error
}

// ContainerInspector queries the container orchestrator.
type ContainerInspector interface {
	IsContainerUp(ctx context.Context, service string) (bool, error)
	ContainerID(ctx context.Context, service string) (string, error)
}

// Options configures a Controller.
type Options struct {
	// Session is the label the session is created and looked up with.
	Session string

	// Alpha is the local directory to synchronize.
	Alpha string

	// Container is the compose service running the sync agent.
	Container string

	// BetaPath is the directory inside the container.
	BetaPath string

	Owner  string
	Ignore []string

	InitialInterval time.Duration
	MaxInterval     time.Duration

	Display progress.Display
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Controller ensures a sync session runs and monitors it until synced.
type Controller struct {
	daemon     Daemon
	containers ContainerInspector
	opts       Options
	logger     zerolog.Logger
}

// NewController creates a controller for one project session.
func NewController(daemon Daemon, containers ContainerInspector, opts Options) *Controller {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if opts.MaxInterval < opts.InitialInterval {
		opts.MaxInterval = 10 * opts.InitialInterval
	}
	if opts.Display == nil {
		opts.Display = progress.NopDisplay{}
	}
	return &Controller{
		daemon:     daemon,
		containers: containers,
		opts:       opts,
		logger:     opts.Logger.With().Str("component", "filesync").Str("session", opts.Session).Logger(),
	}
}

const monitorHint = "Check the situation with `mutagen sync monitor`."

// EnsureSessionRunning makes sure a session exists and is not paused. The
// synchro container must already be up.
func (c *Controller) EnsureSessionRunning(ctx context.Context) (bool, error) {
	ctx, span := c.opts.Tracer.StartSyncSpan(ctx, "ensure", c.opts.Session)
	defer span.End()

	ok, err := c.ensure(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		c.opts.Metrics.RecordError(string(faults.ClassOf(err)))
		return false, err
	}
	telemetry.RecordSuccess(span)
	return ok, nil
}

func (c *Controller) ensure(ctx context.Context) (bool, error) {
	up, err := c.containers.IsContainerUp(ctx, c.opts.Container)
	if err != nil {
		return false, fmt.Errorf("failed to query container %s: %w", c.opts.Container, err)
	}
	if !up {
		return false, faults.NewPreconditionError(fmt.Sprintf("%s container is not started", c.opts.Container), nil).
			WithOperation("sync").
			WithHint("Start the environment with `magebox start` first.")
	}

	st, err := c.daemon.Status(ctx, c.opts.Session)
	if err != nil {
		return false, fmt.Errorf("failed to query sync session: %w", err)
	}

	switch st.State {
	case Absent:
		id, err := c.containers.ContainerID(ctx, c.opts.Container)
		if err != nil {
			return false, fmt.Errorf("failed to resolve container %s: %w", c.opts.Container, err)
		}
		spec := SessionSpec{
			Name:   c.opts.Session,
			Alpha:  c.opts.Alpha,
			Beta:   "docker://" + id + c.opts.BetaPath,
			Owner:  c.opts.Owner,
			Ignore: c.opts.Ignore,
		}
		if err := c.daemon.Create(ctx, spec); err != nil {
			return false, faults.NewSyncFailure("Mutagen session could not be created", err).
				WithOperation("sync").
				WithHint(monitorHint)
		}
		c.logger.Info().Msg("Sync session created")
	case Paused:
		if err := c.daemon.Resume(ctx, c.opts.Session); err != nil {
			return false, faults.NewSyncFailure("Mutagen session could not be resumed", err).
				WithOperation("sync").
				WithHint(monitorHint)
		}
		c.logger.Info().Msg("Sync session resumed")
	default:
		c.logger.Debug().Str("state", st.State.String()).Msg("Sync session already running")
	}
	return true, nil
}

var (
	errNotSynced = errors.New("session not synced yet")
	errHalted    = errors.New("session halted")
)

// MonitorUntilSynced polls the session until it reports fully synced (true),
// reports an unrecoverable error (false), or ctx is cancelled (false and the
// context error). Polling is read-only, so cancelling leaves the session as
// it was.
func (c *Controller) MonitorUntilSynced(ctx context.Context) (bool, error) {
	ctx, span := c.opts.Tracer.StartSyncSpan(ctx, "monitor", c.opts.Session)
	defer span.End()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval

	display := c.opts.Display
	display.Start(100)
	defer display.Finish()

	polls := 0
	last := Absent
	op := func() (Status, error) {
		polls++
		st, err := c.daemon.Status(ctx, c.opts.Session)
		if err != nil {
			return st, backoff.Permanent(err)
		}
		c.opts.Metrics.RecordSyncPoll(st.State.String())
		if st.State != last {
			c.logger.Debug().Str("state", st.State.String()).Str("status", st.Raw).Msg("Sync state changed")
			last = st.State
		}
		if st.Percent >= 0 {
			display.Update(progress.State{Completed: st.Percent, Total: 100})
		}

		switch st.State {
		case Synced:
			return st, nil
		case Error:
			return st, backoff.Permanent(errHalted)
		default:
			return st, errNotSynced
		}
	}

	st, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
	switch {
	case err == nil:
		c.logger.Info().Int("polls", polls).Msg("Files synchronized")
		telemetry.RecordSuccess(span)
		return true, nil
	case ctx.Err() != nil:
		c.logger.Warn().Int("polls", polls).Msg("Sync monitoring interrupted")
		telemetry.RecordError(span, ctx.Err())
		return false, ctx.Err()
	case errors.Is(err, errHalted):
		c.logger.Error().Str("status", st.Raw).Msg("Sync session halted")
		telemetry.RecordError(span, err)
		return false, nil
	default:
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("failed to monitor sync session: %w", err)
	}
}

// Failure builds the error reported when monitoring ends unsynced.
func Failure(session string) error {
	return faults.NewSyncFailure(fmt.Sprintf("synchronization of %s did not complete", session), nil).
		WithOperation("sync").
		WithHint(
			"Containers are still running.",
			monitorHint,
		)
}
