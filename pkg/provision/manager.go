package provision

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/magebox/magebox/pkg/compose"
	"github.com/magebox/magebox/pkg/faults"
	"github.com/magebox/magebox/pkg/stores"
	"github.com/magebox/magebox/pkg/supervisor"
	"github.com/rs/zerolog"
)

// ManagerDeps are the collaborators of a Manager.
type ManagerDeps struct {
	Root      string
	Session   string
	Database  func() string
	Lifecycle Lifecycle
	Sync      Synchronizer
	Importer  DatabaseImporter
	Journal   stores.Journal
	Out       io.Writer
	Logger    zerolog.Logger
}

// Manager runs the stand-alone lifecycle commands of an installed project
// with the same failure policy as the installer.
type Manager struct {
	deps    ManagerDeps
	console console
	logger  zerolog.Logger
}

// NewManager creates a manager.
func NewManager(deps ManagerDeps) *Manager {
	if deps.Journal == nil {
		deps.Journal = stores.Discard{}
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	return &Manager{
		deps:    deps,
		console: console{out: deps.Out},
		logger:  deps.Logger.With().Str("component", "manager").Logger(),
	}
}

func (m *Manager) track(ctx context.Context, command string, fn func(context.Context, *tracker) error) (err error) {
	t := &tracker{journal: m.deps.Journal, component: "manager", logger: m.logger}
	ctx = t.start(ctx, command, m.deps.Root)
	defer func() { t.finish(ctx, err) }()
	return fn(ctx, t)
}

func (m *Manager) supervise(ctx context.Context, t *tracker, run func(context.Context) (supervisor.Outcome, error)) (supervisor.Outcome, error) {
	out, err := run(ctx)
	if err != nil {
		return out, err
	}
	t.outcome(ctx, out)
	return out, nil
}

// Build builds the containers.
func (m *Manager) Build(ctx context.Context) error {
	return m.track(ctx, "build", func(ctx context.Context, t *tracker) error {
		out, err := m.supervise(ctx, t, m.deps.Lifecycle.Build)
		if err != nil {
			return err
		}
		if err := out.Failure(); err != nil {
			return err
		}
		m.console.ok("Containers have been built.")
		return nil
	})
}

// Start starts the environment. A start that runs past its budget hands
// over to the file synchronization, as during installation.
func (m *Manager) Start(ctx context.Context) error {
	return m.track(ctx, "start", func(ctx context.Context, t *tracker) error {
		out, err := m.supervise(ctx, t, func(ctx context.Context) (supervisor.Outcome, error) {
			return m.deps.Lifecycle.Start(ctx, false)
		})
		if err != nil {
			return err
		}
		if out.NeedsSyncFallback() {
			m.console.text("Containers are up.")
			m.console.section("File synchronization")
			started := time.Now()
			err := synchronize(ctx, m.deps.Sync, m.deps.Session)
			t.phase(ctx, "sync", started, err)
			if err != nil {
				return err
			}
		} else if err := out.Failure(); err != nil {
			return err
		}
		m.console.ok("Environment started.")
		return nil
	})
}

// Stop stops the containers.
func (m *Manager) Stop(ctx context.Context) error {
	return m.track(ctx, "stop", func(ctx context.Context, t *tracker) error {
		out, err := m.supervise(ctx, t, m.deps.Lifecycle.Stop)
		if err != nil {
			return err
		}
		if err := out.Failure(); err != nil {
			return err
		}
		m.console.ok("Environment stopped.")
		return nil
	})
}

// Uninstall removes the containers and volumes of the project.
func (m *Manager) Uninstall(ctx context.Context) error {
	return m.track(ctx, "uninstall", func(ctx context.Context, t *tracker) error {
		out, err := m.supervise(ctx, t, m.deps.Lifecycle.Purge)
		if err != nil {
			return err
		}
		if err := out.Failure(); err != nil {
			return err
		}
		m.console.ok("Environment uninstalled.")
		return nil
	})
}

// Sync ensures the synchronization session runs and waits until it is
// synced.
func (m *Manager) Sync(ctx context.Context) error {
	return m.track(ctx, "sync", func(ctx context.Context, t *tracker) error {
		started := time.Now()
		err := synchronize(ctx, m.deps.Sync, m.deps.Session)
		t.phase(ctx, "sync", started, err)
		if err != nil {
			return err
		}
		m.console.ok("Files are synchronized.")
		return nil
	})
}

// Import loads a dump into the default database. Unlike during
// installation, a failed import is an error.
func (m *Manager) Import(ctx context.Context, dumpPath, database string) error {
	return m.track(ctx, "import", func(ctx context.Context, t *tracker) error {
		if database == "" && m.deps.Database != nil {
			database = m.deps.Database()
		}
		if database == "" {
			return faults.NewPreconditionError("no database configured", nil).
				WithOperation("import").
				WithHint("Set MYSQL_DATABASE in the docker env file or pass --database.")
		}
		if !compose.IsDump(dumpPath) {
			return faults.NewPreconditionError(fmt.Sprintf("%s is not a supported dump", dumpPath), nil).
				WithOperation("import").
				WithHint(fmt.Sprintf("Supported formats: %v.", compose.DumpExtensions))
		}

		started := time.Now()
		err := m.deps.Importer.ImportDatabase(ctx, database, dumpPath)
		t.phase(ctx, "import", started, err)
		if err != nil {
			return err
		}
		m.console.ok("Database %s imported from %s.", database, compose.DescribeDump(m.deps.Root, dumpPath))
		return nil
	})
}
