package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/magebox/magebox/pkg/compose"
	"github.com/magebox/magebox/pkg/config"
	"github.com/magebox/magebox/pkg/environment"
	"github.com/magebox/magebox/pkg/filesync"
	"github.com/magebox/magebox/pkg/process"
	"github.com/magebox/magebox/pkg/progress"
	"github.com/magebox/magebox/pkg/provision"
	"github.com/magebox/magebox/pkg/stores"
	"github.com/magebox/magebox/pkg/supervisor"
	"github.com/magebox/magebox/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds the components shared by the commands of one invocation.
type app struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	env     *environment.Environment
	runner  process.Runner
	journal stores.Journal
	out     io.Writer
}

// newApp loads the configuration and builds the shared components. The
// returned context carries the telemetry of the run.
func newApp(cmd *cobra.Command, version string) (*app, context.Context, error) {
	ctx := cmd.Context()

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, ctx, err
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	cfg.Telemetry.Apply(tcfg)
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		tcfg.Logging.Level = lvl
	}
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	if logLevel != "" {
		tcfg.Logging.Level = logLevel
	}
	tel, err := telemetry.NewTelemetry(tcfg)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	env := environment.New(environment.ResolveRoot(cwd, cfg.Environments), cfg.Paths)

	tel.Logger = tel.Logger.WithProject(env.Root(), env.ProjectName())
	ctx = tel.WithContext(ctx)
	logger := tel.Logger.Zerolog()

	a := &app{
		cfg:     cfg,
		tel:     tel,
		logger:  logger,
		env:     env,
		runner:  process.NewExec(logger),
		journal: openJournal(ctx, cfg.Store.Path, logger),
		out:     cmd.OutOrStdout(),
	}
	logger.Debug().Str("root", env.Root()).Str("config", path).Msg("Environment resolved")
	return a, ctx, nil
}

// openJournal opens the run journal. Commands keep working without one.
func openJournal(ctx context.Context, path string, logger zerolog.Logger) stores.Journal {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn().Err(err).Msg("Run journal unavailable")
		return stores.Discard{}
	}
	journal, err := stores.Open(ctx, path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Run journal unavailable")
		return stores.Discard{}
	}
	if err := journal.HealthCheck(ctx); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Run journal unhealthy")
		_ = journal.Close()
		return stores.Discard{}
	}
	return journal
}

// Close flushes telemetry and closes the journal.
func (a *app) Close(ctx context.Context) {
	if err := a.journal.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close run journal")
	}
	if err := a.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to flush telemetry")
	}
}

func (a *app) display(title string) progress.Display {
	return progress.NewBarDisplay(os.Stderr, title)
}

func (a *app) supervisor() *supervisor.Supervisor {
	return supervisor.New(a.env, a.runner, supervisor.Options{
		Verbose:   verbose,
		NoTimeout: noTimeout,
		Timeouts:  a.cfg.Timeouts.Overrides(),
		Dir:       a.env.Root(),
		Display:   func(op supervisor.Operation) progress.Display { return a.display(string(op)) },
		Logger:    a.logger,
		Metrics:   a.tel.Metrics,
		Tracer:    a.tel.Tracer,
	})
}

func (a *app) compose() *compose.Client {
	return compose.New(a.runner, a.env, a.env.Root(), a.logger)
}

func (a *app) filesync() *filesync.Controller {
	sync := a.cfg.Sync
	return filesync.NewController(
		filesync.NewMutagen(a.runner, sync.Binary, a.logger),
		a.compose(),
		filesync.Options{
			Session:         a.env.ProjectName(),
			Alpha:           a.env.Root(),
			Container:       sync.Container,
			BetaPath:        sync.BetaPath,
			Owner:           sync.Owner,
			Ignore:          sync.Ignore,
			InitialInterval: sync.InitialInterval,
			MaxInterval:     sync.MaxInterval,
			Display:         a.display("sync"),
			Logger:          a.logger,
			Metrics:         a.tel.Metrics,
			Tracer:          a.tel.Tracer,
		},
	)
}

func (a *app) manager() *provision.Manager {
	return provision.NewManager(provision.ManagerDeps{
		Root:      a.env.Root(),
		Session:   a.env.ProjectName(),
		Database:  a.env.DefaultDatabase,
		Lifecycle: a.supervisor(),
		Sync:      a.filesync(),
		Importer:  a.compose(),
		Journal:   a.journal,
		Out:       a.out,
		Logger:    a.logger,
	})
}

// runManaged builds the app and runs one manager operation.
func runManaged(cmd *cobra.Command, version string, fn func(*provision.Manager, context.Context) error) error {
	a, ctx, err := newApp(cmd, version)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	return fn(a.manager(), ctx)
}
