package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/magebox/magebox/pkg/compose"
	"github.com/magebox/magebox/pkg/composer"
	"github.com/magebox/magebox/pkg/environment"
	"github.com/magebox/magebox/pkg/filesync"
	"github.com/magebox/magebox/pkg/progress"
	"github.com/magebox/magebox/pkg/prompt"
	"github.com/magebox/magebox/pkg/stores"
	"github.com/rs/zerolog"
)

// PrerequisiteChecker checks the host tools.
type PrerequisiteChecker interface {
	Check(ctx context.Context) ([]Check, error)
}

// ImageChoice maps an env variable to the image whose tags are offered.
type ImageChoice struct {
	Variable string
	Image    string
	Label    string
}

// DefaultImages are the images selected during configuration.
var DefaultImages = []ImageChoice{
	{Variable: "DOCKER_PHP_IMAGE", Image: "php", Label: "PHP"},
	{Variable: "DOCKER_MYSQL_IMAGE", Image: "magento2-mysql", Label: "MySQL"},
	{Variable: "DOCKER_ELASTICSEARCH_IMAGE", Image: "magento2-elasticsearch", Label: "Elasticsearch"},
}

// DefaultSections are the env sections offered for manual configuration.
var DefaultSections = []string{"blackfire", "mysql"}

// InstallerDeps are the collaborators of an Installer.
type InstallerDeps struct {
	Env          *environment.Environment
	Prompt       prompt.Prompter
	Checker      PrerequisiteChecker
	Dependencies Dependencies
	Lifecycle    Lifecycle
	Sync         Synchronizer
	Tags         TagSource
	Importer     DatabaseImporter
	Hosts        HostsEditor
	Journal      stores.Journal

	// Display creates the progress display of the dependency install.
	Display func(title string) progress.Display

	Out    io.Writer
	Logger zerolog.Logger
}

// Report summarizes a completed installation.
type Report struct {
	RunID         string
	Checks        []Check
	ServerName    string
	Configured    bool
	SyncFallback  bool
	Imported      bool
	HasMagentoEnv bool
}

// Ready reports whether the project can be browsed right away.
func (r Report) Ready() bool {
	return r.Imported && r.HasMagentoEnv
}

// Installer provisions a project from a fresh checkout.
type Installer struct {
	deps    InstallerDeps
	console console
	logger  zerolog.Logger
}

// NewInstaller creates an installer.
func NewInstaller(deps InstallerDeps) *Installer {
	if deps.Journal == nil {
		deps.Journal = stores.Discard{}
	}
	if deps.Prompt == nil {
		deps.Prompt = prompt.Defaults{}
	}
	if deps.Display == nil {
		deps.Display = func(string) progress.Display { return progress.NopDisplay{} }
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	return &Installer{
		deps:    deps,
		console: console{out: deps.Out},
		logger:  deps.Logger.With().Str("component", "installer").Logger(),
	}
}

type installPhase struct {
	name  string
	title string
	run   func(ctx context.Context, r *Report) error

	// supervised phases journal their own outcome.
	supervised bool
}

// Install runs every phase in order and stops at the first failure.
func (in *Installer) Install(ctx context.Context) (report Report, err error) {
	t := &tracker{journal: in.deps.Journal, component: "installer", logger: in.logger}
	ctx = t.start(ctx, "install", in.deps.Env.Root())
	defer func() { t.finish(ctx, err) }()
	report.RunID = t.run.ID

	phases := []installPhase{
		{name: "prerequisites", title: "Environment check", run: in.checkPrerequisites},
		{name: "dependencies", title: "Installing dependencies", run: in.installDependencies},
		{name: "configuration", title: "Configuring docker environment", run: in.configure},
		{name: "build", title: "Building containers", run: in.build(t), supervised: true},
		{name: "start", title: "Starting environment", run: in.start(t), supervised: true},
		{name: "database", title: "Database", run: in.importDatabase},
	}

	for _, p := range phases {
		in.console.section(p.title)
		t.logger.Debug().Str("phase", p.name).Msg("Starting phase")

		started := time.Now()
		perr := p.run(ctx, &report)
		if !p.supervised {
			t.phase(ctx, p.name, started, perr)
		}
		if perr != nil {
			t.logger.Debug().Str("phase", p.name).Err(perr).Msg("Phase failed")
			return report, perr
		}
	}

	report.HasMagentoEnv = in.deps.Env.HasMagentoEnv()
	return report, nil
}

func (in *Installer) checkPrerequisites(ctx context.Context, r *Report) error {
	checks, err := in.deps.Checker.Check(ctx)
	if err != nil {
		return err
	}
	r.Checks = checks
	for _, ch := range checks {
		if ch.OK {
			in.console.ok("%s", ch.Message())
		} else {
			in.console.warn("%s", ch.Message())
		}
	}
	return Verify(checks)
}

func (in *Installer) installDependencies(ctx context.Context, _ *Report) error {
	if _, err := composer.ReadManifest(in.deps.Env.Root()); err != nil {
		return err
	}
	return in.deps.Dependencies.Install(ctx, in.deps.Display("Installing dependencies"))
}

func (in *Installer) configure(ctx context.Context, r *Report) error {
	env := in.deps.Env
	if !env.HasDistEnv() {
		in.console.text("Creating docker local directory")
		if err := in.deps.Dependencies.MaterializeTemplate(ctx); err != nil {
			return err
		}
	}

	configureEnv := true
	if env.HasLocalEnv() {
		var err error
		configureEnv, err = in.deps.Prompt.Confirm(ctx, "An existing docker .env file already exist, do you want to override it ?", false)
		if err != nil {
			return err
		}
	}
	if configureEnv {
		if err := in.prepareDockerEnv(ctx); err != nil {
			return err
		}
		r.Configured = true
	}

	serverName, err := in.chooseServerName(ctx)
	if err != nil {
		return err
	}
	r.ServerName = serverName

	return in.setupHost(ctx, serverName)
}

func (in *Installer) prepareDockerEnv(ctx context.Context) error {
	env := in.deps.Env
	file, err := env.ResetLocalEnv()
	if err != nil {
		return err
	}

	for _, choice := range DefaultImages {
		if !file.Has(choice.Variable) {
			continue
		}
		value, err := in.selectImage(ctx, choice, file.Get(choice.Variable))
		if err != nil {
			return err
		}
		if err := file.Set(choice.Variable, value); err != nil {
			return err
		}
	}

	if env.IsVariableUsed("DOCKER_REDIS_IMAGE") && file.Has("DOCKER_REDIS_IMAGE") {
		value, err := in.deps.Prompt.Ask(ctx, "Redis image", file.Get("DOCKER_REDIS_IMAGE"))
		if err != nil {
			return err
		}
		if err := file.Set("DOCKER_REDIS_IMAGE", value); err != nil {
			return err
		}
	}

	for _, section := range DefaultSections {
		ok, err := in.deps.Prompt.Confirm(ctx, fmt.Sprintf("Do you want to configure %s ?", section), true)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		res, err := file.ConfigureSection(ctx, section, in.deps.Prompt)
		if err != nil {
			return err
		}
		if res.Empty() {
			in.console.warn("Type %s has no configuration, maybe it is not supported yet or there's nothing to configure.", section)
		}
	}

	return env.SaveLocalEnv()
}

// selectImage offers the published tags of an image. A registry failure
// falls back to a free-text answer.
func (in *Installer) selectImage(ctx context.Context, choice ImageChoice, current string) (string, error) {
	tags, err := in.deps.Tags.Tags(ctx, choice.Image)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		in.logger.Warn().Err(err).Str("image", choice.Image).Msg("Unable to list image tags")
	}
	if len(tags) == 0 {
		return in.deps.Prompt.Ask(ctx, fmt.Sprintf("%s image (%s)", choice.Label, choice.Variable), current)
	}

	repo, currentTag := splitImage(current)
	def := max(slices.Index(tags, currentTag), 0)
	tag, err := in.deps.Prompt.Choose(ctx, fmt.Sprintf("Select the %s image you want to use:", choice.Label), tags, def)
	if err != nil {
		return "", err
	}
	if repo == "" {
		return tag, nil
	}
	return repo + ":" + tag, nil
}

// splitImage splits "repo:tag". A value without a repository is a bare tag.
func splitImage(ref string) (repo, tag string) {
	i := strings.LastIndex(ref, ":")
	if i < 0 || strings.Contains(ref[i:], "/") {
		return "", ref
	}
	return ref[:i], ref[i+1:]
}

func (in *Installer) chooseServerName(ctx context.Context) (string, error) {
	env := in.deps.Env
	current, err := env.ServerName()
	if err != nil {
		return "", err
	}

	change, err := in.deps.Prompt.Confirm(ctx, fmt.Sprintf("The server name is currently %s, do you want to change it ?", current), false)
	if err != nil || !change {
		return current, err
	}

	name, err := in.deps.Prompt.Ask(ctx, "Specify the server name", current)
	if err != nil {
		return "", err
	}
	if name == current {
		return current, nil
	}
	if err := env.SetServerName(name); err != nil {
		return "", err
	}
	return name, nil
}

func (in *Installer) setupHost(ctx context.Context, serverName string) error {
	host := "www." + serverName
	present, err := in.deps.Hosts.Contains(host)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	add, err := in.deps.Prompt.Confirm(ctx, "It seems like this host is not in your hosts file yet, do you want to add it ?", true)
	if err != nil || !add {
		return err
	}
	if err := in.deps.Hosts.Append(ctx, host); err != nil {
		return err
	}
	in.console.ok("Server added in your host file.")
	return nil
}

func (in *Installer) build(t *tracker) func(context.Context, *Report) error {
	return func(ctx context.Context, _ *Report) error {
		out, err := in.deps.Lifecycle.Build(ctx)
		if err != nil {
			return err
		}
		t.outcome(ctx, out)
		return out.Failure()
	}
}

func (in *Installer) start(t *tracker) func(context.Context, *Report) error {
	return func(ctx context.Context, r *Report) error {
		out, err := in.deps.Lifecycle.Start(ctx, true)
		if err != nil {
			return err
		}
		t.outcome(ctx, out)
		if !out.NeedsSyncFallback() {
			return out.Failure()
		}

		r.SyncFallback = true
		in.console.text("Containers are up.")
		in.console.section("File synchronization")
		started := time.Now()
		err = synchronize(ctx, in.deps.Sync, in.deps.Env.ProjectName())
		t.phase(ctx, "sync", started, err)
		return err
	}
}

// synchronize runs the start-timeout fallback: make sure the session runs,
// then wait until it is synced.
func synchronize(ctx context.Context, sync Synchronizer, session string) error {
	running, err := sync.EnsureSessionRunning(ctx)
	if err != nil {
		return err
	}
	if !running {
		return filesync.Failure(session)
	}
	synced, err := sync.MonitorUntilSynced(ctx)
	if err != nil {
		return err
	}
	if !synced {
		return filesync.Failure(session)
	}
	return nil
}

func (in *Installer) importDatabase(ctx context.Context, r *Report) error {
	imported, err := in.offerImport(ctx)
	if err != nil {
		return err
	}
	r.Imported = imported
	if !imported {
		in.console.text("If you want to import a database later, you can use the import command.")
	}
	return nil
}

// offerImport looks for dumps in the project and imports the chosen one.
// Import failures are reported and do not fail the installation.
func (in *Installer) offerImport(ctx context.Context) (bool, error) {
	ok, err := in.deps.Prompt.Confirm(ctx, "Would you like to import a database ?", false)
	if err != nil || !ok {
		return false, err
	}

	root := in.deps.Env.Root()
	dumps, err := compose.FindDumps(root)
	if err != nil {
		return false, err
	}

	var dump string
	switch len(dumps) {
	case 0:
		in.console.text("No compatible file found.")
		return false, nil
	case 1:
		confirmed, err := in.deps.Prompt.Confirm(ctx, fmt.Sprintf("%s is going to be imported, ok ?", compose.DescribeDump(root, dumps[0])), true)
		if err != nil || !confirmed {
			return false, err
		}
		dump = dumps[0]
	default:
		labels := make([]string, len(dumps))
		for i, d := range dumps {
			labels[i] = compose.DescribeDump(root, d)
		}
		label, err := in.deps.Prompt.Choose(ctx, "Multiple compatible files found, please select the correct one:", labels, 0)
		if err != nil {
			return false, err
		}
		dump = dumps[slices.Index(labels, label)]
	}

	database := in.deps.Env.DefaultDatabase()
	if database == "" {
		in.console.text("No database found in %s.", in.deps.Env.Paths().LocalEnv)
		return false, nil
	}

	if err := in.deps.Importer.ImportDatabase(ctx, database, dump); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		in.logger.Warn().Err(err).Str("dump", dump).Msg("Database import failed")
		in.console.warn("%s", err)
		return false, nil
	}
	in.console.ok("Database %s imported from %s.", database, compose.DescribeDump(root, dump))
	return true, nil
}
