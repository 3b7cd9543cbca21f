// Package composer runs the PHP dependency manager of the project.
package composer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/magebox/magebox/pkg/faults"
	"github.com/magebox/magebox/pkg/process"
	"github.com/magebox/magebox/pkg/progress"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// DockerPackage is the package shipping the docker environment.
const DockerPackage = "emakinafr/docker-magento2"

// Manifest is the part of composer.json magebox reads.
type Manifest struct {
	Name     string
	Requires map[string]string
}

// HasDockerPackage reports whether the docker environment package is required.
func (m Manifest) HasDockerPackage() bool {
	_, ok := m.Requires[DockerPackage]
	return ok
}

// ReadManifest reads composer.json in dir.
func ReadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, "composer.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("unable to read composer.json: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return Manifest{}, fmt.Errorf("unable to read json: %s is not valid", path)
	}

	doc := gjson.ParseBytes(raw)
	m := Manifest{
		Name:     doc.Get("name").String(),
		Requires: make(map[string]string),
	}
	for _, key := range []string{"require", "require-dev"} {
		doc.Get(key).ForEach(func(pkg, version gjson.Result) bool {
			m.Requires[pkg.String()] = version.String()
			return true
		})
	}
	return m, nil
}

// Client runs composer commands in the project directory.
type Client struct {
	runner process.Runner
	dir    string
	logger zerolog.Logger
}

// New creates a composer client for dir.
func New(runner process.Runner, dir string, logger zerolog.Logger) *Client {
	return &Client{
		runner: runner,
		dir:    dir,
		logger: logger.With().Str("component", "composer").Logger(),
	}
}

// PackageCount returns the number of locked packages, or the number of
// required packages when composer.lock is absent.
func PackageCount(dir string) int {
	raw, err := os.ReadFile(filepath.Join(dir, "composer.lock"))
	if err == nil && gjson.ValidBytes(raw) {
		doc := gjson.ParseBytes(raw)
		return int(doc.Get("packages.#").Int() + doc.Get("packages-dev.#").Int())
	}
	m, err := ReadManifest(dir)
	if err != nil {
		return 0
	}
	return len(m.Requires)
}

func (c *Client) run(ctx context.Context, target progress.Target, display progress.Display, args ...string) error {
	cmd := process.Command{Args: append([]string{"composer"}, args...), Dir: c.dir}
	c.logger.Debug().Str("command", cmd.String()).Int("total", target.Total).Msg("Running composer")

	res, _, err := progress.Wrap(ctx, c.runner, cmd, target, display)
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return faults.NewProcessFailure(fmt.Sprintf("`%s` exited with code %d", cmd, res.ExitCode), nil).
			WithOperation("composer").
			WithOutput(res.Diagnostics())
	}
	return nil
}

// Install installs the project dependencies.
func (c *Client) Install(ctx context.Context, display progress.Display) error {
	target := progress.Target{
		Total: PackageCount(c.dir),
		Match: progress.Contains("- installing"),
	}
	return c.run(ctx, target, display, "install", "--ignore-platform-reqs", "-o")
}

// MaterializeTemplate creates docker/local from the template shipped with
// the docker package.
func (c *Client) MaterializeTemplate(ctx context.Context) error {
	return c.run(ctx, progress.Target{}, nil, "exec", "docker-local-install")
}
