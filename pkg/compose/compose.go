// Package compose queries and drives the project's containers through the
// docker compose CLI.
package compose

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/magebox/magebox/pkg/faults"
	"github.com/magebox/magebox/pkg/process"
	"github.com/rs/zerolog"
)

// VariableSource provides the compose variables of the environment.
type VariableSource interface {
	DockerVariables() map[string]string
}

// Client runs docker compose commands for one environment.
type Client struct {
	runner process.Runner
	vars   VariableSource
	dir    string
	logger zerolog.Logger
}

// New creates a client running commands in dir.
func New(runner process.Runner, vars VariableSource, dir string, logger zerolog.Logger) *Client {
	return &Client{
		runner: runner,
		vars:   vars,
		dir:    dir,
		logger: logger.With().Str("component", "compose").Logger(),
	}
}

func (c *Client) command(args ...string) process.Command {
	return process.Command{
		Args: append([]string{"docker", "compose"}, args...),
		Env:  c.vars.DockerVariables(),
		Dir:  c.dir,
	}
}

func (c *Client) capture(ctx context.Context, args ...string) (process.Result, error) {
	cmd := c.command(args...)
	res, err := process.Capture(ctx, c.runner, cmd)
	if err != nil {
		return res, err
	}
	if !res.Succeeded {
		return res, faults.NewProcessFailure(fmt.Sprintf("`%s` exited with code %d", cmd, res.ExitCode), nil).
			WithOutput(res.Diagnostics())
	}
	return res, nil
}

// RunningServices returns the services with a running container.
func (c *Client) RunningServices(ctx context.Context) ([]string, error) {
	res, err := c.capture(ctx, "ps", "--services", "--status", "running")
	if err != nil {
		return nil, err
	}
	return strings.Fields(res.Stdout), nil
}

// IsContainerUp reports whether service has a running container.
func (c *Client) IsContainerUp(ctx context.Context, service string) (bool, error) {
	services, err := c.RunningServices(ctx)
	if err != nil {
		return false, err
	}
	up := slices.Contains(services, service)
	c.logger.Debug().Str("service", service).Bool("up", up).Msg("Container status")
	return up, nil
}

// ContainerID returns the id of the container running service.
func (c *Client) ContainerID(ctx context.Context, service string) (string, error) {
	res, err := c.capture(ctx, "ps", "-q", service)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(res.Stdout)
	if id == "" {
		return "", fmt.Errorf("no container found for service %s", service)
	}
	if i := strings.IndexByte(id, '\n'); i >= 0 {
		id = id[:i]
	}
	return id, nil
}

// ImportDatabase loads a SQL dump (plain, gzip or zip) into database
// through the mysql service.
func (c *Client) ImportDatabase(ctx context.Context, database, dumpPath string) error {
	dump, err := OpenDump(dumpPath)
	if err != nil {
		return err
	}
	defer dump.Close()

	cmd := c.command("exec", "-T", "mysql", "sh", "-c", `exec mysql -u root -p"$MYSQL_ROOT_PASSWORD" "$0"`, database)
	cmd.Stdin = dump

	c.logger.Info().Str("database", database).Str("dump", dumpPath).Msg("Importing database")
	res, err := process.Capture(ctx, c.runner, cmd)
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return faults.NewProcessFailure("database import failed", nil).
			WithOperation("import").
			WithOutput(res.Diagnostics())
	}
	return nil
}
