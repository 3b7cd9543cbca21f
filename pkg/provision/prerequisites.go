package provision

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/magebox/magebox/pkg/faults"
	"github.com/magebox/magebox/pkg/process"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prerequisite is a tool the environment needs on the host.
type Prerequisite struct {
	Name      string
	Binary    string
	Mandatory bool
}

// DefaultPrerequisites are the tools an installation relies on.
var DefaultPrerequisites = []Prerequisite{
	{Name: "docker", Binary: "docker", Mandatory: true},
	{Name: "make", Binary: "make", Mandatory: true},
	{Name: "mutagen", Binary: "mutagen", Mandatory: true},
	{Name: "composer", Binary: "composer", Mandatory: true},
}

// Check is the result of one prerequisite check.
type Check struct {
	Name      string
	OK        bool
	Mandatory bool
	Detail    string
}

// Message returns the line shown to the user.
func (c Check) Message() string {
	title := strings.ToUpper(c.Name[:1]) + c.Name[1:]
	if c.Name == daemonCheck {
		if c.OK {
			return "Docker is running."
		}
		return "Docker must be running."
	}
	if c.OK {
		return title + " is installed."
	}
	return title + " is missing."
}

const daemonCheck = "docker daemon"

// Checker verifies the host prerequisites.
type Checker struct {
	runner   process.Runner
	prereqs  []Prerequisite
	lookPath func(string) (string, error)
	logger   zerolog.Logger
}

// NewChecker creates a checker for the default prerequisites.
func NewChecker(runner process.Runner, logger zerolog.Logger) *Checker {
	return &Checker{
		runner:   runner,
		prereqs:  DefaultPrerequisites,
		lookPath: exec.LookPath,
		logger:   logger.With().Str("component", "prerequisites").Logger(),
	}
}

// Check runs every check concurrently and returns them in declaration order,
// the docker daemon check last.
func (c *Checker) Check(ctx context.Context) ([]Check, error) {
	checks := make([]Check, len(c.prereqs)+1)

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range c.prereqs {
		g.Go(func() error {
			path, err := c.lookPath(p.Binary)
			checks[i] = Check{Name: p.Name, OK: err == nil, Mandatory: p.Mandatory, Detail: path}
			return nil
		})
	}
	g.Go(func() error {
		res, err := process.Capture(gctx, c.runner, process.Command{Args: []string{"docker", "version"}})
		check := Check{Name: daemonCheck, Mandatory: true}
		switch {
		case err != nil && gctx.Err() != nil:
			return gctx.Err()
		case err != nil:
			check.Detail = err.Error()
		default:
			check.OK = res.Succeeded
			check.Detail = res.Diagnostics()
		}
		checks[len(checks)-1] = check
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, ch := range checks {
		c.logger.Debug().Str("check", ch.Name).Bool("ok", ch.OK).Str("detail", ch.Detail).Msg("Prerequisite checked")
	}
	return checks, nil
}

// Verify returns a precondition error naming the failed mandatory checks.
func Verify(checks []Check) error {
	var missing []string
	for _, ch := range checks {
		if !ch.OK && ch.Mandatory {
			missing = append(missing, ch.Message())
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return faults.NewPreconditionError(fmt.Sprintf("prerequisites not met: %s", strings.Join(missing, " ")), nil).
		WithOperation("prerequisites")
}
