package filesync

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/magebox/magebox/pkg/faults"
	"github.com/magebox/magebox/pkg/process"
	"github.com/rs/zerolog"
)

// Mutagen drives sync sessions through the mutagen CLI. Sessions are
// addressed by a name label so that lookups do not depend on mutagen's
// generated identifiers.
type Mutagen struct {
	runner process.Runner
	binary string
	logger zerolog.Logger
}

// NewMutagen creates a daemon client running binary (default "mutagen").
func NewMutagen(runner process.Runner, binary string, logger zerolog.Logger) *Mutagen {
	if binary == "" {
		binary = "mutagen"
	}
	return &Mutagen{
		runner: runner,
		binary: binary,
		logger: logger.With().Str("component", "mutagen").Logger(),
	}
}

func selector(name string) string {
	return "--label-selector=name=" + name
}

// Status implements Daemon.
func (m *Mutagen) Status(ctx context.Context, name string) (Status, error) {
	res, err := process.Capture(ctx, m.runner, process.Command{
		Args: []string{m.binary, "sync", "list", selector(name)},
	})
	if err != nil {
		return Status{}, err
	}
	if !res.Succeeded {
		return Status{}, faults.NewProcessFailure("mutagen sync list failed", nil).
			WithOperation("sync").
			WithOutput(res.Diagnostics())
	}
	st := ParseStatus(res.Stdout)
	m.logger.Debug().Str("session", name).Str("state", st.State.String()).Int("percent", st.Percent).Msg("Session status")
	return st, nil
}

// Create implements Daemon.
func (m *Mutagen) Create(ctx context.Context, spec SessionSpec) error {
	args := []string{
		m.binary, "sync", "create",
		"--label=name=" + spec.Name,
		"--sync-mode=two-way-resolved",
		"--symlink-mode=posix-raw",
		"--ignore-vcs",
	}
	if spec.Owner != "" {
		args = append(args, "--default-owner-beta="+spec.Owner, "--default-group-beta="+spec.Owner)
	}
	for _, pattern := range spec.Ignore {
		args = append(args, "--ignore="+pattern)
	}
	args = append(args, spec.Alpha, spec.Beta)

	res, err := process.Capture(ctx, m.runner, process.Command{Args: args})
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return faults.NewProcessFailure(fmt.Sprintf("mutagen sync create exited with code %d", res.ExitCode), nil).
			WithOperation("sync").
			WithOutput(res.Diagnostics())
	}
	m.logger.Info().Str("session", spec.Name).Str("beta", spec.Beta).Msg("Session created")
	return nil
}

// Resume implements Daemon.
func (m *Mutagen) Resume(ctx context.Context, name string) error {
	res, err := process.Capture(ctx, m.runner, process.Command{
		Args: []string{m.binary, "sync", "resume", selector(name)},
	})
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return faults.NewProcessFailure("mutagen sync resume failed", nil).
			WithOperation("sync").
			WithOutput(res.Diagnostics())
	}
	m.logger.Info().Str("session", name).Msg("Session resumed")
	return nil
}

var percentPattern = regexp.MustCompile(`(\d{1,3})%`)

// ParseStatus reads the output of `mutagen sync list` for a single session.
// Output without a session block means no session exists.
func ParseStatus(out string) Status {
	st := Status{State: Absent, Percent: -1}

	found := false
	paused := false
	var status string

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(key) {
		case "name", "identifier":
			found = true
		case "paused":
			paused = strings.EqualFold(value, "yes")
		case "status":
			if status == "" {
				status = value
			}
		}
	}
	if !found {
		return st
	}

	st.Raw = status
	lower := strings.ToLower(status)
	switch {
	case paused || strings.Contains(lower, "paused"):
		st.State = Paused
	case strings.Contains(lower, "halted"):
		st.State = Error
	case strings.Contains(lower, "watching for changes"):
		st.State = Synced
		st.Percent = 100
	case status == "":
		st.State = Created
	default:
		st.State = Syncing
	}
	if m := percentPattern.FindStringSubmatch(status); m != nil {
		if p, err := strconv.Atoi(m[1]); err == nil && p <= 100 {
			st.Percent = p
		}
	}
	return st
}
