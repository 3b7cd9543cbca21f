package provision

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/magebox/magebox/pkg/faults"
	"github.com/magebox/magebox/pkg/process"
)

// DefaultHostsPath is the system hosts file.
const DefaultHostsPath = "/etc/hosts"

// Hosts edits a hosts file. Appending goes through `sudo tee -a` since the
// file usually belongs to root.
type Hosts struct {
	Path   string
	Runner process.Runner

	// Sudo prefixes the append command with sudo.
	Sudo bool
}

// NewHosts returns an editor of the system hosts file.
func NewHosts(runner process.Runner) *Hosts {
	return &Hosts{Path: DefaultHostsPath, Runner: runner, Sudo: true}
}

// Contains reports whether host appears in the file, case-insensitively.
func (h *Hosts) Contains(host string) (bool, error) {
	content, err := os.ReadFile(h.Path)
	if err != nil {
		return false, fmt.Errorf("%s file not found: %w", h.Path, err)
	}
	pattern := regexp.MustCompile(`(?im)(^|\s)` + regexp.QuoteMeta(host) + `(\s|$)`)
	return pattern.Match(content), nil
}

// Entry returns the lines appended for host.
func Entry(host string) string {
	return fmt.Sprintf("# Added by magebox\n127.0.0.1   %s\n", host)
}

// Append adds a loopback entry for host.
func (h *Hosts) Append(ctx context.Context, host string) error {
	args := []string{"tee", "-a", h.Path}
	if h.Sudo {
		args = append([]string{"sudo"}, args...)
	}
	cmd := process.Command{Args: args, Stdin: strings.NewReader(Entry(host))}

	res, err := process.Capture(ctx, h.Runner, cmd)
	if err != nil {
		return err
	}
	if !res.Succeeded {
		return faults.NewProcessFailure(fmt.Sprintf("unable to add %s to %s", host, h.Path), nil).
			WithOutput(res.Diagnostics()).
			WithHint(fmt.Sprintf("Add `127.0.0.1 %s` to %s manually.", host, h.Path))
	}
	return nil
}
