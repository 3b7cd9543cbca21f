// Package process runs external tools and streams their output line by line.
package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/magebox/magebox/pkg/faults"
	"github.com/rs/zerolog"
)

// ExitTimeout is the exit code reported when a command outlives its timeout.
// It matches the status used by timeout(1).
const ExitTimeout = 124

// Stream identifies the pipe a line was read from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// String returns the stream name.
func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// LineFunc receives every output line as it is produced. The returned value
// tells the caller whether the line was counted; the runner never uses it to
// stop waiting.
type LineFunc func(stream Stream, line string) bool

// Command describes one invocation of an external tool.
type Command struct {
	// Args holds the executable followed by its arguments.
	Args []string

	// Timeout bounds the wait for process exit. Zero disables the deadline.
	Timeout time.Duration

	// Env is added on top of the inherited environment.
	Env map[string]string

	// Dir is the working directory; empty means the current one.
	Dir string

	// Stdin feeds the process input when set.
	Stdin io.Reader
}

// String renders the command line.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Result is the outcome of a single command.
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Succeeded bool

	// Timeout is set only when the deadline passed before the process exited.
	Timeout bool
}

// TimedOut reports whether the command hit its deadline. A process exiting
// on its own with ExitTimeout is a plain failure.
func (r Result) TimedOut() bool {
	return r.Timeout
}

// Diagnostics returns the most useful captured output for error reporting.
func (r Result) Diagnostics() string {
	if strings.TrimSpace(r.Stderr) != "" {
		return r.Stderr
	}
	return r.Stdout
}

// Runner launches external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command, onLine LineFunc) (Result, error)
}

// Exec is the Runner backed by os/exec.
type Exec struct {
	logger zerolog.Logger
}

// NewExec creates an os/exec backed runner.
func NewExec(logger zerolog.Logger) *Exec {
	return &Exec{logger: logger.With().Str("component", "runner").Logger()}
}

type lineEvent struct {
	stream Stream
	text   string
}

// Run launches cmd and blocks until it exits, the timeout elapses or ctx is
// cancelled. onLine is always invoked on the calling goroutine.
func (e *Exec) Run(ctx context.Context, cmd Command, onLine LineFunc) (Result, error) {
	if len(cmd.Args) == 0 {
		return Result{}, faults.NewLaunchError("empty command", nil)
	}

	c := exec.Command(cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	c.Env = mergeEnv(os.Environ(), cmd.Env)
	c.Stdin = cmd.Stdin

	stdoutPipe, err := c.StdoutPipe()
	if err != nil {
		return Result{}, faults.NewLaunchError(fmt.Sprintf("cannot attach stdout of %s", cmd.Args[0]), err)
	}
	stderrPipe, err := c.StderrPipe()
	if err != nil {
		return Result{}, faults.NewLaunchError(fmt.Sprintf("cannot attach stderr of %s", cmd.Args[0]), err)
	}

	e.logger.Debug().Str("command", cmd.String()).Dur("timeout", cmd.Timeout).Msg("Starting command")

	if err := c.Start(); err != nil {
		return Result{}, faults.NewLaunchError(fmt.Sprintf("cannot run %s", cmd.Args[0]), err)
	}

	lines := make(chan lineEvent)
	abandon := make(chan struct{})
	exited := make(chan error, 1)

	var readers sync.WaitGroup
	readers.Add(2)
	go scanLines(&readers, stdoutPipe, Stdout, lines, abandon)
	go scanLines(&readers, stderrPipe, Stderr, lines, abandon)
	go func() {
		// Wait must only be called once both pipes are drained.
		readers.Wait()
		exited <- c.Wait()
	}()

	var deadline <-chan time.Time
	if cmd.Timeout > 0 {
		timer := time.NewTimer(cmd.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var stdout, stderr bytes.Buffer
	for {
		select {
		case ev := <-lines:
			if ev.stream == Stderr {
				stderr.WriteString(ev.text)
				stderr.WriteByte('\n')
			} else {
				stdout.WriteString(ev.text)
				stdout.WriteByte('\n')
			}
			if onLine != nil {
				onLine(ev.stream, ev.text)
			}

		case waitErr := <-exited:
			res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
			if waitErr != nil {
				var exitErr *exec.ExitError
				if !errors.As(waitErr, &exitErr) {
					return res, faults.NewLaunchError(fmt.Sprintf("waiting for %s", cmd.Args[0]), waitErr)
				}
				// ExitCode is -1 when the process was killed by a signal.
				res.ExitCode = exitErr.ExitCode()
			}
			res.Succeeded = res.ExitCode == 0
			e.logger.Debug().Str("command", cmd.String()).Int("exit_code", res.ExitCode).Msg("Command exited")
			return res, nil

		case <-deadline:
			close(abandon)
			e.logger.Debug().
				Str("command", cmd.String()).
				Int("pid", c.Process.Pid).
				Msg("Command timed out, leaving it running")
			return Result{
				ExitCode: ExitTimeout,
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				Timeout:  true,
			}, nil

		case <-ctx.Done():
			close(abandon)
			_ = c.Process.Kill()
			return Result{
				ExitCode: -1,
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}, ctx.Err()
		}
	}
}

// scanLines forwards lines until the reader is exhausted. Once abandon is
// closed the remaining output is read and discarded so the child never blocks
// on a full pipe.
func scanLines(wg *sync.WaitGroup, r io.Reader, stream Stream, out chan<- lineEvent, abandon <-chan struct{}) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case out <- lineEvent{stream: stream, text: strings.TrimRight(scanner.Text(), "\r")}:
		case <-abandon:
		}
	}
	if scanner.Err() != nil {
		// A line longer than the buffer; keep draining raw bytes.
		_, _ = io.Copy(io.Discard, r)
	}
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, override := extra[name]; override {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// Capture runs cmd without a line callback and returns its result.
func Capture(ctx context.Context, r Runner, cmd Command) (Result, error) {
	return r.Run(ctx, cmd, nil)
}
