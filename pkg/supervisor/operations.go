package supervisor

import (
	"fmt"
	"time"

	"github.com/magebox/magebox/pkg/progress"
)

// Operation names one supervised invocation of the build wrapper.
type Operation string

const (
	OpBuild Operation = "build"
	OpStart Operation = "start"
	OpStop  Operation = "stop"
	OpPurge Operation = "purge"
)

// Validate checks the operation is known.
func (o Operation) Validate() error {
	if _, ok := DefaultSpecs()[o]; !ok {
		return fmt.Errorf("unknown operation: %s", o)
	}
	return nil
}

// Facts are the environment figures an operation target is derived from.
type Facts struct {
	Containers int
	Volumes    int
	Install    bool
	Verbose    bool
}

// Spec is the table entry describing one operation.
type Spec struct {
	Op      Operation
	Args    []string
	Total   func(Facts) int
	Timeout func(Facts) time.Duration
	Match   progress.Matcher

	// TimeoutExpected marks operations for which running past the budget is
	// a normal outcome handed to a fallback instead of a failure.
	TimeoutExpected bool

	// Hint is shown alongside a failure of the operation.
	Hint []string
}

func fixed(d time.Duration) func(Facts) time.Duration {
	return func(Facts) time.Duration { return d }
}

// DefaultSpecs returns the operation table for the make based wrapper
// shipped with emakinafr/docker-magento2.
func DefaultSpecs() map[Operation]Spec {
	return map[Operation]Spec{
		OpBuild: {
			Op:      OpBuild,
			Args:    []string{"make", "build"},
			Total:   func(f Facts) int { return f.Containers },
			Timeout: fixed(600 * time.Second),
			Match:   progress.Contains("skipping", "tagged"),
			Hint: []string{
				"Ensure you're not using a deleted branch for package emakinafr/docker-magento2.",
				"This issue may come from a missing package in the PHP dockerfile after a version upgrade.",
			},
		},
		OpStart: {
			Op:   OpStart,
			Args: []string{"make", "start"},
			Total: func(f Facts) int {
				if f.Install {
					return f.Containers + f.Volumes + 2
				}
				return f.Containers + 1
			},
			Timeout: func(f Facts) time.Duration {
				if f.Install && f.Verbose {
					return 360 * time.Second
				}
				return 60 * time.Second
			},
			Match: progress.AnyOf(
				progress.AllOf(progress.Contains("creating"), progress.Contains("network", "volume", "done")),
				progress.AllOf(progress.Contains("starting"), progress.Contains("done")),
			),
			TimeoutExpected: true,
		},
		OpStop: {
			Op:      OpStop,
			Args:    []string{"make", "stop"},
			Total:   func(f Facts) int { return f.Containers + 1 },
			Timeout: fixed(60 * time.Second),
			Match:   progress.AllOf(progress.Contains("stopping"), progress.Contains("done")),
		},
		OpPurge: {
			Op:      OpPurge,
			Args:    []string{"make", "purge"},
			Total:   func(f Facts) int { return 2*f.Containers + f.Volumes + 2 },
			Timeout: fixed(300 * time.Second),
			Match: progress.AnyOf(
				progress.AllOf(progress.Contains("stopping", "removing"), progress.Contains("done")),
				progress.AllOf(progress.Contains("removing"), progress.Contains("network", "volume")),
			),
		},
	}
}
