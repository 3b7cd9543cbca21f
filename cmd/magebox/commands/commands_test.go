package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/magebox/magebox/pkg/stores"
	"github.com/rs/zerolog"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand("1.0.0", "abc", "today")

	for _, name := range []string{"install", "build", "start", "stop", "uninstall", "sync", "import", "env", "history"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil {
			t.Errorf("Find(%q) returned error: %v", name, err)
			continue
		}
		if cmd.Name() != name {
			t.Errorf("Expected command %s, got %s", name, cmd.Name())
		}
	}

	env, _, err := root.Find([]string{"env", "watch"})
	if err != nil {
		t.Fatalf("Find(env watch) returned error: %v", err)
	}
	if env.Name() != "watch" {
		t.Errorf("Expected command watch, got %s", env.Name())
	}
	if root.PersistentFlags().Lookup("no-timeout") == nil {
		t.Error("Expected persistent flag --no-timeout")
	}
}

func TestOpenJournal(t *testing.T) {
	dir := t.TempDir()

	journal := openJournal(context.Background(), filepath.Join(dir, "state", "journal.db"), zerolog.Nop())
	store, ok := journal.(*stores.SQLiteStore)
	if !ok {
		t.Fatalf("Expected a SQLite journal, got %T", journal)
	}
	_ = store.Close()

	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	journal = openJournal(context.Background(), filepath.Join(blocker, "journal.db"), zerolog.New(&logs))
	if _, ok := journal.(stores.Discard); !ok {
		t.Errorf("Expected the discard journal, got %T", journal)
	}
	if !strings.Contains(logs.String(), "Run journal unavailable") {
		t.Errorf("Expected a warning, got %q", logs.String())
	}
}

func TestPrintRuns(t *testing.T) {
	started := time.Now().Add(-2 * time.Minute)
	completed := started.Add(90 * time.Second)
	runs := []*stores.Run{{
		ID:          "run-1",
		Command:     "install",
		Root:        "/srv/shop",
		Status:      stores.RunStatusSucceeded,
		StartedAt:   started,
		CompletedAt: &completed,
	}}

	var out bytes.Buffer
	printRuns(&out, runs)

	for _, want := range []string{"COMMAND", "run-1", "1m30s", "/srv/shop"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected %q in output:\n%s", want, out.String())
		}
	}
}

func TestPrintRunsEmpty(t *testing.T) {
	var out bytes.Buffer
	printRuns(&out, nil)
	if out.String() != "No runs recorded.\n" {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestPrintRun(t *testing.T) {
	msg := "start exited with code 2"
	run := &stores.Run{ID: "run-1", Command: "start", Root: "/srv/shop", Status: stores.RunStatusFailed, StartedAt: time.Now(), Error: &msg}
	ops := []*stores.Operation{
		{Name: "start", Status: "failed", ExitCode: 2, Completed: 3, Total: 7, Duration: 1500 * time.Millisecond},
		{Name: "sync", Status: "succeeded", Duration: time.Second},
	}

	var out bytes.Buffer
	printRun(&out, run, ops)

	for _, want := range []string{"Error: start exited with code 2", "3/7", "1.5s"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected %q in output:\n%s", want, out.String())
		}
	}
}
