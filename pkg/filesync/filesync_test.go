package filesync

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/magebox/magebox/pkg/faults"
	"github.com/magebox/magebox/pkg/process"
	"github.com/magebox/magebox/pkg/progress"
	"github.com/rs/zerolog"
)

type fakeInspector struct {
	up  bool
	err error
}

func (p fakeInspector) IsContainerUp(context.Context, string) (bool, error) { return p.up, p.err }
func (p fakeInspector) ContainerID(context.Context, string) (string, error) { return "4f2a9c", nil }

// fakeDaemon returns statuses in order, repeating the last one.
type fakeDaemon struct {
	statuses  []Status
	statusErr error
	createErr error
	resumeErr error

	polls   int
	created []SessionSpec
	resumed int
}

func (d *fakeDaemon) Status(context.Context, string) (Status, error) {
	if d.statusErr != nil {
		return Status{}, d.statusErr
	}
	i := d.polls
	if i >= len(d.statuses) {
		i = len(d.statuses) - 1
	}
	d.polls++
	return d.statuses[i], nil
}

func (d *fakeDaemon) Create(_ context.Context, spec SessionSpec) error {
	d.created = append(d.created, spec)
	return d.createErr
}

func (d *fakeDaemon) Resume(context.Context, string) error {
	d.resumed++
	return d.resumeErr
}

type recordingDisplay struct {
	updates []progress.State
}

func (d *recordingDisplay) Start(int)               {}
func (d *recordingDisplay) Update(s progress.State) { d.updates = append(d.updates, s) }
func (d *recordingDisplay) Finish()                 {}

func newController(d Daemon, p ContainerInspector, display progress.Display) *Controller {
	return NewController(d, p, Options{
		Session:         "magento2_shop",
		Alpha:           "/home/dev/shop",
		Container:       "synchro",
		BetaPath:        "/var/www/html/",
		Owner:           "www-data",
		Ignore:          []string{"pub/static", "var/page_cache"},
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Display:         display,
		Logger:          zerolog.Nop(),
	})
}

func status(s State) Status {
	return Status{State: s, Percent: -1}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestEnsureRequiresContainer(t *testing.T) {
	d := &fakeDaemon{statuses: []Status{status(Absent)}}
	c := newController(d, fakeInspector{up: false}, nil)

	ok, err := c.EnsureSessionRunning(context.Background())

	if ok {
		t.Error("Expected session not to run without the container")
	}
	if !faults.IsPrecondition(err) {
		t.Errorf("Expected precondition error, got %v", err)
	}
	if d.polls != 0 {
		t.Errorf("Expected no status poll, got %d", d.polls)
	}
}

func TestEnsureCreatesAbsentSession(t *testing.T) {
	d := &fakeDaemon{statuses: []Status{status(Absent)}}
	c := newController(d, fakeInspector{up: true}, nil)

	ok, err := c.EnsureSessionRunning(context.Background())
	if err != nil {
		t.Fatalf("EnsureSessionRunning() returned error: %v", err)
	}

	if !ok {
		t.Error("Expected session to run")
	}
	if len(d.created) != 1 {
		t.Fatalf("Expected one session created, got %d", len(d.created))
	}
	spec := d.created[0]
	if spec.Beta != "docker://4f2a9c/var/www/html/" {
		t.Errorf("Unexpected beta %q", spec.Beta)
	}
	if spec.Alpha != "/home/dev/shop" || spec.Name != "magento2_shop" {
		t.Errorf("Unexpected session spec %+v", spec)
	}
}

func TestEnsureCreationFailureIsSyncFailure(t *testing.T) {
	d := &fakeDaemon{statuses: []Status{status(Absent)}, createErr: errors.New("unable to connect to beta")}
	c := newController(d, fakeInspector{up: true}, nil)

	ok, err := c.EnsureSessionRunning(context.Background())

	if ok {
		t.Error("Expected session not to run")
	}
	if !faults.IsSyncFailure(err) {
		t.Errorf("Expected sync failure, got %v", err)
	}
}

func TestEnsureResumesPausedSession(t *testing.T) {
	d := &fakeDaemon{statuses: []Status{status(Paused)}}
	c := newController(d, fakeInspector{up: true}, nil)

	ok, err := c.EnsureSessionRunning(context.Background())
	if err != nil {
		t.Fatalf("EnsureSessionRunning() returned error: %v", err)
	}

	if !ok || d.resumed != 1 || len(d.created) != 0 {
		t.Errorf("Expected one resume and no creation, got ok=%v resumed=%d created=%d", ok, d.resumed, len(d.created))
	}
}

func TestEnsureActiveSessionIsNoop(t *testing.T) {
	d := &fakeDaemon{statuses: []Status{status(Syncing)}}
	c := newController(d, fakeInspector{up: true}, nil)

	ok, err := c.EnsureSessionRunning(context.Background())
	if err != nil {
		t.Fatalf("EnsureSessionRunning() returned error: %v", err)
	}

	if !ok || d.resumed != 0 || len(d.created) != 0 {
		t.Errorf("Expected no action, got ok=%v resumed=%d created=%d", ok, d.resumed, len(d.created))
	}
}

func TestMonitorUntilSynced(t *testing.T) {
	d := &fakeDaemon{statuses: []Status{
		{State: Syncing, Percent: 10},
		{State: Syncing, Percent: 60},
		{State: Synced, Percent: 100},
	}}
	display := &recordingDisplay{}
	c := newController(d, fakeInspector{up: true}, display)

	ok, err := c.MonitorUntilSynced(context.Background())
	if err != nil {
		t.Fatalf("MonitorUntilSynced() returned error: %v", err)
	}

	if !ok {
		t.Error("Expected synced")
	}
	if d.polls != 3 {
		t.Errorf("Expected 3 polls, got %d", d.polls)
	}
	want := []progress.State{{Completed: 10, Total: 100}, {Completed: 60, Total: 100}, {Completed: 100, Total: 100}}
	if !reflect.DeepEqual(display.updates, want) {
		t.Errorf("Expected updates %v, got %v", want, display.updates)
	}
}

func TestMonitorStopsOnError(t *testing.T) {
	d := &fakeDaemon{statuses: []Status{status(Syncing), {State: Error, Percent: -1, Raw: "[Halted due to root emptying]"}}}
	c := newController(d, fakeInspector{up: true}, nil)

	ok, err := c.MonitorUntilSynced(context.Background())
	if err != nil {
		t.Fatalf("MonitorUntilSynced() returned error: %v", err)
	}

	if ok {
		t.Error("Expected halted session not to converge")
	}
	if d.polls != 2 {
		t.Errorf("Expected 2 polls, got %d", d.polls)
	}
}

func TestMonitorCancellation(t *testing.T) {
	d := &fakeDaemon{statuses: []Status{status(Syncing)}}
	c := newController(d, fakeInspector{up: true}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := c.MonitorUntilSynced(ctx)

	if ok {
		t.Error("Expected cancelled monitor not to converge")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	if len(d.created) != 0 || d.resumed != 0 {
		t.Error("Monitor must not change the session")
	}
}

func TestMonitorStatusError(t *testing.T) {
	d := &fakeDaemon{statusErr: errors.New("daemon not running")}
	c := newController(d, fakeInspector{up: true}, nil)

	ok, err := c.MonitorUntilSynced(context.Background())

	if ok {
		t.Error("Expected monitor not to converge")
	}
	if err == nil || !strings.Contains(err.Error(), "daemon not running") {
		t.Errorf("Expected daemon error, got %v", err)
	}
}

func TestFailure(t *testing.T) {
	err := Failure("magento2_shop")

	if !faults.IsSyncFailure(err) {
		t.Errorf("Expected sync failure, got %v", err)
	}
	if !strings.Contains(faults.Describe(err), "mutagen sync monitor") {
		t.Errorf("Expected monitor hint, got %q", faults.Describe(err))
	}
}

const listSyncing = `--------------------------------------------------------------------------------
Name: magento2_shop
Identifier: sync_Xq2w
Labels:
	name: magento2_shop
Alpha:
	URL: /home/dev/shop
	Connected: Yes
Beta:
	URL: docker://4f2a9c/var/www/html/
	Connected: Yes
Status: Staging files on beta: 42% (1200/2857)
--------------------------------------------------------------------------------
`

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		state   State
		percent int
	}{
		{"empty", "", Absent, -1},
		{"separator only", "-----\n", Absent, -1},
		{"syncing", listSyncing, Syncing, 42},
		{"synced", "Name: x\nStatus: Watching for changes\n", Synced, 100},
		{"paused status", "Name: x\nStatus: [Paused]\n", Paused, -1},
		{"paused flag", "Name: x\nPaused: Yes\nStatus: Disconnected\n", Paused, -1},
		{"halted", "Name: x\nStatus: [Halted due to root deletion]\n", Error, -1},
		{"no status", "Identifier: sync_1\n", Created, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ParseStatus(tt.out)
			if st.State != tt.state {
				t.Errorf("Expected state %v, got %v", tt.state, st.State)
			}
			if st.Percent != tt.percent {
				t.Errorf("Expected percent %d, got %d", tt.percent, st.Percent)
			}
		})
	}
}

type scriptedRunner struct {
	res  process.Result
	args [][]string
}

func (r *scriptedRunner) Run(_ context.Context, cmd process.Command, _ process.LineFunc) (process.Result, error) {
	r.args = append(r.args, cmd.Args)
	return r.res, nil
}

func TestMutagenCommands(t *testing.T) {
	r := &scriptedRunner{res: process.Result{Succeeded: true, Stdout: listSyncing}}
	m := NewMutagen(r, "", zerolog.Nop())
	ctx := context.Background()

	st, err := m.Status(ctx, "magento2_shop")
	if err != nil {
		t.Fatalf("Status() returned error: %v", err)
	}
	if st.State != Syncing {
		t.Errorf("Expected syncing, got %v", st.State)
	}

	if err := m.Resume(ctx, "magento2_shop"); err != nil {
		t.Fatalf("Resume() returned error: %v", err)
	}
	err = m.Create(ctx, SessionSpec{
		Name:   "magento2_shop",
		Alpha:  "/home/dev/shop",
		Beta:   "docker://4f2a9c/var/www/html/",
		Owner:  "www-data",
		Ignore: []string{"pub/static"},
	})
	if err != nil {
		t.Fatalf("Create() returned error: %v", err)
	}

	if len(r.args) != 3 {
		t.Fatalf("Expected 3 commands, got %d", len(r.args))
	}
	if want := []string{"mutagen", "sync", "list", "--label-selector=name=magento2_shop"}; !reflect.DeepEqual(r.args[0], want) {
		t.Errorf("Expected %v, got %v", want, r.args[0])
	}
	if want := []string{"mutagen", "sync", "resume", "--label-selector=name=magento2_shop"}; !reflect.DeepEqual(r.args[1], want) {
		t.Errorf("Expected %v, got %v", want, r.args[1])
	}
	create := r.args[2]
	for _, arg := range []string{"--label=name=magento2_shop", "--default-owner-beta=www-data", "--ignore=pub/static"} {
		if !contains(create, arg) {
			t.Errorf("Expected %s in %v", arg, create)
		}
	}
	if create[len(create)-1] != "docker://4f2a9c/var/www/html/" {
		t.Errorf("Expected beta URL last, got %v", create)
	}
}

func TestMutagenFailure(t *testing.T) {
	r := &scriptedRunner{res: process.Result{ExitCode: 1, Stderr: "unable to connect to daemon"}}
	m := NewMutagen(r, "mutagen", zerolog.Nop())

	if err := m.Create(context.Background(), SessionSpec{Name: "x"}); !faults.IsProcessFailure(err) {
		t.Errorf("Expected process failure, got %v", err)
	}
	if _, err := m.Status(context.Background(), "x"); err == nil {
		t.Error("Expected status error")
	}
}
