package composer

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/magebox/magebox/pkg/faults"
	"github.com/magebox/magebox/pkg/process"
	"github.com/magebox/magebox/pkg/progress"
	"github.com/rs/zerolog"
)

const manifest = `{
  "name": "acme/shop",
  "require": {
    "magento/product-community-edition": "2.4.6",
    "php": "~8.1"
  },
  "require-dev": {
    "emakinafr/docker-magento2": "^4.0"
  }
}`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "composer.json", manifest)

	m, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest() returned error: %v", err)
	}

	if m.Name != "acme/shop" {
		t.Errorf("Expected name 'acme/shop', got %q", m.Name)
	}
	if len(m.Requires) != 3 {
		t.Errorf("Expected 3 requirements, got %d", len(m.Requires))
	}
	if !m.HasDockerPackage() {
		t.Error("Expected the docker package to be required")
	}
}

func TestReadManifestErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadManifest(dir)
	if err == nil || !strings.Contains(err.Error(), "unable to read composer.json") {
		t.Errorf("Expected read error, got %v", err)
	}

	writeFile(t, dir, "composer.json", `{"name": "acme/shop",`)
	_, err = ReadManifest(dir)
	if err == nil || !strings.Contains(err.Error(), "not valid") {
		t.Errorf("Expected parse error, got %v", err)
	}
}

func TestPackageCount(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "composer.json", manifest)
	if got := PackageCount(dir); got != 3 {
		t.Errorf("Expected 3 packages from composer.json, got %d", got)
	}

	writeFile(t, dir, "composer.lock", `{"packages": [{"name": "a"}, {"name": "b"}], "packages-dev": [{"name": "c"}, {"name": "d"}]}`)
	if got := PackageCount(dir); got != 4 {
		t.Errorf("Expected 4 packages from composer.lock, got %d", got)
	}

	if got := PackageCount(t.TempDir()); got != 0 {
		t.Errorf("Expected 0 packages without manifest, got %d", got)
	}
}

type fakeRunner struct {
	lines []string
	res   process.Result
	got   process.Command
}

func (r *fakeRunner) Run(_ context.Context, cmd process.Command, onLine process.LineFunc) (process.Result, error) {
	r.got = cmd
	for _, l := range r.lines {
		if onLine != nil {
			onLine(process.Stderr, l)
		}
	}
	return r.res, nil
}

type lastState struct {
	state progress.State
}

func (d *lastState) Start(int)               {}
func (d *lastState) Update(s progress.State) { d.state = s }
func (d *lastState) Finish()                 {}

func TestInstall(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "composer.json", manifest)
	r := &fakeRunner{
		lines: []string{
			"Installing dependencies from lock file",
			"  - Downloading php (8.1)",
			"  - Installing magento/product-community-edition (2.4.6)",
			"  - Installing emakinafr/docker-magento2 (4.0.1)",
		},
		res: process.Result{Succeeded: true},
	}
	display := &lastState{}

	if err := New(r, dir, zerolog.Nop()).Install(context.Background(), display); err != nil {
		t.Fatalf("Install() returned error: %v", err)
	}

	if want := []string{"composer", "install", "--ignore-platform-reqs", "-o"}; !reflect.DeepEqual(r.got.Args, want) {
		t.Errorf("Expected args %v, got %v", want, r.got.Args)
	}
	if r.got.Dir != dir {
		t.Errorf("Expected dir %s, got %s", dir, r.got.Dir)
	}
	if display.state != (progress.State{Completed: 2, Total: 3}) {
		t.Errorf("Expected 2/3, got %+v", display.state)
	}
}

func TestMaterializeTemplateFailure(t *testing.T) {
	r := &fakeRunner{res: process.Result{ExitCode: 1, Stderr: "Command \"docker-local-install\" is not defined."}}

	err := New(r, t.TempDir(), zerolog.Nop()).MaterializeTemplate(context.Background())

	if !faults.IsProcessFailure(err) {
		t.Errorf("Expected process failure, got %v", err)
	}
	if want := []string{"composer", "exec", "docker-local-install"}; !reflect.DeepEqual(r.got.Args, want) {
		t.Errorf("Expected args %v, got %v", want, r.got.Args)
	}
}
