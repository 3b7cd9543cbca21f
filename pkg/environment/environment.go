// Package environment describes one Magento project checkout: where its
// docker files live, how many containers and volumes its compose file
// declares, and the variables handed to the external tools.
//
// An Environment is built once per command and passed explicitly to the
// components that need it.
package environment

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/magebox/magebox/pkg/envfile"
	"gopkg.in/yaml.v3"
)

// Paths locates the project files, relative to the project root.
type Paths struct {
	ComposeFile string `yaml:"compose_file" validate:"required"`
	LocalEnv    string `yaml:"local_env" validate:"required"`
	DistEnv     string `yaml:"dist_env" validate:"required"`
	NginxConf   string `yaml:"nginx_conf" validate:"required"`
	MagentoEnv  string `yaml:"magento_env" validate:"required"`
}

// DefaultPaths returns the layout used by emakinafr/docker-magento2.
func DefaultPaths() Paths {
	return Paths{
		ComposeFile: "vendor/emakinafr/docker-magento2/docker-compose.yml",
		LocalEnv:    "docker/local/.env",
		DistEnv:     "docker/local/.env.dist",
		NginxConf:   "docker/local/nginx.conf",
		MagentoEnv:  "app/etc/env.php",
	}
}

// ImageVariables are the env variables selecting the docker images.
var ImageVariables = []string{
	"DOCKER_PHP_IMAGE",
	"DOCKER_MYSQL_IMAGE",
	"DOCKER_ELASTICSEARCH_IMAGE",
	"DOCKER_REDIS_IMAGE",
}

// composeSpec is the subset of a compose file magebox reads.
type composeSpec struct {
	Services map[string]yaml.Node `yaml:"services"`
	Volumes  map[string]yaml.Node `yaml:"volumes"`
}

// Environment is the explicit project context.
type Environment struct {
	root  string
	paths Paths

	composeRaw []byte
	compose    *composeSpec
	localEnv   *envfile.File
}

// New creates an environment rooted at root.
func New(root string, paths Paths) *Environment {
	return &Environment{root: root, paths: paths}
}

// ResolveRoot returns the configured project root containing cwd, or cwd
// itself when none matches.
func ResolveRoot(cwd string, roots []string) string {
	cwd = filepath.Clean(cwd)
	for _, r := range roots {
		r = filepath.Clean(r)
		if cwd == r || strings.HasPrefix(cwd, r+string(filepath.Separator)) {
			return r
		}
	}
	return cwd
}

// Root returns the project root directory.
func (e *Environment) Root() string {
	return e.root
}

// Name returns the base name of the project root.
func (e *Environment) Name() string {
	return filepath.Base(e.root)
}

// Path resolves rel against the project root.
func (e *Environment) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(e.root, rel)
}

// Paths returns the configured file layout.
func (e *Environment) Paths() Paths {
	return e.paths
}

func (e *Environment) exists(rel string) bool {
	_, err := os.Stat(e.Path(rel))
	return err == nil
}

// HasComposeFile reports whether the compose file is present.
func (e *Environment) HasComposeFile() bool { return e.exists(e.paths.ComposeFile) }

// HasLocalEnv reports whether docker/local/.env exists.
func (e *Environment) HasLocalEnv() bool { return e.exists(e.paths.LocalEnv) }

// HasDistEnv reports whether the env template exists.
func (e *Environment) HasDistEnv() bool { return e.exists(e.paths.DistEnv) }

// HasMagentoEnv reports whether app/etc/env.php exists.
func (e *Environment) HasMagentoEnv() bool { return e.exists(e.paths.MagentoEnv) }

func (e *Environment) loadCompose() (*composeSpec, error) {
	if e.compose != nil {
		return e.compose, nil
	}
	raw, err := os.ReadFile(e.Path(e.paths.ComposeFile))
	if err != nil {
		return nil, fmt.Errorf("docker-compose.yml is not found: %w", err)
	}
	var spec composeSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", e.paths.ComposeFile, err)
	}
	e.composeRaw = raw
	e.compose = &spec
	return e.compose, nil
}

// Containers returns the number of services declared in the compose file.
func (e *Environment) Containers() (int, error) {
	spec, err := e.loadCompose()
	if err != nil {
		return 0, err
	}
	return len(spec.Services), nil
}

// Volumes returns the number of named volumes declared in the compose file.
func (e *Environment) Volumes() (int, error) {
	spec, err := e.loadCompose()
	if err != nil {
		return 0, err
	}
	return len(spec.Volumes), nil
}

// IsVariableUsed reports whether the compose file interpolates ${name}.
func (e *Environment) IsVariableUsed(name string) bool {
	if _, err := e.loadCompose(); err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(e.composeRaw)), "${"+strings.ToLower(name)+"}")
}

// LocalEnv returns the project env file, loading it on first use.
func (e *Environment) LocalEnv() (*envfile.File, error) {
	if e.localEnv != nil {
		return e.localEnv, nil
	}
	f, err := envfile.Load(e.Path(e.paths.LocalEnv))
	if err != nil {
		return nil, err
	}
	e.localEnv = f
	return f, nil
}

// ResetLocalEnv copies the template over the local env file and reloads it.
func (e *Environment) ResetLocalEnv() (*envfile.File, error) {
	content, err := os.ReadFile(e.Path(e.paths.DistEnv))
	if err != nil {
		return nil, fmt.Errorf("env.dist does not exist, ensure emakinafr/docker-magento2 is present in dependencies: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(e.Path(e.paths.LocalEnv)), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(e.paths.LocalEnv), err)
	}
	if err := os.WriteFile(e.Path(e.paths.LocalEnv), content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", e.paths.LocalEnv, err)
	}
	e.localEnv = envfile.Parse(content)
	return e.localEnv, nil
}

// SaveLocalEnv writes the in-memory env file back to disk.
func (e *Environment) SaveLocalEnv() error {
	if e.localEnv == nil {
		return nil
	}
	return e.localEnv.Save(e.Path(e.paths.LocalEnv))
}

// ProjectName returns the compose project name.
func (e *Environment) ProjectName() string {
	return "magento2_" + strings.ToLower(e.Name())
}

// DockerVariables returns the variables every docker-related command needs.
func (e *Environment) DockerVariables() map[string]string {
	vars := map[string]string{
		"COMPOSE_FILE":         "./" + filepath.ToSlash(e.paths.ComposeFile),
		"COMPOSE_PROJECT_NAME": e.ProjectName(),
		"PROJECT_LOCATION":     e.root,
	}
	env, err := e.LocalEnv()
	if err != nil {
		return vars
	}
	for _, name := range ImageVariables {
		if !e.IsVariableUsed(name) {
			continue
		}
		if v := env.Get(name); v != "" {
			vars[name] = v
		}
	}
	return vars
}

// dbnamePattern matches the dbname of the default connection in
// app/etc/env.php, written with either array syntax.
var dbnamePattern = regexp.MustCompile(`['"]default['"]\s*=>\s*(?:\[|array\s*\()[^\])]*?['"]dbname['"]\s*=>\s*['"]([^'"]*)['"]`)

// DefaultDatabase returns the database of the default Magento connection,
// falling back to MYSQL_DATABASE of the env file.
func (e *Environment) DefaultDatabase() string {
	if content, err := os.ReadFile(e.Path(e.paths.MagentoEnv)); err == nil {
		if m := dbnamePattern.FindSubmatch(content); m != nil && len(m[1]) > 0 {
			return string(m[1])
		}
	}
	env, err := e.LocalEnv()
	if err != nil {
		return ""
	}
	return env.Get("MYSQL_DATABASE")
}

var serverNamePattern = regexp.MustCompile(`server_name (\S+?);`)

// ServerName returns the first server_name of the nginx configuration.
func (e *Environment) ServerName() (string, error) {
	content, err := os.ReadFile(e.Path(e.paths.NginxConf))
	if err != nil {
		return "", fmt.Errorf("nginx.conf does not exist, ensure emakinafr/docker-magento2 is present in dependencies: %w", err)
	}
	m := serverNamePattern.FindSubmatch(content)
	if m == nil {
		return "", fmt.Errorf("no server_name found in %s", e.paths.NginxConf)
	}
	return string(m[1]), nil
}

// SetServerName rewrites every server_name directive of the nginx configuration.
func (e *Environment) SetServerName(name string) error {
	if name == "" || strings.ContainsAny(name, " \t\n;") {
		return fmt.Errorf("invalid server name %q", name)
	}
	path := e.Path(e.paths.NginxConf)
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", e.paths.NginxConf, err)
	}
	updated := serverNamePattern.ReplaceAllLiteral(content, []byte("server_name "+name+";"))
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", e.paths.NginxConf, err)
	}
	return nil
}
