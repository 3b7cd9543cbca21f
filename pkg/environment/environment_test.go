package environment

import (
	"os"
	"path/filepath"
	"testing"
)

const composeFixture = `version: '3.7'
services:
  nginx:
    image: nginx
  php:
    image: emakinafr/php:${DOCKER_PHP_IMAGE}
  mysql:
    image: emakinafr/magento2-mysql:${DOCKER_MYSQL_IMAGE}
  synchro:
    image: emakinafr/synchro
volumes:
  mysql: {}
  synchro: {}
`

const magentoEnvFixture = `<?php
return [
    'backend' => [
        'frontName' => 'admin'
    ],
    'db' => [
        'table_prefix' => '',
        'connection' => [
            'default' => [
                'host' => 'mysql',
                'dbname' => 'shop_live',
                'username' => 'root',
                'active' => '1'
            ]
        ]
    ],
    'cache' => [
        'frontend' => [
            'default' => [
                'id_prefix' => 'b1e_'
            ]
        ]
    ]
];
`

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newFixture(t *testing.T) *Environment {
	t.Helper()
	root := filepath.Join(t.TempDir(), "Shop")
	paths := DefaultPaths()
	writeFile(t, root, paths.ComposeFile, composeFixture)
	writeFile(t, root, paths.LocalEnv, "DOCKER_PHP_IMAGE=php73\nDOCKER_REDIS_IMAGE=redis5\nMYSQL_DATABASE=shop\n")
	writeFile(t, root, paths.DistEnv, "DOCKER_PHP_IMAGE=\nMYSQL_DATABASE=magento\n")
	writeFile(t, root, paths.NginxConf, "server {\n  server_name shop.localhost;\n}\n")
	return New(root, paths)
}

func TestCounts(t *testing.T) {
	env := newFixture(t)

	containers, err := env.Containers()
	if err != nil {
		t.Fatalf("Containers() returned error: %v", err)
	}
	volumes, err := env.Volumes()
	if err != nil {
		t.Fatalf("Volumes() returned error: %v", err)
	}

	if containers != 4 {
		t.Errorf("Expected 4 containers, got %d", containers)
	}
	if volumes != 2 {
		t.Errorf("Expected 2 volumes, got %d", volumes)
	}
}

func TestCountsWithoutComposeFile(t *testing.T) {
	env := New(t.TempDir(), DefaultPaths())

	if _, err := env.Containers(); err == nil {
		t.Error("Expected error without compose file")
	}
	if env.HasComposeFile() {
		t.Error("Expected no compose file")
	}
	if env.IsVariableUsed("DOCKER_PHP_IMAGE") {
		t.Error("Expected no variable to be used without compose file")
	}
}

func TestDockerVariables(t *testing.T) {
	env := newFixture(t)

	vars := env.DockerVariables()

	want := map[string]string{
		"COMPOSE_FILE":         "./vendor/emakinafr/docker-magento2/docker-compose.yml",
		"COMPOSE_PROJECT_NAME": "magento2_shop",
		"PROJECT_LOCATION":     env.Root(),
		"DOCKER_PHP_IMAGE":     "php73",
	}
	for k, v := range want {
		if vars[k] != v {
			t.Errorf("Expected %s=%q, got %q", k, v, vars[k])
		}
	}
	// Redis is configured but not referenced by the compose file.
	for _, k := range []string{"DOCKER_REDIS_IMAGE", "DOCKER_MYSQL_IMAGE"} {
		if _, ok := vars[k]; ok {
			t.Errorf("Unexpected variable %s", k)
		}
	}
}

func TestResetLocalEnv(t *testing.T) {
	env := newFixture(t)
	if got := env.DefaultDatabase(); got != "shop" {
		t.Errorf("Expected database 'shop', got %q", got)
	}

	f, err := env.ResetLocalEnv()
	if err != nil {
		t.Fatalf("ResetLocalEnv() returned error: %v", err)
	}
	if got := f.Get("MYSQL_DATABASE"); got != "magento" {
		t.Errorf("Expected dist value 'magento', got %q", got)
	}

	if err := f.Set("DOCKER_PHP_IMAGE", "php74"); err != nil {
		t.Fatal(err)
	}
	if err := env.SaveLocalEnv(); err != nil {
		t.Fatalf("SaveLocalEnv() returned error: %v", err)
	}

	content, err := os.ReadFile(env.Path(env.Paths().LocalEnv))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "DOCKER_PHP_IMAGE=php74\nMYSQL_DATABASE=magento\n" {
		t.Errorf("Unexpected env file %q", content)
	}
}

func TestDefaultDatabasePrefersMagentoEnv(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short array syntax", magentoEnvFixture, "shop_live"},
		{"long array syntax", "<?php return array('db' => array('connection' => array('default' => array(\"host\" => \"mysql\", \"dbname\" => \"legacy\"))));", "legacy"},
		{"no default connection", "<?php return ['db' => ['connection' => []]];", "shop"},
		{"empty dbname", "<?php return ['db' => ['connection' => ['default' => ['dbname' => '']]]];", "shop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newFixture(t)
			writeFile(t, env.Root(), env.Paths().MagentoEnv, tt.content)

			if got := env.DefaultDatabase(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestServerName(t *testing.T) {
	env := newFixture(t)

	name, err := env.ServerName()
	if err != nil {
		t.Fatalf("ServerName() returned error: %v", err)
	}
	if name != "shop.localhost" {
		t.Errorf("Expected 'shop.localhost', got %q", name)
	}

	if err := env.SetServerName("shop.test"); err != nil {
		t.Fatalf("SetServerName() returned error: %v", err)
	}
	name, err = env.ServerName()
	if err != nil {
		t.Fatal(err)
	}
	if name != "shop.test" {
		t.Errorf("Expected 'shop.test', got %q", name)
	}

	if err := env.SetServerName("bad name"); err == nil {
		t.Error("Expected invalid server name to be rejected")
	}
}

func TestResolveRoot(t *testing.T) {
	roots := []string{"/home/dev/projects/shop", "/home/dev/projects/blog"}

	tests := []struct {
		cwd  string
		want string
	}{
		{"/home/dev/projects/shop/app/code", "/home/dev/projects/shop"},
		{"/home/dev/projects/blog", "/home/dev/projects/blog"},
		{"/home/dev/projects/shopping", "/home/dev/projects/shopping"},
	}
	for _, tt := range tests {
		if got := ResolveRoot(tt.cwd, roots); got != tt.want {
			t.Errorf("ResolveRoot(%q) = %q, want %q", tt.cwd, got, tt.want)
		}
	}
}
