package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genValidPath generates valid path strings
func genValidPath() gopter.Gen {
	return gen.RegexMatch(`^[a-z][a-z0-9/]{0,20}$`)
}

// genConfig generates valid Config structs
func genConfig() gopter.Gen {
	return gopter.CombineGens(
		genValidPath(),
		gen.IntRange(1, 32),
		gen.OneConstOf("exact", "newer"),
		gen.OneConstOf("advisory", "strict"),
		gen.IntRange(0, 10),
		gen.IntRange(1, 600),
		gen.OneConstOf("plain", "markdown"),
	).Map(func(values []interface{}) *Config {
		cfg := Default()
		cfg.Bucket.Path = values[0].(string)
		cfg.Update.Jobs = values[1].(int)
		cfg.Update.Compare = values[2].(string)
		cfg.Update.FailurePolicy = values[3].(string)
		cfg.Update.Retries = values[4].(int)
		cfg.Update.Timeout = time.Duration(values[5].(int)) * time.Second
		cfg.Readme.Format = values[6].(string)
		return cfg
	})
}

// TestConfigRoundTrip tests that a saved configuration loads back unchanged
func TestConfigRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Config YAML round-trip preserves data", prop.ForAll(
		func(cfg *Config) bool {
			tmpDir, err := os.MkdirTemp("", "config-test-*")
			if err != nil {
				t.Logf("Failed to create temp dir: %v", err)
				return false
			}
			defer os.RemoveAll(tmpDir)

			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := cfg.SaveTo(configPath); err != nil {
				t.Logf("Failed to save config: %v", err)
				return false
			}

			loaded, err := LoadFrom(configPath)
			if err != nil {
				t.Logf("Failed to load config: %v", err)
				return false
			}
			if err := loaded.Validate(); err != nil {
				t.Logf("Loaded config invalid: %v", err)
				return false
			}

			return reflect.DeepEqual(cfg, loaded)
		},
		genConfig(),
	))

	properties.TestingRun(t)
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
}

func TestPartialConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "update:\n  jobs: 8\n  timeout: 45s\nreadme:\n  format: markdown\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Update.Jobs != 8 || cfg.Update.Timeout != 45*time.Second {
		t.Errorf("Expected file values, got %+v", cfg.Update)
	}
	if cfg.Readme.Format != "markdown" {
		t.Errorf("Expected markdown format, got %s", cfg.Readme.Format)
	}
	if cfg.Bucket.Path != "bucket" || cfg.Update.Retries != 2 || cfg.Update.Compare != "exact" {
		t.Errorf("Expected defaults for unset keys, got %+v", cfg)
	}
	if cfg.Readme.StartMarker != "{APP_LIST_START_PLACEHOLDER}" {
		t.Errorf("Expected default start marker, got %s", cfg.Readme.StartMarker)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoadFromInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("update: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadWithoutFileUsesDefaultsAndCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv(EnvBucket, "")
	t.Setenv(EnvGHAPIToken, "")
	t.Setenv(EnvGitHubToken, "")

	cfg, path, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path != "" {
		t.Errorf("Expected no config path, got %s", path)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Expected defaults, got %+v", cfg)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Load must not create files, found %d entries", len(entries))
	}
}

func TestLoadPrefersLocalConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	xdg := filepath.Join(dir, "xdg")
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv(EnvBucket, "")

	if err := os.MkdirAll(filepath.Join(xdg, "bucketkit"), 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(xdg, "bucketkit", "config.yaml"), []byte("bucket:\n  path: global\n"), 0644)
	os.WriteFile(LocalConfigFile, []byte("bucket:\n  path: local\n"), 0644)

	cfg, path, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path != LocalConfigFile || cfg.Bucket.Path != "local" {
		t.Errorf("Expected local config, got %s from %s", cfg.Bucket.Path, path)
	}
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvBucket:      "/srv/bucket",
		EnvGHAPIToken:  "",
		EnvGitHubToken: "gh-token",
	}
	getenv := func(k string) string { return env[k] }

	cfg := Default()
	cfg.ApplyEnv(getenv)
	if cfg.Bucket.Path != "/srv/bucket" {
		t.Errorf("Expected bucket from env, got %s", cfg.Bucket.Path)
	}
	if cfg.GitHub.Token != "gh-token" {
		t.Errorf("Expected GITHUB_TOKEN fallback, got %q", cfg.GitHub.Token)
	}

	env[EnvGHAPIToken] = "api-token"
	cfg = Default()
	cfg.ApplyEnv(getenv)
	if cfg.GitHub.Token != "api-token" {
		t.Errorf("Expected GH_API_TOKEN to win, got %q", cfg.GitHub.Token)
	}

	cfg = Default()
	cfg.GitHub.Token = "from-file"
	cfg.ApplyEnv(getenv)
	if cfg.GitHub.Token != "from-file" {
		t.Errorf("File token should not be replaced, got %q", cfg.GitHub.Token)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero jobs", func(c *Config) { c.Update.Jobs = 0 }, "Jobs"},
		{"too many jobs", func(c *Config) { c.Update.Jobs = 64 }, "Jobs"},
		{"unknown compare", func(c *Config) { c.Update.Compare = "semver" }, "Compare"},
		{"unknown policy", func(c *Config) { c.Update.FailurePolicy = "lenient" }, "FailurePolicy"},
		{"zero timeout", func(c *Config) { c.Update.Timeout = 0 }, "Timeout"},
		{"empty bucket", func(c *Config) { c.Bucket.Path = "" }, "Path"},
		{"same markers", func(c *Config) { c.Readme.EndMarker = c.Readme.StartMarker }, "EndMarker"},
		{"unknown format", func(c *Config) { c.Readme.Format = "html" }, "Format"},
		{"bad api url", func(c *Config) { c.GitHub.APIURL = "not a url" }, "APIURL"},
		{"app id without key", func(c *Config) { c.GitHub.AppID = 42 }, "InstallationID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Expected error to name %s, got %v", tt.field, err)
			}
		})
	}
}

func TestSaveToRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Default().SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	if err := Default().SaveTo(path); !errors.Is(err, ErrConfigExists) {
		t.Errorf("Expected ErrConfigExists, got %v", err)
	}
}

func TestRedactedMasksToken(t *testing.T) {
	cfg := Default()
	cfg.GitHub.Token = "secret"
	if got := cfg.Redacted().GitHub.Token; got == "secret" || got == "" {
		t.Errorf("Expected masked token, got %q", got)
	}
	if cfg.GitHub.Token != "secret" {
		t.Error("Redacted must not modify the original")
	}
}

func TestGetBucketPath(t *testing.T) {
	cfg := Default()
	cfg.Bucket.Path = ""
	if _, err := cfg.GetBucketPath(); !errors.Is(err, ErrBucketPathNotSet) {
		t.Errorf("Expected ErrBucketPathNotSet, got %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	cfg.Bucket.Path = "~/scoop/bucket"
	got, err := cfg.GetBucketPath()
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "scoop", "bucket") {
		t.Errorf("Expected expanded path, got %s", got)
	}
}
