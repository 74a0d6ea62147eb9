package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	ErrBucketPathNotSet = errors.New("bucket path is not configured")
	ErrConfigNotFound   = errors.New("config file not found")
	ErrConfigExists     = errors.New("config file already exists")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Environment variables that override file settings
const (
	EnvBucket      = "BUCKETKIT_BUCKET"
	EnvGHAPIToken  = "GH_API_TOKEN"
	EnvGitHubToken = "GITHUB_TOKEN"
)

// LocalConfigFile is the per-repository config file name
const LocalConfigFile = ".bucketkit.yaml"

// Config represents the application configuration
type Config struct {
	Bucket BucketConfig `yaml:"bucket"`
	GitHub GitHubConfig `yaml:"github"`
	Update UpdateConfig `yaml:"update"`
	Readme ReadmeConfig `yaml:"readme"`
}

// BucketConfig locates the bucket and its companion files
type BucketConfig struct {
	Path      string `yaml:"path" validate:"required"`
	Readme    string `yaml:"readme" validate:"required"`
	Overrides string `yaml:"overrides"`
}

// GitHubConfig holds GitHub API settings
type GitHubConfig struct {
	Token          string `yaml:"token,omitempty"`
	APIURL         string `yaml:"api_url" validate:"required,url"`
	AppID          int64  `yaml:"app_id,omitempty" validate:"required_with=InstallationID PrivateKeyPath"`
	InstallationID int64  `yaml:"installation_id,omitempty" validate:"required_with=AppID"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty" validate:"required_with=AppID"`
}

// UpdateConfig tunes the manifest updater
type UpdateConfig struct {
	Jobs            int           `yaml:"jobs" validate:"min=1,max=32"`
	Compare         string        `yaml:"compare" validate:"oneof=exact newer"`
	FailurePolicy   string        `yaml:"failure_policy" validate:"oneof=advisory strict"`
	Retries         int           `yaml:"retries" validate:"min=0,max=10"`
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
	DownloadTimeout time.Duration `yaml:"download_timeout" validate:"gt=0"`
	// VerifyHashes re-hashes the current downloads of up-to-date apps
	VerifyHashes bool `yaml:"verify_hashes"`
}

// ReadmeConfig controls package-list regeneration
type ReadmeConfig struct {
	StartMarker string `yaml:"start_marker" validate:"required"`
	EndMarker   string `yaml:"end_marker" validate:"required,nefield=StartMarker"`
	Format      string `yaml:"format" validate:"oneof=plain markdown"`
}

// Default returns the configuration used when no file sets a value
func Default() *Config {
	return &Config{
		Bucket: BucketConfig{
			Path:      "bucket",
			Readme:    "README.md",
			Overrides: ".autoupdate/apps.toml",
		},
		GitHub: GitHubConfig{
			APIURL: "https://api.github.com/",
		},
		Update: UpdateConfig{
			Jobs:            4,
			Compare:         "exact",
			FailurePolicy:   "advisory",
			Retries:         2,
			Timeout:         30 * time.Second,
			DownloadTimeout: 10 * time.Minute,
		},
		Readme: ReadmeConfig{
			StartMarker: "{APP_LIST_START_PLACEHOLDER}",
			EndMarker:   "{APP_LIST_END_PLACEHOLDER}",
			Format:      "plain",
		},
	}
}

// ConfigPaths returns the config files searched when none is given, in priority order
// 1. ./.bucketkit.yaml (repository-local)
// 2. $XDG_CONFIG_HOME/bucketkit/config.yaml
func ConfigPaths() ([]string, error) {
	paths := []string{LocalConfigFile}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return paths, nil
		}
		xdgConfig = filepath.Join(home, ".config")
	}

	return append(paths, filepath.Join(xdgConfig, "bucketkit", "config.yaml")), nil
}

// FindConfigPath returns the first existing config file path, or "" when there is none
func FindConfigPath() (string, error) {
	paths, err := ConfigPaths()
	if err != nil {
		return "", err
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// Load reads the configuration from explicitPath, or from the first config
// file found when explicitPath is empty, then applies environment overrides
// and validates the result. It returns the path that was read ("" when only
// defaults apply). Nothing is ever written.
func Load(explicitPath string) (*Config, string, error) {
	path := explicitPath
	if path == "" {
		found, err := FindConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = found
	}

	cfg := Default()
	if path != "" {
		loaded, err := LoadFrom(path)
		if err != nil {
			return nil, "", err
		}
		cfg = loaded
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// LoadFrom reads configuration from a specific file path. Unset keys keep
// their defaults.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// SaveTo writes configuration to a specific file path, refusing to overwrite
func (c *Config) SaveTo(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ApplyEnv applies environment overrides. BUCKETKIT_BUCKET replaces the
// bucket path; GH_API_TOKEN, then GITHUB_TOKEN, supply a token only when the
// file configured none.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvBucket)); v != "" {
		c.Bucket.Path = v
	}
	if c.GitHub.Token == "" {
		for _, key := range []string{EnvGHAPIToken, EnvGitHubToken} {
			if v := strings.TrimSpace(getenv(key)); v != "" {
				c.GitHub.Token = v
				break
			}
		}
	}
}

// Validate checks every field against its constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Redacted returns a copy safe for display, with credentials masked
func (c *Config) Redacted() *Config {
	r := *c
	if r.GitHub.Token != "" {
		r.GitHub.Token = "********"
	}
	return &r
}

// GetBucketPath returns the bucket path with a leading ~ expanded
func (c *Config) GetBucketPath() (string, error) {
	return expandHome(c.Bucket.Path, ErrBucketPathNotSet)
}

// GetReadmePath returns the README path with a leading ~ expanded
func (c *Config) GetReadmePath() (string, error) {
	return expandHome(c.Bucket.Readme, ErrInvalidConfig)
}

func expandHome(path string, emptyErr error) (string, error) {
	if path == "" {
		return "", emptyErr
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return path, nil
}
