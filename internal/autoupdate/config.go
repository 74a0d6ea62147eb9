package autoupdate

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Error variables for override configuration errors
var (
	// ErrInvalidOverrides is returned when apps.toml cannot be parsed or has unknown keys
	ErrInvalidOverrides = errors.New("invalid apps overrides")
)

// DefaultOverridesPath is where per-app overrides live, relative to the repository root
const DefaultOverridesPath = ".autoupdate/apps.toml"

// AppConfig holds per-app tuning the manifest format has no field for.
//
//	[app-b]
//	allow_prerelease = true
//	strip_prefix = "release-"
//
//	[legacy-tool]
//	skip = true
//
//	[plain-tool]
//	asset_keywords = ["windows", "x64", ".zip"]
//	verify_hash = true
type AppConfig struct {
	// AllowPrerelease lets GitHub prereleases count as the latest release
	AllowPrerelease bool `toml:"allow_prerelease"`
	// StripPrefix is removed from release tags before version cleaning
	StripPrefix string `toml:"strip_prefix"`
	// Skip excludes the app from automatic updates
	Skip bool `toml:"skip"`
	// AssetKeywords picks the release asset whose name contains every
	// keyword, for manifests with a GitHub checkver but no autoupdate block
	AssetKeywords []string `toml:"asset_keywords"`
	// VerifyHash re-hashes the current download when the app is up to date
	VerifyHash bool `toml:"verify_hash"`
}

// AppsConfig is the parsed overrides file. Keys are app names.
type AppsConfig struct {
	Apps map[string]AppConfig
}

// LoadAppsConfig loads the overrides file at path. A missing file yields an
// empty configuration, since overrides are optional.
func LoadAppsConfig(path string) (*AppsConfig, error) {
	cfg := &AppsConfig{Apps: make(map[string]AppConfig)}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return ParseAppsConfig(data)
}

// ParseAppsConfig parses overrides from TOML content. Unknown keys are
// rejected so that typos do not silently disable an override.
func ParseAppsConfig(data []byte) (*AppsConfig, error) {
	var apps map[string]AppConfig
	meta, err := toml.Decode(string(data), &apps)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOverrides, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: unknown keys: %s", ErrInvalidOverrides, strings.Join(keys, ", "))
	}

	cfg := &AppsConfig{Apps: make(map[string]AppConfig, len(apps))}
	for name, app := range apps {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: empty app name", ErrInvalidOverrides)
		}
		for _, kw := range app.AssetKeywords {
			if strings.TrimSpace(kw) == "" {
				return nil, fmt.Errorf("%w: [%s] has an empty asset keyword", ErrInvalidOverrides, name)
			}
		}
		for other := range cfg.Apps {
			if strings.EqualFold(other, name) {
				return nil, fmt.Errorf("%w: [%s] and [%s] name the same app", ErrInvalidOverrides, other, name)
			}
		}
		cfg.Apps[name] = app
	}
	return cfg, nil
}

// For returns the overrides of an app, or the zero value when it has none.
// App names match case-insensitively, like manifest file names do.
func (c *AppsConfig) For(app string) AppConfig {
	if c == nil {
		return AppConfig{}
	}
	if cfg, ok := c.Apps[app]; ok {
		return cfg
	}
	for name, cfg := range c.Apps {
		if strings.EqualFold(name, app) {
			return cfg
		}
	}
	return AppConfig{}
}
