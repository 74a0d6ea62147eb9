package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/obentoo/bucketkit/internal/autoupdate"
	"github.com/obentoo/bucketkit/internal/common/config"
	"github.com/obentoo/bucketkit/internal/common/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appManifest = `{
    "version": "%s",
    "description": "test app",
    "homepage": "https://github.com/acme/%s",
    "license": "MIT",
    "url": "%s/dl/v%s/%s.exe",
    "hash": "0000000000000000000000000000000000000000000000000000000000000000",
    "checkver": "github",
    "autoupdate": {
        "url": "%s/dl/v$version/%s-$version.exe"
    }
}
`

// upstream fakes the GitHub API and the download host
type upstream struct {
	server *httptest.Server
	tags   map[string]string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{tags: map[string]string{}}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/rate_limit":
			fmt.Fprint(w, `{"resources":{"core":{"limit":5000,"remaining":4999,"reset":1700000000}}}`)
		case strings.HasPrefix(r.URL.Path, "/repos/acme/"):
			app := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/repos/acme/"), "/releases")
			tag, ok := u.tags[app]
			if !ok {
				http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode([]map[string]any{{"tag_name": tag}})
		case strings.HasPrefix(r.URL.Path, "/dl/"):
			fmt.Fprint(w, "payload")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) config(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Bucket.Path = filepath.Join(dir, "bucket")
	cfg.Bucket.Readme = filepath.Join(dir, "README.md")
	cfg.Bucket.Overrides = filepath.Join(dir, "apps.toml")
	cfg.GitHub.APIURL = u.server.URL + "/"
	cfg.Update.Retries = 0
	require.NoError(t, os.MkdirAll(cfg.Bucket.Path, 0755))
	return cfg
}

func (u *upstream) writeApp(t *testing.T, cfg *config.Config, name, version string) string {
	t.Helper()
	path := filepath.Join(cfg.Bucket.Path, name+".json")
	content := fmt.Sprintf(appManifest, version, name, u.server.URL, version, name, u.server.URL, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestUpdateFlagsApply(t *testing.T) {
	cfg := config.Default()
	f := updateFlags{jobs: 1, compare: "newer", strict: true}
	require.NoError(t, f.apply(cfg))
	assert.Equal(t, 1, cfg.Update.Jobs)
	assert.Equal(t, "newer", cfg.Update.Compare)
	assert.Equal(t, "strict", cfg.Update.FailurePolicy)
	assert.False(t, cfg.Update.VerifyHashes)

	cfg = config.Default()
	require.NoError(t, (&updateFlags{verify: true}).apply(cfg))
	assert.True(t, cfg.Update.VerifyHashes)

	cfg = config.Default()
	require.NoError(t, (&updateFlags{}).apply(cfg))
	assert.Equal(t, config.Default().Update, cfg.Update)

	assert.ErrorIs(t, (&updateFlags{jobs: 100}).apply(config.Default()), config.ErrInvalidConfig)
	assert.ErrorIs(t, (&updateFlags{compare: "latest"}).apply(config.Default()), config.ErrInvalidConfig)
}

func TestAutoupdateFlagTypes(t *testing.T) {
	tests := map[string]string{
		"dry-run":       "bool",
		"jobs":          "int",
		"strict":        "bool",
		"compare":       "string",
		"report":        "string",
		"metrics-file":  "string",
		"progress":      "bool",
		"verify-hashes": "bool",
	}

	for name, typ := range tests {
		for _, cmd := range []string{"autoupdate", "run"} {
			c, _, err := rootCmd.Find([]string{cmd})
			require.NoError(t, err)
			flag := c.Flags().Lookup(name)
			if assert.NotNil(t, flag, "%s should have --%s", cmd, name) {
				assert.Equal(t, typ, flag.Value.Type(), "%s --%s", cmd, name)
			}
		}
	}
}

func TestExitCode(t *testing.T) {
	ok := &autoupdate.Summary{Results: []autoupdate.Result{
		{App: "a", Outcome: autoupdate.OutcomeUpdated},
		{App: "b", Outcome: autoupdate.OutcomeSkipped},
	}}
	failing := &autoupdate.Summary{Results: []autoupdate.Result{
		{App: "a", Outcome: autoupdate.OutcomeUpToDate},
		{App: "b", Outcome: autoupdate.OutcomeHashFailed},
	}}

	assert.Equal(t, exitOK, exitCode(ok, "advisory"))
	assert.Equal(t, exitOK, exitCode(ok, "strict"))
	assert.Equal(t, exitOK, exitCode(failing, "advisory"))
	assert.Equal(t, exitFailures, exitCode(failing, "strict"))
}

func TestUpdateBucket(t *testing.T) {
	up := newUpstream(t)
	up.tags["app-a"] = "v1.0"
	up.tags["app-b"] = "v2.0"
	cfg := up.config(t)
	pathA := up.writeApp(t, cfg, "app-a", "1.0")
	pathB := up.writeApp(t, cfg, "app-b", "1.0")
	before, _ := os.ReadFile(pathA)

	dir := t.TempDir()
	f := &updateFlags{
		report:      filepath.Join(dir, "out", "report.json"),
		metricsFile: filepath.Join(dir, "bucketkit.prom"),
	}
	summary, err := updateBucket(context.Background(), cfg, f, nil)
	require.NoError(t, err)

	a, _ := summary.Get("app-a")
	b, _ := summary.Get("app-b")
	assert.Equal(t, autoupdate.OutcomeUpToDate, a.Outcome)
	assert.Equal(t, autoupdate.OutcomeUpdated, b.Outcome)
	assert.Equal(t, exitOK, exitCode(summary, "strict"))

	after, _ := os.ReadFile(pathA)
	assert.Equal(t, string(before), string(after))

	data, err := os.ReadFile(pathB)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": "2.0"`)
	assert.Contains(t, string(data), up.server.URL+"/dl/v2.0/app-b-2.0.exe")
	assert.Contains(t, string(data), "239f59ed55e737c77147cf55ad0c1b030b6d7ee748a7426952f9b852d5a935e5")

	report, err := autoupdate.LoadReport(f.report)
	require.NoError(t, err)
	assert.Len(t, report.Results, 2)

	metrics, err := os.ReadFile(f.metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `bucketkit_apps{outcome="updated"} 1`)
}

func TestUpdateBucketFailuresAreNotFatal(t *testing.T) {
	up := newUpstream(t)
	cfg := up.config(t)
	path := up.writeApp(t, cfg, "gone", "1.0")
	before, _ := os.ReadFile(path)

	summary, err := updateBucket(context.Background(), cfg, &updateFlags{}, nil)
	require.NoError(t, err)

	r, _ := summary.Get("gone")
	assert.Equal(t, autoupdate.OutcomeCheckFailed, r.Outcome)
	assert.Equal(t, exitOK, exitCode(summary, "advisory"))
	assert.Equal(t, exitFailures, exitCode(summary, "strict"))

	after, _ := os.ReadFile(path)
	assert.Equal(t, string(before), string(after))
}

func TestUpdateBucketFatalErrors(t *testing.T) {
	t.Run("missing bucket", func(t *testing.T) {
		up := newUpstream(t)
		cfg := up.config(t)
		cfg.Bucket.Path = filepath.Join(t.TempDir(), "nope")

		_, err := updateBucket(context.Background(), cfg, &updateFlags{}, nil)
		assert.ErrorIs(t, err, autoupdate.ErrBucketNotFound)
	})

	t.Run("api unavailable", func(t *testing.T) {
		up := newUpstream(t)
		cfg := up.config(t)
		path := up.writeApp(t, cfg, "app", "1.0")
		before, _ := os.ReadFile(path)
		up.server.Close()

		_, err := updateBucket(context.Background(), cfg, &updateFlags{}, nil)
		assert.ErrorIs(t, err, autoupdate.ErrUpstreamUnavailable)

		after, _ := os.ReadFile(path)
		assert.Equal(t, string(before), string(after))
	})

	t.Run("malformed overrides", func(t *testing.T) {
		up := newUpstream(t)
		cfg := up.config(t)
		require.NoError(t, os.WriteFile(cfg.Bucket.Overrides, []byte("[app\n"), 0644))

		_, err := updateBucket(context.Background(), cfg, &updateFlags{}, nil)
		assert.Error(t, err)
	})
}

func TestUpdateBucketVerifyHashes(t *testing.T) {
	up := newUpstream(t)
	up.tags["app"] = "v1.0"
	cfg := up.config(t)
	path := up.writeApp(t, cfg, "app", "1.0")

	f := &updateFlags{verify: true}
	require.NoError(t, f.apply(cfg))
	summary, err := updateBucket(context.Background(), cfg, f, nil)
	require.NoError(t, err)

	r, _ := summary.Get("app")
	assert.Equal(t, autoupdate.OutcomeHashRefreshed, r.Outcome)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": "1.0"`)
	assert.Contains(t, string(data), up.server.URL+"/dl/v1.0/app.exe")
	assert.Contains(t, string(data), "239f59ed55e737c77147cf55ad0c1b030b6d7ee748a7426952f9b852d5a935e5")
}

func TestUpdateBucketDryRun(t *testing.T) {
	up := newUpstream(t)
	up.tags["app"] = "v3.0"
	cfg := up.config(t)
	path := up.writeApp(t, cfg, "app", "1.0")
	before, _ := os.ReadFile(path)

	summary, err := updateBucket(context.Background(), cfg, &updateFlags{dryRun: true}, nil)
	require.NoError(t, err)
	assert.True(t, summary.DryRun)

	after, _ := os.ReadFile(path)
	assert.Equal(t, string(before), string(after))
}

func TestPrintSummary(t *testing.T) {
	output.NoColor()
	s := &autoupdate.Summary{DryRun: true, Results: []autoupdate.Result{
		{App: "app-a", Outcome: autoupdate.OutcomeUpToDate, Current: "1.0", Latest: "1.0"},
		{App: "app-b", Outcome: autoupdate.OutcomeUpdated, Current: "1.0", Latest: "2.0"},
		{App: "app-c", Outcome: autoupdate.OutcomeHashFailed, Current: "1.0", Latest: "1.1", Error: "hash computation failed"},
		{App: "app-d", Outcome: autoupdate.OutcomeHashRefreshed, Current: "3.1", Latest: "3.1"},
	}}

	var buf bytes.Buffer
	printSummary(&buf, s)
	text := buf.String()

	assert.Contains(t, text, "up-to-date      app-a: 1.0")
	assert.Contains(t, text, "updated         app-b: 1.0 → 2.0")
	assert.Contains(t, text, "hash-failed     app-c: hash computation failed")
	assert.Contains(t, text, "hash-refreshed  app-d: 3.1 (hash refreshed)")
	assert.Contains(t, text, "2 app(s) updated")
	assert.Contains(t, text, "1 app(s) failed")
	assert.Contains(t, text, "Dry run")
}
