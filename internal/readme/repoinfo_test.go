package readme

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func initRepo(t *testing.T, remoteURL string) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	if remoteURL != "" {
		_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{remoteURL}})
		require.NoError(t, err)
	}
	return dir
}

func TestDetectRepositoryFromEnv(t *testing.T) {
	dir := initRepo(t, "https://github.com/other/remote.git")
	got := DetectRepository(envOf(map[string]string{EnvRepository: "acme/bucket"}), dir)
	assert.Equal(t, "acme/bucket", got)
}

func TestDetectRepositoryFromOrigin(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/acme/scoop-bucket.git", "acme/scoop-bucket"},
		{"git@github.com:acme/scoop-bucket.git", "acme/scoop-bucket"},
		{"https://github.com/acme/scoop-bucket", "acme/scoop-bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			dir := initRepo(t, tt.url)
			assert.Equal(t, tt.want, DetectRepository(envOf(nil), dir))
		})
	}
}

func TestDetectRepositoryFromSubdirectory(t *testing.T) {
	dir := initRepo(t, "https://github.com/acme/bucket.git")
	sub := filepath.Join(dir, "bucket")
	require.NoError(t, os.MkdirAll(sub, 0755))

	assert.Equal(t, "acme/bucket", DetectRepository(envOf(nil), sub))
}

func TestDetectRepositoryFallsBack(t *testing.T) {
	t.Run("no repository", func(t *testing.T) {
		assert.Equal(t, PlaceholderRepository, DetectRepository(envOf(nil), t.TempDir()))
	})
	t.Run("no origin", func(t *testing.T) {
		assert.Equal(t, PlaceholderRepository, DetectRepository(envOf(nil), initRepo(t, "")))
	})
	t.Run("non-github origin", func(t *testing.T) {
		assert.Equal(t, PlaceholderRepository, DetectRepository(envOf(nil), initRepo(t, "https://gitlab.com/acme/bucket.git")))
	})
	t.Run("malformed env", func(t *testing.T) {
		got := DetectRepository(envOf(map[string]string{EnvRepository: "not a repo"}), t.TempDir())
		assert.Equal(t, PlaceholderRepository, got)
	})
}
