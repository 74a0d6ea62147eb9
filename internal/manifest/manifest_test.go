package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `{
    "version": "1.0",
    "description": "Sample app & friends",
    "homepage": "https://github.com/example/app-b",
    "license": "MIT",
    "architecture": {
        "64bit": {
            "url": "https://example.com/v1.0/app-b-1.0.exe",
            "hash": "aaaa"
        }
    },
    "bin": "app-b.exe",
    "checkver": {
        "github": "https://github.com/example/app-b"
    },
    "autoupdate": {
        "architecture": {
            "64bit": {
                "url": "https://example.com/v$version/app-b-$version.exe"
            }
        }
    }
}
`

func TestParseReadsAutomationFields(t *testing.T) {
	m, err := Parse("app-b", []byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, "app-b", m.Name)
	assert.Equal(t, "1.0", m.Version())
	assert.Equal(t, "https://github.com/example/app-b", m.Homepage())
	assert.Equal(t, []string{"64bit"}, m.Variants())
	assert.Equal(t, "https://example.com/v1.0/app-b-1.0.exe", m.URL("64bit"))
	assert.Equal(t, "aaaa", m.Hash("64bit"))

	cv, err := m.Checkver()
	require.NoError(t, err)
	assert.Equal(t, SourceGitHub, cv.Source)
	assert.Equal(t, "https://github.com/example/app-b", cv.GitHub)

	au, err := m.Autoupdate()
	require.NoError(t, err)
	assert.Equal(t, []string{"64bit"}, au.VariantNames())
	assert.Equal(t, "https://example.com/v$version/app-b-$version.exe", au.Variants["64bit"].URL)
}

func TestMarshalUnchangedManifestIsStable(t *testing.T) {
	m, err := Parse("app-b", []byte(sampleManifest))
	require.NoError(t, err)

	out, err := m.Marshal()
	require.NoError(t, err)
	assert.Equal(t, sampleManifest, string(out))
}

func TestSetDownloadPreservesOtherFields(t *testing.T) {
	m, err := Parse("app-b", []byte(sampleManifest))
	require.NoError(t, err)

	require.NoError(t, m.SetVersion("2.0"))
	require.NoError(t, m.SetDownload("64bit", "https://example.com/v2.0/app-b-2.0.exe?a=1&b=2", "bbbb"))

	out, err := m.Marshal()
	require.NoError(t, err)

	expected := strings.NewReplacer(
		`"version": "1.0"`, `"version": "2.0"`,
		"https://example.com/v1.0/app-b-1.0.exe", "https://example.com/v2.0/app-b-2.0.exe?a=1&b=2",
		`"hash": "aaaa"`, `"hash": "bbbb"`,
	).Replace(sampleManifest)
	assert.Equal(t, expected, string(out))
}

func TestSetDownloadRootLevel(t *testing.T) {
	m, err := Parse("tool", []byte(`{"version":"1","url":"https://x/1.zip","hash":"00","bin":"tool.exe"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{""}, m.Variants())

	require.NoError(t, m.SetDownload("", "https://x/2.zip", "11"))
	assert.Equal(t, "https://x/2.zip", m.URL(""))
	assert.Equal(t, "11", m.Hash(""))

	out, err := m.Marshal()
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(out), `"url"`), strings.Index(string(out), `"bin"`))
}

func TestSetDownloadCreatesMissingVariant(t *testing.T) {
	m, err := Parse("app-b", []byte(sampleManifest))
	require.NoError(t, err)

	require.NoError(t, m.SetDownload("32bit", "https://example.com/x86.exe", "cccc"))
	assert.Equal(t, []string{"64bit", "32bit"}, m.Variants())
	assert.Equal(t, "https://example.com/x86.exe", m.URL("32bit"))
	assert.Equal(t, "aaaa", m.Hash("64bit"))
}

func TestSetHashKeepsURL(t *testing.T) {
	m, err := Parse("app-b", []byte(sampleManifest))
	require.NoError(t, err)

	require.NoError(t, m.SetHash("64bit", "bbbb"))
	assert.Equal(t, "bbbb", m.Hash("64bit"))
	assert.Equal(t, "https://example.com/v1.0/app-b-1.0.exe", m.URL("64bit"))
	assert.Equal(t, "1.0", m.Version())

	assert.ErrorIs(t, m.SetHash("32bit", "cccc"), ErrInvalidManifest)

	root, err := Parse("root", []byte(`{"version": "1.0", "url": "https://example.com/a.zip", "hash": ""}`))
	require.NoError(t, err)
	require.NoError(t, root.SetHash("", "dddd"))
	assert.Equal(t, "dddd", root.Hash(""))
	assert.Equal(t, "https://example.com/a.zip", root.URL(""))
}

func TestCloneIsIndependent(t *testing.T) {
	m, err := Parse("app-b", []byte(sampleManifest))
	require.NoError(t, err)

	c := m.Clone()
	require.NoError(t, c.SetVersion("9.9"))
	assert.Equal(t, "1.0", m.Version())
	assert.Equal(t, "9.9", c.Version())
}

func TestParseRejectsInvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", `{"version": `},
		{"array document", `["version"]`},
		{"missing version", `{"description": "x"}`},
		{"numeric version", `{"version": 1}`},
		{"checkver wrong type", `{"version": "1", "checkver": 3}`},
		{"trailing data", `{"version": "1"} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad", []byte(tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestParseToleratesBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"version": "1.2"}`)...)
	m, err := Parse("bom", data)
	require.NoError(t, err)
	assert.Equal(t, "1.2", m.Version())
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app-b.json")

	m, err := Parse("app-b", []byte(sampleManifest))
	require.NoError(t, err)
	require.NoError(t, m.SetVersion("3.0"))
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "app-b", loaded.Name)
	assert.Equal(t, "3.0", loaded.Version())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be gone")
}

func TestListIsNonRecursive(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.json", "a.json", "notes.txt", "c.JSON"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{}`), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "d.json"), []byte(`{}`), 0644))

	names, err := Names(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestSelect(t *testing.T) {
	files := []string{"/b/Git.json", "/b/7zip.json", "/b/curl.json"}

	selected, err := Select(files, []string{"curl", "git", "GIT", "curl"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/b/curl.json", "/b/Git.json"}, selected)

	_, err = Select(files, []string{"git", "wget"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "wget")
}

func TestListEmptyDirectory(t *testing.T) {
	names, err := Names(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, names)
}

// Setting a version and marshaling never disturbs the order of the other keys.
func TestKeyOrderSurvivesRewrite(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("key order is preserved across SetVersion", prop.ForAll(
		func(keys []string, version string) bool {
			obj := NewObject()
			for _, k := range keys {
				if err := obj.Set("k_"+k, k); err != nil {
					return false
				}
			}
			if err := obj.Set("version", "0"); err != nil {
				return false
			}
			data, err := obj.MarshalJSON()
			if err != nil {
				return false
			}

			m, err := Parse("prop", data)
			if err != nil {
				t.Logf("parse: %v", err)
				return false
			}
			before := m.root.Keys()
			if err := m.SetVersion(version); err != nil {
				return false
			}
			out, err := m.Marshal()
			if err != nil {
				return false
			}
			reparsed, err := Parse("prop", out)
			if err != nil {
				return false
			}
			after := reparsed.root.Keys()
			if len(before) != len(after) {
				return false
			}
			for i := range before {
				if before[i] != after[i] {
					return false
				}
			}
			return reparsed.Version() == version
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
