// Package readme regenerates the package list of a bucket README.
//
// The list lives between two marker lines. Everything outside the markers is
// left exactly as it is, so the rest of the README can be edited by hand.
package readme

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/obentoo/bucketkit/internal/common/logger"
)

// ErrMarkersNotFound is returned when the README lacks the list markers or
// has them in the wrong order
var ErrMarkersNotFound = errors.New("package list markers not found")

// Default markers delimiting the generated list
const (
	DefaultStartMarker = "{APP_LIST_START_PLACEHOLDER}"
	DefaultEndMarker   = "{APP_LIST_END_PLACEHOLDER}"
)

// EmptyListMessage is rendered when the bucket has no manifests
const EmptyListMessage = "(no applications in this bucket yet)"

// Format selects how each name is rendered.
type Format string

const (
	// FormatPlain renders one bare name per line
	FormatPlain Format = "plain"
	// FormatMarkdown renders a bullet list of code spans
	FormatMarkdown Format = "markdown"
)

// Options configures a Generator
type Options struct {
	StartMarker string
	EndMarker   string
	Format      Format
	// Repository is "owner/name", used only when a sample README is created
	Repository string
	// ResolveRepository supplies Repository on demand when it is empty. It is
	// called at most once, and only when a sample README is created.
	ResolveRepository func() string
}

// Generator rewrites the package list of one README file.
type Generator struct {
	path string
	opts Options
}

// New creates a generator for the README at path. Empty options take defaults.
func New(path string, opts Options) *Generator {
	if opts.StartMarker == "" {
		opts.StartMarker = DefaultStartMarker
	}
	if opts.EndMarker == "" {
		opts.EndMarker = DefaultEndMarker
	}
	if opts.Format == "" {
		opts.Format = FormatPlain
	}
	return &Generator{path: path, opts: opts}
}

// repository returns the address written into a sample README
func (g *Generator) repository() string {
	if g.opts.Repository == "" && g.opts.ResolveRepository != nil {
		g.opts.Repository = g.opts.ResolveRepository()
	}
	if g.opts.Repository == "" {
		return PlaceholderRepository
	}
	return g.opts.Repository
}

// Path returns the README path
func (g *Generator) Path() string {
	return g.path
}

// Regenerate renders names into the README and reports whether the file
// changed. A missing README is created from the sample template first. When
// the markers are missing the file is left untouched and ErrMarkersNotFound
// is returned.
func (g *Generator) Regenerate(names []string) (bool, error) {
	created := false
	if _, err := os.Stat(g.path); os.IsNotExist(err) {
		sample := SampleReadme(g.repository(), g.opts.StartMarker, g.opts.EndMarker)
		if err := writeFile(g.path, sample); err != nil {
			return false, fmt.Errorf("failed to create sample README: %w", err)
		}
		logger.Info("Created sample README at %s", g.path)
		created = true
	}

	data, err := os.ReadFile(g.path)
	if err != nil {
		return created, fmt.Errorf("failed to read README: %w", err)
	}
	current := string(data)

	list := RenderList(names, g.opts.Format)
	updated, err := Replace(current, g.opts.StartMarker, g.opts.EndMarker, list)
	if err != nil {
		return created, fmt.Errorf("%s: %w", g.path, err)
	}

	if updated == current {
		logger.Debug("README package list is up to date")
		return created, nil
	}
	if err := writeFile(g.path, updated); err != nil {
		return created, fmt.Errorf("failed to write README: %w", err)
	}
	return true, nil
}

// SortNames returns names sorted case-insensitively, ties broken by byte order
func SortNames(names []string) []string {
	sorted := append([]string(nil), names...)
	sort.Slice(sorted, func(i, j int) bool {
		li, lj := strings.ToLower(sorted[i]), strings.ToLower(sorted[j])
		if li != lj {
			return li < lj
		}
		return sorted[i] < sorted[j]
	})
	return sorted
}

// RenderList renders the sorted names, one per line without a trailing newline
func RenderList(names []string, format Format) string {
	if len(names) == 0 {
		return EmptyListMessage
	}

	lines := SortNames(names)
	if format == FormatMarkdown {
		for i, name := range lines {
			lines[i] = "- `" + name + "`"
		}
	}
	return strings.Join(lines, "\n")
}

// Replace substitutes list for whatever sits between the markers. Content
// before the start marker line and from the end marker onward is kept.
func Replace(content, start, end, list string) (string, error) {
	startIdx := strings.Index(content, start)
	if startIdx < 0 {
		return "", fmt.Errorf("%w: %q missing", ErrMarkersNotFound, start)
	}
	listStart := startIdx + len(start)

	endOffset := strings.Index(content[listStart:], end)
	if endOffset < 0 {
		return "", fmt.Errorf("%w: %q missing after %q", ErrMarkersNotFound, end, start)
	}
	endIdx := listStart + endOffset

	newline := "\n"
	if strings.Contains(content, "\r\n") {
		newline = "\r\n"
	}

	before := content[:listStart]
	if !strings.HasSuffix(before, "\n") {
		before += newline
	}
	body := strings.ReplaceAll(list, "\n", newline)
	if !strings.HasSuffix(body, newline) {
		body += newline
	}

	return before + body + content[endIdx:], nil
}

// SampleReadme returns the README created for a bucket that has none
func SampleReadme(repository, start, end string) string {
	bucket := repository
	if i := strings.LastIndexByte(bucket, '/'); i >= 0 {
		bucket = bucket[i+1:]
	}
	bucket = strings.ToLower(strings.TrimSuffix(bucket, ".git"))

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", bucket)
	b.WriteString("A [Scoop](https://scoop.sh) bucket. Manifests are checked for new upstream releases\n")
	b.WriteString("and updated automatically.\n\n")
	b.WriteString("## Usage\n\n")
	b.WriteString("```powershell\n")
	fmt.Fprintf(&b, "scoop bucket add %s https://github.com/%s\n", bucket, repository)
	fmt.Fprintf(&b, "scoop install %s/<app>\n", bucket)
	b.WriteString("```\n\n")
	fmt.Fprintf(&b, "Update runs: https://github.com/%s/actions\n\n", repository)
	b.WriteString("## Packages\n\n")
	b.WriteString("```text\n")
	b.WriteString(start + "\n")
	b.WriteString(EmptyListMessage + "\n")
	b.WriteString(end + "\n")
	b.WriteString("```\n")
	return b.String()
}

func writeFile(path, content string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
