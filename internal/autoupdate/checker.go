package autoupdate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/obentoo/bucketkit/internal/common/github"
	"github.com/obentoo/bucketkit/internal/common/logger"
	"github.com/obentoo/bucketkit/internal/manifest"
)

// maxPageSize bounds how much of a version page is read
const maxPageSize = 10 << 20

// ReleaseSource lists the releases of a GitHub repository, newest first.
type ReleaseSource interface {
	ListReleases(ctx context.Context, repo string) ([]github.Release, error)
}

// Discovery is the outcome of a successful version check.
type Discovery struct {
	// Version is the discovered upstream version
	Version string
	// Captures holds the named groups of the matching regex ($match<Name>)
	Captures map[string]string
	// Source is the kind of rule that produced the version
	Source manifest.Source
	// Tag is the release tag for GitHub rules
	Tag string
	// AssetURL is the download of the release asset picked by asset keywords
	AssetURL string
}

// Checker resolves checkver rules against their upstream.
type Checker struct {
	releases   ReleaseSource
	httpClient *http.Client
	// pages memoizes fetched version pages so apps sharing a page fetch it once
	pages *lru.Cache[string, []byte]
}

// CheckerOption is a functional option for configuring Checker
type CheckerOption func(*Checker) error

// WithPageCacheSize sets how many fetched pages are kept for the run
func WithPageCacheSize(n int) CheckerOption {
	return func(c *Checker) error {
		cache, err := lru.New[string, []byte](n)
		if err != nil {
			return fmt.Errorf("failed to create page cache: %w", err)
		}
		c.pages = cache
		return nil
	}
}

// NewChecker creates a checker. releases may be nil when no manifest uses a
// GitHub rule; httpClient is used for page rules.
func NewChecker(releases ReleaseSource, httpClient *http.Client, opts ...CheckerOption) (*Checker, error) {
	if httpClient == nil {
		httpClient = NewRetryableHTTPClient().HTTPClient()
	}
	checker := &Checker{
		releases:   releases,
		httpClient: httpClient,
	}

	for _, opt := range append([]CheckerOption{WithPageCacheSize(64)}, opts...) {
		if err := opt(checker); err != nil {
			return nil, fmt.Errorf("failed to apply checker option: %w", err)
		}
	}
	return checker, nil
}

// Check discovers the latest upstream version of m using its checkver rule.
// Errors wrap ErrCheckFailed or ErrNoMatchingRelease.
func (c *Checker) Check(ctx context.Context, m *manifest.Manifest, cv *manifest.Checkver, app AppConfig) (*Discovery, error) {
	switch cv.Source {
	case manifest.SourceGitHub:
		return c.checkGitHub(ctx, m, cv, app)
	case manifest.SourcePage:
		return c.checkPage(ctx, m, cv)
	default:
		return nil, fmt.Errorf("%w: unsupported rule source %s", ErrCheckFailed, cv.Source)
	}
}

func (c *Checker) checkGitHub(ctx context.Context, m *manifest.Manifest, cv *manifest.Checkver, app AppConfig) (*Discovery, error) {
	if c.releases == nil {
		return nil, fmt.Errorf("%w: no GitHub client configured", ErrCheckFailed)
	}

	repo := cv.GitHub
	if repo == "" {
		repo = m.Homepage()
	}
	if repo == "" {
		return nil, fmt.Errorf("%w: github rule without repository or homepage", ErrCheckFailed)
	}

	releases, err := c.releases.ListReleases(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckFailed, err)
	}

	release, ok := LatestRelease(releases, app.AllowPrerelease)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no published release", ErrNoMatchingRelease, repo)
	}
	logger.Debug("%s: latest release of %s is %s", m.Name, repo, release.TagName)

	if cv.Regex != "" {
		parser, err := NewRegexParser(cv.Regex, cv.Replace)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCheckFailed, err)
		}
		for _, asset := range release.Assets {
			version, captures, err := parser.ParseCaptures([]byte(asset.Name))
			if err != nil {
				continue
			}
			d := &Discovery{Version: version, Captures: captures, Source: manifest.SourceGitHub, Tag: release.TagName}
			return withAsset(d, repo, release, app.AssetKeywords)
		}
		return nil, fmt.Errorf("%w: no asset of %s %s matches %q", ErrNoMatchingRelease, repo, release.TagName, cv.Regex)
	}

	version := CleanTag(release.TagName, app.StripPrefix)
	if version == "" {
		return nil, fmt.Errorf("%w: tag %q holds no version", ErrCheckFailed, release.TagName)
	}
	d := &Discovery{Version: version, Source: manifest.SourceGitHub, Tag: release.TagName}
	return withAsset(d, repo, release, app.AssetKeywords)
}

// withAsset records the asset picked by keywords, if any were configured
func withAsset(d *Discovery, repo string, release github.Release, keywords []string) (*Discovery, error) {
	if len(keywords) == 0 {
		return d, nil
	}
	asset, ok := FindAsset(release.Assets, keywords)
	if !ok {
		return nil, fmt.Errorf("%w: no asset of %s %s contains %s",
			ErrNoMatchingRelease, repo, release.TagName, strings.Join(keywords, ", "))
	}
	d.AssetURL = asset.DownloadURL
	return d, nil
}

// FindAsset returns the first asset whose name contains every keyword,
// ignoring case.
func FindAsset(assets []github.Asset, keywords []string) (github.Asset, bool) {
	for _, asset := range assets {
		name := strings.ToLower(asset.Name)
		matched := true
		for _, kw := range keywords {
			if !strings.Contains(name, strings.ToLower(kw)) {
				matched = false
				break
			}
		}
		if matched && asset.DownloadURL != "" {
			return asset, true
		}
	}
	return github.Asset{}, false
}

// LatestRelease picks the first non-draft release of a newest-first listing,
// skipping prereleases unless allowed.
func LatestRelease(releases []github.Release, allowPrerelease bool) (github.Release, bool) {
	for _, r := range releases {
		if r.Draft {
			continue
		}
		if r.Prerelease && !allowPrerelease {
			continue
		}
		return r, true
	}
	return github.Release{}, false
}

func (c *Checker) checkPage(ctx context.Context, m *manifest.Manifest, cv *manifest.Checkver) (*Discovery, error) {
	pageURL := cv.URL
	if pageURL == "" {
		pageURL = m.Homepage()
	}
	if pageURL == "" {
		return nil, fmt.Errorf("%w: page rule without url or homepage", ErrCheckFailed)
	}
	// URLs may reference the current version
	pageURL = NewTemplateVars(m.Version(), nil).Expand(pageURL)

	parser, err := NewParserFromCheckver(cv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckFailed, err)
	}

	content, err := c.fetchContent(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	version, captures, err := ParseVersion(parser, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCheckFailed, pageURL, err)
	}
	return &Discovery{Version: version, Captures: captures, Source: manifest.SourcePage}, nil
}

// fetchContent fetches content from a URL.
func (c *Checker) fetchContent(ctx context.Context, url string) ([]byte, error) {
	if content, ok := c.pages.Get(url); ok {
		return content, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckFailed, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %w", ErrCheckFailed, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: fetching %s: status %d", ErrCheckFailed, url, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrCheckFailed, url, err)
	}

	c.pages.Add(url, content)
	return content, nil
}
