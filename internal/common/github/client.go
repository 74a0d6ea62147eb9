// Package github wraps the GitHub releases API for version checks.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gh "github.com/google/go-github/v62/github"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrRateLimit indicates GitHub API rate limit exceeded
	ErrRateLimit = errors.New("GitHub API rate limit exceeded")
	// ErrNotFound indicates the requested repository was not found
	ErrNotFound = errors.New("repository not found")
	// ErrAPIError indicates a general GitHub API error
	ErrAPIError = errors.New("GitHub API error")
	// ErrInvalidRepository indicates a string that does not name a GitHub repository
	ErrInvalidRepository = errors.New("invalid GitHub repository")
)

// DefaultBaseURL is the public GitHub REST API
const DefaultBaseURL = "https://api.github.com/"

const (
	defaultCacheSize = 128
	releasesPerPage  = 30
)

// Release is a published GitHub release.
type Release struct {
	TagName     string
	Name        string
	Draft       bool
	Prerelease  bool
	HTMLURL     string
	PublishedAt time.Time
	Assets      []Asset
}

// Asset is a file attached to a release.
type Asset struct {
	Name        string
	DownloadURL string
	Size        int64
}

// RateLimitInfo is the core rate limit status of the authenticated caller.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Client handles communication with the GitHub API
type Client struct {
	api   *gh.Client
	cache *lru.Cache[string, []Release]
}

type clientOptions struct {
	baseURL        string
	token          string
	appID          int64
	installationID int64
	privateKeyPath string
	httpClient     *http.Client
	cacheSize      int
}

// Option configures a Client.
type Option func(*clientOptions)

// WithToken authenticates with a personal access or workflow token.
func WithToken(token string) Option {
	return func(o *clientOptions) { o.token = token }
}

// WithAppAuth authenticates as a GitHub App installation. Takes precedence over WithToken.
func WithAppAuth(appID, installationID int64, privateKeyPath string) Option {
	return func(o *clientOptions) {
		o.appID = appID
		o.installationID = installationID
		o.privateKeyPath = privateKeyPath
	}
}

// WithBaseURL points the client at another API root (GitHub Enterprise, tests).
func WithBaseURL(baseURL string) Option {
	return func(o *clientOptions) { o.baseURL = baseURL }
}

// WithHTTPClient sets the HTTP client whose transport and timeout every request uses.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// NewClient creates a new GitHub API client
func NewClient(opts ...Option) (*Client, error) {
	o := clientOptions{
		baseURL:   DefaultBaseURL,
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if o.httpClient != nil {
		c := *o.httpClient
		httpClient = &c
	}
	transport := httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	if o.appID != 0 {
		key, err := os.ReadFile(o.privateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read GitHub App private key: %w", err)
		}
		itr, err := ghinstallation.New(transport, o.appID, o.installationID, key)
		if err != nil {
			return nil, fmt.Errorf("failed to create GitHub App transport: %w", err)
		}
		itr.BaseURL = strings.TrimSuffix(o.baseURL, "/")
		httpClient.Transport = itr
	}

	api := gh.NewClient(httpClient)
	if o.appID == 0 && o.token != "" {
		api = api.WithAuthToken(o.token)
	}

	base, err := url.Parse(strings.TrimSuffix(o.baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", o.baseURL, err)
	}
	api.BaseURL = base

	cache, err := lru.New[string, []Release](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create release cache: %w", err)
	}

	return &Client{api: api, cache: cache}, nil
}

// ListReleases returns the newest page of releases of repo, newest first.
// repo may be "owner/name" or any github.com URL. Listings are memoized for
// the lifetime of the client.
func (c *Client) ListReleases(ctx context.Context, repo string) ([]Release, error) {
	owner, name, err := ParseRepository(repo)
	if err != nil {
		return nil, err
	}

	key := strings.ToLower(owner + "/" + name)
	if releases, ok := c.cache.Get(key); ok {
		return releases, nil
	}

	list, _, err := c.api.Repositories.ListReleases(ctx, owner, name, &gh.ListOptions{PerPage: releasesPerPage})
	if err != nil {
		return nil, mapError(err, owner+"/"+name)
	}

	releases := make([]Release, 0, len(list))
	for _, r := range list {
		release := Release{
			TagName:     r.GetTagName(),
			Name:        r.GetName(),
			Draft:       r.GetDraft(),
			Prerelease:  r.GetPrerelease(),
			HTMLURL:     r.GetHTMLURL(),
			PublishedAt: r.GetPublishedAt().Time,
		}
		for _, a := range r.Assets {
			release.Assets = append(release.Assets, Asset{
				Name:        a.GetName(),
				DownloadURL: a.GetBrowserDownloadURL(),
				Size:        int64(a.GetSize()),
			})
		}
		releases = append(releases, release)
	}

	c.cache.Add(key, releases)
	return releases, nil
}

// RateLimit returns current rate limit status. It doubles as a reachability
// check, since the endpoint does not count against the limit.
func (c *Client) RateLimit(ctx context.Context) (RateLimitInfo, error) {
	limits, _, err := c.api.RateLimit.Get(ctx)
	if err != nil {
		return RateLimitInfo{}, mapError(err, "rate_limit")
	}
	core := limits.GetCore()
	if core == nil {
		return RateLimitInfo{}, fmt.Errorf("%w: rate limit response without core limits", ErrAPIError)
	}
	return RateLimitInfo{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Reset:     core.Reset.Time,
	}, nil
}

// mapError folds go-github errors into this package's sentinels
func mapError(err error, what string) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: resets at %s", ErrRateLimit, rateErr.Rate.Reset.Time.Format(time.RFC3339))
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: secondary limit: %s", ErrRateLimit, abuseErr.Message)
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		if respErr.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, what)
		}
		return fmt.Errorf("%w: %s: status %d: %s", ErrAPIError, what, respErr.Response.StatusCode, respErr.Message)
	}
	return fmt.Errorf("%w: %s: %v", ErrAPIError, what, err)
}

// repoURLRegex matches github.com/owner/repo in https, ssh and scp-like forms
var repoURLRegex = regexp.MustCompile(`github\.com[/:]([\w.-]+)/([\w.-]+?)(?:\.git)?(?:[/?#].*)?$`)

// repoPathRegex matches a bare owner/repo
var repoPathRegex = regexp.MustCompile(`^([\w.-]+)/([\w.-]+?)(?:\.git)?$`)

// ParseRepository extracts owner and name from "owner/name" or a GitHub URL
// such as https://github.com/owner/name/releases or git@github.com:owner/name.git.
func ParseRepository(s string) (owner, name string, err error) {
	s = strings.TrimSpace(s)
	if m := repoURLRegex.FindStringSubmatch(s); m != nil {
		return m[1], m[2], nil
	}
	if m := repoPathRegex.FindStringSubmatch(s); m != nil {
		return m[1], m[2], nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrInvalidRepository, s)
}
