// Package autoupdate keeps the manifests of a Scoop bucket current with their
// upstream releases.
//
// Each manifest is handled independently: its checkver rule is resolved to
// the latest upstream version, and when that differs from the manifest's
// version every autoupdate variant is re-templated and re-hashed in memory
// before a single write. A failure at any step leaves the file untouched and
// is reported as the app's outcome.
package autoupdate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/obentoo/bucketkit/internal/common/github"
	"github.com/obentoo/bucketkit/internal/common/logger"
	"github.com/obentoo/bucketkit/internal/manifest"
)

// Compare modes
const (
	// CompareExact updates whenever the discovered version differs
	CompareExact = "exact"
	// CompareNewer updates only when the discovered version is newer
	CompareNewer = "newer"
)

// DefaultJobs is the default number of manifests processed concurrently
const DefaultJobs = 4

// QuotaChecker reports the remaining API quota of the release source.
type QuotaChecker interface {
	RateLimit(ctx context.Context) (github.RateLimitInfo, error)
}

// Updater runs the check-and-update cycle over a bucket directory.
type Updater struct {
	bucket    string
	checker   *Checker
	hasher    *Hasher
	quota     QuotaChecker
	overrides *AppsConfig
	jobs      int
	compare   string
	dryRun    bool
	verify    bool
	nowFunc   func() time.Time
}

// UpdaterOption is a functional option for configuring Updater
type UpdaterOption func(*Updater)

// WithJobs sets how many manifests are processed at once (1 is sequential)
func WithJobs(n int) UpdaterOption {
	return func(u *Updater) {
		if n > 0 {
			u.jobs = n
		}
	}
}

// WithCompareMode selects CompareExact or CompareNewer
func WithCompareMode(mode string) UpdaterOption {
	return func(u *Updater) {
		u.compare = mode
	}
}

// WithDryRun computes outcomes without writing any manifest
func WithDryRun(dryRun bool) UpdaterOption {
	return func(u *Updater) {
		u.dryRun = dryRun
	}
}

// WithVerifyHashes re-hashes the current downloads of every up-to-date app
// and rewrites hashes that no longer match
func WithVerifyHashes(verify bool) UpdaterOption {
	return func(u *Updater) {
		u.verify = verify
	}
}

// WithOverrides sets the per-app overrides
func WithOverrides(cfg *AppsConfig) UpdaterOption {
	return func(u *Updater) {
		u.overrides = cfg
	}
}

// WithQuotaChecker checks the release API once before a run that needs it
func WithQuotaChecker(p QuotaChecker) UpdaterOption {
	return func(u *Updater) {
		u.quota = p
	}
}

// WithNowFunc sets a custom time function for testing
func WithNowFunc(fn func() time.Time) UpdaterOption {
	return func(u *Updater) {
		u.nowFunc = fn
	}
}

// NewUpdater creates an updater for the bucket directory. A missing bucket
// is a fatal configuration error.
func NewUpdater(bucket string, checker *Checker, hasher *Hasher, opts ...UpdaterOption) (*Updater, error) {
	info, err := os.Stat(bucket)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	if checker == nil {
		return nil, errors.New("updater needs a checker")
	}
	if hasher == nil {
		hasher = NewHasher(nil)
	}

	u := &Updater{
		bucket:  bucket,
		checker: checker,
		hasher:  hasher,
		jobs:    DefaultJobs,
		compare: CompareExact,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}

	if u.compare != CompareExact && u.compare != CompareNewer {
		return nil, fmt.Errorf("unknown compare mode %q", u.compare)
	}
	return u, nil
}

// Bucket returns the bucket directory
func (u *Updater) Bucket() string {
	return u.bucket
}

// task is one manifest queued for processing
type task struct {
	name     string
	path     string
	m        *manifest.Manifest
	cv       *manifest.Checkver
	au       *manifest.Autoupdate
	loadErr  error
	skipNote string
}

// UpdateAll processes every manifest in the bucket, or only the named apps.
// Per-app failures are recorded in the summary; the returned error is
// reserved for fatal conditions (missing bucket, unknown app, release API
// unavailable).
func (u *Updater) UpdateAll(ctx context.Context, names ...string) (*Summary, error) {
	summary := &Summary{
		RunID:     uuid.NewString(),
		Bucket:    u.bucket,
		DryRun:    u.dryRun,
		StartedAt: u.nowFunc(),
	}

	tasks, err := u.loadTasks(names)
	if err != nil {
		return nil, err
	}

	if err := u.checkQuota(ctx, tasks); err != nil {
		return nil, err
	}

	results := make([]Result, len(tasks))
	g := new(errgroup.Group)
	g.SetLimit(u.jobs)
	for i := range tasks {
		g.Go(func() error {
			results[i] = u.process(ctx, &tasks[i])
			u.logResult(results[i])
			return nil
		})
	}
	g.Wait()

	sortResults(results)
	summary.Results = results
	summary.FinishedAt = u.nowFunc()
	return summary, nil
}

// loadTasks reads every selected manifest. Unreadable manifests become
// tasks that report parse-failed.
func (u *Updater) loadTasks(names []string) ([]task, error) {
	files, err := manifest.List(u.bucket)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBucketNotFound, err)
	}

	if len(names) > 0 {
		files, err = manifest.Select(files, names)
		if err != nil {
			return nil, err
		}
	}

	tasks := make([]task, 0, len(files))
	for _, path := range files {
		t := task{name: manifest.NameFromPath(path), path: path}
		t.m, t.loadErr = manifest.Load(path)
		if t.loadErr == nil {
			t.cv, t.au, t.skipNote, t.loadErr = u.rules(t.m)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// rules reads the automation fields of m. A non-empty note means the app is skipped.
func (u *Updater) rules(m *manifest.Manifest) (*manifest.Checkver, *manifest.Autoupdate, string, error) {
	if u.overrides.For(m.Name).Skip {
		return nil, nil, "disabled by override", nil
	}
	cv, err := m.Checkver()
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %s: %w", manifest.ErrInvalidManifest, m.Name, err)
	}
	if cv == nil {
		return nil, nil, "no checkver", nil
	}
	au, err := m.Autoupdate()
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %s: %w", manifest.ErrInvalidManifest, m.Name, err)
	}
	if au == nil {
		if cv.Source == manifest.SourceGitHub && len(u.overrides.For(m.Name).AssetKeywords) > 0 {
			return cv, nil, "", nil
		}
		return nil, nil, "no autoupdate", nil
	}
	return cv, au, "", nil
}

// checkQuota checks the release API once when any selected manifest needs it
func (u *Updater) checkQuota(ctx context.Context, tasks []task) error {
	if u.quota == nil {
		return nil
	}

	needed := false
	for _, t := range tasks {
		if t.cv != nil && t.cv.Source == manifest.SourceGitHub {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	info, err := u.quota.RateLimit(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	logger.Debug("GitHub API quota: %d/%d remaining", info.Remaining, info.Limit)
	if info.Remaining == 0 {
		logger.Warn("GitHub API quota exhausted until %s; GitHub checks will fail", info.Reset.Format(time.RFC3339))
	}
	return nil
}

// process runs the update cycle for one manifest
func (u *Updater) process(ctx context.Context, t *task) Result {
	res := Result{App: t.name}

	if t.loadErr != nil {
		return failed(res, OutcomeParseFailed, t.loadErr)
	}
	res.Current = t.m.Version()
	if t.skipNote != "" {
		logger.Debug("%s: skipped (%s)", t.name, t.skipNote)
		res.Outcome = OutcomeSkipped
		return res
	}

	app := u.overrides.For(t.name)
	discovery, err := u.checker.Check(ctx, t.m, t.cv, app)
	if err != nil {
		return failed(res, OutcomeCheckFailed, err)
	}
	res.Latest = discovery.Version

	if !u.needsUpdate(res.Current, res.Latest) {
		if !u.verify && !app.VerifyHash {
			res.Outcome = OutcomeUpToDate
			return res
		}
		next, err := u.refreshHashes(ctx, t.m)
		if err != nil {
			return failed(res, outcomeOf(err), err)
		}
		if next == nil {
			res.Outcome = OutcomeUpToDate
			return res
		}
		return u.save(res, OutcomeHashRefreshed, next, t.path)
	}

	var next *manifest.Manifest
	if t.au != nil {
		next, err = u.apply(ctx, t.m, t.au, discovery)
	} else {
		next, err = u.applyAsset(ctx, t.m, discovery)
	}
	if err != nil {
		return failed(res, outcomeOf(err), err)
	}
	return u.save(res, OutcomeUpdated, next, t.path)
}

// save writes next to path unless this is a dry run
func (u *Updater) save(res Result, outcome Outcome, next *manifest.Manifest, path string) Result {
	if !u.dryRun {
		if err := next.Save(path); err != nil {
			return failed(res, OutcomeWriteFailed, fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
	res.Outcome = outcome
	return res
}

func (u *Updater) needsUpdate(current, latest string) bool {
	if u.compare == CompareNewer {
		return CompareVersions(latest, current) > 0
	}
	return latest != current
}

// apply computes the updated manifest without touching m. Every variant is
// resolved before anything is set, so a failure leaves no partial state.
func (u *Updater) apply(ctx context.Context, m *manifest.Manifest, au *manifest.Autoupdate, d *Discovery) (*manifest.Manifest, error) {
	vars := NewTemplateVars(d.Version, d.Captures)

	type download struct{ variant, url, hash string }
	downloads := make([]download, 0, len(au.Variants))

	for _, variant := range au.VariantNames() {
		tpl := au.Variants[variant]
		url := vars.Expand(tpl.URL)

		algo, err := AlgorithmOf(m.Hash(variant))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHashFailed, err)
		}

		var digest string
		if tpl.Hash != nil {
			digest, err = u.hasher.Published(ctx, url, tpl.Hash, vars, algo)
		} else {
			digest, err = u.hasher.Digest(ctx, url, algo)
		}
		if err != nil {
			return nil, err
		}
		digest = Restyle(m.Hash(variant), digest)
		logger.Debug("%s: %s %s", m.Name, url, digest)
		downloads = append(downloads, download{variant, url, digest})
	}

	next := m.Clone()
	if err := next.SetVersion(d.Version); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	for _, dl := range downloads {
		if err := next.SetDownload(dl.variant, dl.url, dl.hash); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
	}
	return next, nil
}

// applyAsset sets the version and the download picked by asset keywords.
// The asset replaces the 64bit download when the manifest has one, and the
// root-level download otherwise.
func (u *Updater) applyAsset(ctx context.Context, m *manifest.Manifest, d *Discovery) (*manifest.Manifest, error) {
	if d.AssetURL == "" {
		return nil, fmt.Errorf("%w: no release asset selected for %s", ErrDownloadFailed, m.Name)
	}

	variant := ""
	if m.URL("64bit") != "" {
		variant = "64bit"
	}
	existing := m.Hash(variant)
	algo, err := AlgorithmOf(existing)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHashFailed, err)
	}
	digest, err := u.hasher.Digest(ctx, d.AssetURL, algo)
	if err != nil {
		return nil, err
	}
	digest = Restyle(existing, digest)
	logger.Debug("%s: %s %s", m.Name, d.AssetURL, digest)

	next := m.Clone()
	if err := next.SetVersion(d.Version); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := next.SetDownload(variant, d.AssetURL, digest); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return next, nil
}

// refreshHashes re-hashes every current download of m. It returns a copy
// with the corrected hashes, or nil when every hash already matches.
// Empty hashes count as mismatches.
func (u *Updater) refreshHashes(ctx context.Context, m *manifest.Manifest) (*manifest.Manifest, error) {
	type fix struct{ variant, hash string }
	var fixes []fix

	for _, variant := range m.Variants() {
		url := m.URL(variant)
		if url == "" {
			continue
		}
		existing := m.Hash(variant)
		algo, err := AlgorithmOf(existing)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHashFailed, err)
		}
		digest, err := u.hasher.Digest(ctx, url, algo)
		if err != nil {
			return nil, err
		}
		digest = Restyle(existing, digest)
		if strings.EqualFold(digest, existing) {
			continue
		}
		logger.Debug("%s: hash of %s changed from %q to %s", m.Name, url, existing, digest)
		fixes = append(fixes, fix{variant, digest})
	}

	if len(fixes) == 0 {
		return nil, nil
	}
	next := m.Clone()
	for _, f := range fixes {
		if err := next.SetHash(f.variant, f.hash); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
	}
	return next, nil
}

// outcomeOf classifies an apply error
func outcomeOf(err error) Outcome {
	switch {
	case errors.Is(err, ErrDownloadFailed):
		return OutcomeDownloadFailed
	case errors.Is(err, ErrHashFailed):
		return OutcomeHashFailed
	case errors.Is(err, ErrWriteFailed):
		return OutcomeWriteFailed
	default:
		return OutcomeCheckFailed
	}
}

func failed(res Result, outcome Outcome, err error) Result {
	res.Outcome = outcome
	res.Err = err
	res.Error = err.Error()
	return res
}

func (u *Updater) logResult(r Result) {
	kvs := []interface{}{"app", r.App, "outcome", string(r.Outcome), "current", r.Current}
	if r.Latest != "" {
		kvs = append(kvs, "latest", r.Latest)
	}
	switch {
	case r.Outcome.Failed():
		logger.WarnKV("update failed", append(kvs, "error", r.Error)...)
	case r.Outcome == OutcomeUpdated:
		logger.InfoKV("updated", kvs...)
	case r.Outcome == OutcomeHashRefreshed:
		logger.InfoKV("hash refreshed", kvs...)
	default:
		logger.DebugKV("checked", kvs...)
	}
}
