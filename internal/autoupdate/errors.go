package autoupdate

import (
	"errors"

	"github.com/obentoo/bucketkit/internal/manifest"
)

// Fatal errors stop a run before any manifest is processed
var (
	// ErrBucketNotFound is returned when the bucket directory does not exist or is not a directory
	ErrBucketNotFound = errors.New("bucket directory not found")
	// ErrUpstreamUnavailable is returned when the release API cannot be reached at all
	ErrUpstreamUnavailable = errors.New("upstream release source unavailable")
	// ErrAppNotFound is returned when a requested app has no manifest in the bucket
	ErrAppNotFound = manifest.ErrNotFound
)

// Per-app errors are recorded as outcomes and never stop a run
var (
	// ErrCheckFailed is returned when the latest upstream version cannot be determined
	ErrCheckFailed = errors.New("version check failed")
	// ErrNoMatchingRelease is returned when no release or asset satisfies the checkver rule
	ErrNoMatchingRelease = errors.New("no release matching checkver rule")
	// ErrDownloadFailed is returned when a new download URL cannot be retrieved
	ErrDownloadFailed = errors.New("download failed")
	// ErrHashFailed is returned when the digest of a new download cannot be determined
	ErrHashFailed = errors.New("hash computation failed")
	// ErrWriteFailed is returned when an updated manifest cannot be written back
	ErrWriteFailed = errors.New("failed to write manifest")
	// ErrUnsupportedHash is returned for hash algorithms other than sha256, sha512, sha1 and md5
	ErrUnsupportedHash = errors.New("unsupported hash algorithm")
)
