package autoupdate

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/obentoo/bucketkit/internal/manifest"
)

// maxChecksumFileSize bounds how much of a published checksum file is read
const maxChecksumFileSize = 1 << 20

// Algorithm is a manifest hash algorithm.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
	SHA1   Algorithm = "sha1"
	MD5    Algorithm = "md5"
)

// AlgorithmOf returns the algorithm an existing manifest hash uses. Hashes
// without a prefix are SHA-256, as are empty ones.
func AlgorithmOf(existing string) (Algorithm, error) {
	i := strings.IndexByte(existing, ':')
	if i < 0 {
		return SHA256, nil
	}
	switch algo := Algorithm(strings.ToLower(existing[:i])); algo {
	case SHA256, SHA512, SHA1, MD5:
		return algo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedHash, existing[:i])
	}
}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA512:
		return sha512.New()
	case SHA1:
		return sha1.New()
	case MD5:
		return md5.New()
	default:
		return sha256.New()
	}
}

// HexLen is the length of a hex-encoded digest.
func (a Algorithm) HexLen() int {
	return a.New().Size() * 2
}

// Format renders a hex digest the way manifests store it: bare for SHA-256,
// prefixed with the algorithm name otherwise.
func (a Algorithm) Format(digest string) string {
	digest = strings.ToLower(digest)
	if a == SHA256 || a == "" {
		return digest
	}
	return string(a) + ":" + digest
}

// Restyle renders a formatted digest with the same algorithm prefix style as
// the hash it replaces, so an explicit "sha256:" prefix survives a rewrite.
func Restyle(existing, formatted string) string {
	if strings.Contains(formatted, ":") {
		return formatted
	}
	i := strings.IndexByte(existing, ':')
	if i < 0 || Algorithm(strings.ToLower(existing[:i])) != SHA256 {
		return formatted
	}
	return existing[:i+1] + formatted
}

// Hasher obtains the content digest of download URLs, either by streaming
// the file through a hash or by reading a checksum file published next to it.
type Hasher struct {
	client      *http.Client
	progress    bool
	progressOut io.Writer
}

// HasherOption configures a Hasher
type HasherOption func(*Hasher)

// WithProgress shows a download progress bar on w.
func WithProgress(w io.Writer) HasherOption {
	return func(h *Hasher) {
		h.progress = w != nil
		h.progressOut = w
	}
}

// NewHasher creates a hasher that downloads through client.
func NewHasher(client *http.Client, opts ...HasherOption) *Hasher {
	if client == nil {
		client = NewRetryableHTTPClient().HTTPClientWithTimeout(10 * time.Minute)
	}
	h := &Hasher{client: client}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Digest downloads url and returns its formatted digest. Transport and
// status failures wrap ErrDownloadFailed.
func (h *Hasher) Digest(ctx context.Context, url string, algo Algorithm) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrDownloadFailed, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s: status %d", ErrDownloadFailed, url, resp.StatusCode)
	}

	hasher := algo.New()
	var dst io.Writer = hasher
	if h.progress {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(h.progressOut),
			progressbar.OptionSetDescription(path.Base(req.URL.Path)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		dst = io.MultiWriter(hasher, bar)
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return "", fmt.Errorf("%w: reading %s: %w", ErrDownloadFailed, url, err)
	}

	return algo.Format(hex.EncodeToString(hasher.Sum(nil))), nil
}

// Published resolves the digest of downloadURL from the checksum file the
// rule points at. The asset itself is only checked with HEAD; an unreachable
// asset wraps ErrDownloadFailed, a missing or unusable checksum ErrHashFailed.
func (h *Hasher) Published(ctx context.Context, downloadURL string, rule *manifest.HashRule, vars TemplateVars, algo Algorithm) (string, error) {
	if err := h.reachable(ctx, downloadURL); err != nil {
		return "", err
	}

	urlVars := vars.WithURL(downloadURL)
	checksumURL := urlVars.Expand(rule.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checksumURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrHashFailed, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetching %s: %w", ErrHashFailed, checksumURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: fetching %s: status %d", ErrHashFailed, checksumURL, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxChecksumFileSize))
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %w", ErrHashFailed, checksumURL, err)
	}

	pattern := ""
	if rule.Regex != "" {
		pattern = quotedVars(urlVars).Expand(rule.Regex)
	}

	digest, err := ExtractChecksum(content, pattern, urlVars["basename"], algo)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrHashFailed, checksumURL, err)
	}
	return algo.Format(digest), nil
}

// reachable checks that the asset is served. Servers that refuse HEAD count as reachable.
func (h *Hasher) reachable(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDownloadFailed, url, err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusMethodNotAllowed, resp.StatusCode == http.StatusNotImplemented:
		return nil
	default:
		return fmt.Errorf("%w: %s: status %d", ErrDownloadFailed, url, resp.StatusCode)
	}
}

// quotedVars escapes variable values for use inside a regex
func quotedVars(vars TemplateVars) TemplateVars {
	out := make(TemplateVars, len(vars))
	for k, v := range vars {
		out[k] = regexp.QuoteMeta(v)
	}
	return out
}

// ExtractChecksum finds the digest for assetName in a checksum file.
// With a pattern, the named group "hash", else the first group, else the
// whole match is the digest. Without one, the file may be a bare digest or
// "<digest>  <file>" lines (sha256sum and BSD formats).
func ExtractChecksum(data []byte, pattern, assetName string, algo Algorithm) (string, error) {
	digestLen := algo.HexLen()

	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRegexPattern, err)
		}
		m := re.FindSubmatch(data)
		if m == nil {
			return "", fmt.Errorf("%w: %q", ErrRegexNoMatch, pattern)
		}
		digest := string(m[0])
		if i := re.SubexpIndex("hash"); i > 0 && m[i] != nil {
			digest = string(m[i])
		} else if len(m) > 1 && m[1] != nil {
			digest = string(m[1])
		}
		digest = strings.TrimSpace(digest)
		if !isHexDigest(digest, digestLen) {
			return "", fmt.Errorf("matched %q is not a %s digest", digest, algo)
		}
		return strings.ToLower(digest), nil
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("checksum file is empty")
	}
	if isHexDigest(text, digestLen) {
		return strings.ToLower(text), nil
	}

	var only string
	candidates := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		// BSD style: SHA256 (file) = digest
		if len(fields) == 4 && fields[2] == "=" {
			name := strings.Trim(fields[1], "()")
			if isHexDigest(fields[3], digestLen) && path.Base(name) == assetName {
				return strings.ToLower(fields[3]), nil
			}
			continue
		}

		if !isHexDigest(fields[0], digestLen) {
			continue
		}
		candidates++
		only = fields[0]
		if len(fields) >= 2 {
			candidate := path.Base(strings.TrimPrefix(fields[len(fields)-1], "*"))
			if candidate == assetName {
				return strings.ToLower(fields[0]), nil
			}
		}
	}

	if candidates == 1 {
		return strings.ToLower(only), nil
	}
	return "", fmt.Errorf("checksum for %s not found", assetName)
}

func isHexDigest(value string, expectedLen int) bool {
	if expectedLen > 0 && len(value) != expectedLen {
		return false
	}
	if value == "" || len(value)%2 != 0 {
		return false
	}
	for _, ch := range value {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') && (ch < 'A' || ch > 'F') {
			return false
		}
	}
	return true
}
