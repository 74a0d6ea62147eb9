package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidCheckver is returned when a checkver rule has an unsupported shape
var ErrInvalidCheckver = errors.New("invalid checkver rule")

// Source identifies where a checkver rule looks for new versions.
type Source int

const (
	// SourceGitHub queries the releases of a GitHub repository
	SourceGitHub Source = iota
	// SourcePage fetches a URL and extracts the version from its content
	SourcePage
)

func (s Source) String() string {
	switch s {
	case SourceGitHub:
		return "github"
	case SourcePage:
		return "page"
	default:
		return "unknown"
	}
}

// Checkver describes how to discover the latest upstream version.
// Empty GitHub or URL fields mean "use the manifest homepage".
type Checkver struct {
	Source Source
	// GitHub is the repository as "owner/repo" or a github.com URL
	GitHub string
	// URL is the page fetched by page rules
	URL string
	// Regex extracts the version; for GitHub rules it is matched against asset names
	Regex string
	// JSONPath extracts the version from a JSON document
	JSONPath string
	// XPath extracts the version from an HTML document
	XPath string
	// Selector extracts the version from an HTML document with a CSS selector
	Selector string
	// Replace rewrites the full regex match into the version
	Replace string
}

type checkverObject struct {
	GitHub   string `json:"github"`
	URL      string `json:"url"`
	Regex    string `json:"regex"`
	Re       string `json:"re"`
	JSONPath string `json:"jsonpath"`
	JP       string `json:"jp"`
	XPath    string `json:"xpath"`
	Selector string `json:"selector"`
	Replace  string `json:"replace"`
}

// ParseCheckver decodes a checkver value, which is either a string or an object.
func ParseCheckver(raw json.RawMessage) (*Checkver, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.EqualFold(s, "github") {
			return &Checkver{Source: SourceGitHub}, nil
		}
		if s == "" {
			return nil, fmt.Errorf("%w: empty rule", ErrInvalidCheckver)
		}
		return &Checkver{Source: SourcePage, Regex: s}, nil
	}

	var obj checkverObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckver, err)
	}

	cv := &Checkver{
		GitHub:   obj.GitHub,
		URL:      obj.URL,
		Regex:    firstNonEmpty(obj.Regex, obj.Re),
		JSONPath: firstNonEmpty(obj.JSONPath, obj.JP),
		XPath:    obj.XPath,
		Selector: obj.Selector,
		Replace:  obj.Replace,
	}

	switch {
	case cv.GitHub != "":
		cv.Source = SourceGitHub
	case cv.Regex != "" || cv.JSONPath != "" || cv.XPath != "" || cv.Selector != "":
		cv.Source = SourcePage
	default:
		return nil, fmt.Errorf("%w: needs github, regex, jsonpath, xpath or selector", ErrInvalidCheckver)
	}

	return cv, nil
}

// Autoupdate holds the download templates used once a new version is known.
type Autoupdate struct {
	// Variants maps an architecture variant ("" for the root level) to its template
	Variants map[string]DownloadTemplate
}

// DownloadTemplate is a URL template with an optional hash extraction rule.
type DownloadTemplate struct {
	URL  string
	Hash *HashRule
}

// HashRule locates a published checksum instead of downloading the asset.
type HashRule struct {
	// URL is a template for the checksum file location (e.g. "$url.sha256")
	URL string `json:"url"`
	// Regex extracts the digest from the checksum file
	Regex string `json:"regex"`
}

type templateObject struct {
	URL  string          `json:"url"`
	Hash json.RawMessage `json:"hash"`
}

type autoupdateObject struct {
	templateObject
	Architecture map[string]templateObject `json:"architecture"`
}

// ParseAutoupdate decodes an autoupdate object. Architecture variants without
// their own hash rule inherit the root-level one.
func ParseAutoupdate(raw json.RawMessage) (*Autoupdate, error) {
	var obj autoupdateObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("invalid autoupdate: %w", err)
	}

	rootHash, err := parseHashRule(obj.Hash)
	if err != nil {
		return nil, err
	}

	au := &Autoupdate{Variants: make(map[string]DownloadTemplate)}
	if obj.URL != "" {
		au.Variants[""] = DownloadTemplate{URL: obj.URL, Hash: rootHash}
	}
	for variant, tpl := range obj.Architecture {
		if tpl.URL == "" {
			continue
		}
		hash, err := parseHashRule(tpl.Hash)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", variant, err)
		}
		if hash == nil {
			hash = rootHash
		}
		au.Variants[variant] = DownloadTemplate{URL: tpl.URL, Hash: hash}
	}

	if len(au.Variants) == 0 {
		return nil, errors.New("invalid autoupdate: no url template")
	}
	return au, nil
}

// VariantNames returns the template variants in a stable order.
func (a *Autoupdate) VariantNames() []string {
	names := make([]string, 0, len(a.Variants))
	for name := range a.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseHashRule(raw json.RawMessage) (*HashRule, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &HashRule{URL: s}, nil
	}

	var rule HashRule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return nil, fmt.Errorf("invalid autoupdate hash rule: %w", err)
	}
	if rule.URL == "" {
		return nil, errors.New("invalid autoupdate hash rule: missing url")
	}
	return &rule, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
