package autoupdate

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/obentoo/bucketkit/internal/manifest"
)

// Error variables for parser errors
var (
	// ErrJSONPathNotFound is returned when the JSON path does not exist in the document
	ErrJSONPathNotFound = errors.New("JSON path not found in response")
	// ErrRegexNoMatch is returned when the regex pattern does not match the content
	ErrRegexNoMatch = errors.New("regex pattern did not match")
	// ErrNoVersionFound is returned when no version could be extracted from upstream
	ErrNoVersionFound = errors.New("could not extract version from upstream")
	// ErrInvalidJSONPath is returned when the JSON path syntax is invalid
	ErrInvalidJSONPath = errors.New("invalid JSON path syntax")
	// ErrInvalidRegexPattern is returned when the regex pattern is invalid
	ErrInvalidRegexPattern = errors.New("invalid regex pattern")
)

// Parser extracts a version string from fetched content.
type Parser interface {
	Parse(content []byte) (string, error)
}

// CaptureParser is a Parser that also reports the named groups of its match.
// The captures feed the $match<Name> template variables.
type CaptureParser interface {
	Parser
	ParseCaptures(content []byte) (string, map[string]string, error)
}

// JSONParser extracts version using a JSON path.
// The path supports dot notation and array indexing (e.g. "$.assets[0].version", "[0].tag_name").
type JSONParser struct {
	Path string
	// Post optionally extracts the version from the value found at Path
	Post *RegexParser
}

// Parse extracts a version string from JSON content using the configured path.
func (p *JSONParser) Parse(content []byte) (string, error) {
	if p.Path == "" {
		return "", ErrInvalidJSONPath
	}

	var data interface{}
	if err := json.Unmarshal(content, &data); err != nil {
		return "", fmt.Errorf("failed to parse JSON: %w", err)
	}

	result, err := navigateJSONPath(data, p.Path)
	if err != nil {
		return "", err
	}

	version, ok := toString(result)
	if !ok {
		return "", fmt.Errorf("%w: value at path is not a scalar", ErrJSONPathNotFound)
	}
	if p.Post != nil {
		return p.Post.Parse([]byte(version))
	}
	return version, nil
}

// navigateJSONPath navigates through JSON data following the given path.
func navigateJSONPath(data interface{}, path string) (interface{}, error) {
	segments, err := parseJSONPath(path)
	if err != nil {
		return nil, err
	}

	current := data
	for _, seg := range segments {
		switch seg.segType {
		case segmentField:
			obj, ok := current.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: expected object at %q", ErrJSONPathNotFound, seg.value)
			}
			val, exists := obj[seg.value]
			if !exists {
				return nil, fmt.Errorf("%w: field %q not found", ErrJSONPathNotFound, seg.value)
			}
			current = val

		case segmentIndex:
			arr, ok := current.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: expected array at index %d", ErrJSONPathNotFound, seg.index)
			}
			if seg.index >= len(arr) {
				return nil, fmt.Errorf("%w: array index %d out of bounds (length %d)", ErrJSONPathNotFound, seg.index, len(arr))
			}
			current = arr[seg.index]
		}
	}

	return current, nil
}

type segmentType int

const (
	segmentField segmentType = iota
	segmentIndex
)

type pathSegment struct {
	segType segmentType
	value   string
	index   int
}

// parseJSONPath parses a JSON path string into segments.
// A leading "$" root marker is accepted, as is a leading index for
// documents whose root is an array.
// Examples: "version", "$.releases[0].tag", "[0].name"
func parseJSONPath(path string) ([]pathSegment, error) {
	var segments []pathSegment
	remaining := strings.TrimPrefix(strings.TrimSpace(path), "$")

	for remaining != "" {
		remaining = strings.TrimPrefix(remaining, ".")
		if remaining == "" {
			break
		}

		fieldEnd := len(remaining)
		for i, c := range remaining {
			if c == '.' || c == '[' {
				fieldEnd = i
				break
			}
		}
		if fieldEnd > 0 {
			segments = append(segments, pathSegment{segType: segmentField, value: remaining[:fieldEnd]})
			remaining = remaining[fieldEnd:]
		}

		for strings.HasPrefix(remaining, "[") {
			closeBracket := strings.Index(remaining, "]")
			if closeBracket == -1 {
				return nil, fmt.Errorf("%w: unclosed bracket", ErrInvalidJSONPath)
			}

			inner := strings.Trim(remaining[1:closeBracket], `'"`)
			if index, err := strconv.Atoi(inner); err == nil {
				if index < 0 {
					return nil, fmt.Errorf("%w: negative array index", ErrInvalidJSONPath)
				}
				segments = append(segments, pathSegment{segType: segmentIndex, index: index})
			} else if inner != "" && inner != remaining[1:closeBracket] {
				// ['quoted key']
				segments = append(segments, pathSegment{segType: segmentField, value: inner})
			} else {
				return nil, fmt.Errorf("%w: invalid array index %q", ErrInvalidJSONPath, inner)
			}
			remaining = remaining[closeBracket+1:]
		}

		if remaining != "" && remaining[0] != '.' {
			return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidJSONPath, remaining)
		}
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidJSONPath)
	}
	return segments, nil
}

// toString converts a JSON scalar to a string
func toString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

// RegexParser extracts a version with a regular expression.
// The named group "version" wins, then the first capture group, then the
// whole match for patterns without groups. With Replace set, the version is
// the whole match rewritten by the replacement template ($1, ${name}).
type RegexParser struct {
	Pattern  string
	Replace  string
	compiled *regexp.Regexp
}

// NewRegexParser compiles pattern up front.
func NewRegexParser(pattern, replace string) (*RegexParser, error) {
	if pattern == "" {
		return nil, ErrInvalidRegexPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegexPattern, err)
	}
	return &RegexParser{Pattern: pattern, Replace: replace, compiled: re}, nil
}

// Parse implements Parser.
func (p *RegexParser) Parse(content []byte) (string, error) {
	version, _, err := p.ParseCaptures(content)
	return version, err
}

// ParseCaptures implements CaptureParser.
func (p *RegexParser) ParseCaptures(content []byte) (string, map[string]string, error) {
	if p.compiled == nil {
		compiled, err := NewRegexParser(p.Pattern, p.Replace)
		if err != nil {
			return "", nil, err
		}
		p.compiled = compiled.compiled
	}
	re := p.compiled

	loc := re.FindSubmatchIndex(content)
	if loc == nil {
		return "", nil, ErrRegexNoMatch
	}

	captures := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name == "" || loc[2*i] < 0 {
			continue
		}
		captures[name] = string(content[loc[2*i]:loc[2*i+1]])
	}

	var version string
	switch {
	case p.Replace != "":
		version = string(re.Expand(nil, []byte(p.Replace), content, loc))
	case captures["version"] != "":
		version = captures["version"]
	case re.NumSubexp() >= 1 && loc[2] >= 0:
		version = string(content[loc[2]:loc[3]])
	default:
		version = string(content[loc[0]:loc[1]])
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return "", nil, fmt.Errorf("%w: matched empty string", ErrRegexNoMatch)
	}
	return version, captures, nil
}

// NewParserFromCheckver creates the parser a page checkver rule describes.
// JSONPath wins over XPath and Selector; a regex next to either of them
// post-processes the extracted text.
func NewParserFromCheckver(cv *manifest.Checkver) (Parser, error) {
	switch {
	case cv.JSONPath != "":
		parser := &JSONParser{Path: cv.JSONPath}
		if cv.Regex != "" {
			post, err := NewRegexParser(cv.Regex, cv.Replace)
			if err != nil {
				return nil, err
			}
			parser.Post = post
		}
		return parser, nil
	case cv.XPath != "" || cv.Selector != "":
		return NewHTMLParser(cv.Selector, cv.XPath, cv.Regex, cv.Replace)
	case cv.Regex != "":
		return NewRegexParser(cv.Regex, cv.Replace)
	default:
		return nil, fmt.Errorf("%w: rule has no extraction pattern", ErrCheckFailed)
	}
}

// ParseVersion runs parser over content and reports the version together
// with any named captures.
func ParseVersion(parser Parser, content []byte) (string, map[string]string, error) {
	if cp, ok := parser.(CaptureParser); ok {
		version, captures, err := cp.ParseCaptures(content)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrNoVersionFound, err)
		}
		return version, captures, nil
	}

	version, err := parser.Parse(content)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNoVersionFound, err)
	}
	return version, nil, nil
}
