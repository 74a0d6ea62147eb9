package autoupdate

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
)

var (
	// ErrInvalidXPath is returned for a syntactically broken xpath rule
	ErrInvalidXPath = errors.New("invalid XPath expression")
	// ErrNoElementFound is returned when the page has no element matching the rule
	ErrNoElementFound = errors.New("no element found matching selector")
	// ErrNoSelectorOrXPath is returned for an HTML rule with neither selector nor xpath
	ErrNoSelectorOrXPath = errors.New("either selector or xpath must be provided")
)

// HTMLParser reads the version from the text of the first element a CSS
// selector or XPath expression picks out of a page. The selector wins when
// both are set. Post narrows the element text down, as in
// {"url": ..., "xpath": ..., "regex": ...} checkver rules.
type HTMLParser struct {
	Selector string
	XPath    string
	Post     *RegexParser
}

// NewHTMLParser builds the parser for an xpath or selector checkver rule.
// regex and replace are optional.
func NewHTMLParser(selector, xpath, regex, replace string) (*HTMLParser, error) {
	if selector == "" && xpath == "" {
		return nil, ErrNoSelectorOrXPath
	}

	parser := &HTMLParser{Selector: selector, XPath: xpath}
	if regex != "" {
		post, err := NewRegexParser(regex, replace)
		if err != nil {
			return nil, err
		}
		parser.Post = post
	}
	return parser, nil
}

// Parse implements Parser.
func (p *HTMLParser) Parse(content []byte) (string, error) {
	version, _, err := p.ParseCaptures(content)
	return version, err
}

// ParseCaptures implements CaptureParser. Captures come from Post only.
func (p *HTMLParser) ParseCaptures(content []byte) (string, map[string]string, error) {
	var text string
	var err error
	switch {
	case p.Selector != "":
		text, err = p.selectText(content)
	case p.XPath != "":
		text, err = p.queryText(content)
	default:
		return "", nil, ErrNoSelectorOrXPath
	}
	if err != nil {
		return "", nil, err
	}

	var captures map[string]string
	if p.Post != nil {
		text, captures, err = p.Post.ParseCaptures([]byte(text))
		if err != nil {
			return "", nil, fmt.Errorf("%w: pattern %q did not match text", ErrRegexNoMatch, p.Post.Pattern)
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, ErrNoVersionFound
	}
	return text, captures, nil
}

func (p *HTMLParser) selectText(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	selection := doc.Find(p.Selector)
	if selection.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoElementFound, p.Selector)
	}
	return selection.First().Text(), nil
}

func (p *HTMLParser) queryText(content []byte) (string, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	node, err := htmlquery.Query(doc, p.XPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidXPath, err)
	}
	if node == nil {
		return "", fmt.Errorf("%w: %s", ErrNoElementFound, p.XPath)
	}
	return htmlquery.InnerText(node), nil
}
