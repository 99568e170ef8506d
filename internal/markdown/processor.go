// Package markdown formats message text for terminals and plain-text sinks.
package markdown

import (
	"fmt"
	"regexp"
	"strings"
)

// MessageFormat is an output format for message text
type MessageFormat string

const (
	FormatPlain    MessageFormat = "plain"
	FormatMarkdown MessageFormat = "markdown"
	FormatTerminal MessageFormat = "terminal"
)

// ParseFormat accepts a format name, defaulting to markdown.
func ParseFormat(s string) (MessageFormat, error) {
	switch MessageFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatPlain:
		return FormatPlain, nil
	case FormatMarkdown, "":
		return FormatMarkdown, nil
	case FormatTerminal:
		return FormatTerminal, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// Processor renders message text in a requested format
type Processor struct {
	renderer *Renderer
}

// NewProcessor creates a processor. A nil renderer disables terminal output,
// which then falls back to the raw markdown.
func NewProcessor(renderer *Renderer) *Processor {
	return &Processor{renderer: renderer}
}

// Format renders content in format.
func (p *Processor) Format(content string, format MessageFormat) (string, error) {
	switch format {
	case FormatPlain:
		return StripMarkers(content), nil
	case FormatTerminal:
		if p.renderer == nil || !ContainsMarkdown(content) {
			return content, nil
		}
		return p.renderer.Render(content)
	default:
		return content, nil
	}
}

var markdownPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^#{1,6}\s+`),
	regexp.MustCompile(`\*\*.*\*\*`),
	regexp.MustCompile(`\*[^*\s][^*]*\*`),
	regexp.MustCompile(`__.*__`),
	regexp.MustCompile("`.*`"),
	regexp.MustCompile("```"),
	regexp.MustCompile(`(?m)^\s*[-*+]\s+`),
	regexp.MustCompile(`(?m)^\s*\d+\.\s+`),
	regexp.MustCompile(`(?m)^\s*>\s+`),
	regexp.MustCompile(`\[.*\]\(.*\)`),
	regexp.MustCompile(`\[\^\d+\]`),
	regexp.MustCompile(`(?m)^\s*\|.*\|\s*$`),
	regexp.MustCompile(`(?m)^\s*[-=]{3,}\s*$`),
}

// ContainsMarkdown reports whether content uses markdown syntax.
func ContainsMarkdown(content string) bool {
	for _, re := range markdownPatterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

type replacement struct {
	re   *regexp.Regexp
	with string
}

// Order matters: fences before inline code, rules before list markers,
// images before links.
var stripRules = []replacement{
	{regexp.MustCompile("(?m)^\\s*```.*$\\n?"), ""},
	{regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`), "$1"},
	{regexp.MustCompile(`\[\^\d+\]`), ""},
	{regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`), "$1"},
	{regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`), ""},
	{regexp.MustCompile(`(?m)^\s*>\s?`), ""},
	{regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`), ""},
	{regexp.MustCompile(`(?m)^(\s*)[-*+]\s+`), "$1"},
	{regexp.MustCompile(`\*\*(.+?)\*\*`), "$1"},
	{regexp.MustCompile(`__(.+?)__`), "$1"},
	{regexp.MustCompile(`~~(.+?)~~`), "$1"},
	{regexp.MustCompile(`\*([^*\n]+)\*`), "$1"},
	{regexp.MustCompile(`(^|[^\w])_([^_\n]+)_([^\w]|$)`), "$1$2$3"},
	{regexp.MustCompile("`([^`]*)`"), "$1"},
	{regexp.MustCompile(`\n{3,}`), "\n\n"},
}

// StripMarkers removes markdown syntax, keeping the readable text. Citation
// markers are dropped.
func StripMarkers(content string) string {
	for _, r := range stripRules {
		content = r.re.ReplaceAllString(content, r.with)
	}
	return strings.TrimSpace(content)
}
