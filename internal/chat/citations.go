package chat

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
)

// Numbering decides which source gets footnote 1.
type Numbering string

const (
	// NumberProcessing numbers sources in the order citations are processed,
	// which is descending StartIndex: the last cited source in the text
	// gets 1.
	NumberProcessing Numbering = "processing"
	// NumberText numbers sources in reading order.
	NumberText Numbering = "text"
)

// Footnote is a numbered source.
type Footnote struct {
	Number  int    `json:"number"`
	URI     string `json:"uri"`
	Title   string `json:"title,omitempty"`
	License string `json:"license,omitempty"`
}

// Rendered is message text with footnote markers applied.
type Rendered struct {
	Text    string     `json:"text"`
	Sources []Footnote `json:"sources,omitempty"`
}

type insertion struct {
	pos    int
	number int
}

// RenderCitations inserts a [^n] marker at the end of every cited range.
// Every offset refers to the original text, so nested or overlapping ranges
// never shift one another.
func RenderCitations(text string, citations []conversation.CitationSource, numbering Numbering) Rendered {
	out := Rendered{Text: text}
	if len(citations) == 0 {
		return out
	}

	processed := make([]conversation.CitationSource, 0, len(citations))
	for _, c := range citations {
		if c.URI != "" && c.EndIndex >= 0 {
			processed = append(processed, c)
		}
	}
	sort.SliceStable(processed, func(i, j int) bool {
		return processed[i].StartIndex > processed[j].StartIndex
	})

	numberOrder := processed
	if numbering == NumberText {
		numberOrder = make([]conversation.CitationSource, len(processed))
		for i, c := range processed {
			numberOrder[len(processed)-1-i] = c
		}
	}
	numbers := make(map[string]int)
	for _, c := range numberOrder {
		if _, ok := numbers[c.URI]; ok {
			continue
		}
		numbers[c.URI] = len(numbers) + 1
		out.Sources = append(out.Sources, Footnote{
			Number:  numbers[c.URI],
			URI:     c.URI,
			Title:   c.Title,
			License: c.License,
		})
	}

	seen := make(map[[2]int]bool)
	inserts := make([]insertion, 0, len(processed))
	for _, c := range processed {
		pos := snap(text, c.EndIndex)
		key := [2]int{pos, numbers[c.URI]}
		if seen[key] {
			continue
		}
		seen[key] = true
		inserts = append(inserts, insertion{pos: pos, number: numbers[c.URI]})
	}
	sort.SliceStable(inserts, func(i, j int) bool {
		if inserts[i].pos != inserts[j].pos {
			return inserts[i].pos < inserts[j].pos
		}
		return inserts[i].number < inserts[j].number
	})

	var sb strings.Builder
	sb.Grow(len(text) + 5*len(inserts))
	last := 0
	for _, ins := range inserts {
		sb.WriteString(text[last:ins.pos])
		fmt.Fprintf(&sb, "[^%d]", ins.number)
		last = ins.pos
	}
	sb.WriteString(text[last:])
	out.Text = sb.String()
	return out
}

// snap clamps an offset into text and moves it forward to a rune boundary.
func snap(text string, pos int) int {
	if pos > len(text) {
		return len(text)
	}
	if pos < 0 {
		return 0
	}
	for pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos++
	}
	return pos
}

// FormatFootnotes renders markdown footnote definitions for sources.
func FormatFootnotes(sources []Footnote) string {
	var sb strings.Builder
	for _, s := range sources {
		title := s.Title
		if title == "" {
			title = s.URI
		}
		fmt.Fprintf(&sb, "[^%d]: [%s](%s)\n", s.Number, title, s.URI)
	}
	return sb.String()
}
