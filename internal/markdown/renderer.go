package markdown

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// RendererConfig holds configuration for terminal rendering
type RendererConfig struct {
	Width int
	// Style is a glamour standard style name ("dark", "light", "notty") or
	// "auto" to detect from the terminal.
	Style string
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() RendererConfig {
	return RendererConfig{Width: 100, Style: "auto"}
}

// Renderer wraps glamour for displaying conversations in a terminal
type Renderer struct {
	glamourRenderer *glamour.TermRenderer
	config          RendererConfig
}

// NewRenderer creates a new markdown renderer with the given configuration
func NewRenderer(config RendererConfig) (*Renderer, error) {
	if config.Width <= 0 {
		config.Width = DefaultConfig().Width
	}

	style := glamour.WithAutoStyle()
	if config.Style != "" && config.Style != "auto" {
		style = glamour.WithStandardStyle(config.Style)
	}
	glamourRenderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(config.Width))
	if err != nil {
		return nil, fmt.Errorf("failed to create glamour renderer: %w", err)
	}

	return &Renderer{
		glamourRenderer: glamourRenderer,
		config:          config,
	}, nil
}

// Render renders markdown content to styled terminal output
func (r *Renderer) Render(markdown string) (string, error) {
	if markdown == "" {
		return "", nil
	}

	rendered, err := r.glamourRenderer.Render(preprocess(markdown))
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return postprocess(rendered), nil
}

// preprocess trims trailing whitespace outside code fences
func preprocess(markdown string) string {
	lines := strings.Split(markdown, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			lines[i] = strings.TrimRight(line, " \t")
		}
	}
	return strings.Join(lines, "\n")
}

// postprocess collapses runs of blank lines
func postprocess(rendered string) string {
	lines := strings.Split(rendered, "\n")
	result := make([]string, 0, len(lines))
	blankCount := 0

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankCount++
			if blankCount <= 1 {
				result = append(result, line)
			}
			continue
		}
		blankCount = 0
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}
