// Package render provides terminal presentation helpers for conversation
// output. It renders assistant turns as markdown and emphasizes the
// anonymization placeholders inside provenance text so a reader can see at a
// glance which spans the relay substituted.
package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// placeholderPattern matches anonymization placeholders like <NAME> or
// <LOCATION_2> in anonymized prompts and raw model output.
var placeholderPattern = regexp.MustCompile(`<[^<>]+>`)

var placeholderStyle = lipgloss.NewStyle().Bold(true)

// Renderer renders conversation content for the terminal.
type Renderer struct {
	markdown *glamour.TermRenderer
}

// NewRenderer creates a renderer with auto-detected terminal styling.
func NewRenderer() (*Renderer, error) {
	markdown, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Renderer{markdown: markdown}, nil
}

// Markdown renders assistant output as ANSI terminal markdown. Plain text
// passes through glamour unharmed, so it is applied to every assistant turn.
func (r *Renderer) Markdown(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	rendered, err := r.markdown.Render(text)
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return rendered, nil
}

// HighlightPlaceholders wraps each <placeholder> span in bold so substituted
// spans stand out when provenance details are inspected.
func HighlightPlaceholders(text string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		return placeholderStyle.Render(match)
	})
}
