package tui

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/muesli/termenv"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 80

// markdownStyle picks the glamour style once; asking the terminal for its
// background more than once can hang on some emulators.
var markdownStyle = sync.OnceValue(func() string {
	if termenv.HasDarkBackground() {
		return styles.DarkStyle
	}
	return styles.LightStyle
})

// RenderMarkdown renders a coach reply for a terminal of the given width.
// If rendering fails the text is returned as is.
func RenderMarkdown(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	if width <= 0 {
		width = DefaultWidth
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(markdownStyle()),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}

	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(out, "\n")
}
