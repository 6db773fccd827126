package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"
)

// renderMarkdown prints md styled for the terminal, falling back to plain text.
func renderMarkdown(w io.Writer, md string) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err == nil {
		if out, err := renderer.Render(md); err == nil {
			fmt.Fprint(w, out)
			return
		}
	}
	fmt.Fprintln(w, md)
}
