package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the terminal color scheme.
type Theme struct {
	Primary lipgloss.Color // created, success
	Accent  lipgloss.Color // updated
	Dim     lipgloss.Color // unchanged, help text
	Warn    lipgloss.Color
	Error   lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Accent:  lipgloss.Color("#58a6ff"),
	Dim:     lipgloss.Color("#6e7681"),
	Warn:    lipgloss.Color("#d29922"),
	Error:   lipgloss.Color("#f85149"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Help    lipgloss.Style
	Success lipgloss.Style
	Info    lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Help:    lipgloss.NewStyle().Foreground(t.Dim),
		Success: lipgloss.NewStyle().Foreground(t.Primary),
		Info:    lipgloss.NewStyle().Foreground(t.Accent),
		Warning: lipgloss.NewStyle().Foreground(t.Warn),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(t.Error),
	}
}

// State renders a mutation state word padded to a fixed width.
func (s Styles) State(state string) string {
	word := fmt.Sprintf("%-9s", state)
	switch state {
	case "created":
		return s.Success.Render(word)
	case "updated":
		return s.Info.Render(word)
	case "deleted":
		return s.Warning.Render(word)
	case "error":
		return s.Error.Render(word)
	}
	return s.Help.Render(word)
}

// Printer writes styled status lines.
type Printer struct {
	Styles Styles
	Out    io.Writer
	Err    io.Writer
}

// NewPrinter returns a Printer on stdout and stderr with the default theme.
func NewPrinter() *Printer {
	return &Printer{Styles: NewStyles(DefaultTheme), Out: os.Stdout, Err: os.Stderr}
}

// Status prints "<state> <id>" followed by optional detail.
func (p *Printer) Status(state, id string, detail ...any) {
	line := p.Styles.State(state) + " " + id
	if len(detail) > 0 {
		line += " " + p.Styles.Help.Render(fmt.Sprint(detail...))
	}
	fmt.Fprintln(p.Out, line)
}

// Success prints a success message with checkmark
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.Out, p.Styles.Success.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Info prints an info message
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintln(p.Out, p.Styles.Info.Render("ℹ "+fmt.Sprintf(format, args...)))
}

// Warning prints a warning message to stderr
func (p *Printer) Warning(format string, args ...any) {
	fmt.Fprintln(p.Err, p.Styles.Warning.Render("⚠ "+fmt.Sprintf(format, args...)))
}

// Error prints an error message to stderr
func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintln(p.Err, p.Styles.Error.Render("Error: ")+fmt.Sprintf(format, args...))
}
