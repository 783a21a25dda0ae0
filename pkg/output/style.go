/* pkg/output/style.go */

package output

import (
	"io"
	"os"
	"strings"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/healthcheck"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	ColorSuccess = lipgloss.Color("#00ff00")
	ColorWarning = lipgloss.Color("#ffaa00")
	ColorError   = lipgloss.Color("#ff0000")
	ColorMuted   = lipgloss.Color("#666666")
	ColorPrimary = lipgloss.Color("#00ffff")
)

// Styles paints text only when the destination is a terminal.
type Styles struct {
	color   bool
	title   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

// NewStyles enables colour when w is a terminal and NO_COLOR is unset.
func NewStyles(w io.Writer) Styles {
	return newStyles(isTerminal(w) && os.Getenv("NO_COLOR") == "")
}

// PlainStyles never emits escape sequences.
func PlainStyles() Styles { return newStyles(false) }

func newStyles(color bool) Styles {
	return Styles{
		color:   color,
		title:   lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary),
		success: lipgloss.NewStyle().Foreground(ColorSuccess),
		warning: lipgloss.NewStyle().Foreground(ColorWarning),
		failure: lipgloss.NewStyle().Foreground(ColorError).Bold(true),
		muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (s Styles) paint(style lipgloss.Style, text string) string {
	if !s.color {
		return text
	}
	return style.Render(text)
}

func (s Styles) Title(text string) string   { return s.paint(s.title, text) }
func (s Styles) Success(text string) string { return s.paint(s.success, text) }
func (s Styles) Warning(text string) string { return s.paint(s.warning, text) }
func (s Styles) Failure(text string) string { return s.paint(s.failure, text) }
func (s Styles) Muted(text string) string   { return s.paint(s.muted, text) }

// Status colours a health verdict.
func (s Styles) Status(status healthcheck.HealthStatus) string {
	switch status {
	case healthcheck.StatusHealthy:
		return s.Success(string(status))
	case healthcheck.StatusDegraded:
		return s.Warning(string(status))
	default:
		return s.Failure(string(status))
	}
}

// Verdict renders a boolean outcome as OK/FAILED.
func (s Styles) Verdict(ok bool) string {
	if ok {
		return s.Success("OK")
	}
	return s.Failure("FAILED")
}

var titleCaser = cases.Title(language.English)

// DisplayName turns an identifier like auth_service into "Auth Service".
func DisplayName(identifier string) string {
	return titleCaser.String(strings.ReplaceAll(identifier, "_", " "))
}
