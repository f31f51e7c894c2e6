// Package ui renders terminal output for the command line.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#A6E3A1"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#F9E2AF"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#F38BA8"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#89B4FA"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#6C7086"}

	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// Init picks the color profile for f. Output that is not a terminal, or a
// set NO_COLOR, gets plain ASCII.
func Init(f *os.File) {
	if !term.IsTerminal(int(f.Fd())) {
		DisableColor()
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(f).EnvColorProfile())
}

// DisableColor forces plain output.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// Width returns the terminal width of f, or 80.
func Width(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }

// RenderSwatch colors s with a #rrggbb value. An empty color leaves s plain.
func RenderSwatch(color, s string) string {
	if color == "" {
		return s
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(s)
}
