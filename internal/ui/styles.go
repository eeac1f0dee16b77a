package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette.
var (
	ColorSuccess   = lipgloss.Color("#00D26A") // green: consumed, success
	ColorWarning   = lipgloss.Color("#FFB800") // yellow: pending, warning
	ColorError     = lipgloss.Color("#FF4444") // red: rejected, danger
	ColorAddress   = lipgloss.Color("#00B4D8") // cyan: addresses, hashes
	ColorValue     = lipgloss.Color("#FFFFFF") // white bold: amounts
	ColorMeta      = lipgloss.Color("#555555") // dim gray: hints, metadata
	ColorBorder    = lipgloss.Color("#1E3A5F") // dark blue: UI chrome
	ColorChain     = lipgloss.Color("#9B5DE5") // purple: network names
	ColorHighlight = lipgloss.Color("#F15BB5") // pink: selected rows
	ColorInfo      = lipgloss.Color("#4EA8DE") // light blue: info lines
)

// Base styles.
var (
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	StyleAddress = lipgloss.NewStyle().Foreground(ColorAddress)
	StyleValue   = lipgloss.NewStyle().Foreground(ColorValue).Bold(true)
	StyleMeta    = lipgloss.NewStyle().Foreground(ColorMeta)
	StyleChain   = lipgloss.NewStyle().Foreground(ColorChain).Bold(true)
	StyleInfo    = lipgloss.NewStyle().Foreground(ColorInfo)

	StyleBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	StyleHeader = lipgloss.NewStyle().
			Foreground(ColorHighlight).
			Bold(true).
			Underline(true)

	StyleSelected = lipgloss.NewStyle().
			Background(ColorHighlight).
			Foreground(lipgloss.Color("#000000")).
			Bold(true)

	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorChain).
			Bold(true).
			MarginBottom(1)

	StyleDim = lipgloss.NewStyle().Foreground(ColorMeta)

	StyleDanger = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(ColorError).
			Padding(0, 1)
)

// Banner returns the w3permit banner for version.
func Banner(version string) string {
	art := `
  ┬ ┬┌─┐┌─┐┌─┐┬─┐┌┬┐┬┌┬┐
  │││ ─┤├─┘├┤ ├┬┘│││││ │
  └┴┘└─┘┴  └─┘┴└─┴ ┴┴ ┴ `

	tagline := StyleMeta.Render("  EIP-2612 permits, signed and checked  v" + version)
	return StyleChain.Render(art) + "\n" + tagline + "\n"
}

// DangerBox frames secrets such as freshly generated private keys.
func DangerBox(content string) string { return StyleDanger.Render(content) }

// Success formats a success message.
func Success(msg string) string { return StyleSuccess.Render("✓ " + msg) }

// Warn formats a warning message.
func Warn(msg string) string { return StyleWarning.Render("⚠ " + msg) }

// Err formats an error message.
func Err(msg string) string { return StyleError.Render("✗ " + msg) }

// Info formats a neutral progress line.
func Info(msg string) string { return StyleInfo.Render("ℹ " + msg) }

// Hint formats a follow-up suggestion.
func Hint(msg string) string { return StyleMeta.Render("💡 " + msg) }

// Addr formats an address or hash.
func Addr(a string) string { return StyleAddress.Render(a) }

// Val formats a value.
func Val(v string) string { return StyleValue.Render(v) }

// Meta formats metadata text.
func Meta(m string) string { return StyleMeta.Render(m) }

// ChainName formats a network name.
func ChainName(c string) string { return StyleChain.Render(c) }

// State colours a permit state: consumed green, rejected red, anything else yellow.
func State(s string) string {
	switch strings.ToLower(s) {
	case "consumed", "ok", "match":
		return StyleSuccess.Render(s)
	case "rejected", "mismatch":
		return StyleError.Render(s)
	default:
		return StyleWarning.Render(s)
	}
}

// Check renders a pass/fail mark followed by label.
func Check(ok bool, label string) string {
	if ok {
		return Success(label)
	}
	return Err(label)
}

// TruncateAddr shortens an address for display: 0x1234…5678.
func TruncateAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
