// Package ui holds the terminal palette used by the cadenza CLI.
//
// [Palette] wraps a handful of named [lipgloss.Style] values (title, ok, err, warn, help) and
// renders status lines and simple column tables with them. Output degrades to plain text when the
// terminal has no colour support, which lipgloss detects on its own.
package ui
