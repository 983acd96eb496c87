// Package ui renders user-facing terminal output: colored status tags,
// warnings on stderr and the backup progress line.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

var (
	writer io.Writer = os.Stderr

	stdoutColor = isColorTerminal(os.Stdout)
	stderrColor = isColorTerminal(os.Stderr)
)

// SetWriter redirects messages. nil restores stderr.
func SetWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	writer = w
}

// isColorTerminal honors NO_COLOR and only colors real terminals.
func isColorTerminal(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// SetColorEnabled forces color on or off for both streams.
func SetColorEnabled(enabled bool) {
	stdoutColor = enabled
	stderrColor = enabled
}

// ColorEnabled reports whether stdout is colored.
func ColorEnabled() bool { return stdoutColor }

func paint(enabled bool, code, s string) string {
	if !enabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold, Dim and the color helpers style text for stdout.
func Bold(s string) string   { return paint(stdoutColor, "1", s) }
func Dim(s string) string    { return paint(stdoutColor, "2", s) }
func Green(s string) string  { return paint(stdoutColor, "32", s) }
func Red(s string) string    { return paint(stdoutColor, "31", s) }
func Yellow(s string) string { return paint(stdoutColor, "33", s) }
func Cyan(s string) string   { return paint(stdoutColor, "36", s) }

// Section prints an underlined heading to stdout.
func Section(title string) {
	fmt.Println(Bold(title))
	fmt.Println(Dim(strings.Repeat("─", len([]rune(title)))))
}

// Field prints an aligned "label: value" line to stdout.
func Field(label string, value any) {
	fmt.Printf("  %-14s %v\n", label+":", value)
}

func OKTag() string   { return Green("✓") }
func FailTag() string { return Red("✗") }
func WarnTag() string { return Yellow("⚠") }
func InfoTag() string { return Cyan("ℹ") }

func prefixed(code, prefix, msg string) {
	fmt.Fprintf(writer, "%s %s\n", paint(stderrColor, code, prefix), msg)
}

// Warn prints a warning to stderr.
func Warn(msg string) { prefixed("33", "Warning:", msg) }

// Warnf is Warn with formatting.
func Warnf(format string, args ...any) { Warn(fmt.Sprintf(format, args...)) }

// Error prints an error to stderr.
func Error(msg string) { prefixed("31", "Error:", msg) }

// Errorf is Error with formatting.
func Errorf(format string, args ...any) { Error(fmt.Sprintf(format, args...)) }

// Info prints a plain line to stderr.
func Info(msg string) { fmt.Fprintln(writer, msg) }

// Infof is Info with formatting.
func Infof(format string, args ...any) { fmt.Fprintf(writer, format+"\n", args...) }
