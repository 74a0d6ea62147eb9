package output

import (
	"os"

	"github.com/fatih/color"
)

var (
	// Outcome colors
	Updated  = color.New(color.FgGreen)
	UpToDate = color.New(color.FgCyan)
	Skipped  = color.New(color.Faint)
	Failed   = color.New(color.FgRed)
	Stale    = color.New(color.FgYellow)

	// Message colors
	Success = color.New(color.FgGreen)
	Warning = color.New(color.FgYellow)
	Error   = color.New(color.FgRed)
	Info    = color.New(color.FgCyan)
	Dim     = color.New(color.Faint)

	// Structural colors
	Header = color.New(color.FgWhite, color.Bold)
	App    = color.New(color.FgBlue, color.Bold)
)

// NoColor disables color output
func NoColor() {
	color.NoColor = true
}

// ForceColor enables color output even when not a TTY
func ForceColor() {
	color.NoColor = false
}

// IsTerminal returns true if stderr is a terminal
func IsTerminal() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// OutcomeColor returns the color for an update outcome such as "updated" or "hash-failed"
func OutcomeColor(outcome string) *color.Color {
	switch outcome {
	case "updated", "hash-refreshed":
		return Updated
	case "up-to-date":
		return UpToDate
	case "skipped":
		return Skipped
	case "check-failed":
		return Stale
	case "download-failed", "hash-failed", "parse-failed", "write-failed":
		return Failed
	default:
		return color.New(color.Reset)
	}
}

// FormatOutcome formats an outcome with its color, padded to a fixed width
func FormatOutcome(outcome string) string {
	return OutcomeColor(outcome).Sprintf("%-15s", outcome)
}

// FormatApp formats an app name with color
func FormatApp(name string) string {
	return App.Sprint(name)
}

// PrintSuccess prints a success message
func PrintSuccess(format string, args ...interface{}) {
	Success.Printf("✓ "+format+"\n", args...)
}

// PrintError prints an error message
func PrintError(format string, args ...interface{}) {
	Error.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}
