// Package printer writes colored CLI output for the bingo command.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/fatih/color"
)

func init() {
	// Keep colors when piped; NO_COLOR still disables them.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetOutput redirects printer output. Commands call it with the cobra
// writers so tests can capture what a command prints.
func SetOutput(out, errOut io.Writer) {
	if out != nil {
		stdout = out
	}
	if errOut != nil {
		stderr = errOut
	}
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(stdout, msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(stdout, format, a...)
}

// Warning prints a warning message in yellow
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(stderr, msg)
}

// Step prints a progress line for multi-step operations such as serve startup
func Step(format string, a ...any) {
	cyan.Fprintf(stdout, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints title, explanation and suggestions to stderr and returns an
// error carrying only the title, since cobra's own error output is silenced.
func Error(title string, explanation string, suggestions []string) error {
	red.Fprintf(stderr, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(stderr, "%s\n", explanation)
	}
	printSuggestions(suggestions)
	return fmt.Errorf("%s", title)
}

// ErrorWithContext is Error plus key/value details, printed in the order given.
func ErrorWithContext(title string, explanation string, details [][2]string, suggestions []string) error {
	red.Fprintf(stderr, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(stderr, "%s\n", explanation)
	}
	if len(details) > 0 {
		fmt.Fprintln(stderr)
		for _, kv := range details {
			fmt.Fprintf(stderr, "  %s: %s\n", kv[0], kv[1])
		}
	}
	printSuggestions(suggestions)
	return fmt.Errorf("%s", title)
}

func printSuggestions(suggestions []string) {
	switch len(suggestions) {
	case 0:
		return
	case 1:
		fmt.Fprintf(stderr, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(stderr, "\nEither:\n")
		for i, suggestion := range suggestions {
			fmt.Fprintf(stderr, "  %d. %s\n", i+1, suggestion)
		}
	}
}

// Status renders an experiment status, green when live and yellow when retired.
func Status(s ledger.Status) string {
	switch s {
	case ledger.StatusLive:
		return green.Sprint(string(s))
	case ledger.StatusRetired:
		return yellow.Sprint(string(s))
	default:
		return string(s)
	}
}
