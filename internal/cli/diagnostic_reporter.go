package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	werrors "github.com/toyz/waypoint/internal/errors"
)

// DiagnosticReporter renders build and startup failures for humans.
type DiagnosticReporter struct {
	out     io.Writer
	verbose bool
}

func NewDiagnosticReporter(out io.Writer, verbose bool) *DiagnosticReporter {
	return &DiagnosticReporter{out: out, verbose: verbose}
}

// ReportWarning prints a one-line warning.
func (r *DiagnosticReporter) ReportWarning(message string) {
	color.New(color.FgYellow, color.Bold).Fprint(r.out, "! ")
	fmt.Fprintf(r.out, "%s\n", message)
}

// ReportError prints err with its code, location, context and hints when
// it carries them.
func (r *DiagnosticReporter) ReportError(err error) {
	color.New(color.FgRed, color.Bold).Fprintf(r.out, "\nERROR: %s\n", headline(err))
	fmt.Fprintf(r.out, "%s\n\n", strings.Repeat("=", len(headline(err))+7))

	var we werrors.WaypointError
	if !errors.As(err, &we) {
		fmt.Fprintf(r.out, "Message: %s\n\n", err.Error())
		return
	}

	fmt.Fprintf(r.out, "Type: %s\n", we.ErrorCode())
	fmt.Fprintf(r.out, "Message: %s\n\n", we.Error())

	if loc := we.Location(); !loc.IsEmpty() {
		fmt.Fprintf(r.out, "Location: %s\n\n", loc)
	}
	if ctx := we.Context(); len(ctx) > 0 {
		r.printContext(ctx)
	}
	if hints := we.Suggestions(); len(hints) > 0 {
		r.printSuggestions(hints)
	}
	if r.verbose {
		r.printChain(err)
	}
}

func headline(err error) string {
	var we werrors.WaypointError
	switch {
	case werrors.HasCode(err, werrors.ConfigurationErrorCode):
		return "Invalid Configuration"
	case errors.As(err, &we):
		return "Build Failed"
	}
	return "Startup Failed"
}

// printContext prints well-known keys first, then the rest sorted.
func (r *DiagnosticReporter) printContext(ctx map[string]interface{}) {
	fmt.Fprintf(r.out, "Context:\n")

	important := []string{"key", "controller", "action", "method", "path", "parameter", "schema"}
	printed := make(map[string]bool)
	for _, key := range important {
		if value, ok := ctx[key]; ok {
			fmt.Fprintf(r.out, "   %s: %v\n", formatContextKey(key), value)
			printed[key] = true
		}
	}

	rest := make([]string, 0, len(ctx))
	for key := range ctx {
		if !printed[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		fmt.Fprintf(r.out, "   %s: %v\n", formatContextKey(key), ctx[key])
	}
	fmt.Fprintf(r.out, "\n")
}

// formatContextKey turns snake_case keys into Title Case.
func formatContextKey(key string) string {
	parts := strings.Split(key, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, " ")
}

func (r *DiagnosticReporter) printSuggestions(suggestions []string) {
	fmt.Fprintf(r.out, "Suggestions:\n")
	for i, suggestion := range suggestions {
		lines := strings.Split(suggestion, "\n")
		fmt.Fprintf(r.out, "   %d. %s\n", i+1, lines[0])
		for _, line := range lines[1:] {
			if strings.TrimSpace(line) != "" {
				fmt.Fprintf(r.out, "      %s\n", line)
			}
		}
	}
	fmt.Fprintf(r.out, "\n")
}

func (r *DiagnosticReporter) printChain(err error) {
	fmt.Fprintf(r.out, "Error Chain:\n")
	for level := 1; err != nil; level++ {
		fmt.Fprintf(r.out, "   %d. %s\n", level, err.Error())
		err = errors.Unwrap(err)
	}
	fmt.Fprintf(r.out, "\n")
}
