// Package output models the CLI output mode. The mode is an explicit value
// threaded through command handlers rather than process-global state, so the
// reconciliation core stays free of formatting concerns.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Mode selects between human-readable text and machine-readable JSON.
type Mode int

const (
	// Text prints human-readable output.
	Text Mode = iota
	// JSON prints a single JSON document per command.
	JSON
)

// IsJSON reports whether the mode is JSON.
func (m Mode) IsJSON() bool {
	return m == JSON
}

// PrintJSON writes v as indented JSON to stdout.
func PrintJSON(v any) error {
	return FprintJSON(os.Stdout, v)
}

// FprintJSON writes v as indented JSON to w.
func FprintJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// PrintError renders a top-level command error in the requested mode. JSON
// mode prints to stdout so callers piping the command can still parse the
// failure; text mode goes to stderr.
func PrintError(mode Mode, err error) {
	if mode.IsJSON() {
		FprintError(os.Stdout, mode, err)
		return
	}
	FprintError(os.Stderr, mode, err)
}

// FprintError renders a top-level command error to w.
func FprintError(w io.Writer, mode Mode, err error) {
	if mode.IsJSON() {
		_ = FprintJSON(w, map[string]any{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
