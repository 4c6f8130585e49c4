// Package cmd implements the CLI subcommand handlers. Handlers do argument
// plumbing and rendering; the operational logic lives in the internal
// packages.
package cmd

import (
	"fmt"
	"runtime"

	"clashctl.sh/clashctl/internal/output"
	"clashctl.sh/clashctl/internal/paths"
	"clashctl.sh/clashctl/internal/system"
)

// ExitError carries an exit code for outcomes that were already reported to
// the user. main exits with Code without printing anything further.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ensureLinux rejects the kernel-state commands on other platforms.
func ensureLinux() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("this command manages Linux kernel state and only runs on Linux")
	}
	return nil
}

func resolvePaths() (paths.AppPaths, error) {
	return paths.Resolve(system.DefaultRunner)
}

// reportError renders a handler failure in the selected output mode and
// returns an ExitError so main exits non-zero without double printing.
func reportError(mode output.Mode, action string, err error) error {
	if mode.IsJSON() {
		_ = output.PrintJSON(map[string]interface{}{
			"ok":     false,
			"action": action,
			"error":  err.Error(),
		})
		return &ExitError{Code: 1}
	}
	return err
}
