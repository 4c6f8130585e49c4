package privilege

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-isatty"

	"clashctl.sh/clashctl/internal/brand"
	"clashctl.sh/clashctl/internal/output"
	"clashctl.sh/clashctl/internal/system"
)

// Status is the outcome of a combined privilege check and delegation
// attempt.
type Status int

const (
	// Granted means the current process may proceed itself.
	Granted Status = iota
	// Delegated means the work already ran in a sudo child; the caller
	// must exit with the child's code instead of proceeding.
	Delegated
)

// DelegateOptions control EnsureOrDelegate.
type DelegateOptions struct {
	Mode output.Mode
	// Args is the subcommand argv to forward verbatim on re-exec,
	// e.g. ["tun", "on", "--name", "clash-mihomo"].
	Args []string
	// Lenient proceeds unprivileged instead of failing when delegation
	// is unavailable. Diagnostics use this so missing capabilities show
	// up as findings rather than aborting the run.
	Lenient bool
}

// EnsureOrDelegate checks privileges and, when insufficient, transparently
// re-executes the same command line under sudo if the session allows it.
// On Delegated the returned int is the child's exit code.
func EnsureOrDelegate(runner system.CommandRunner, insp system.Inspector, opts DelegateOptions) (Status, int, error) {
	ensureErr := Ensure(runner, insp)
	if ensureErr == nil {
		return Granted, 0, nil
	}
	if !shouldDelegate(opts.Mode, runner) {
		if opts.Lenient {
			return Granted, 0, nil
		}
		return Granted, 0, ensureErr
	}
	if !opts.Mode.IsJSON() {
		fmt.Fprintf(os.Stderr, "Insufficient privileges; re-running `%s %s` under sudo ...\n",
			brand.BinaryName, strings.Join(opts.Args, " "))
	}
	code, err := delegate(opts)
	if err != nil {
		return Granted, 0, fmt.Errorf("delegating to sudo: %w", err)
	}
	return Delegated, code, nil
}

// shouldDelegate gates the sudo hand-off: only for interactive terminal
// sessions, in text mode, when sudo exists, and never recursively.
func shouldDelegate(mode output.Mode, runner system.CommandRunner) bool {
	if mode.IsJSON() {
		return false
	}
	if os.Getenv(brand.EnvVar("NO_AUTO_SUDO")) != "" {
		return false
	}
	if os.Getenv(brand.EnvVar("SUDO_REEXEC")) == "1" {
		return false
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) || !isatty.IsTerminal(os.Stderr.Fd()) {
		return false
	}
	return system.CommandExists(runner, "sudo")
}

// delegate runs the re-exec with inherited stdio so sudo can prompt for a
// password. The runner abstraction is bypassed on purpose: it captures
// output, which would break the interactive prompt.
func delegate(opts DelegateOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolving current executable: %w", err)
	}
	args := []string{"env", brand.EnvVar("SUDO_REEXEC") + "=1"}
	if home := os.Getenv(brand.EnvVar("HOME")); home != "" {
		args = append(args, brand.EnvVar("HOME")+"="+home)
	}
	args = append(args, exe)
	if opts.Mode.IsJSON() {
		args = append(args, "--json")
	}
	args = append(args, opts.Args...)

	cmd := exec.Command("sudo", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err = cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
