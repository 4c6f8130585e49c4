// Package service manages the proxy daemon's systemd unit: lifecycle
// actions, unit install and removal, status and log access. Both system and
// per-user units are supported.
package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"clashctl.sh/clashctl/internal/logging"
	"clashctl.sh/clashctl/internal/paths"
	"clashctl.sh/clashctl/internal/system"
)

// Target names one systemd unit.
type Target struct {
	Name string
	User bool
}

// NormalizeUnitName appends the .service suffix when the name has none.
func NormalizeUnitName(name string) string {
	if strings.HasSuffix(name, ".service") {
		return name
	}
	return name + ".service"
}

func systemctlArgs(user bool, args ...string) []string {
	if user {
		return append([]string{"--user"}, args...)
	}
	return args
}

// IsActive probes `systemctl is-active` for the unit.
func IsActive(r system.CommandRunner, name string, user bool) (bool, error) {
	if !system.CommandExists(r, "systemctl") {
		return false, fmt.Errorf("systemctl not found")
	}
	unit := NormalizeUnitName(name)
	return r.Check("systemctl", systemctlArgs(user, "is-active", "--quiet", unit)...), nil
}

// Restart restarts the unit.
func Restart(r system.CommandRunner, name string, user bool) error {
	return runAction(r, Target{Name: name, User: user}, "restart")
}

func runAction(r system.CommandRunner, t Target, action string) error {
	if !system.CommandExists(r, "systemctl") {
		return fmt.Errorf("systemctl not found; only systemd hosts are supported")
	}
	unit := NormalizeUnitName(t.Name)
	if err := r.Run("systemctl", systemctlArgs(t.User, action, unit)...); err != nil {
		return fmt.Errorf("systemctl %s %s: %w", action, unit, err)
	}
	return nil
}

// Manager executes unit operations against one resolved set of application
// paths.
type Manager struct {
	Runner system.CommandRunner
	Paths  paths.AppPaths
	Log    *logging.Logger
}

// NewManager builds a Manager wired to the real system.
func NewManager(p paths.AppPaths) *Manager {
	return &Manager{
		Runner: system.DefaultRunner,
		Paths:  p,
		Log:    logging.Default().WithComponent("service"),
	}
}

// Action runs one lifecycle verb (enable, disable, start, stop, restart)
// against the unit.
func (m *Manager) Action(t Target, action string) error {
	return runAction(m.Runner, t, action)
}

// Status returns the systemctl status text for the unit. systemctl exits
// non-zero for inactive units, so the text is returned alongside the error.
func (m *Manager) Status(t Target) (string, error) {
	unit := NormalizeUnitName(t.Name)
	out, err := m.Runner.Output("systemctl", systemctlArgs(t.User, "status", "--no-pager", unit)...)
	return string(out), err
}

// JournalOptions parameterize Journal.
type JournalOptions struct {
	Target
	Lines  int
	Follow bool
}

// Journal shows journal entries for the unit. Follow mode hands the terminal
// to journalctl directly so the stream is interactive.
func (m *Manager) Journal(opts JournalOptions) (string, error) {
	if !system.CommandExists(m.Runner, "journalctl") {
		return "", fmt.Errorf("journalctl not found")
	}
	unit := NormalizeUnitName(opts.Name)
	args := []string{}
	if opts.User {
		args = append(args, "--user", "--user-unit", unit)
	} else {
		args = append(args, "-u", unit)
	}
	args = append(args, "-n", strconv.Itoa(opts.Lines), "--no-pager")
	if opts.Follow {
		args = append(args, "-f")
		cmd := exec.Command("journalctl", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return "", cmd.Run()
	}
	out, err := m.Runner.Output("journalctl", args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// UnitPath resolves where the unit file lives for the target scope.
func UnitPath(t Target) (string, error) {
	unit := NormalizeUnitName(t.Name)
	if !t.User {
		return filepath.Join("/etc/systemd/system", unit), nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "systemd", "user", unit), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user", unit), nil
}
