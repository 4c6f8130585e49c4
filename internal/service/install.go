package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"clashctl.sh/clashctl/internal/brand"
)

// InstallOptions parameterize Install.
type InstallOptions struct {
	Target
	// Binary is the daemon executable; empty means resolve mihomo from
	// the managed core link, then PATH.
	Binary string
	// Config and Workdir default to the resolved runtime paths.
	Config   string
	Workdir  string
	Force    bool
	NoEnable bool
	NoStart  bool
}

// InstallResult reports what Install did.
type InstallResult struct {
	Unit            string
	UnitPath        string
	Binary          string
	Config          string
	Workdir         string
	Enabled         bool
	Started         bool
	TemplateCreated bool
}

// Install writes the unit file, reloads the daemon, and optionally enables
// and starts the unit. An existing unit file is only replaced with Force.
// When no config exists yet a template is generated and the unit is left
// stopped so the operator can edit it first.
func (m *Manager) Install(opts InstallOptions) (*InstallResult, error) {
	unitPath, err := UnitPath(opts.Target)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(unitPath); err == nil && !opts.Force {
		return nil, fmt.Errorf("unit file %s already exists; use --force to overwrite", unitPath)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("checking unit file: %w", err)
	}

	binary, err := m.resolveBinary(opts.Binary)
	if err != nil {
		return nil, err
	}
	configPath := opts.Config
	if configPath == "" {
		configPath = m.Paths.RuntimeConfigFile
	}
	workdir := opts.Workdir
	if workdir == "" {
		workdir = m.Paths.RuntimeDir
	}

	unitName := NormalizeUnitName(opts.Name)
	result := &InstallResult{
		Unit:     unitName,
		UnitPath: unitPath,
		Binary:   binary,
		Config:   configPath,
		Workdir:  workdir,
	}

	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workdir %s: %w", workdir, err)
	}
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(defaultRuntimeConfig), 0o644); err != nil {
			return nil, fmt.Errorf("writing template config %s: %w", configPath, err)
		}
		result.TemplateCreated = true
	} else if err != nil {
		return nil, fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating unit directory: %w", err)
	}
	content := unitContent(binary, configPath, workdir, opts.User, unitName)
	if err := os.WriteFile(unitPath, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("writing unit file %s: %w", unitPath, err)
	}

	if err := m.Runner.Run("systemctl", systemctlArgs(opts.User, "daemon-reload")...); err != nil {
		return nil, fmt.Errorf("systemctl daemon-reload: %w", err)
	}
	if !opts.NoEnable {
		if err := m.Action(opts.Target, "enable"); err != nil {
			return nil, err
		}
		result.Enabled = true
	}
	// A fresh template is not startable configuration; leave the unit
	// stopped until the operator fills it in.
	if !opts.NoStart && !result.TemplateCreated {
		if err := m.Action(opts.Target, "start"); err != nil {
			return nil, err
		}
		result.Started = true
	}
	return result, nil
}

// UninstallOptions parameterize Uninstall.
type UninstallOptions struct {
	Target
	// Purge also removes the runtime directory.
	Purge bool
}

// UninstallResult reports what Uninstall did.
type UninstallResult struct {
	Unit          string
	UnitPath      string
	UnitDeleted   bool
	RuntimePurged bool
}

// Uninstall stops and disables the unit best-effort, removes the unit file,
// and reloads the daemon.
func (m *Manager) Uninstall(opts UninstallOptions) (*UninstallResult, error) {
	unitPath, err := UnitPath(opts.Target)
	if err != nil {
		return nil, err
	}
	result := &UninstallResult{Unit: NormalizeUnitName(opts.Name), UnitPath: unitPath}

	// The unit may already be stopped or disabled.
	if err := m.Action(opts.Target, "stop"); err != nil {
		m.Log.Debug("stop during uninstall failed", "error", err)
	}
	if err := m.Action(opts.Target, "disable"); err != nil {
		m.Log.Debug("disable during uninstall failed", "error", err)
	}

	if err := os.Remove(unitPath); err == nil {
		result.UnitDeleted = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing unit file %s: %w", unitPath, err)
	}
	if err := m.Runner.Run("systemctl", systemctlArgs(opts.User, "daemon-reload")...); err != nil {
		return nil, fmt.Errorf("systemctl daemon-reload: %w", err)
	}

	if opts.Purge {
		if err := os.RemoveAll(m.Paths.RuntimeDir); err != nil {
			return nil, fmt.Errorf("purging runtime dir %s: %w", m.Paths.RuntimeDir, err)
		}
		result.RuntimePurged = true
	}
	return result, nil
}

func (m *Manager) resolveBinary(explicit string) (string, error) {
	candidate := explicit
	if candidate == "" {
		candidate = m.Paths.CoreCurrentLink
		if _, err := os.Stat(candidate); err != nil {
			if path, whichErr := m.Runner.Output("which", "mihomo"); whichErr == nil {
				if trimmed := strings.TrimSpace(string(path)); trimmed != "" {
					candidate = trimmed
				}
			}
		}
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving binary path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("daemon binary %s not found; pass --binary or install one under %s", abs, m.Paths.CoreDir)
	}
	return abs, nil
}

// unitContent renders the systemd unit. The ambient capability grant lets
// the daemon open TUN devices and raw sockets without running as full root.
func unitContent(binary, configPath, workdir string, user bool, unitName string) string {
	wantedBy := "multi-user.target"
	if user {
		wantedBy = "default.target"
	}
	return fmt.Sprintf(`[Unit]
Description=%s managed %s
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory=%s
ExecStart=%s -d %s -f %s
Restart=on-failure
RestartSec=3
LimitNOFILE=1048576
AmbientCapabilities=CAP_NET_ADMIN CAP_NET_RAW
CapabilityBoundingSet=CAP_NET_ADMIN CAP_NET_RAW
NoNewPrivileges=true

[Install]
WantedBy=%s
`, brand.BinaryName, unitName, workdir, binary, workdir, configPath, wantedBy)
}

// defaultRuntimeConfig is the template written when no runtime config exists
// at install time.
const defaultRuntimeConfig = `mixed-port: 7890
allow-lan: false
mode: rule
log-level: info
external-controller: 127.0.0.1:9090
secret: ""
dns:
  enable: true
  enhanced-mode: fake-ip
`
