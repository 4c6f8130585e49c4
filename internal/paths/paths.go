// Package paths resolves the on-disk layout of the tool's configuration
// home and the files the commands share.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"clashctl.sh/clashctl/internal/brand"
	"clashctl.sh/clashctl/internal/system"
)

// AppPaths holds every well-known path derived from the config home.
type AppPaths struct {
	ConfigDir         string
	ProxyStateFile    string
	ProxyEnvFile      string
	CoreDir           string
	CoreCurrentLink   string
	RuntimeDir        string
	RuntimeConfigFile string
	TunStateFile      string
}

// Resolve determines the config home and derives all well-known paths.
// Precedence: the CLASHCTL_HOME override, then /etc/clashctl when running
// as root (service deployments keep a single system-wide config source),
// then XDG_CONFIG_HOME, then ~/.config.
func Resolve(runner system.CommandRunner) (AppPaths, error) {
	configDir, err := configHome(runner)
	if err != nil {
		return AppPaths{}, err
	}
	return FromConfigDir(configDir), nil
}

// FromConfigDir derives all well-known paths from an explicit config home.
func FromConfigDir(configDir string) AppPaths {
	coreDir := filepath.Join(configDir, "core")
	runtimeDir := filepath.Join(configDir, "runtime")
	return AppPaths{
		ConfigDir:         configDir,
		ProxyStateFile:    filepath.Join(configDir, "proxy.state"),
		ProxyEnvFile:      filepath.Join(configDir, "proxy.env"),
		CoreDir:           coreDir,
		CoreCurrentLink:   filepath.Join(coreDir, "mihomo"),
		RuntimeDir:        runtimeDir,
		RuntimeConfigFile: filepath.Join(runtimeDir, "config.yaml"),
		TunStateFile:      filepath.Join(runtimeDir, "tun.state"),
	}
}

func configHome(runner system.CommandRunner) (string, error) {
	if custom := os.Getenv(brand.EnvVar("HOME")); custom != "" {
		return custom, nil
	}
	if IsRoot(runner) {
		return brand.DefaultSystemConfigDir, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, brand.ConfigDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", brand.ConfigDirName), nil
}

// IsRoot reports whether the effective user is root, probed through `id -u`
// so it shares the process boundary with the rest of the tool.
func IsRoot(runner system.CommandRunner) bool {
	out, err := runner.Output("id", "-u")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "0"
}
