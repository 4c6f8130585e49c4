// Package proxyenv manages shell proxy environment state: a small record of
// the active proxy endpoints plus a generated export script that shells can
// source.
package proxyenv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"clashctl.sh/clashctl/internal/config"
	"clashctl.sh/clashctl/internal/paths"
)

// Defaults used when neither flags nor the runtime config provide a value.
const (
	DefaultHost      = "127.0.0.1"
	DefaultHTTPPort  = 7890
	DefaultSocksPort = 7891
	DefaultNoProxy   = "localhost,127.0.0.1,::1"
)

// State is the active proxy endpoint record persisted between start and
// stop.
type State struct {
	Host      string
	HTTPPort  uint16
	SocksPort uint16
	NoProxy   string
}

// ErrNotStarted means no proxy state file exists.
var ErrNotStarted = errors.New("proxy environment not started")

// ReadState loads the persisted proxy state.
func ReadState(path string) (*State, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotStarted
		}
		return nil, fmt.Errorf("reading proxy state %s: %w", path, err)
	}
	state, err := decodeState(string(content))
	if err != nil {
		return nil, fmt.Errorf("parsing proxy state %s: %w", path, err)
	}
	return state, nil
}

// WriteState persists the state and regenerates the export script beside it.
func WriteState(p paths.AppPaths, s *State) error {
	if err := os.MkdirAll(filepath.Dir(p.ProxyStateFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(p.ProxyStateFile, []byte(s.encode()), 0o644); err != nil {
		return fmt.Errorf("writing proxy state: %w", err)
	}
	if err := os.WriteFile(p.ProxyEnvFile, []byte(s.ExportScript()), 0o644); err != nil {
		return fmt.Errorf("writing proxy env script: %w", err)
	}
	return nil
}

// Clear removes the state and env files. Missing files are fine.
func Clear(p paths.AppPaths) error {
	for _, path := range []string{p.ProxyStateFile, p.ProxyEnvFile} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}

func (s *State) encode() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "host=%s\n", s.Host)
	fmt.Fprintf(&sb, "http_port=%d\n", s.HTTPPort)
	fmt.Fprintf(&sb, "socks_port=%d\n", s.SocksPort)
	fmt.Fprintf(&sb, "no_proxy=%s\n", s.NoProxy)
	return sb.String()
}

func decodeState(content string) (*State, error) {
	fields := map[string]string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	state := &State{}
	var ok bool
	if state.Host, ok = fields["host"]; !ok {
		return nil, fmt.Errorf("missing field host")
	}
	var err error
	if state.HTTPPort, err = requiredPort(fields, "http_port"); err != nil {
		return nil, err
	}
	if state.SocksPort, err = requiredPort(fields, "socks_port"); err != nil {
		return nil, err
	}
	if state.NoProxy, ok = fields["no_proxy"]; !ok {
		state.NoProxy = DefaultNoProxy
	}
	return state, nil
}

func requiredPort(fields map[string]string, key string) (uint16, error) {
	value, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("missing field %s", key)
	}
	parsed, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", key, value)
	}
	return uint16(parsed), nil
}

// ExportScript renders the shell fragment that sets the proxy variables in
// both lowercase and uppercase forms.
func (s *State) ExportScript() string {
	httpURL := fmt.Sprintf("http://%s:%d", s.Host, s.HTTPPort)
	socksURL := fmt.Sprintf("socks5h://%s:%d", s.Host, s.SocksPort)
	var sb strings.Builder
	fmt.Fprintf(&sb, "export http_proxy=%q\n", httpURL)
	fmt.Fprintf(&sb, "export https_proxy=%q\n", httpURL)
	fmt.Fprintf(&sb, "export all_proxy=%q\n", socksURL)
	fmt.Fprintf(&sb, "export HTTP_PROXY=%q\n", httpURL)
	fmt.Fprintf(&sb, "export HTTPS_PROXY=%q\n", httpURL)
	fmt.Fprintf(&sb, "export ALL_PROXY=%q\n", socksURL)
	fmt.Fprintf(&sb, "export no_proxy=%q\n", s.NoProxy)
	fmt.Fprintf(&sb, "export NO_PROXY=%q\n", s.NoProxy)
	return sb.String()
}

// UnsetScript renders the shell fragment that removes every variable the
// export script sets.
func UnsetScript() string {
	return "unset http_proxy https_proxy all_proxy HTTP_PROXY HTTPS_PROXY ALL_PROXY no_proxy NO_PROXY\n"
}

// RuntimeDefaults are endpoint hints read from the daemon's runtime config.
type RuntimeDefaults struct {
	Host      string
	MixedPort *uint16
	HTTPPort  *uint16
	SocksPort *uint16
}

// LoadRuntimeDefaults best-effort reads listener settings from the runtime
// config. Any read or parse problem yields empty defaults.
func LoadRuntimeDefaults(configPath string) RuntimeDefaults {
	defaults := RuntimeDefaults{}
	doc, err := config.Load(configPath)
	if err != nil {
		return defaults
	}
	if host, ok := doc.String("bind-address"); ok {
		defaults.Host = normalizeHost(host)
	}
	defaults.MixedPort = portField(doc, "mixed-port")
	defaults.HTTPPort = portField(doc, "port")
	defaults.SocksPort = portField(doc, "socks-port")
	return defaults
}

func portField(doc *config.Document, path ...string) *uint16 {
	if v, ok := doc.Uint16(path...); ok && v != 0 {
		return &v
	}
	return nil
}

// normalizeHost maps wildcard bind addresses to a loopback endpoint clients
// can actually connect to.
func normalizeHost(host string) string {
	switch host {
	case "", "0.0.0.0", "::", "*":
		return DefaultHost
	}
	return host
}

// Resolve merges explicit values with runtime config hints and the built-in
// defaults. Explicit values win; the mixed listener serves as fallback for
// both protocols.
func Resolve(host string, httpPort, socksPort uint16, noProxy string, d RuntimeDefaults) State {
	state := State{
		Host:      DefaultHost,
		HTTPPort:  DefaultHTTPPort,
		SocksPort: DefaultSocksPort,
		NoProxy:   DefaultNoProxy,
	}
	if d.Host != "" {
		state.Host = d.Host
	}
	if host != "" {
		state.Host = normalizeHost(host)
	}
	switch {
	case httpPort != 0:
		state.HTTPPort = httpPort
	case d.HTTPPort != nil:
		state.HTTPPort = *d.HTTPPort
	case d.MixedPort != nil:
		state.HTTPPort = *d.MixedPort
	}
	switch {
	case socksPort != 0:
		state.SocksPort = socksPort
	case d.SocksPort != nil:
		state.SocksPort = *d.SocksPort
	case d.MixedPort != nil:
		state.SocksPort = *d.MixedPort
	}
	if noProxy != "" {
		state.NoProxy = noProxy
	}
	return state
}
