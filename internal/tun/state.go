package tun

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// State records the outcome of the most recent on or off operation. It is a
// historical record: status and cleanup always re-probe the live system
// instead of trusting these values.
type State struct {
	Enabled      bool
	ServiceName  string
	UserService  bool
	Backend      string
	RedirPort    uint16
	RulesApplied bool
	UpdatedAt    int64
}

// ReadState loads the state file at path. A missing file means no prior
// operation and returns (nil, nil).
func ReadState(path string) (*State, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading tun state %s: %w", path, err)
	}
	state, err := decodeState(string(content))
	if err != nil {
		return nil, fmt.Errorf("parsing tun state %s: %w", path, err)
	}
	return state, nil
}

// WriteState persists the state file, creating parent directories as needed.
func WriteState(path string, s *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(s.encode()), 0o644); err != nil {
		return fmt.Errorf("writing tun state %s: %w", path, err)
	}
	return nil
}

func (s *State) encode() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "enabled=%t\n", s.Enabled)
	fmt.Fprintf(&sb, "service_name=%s\n", s.ServiceName)
	fmt.Fprintf(&sb, "user_service=%t\n", s.UserService)
	fmt.Fprintf(&sb, "backend=%s\n", s.Backend)
	fmt.Fprintf(&sb, "redir_port=%d\n", s.RedirPort)
	fmt.Fprintf(&sb, "rules_applied=%t\n", s.RulesApplied)
	fmt.Fprintf(&sb, "updated_at=%d\n", s.UpdatedAt)
	return sb.String()
}

func decodeState(content string) (*State, error) {
	fields := map[string]string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	state := &State{
		Backend:   BackendNone,
		RedirPort: DefaultRedirPort,
	}
	var err error
	if state.Enabled, err = requiredBool(fields, "enabled"); err != nil {
		return nil, err
	}
	name, ok := fields["service_name"]
	if !ok {
		return nil, fmt.Errorf("missing field service_name")
	}
	state.ServiceName = name
	if state.UserService, err = requiredBool(fields, "user_service"); err != nil {
		return nil, err
	}
	updated, ok := fields["updated_at"]
	if !ok {
		return nil, fmt.Errorf("missing field updated_at")
	}
	if state.UpdatedAt, err = strconv.ParseInt(updated, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid updated_at %q", updated)
	}
	if backend, ok := fields["backend"]; ok {
		switch backend {
		case BackendNft, BackendIptables:
			state.Backend = backend
		default:
			state.Backend = BackendNone
		}
	}
	if port, ok := fields["redir_port"]; ok {
		parsed, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid redir_port %q", port)
		}
		state.RedirPort = uint16(parsed)
	}
	if applied, ok := fields["rules_applied"]; ok {
		state.RulesApplied = applied == "true"
	}
	return state, nil
}

func requiredBool(fields map[string]string, key string) (bool, error) {
	value, ok := fields[key]
	if !ok {
		return false, fmt.Errorf("missing field %s", key)
	}
	switch value {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s value %q", key, value)
}
