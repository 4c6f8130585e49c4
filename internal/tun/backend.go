// Package tun reconciles the proxy daemon's TUN mode: it mutates the runtime
// configuration, applies or removes kernel NAT redirect rules through one of
// two firewall backends, persists the outcome, and re-derives live state for
// status and diagnostics.
package tun

import (
	"errors"
	"fmt"
	"sort"

	"clashctl.sh/clashctl/internal/system"
)

// Canonical rule-object names. Detection and teardown look for exactly these
// names, so rules applied by this tool stay distinguishable from unrelated
// system rules.
const (
	NFTTableName = "clashctl_tun"
	IPTChainName = "CLASHCTL_TUN"
)

// DefaultRedirPort is the redirect port written when the config has none.
const DefaultRedirPort uint16 = 7892

// Backend kind tags, as persisted in the state file.
const (
	BackendNft      = "nft"
	BackendIptables = "iptables"
	BackendNone     = "none"
)

// Local traffic that must never be redirected into the proxy.
var (
	privateIPv4 = []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"198.18.0.0/15",
		"224.0.0.0/4",
		"240.0.0.0/4",
	}
	privateIPv6 = []string{"::1/128", "fc00::/7", "fe80::/10", "ff00::/8"}
)

// Ports the proxy itself listens on; redirecting them would loop traffic
// back into the daemon.
var bypassBasePorts = []uint16{7890, 7891, 9090}

// Backend is one strategy for expressing the redirect rules.
type Backend interface {
	// Name returns the backend kind tag.
	Name() string
	// Apply renders and loads the redirect rules for redirPort, then
	// re-probes that they are live.
	Apply(redirPort uint16) error
	// Active probes, independent of any recorded state, whether this
	// backend's rules are currently present.
	Active() bool
	// Cleanup removes exactly what Apply created. A second Cleanup is a
	// no-op, not an error.
	Cleanup() error
}

// SelectBackend picks the preferred backend by tool availability: nft first,
// then iptables.
func SelectBackend(r system.CommandRunner) (Backend, error) {
	if system.CommandExists(r, "nft") {
		return &nftBackend{runner: r}, nil
	}
	if system.CommandExists(r, "iptables") {
		return &iptablesBackend{runner: r}, nil
	}
	return nil, errors.New("neither nft nor iptables found; cannot apply tun dataplane rules")
}

// BackendByKind returns the backend for a persisted kind tag, or nil for
// BackendNone and unknown tags.
func BackendByKind(r system.CommandRunner, kind string) Backend {
	switch kind {
	case BackendNft:
		return &nftBackend{runner: r}
	case BackendIptables:
		return &iptablesBackend{runner: r}
	}
	return nil
}

// DetectActive probes which backend's rules are live right now. It uses only
// lookup primitives so drift from out-of-band edits is observable.
func DetectActive(r system.CommandRunner) string {
	if (&nftBackend{runner: r}).Active() {
		return BackendNft
	}
	if (&iptablesBackend{runner: r}).Active() {
		return BackendIptables
	}
	return BackendNone
}

// Apply applies rules via the preferred backend and reports the backend that
// actually took effect. A failed nft apply falls back to iptables when the
// tool is present: nft being installed does not guarantee kernel support in
// every container or VM.
func Apply(r system.CommandRunner, preferred Backend, redirPort uint16) (string, error) {
	err := preferred.Apply(redirPort)
	if err == nil {
		return preferred.Name(), nil
	}
	if preferred.Name() == BackendNft && system.CommandExists(r, "iptables") {
		ipt := &iptablesBackend{runner: r}
		if iptErr := ipt.Apply(redirPort); iptErr != nil {
			return "", fmt.Errorf("iptables fallback after nft failure also failed: %w (nft error: %v)", iptErr, err)
		}
		return BackendIptables, nil
	}
	return "", err
}

// Cleanup removes the rules of the recorded backend kind. Unknown or none
// kinds are a no-op.
func Cleanup(r system.CommandRunner, kind string) error {
	backend := BackendByKind(r, kind)
	if backend == nil {
		return nil
	}
	return backend.Cleanup()
}

// CleanupAll tears down both backends for the case where no prior recorded
// backend is known. It fails only when every backend's cleanup failed:
// absence is the desired end state, so partial success is acceptable.
func CleanupAll(r system.CommandRunner) error {
	nftErr := (&nftBackend{runner: r}).Cleanup()
	iptErr := (&iptablesBackend{runner: r}).Cleanup()
	if nftErr != nil && iptErr != nil {
		return fmt.Errorf("cleaning up dataplane rules failed: nft: %v; iptables: %v", nftErr, iptErr)
	}
	return nil
}

func bypassPorts(redirPort uint16) []uint16 {
	ports := append([]uint16{}, bypassBasePorts...)
	ports = append(ports, redirPort)
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	out := ports[:1]
	for _, p := range ports[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}
