package tun

import (
	"errors"
	"fmt"
	"strconv"

	"clashctl.sh/clashctl/internal/system"
)

// maxDuplicateJumps bounds the probe-then-delete loop that removes jump
// rules. Repeated applies can stack identical jumps; the bound keeps a probe
// that never converges from looping forever.
const maxDuplicateJumps = 8

// iptablesBackend expresses the redirect rules as a dedicated chain in the
// nat table of iptables and, when present, ip6tables.
type iptablesBackend struct {
	runner system.CommandRunner
}

func (b *iptablesBackend) Name() string { return BackendIptables }

func (b *iptablesBackend) Apply(redirPort uint16) error {
	if !system.CommandExists(b.runner, "iptables") {
		return errors.New("iptables command not found")
	}
	if err := b.configureBinary("iptables", redirPort); err != nil {
		return err
	}
	// IPv6 is best-effort: many minimal hosts ship without ip6tables.
	if system.CommandExists(b.runner, "ip6tables") {
		if err := b.configureBinary("ip6tables", redirPort); err != nil {
			return err
		}
	}
	if !b.Active() {
		return errors.New("iptables jump rules missing after apply reported success")
	}
	return nil
}

func (b *iptablesBackend) configureBinary(binary string, redirPort uint16) error {
	// The chain may already exist from an earlier apply.
	_ = b.runner.Run(binary, "-t", "nat", "-N", IPTChainName)
	if err := b.runner.Run(binary, "-t", "nat", "-F", IPTChainName); err != nil {
		return fmt.Errorf("flushing %s chain %s: %w", binary, IPTChainName, err)
	}
	ranges := privateIPv4
	if binary == "ip6tables" {
		ranges = privateIPv6
	}
	for _, cidr := range ranges {
		if err := b.runner.Run(binary, "-t", "nat", "-A", IPTChainName, "-d", cidr, "-j", "RETURN"); err != nil {
			return fmt.Errorf("appending %s bypass for %s: %w", binary, cidr, err)
		}
	}
	for _, port := range bypassPorts(redirPort) {
		if err := b.runner.Run(binary, "-t", "nat", "-A", IPTChainName,
			"-p", "tcp", "--dport", strconv.Itoa(int(port)), "-j", "RETURN"); err != nil {
			return fmt.Errorf("appending %s bypass for port %d: %w", binary, port, err)
		}
	}
	if err := b.runner.Run(binary, "-t", "nat", "-A", IPTChainName,
		"-p", "tcp", "-j", "REDIRECT", "--to-ports", strconv.Itoa(int(redirPort))); err != nil {
		return fmt.Errorf("appending %s redirect rule: %w", binary, err)
	}
	if err := b.ensureJump(binary, "PREROUTING", false); err != nil {
		return err
	}
	return b.ensureJump(binary, "OUTPUT", true)
}

// jumpArgs builds the argument vector for one jump rule operation (-C, -A or
// -D). The OUTPUT jump is restricted to non-root traffic so the daemon's own
// upstream connections, which run as root, skip the redirect.
func jumpArgs(op, hook string, nonRootOnly bool) []string {
	args := []string{"-t", "nat", op, hook, "-p", "tcp"}
	if nonRootOnly {
		args = append(args, "-m", "owner", "!", "--uid-owner", "0")
	}
	return append(args, "-j", IPTChainName)
}

func (b *iptablesBackend) ensureJump(binary, hook string, nonRootOnly bool) error {
	if b.runner.Check(binary, jumpArgs("-C", hook, nonRootOnly)...) {
		return nil
	}
	if err := b.runner.Run(binary, jumpArgs("-A", hook, nonRootOnly)...); err != nil {
		return fmt.Errorf("appending %s jump in %s: %w", binary, hook, err)
	}
	return nil
}

func (b *iptablesBackend) removeJump(binary, hook string, nonRootOnly bool) error {
	for i := 0; i < maxDuplicateJumps; i++ {
		if !b.runner.Check(binary, jumpArgs("-C", hook, nonRootOnly)...) {
			return nil
		}
		if err := b.runner.Run(binary, jumpArgs("-D", hook, nonRootOnly)...); err != nil {
			return fmt.Errorf("deleting %s jump in %s: %w", binary, hook, err)
		}
	}
	return nil
}

func (b *iptablesBackend) Active() bool {
	return b.binaryActive("iptables") || b.binaryActive("ip6tables")
}

func (b *iptablesBackend) binaryActive(binary string) bool {
	if !system.CommandExists(b.runner, binary) {
		return false
	}
	return b.runner.Check(binary, jumpArgs("-C", "PREROUTING", false)...) ||
		b.runner.Check(binary, jumpArgs("-C", "OUTPUT", true)...)
}

func (b *iptablesBackend) Cleanup() error {
	if !system.CommandExists(b.runner, "iptables") {
		return nil
	}
	if err := b.cleanupBinary("iptables"); err != nil {
		return err
	}
	if system.CommandExists(b.runner, "ip6tables") {
		return b.cleanupBinary("ip6tables")
	}
	return nil
}

func (b *iptablesBackend) cleanupBinary(binary string) error {
	if err := b.removeJump(binary, "PREROUTING", false); err != nil {
		return err
	}
	if err := b.removeJump(binary, "OUTPUT", true); err != nil {
		return err
	}
	// Older installs appended an unrestricted OUTPUT jump.
	if err := b.removeJump(binary, "OUTPUT", false); err != nil {
		return err
	}
	// Flush and delete can fail when the chain never existed.
	_ = b.runner.Run(binary, "-t", "nat", "-F", IPTChainName)
	_ = b.runner.Run(binary, "-t", "nat", "-X", IPTChainName)
	return nil
}
