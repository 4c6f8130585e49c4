package tun

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"clashctl.sh/clashctl/internal/system"
)

// nftBackend expresses the redirect rules as a single nftables table loaded
// atomically from a batch script on stdin.
type nftBackend struct {
	runner system.CommandRunner
}

func (b *nftBackend) Name() string { return BackendNft }

func (b *nftBackend) Apply(redirPort uint16) error {
	if !system.CommandExists(b.runner, "nft") {
		return errors.New("nft command not found")
	}
	// A stale table from an earlier run may or may not exist.
	_ = b.runner.Run("nft", "delete", "table", "inet", NFTTableName)
	if err := b.runner.RunInput(nftScript(redirPort), "nft", "-f", "-"); err != nil {
		return fmt.Errorf("loading nft ruleset: %w", err)
	}
	if !b.Active() {
		return errors.New("nft table missing after ruleset load reported success")
	}
	return nil
}

func (b *nftBackend) Active() bool {
	if !system.CommandExists(b.runner, "nft") {
		return false
	}
	return b.runner.Check("nft", "list", "table", "inet", NFTTableName)
}

func (b *nftBackend) Cleanup() error {
	if !system.CommandExists(b.runner, "nft") {
		return nil
	}
	if !b.Active() {
		return nil
	}
	if err := b.runner.Run("nft", "delete", "table", "inet", NFTTableName); err != nil {
		return fmt.Errorf("deleting nft table %s: %w", NFTTableName, err)
	}
	return nil
}

// nftScript renders the batch script fed to `nft -f -`. Both NAT hooks carry
// the same bypass sets; the output hook additionally exempts uid 0 so the
// proxy daemon's own upstream connections are not redirected back into it.
func nftScript(redirPort uint16) string {
	v4 := strings.Join(privateIPv4, ", ")
	v6 := strings.Join(privateIPv6, ", ")
	ports := make([]string, 0, 4)
	for _, p := range bypassPorts(redirPort) {
		ports = append(ports, strconv.Itoa(int(p)))
	}
	portSet := strings.Join(ports, ", ")
	redir := strconv.Itoa(int(redirPort))

	var sb strings.Builder
	fmt.Fprintf(&sb, "table inet %s {\n", NFTTableName)
	sb.WriteString("  chain prerouting {\n")
	sb.WriteString("    type nat hook prerouting priority dstnat; policy accept;\n")
	fmt.Fprintf(&sb, "    ip daddr { %s } return\n", v4)
	fmt.Fprintf(&sb, "    ip6 daddr { %s } return\n", v6)
	fmt.Fprintf(&sb, "    tcp dport { %s } return\n", portSet)
	fmt.Fprintf(&sb, "    meta l4proto tcp redirect to :%s\n", redir)
	sb.WriteString("  }\n")
	sb.WriteString("  chain output {\n")
	sb.WriteString("    type nat hook output priority -100; policy accept;\n")
	sb.WriteString("    meta skuid 0 return\n")
	fmt.Fprintf(&sb, "    ip daddr { %s } return\n", v4)
	fmt.Fprintf(&sb, "    ip6 daddr { %s } return\n", v6)
	fmt.Fprintf(&sb, "    tcp dport { %s } return\n", portSet)
	fmt.Fprintf(&sb, "    meta l4proto tcp redirect to :%s\n", redir)
	sb.WriteString("  }\n")
	sb.WriteString("}\n")
	return sb.String()
}
