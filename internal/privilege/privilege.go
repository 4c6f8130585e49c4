// Package privilege answers whether the current process may touch kernel
// network state, and when it may not, optionally re-executes the command
// line under sudo.
package privilege

import (
	"fmt"
	"strconv"
	"strings"

	"clashctl.sh/clashctl/internal/brand"
	"clashctl.sh/clashctl/internal/paths"
	"clashctl.sh/clashctl/internal/system"
)

// Capability bit positions in the CapEff mask of /proc/self/status.
const (
	CapNetAdminBit = 12
	CapNetRawBit   = 13
)

// ProcSelfStatus is the default process status file probed for capabilities.
const ProcSelfStatus = "/proc/self/status"

// Ensure returns nil when the process is root or holds both CAP_NET_ADMIN
// and CAP_NET_RAW. Capability read failures count as not privileged rather
// than aborting.
func Ensure(runner system.CommandRunner, insp system.Inspector) error {
	if paths.IsRoot(runner) {
		return nil
	}
	admin, _ := HasCapability(insp, ProcSelfStatus, CapNetAdminBit)
	raw, _ := HasCapability(insp, ProcSelfStatus, CapNetRawBit)
	if admin && raw {
		return nil
	}
	return fmt.Errorf("insufficient privileges: need root or CAP_NET_ADMIN+CAP_NET_RAW; re-run with sudo or grant the capabilities to %s", brand.BinaryName)
}

// HasCapability reports whether the given bit is set in the effective
// capability mask recorded in statusPath.
func HasCapability(insp system.Inspector, statusPath string, bit uint) (bool, error) {
	mask, err := ReadCapMask(insp, statusPath)
	if err != nil {
		return false, err
	}
	return mask&(uint64(1)<<bit) != 0, nil
}

// ReadCapMask parses the hexadecimal CapEff value out of a process status
// file.
func ReadCapMask(insp system.Inspector, statusPath string) (uint64, error) {
	content, err := insp.ReadFile(statusPath)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", statusPath, err)
	}
	for _, line := range strings.Split(content, "\n") {
		if !strings.HasPrefix(line, "CapEff:") {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(line, "CapEff:"))
		mask, err := strconv.ParseUint(value, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid CapEff value %q", value)
		}
		return mask, nil
	}
	return 0, fmt.Errorf("no CapEff line in %s", statusPath)
}
