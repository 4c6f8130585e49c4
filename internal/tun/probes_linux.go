//go:build linux

package tun

import (
	"fmt"

	"github.com/google/nftables"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// platformChecks runs advisory netlink-level probes. They complement the
// tool-based checks: a working nft binary with a broken netlink socket (or
// the reverse) shows up here. Findings never exceed WARN since the
// tool-based path is authoritative.
func platformChecks() []CheckItem {
	return []CheckItem{
		checkKernel(),
		checkNetlinkLinks(),
		checkNftablesSocket(),
	}
}

func checkKernel() CheckItem {
	const name = "kernel"
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return warnItem(name, fmt.Sprintf("uname failed: %v", err), "")
	}
	return passItem(name, fmt.Sprintf("%s %s", bytesToString(uname.Sysname[:]), bytesToString(uname.Release[:])))
}

func checkNetlinkLinks() CheckItem {
	const name = "netlink links"
	links, err := netlink.LinkList()
	if err != nil {
		return warnItem(name, fmt.Sprintf("link enumeration failed: %v", err),
			"a restricted network namespace can break auto-detect-interface")
	}
	up := 0
	for _, link := range links {
		if link.Attrs().Flags&unix.IFF_UP != 0 {
			up++
		}
	}
	if up == 0 {
		return warnItem(name, fmt.Sprintf("%d links, none up", len(links)),
			"bring an interface up before enabling tun mode")
	}
	return passItem(name, fmt.Sprintf("%d links, %d up", len(links), up))
}

func checkNftablesSocket() CheckItem {
	const name = "nftables netlink"
	conn, err := nftables.New()
	if err != nil {
		return warnItem(name, fmt.Sprintf("open failed: %v", err),
			"the nft backend needs a working netfilter netlink socket")
	}
	tables, err := conn.ListTables()
	if err != nil {
		return warnItem(name, fmt.Sprintf("table listing failed: %v", err),
			"listing usually needs CAP_NET_ADMIN; re-run as root")
	}
	for _, table := range tables {
		if table.Name == NFTTableName {
			return passItem(name, fmt.Sprintf("socket works, table %s present", NFTTableName))
		}
	}
	return passItem(name, fmt.Sprintf("socket works, %d tables", len(tables)))
}

func bytesToString(raw []byte) string {
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}
