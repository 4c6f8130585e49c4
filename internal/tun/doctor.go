package tun

import (
	"fmt"
	"strings"

	"clashctl.sh/clashctl/internal/config"
	"clashctl.sh/clashctl/internal/paths"
	"clashctl.sh/clashctl/internal/privilege"
	"clashctl.sh/clashctl/internal/system"
)

// CheckLevel classifies one diagnostic finding.
type CheckLevel string

const (
	CheckPass CheckLevel = "PASS"
	CheckWarn CheckLevel = "WARN"
	CheckFail CheckLevel = "FAIL"
)

// CheckItem is one diagnostic finding.
type CheckItem struct {
	Name       string     `json:"name"`
	Level      CheckLevel `json:"level"`
	Message    string     `json:"message"`
	Suggestion string     `json:"suggestion,omitempty"`
}

func passItem(name, message string) CheckItem {
	return CheckItem{Name: name, Level: CheckPass, Message: message}
}

func warnItem(name, message, suggestion string) CheckItem {
	return CheckItem{Name: name, Level: CheckWarn, Message: message, Suggestion: suggestion}
}

func failItem(name, message, suggestion string) CheckItem {
	return CheckItem{Name: name, Level: CheckFail, Message: message, Suggestion: suggestion}
}

// DoctorReport is the full diagnostic battery with summary counts.
type DoctorReport struct {
	Checks []CheckItem `json:"checks"`
	Pass   int         `json:"pass"`
	Warn   int         `json:"warn"`
	Fail   int         `json:"fail"`
}

// Doctor runs every environment probe and reports findings without mutating
// anything. It works without privileges; missing capabilities become FAIL
// findings instead of aborting the run.
func (m *Manager) Doctor() *DoctorReport {
	checks := []CheckItem{
		m.checkTunDevice(),
		m.checkCapability(privilege.CapNetAdminBit, "CAP_NET_ADMIN"),
		m.checkCapability(privilege.CapNetRawBit, "CAP_NET_RAW"),
		m.checkBackendTools(),
		m.checkIPForward(),
		m.checkRPFilter(),
	}
	if m.platformProbes != nil {
		checks = append(checks, m.platformProbes()...)
	}
	cfgChecks, tunEnable, autoRedirect := m.checkConfig()
	checks = append(checks, cfgChecks...)
	if tunEnable && autoRedirect {
		checks = append(checks, m.checkDataplane())
	}

	report := &DoctorReport{Checks: checks}
	for _, item := range checks {
		switch item.Level {
		case CheckPass:
			report.Pass++
		case CheckWarn:
			report.Warn++
		case CheckFail:
			report.Fail++
		}
	}
	return report
}

func (m *Manager) checkTunDevice() CheckItem {
	name := fmt.Sprintf("TUN device (%s)", m.tunDevicePath)
	if m.Insp.FileExists(m.tunDevicePath) {
		return passItem(name, "device node present")
	}
	return failItem(name, "device node missing",
		"load the tun module (modprobe tun) or enable TUN support on the host")
}

func (m *Manager) checkCapability(bit uint, capName string) CheckItem {
	if paths.IsRoot(m.Runner) {
		return passItem(capName, "running as root")
	}
	held, err := privilege.HasCapability(m.Insp, m.procStatusPath, bit)
	if err != nil {
		return warnItem(capName, fmt.Sprintf("capability probe failed: %v", err),
			"re-run as root to be certain")
	}
	if held {
		return passItem(capName, "effective capability held")
	}
	return failItem(capName, "effective capability not held",
		"re-run with sudo or grant the capability to the binary")
}

func (m *Manager) checkBackendTools() CheckItem {
	const name = "firewall backend"
	if system.CommandExists(m.Runner, "nft") {
		return passItem(name, "nft available")
	}
	if system.CommandExists(m.Runner, "iptables") {
		return warnItem(name, "only iptables available",
			"install nftables for the preferred backend")
	}
	return failItem(name, "neither nft nor iptables found",
		"install nftables or iptables")
}

func (m *Manager) checkIPForward() CheckItem {
	const name = "net.ipv4.ip_forward"
	value, err := m.Insp.ReadFile(m.ipForwardPath)
	if err != nil {
		return warnItem(name, fmt.Sprintf("unreadable: %v", err), "")
	}
	if strings.TrimSpace(value) == "1" {
		return passItem(name, "forwarding enabled")
	}
	return warnItem(name, "forwarding disabled",
		"run: sudo sysctl -w net.ipv4.ip_forward=1")
}

func (m *Manager) checkRPFilter() CheckItem {
	const name = "net.ipv4.conf.all.rp_filter"
	value, err := m.Insp.ReadFile(m.rpFilterPath)
	if err != nil {
		return warnItem(name, fmt.Sprintf("unreadable: %v", err), "")
	}
	switch strings.TrimSpace(value) {
	case "0", "2":
		return passItem(name, "reverse path filtering permits tun traffic")
	}
	return warnItem(name, "strict reverse path filtering may drop redirected traffic",
		"run: sudo sysctl -w net.ipv4.conf.all.rp_filter=2")
}

// checkConfig inspects the runtime config and also reports back the two
// fields that gate the dataplane check.
func (m *Manager) checkConfig() (checks []CheckItem, tunEnable, autoRedirect bool) {
	const name = "runtime config"
	doc, err := config.Load(m.Paths.RuntimeConfigFile)
	if err != nil {
		if config.IsNotExist(err) {
			checks = append(checks, warnItem(name,
				fmt.Sprintf("%s missing", m.Paths.RuntimeConfigFile),
				"run tun on to generate it"))
		} else {
			checks = append(checks, failItem(name, err.Error(),
				"fix the YAML syntax before retrying"))
		}
		return checks, false, false
	}
	checks = append(checks, passItem(name, m.Paths.RuntimeConfigFile))

	tunEnable, _ = doc.Bool("tun", "enable")
	autoRedirect, _ = doc.Bool("tun", "auto-redirect")
	autoRoute := boolField(doc, "tun", "auto-route")

	if tunEnable {
		checks = append(checks, passItem("tun.enable", "enabled"))
	} else {
		checks = append(checks, failItem("tun.enable", "disabled", "run tun on to enable"))
	}
	checks = append(checks, boolAdvisory("tun.auto-route", autoRoute,
		"without auto-route the routes must be maintained by hand"))
	checks = append(checks, boolAdvisory("tun.auto-detect-interface",
		boolField(doc, "tun", "auto-detect-interface"),
		"auto-detect-interface avoids wrong-interface picks on multi-homed hosts"))
	switch {
	case autoRedirect && derefOr(autoRoute, false):
		checks = append(checks, passItem("tun.auto-redirect", "enabled, auto-route dependency satisfied"))
	case autoRedirect:
		checks = append(checks, failItem("tun.auto-redirect", "enabled but auto-route is not",
			"enable tun.auto-route first"))
	default:
		checks = append(checks, warnItem("tun.auto-redirect", "disabled",
			"enabling it improves TCP forwarding performance on Linux"))
	}
	checks = append(checks, boolAdvisory("tun.strict-route",
		boolField(doc, "tun", "strict-route"),
		"an explicit strict-route setting avoids surprises; weigh it per host"))

	if stack, ok := doc.String("tun", "stack"); ok {
		switch stack {
		case "mixed":
			checks = append(checks, passItem("tun.stack", "mixed (recommended)"))
		case "gvisor":
			checks = append(checks, warnItem("tun.stack", "gvisor", "mixed is the recommended stack"))
		case "system":
			checks = append(checks, warnItem("tun.stack", "system",
				"verify the kernel network stack matches the routing policy"))
		default:
			checks = append(checks, warnItem("tun.stack", stack, "verify this stack value is supported"))
		}
	} else {
		checks = append(checks, warnItem("tun.stack", "not set", "set tun.stack: mixed explicitly"))
	}

	if dns, ok := doc.Bool("dns", "enable"); ok && dns {
		checks = append(checks, passItem("dns.enable", "enabled"))
	} else {
		checks = append(checks, warnItem("dns.enable", "disabled",
			"tun mode needs the daemon's DNS server to avoid resolution bypass"))
	}
	if mode, ok := doc.String("dns", "enhanced-mode"); ok && mode == "fake-ip" {
		checks = append(checks, passItem("dns.enhanced-mode", "fake-ip (recommended)"))
	} else {
		checks = append(checks, warnItem("dns.enhanced-mode", "not fake-ip",
			"fake-ip gives the most reliable tun DNS behavior"))
	}
	if v6, ok := doc.Bool("ipv6"); ok && v6 {
		checks = append(checks, warnItem("ipv6", "enabled",
			"IPv6 auto-route fails on many hosts; tun on disables it"))
	} else {
		checks = append(checks, passItem("ipv6", "disabled"))
	}
	return checks, tunEnable, autoRedirect
}

// boolAdvisory grades a recommended-true boolean: set-true passes, set-false
// and unset both warn.
func boolAdvisory(name string, value *bool, caveat string) CheckItem {
	switch {
	case value == nil:
		return warnItem(name, "not set", "set "+name+": true explicitly")
	case *value:
		return passItem(name, "enabled")
	}
	return warnItem(name, "disabled", caveat)
}

func (m *Manager) checkDataplane() CheckItem {
	const name = "dataplane rules"
	if backend := DetectActive(m.Runner); backend != BackendNone {
		return passItem(name, fmt.Sprintf("%s rules live", backend))
	}
	return warnItem(name, "config enables auto-redirect but no rules are live",
		"run tun on to apply them")
}
