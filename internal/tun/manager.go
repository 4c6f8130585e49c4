package tun

import (
	"fmt"
	"os"
	"time"

	"clashctl.sh/clashctl/internal/clock"
	"clashctl.sh/clashctl/internal/config"
	"clashctl.sh/clashctl/internal/logging"
	"clashctl.sh/clashctl/internal/paths"
	"clashctl.sh/clashctl/internal/service"
	"clashctl.sh/clashctl/internal/system"
)

// Manager performs the tun reconciliation operations against one resolved
// set of application paths.
type Manager struct {
	Paths  paths.AppPaths
	Runner system.CommandRunner
	Insp   system.Inspector
	Clock  clock.Clock
	Log    *logging.Logger

	tunDevicePath  string
	procStatusPath string
	ipForwardPath  string
	rpFilterPath   string
	platformProbes func() []CheckItem
}

// NewManager builds a Manager wired to the real system.
func NewManager(p paths.AppPaths) *Manager {
	return &Manager{
		Paths:          p,
		Runner:         system.DefaultRunner,
		Insp:           system.DefaultInspector,
		Clock:          &clock.RealClock{},
		Log:            logging.Default().WithComponent("tun"),
		tunDevicePath:  "/dev/net/tun",
		procStatusPath: "/proc/self/status",
		ipForwardPath:  "/proc/sys/net/ipv4/ip_forward",
		rpFilterPath:   "/proc/sys/net/ipv4/conf/all/rp_filter",
		platformProbes: platformChecks,
	}
}

// ApplyOptions parameterize On and Off.
type ApplyOptions struct {
	ServiceName string
	UserService bool
	NoRestart   bool
}

// OnResult reports what On did.
type OnResult struct {
	ConfigPath       string
	Service          string
	UserService      bool
	Backend          string
	RedirPort        uint16
	RulesApplied     bool
	RestartAttempted bool
	RestartOK        *bool
}

// OffResult reports what Off did.
type OffResult struct {
	ConfigPath       string
	Service          string
	UserService      bool
	RedirPort        uint16
	RestartAttempted bool
	RestartOK        *bool
}

// RollbackError wraps a rule application failure after which the runtime
// config was restored to its pre-operation bytes.
type RollbackError struct {
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("applying dataplane rules failed (config rolled back): %v", e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// On enables TUN mode: it forces the tun block on in the runtime config,
// fills operational defaults without clobbering explicit settings, applies
// redirect rules when auto-redirect is on, records state, and restarts the
// service unless told not to. A rule application failure rolls the config
// back byte-for-byte and returns a RollbackError.
func (m *Manager) On(opts ApplyOptions) (*OnResult, error) {
	if !m.Insp.FileExists(m.tunDevicePath) {
		return nil, fmt.Errorf("%s not found; the host lacks TUN support", m.tunDevicePath)
	}
	doc, err := config.LoadOrInit(m.Paths.RuntimeConfigFile)
	if err != nil {
		return nil, err
	}
	// Raw bytes, so a rollback restores the file exactly, comments and
	// formatting included.
	originalRaw, err := os.ReadFile(m.Paths.RuntimeConfigFile)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", m.Paths.RuntimeConfigFile, err)
	}

	doc.Set(true, "tun", "enable")
	doc.SetDefault(true, "tun", "auto-route")
	doc.SetDefault(true, "tun", "auto-detect-interface")
	doc.SetDefault(true, "tun", "auto-redirect")
	// strict-route installs /1 covering routes that break some distros.
	doc.SetDefault(false, "tun", "strict-route")
	doc.SetDefault("mixed", "tun", "stack")
	doc.SetDefault(true, "dns", "enable")
	// IPv6 auto-route is a recurring source of route install failures on
	// desktop Linux; force it off and let the operator opt back in.
	doc.Set(false, "ipv6")
	doc.Set(false, "dns", "ipv6")
	doc.SetDefault("fake-ip", "dns", "enhanced-mode")
	doc.SetDefault(int(DefaultRedirPort), "redir-port")

	autoRedirect, _ := doc.Bool("tun", "auto-redirect")
	redirPort := DefaultRedirPort
	if port, ok := doc.Uint16("redir-port"); ok {
		redirPort = port
	}

	if err := doc.Save(m.Paths.RuntimeConfigFile); err != nil {
		return nil, err
	}

	backend := BackendNone
	rulesApplied := false
	if autoRedirect {
		applied, applyErr := m.applyRules(redirPort)
		if applyErr != nil {
			if restoreErr := os.WriteFile(m.Paths.RuntimeConfigFile, originalRaw, 0o644); restoreErr != nil {
				m.Log.Error("restoring config after failed rule apply", "error", restoreErr)
			}
			return nil, &RollbackError{Err: applyErr}
		}
		backend = applied
		rulesApplied = true
	} else {
		// Rules must not stay live while auto-redirect is off.
		if err := CleanupAll(m.Runner); err != nil {
			m.Log.Warn("cleaning up stale dataplane rules", "error", err)
		}
	}

	state := &State{
		Enabled:      true,
		ServiceName:  opts.ServiceName,
		UserService:  opts.UserService,
		Backend:      backend,
		RedirPort:    redirPort,
		RulesApplied: rulesApplied,
		UpdatedAt:    m.Clock.Now().Unix(),
	}
	if err := WriteState(m.Paths.TunStateFile, state); err != nil {
		return nil, err
	}

	result := &OnResult{
		ConfigPath:   m.Paths.RuntimeConfigFile,
		Service:      opts.ServiceName,
		UserService:  opts.UserService,
		Backend:      backend,
		RedirPort:    redirPort,
		RulesApplied: rulesApplied,
	}
	if !opts.NoRestart {
		result.RestartAttempted = true
		ok := m.restartBestEffort(opts)
		result.RestartOK = &ok
	}
	return result, nil
}

func (m *Manager) applyRules(redirPort uint16) (string, error) {
	preferred, err := SelectBackend(m.Runner)
	if err != nil {
		return "", err
	}
	return Apply(m.Runner, preferred, redirPort)
}

// Off disables TUN mode. Cleanup scope follows the recorded state: rules are
// removed only when the last On applied them, but with no state at all both
// backends are swept so a lost state file cannot strand live rules.
func (m *Manager) Off(opts ApplyOptions) (*OffResult, error) {
	doc, err := config.LoadOrInit(m.Paths.RuntimeConfigFile)
	if err != nil {
		return nil, err
	}
	prev, err := ReadState(m.Paths.TunStateFile)
	if err != nil {
		return nil, err
	}

	doc.Set(false, "tun", "enable")
	if err := doc.Save(m.Paths.RuntimeConfigFile); err != nil {
		return nil, err
	}

	redirPort := DefaultRedirPort
	if port, ok := doc.Uint16("redir-port"); ok {
		redirPort = port
	}

	var cleanupErr error
	if prev == nil {
		cleanupErr = CleanupAll(m.Runner)
	} else if prev.RulesApplied {
		cleanupErr = Cleanup(m.Runner, prev.Backend)
	}
	if cleanupErr != nil {
		return nil, fmt.Errorf("removing dataplane rules: %w", cleanupErr)
	}

	state := &State{
		Enabled:      false,
		ServiceName:  opts.ServiceName,
		UserService:  opts.UserService,
		Backend:      BackendNone,
		RedirPort:    redirPort,
		RulesApplied: false,
		UpdatedAt:    m.Clock.Now().Unix(),
	}
	if err := WriteState(m.Paths.TunStateFile, state); err != nil {
		return nil, err
	}

	result := &OffResult{
		ConfigPath:  m.Paths.RuntimeConfigFile,
		Service:     opts.ServiceName,
		UserService: opts.UserService,
		RedirPort:   redirPort,
	}
	if !opts.NoRestart {
		result.RestartAttempted = true
		ok := m.restartBestEffort(opts)
		result.RestartOK = &ok
	}
	return result, nil
}

func (m *Manager) restartBestEffort(opts ApplyOptions) bool {
	if err := service.Restart(m.Runner, opts.ServiceName, opts.UserService); err != nil {
		m.Log.Warn("service restart failed", "service", opts.ServiceName, "error", err)
		return false
	}
	return true
}

// StatusResult combines the configured intent, the live probes, and the
// recorded state of the last operation.
type StatusResult struct {
	ConfigPath    string
	ConfigMissing bool

	TunEnable       bool
	RedirPort       uint16
	AutoRoute       *bool
	AutoRedirect    *bool
	StrictRoute     *bool
	Stack           *string
	DNSEnable       *bool
	DNSEnhancedMode *string
	IPv6            *bool
	DNSIPv6         *bool

	DeviceOK         bool
	BackendInstalled bool
	ActiveBackend    string
	RulesActive      bool
	ServiceActive    bool
	Service          string
	UserService      bool

	LastState *State
	// StateAge is how long ago the last operation recorded its state,
	// nil when no state file exists.
	StateAge *time.Duration

	// ActualOK is the aggregate verdict: configured intent matches
	// observed reality.
	ActualOK bool
}

// StatusOptions parameterize Status.
type StatusOptions struct {
	ServiceName string
	UserService bool
}

// Status never mutates anything. It reads the config and state file, probes
// the device, backends and service, and derives the aggregate verdict.
func (m *Manager) Status(opts StatusOptions) (*StatusResult, error) {
	result := &StatusResult{
		ConfigPath:  m.Paths.RuntimeConfigFile,
		Service:     opts.ServiceName,
		UserService: opts.UserService,
		RedirPort:   DefaultRedirPort,
	}

	doc, err := config.Load(m.Paths.RuntimeConfigFile)
	if err != nil {
		if !config.IsNotExist(err) {
			return nil, err
		}
		result.ConfigMissing = true
		doc = config.New()
	}

	if v, ok := doc.Bool("tun", "enable"); ok {
		result.TunEnable = v
	}
	if v, ok := doc.Uint16("redir-port"); ok {
		result.RedirPort = v
	}
	result.AutoRoute = boolField(doc, "tun", "auto-route")
	result.AutoRedirect = boolField(doc, "tun", "auto-redirect")
	result.StrictRoute = boolField(doc, "tun", "strict-route")
	result.Stack = stringField(doc, "tun", "stack")
	result.DNSEnable = boolField(doc, "dns", "enable")
	result.DNSEnhancedMode = stringField(doc, "dns", "enhanced-mode")
	result.IPv6 = boolField(doc, "ipv6")
	result.DNSIPv6 = boolField(doc, "dns", "ipv6")

	result.DeviceOK = m.Insp.FileExists(m.tunDevicePath)
	result.BackendInstalled = system.CommandExists(m.Runner, "nft") ||
		system.CommandExists(m.Runner, "iptables")
	result.ActiveBackend = DetectActive(m.Runner)
	result.RulesActive = result.ActiveBackend != BackendNone
	active, err := service.IsActive(m.Runner, opts.ServiceName, opts.UserService)
	if err == nil {
		result.ServiceActive = active
	}

	result.LastState, err = ReadState(m.Paths.TunStateFile)
	if err != nil {
		m.Log.Warn("unreadable tun state file", "error", err)
	}
	if s := result.LastState; s != nil {
		age := m.Clock.Since(time.Unix(s.UpdatedAt, 0))
		result.StateAge = &age
	}

	// With auto-redirect off the dataplane is intentionally empty, so
	// rule liveness only counts when redirect is wanted.
	redirectReady := true
	if derefOr(result.AutoRedirect, false) {
		redirectReady = result.RulesActive
	}
	result.ActualOK = result.TunEnable &&
		result.DeviceOK &&
		redirectReady &&
		result.ServiceActive
	return result, nil
}

func boolField(doc *config.Document, path ...string) *bool {
	if v, ok := doc.Bool(path...); ok {
		return &v
	}
	return nil
}

func stringField(doc *config.Document, path ...string) *string {
	if v, ok := doc.String(path...); ok {
		return &v
	}
	return nil
}

func derefOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
