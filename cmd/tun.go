package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"clashctl.sh/clashctl/internal/output"
	"clashctl.sh/clashctl/internal/privilege"
	"clashctl.sh/clashctl/internal/service"
	"clashctl.sh/clashctl/internal/system"
	"clashctl.sh/clashctl/internal/tun"
)

// TunApplyOptions parameterize tun on and off.
type TunApplyOptions struct {
	Name      string
	User      bool
	NoRestart bool
	Mode      output.Mode
}

func (o TunApplyOptions) forwardArgs(verb string) []string {
	args := []string{"tun", verb, "--name", o.Name}
	if o.User {
		args = append(args, "--user")
	}
	if o.NoRestart {
		args = append(args, "--no-restart")
	}
	return args
}

// RunTunOn enables TUN mode.
func RunTunOn(opts TunApplyOptions) error {
	if err := ensureLinux(); err != nil {
		return err
	}
	status, code, err := privilege.EnsureOrDelegate(system.DefaultRunner, system.DefaultInspector,
		privilege.DelegateOptions{Mode: opts.Mode, Args: opts.forwardArgs("on")})
	if err != nil {
		return err
	}
	if status == privilege.Delegated {
		return delegatedResult(code)
	}

	p, err := resolvePaths()
	if err != nil {
		return err
	}
	manager := tun.NewManager(p)
	result, err := manager.On(tun.ApplyOptions{
		ServiceName: opts.Name,
		UserService: opts.User,
		NoRestart:   opts.NoRestart,
	})
	if err != nil {
		var rollback *tun.RollbackError
		if errors.As(err, &rollback) {
			if opts.Mode.IsJSON() {
				_ = output.PrintJSON(map[string]interface{}{
					"ok":          false,
					"action":      "tun.on",
					"error":       rollback.Err.Error(),
					"rolled_back": true,
				})
				return &ExitError{Code: 1}
			}
			fmt.Fprintf(os.Stderr, "Error: applying dataplane rules failed: %v\n", rollback.Err)
			fmt.Fprintln(os.Stderr, "Rolled back the tun config to its previous state.")
			return &ExitError{Code: 1}
		}
		return reportError(opts.Mode, "tun.on", err)
	}

	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":                true,
			"action":            "tun.on",
			"config_path":       result.ConfigPath,
			"service":           service.NormalizeUnitName(result.Service),
			"user_service":      result.UserService,
			"backend":           result.Backend,
			"redir_port":        result.RedirPort,
			"rules_applied":     result.RulesApplied,
			"restart_attempted": result.RestartAttempted,
			"restart_ok":        result.RestartOK,
		})
	}

	if result.RulesApplied {
		fmt.Printf("Applied %s dataplane rules, redir-port=%d.\n", result.Backend, result.RedirPort)
	} else {
		fmt.Println("auto-redirect is off; no dataplane rules applied.")
	}
	fmt.Printf("Enabled tun in %s\n", result.ConfigPath)
	printRestartOutcome(result.RestartAttempted, result.RestartOK, result.Service, result.UserService)
	fmt.Println("Run tun doctor to re-verify the environment.")
	return nil
}

// RunTunOff disables TUN mode.
func RunTunOff(opts TunApplyOptions) error {
	if err := ensureLinux(); err != nil {
		return err
	}
	status, code, err := privilege.EnsureOrDelegate(system.DefaultRunner, system.DefaultInspector,
		privilege.DelegateOptions{Mode: opts.Mode, Args: opts.forwardArgs("off")})
	if err != nil {
		return err
	}
	if status == privilege.Delegated {
		return delegatedResult(code)
	}

	p, err := resolvePaths()
	if err != nil {
		return err
	}
	manager := tun.NewManager(p)
	result, err := manager.Off(tun.ApplyOptions{
		ServiceName: opts.Name,
		UserService: opts.User,
		NoRestart:   opts.NoRestart,
	})
	if err != nil {
		return reportError(opts.Mode, "tun.off", err)
	}

	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":                true,
			"action":            "tun.off",
			"config_path":       result.ConfigPath,
			"service":           service.NormalizeUnitName(result.Service),
			"user_service":      result.UserService,
			"redir_port":        result.RedirPort,
			"restart_attempted": result.RestartAttempted,
			"restart_ok":        result.RestartOK,
		})
	}

	fmt.Println("Disabled tun and removed dataplane rules.")
	printRestartOutcome(result.RestartAttempted, result.RestartOK, result.Service, result.UserService)
	return nil
}

// TunStatusOptions parameterize tun status.
type TunStatusOptions struct {
	Name string
	User bool
	Mode output.Mode
}

// RunTunStatus shows configured versus actual TUN state without mutating
// anything.
func RunTunStatus(opts TunStatusOptions) error {
	if err := ensureLinux(); err != nil {
		return err
	}
	p, err := resolvePaths()
	if err != nil {
		return err
	}
	manager := tun.NewManager(p)
	result, err := manager.Status(tun.StatusOptions{ServiceName: opts.Name, UserService: opts.User})
	if err != nil {
		return reportError(opts.Mode, "tun.status", err)
	}

	if opts.Mode.IsJSON() {
		var lastState interface{}
		if s := result.LastState; s != nil {
			lastState = map[string]interface{}{
				"enabled":       s.Enabled,
				"service_name":  s.ServiceName,
				"user_service":  s.UserService,
				"backend":       s.Backend,
				"redir_port":    s.RedirPort,
				"rules_applied": s.RulesApplied,
				"updated_at":    s.UpdatedAt,
				"age_seconds":   int64(result.StateAge.Seconds()),
			}
		}
		return output.PrintJSON(map[string]interface{}{
			"ok":     true,
			"action": "tun.status",
			"config": map[string]interface{}{
				"path":              result.ConfigPath,
				"tun_enable":        result.TunEnable,
				"redir_port":        result.RedirPort,
				"tun_auto_route":    result.AutoRoute,
				"tun_auto_redirect": result.AutoRedirect,
				"tun_strict_route":  result.StrictRoute,
				"tun_stack":         result.Stack,
				"dns_enable":        result.DNSEnable,
				"dns_enhanced_mode": result.DNSEnhancedMode,
				"ipv6":              result.IPv6,
				"dns_ipv6":          result.DNSIPv6,
			},
			"runtime": map[string]interface{}{
				"device_ok":         result.DeviceOK,
				"backend_installed": result.BackendInstalled,
				"active_backend":    result.ActiveBackend,
				"rules_active":      result.RulesActive,
				"service_active":    result.ServiceActive,
				"service":           service.NormalizeUnitName(result.Service),
				"user_service":      result.UserService,
			},
			"last_state": lastState,
			"actual_ok":  result.ActualOK,
		})
	}

	if result.ConfigMissing {
		fmt.Printf("No runtime config yet; showing unconfigured state: %s\n", result.ConfigPath)
	}
	fmt.Printf("Config file: %s\n", result.ConfigPath)
	fmt.Printf("Configured: %s\n", enabledDisabled(result.TunEnable))
	fmt.Printf("redir-port: %d\n", result.RedirPort)
	fmt.Printf("tun.auto-route: %s\n", boolOrUnset(result.AutoRoute))
	fmt.Printf("tun.auto-redirect: %s\n", boolOrUnset(result.AutoRedirect))
	fmt.Printf("tun.strict-route: %s\n", boolOrUnset(result.StrictRoute))
	fmt.Printf("tun.stack: %s\n", stringOrUnset(result.Stack))
	fmt.Printf("dns.enable: %s\n", boolOrUnset(result.DNSEnable))
	fmt.Printf("dns.enhanced-mode: %s\n", stringOrUnset(result.DNSEnhancedMode))
	fmt.Printf("ipv6: %s\n", boolOrUnset(result.IPv6))
	fmt.Printf("dns.ipv6: %s\n", boolOrUnset(result.DNSIPv6))
	fmt.Printf("Host capability: /dev/net/tun=%s, backend=%s\n",
		yesNo(result.DeviceOK), yesNo(result.BackendInstalled))
	fmt.Printf("Dataplane rules: %s (%s)\n", activeInactive(result.RulesActive), result.ActiveBackend)
	fmt.Printf("Service %s: %s\n", service.NormalizeUnitName(result.Service),
		runningStopped(result.ServiceActive))
	if s := result.LastState; s != nil {
		fmt.Printf("Last operation: enabled=%t, backend=%s, rules_applied=%t, service=%s, user=%t, %s ago\n",
			s.Enabled, s.Backend, s.RulesApplied, s.ServiceName, s.UserService,
			result.StateAge.Round(time.Second))
	} else {
		fmt.Println("Last operation: none")
	}
	fmt.Printf("Actual state: %s\n", activeInactive(result.ActualOK))
	return nil
}

// RunTunDoctor runs the environment diagnostics.
func RunTunDoctor(mode output.Mode) error {
	if err := ensureLinux(); err != nil {
		return err
	}
	// Diagnostics run unprivileged if delegation is unavailable; missing
	// capabilities become findings instead of a refusal.
	status, code, err := privilege.EnsureOrDelegate(system.DefaultRunner, system.DefaultInspector,
		privilege.DelegateOptions{Mode: mode, Args: []string{"tun", "doctor"}, Lenient: true})
	if err != nil {
		return err
	}
	if status == privilege.Delegated {
		return delegatedResult(code)
	}

	p, err := resolvePaths()
	if err != nil {
		return err
	}
	report := tun.NewManager(p).Doctor()

	if mode.IsJSON() {
		if err := output.PrintJSON(map[string]interface{}{
			"ok":     report.Fail == 0,
			"action": "tun.doctor",
			"summary": map[string]int{
				"pass": report.Pass,
				"warn": report.Warn,
				"fail": report.Fail,
			},
			"checks": report.Checks,
		}); err != nil {
			return err
		}
		if report.Fail > 0 {
			return &ExitError{Code: 1}
		}
		return nil
	}

	fmt.Println("Running tun diagnostics ...")
	for _, item := range report.Checks {
		fmt.Printf("[%s] %s: %s\n", item.Level, item.Name, item.Message)
		if item.Suggestion != "" {
			fmt.Printf("       hint: %s\n", item.Suggestion)
		}
	}
	fmt.Printf("Summary: pass=%d warn=%d fail=%d\n", report.Pass, report.Warn, report.Fail)
	if report.Fail > 0 {
		return fmt.Errorf("diagnostics found %d blocking problem(s)", report.Fail)
	}
	return nil
}

func delegatedResult(code int) error {
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

func printRestartOutcome(attempted bool, ok *bool, name string, user bool) {
	if !attempted {
		fmt.Println("Skipped service restart (--no-restart).")
		return
	}
	unit := service.NormalizeUnitName(name)
	if ok != nil && *ok {
		fmt.Printf("Restarted service %s.\n", unit)
		return
	}
	scope := ""
	if user {
		scope = "--user "
	}
	fmt.Fprintf(os.Stderr, "Warning: automatic restart failed; run: systemctl %srestart %s\n", scope, unit)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func enabledDisabled(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

func activeInactive(v bool) string {
	if v {
		return "active"
	}
	return "inactive"
}

func runningStopped(v bool) string {
	if v {
		return "running"
	}
	return "stopped"
}

func boolOrUnset(v *bool) string {
	if v == nil {
		return "unset"
	}
	return fmt.Sprintf("%t", *v)
}

func stringOrUnset(v *string) string {
	if v == nil {
		return "unset"
	}
	return *v
}
