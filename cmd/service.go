package cmd

import (
	"fmt"
	"os"

	"clashctl.sh/clashctl/internal/output"
	"clashctl.sh/clashctl/internal/service"
)

// ServiceTarget names the unit a service subcommand acts on.
type ServiceTarget struct {
	Name string
	User bool
	Mode output.Mode
}

func (t ServiceTarget) target() service.Target {
	return service.Target{Name: t.Name, User: t.User}
}

// ServiceInstallOptions parameterize service install.
type ServiceInstallOptions struct {
	ServiceTarget
	Binary   string
	Config   string
	Workdir  string
	Force    bool
	NoEnable bool
	NoStart  bool
}

// RunServiceInstall writes and activates the systemd unit.
func RunServiceInstall(opts ServiceInstallOptions) error {
	if err := ensureLinux(); err != nil {
		return err
	}
	p, err := resolvePaths()
	if err != nil {
		return err
	}
	result, err := service.NewManager(p).Install(service.InstallOptions{
		Target:   opts.target(),
		Binary:   opts.Binary,
		Config:   opts.Config,
		Workdir:  opts.Workdir,
		Force:    opts.Force,
		NoEnable: opts.NoEnable,
		NoStart:  opts.NoStart,
	})
	if err != nil {
		return reportError(opts.Mode, "service.install", err)
	}

	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":               true,
			"action":           "service.install",
			"unit":             result.Unit,
			"unit_path":        result.UnitPath,
			"workdir":          result.Workdir,
			"config":           result.Config,
			"binary":           result.Binary,
			"enabled":          result.Enabled,
			"started":          result.Started,
			"template_created": result.TemplateCreated,
		})
	}

	fmt.Printf("Installed unit: %s\n", result.UnitPath)
	fmt.Printf("Service: %s\n", result.Unit)
	fmt.Printf("Workdir: %s\n", result.Workdir)
	fmt.Printf("Config: %s\n", result.Config)
	fmt.Printf("Binary: %s\n", result.Binary)
	if result.Enabled {
		fmt.Println("Enabled at boot.")
	}
	if result.TemplateCreated {
		fmt.Println("No config existed; wrote a template instead.")
		fmt.Printf("Edit it before starting: %s\n", result.Config)
	} else if result.Started {
		fmt.Println("Service started.")
	}
	return nil
}

// ServiceUninstallOptions parameterize service uninstall.
type ServiceUninstallOptions struct {
	ServiceTarget
	Purge bool
}

// RunServiceUninstall removes the systemd unit.
func RunServiceUninstall(opts ServiceUninstallOptions) error {
	if err := ensureLinux(); err != nil {
		return err
	}
	p, err := resolvePaths()
	if err != nil {
		return err
	}
	result, err := service.NewManager(p).Uninstall(service.UninstallOptions{
		Target: opts.target(),
		Purge:  opts.Purge,
	})
	if err != nil {
		return reportError(opts.Mode, "service.uninstall", err)
	}

	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":             true,
			"action":         "service.uninstall",
			"unit":           result.Unit,
			"unit_path":      result.UnitPath,
			"unit_deleted":   result.UnitDeleted,
			"runtime_purged": result.RuntimePurged,
		})
	}

	if result.UnitDeleted {
		fmt.Printf("Removed unit: %s\n", result.UnitPath)
	} else {
		fmt.Printf("Unit not present, nothing to remove: %s\n", result.UnitPath)
	}
	if result.RuntimePurged {
		fmt.Println("Purged the runtime directory.")
	}
	fmt.Printf("Uninstalled service %s.\n", result.Unit)
	return nil
}

// RunServiceAction runs one lifecycle verb (enable, disable, start, stop,
// restart).
func RunServiceAction(opts ServiceTarget, action string) error {
	if err := ensureLinux(); err != nil {
		return err
	}
	p, err := resolvePaths()
	if err != nil {
		return err
	}
	if err := service.NewManager(p).Action(opts.target(), action); err != nil {
		return reportError(opts.Mode, "service."+action, err)
	}
	unit := service.NormalizeUnitName(opts.Name)
	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":     true,
			"action": "service." + action,
			"unit":   unit,
			"user":   opts.User,
		})
	}
	fmt.Printf("%s: %s\n", actionVerb(action), unit)
	return nil
}

func actionVerb(action string) string {
	switch action {
	case "enable":
		return "Enabled at boot"
	case "disable":
		return "Disabled at boot"
	case "start":
		return "Started"
	case "stop":
		return "Stopped"
	case "restart":
		return "Restarted"
	}
	return action
}

// RunServiceStatus prints the systemctl status text. systemctl exits
// non-zero for inactive units, which propagates as a non-zero exit here too.
func RunServiceStatus(opts ServiceTarget) error {
	if err := ensureLinux(); err != nil {
		return err
	}
	p, err := resolvePaths()
	if err != nil {
		return err
	}
	text, statusErr := service.NewManager(p).Status(opts.target())
	unit := service.NormalizeUnitName(opts.Name)

	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":     statusErr == nil,
			"action": "service.status",
			"unit":   unit,
			"user":   opts.User,
			"active": statusErr == nil,
			"output": text,
		})
	}
	if text != "" {
		fmt.Print(text)
	}
	if statusErr != nil {
		fmt.Fprintf(os.Stderr, "Service %s is not active.\n", unit)
		return &ExitError{Code: 1}
	}
	return nil
}

// ServiceLogOptions parameterize service log.
type ServiceLogOptions struct {
	ServiceTarget
	Lines  int
	Follow bool
}

// RunServiceLog shows journal output for the unit.
func RunServiceLog(opts ServiceLogOptions) error {
	if err := ensureLinux(); err != nil {
		return err
	}
	p, err := resolvePaths()
	if err != nil {
		return err
	}
	text, err := service.NewManager(p).Journal(service.JournalOptions{
		Target: opts.target(),
		Lines:  opts.Lines,
		Follow: opts.Follow,
	})
	if err != nil {
		return reportError(opts.Mode, "service.log", err)
	}
	if opts.Follow {
		return nil
	}
	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":     true,
			"action": "service.log",
			"unit":   service.NormalizeUnitName(opts.Name),
			"user":   opts.User,
			"lines":  opts.Lines,
			"output": text,
		})
	}
	fmt.Print(text)
	return nil
}
