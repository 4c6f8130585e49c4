package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"clashctl.sh/clashctl/cmd"
	"clashctl.sh/clashctl/internal/brand"
	"clashctl.sh/clashctl/internal/output"
)

func main() {
	mode, args := extractMode(os.Args[1:])
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "tun":
		err = runTun(mode, args[1:])
	case "service":
		err = runService(mode, args[1:])
	case "proxy":
		err = runProxy(mode, args[1:])
	case "api":
		err = runAPI(mode, args[1:])
	case "version":
		if mode.IsJSON() {
			err = output.PrintJSON(map[string]string{
				"name":    brand.Name,
				"version": brand.Version,
			})
		} else {
			fmt.Printf("%s version %s\n", brand.BinaryName, brand.Version)
		}
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		var exit *cmd.ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		output.PrintError(mode, err)
		os.Exit(1)
	}
}

// extractMode pulls the global --json flag out of the argument list so it
// works in any position, the way subcommand flags do.
func extractMode(args []string) (output.Mode, []string) {
	mode := output.Text
	rest := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "--json" {
			mode = output.JSON
			continue
		}
		rest = append(rest, arg)
	}
	return mode, rest
}

func runTun(mode output.Mode, args []string) error {
	if len(args) < 1 {
		return usageError("tun <doctor|on|off|status> [options]")
	}
	switch args[0] {
	case "doctor":
		return cmd.RunTunDoctor(mode)
	case "on", "off":
		flags := flag.NewFlagSet("tun "+args[0], flag.ExitOnError)
		name := flags.String("name", brand.DefaultServiceName, "systemd service to restart afterwards")
		user := flags.Bool("user", false, "operate on a user service (systemctl --user)")
		noRestart := flags.Bool("no-restart", false, "change config only, skip the service restart")
		flags.Parse(args[1:])
		opts := cmd.TunApplyOptions{Name: *name, User: *user, NoRestart: *noRestart, Mode: mode}
		if args[0] == "on" {
			return cmd.RunTunOn(opts)
		}
		return cmd.RunTunOff(opts)
	case "status":
		flags := flag.NewFlagSet("tun status", flag.ExitOnError)
		name := flags.String("name", brand.DefaultServiceName, "systemd service to check")
		user := flags.Bool("user", false, "check a user service (systemctl --user)")
		flags.Parse(args[1:])
		return cmd.RunTunStatus(cmd.TunStatusOptions{Name: *name, User: *user, Mode: mode})
	}
	return usageError("tun <doctor|on|off|status> [options]")
}

func runService(mode output.Mode, args []string) error {
	if len(args) < 1 {
		return usageError("service <install|uninstall|enable|disable|start|stop|restart|status|log> [options]")
	}
	verb := args[0]
	flags := flag.NewFlagSet("service "+verb, flag.ExitOnError)
	name := flags.String("name", brand.DefaultServiceName, "systemd service name")
	user := flags.Bool("user", false, "operate on a user service (systemctl --user)")

	switch verb {
	case "install":
		binary := flags.String("binary", "", "daemon binary path")
		configPath := flags.String("config", "", "daemon config file path")
		workdir := flags.String("workdir", "", "service working directory")
		force := flags.Bool("force", false, "overwrite an existing unit file")
		noEnable := flags.Bool("no-enable", false, "do not enable the unit at boot")
		noStart := flags.Bool("no-start", false, "do not start the unit")
		flags.Parse(args[1:])
		return cmd.RunServiceInstall(cmd.ServiceInstallOptions{
			ServiceTarget: cmd.ServiceTarget{Name: *name, User: *user, Mode: mode},
			Binary:        *binary,
			Config:        *configPath,
			Workdir:       *workdir,
			Force:         *force,
			NoEnable:      *noEnable,
			NoStart:       *noStart,
		})
	case "uninstall":
		purge := flags.Bool("purge", false, "also remove the runtime directory")
		flags.Parse(args[1:])
		return cmd.RunServiceUninstall(cmd.ServiceUninstallOptions{
			ServiceTarget: cmd.ServiceTarget{Name: *name, User: *user, Mode: mode},
			Purge:         *purge,
		})
	case "enable", "disable", "start", "stop", "restart":
		flags.Parse(args[1:])
		return cmd.RunServiceAction(cmd.ServiceTarget{Name: *name, User: *user, Mode: mode}, verb)
	case "status":
		flags.Parse(args[1:])
		return cmd.RunServiceStatus(cmd.ServiceTarget{Name: *name, User: *user, Mode: mode})
	case "log":
		var lines int
		var follow bool
		flags.IntVar(&lines, "n", 100, "number of recent lines")
		flags.IntVar(&lines, "lines", 100, "number of recent lines")
		flags.BoolVar(&follow, "f", false, "follow the log stream")
		flags.BoolVar(&follow, "follow", false, "follow the log stream")
		flags.Parse(args[1:])
		return cmd.RunServiceLog(cmd.ServiceLogOptions{
			ServiceTarget: cmd.ServiceTarget{Name: *name, User: *user, Mode: mode},
			Lines:         lines,
			Follow:        follow,
		})
	}
	return usageError("service <install|uninstall|enable|disable|start|stop|restart|status|log> [options]")
}

func runProxy(mode output.Mode, args []string) error {
	if len(args) < 1 {
		return usageError("proxy <start|stop|status|env> [options]")
	}
	switch args[0] {
	case "start":
		flags := flag.NewFlagSet("proxy start", flag.ExitOnError)
		host := flags.String("host", "", "proxy host (default: runtime bind-address, else 127.0.0.1)")
		httpPort := flags.Uint("http-port", 0, "HTTP/HTTPS proxy port (default: runtime mixed-port/port, else 7890)")
		socksPort := flags.Uint("socks-port", 0, "SOCKS5 proxy port (default: runtime socks-port/mixed-port, else 7891)")
		noProxy := flags.String("no-proxy", "", "comma separated bypass list")
		printEnv := flags.Bool("print-env", false, "print the export script only")
		flags.Parse(args[1:])
		return cmd.RunProxyStart(cmd.ProxyStartOptions{
			Host:      *host,
			HTTPPort:  uint16(*httpPort),
			SocksPort: uint16(*socksPort),
			NoProxy:   *noProxy,
			PrintEnv:  *printEnv,
			Mode:      mode,
		})
	case "stop":
		flags := flag.NewFlagSet("proxy stop", flag.ExitOnError)
		printEnv := flags.Bool("print-env", false, "print the unset script only")
		flags.Parse(args[1:])
		return cmd.RunProxyStop(cmd.ProxyStopOptions{PrintEnv: *printEnv, Mode: mode})
	case "status":
		return cmd.RunProxyStatus(mode)
	case "env":
		if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
			return usageError("proxy env <on|off>")
		}
		return cmd.RunProxyEnv(args[1] == "on", mode)
	}
	return usageError("proxy <start|stop|status|env> [options]")
}

func runAPI(mode output.Mode, args []string) error {
	if len(args) < 1 {
		return usageError("api <status|mode|proxies|connections|ui-url|traffic> [options]")
	}
	verb := args[0]
	flags := flag.NewFlagSet("api "+verb, flag.ExitOnError)
	controller := flags.String("controller", "", "external-controller address, e.g. 127.0.0.1:9090")
	secret := flags.String("secret", "", "external-controller secret")
	timeout := flags.Uint("timeout", 15, "request timeout in seconds")

	buildOpts := func() cmd.APIOptions {
		return cmd.APIOptions{
			Controller: *controller,
			Secret:     *secret,
			Timeout:    time.Duration(*timeout) * time.Second,
			Mode:       mode,
		}
	}

	switch verb {
	case "status":
		flags.Parse(args[1:])
		return cmd.RunAPIStatus(buildOpts())
	case "proxies":
		flags.Parse(args[1:])
		return cmd.RunAPIProxies(buildOpts())
	case "connections":
		flags.Parse(args[1:])
		return cmd.RunAPIConnections(buildOpts())
	case "ui-url":
		flags.Parse(args[1:])
		return cmd.RunAPIUIURL(buildOpts())
	case "traffic":
		samples := flags.Int("samples", 3, "number of one second samples to read")
		flags.Parse(args[1:])
		return cmd.RunAPITraffic(buildOpts(), *samples)
	case "mode":
		if len(args) < 2 {
			return usageError("api mode <get|set <rule|global|direct|script>> [options]")
		}
		switch args[1] {
		case "get":
			flags.Parse(args[2:])
			return cmd.RunAPIModeGet(buildOpts())
		case "set":
			if len(args) < 3 {
				return usageError("api mode set <rule|global|direct|script> [options]")
			}
			target := args[2]
			flags.Parse(args[3:])
			return cmd.RunAPIModeSet(buildOpts(), target)
		}
		return usageError("api mode <get|set> [options]")
	}
	return usageError("api <status|mode|proxies|connections|ui-url|traffic> [options]")
}

func usageError(usage string) error {
	return fmt.Errorf("usage: %s %s", brand.BinaryName, usage)
}

func printUsage() {
	fmt.Printf(`%s - %s

Usage:
  %s [--json] <command> [options]

Commands:
  tun       Manage TUN transparent proxy mode
            Subcommands: doctor, on, off, status
            Options: --name <service>, --user, --no-restart
  service   Manage the daemon's systemd unit
            Subcommands: install, uninstall, enable, disable,
                         start, stop, restart, status, log
  proxy     Manage shell proxy environment variables
            Subcommands: start, stop, status, env on|off
  api       Talk to the daemon's external controller
            Subcommands: status, mode get|set, proxies,
                         connections, ui-url, traffic
  version   Print version information

Examples:
  %s tun doctor
  %s tun on --name %s
  %s service install --binary /usr/local/bin/mihomo
  %s proxy start && eval "$(%s proxy env on)"
  %s api mode set rule
  %s --json tun status
`,
		brand.BinaryName, brand.Description,
		brand.BinaryName,
		brand.BinaryName, brand.BinaryName, brand.DefaultServiceName,
		brand.BinaryName, brand.BinaryName, brand.BinaryName,
		brand.BinaryName, brand.BinaryName)
}
