package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"clashctl.sh/clashctl/internal/brand"
	"clashctl.sh/clashctl/internal/output"
	"clashctl.sh/clashctl/internal/proxyenv"
)

// ProxyStartOptions parameterize proxy start. Zero ports and empty strings
// mean "take the runtime config value, then the built-in default".
type ProxyStartOptions struct {
	Host      string
	HTTPPort  uint16
	SocksPort uint16
	NoProxy   string
	PrintEnv  bool
	Mode      output.Mode
}

func proxyStateJSON(s *proxyenv.State) map[string]interface{} {
	return map[string]interface{}{
		"host":       s.Host,
		"http_port":  s.HTTPPort,
		"socks_port": s.SocksPort,
		"no_proxy":   s.NoProxy,
	}
}

func envOnHint() string {
	return fmt.Sprintf("eval \"$(%s proxy env on)\"", brand.BinaryName)
}

func envOffHint() string {
	return fmt.Sprintf("eval \"$(%s proxy env off)\"", brand.BinaryName)
}

// RunProxyStart resolves the proxy endpoints and persists the state plus the
// export script.
func RunProxyStart(opts ProxyStartOptions) error {
	p, err := resolvePaths()
	if err != nil {
		return err
	}
	defaults := proxyenv.LoadRuntimeDefaults(p.RuntimeConfigFile)
	state := proxyenv.Resolve(opts.Host, opts.HTTPPort, opts.SocksPort, opts.NoProxy, defaults)
	if err := proxyenv.WriteState(p, &state); err != nil {
		return reportError(opts.Mode, "proxy.start", err)
	}

	script := state.ExportScript()
	if opts.Mode.IsJSON() {
		var scriptField interface{}
		if opts.PrintEnv {
			scriptField = script
		}
		return output.PrintJSON(map[string]interface{}{
			"ok":     true,
			"action": "proxy.start",
			"state":  proxyStateJSON(&state),
			"script": scriptField,
			"hint":   envOnHint(),
		})
	}
	// Piped stdout gets the raw script so `eval "$(... proxy start)"` works.
	if opts.PrintEnv || !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Print(script)
		return nil
	}

	fmt.Printf("Saved proxy endpoints: http://%s:%d, socks5://%s:%d\n",
		state.Host, state.HTTPPort, state.Host, state.SocksPort)
	fmt.Println("Apply in this shell:")
	fmt.Printf("  %s\n", envOnHint())
	return nil
}

// ProxyStopOptions parameterize proxy stop.
type ProxyStopOptions struct {
	PrintEnv bool
	Mode     output.Mode
}

// RunProxyStop clears the persisted proxy state.
func RunProxyStop(opts ProxyStopOptions) error {
	p, err := resolvePaths()
	if err != nil {
		return err
	}
	if err := proxyenv.Clear(p); err != nil {
		return reportError(opts.Mode, "proxy.stop", err)
	}

	script := proxyenv.UnsetScript()
	if opts.Mode.IsJSON() {
		var scriptField interface{}
		if opts.PrintEnv {
			scriptField = script
		}
		return output.PrintJSON(map[string]interface{}{
			"ok":     true,
			"action": "proxy.stop",
			"script": scriptField,
			"hint":   envOffHint(),
		})
	}
	if opts.PrintEnv || !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Print(script)
		return nil
	}

	fmt.Println("Cleared proxy state.")
	fmt.Println("Unset in this shell:")
	fmt.Printf("  %s\n", envOffHint())
	return nil
}

// RunProxyStatus shows the persisted proxy state.
func RunProxyStatus(mode output.Mode) error {
	p, err := resolvePaths()
	if err != nil {
		return err
	}
	state, err := proxyenv.ReadState(p.ProxyStateFile)
	if errors.Is(err, proxyenv.ErrNotStarted) {
		if mode.IsJSON() {
			return output.PrintJSON(map[string]interface{}{
				"ok":         true,
				"action":     "proxy.status",
				"configured": false,
				"hint":       fmt.Sprintf("run `%s proxy start` first", brand.BinaryName),
			})
		}
		fmt.Println("Proxy state: not configured")
		fmt.Printf("Hint: run `%s proxy start` first\n", brand.BinaryName)
		return nil
	}
	if err != nil {
		return reportError(mode, "proxy.status", err)
	}

	if mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":         true,
			"action":     "proxy.status",
			"configured": true,
			"state":      proxyStateJSON(state),
			"hint":       envOnHint(),
		})
	}

	fmt.Println("Proxy state: configured")
	fmt.Printf("HTTP/HTTPS: http://%s:%d\n", state.Host, state.HTTPPort)
	fmt.Printf("SOCKS5: socks5://%s:%d\n", state.Host, state.SocksPort)
	fmt.Printf("NO_PROXY: %s\n", state.NoProxy)
	fmt.Printf("Apply in this shell: %s\n", envOnHint())
	return nil
}

// RunProxyEnv prints the export or unset script for shell eval.
func RunProxyEnv(on bool, mode output.Mode) error {
	if !on {
		script := proxyenv.UnsetScript()
		if mode.IsJSON() {
			return output.PrintJSON(map[string]interface{}{
				"ok":     true,
				"action": "proxy.env.off",
				"script": script,
			})
		}
		fmt.Print(script)
		return nil
	}

	p, err := resolvePaths()
	if err != nil {
		return err
	}
	state, err := proxyenv.ReadState(p.ProxyStateFile)
	if err != nil {
		if errors.Is(err, proxyenv.ErrNotStarted) {
			err = fmt.Errorf("proxy state missing; run `%s proxy start` first", brand.BinaryName)
		}
		return reportError(mode, "proxy.env.on", err)
	}
	script := state.ExportScript()
	if mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":     true,
			"action": "proxy.env.on",
			"script": script,
		})
	}
	fmt.Print(script)
	return nil
}
