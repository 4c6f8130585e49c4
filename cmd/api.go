package cmd

import (
	"fmt"
	"time"

	"clashctl.sh/clashctl/internal/api"
	"clashctl.sh/clashctl/internal/output"
)

// APIOptions carry the controller connection flags shared by every api
// subcommand.
type APIOptions struct {
	Controller string
	Secret     string
	Timeout    time.Duration
	Mode       output.Mode
}

func (o APIOptions) client() (*api.Client, error) {
	p, err := resolvePaths()
	if err != nil {
		return nil, err
	}
	return api.Resolve(p, api.Options{
		Controller: o.Controller,
		Secret:     o.Secret,
		Timeout:    o.Timeout,
	}), nil
}

// RunAPIStatus probes the controller and prints version and mode.
func RunAPIStatus(opts APIOptions) error {
	client, err := opts.client()
	if err != nil {
		return err
	}
	// Older cores lack /version; /configs answers on all of them.
	response, err := client.Get("/version")
	if err != nil {
		response, err = client.Get("/configs")
	}
	if err != nil {
		return reportError(opts.Mode, "api.status", err)
	}

	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":         true,
			"action":     "api.status",
			"controller": client.BaseURL,
			"response":   response,
		})
	}

	fmt.Printf("Controller: %s\n", client.BaseURL)
	if version, ok := response["version"].(string); ok {
		fmt.Printf("Core version: %s\n", version)
	}
	if mode, ok := response["mode"].(string); ok {
		fmt.Printf("Mode: %s\n", mode)
	}
	return nil
}

// RunAPIModeGet reads the current routing mode.
func RunAPIModeGet(opts APIOptions) error {
	client, err := opts.client()
	if err != nil {
		return err
	}
	response, err := client.Get("/configs")
	if err != nil {
		return reportError(opts.Mode, "api.mode.get", err)
	}
	mode, ok := response["mode"].(string)
	if !ok {
		mode = "unknown"
	}

	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":       true,
			"action":   "api.mode.get",
			"mode":     mode,
			"response": response,
		})
	}
	fmt.Printf("Mode: %s\n", mode)
	return nil
}

var validModes = map[string]bool{
	"rule":   true,
	"global": true,
	"direct": true,
	"script": true,
}

// RunAPIModeSet switches the routing mode.
func RunAPIModeSet(opts APIOptions, mode string) error {
	if !validModes[mode] {
		return fmt.Errorf("invalid mode %q; expected rule, global, direct or script", mode)
	}
	client, err := opts.client()
	if err != nil {
		return err
	}
	response, err := client.Patch("/configs", map[string]string{"mode": mode})
	if err != nil {
		return reportError(opts.Mode, "api.mode.set", err)
	}

	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":       true,
			"action":   "api.mode.set",
			"mode":     mode,
			"response": response,
		})
	}
	fmt.Printf("Mode set to %s.\n", mode)
	return nil
}

// RunAPIProxies summarizes the proxy objects.
func RunAPIProxies(opts APIOptions) error {
	client, err := opts.client()
	if err != nil {
		return err
	}
	response, err := client.Get("/proxies")
	if err != nil {
		return reportError(opts.Mode, "api.proxies", err)
	}

	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":       true,
			"action":   "api.proxies",
			"response": response,
		})
	}

	count := 0
	if proxies, ok := response["proxies"].(map[string]interface{}); ok {
		count = len(proxies)
	}
	fmt.Printf("Proxy objects: %d\n", count)
	return nil
}

// RunAPIConnections summarizes the live connections.
func RunAPIConnections(opts APIOptions) error {
	client, err := opts.client()
	if err != nil {
		return err
	}
	response, err := client.Get("/connections")
	if err != nil {
		return reportError(opts.Mode, "api.connections", err)
	}

	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":       true,
			"action":   "api.connections",
			"response": response,
		})
	}

	total := 0
	if conns, ok := response["connections"].([]interface{}); ok {
		total = len(conns)
	}
	fmt.Printf("Connections: %d\n", total)
	fmt.Printf("Download total: %.0f\n", floatField(response, "downloadTotal"))
	fmt.Printf("Upload total: %.0f\n", floatField(response, "uploadTotal"))
	return nil
}

func floatField(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

// RunAPIUIURL prints dashboard access information.
func RunAPIUIURL(opts APIOptions) error {
	client, err := opts.client()
	if err != nil {
		return err
	}
	p, err := resolvePaths()
	if err != nil {
		return err
	}
	ui := api.LoadUIFields(p.RuntimeConfigFile)
	dashboard := api.DashboardURL(client.BaseURL)

	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":               true,
			"action":           "api.ui-url",
			"controller":       client.BaseURL,
			"dashboard_url":    dashboard,
			"external_ui":      nonEmptyOrNil(ui.ExternalUI),
			"external_ui_name": nonEmptyOrNil(ui.ExternalUIName),
			"external_ui_url":  nonEmptyOrNil(ui.ExternalUIURL),
			"secret_set":       client.Secret != "",
		})
	}

	fmt.Printf("Controller: %s\n", client.BaseURL)
	fmt.Printf("Dashboard: %s\n", dashboard)
	if ui.ExternalUI != "" {
		fmt.Printf("external-ui: %s\n", ui.ExternalUI)
	}
	if ui.ExternalUIName != "" {
		fmt.Printf("external-ui-name: %s\n", ui.ExternalUIName)
	}
	if ui.ExternalUIURL != "" {
		fmt.Printf("external-ui-url: %s\n", ui.ExternalUIURL)
	}
	return nil
}

func nonEmptyOrNil(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

// RunAPITraffic samples the controller's traffic websocket.
func RunAPITraffic(opts APIOptions, samples int) error {
	client, err := opts.client()
	if err != nil {
		return err
	}
	traffic, err := client.TrafficSamples(samples)
	if err != nil {
		return reportError(opts.Mode, "api.traffic", err)
	}

	if opts.Mode.IsJSON() {
		return output.PrintJSON(map[string]interface{}{
			"ok":      true,
			"action":  "api.traffic",
			"samples": traffic,
		})
	}

	for _, sample := range traffic {
		fmt.Printf("up=%d B/s down=%d B/s\n", sample.Up, sample.Down)
	}
	return nil
}
