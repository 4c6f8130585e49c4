// Package api is a thin client for the proxy daemon's external controller
// HTTP API.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clashctl.sh/clashctl/internal/config"
	"clashctl.sh/clashctl/internal/paths"
)

// DefaultController is used when neither flags nor the runtime config name
// an endpoint.
const DefaultController = "127.0.0.1:9090"

// connectTimeout bounds dialing separately from the overall request timeout.
const connectTimeout = 8 * time.Second

// Client talks to one controller endpoint.
type Client struct {
	BaseURL string
	Secret  string
	HTTP    *http.Client
}

// Options select the controller endpoint. Explicit values win over the
// runtime config.
type Options struct {
	Controller string
	Secret     string
	Timeout    time.Duration
}

// Resolve builds a Client from explicit options with runtime config
// fallback: flag, then the config's external-controller and secret fields,
// then the default endpoint.
func Resolve(p paths.AppPaths, opts Options) *Client {
	controller := opts.Controller
	secret := opts.Secret
	if controller == "" || secret == "" {
		doc, err := config.Load(p.RuntimeConfigFile)
		if err == nil {
			if controller == "" {
				controller, _ = doc.String("external-controller")
			}
			if secret == "" {
				secret, _ = doc.String("secret")
			}
		}
	}
	if controller == "" {
		controller = DefaultController
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: NormalizeControllerURL(controller),
		Secret:  secret,
		HTTP: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
				TLSHandshakeTimeout:   connectTimeout,
			},
		},
	}
}

// NormalizeControllerURL turns host:port shorthand into a full http URL and
// strips trailing slashes.
func NormalizeControllerURL(value string) string {
	trimmed := strings.TrimRight(value, "/")
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	return "http://" + trimmed
}

// DashboardURL is the built-in web UI endpoint beneath the controller.
func DashboardURL(controller string) string {
	return strings.TrimRight(controller, "/") + "/ui"
}

// Get performs a GET against path and decodes the JSON object response.
func (c *Client) Get(path string) (map[string]interface{}, error) {
	return c.do(http.MethodGet, path, nil)
}

// Patch performs a PATCH with a JSON payload and decodes the response.
// Endpoints answering 204 No Content yield an empty object.
func (c *Client) Patch(path string, payload interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request payload: %w", err)
	}
	return c.do(http.MethodPatch, path, body)
}

func (c *Client) do(method, path string, body []byte) (map[string]interface{}, error) {
	url := c.BaseURL + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applySecret(req.Header)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned %s", url, resp.Status)
	}
	if resp.StatusCode == http.StatusNoContent {
		return map[string]interface{}{}, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]interface{}{}, nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return decoded, nil
}

func (c *Client) applySecret(header http.Header) {
	if c.Secret != "" {
		header.Set("Authorization", "Bearer "+c.Secret)
	}
}

// UIFields are the dashboard-related root keys of the runtime config.
type UIFields struct {
	ExternalUI     string
	ExternalUIName string
	ExternalUIURL  string
}

// LoadUIFields best-effort reads the dashboard fields; a missing or broken
// config yields empty fields.
func LoadUIFields(configPath string) UIFields {
	fields := UIFields{}
	doc, err := config.Load(configPath)
	if err != nil {
		return fields
	}
	fields.ExternalUI, _ = doc.String("external-ui")
	fields.ExternalUIName, _ = doc.String("external-ui-name")
	fields.ExternalUIURL, _ = doc.String("external-ui-url")
	return fields
}
