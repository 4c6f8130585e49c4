package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clashctl.sh/clashctl/internal/paths"
)

func TestNormalizeControllerURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:9090":           "http://127.0.0.1:9090",
		"http://127.0.0.1:9090":    "http://127.0.0.1:9090",
		"https://proxy.local:9090": "https://proxy.local:9090",
		"example.com:9999/":        "http://example.com:9999",
		"http://example.com:9999/": "http://example.com:9999",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeControllerURL(input), "input %q", input)
	}
}

func TestDashboardURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:9090/ui", DashboardURL("http://127.0.0.1:9090"))
	assert.Equal(t, "http://127.0.0.1:9090/ui", DashboardURL("http://127.0.0.1:9090/"))
}

func TestResolvePrecedence(t *testing.T) {
	p := paths.FromConfigDir(t.TempDir())
	require.NoError(t, os.MkdirAll(filepath.Dir(p.RuntimeConfigFile), 0o755))
	require.NoError(t, os.WriteFile(p.RuntimeConfigFile,
		[]byte("external-controller: 0.0.0.0:9091\nsecret: cfg-token\n"), 0o644))

	// Explicit flags win.
	c := Resolve(p, Options{Controller: "127.0.0.1:9090", Secret: "flag-token"})
	assert.Equal(t, "http://127.0.0.1:9090", c.BaseURL)
	assert.Equal(t, "flag-token", c.Secret)

	// Config fills whatever the flags left empty.
	c = Resolve(p, Options{})
	assert.Equal(t, "http://0.0.0.0:9091", c.BaseURL)
	assert.Equal(t, "cfg-token", c.Secret)
	assert.Equal(t, 15*time.Second, c.HTTP.Timeout)
}

func TestResolveFallsBackToDefaultController(t *testing.T) {
	c := Resolve(paths.FromConfigDir(t.TempDir()), Options{Timeout: 2 * time.Second})
	assert.Equal(t, "http://"+DefaultController, c.BaseURL)
	assert.Empty(t, c.Secret)
	assert.Equal(t, 2*time.Second, c.HTTP.Timeout)
}

func testClient(url, secret string) *Client {
	return &Client{BaseURL: url, Secret: secret, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

func TestGetSendsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sekrit" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"version":"v1.19.0"}`))
	}))
	defer server.Close()

	body, err := testClient(server.URL, "sekrit").Get("/version")
	require.NoError(t, err)
	assert.Equal(t, "v1.19.0", body["version"])

	_, err = testClient(server.URL, "wrong").Get("/version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestPatchSendsJSONAndAcceptsNoContent(t *testing.T) {
	var gotMethod, gotBody, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		payload, _ := io.ReadAll(r.Body)
		gotBody = string(payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	body, err := testClient(server.URL, "").Patch("/configs", map[string]string{"mode": "rule"})
	require.NoError(t, err)
	assert.Empty(t, body)
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"mode":"rule"}`, gotBody)
}

func TestDoRejectsNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := testClient(server.URL, "").Get("/proxies")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLoadUIFieldsBestEffort(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath,
		[]byte("external-ui: ui\nexternal-ui-name: zashboard\n"), 0o644))

	fields := LoadUIFields(configPath)
	assert.Equal(t, "ui", fields.ExternalUI)
	assert.Equal(t, "zashboard", fields.ExternalUIName)
	assert.Empty(t, fields.ExternalUIURL)

	assert.Equal(t, UIFields{}, LoadUIFields(filepath.Join(dir, "missing.yaml")))
}

func TestWsEndpoint(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:9090/traffic", wsEndpoint("http://127.0.0.1:9090", "/traffic"))
	assert.Equal(t, "wss://proxy.local/traffic", wsEndpoint("https://proxy.local", "/traffic"))
	assert.Equal(t, "ws://127.0.0.1:9090/traffic", wsEndpoint("127.0.0.1:9090", "/traffic"))
}

func TestTrafficSamplesReadsRequestedCount(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/traffic" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sekrit" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 10; i++ {
			if err := conn.WriteJSON(Traffic{Up: int64(i * 100), Down: int64(i * 200)}); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	samples, err := testClient(server.URL, "sekrit").TrafficSamples(3)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, Traffic{Up: 100, Down: 200}, samples[1])
}

func TestTrafficSamplesReportsHandshakeRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := testClient(server.URL, "").TrafficSamples(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
