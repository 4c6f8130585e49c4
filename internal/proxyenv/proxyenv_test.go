package proxyenv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clashctl.sh/clashctl/internal/paths"
)

func TestStateRoundTripThroughFiles(t *testing.T) {
	p := paths.FromConfigDir(t.TempDir())
	in := &State{Host: "192.168.1.5", HTTPPort: 8080, SocksPort: 1080, NoProxy: "localhost"}
	require.NoError(t, WriteState(p, in))

	out, err := ReadState(p.ProxyStateFile)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	script, err := os.ReadFile(p.ProxyEnvFile)
	require.NoError(t, err)
	assert.Equal(t, in.ExportScript(), string(script))
}

func TestReadStateNotStarted(t *testing.T) {
	_, err := ReadState(filepath.Join(t.TempDir(), "proxy.state"))
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestDecodeStateDefaultsNoProxy(t *testing.T) {
	state, err := decodeState("host=127.0.0.1\nhttp_port=7890\nsocks_port=7891\n")
	require.NoError(t, err)
	assert.Equal(t, DefaultNoProxy, state.NoProxy)
}

func TestDecodeStateRejectsBadPorts(t *testing.T) {
	_, err := decodeState("host=127.0.0.1\nhttp_port=http\nsocks_port=7891\n")
	assert.Error(t, err)

	_, err = decodeState("host=127.0.0.1\nhttp_port=7890\n")
	assert.Error(t, err)
}

func TestExportScriptContents(t *testing.T) {
	s := &State{Host: "127.0.0.1", HTTPPort: 7890, SocksPort: 7891, NoProxy: DefaultNoProxy}
	script := s.ExportScript()

	assert.Contains(t, script, `export http_proxy="http://127.0.0.1:7890"`)
	assert.Contains(t, script, `export HTTPS_PROXY="http://127.0.0.1:7890"`)
	assert.Contains(t, script, `export all_proxy="socks5h://127.0.0.1:7891"`)
	assert.Contains(t, script, `export no_proxy="localhost,127.0.0.1,::1"`)
}

func TestUnsetScriptRemovesEveryExportedVariable(t *testing.T) {
	script := UnsetScript()
	for _, name := range []string{
		"http_proxy", "https_proxy", "all_proxy",
		"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY",
		"no_proxy", "NO_PROXY",
	} {
		assert.Contains(t, script, name)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	p := paths.FromConfigDir(t.TempDir())
	require.NoError(t, WriteState(p, &State{Host: "127.0.0.1", HTTPPort: 1, SocksPort: 2}))

	require.NoError(t, Clear(p))
	assert.NoFileExists(t, p.ProxyStateFile)
	assert.NoFileExists(t, p.ProxyEnvFile)
	require.NoError(t, Clear(p))
}

func TestNormalizeHostMapsWildcards(t *testing.T) {
	assert.Equal(t, DefaultHost, normalizeHost(""))
	assert.Equal(t, DefaultHost, normalizeHost("0.0.0.0"))
	assert.Equal(t, DefaultHost, normalizeHost("::"))
	assert.Equal(t, DefaultHost, normalizeHost("*"))
	assert.Equal(t, "10.0.0.2", normalizeHost("10.0.0.2"))
}

func TestLoadRuntimeDefaultsReadsListeners(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("bind-address: '*'\nmixed-port: 7893\nsocks-port: 7894\n"), 0o644))

	d := LoadRuntimeDefaults(configPath)
	assert.Equal(t, DefaultHost, d.Host)
	require.NotNil(t, d.MixedPort)
	assert.Equal(t, uint16(7893), *d.MixedPort)
	assert.Nil(t, d.HTTPPort)
	require.NotNil(t, d.SocksPort)
	assert.Equal(t, uint16(7894), *d.SocksPort)
}

func TestLoadRuntimeDefaultsToleratesMissingConfig(t *testing.T) {
	d := LoadRuntimeDefaults(filepath.Join(t.TempDir(), "config.yaml"))
	assert.Equal(t, RuntimeDefaults{}, d)
}

func TestResolvePrecedence(t *testing.T) {
	port := func(v uint16) *uint16 { return &v }

	// Explicit flags beat everything.
	s := Resolve("10.0.0.9", 8080, 1080, "internal", RuntimeDefaults{
		Host: "172.16.0.1", HTTPPort: port(1), SocksPort: port(2),
	})
	assert.Equal(t, State{Host: "10.0.0.9", HTTPPort: 8080, SocksPort: 1080, NoProxy: "internal"}, s)

	// Config hints beat built-in defaults.
	s = Resolve("", 0, 0, "", RuntimeDefaults{HTTPPort: port(9080), SocksPort: port(9081)})
	assert.Equal(t, uint16(9080), s.HTTPPort)
	assert.Equal(t, uint16(9081), s.SocksPort)
	assert.Equal(t, DefaultHost, s.Host)
	assert.Equal(t, DefaultNoProxy, s.NoProxy)

	// The mixed listener covers both protocols when the dedicated
	// listeners are absent.
	s = Resolve("", 0, 0, "", RuntimeDefaults{MixedPort: port(7893)})
	assert.Equal(t, uint16(7893), s.HTTPPort)
	assert.Equal(t, uint16(7893), s.SocksPort)

	// Nothing anywhere: built-in defaults.
	s = Resolve("", 0, 0, "", RuntimeDefaults{})
	assert.Equal(t, State{Host: DefaultHost, HTTPPort: DefaultHTTPPort, SocksPort: DefaultSocksPort, NoProxy: DefaultNoProxy}, s)
}
