package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clashctl.sh/clashctl/internal/system"
)

func TestResolveHonorsHomeOverride(t *testing.T) {
	t.Setenv("CLASHCTL_HOME", "/opt/clashctl")

	p, err := Resolve(new(system.MockCommandRunner))
	require.NoError(t, err)
	assert.Equal(t, "/opt/clashctl", p.ConfigDir)
}

func TestResolveUsesSystemDirForRoot(t *testing.T) {
	t.Setenv("CLASHCTL_HOME", "")
	runner := new(system.MockCommandRunner)
	runner.On("Output", "id", "-u").Return([]byte("0\n"), nil)

	p, err := Resolve(runner)
	require.NoError(t, err)
	assert.Equal(t, "/etc/clashctl", p.ConfigDir)
}

func TestResolveFollowsXDGForUsers(t *testing.T) {
	t.Setenv("CLASHCTL_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "/home/op/.config")
	runner := new(system.MockCommandRunner)
	runner.On("Output", "id", "-u").Return([]byte("1000\n"), nil)

	p, err := Resolve(runner)
	require.NoError(t, err)
	assert.Equal(t, "/home/op/.config/clashctl", p.ConfigDir)
}

func TestFromConfigDirLayout(t *testing.T) {
	p := FromConfigDir("/cfg")

	assert.Equal(t, "/cfg/proxy.state", p.ProxyStateFile)
	assert.Equal(t, "/cfg/proxy.env", p.ProxyEnvFile)
	assert.Equal(t, filepath.Join("/cfg", "core", "mihomo"), p.CoreCurrentLink)
	assert.Equal(t, filepath.Join("/cfg", "runtime", "config.yaml"), p.RuntimeConfigFile)
	assert.Equal(t, filepath.Join("/cfg", "runtime", "tun.state"), p.TunStateFile)
}

func TestIsRoot(t *testing.T) {
	root := new(system.MockCommandRunner)
	root.On("Output", "id", "-u").Return([]byte("0\n"), nil)
	assert.True(t, IsRoot(root))

	user := new(system.MockCommandRunner)
	user.On("Output", "id", "-u").Return([]byte("1000\n"), nil)
	assert.False(t, IsRoot(user))

	broken := new(system.MockCommandRunner)
	broken.On("Output", "id", "-u").Return(nil, assert.AnError)
	assert.False(t, IsRoot(broken))
}
