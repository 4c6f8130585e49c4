package tun

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime", "tun.state")
	in := &State{
		Enabled:      true,
		ServiceName:  "clash-mihomo",
		UserService:  true,
		Backend:      BackendNft,
		RedirPort:    17892,
		RulesApplied: true,
		UpdatedAt:    1735689600,
	}
	require.NoError(t, WriteState(path, in))

	out, err := ReadState(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadStateMissingFileMeansNoPriorOperation(t *testing.T) {
	state, err := ReadState(filepath.Join(t.TempDir(), "tun.state"))
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestDecodeStateDefaults(t *testing.T) {
	state, err := decodeState("enabled=true\nservice_name=clash-mihomo\nuser_service=false\nupdated_at=100\n")
	require.NoError(t, err)
	assert.Equal(t, BackendNone, state.Backend)
	assert.Equal(t, DefaultRedirPort, state.RedirPort)
	assert.False(t, state.RulesApplied)
}

func TestDecodeStateIgnoresUnknownKeysAndComments(t *testing.T) {
	content := "# written by an older build\nenabled=false\nservice_name=x\nuser_service=false\nupdated_at=1\nfuture_key=whatever\n"
	state, err := decodeState(content)
	require.NoError(t, err)
	assert.False(t, state.Enabled)
	assert.Equal(t, "x", state.ServiceName)
}

func TestDecodeStateNormalizesUnknownBackend(t *testing.T) {
	state, err := decodeState("enabled=true\nservice_name=x\nuser_service=false\nupdated_at=1\nbackend=ebpf\n")
	require.NoError(t, err)
	assert.Equal(t, BackendNone, state.Backend)
}

func TestDecodeStateMissingRequiredField(t *testing.T) {
	cases := map[string]string{
		"enabled":      "service_name=x\nuser_service=false\nupdated_at=1\n",
		"service_name": "enabled=true\nuser_service=false\nupdated_at=1\n",
		"user_service": "enabled=true\nservice_name=x\nupdated_at=1\n",
		"updated_at":   "enabled=true\nservice_name=x\nuser_service=false\n",
	}
	for field, content := range cases {
		_, err := decodeState(content)
		require.Error(t, err, "missing %s must fail", field)
		assert.Contains(t, err.Error(), field)
	}
}

func TestDecodeStateInvalidValues(t *testing.T) {
	_, err := decodeState("enabled=yes\nservice_name=x\nuser_service=false\nupdated_at=1\n")
	assert.Error(t, err)

	_, err = decodeState("enabled=true\nservice_name=x\nuser_service=false\nupdated_at=soon\n")
	assert.Error(t, err)

	_, err = decodeState("enabled=true\nservice_name=x\nuser_service=false\nupdated_at=1\nredir_port=99999\n")
	assert.Error(t, err)
}

func TestWriteStateCreatesParentDirs(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "a", "b", "tun.state")
	require.NoError(t, WriteState(path, &State{ServiceName: "s", Backend: BackendNone}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "service_name=s\n")
}
