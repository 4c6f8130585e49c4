package privilege

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clashctl.sh/clashctl/internal/output"
	"clashctl.sh/clashctl/internal/system"
)

const statusWithCaps = "Name:\tclashctl\nUid:\t1000\nCapEff:\t0000000000003000\n"

func TestReadCapMaskParsesHexValue(t *testing.T) {
	insp := &system.FakeInspector{Files: map[string]string{
		"/proc/self/status": statusWithCaps,
	}}

	mask, err := ReadCapMask(insp, "/proc/self/status")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3000), mask)
}

func TestReadCapMaskErrors(t *testing.T) {
	insp := &system.FakeInspector{Files: map[string]string{
		"/no-capeff": "Name:\tclashctl\n",
		"/bad-value": "CapEff:\tzz\n",
	}}

	_, err := ReadCapMask(insp, "/missing")
	assert.Error(t, err)

	_, err = ReadCapMask(insp, "/no-capeff")
	assert.Error(t, err)

	_, err = ReadCapMask(insp, "/bad-value")
	assert.Error(t, err)
}

func TestHasCapabilityChecksSingleBits(t *testing.T) {
	insp := &system.FakeInspector{Files: map[string]string{
		// Only bit 12 set.
		"/proc/self/status": "CapEff:\t0000000000001000\n",
	}}

	admin, err := HasCapability(insp, "/proc/self/status", CapNetAdminBit)
	require.NoError(t, err)
	assert.True(t, admin)

	raw, err := HasCapability(insp, "/proc/self/status", CapNetRawBit)
	require.NoError(t, err)
	assert.False(t, raw)
}

func TestEnsureAcceptsRoot(t *testing.T) {
	runner := new(system.MockCommandRunner)
	runner.On("Output", "id", "-u").Return([]byte("0\n"), nil)
	insp := &system.FakeInspector{Files: map[string]string{}}

	assert.NoError(t, Ensure(runner, insp))
}

func TestEnsureAcceptsBothNetCapabilities(t *testing.T) {
	runner := new(system.MockCommandRunner)
	runner.On("Output", "id", "-u").Return([]byte("1000\n"), nil)
	insp := &system.FakeInspector{Files: map[string]string{
		"/proc/self/status": statusWithCaps,
	}}

	assert.NoError(t, Ensure(runner, insp))
}

func TestEnsureRejectsPartialCapabilities(t *testing.T) {
	runner := new(system.MockCommandRunner)
	runner.On("Output", "id", "-u").Return([]byte("1000\n"), nil)
	insp := &system.FakeInspector{Files: map[string]string{
		"/proc/self/status": "CapEff:\t0000000000001000\n",
	}}

	err := Ensure(runner, insp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAP_NET_ADMIN")
}

func TestEnsureTreatsProbeFailureAsUnprivileged(t *testing.T) {
	runner := new(system.MockCommandRunner)
	runner.On("Output", "id", "-u").Return([]byte("1000\n"), nil)
	insp := &system.FakeInspector{Files: map[string]string{}}

	assert.Error(t, Ensure(runner, insp))
}

func TestShouldDelegateNeverInJSONMode(t *testing.T) {
	runner := new(system.MockCommandRunner)
	assert.False(t, shouldDelegate(output.JSON, runner))
}

func TestShouldDelegateNeverRecursively(t *testing.T) {
	t.Setenv("CLASHCTL_SUDO_REEXEC", "1")
	runner := new(system.MockCommandRunner)
	assert.False(t, shouldDelegate(output.Text, runner))
}

func TestEnsureOrDelegateLenientProceedsUnprivileged(t *testing.T) {
	// Delegation is unavailable here (test processes have no terminal),
	// so Lenient must degrade to proceeding without privileges.
	t.Setenv("CLASHCTL_NO_AUTO_SUDO", "1")
	runner := new(system.MockCommandRunner)
	runner.On("Output", "id", "-u").Return([]byte("1000\n"), nil)
	insp := &system.FakeInspector{Files: map[string]string{}}

	status, code, err := EnsureOrDelegate(runner, insp, DelegateOptions{
		Mode:    output.Text,
		Args:    []string{"tun", "doctor"},
		Lenient: true,
	})
	require.NoError(t, err)
	assert.Equal(t, Granted, status)
	assert.Equal(t, 0, code)
}

func TestEnsureOrDelegateReportsErrorWhenStrict(t *testing.T) {
	t.Setenv("CLASHCTL_NO_AUTO_SUDO", "1")
	runner := new(system.MockCommandRunner)
	runner.On("Output", "id", "-u").Return([]byte("1000\n"), nil)
	insp := &system.FakeInspector{Files: map[string]string{}}

	status, _, err := EnsureOrDelegate(runner, insp, DelegateOptions{
		Mode: output.Text,
		Args: []string{"tun", "on"},
	})
	require.Error(t, err)
	assert.Equal(t, Granted, status)
}
