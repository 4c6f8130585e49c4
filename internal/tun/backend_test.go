package tun

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clashctl.sh/clashctl/internal/system"
)

func expectExists(r *system.MockCommandRunner, binary string, ok bool) {
	r.On("Check", binary, "--version").Return(ok)
	if !ok {
		r.On("Check", binary, "-V").Return(false)
	}
}

func TestSelectBackendPrefersNft(t *testing.T) {
	runner := new(system.MockCommandRunner)
	expectExists(runner, "nft", true)

	backend, err := SelectBackend(runner)
	require.NoError(t, err)
	assert.Equal(t, BackendNft, backend.Name())
}

func TestSelectBackendFallsBackToIptables(t *testing.T) {
	runner := new(system.MockCommandRunner)
	expectExists(runner, "nft", false)
	expectExists(runner, "iptables", true)

	backend, err := SelectBackend(runner)
	require.NoError(t, err)
	assert.Equal(t, BackendIptables, backend.Name())
}

func TestSelectBackendFailsWithoutTools(t *testing.T) {
	runner := new(system.MockCommandRunner)
	expectExists(runner, "nft", false)
	expectExists(runner, "iptables", false)

	_, err := SelectBackend(runner)
	assert.Error(t, err)
}

func TestNftApplyLoadsScriptAndVerifies(t *testing.T) {
	runner := new(system.MockCommandRunner)
	expectExists(runner, "nft", true)
	runner.On("Run", "nft", "delete", "table", "inet", NFTTableName).Return(errors.New("no such table"))
	runner.On("RunInput", mock.Anything, "nft", "-f", "-").Return(nil)
	runner.On("Check", "nft", "list", "table", "inet", NFTTableName).Return(true)

	backend := &nftBackend{runner: runner}
	require.NoError(t, backend.Apply(7892))
	runner.AssertExpectations(t)
}

func TestNftApplyFailsWhenTableMissingAfterLoad(t *testing.T) {
	runner := new(system.MockCommandRunner)
	expectExists(runner, "nft", true)
	runner.On("Run", "nft", "delete", "table", "inet", NFTTableName).Return(nil)
	runner.On("RunInput", mock.Anything, "nft", "-f", "-").Return(nil)
	runner.On("Check", "nft", "list", "table", "inet", NFTTableName).Return(false)

	backend := &nftBackend{runner: runner}
	assert.Error(t, backend.Apply(7892))
}

func TestNftScriptContents(t *testing.T) {
	script := nftScript(17892)

	assert.Contains(t, script, "table inet "+NFTTableName)
	assert.Contains(t, script, "type nat hook prerouting priority dstnat")
	assert.Contains(t, script, "type nat hook output priority -100")
	// Root-owned traffic in the output hook skips the redirect.
	assert.Contains(t, script, "meta skuid 0 return")
	assert.Contains(t, script, "redirect to :17892")
	for _, cidr := range privateIPv4 {
		assert.Contains(t, script, cidr)
	}
	for _, cidr := range privateIPv6 {
		assert.Contains(t, script, cidr)
	}
	assert.Contains(t, script, "tcp dport { 7890, 7891, 9090, 17892 } return")
}

func TestBypassPortsDedupesRedirPort(t *testing.T) {
	assert.Equal(t, []uint16{7890, 7891, 9090}, bypassPorts(7890))
	assert.Equal(t, []uint16{7890, 7891, 7892, 9090}, bypassPorts(7892))
}

func TestNftCleanupIsIdempotent(t *testing.T) {
	runner := new(system.MockCommandRunner)
	expectExists(runner, "nft", true)
	runner.On("Check", "nft", "list", "table", "inet", NFTTableName).Return(false)

	backend := &nftBackend{runner: runner}
	require.NoError(t, backend.Cleanup())
	runner.AssertNotCalled(t, "Run", "nft", "delete", "table", "inet", NFTTableName)
}

func TestApplyFallsBackFromNftToIptables(t *testing.T) {
	runner := new(system.MockCommandRunner)
	expectExists(runner, "nft", true)
	expectExists(runner, "iptables", true)
	expectExists(runner, "ip6tables", false)
	runner.On("Run", "nft", "delete", "table", "inet", NFTTableName).Return(nil)
	runner.On("RunInput", mock.Anything, "nft", "-f", "-").Return(errors.New("kernel lacks nf_tables"))
	// Chain create/flush (5 args), range bypass and jump appends (9),
	// port bypass and redirect appends (11), OUTPUT owner jump (13).
	runner.On("Run", "iptables", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	runner.On("Run", "iptables", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	runner.On("Run", "iptables", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	runner.On("Run", "iptables", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	// The jump probe fails until the rule is appended, then succeeds.
	runner.On("Check", "iptables", "-t", "nat", "-C", "PREROUTING", "-p", "tcp", "-j", IPTChainName).Return(false).Once()
	runner.On("Check", "iptables", "-t", "nat", "-C", "PREROUTING", "-p", "tcp", "-j", IPTChainName).Return(true)
	runner.On("Check", "iptables", "-t", "nat", "-C", "OUTPUT", "-p", "tcp",
		"-m", "owner", "!", "--uid-owner", "0", "-j", IPTChainName).Return(false).Once()
	runner.On("Check", "iptables", "-t", "nat", "-C", "OUTPUT", "-p", "tcp",
		"-m", "owner", "!", "--uid-owner", "0", "-j", IPTChainName).Return(true)

	preferred := &nftBackend{runner: runner}
	applied, err := Apply(runner, preferred, 7892)
	require.NoError(t, err)
	assert.Equal(t, BackendIptables, applied)
}

func TestApplyNoFallbackWithoutIptables(t *testing.T) {
	runner := new(system.MockCommandRunner)
	expectExists(runner, "nft", true)
	expectExists(runner, "iptables", false)
	runner.On("Run", "nft", "delete", "table", "inet", NFTTableName).Return(nil)
	runner.On("RunInput", mock.Anything, "nft", "-f", "-").Return(errors.New("load failed"))

	preferred := &nftBackend{runner: runner}
	_, err := Apply(runner, preferred, 7892)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load failed")
}

func TestDetectActiveProbesIndependentOfState(t *testing.T) {
	runner := new(system.MockCommandRunner)
	expectExists(runner, "nft", true)
	runner.On("Check", "nft", "list", "table", "inet", NFTTableName).Return(false)
	expectExists(runner, "iptables", true)
	expectExists(runner, "ip6tables", false)
	runner.On("Check", "iptables", "-t", "nat", "-C", "PREROUTING", "-p", "tcp", "-j", IPTChainName).Return(true)

	assert.Equal(t, BackendIptables, DetectActive(runner))
}

func TestDetectActiveNone(t *testing.T) {
	runner := new(system.MockCommandRunner)
	expectExists(runner, "nft", false)
	expectExists(runner, "iptables", false)
	expectExists(runner, "ip6tables", false)

	assert.Equal(t, BackendNone, DetectActive(runner))
}

func TestIptablesRemoveJumpDeletesDuplicates(t *testing.T) {
	runner := new(system.MockCommandRunner)
	probe := []interface{}{"iptables", "-t", "nat", "-C", "PREROUTING", "-p", "tcp", "-j", IPTChainName}
	del := []interface{}{"iptables", "-t", "nat", "-D", "PREROUTING", "-p", "tcp", "-j", IPTChainName}
	runner.On("Check", probe...).Return(true).Twice()
	runner.On("Check", probe...).Return(false)
	runner.On("Run", del...).Return(nil).Twice()

	backend := &iptablesBackend{runner: runner}
	require.NoError(t, backend.removeJump("iptables", "PREROUTING", false))
	runner.AssertExpectations(t)
}

func TestIptablesRemoveJumpIsBounded(t *testing.T) {
	runner := new(system.MockCommandRunner)
	probe := []interface{}{"iptables", "-t", "nat", "-C", "OUTPUT", "-p", "tcp", "-j", IPTChainName}
	del := []interface{}{"iptables", "-t", "nat", "-D", "OUTPUT", "-p", "tcp", "-j", IPTChainName}
	// A probe that never converges must not loop forever.
	runner.On("Check", probe...).Return(true)
	runner.On("Run", del...).Return(nil)

	backend := &iptablesBackend{runner: runner}
	require.NoError(t, backend.removeJump("iptables", "OUTPUT", false))
	runner.AssertNumberOfCalls(t, "Run", maxDuplicateJumps)
}

func TestCleanupAllFailsOnlyWhenBothFail(t *testing.T) {
	// nft cleanup fails, iptables tools absent (their cleanup succeeds
	// trivially): overall success.
	runner := new(system.MockCommandRunner)
	expectExists(runner, "nft", true)
	runner.On("Check", "nft", "list", "table", "inet", NFTTableName).Return(true)
	runner.On("Run", "nft", "delete", "table", "inet", NFTTableName).Return(errors.New("permission denied"))
	expectExists(runner, "iptables", false)

	assert.NoError(t, CleanupAll(runner))
}

func TestCleanupAllReportsBothErrors(t *testing.T) {
	runner := new(system.MockCommandRunner)
	expectExists(runner, "nft", true)
	runner.On("Check", "nft", "list", "table", "inet", NFTTableName).Return(true)
	runner.On("Run", "nft", "delete", "table", "inet", NFTTableName).Return(errors.New("nft broken"))
	expectExists(runner, "iptables", true)
	runner.On("Check", "iptables", "-t", "nat", "-C", "PREROUTING", "-p", "tcp", "-j", IPTChainName).Return(true)
	runner.On("Run", "iptables", "-t", "nat", "-D", "PREROUTING", "-p", "tcp", "-j", IPTChainName).Return(errors.New("iptables broken"))

	err := CleanupAll(runner)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "nft broken") && strings.Contains(err.Error(), "iptables broken"))
}
