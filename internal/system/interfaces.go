// Package system abstracts the process and kernel boundaries behind small
// interfaces with one real implementation and testify mocks, so rule
// application and privilege logic can be unit-tested without root.
package system

// CommandRunner executes external commands.
type CommandRunner interface {
	// Run executes a command and fails on non-zero exit. The error carries
	// the captured stdout/stderr.
	Run(name string, args ...string) error
	// RunInput executes a command with input piped to stdin.
	RunInput(input string, name string, args ...string) error
	// Output executes a command and returns its stdout.
	Output(name string, args ...string) ([]byte, error)
	// Check executes a command with discarded output and reports whether it
	// exited zero. Used for existence/liveness probes where non-zero exit is
	// an answer, not an error.
	Check(name string, args ...string) bool
}

// Inspector reads kernel-exposed files (/proc, /sys, device nodes).
type Inspector interface {
	ReadFile(path string) (string, error)
	FileExists(path string) bool
}

// RealCommandRunner executes actual commands via os/exec.
type RealCommandRunner struct{}

// RealInspector reads the real filesystem.
type RealInspector struct{}

// DefaultRunner is the default command runner.
var DefaultRunner CommandRunner = &RealCommandRunner{}

// DefaultInspector is the default inspector.
var DefaultInspector Inspector = &RealInspector{}

// CommandExists reports whether binary is invocable. Firewall tools disagree
// on version flags, so both common spellings are probed.
func CommandExists(r CommandRunner, binary string) bool {
	return r.Check(binary, "--version") || r.Check(binary, "-V")
}
