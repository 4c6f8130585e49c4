package system

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Run executes a command and fails on non-zero exit.
func (r *RealCommandRunner) Run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(name, args, err, stdout.String(), stderr.String())
	}
	return nil
}

// RunInput executes a command with input via stdin.
func (r *RealCommandRunner) RunInput(input string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(name, args, err, stdout.String(), stderr.String())
	}
	return nil
}

// Output executes a command and returns its stdout.
func (r *RealCommandRunner) Output(name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, commandError(name, args, err, stdout.String(), stderr.String())
	}
	return stdout.Bytes(), nil
}

// Check executes a command with discarded output and reports success.
func (r *RealCommandRunner) Check(name string, args ...string) bool {
	cmd := exec.Command(name, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

func commandError(name string, args []string, err error, stdout, stderr string) error {
	return fmt.Errorf("command %s %v failed: %w (stdout: %s, stderr: %s)",
		name, args, err, strings.TrimSpace(stdout), strings.TrimSpace(stderr))
}

// ReadFile reads path and returns its content as a string.
func (i *RealInspector) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileExists reports whether path exists.
func (i *RealInspector) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
