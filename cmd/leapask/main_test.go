// Package main provides tests for the leapask CLI.
package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapask/internal/cli"
	"github.com/leapstack-labs/leapask/internal/cli/config"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Cleanup(config.ResetConfig)

	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	output, err := run(t, "version")
	if err != nil {
		t.Errorf("version command error = %v", err)
	}
	if !strings.Contains(output, "leapask v") {
		t.Errorf("version output should contain 'leapask v', got: %s", output)
	}
}

func TestVersionFlag(t *testing.T) {
	output, err := run(t, "--version")
	if err != nil {
		t.Errorf("--version error = %v", err)
	}
	if !strings.HasPrefix(output, "leapask "+cli.Version) {
		t.Errorf("--version output should start with the version, got: %s", output)
	}
}

func TestHelpCommand(t *testing.T) {
	output, err := run(t, "--help")
	if err != nil {
		t.Errorf("help command error = %v", err)
	}

	expectedCommands := []string{"ask", "repl", "datasets", "schema", "prompt", "history", "serve", "mcp", "doctor", "init"}
	for _, expected := range expectedCommands {
		if !strings.Contains(output, expected) {
			t.Errorf("help output should contain '%s', got: %s", expected, output)
		}
	}
	if strings.Contains(output, "sandbox-worker") {
		t.Errorf("help output should not list the hidden worker command")
	}
}

func TestCompletionCommand(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			output, err := run(t, "completion", shell)
			if err != nil {
				t.Fatalf("completion %s error = %v", shell, err)
			}
			if !strings.Contains(output, "leapask") {
				t.Errorf("completion script should mention leapask")
			}
		})
	}

	if _, err := run(t, "completion", "tcsh"); err == nil {
		t.Error("completion should reject unknown shells")
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := run(t, "frobnicate"); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestInvalidConfigIsReported(t *testing.T) {
	_, err := run(t, "datasets", "--config", "does-not-exist.yaml")
	if err == nil {
		t.Error("expected error for a missing config file")
	}
}
