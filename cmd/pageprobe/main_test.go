package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/masahif/pageprobe/internal/cmd"
)

func TestVersionVariables(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty string")
	}
	if BuildTime == "" {
		t.Error("BuildTime should not be empty string")
	}
}

func TestVersionFlag(t *testing.T) {
	cmd.SetVersionInfo("1.0.0-test", "2024-01-01T00:00:00Z")
	defer cmd.SetVersionInfo(Version, BuildTime)

	root := cmd.NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute with --version failed: %v", err)
	}
	if !strings.Contains(out.String(), "1.0.0-test (built 2024-01-01T00:00:00Z)") {
		t.Errorf("Unexpected version output: %q", out.String())
	}
}
