package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "modvault ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestServeCmd_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("MODVAULT_AUTH_PEPPER", "")
	root := newRootCmd()
	root.SetArgs([]string{"serve", "--config", t.TempDir(), "--transport", "carrier-pigeon"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown transport") {
		t.Errorf("err = %v, want unknown transport", err)
	}
}
