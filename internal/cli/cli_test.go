package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imapfetch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestValidatePrintsSummary(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - name: "personal"
    server: "imap.example.com:993"
    username: "me@example.com"
    password: "secret"
    archive: "/tmp/archive"
`)

	rootCmd.SetArgs([]string{"validate", "--config", path})
	var output bytes.Buffer
	rootCmd.SetOut(&output)
	rootCmd.SetErr(&output)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(output.String(), "accounts: 1") {
		t.Fatalf("expected summary output, got: %q", output.String())
	}
}

func TestValidateRejectsUnresolvablePassword(t *testing.T) {
	t.Setenv("IMAPFETCH_MISSING_PASSWORD", "")
	path := writeConfig(t, `
accounts:
  - name: "personal"
    server: "imap.example.com:993"
    username: "me@example.com"
    password_env: "IMAPFETCH_MISSING_PASSWORD"
    archive: "/tmp/archive"
`)

	rootCmd.SetArgs([]string{"validate", "--config", path})
	var output bytes.Buffer
	rootCmd.SetOut(&output)
	rootCmd.SetErr(&output)

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected validate to fail with unresolvable password")
	}
	if !strings.Contains(err.Error(), "IMAPFETCH_MISSING_PASSWORD") {
		t.Fatalf("expected missing env var error, got: %v", err)
	}
}

func TestSyncFailsWithoutConfig(t *testing.T) {
	rootCmd.SetArgs([]string{"sync", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	var output bytes.Buffer
	rootCmd.SetOut(&output)
	rootCmd.SetErr(&output)

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected sync to fail with a missing config file")
	}
}

func TestValidateRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - name: "personal"
    server: "imap.example.com:993"
`)

	rootCmd.SetArgs([]string{"validate", "--config", path})
	var output bytes.Buffer
	rootCmd.SetOut(&output)
	rootCmd.SetErr(&output)

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected validate to fail on incomplete account")
	}
}
