package cli

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/sparkfleet/sparkctl/internal/config"
)

// runExecute invokes the CLI with args and captures stderr.
func runExecute(t *testing.T, args ...string) (code int, stderr string) {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = orig }()

	if args == nil {
		// SetArgs(nil) would fall back to os.Args, which carries test flags.
		args = []string{}
	}
	rootCmd.SetArgs(args)
	code = Execute()

	w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read stderr: %v", err)
	}
	return code, string(out)
}

func TestExecuteUnknownFlag(t *testing.T) {
	code, stderr := runExecute(t, "--bogus")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown option: --bogus") {
		t.Errorf("stderr missing unknown-option message: %q", stderr)
	}
	if !strings.Contains(stderr, "Usage:") {
		t.Errorf("stderr missing usage: %q", stderr)
	}
}

func TestExecuteUnknownShorthandFlag(t *testing.T) {
	code, stderr := runExecute(t, "-Z")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown option:") {
		t.Errorf("stderr missing unknown-option message: %q", stderr)
	}
}

func TestExecuteNoCommand(t *testing.T) {
	code, stderr := runExecute(t)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage:") {
		t.Errorf("stderr missing usage: %q", stderr)
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	code, stderr := runExecute(t, "frobnicate")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "unknown command") {
		t.Errorf("stderr missing unknown-command message: %q", stderr)
	}
}

func TestFlagConfigPath(t *testing.T) {
	defer func() { flagConfig = "" }()

	flagConfig = ""
	if got := flagConfigPath(); got != config.DefaultPath() {
		t.Errorf("flagConfigPath() = %q, want default", got)
	}

	flagConfig = "/tmp/custom.env"
	if got := flagConfigPath(); got != "/tmp/custom.env" {
		t.Errorf("flagConfigPath() = %q, want override", got)
	}
}

func TestApplyOverrides(t *testing.T) {
	defer func() {
		flagUsername, flagHostname, flagModel, flagHFToken = "", "", "", ""
		flagNodes = nil
		flagPort, flagTPSize = 0, 0
	}()

	flagUsername = "spark"
	flagNodes = []string{"spark-1", "spark-2"}
	flagPort = 9000

	cfg := &config.HostConfig{Username: "old", Hostname: "spark-0", Port: 8000, Model: "keep/me"}
	applyOverrides(cfg)

	if cfg.Username != "spark" {
		t.Errorf("Username = %q, want flag value", cfg.Username)
	}
	if cfg.Hostname != "spark-0" {
		t.Errorf("Hostname = %q, unset flag must not clobber", cfg.Hostname)
	}
	if len(cfg.Peers) != 2 {
		t.Errorf("Peers = %v, want flag values", cfg.Peers)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want flag value", cfg.Port)
	}
	if cfg.Model != "keep/me" {
		t.Errorf("Model = %q, unset flag must not clobber", cfg.Model)
	}
}
