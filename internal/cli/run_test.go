package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sparkfleet/sparkctl/internal/config"
	"github.com/sparkfleet/sparkctl/internal/playbook"
	"github.com/sparkfleet/sparkctl/internal/ui"
)

func TestPlaybookToolsNameBuiltins(t *testing.T) {
	for name := range playbookTools {
		if !playbook.IsBuiltin(name) {
			t.Errorf("prerequisite tools declared for unknown playbook %q", name)
		}
	}
	// Setup and deploy cannot run without their tooling.
	for _, name := range []string{"setup", "deploy"} {
		if len(playbookTools[name]) == 0 {
			t.Errorf("no prerequisite tools declared for %q", name)
		}
	}
}

func TestValidateParamsRequiresModel(t *testing.T) {
	noModel := &config.HostConfig{Username: "spark", Hostname: "spark-0"}
	withModel := &config.HostConfig{Username: "spark", Hostname: "spark-0", Model: "org/model"}

	for _, name := range []string{"deploy", "test"} {
		if err := validateParams(name, noModel); err == nil {
			t.Errorf("%s with no model was not rejected", name)
		} else if !strings.Contains(err.Error(), "model") {
			t.Errorf("%s error does not mention the model: %v", name, err)
		}
		if err := validateParams(name, withModel); err != nil {
			t.Errorf("%s with a model rejected: %v", name, err)
		}
	}

	// Setup and rollback work without a model.
	for _, name := range []string{"setup", "rollback"} {
		if err := validateParams(name, noModel); err != nil {
			t.Errorf("%s with no model rejected: %v", name, err)
		}
	}
}

func TestFleetCheckErrRollbackWarnsOnly(t *testing.T) {
	var buf bytes.Buffer
	a := &app{printer: ui.NewPrinter(&buf, false, false)}
	cause := errors.New("2 host(s) unreachable")

	if err := fleetCheckErr("rollback", cause, a); err != nil {
		t.Errorf("rollback check failure not downgraded: %v", err)
	}
	if !strings.Contains(buf.String(), "continuing teardown") {
		t.Errorf("no warning emitted: %q", buf.String())
	}

	if err := fleetCheckErr("setup", cause, a); !errors.Is(err, cause) {
		t.Errorf("setup check failure swallowed: %v", err)
	}
	if err := fleetCheckErr("rollback", nil, a); err != nil {
		t.Errorf("nil error mangled: %v", err)
	}
}

func TestLookupPlaybookHonorsUserBooks(t *testing.T) {
	// The interrupt path resolves rollback through lookupPlaybook, so a
	// user-defined override must win there too.
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	books := `
rollback:
  steps:
    - name: custom-teardown
      run: ./teardown.sh
`
	if err := os.MkdirAll(filepath.Join(dir, "sparkctl"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sparkctl", "playbooks.yaml"), []byte(books), 0o644); err != nil {
		t.Fatalf("write playbooks: %v", err)
	}

	a := &app{cfg: &config.HostConfig{Username: "spark", Hostname: "spark-0"}}
	pb, err := a.lookupPlaybook("rollback", playbook.Params{})
	if err != nil {
		t.Fatalf("lookupPlaybook: %v", err)
	}
	if len(pb.Steps) != 1 || pb.Steps[0].Name != "custom-teardown" {
		t.Errorf("user rollback override not honored: %+v", pb)
	}

	// Builtins still resolve when no override exists.
	pb, err = a.lookupPlaybook("setup", playbook.Params{})
	if err != nil {
		t.Fatalf("lookupPlaybook(setup): %v", err)
	}
	if pb.Name != "setup" || len(pb.Steps) == 0 {
		t.Errorf("builtin setup not resolved: %+v", pb)
	}
}
