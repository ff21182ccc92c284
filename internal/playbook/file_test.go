package playbook

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeBooks(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playbooks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write playbook file: %v", err)
	}
	return path
}

func TestLoadFileMissing(t *testing.T) {
	books, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile of missing file: %v", err)
	}
	if len(books) != 0 {
		t.Errorf("expected empty map, got %v", books)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeBooks(t, `
warmup:
  description: Warm the model cache
  steps:
    - name: check-disk
      run: df -h /
    - name: prefetch
      run: hf download org/model
      manager_only: true
      timeout: 30m
    - name: sync-peers
      run: echo sync
      peers_only: true
      best_effort: true
`)

	books, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	pb, ok := books["warmup"]
	if !ok {
		t.Fatalf("warmup not loaded; got %v", books)
	}
	if pb.Description != "Warm the model cache" {
		t.Errorf("Description = %q", pb.Description)
	}
	if len(pb.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(pb.Steps))
	}

	if s := pb.Steps[0]; s.Target != TargetAll || s.Timeout != 0 || s.BestEffort {
		t.Errorf("check-disk = %+v, want plain all-hosts step", s)
	}
	if s := pb.Steps[1]; s.Target != TargetManager || s.Timeout != 30*time.Minute {
		t.Errorf("prefetch = %+v, want manager-only with 30m timeout", s)
	}
	if s := pb.Steps[2]; s.Target != TargetPeers || !s.BestEffort {
		t.Errorf("sync-peers = %+v, want best-effort peers-only", s)
	}
}

func TestLoadFileConflictingTargets(t *testing.T) {
	path := writeBooks(t, `
bad:
  steps:
    - name: impossible
      run: "true"
      manager_only: true
      peers_only: true
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for manager_only+peers_only step")
	}
}

func TestLoadFileBadTimeout(t *testing.T) {
	path := writeBooks(t, `
bad:
  steps:
    - name: slow
      run: sleep 1
      timeout: five minutes
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for unparseable timeout")
	}
}

func TestLoadFileInvalidBook(t *testing.T) {
	path := writeBooks(t, `
empty:
  description: no steps at all
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected validation error for playbook without steps")
	}
}

func TestLoadFileBadYAML(t *testing.T) {
	path := writeBooks(t, "{{ not yaml")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}
