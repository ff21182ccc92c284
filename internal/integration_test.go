package internal_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/sparkfleet/sparkctl/internal/fleet"
	"github.com/sparkfleet/sparkctl/internal/playbook"
	"github.com/sparkfleet/sparkctl/internal/probe"
	sparkssh "github.com/sparkfleet/sparkctl/internal/ssh"
	"github.com/sparkfleet/sparkctl/internal/sshtest"
	"github.com/sparkfleet/sparkctl/internal/ui"
)

// startFleet launches one in-process SSH server per logical host and
// returns a pool whose resolved addresses point at them, plus a shared
// command log keyed by host.
func startFleet(t *testing.T, hosts []string, handler func(host, cmd string) (string, string, int)) (*sparkssh.Pool, *commandLog) {
	t.Helper()
	t.Setenv("SSH_AUTH_SOCK", "")

	pubKey, keyPath := sshtest.GenerateKey(t)
	log := &commandLog{}

	base := sparkssh.ClientConfig{
		User:               "testuser",
		IdentityFiles:      []string{keyPath},
		AcceptUnknownHosts: true,
	}
	hostConfs := make(map[string]sparkssh.ClientConfig, len(hosts))

	for _, host := range hosts {
		host := host
		addr, cleanup := sshtest.Start(t,
			sshtest.WithPublicKey(pubKey),
			sshtest.WithCmdHandler(func(cmd string) (string, string, int) {
				log.record(host, cmd)
				if handler != nil {
					return handler(host, cmd)
				}
				return "", "", 0
			}))
		t.Cleanup(cleanup)

		ip, port := sshtest.ParseAddr(t, addr)
		conf := base
		conf.Addr = ip
		conf.Port = port
		hostConfs[host] = conf
	}

	pool := sparkssh.NewPool(base, hostConfs)
	t.Cleanup(func() { pool.Close() })
	return pool, log
}

type commandLog struct {
	mu      sync.Mutex
	entries []string // "host cmd"
}

func (l *commandLog) record(host, cmd string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, host+" "+cmd)
}

func (l *commandLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// TestPlaybookOverSSH drives a playbook through the real pool and SSH
// clients against in-process servers: probe, run, rollback.
func TestPlaybookOverSSH(t *testing.T) {
	hosts := []string{"spark-0", "spark-1"}
	pool, log := startFleet(t, hosts, nil)

	ctx := context.Background()
	if failures := probe.VerifyFleet(ctx, pool, hosts, probe.DefaultTimeout); len(failures) != 0 {
		t.Fatalf("probe failures: %v", failures)
	}

	var buf bytes.Buffer
	printer := ui.NewPrinter(&buf, false, false)
	runner, err := fleet.New(pool, "spark-0", []string{"spark-1"}, fleet.WithHooks(printer.Hooks()))
	if err != nil {
		t.Fatalf("fleet.New: %v", err)
	}

	pb := playbook.Playbook{Name: "bringup", Steps: []playbook.Step{
		{Name: "prepare", Command: "prepare"},
		{Name: "start-head", Command: "start-head", Target: playbook.TargetManager},
		{Name: "join", Command: "join", Target: playbook.TargetPeers},
	}}

	session, err := runner.Run(ctx, pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if session.Outcome != fleet.Completed {
		t.Fatalf("Outcome = %v, want Completed", session.Outcome)
	}

	want := []string{
		"spark-0 true", "spark-1 true", // probes
		"spark-0 prepare", "spark-1 prepare",
		"spark-0 start-head",
		"spark-1 join",
	}
	got := log.list()
	if len(got) != len(want) {
		t.Fatalf("command log = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	out := buf.String()
	if !strings.Contains(out, "==> prepare") || !strings.Contains(out, "ok spark-1") {
		t.Errorf("printer output missing progress lines: %q", out)
	}
}

func TestAbortOverSSH(t *testing.T) {
	hosts := []string{"spark-0", "spark-1"}
	pool, log := startFleet(t, hosts, func(host, cmd string) (string, string, int) {
		if cmd == "step-a" && host == "spark-0" {
			return "", "disk full\n", 1
		}
		return "", "", 0
	})

	runner, err := fleet.New(pool, "spark-0", []string{"spark-1"})
	if err != nil {
		t.Fatalf("fleet.New: %v", err)
	}

	pb := playbook.Playbook{Name: "bringup", Steps: []playbook.Step{
		{Name: "step-a", Command: "step-a"},
		{Name: "step-b", Command: "step-b"},
	}}

	session, err := runner.Run(context.Background(), pb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if session.Outcome != fleet.Aborted || session.FailedStep != "step-a" {
		t.Fatalf("session = %+v, want abort at step-a", session)
	}
	for _, entry := range log.list() {
		if strings.HasSuffix(entry, " step-b") {
			t.Fatalf("step-b dispatched after abort: %v", log.list())
		}
	}
}

func TestRollbackOverSSH(t *testing.T) {
	// Fresh environment: every cleanup command reports nothing to do.
	hosts := []string{"spark-0", "spark-1"}
	pool, log := startFleet(t, hosts, func(host, cmd string) (string, string, int) {
		return "", "no such container\n", 1
	})

	runner, err := fleet.New(pool, "spark-0", []string{"spark-1"})
	if err != nil {
		t.Fatalf("fleet.New: %v", err)
	}

	pb := playbook.Playbook{Name: "rollback", Steps: []playbook.Step{
		{Name: "stop-serve", Command: "stop-serve", Target: playbook.TargetManager},
		{Name: "stop-worker", Command: "stop-worker", Target: playbook.TargetPeers},
		{Name: "prune", Command: "prune"},
	}}

	session, err := runner.Rollback(context.Background(), pb)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if session.Outcome != fleet.Completed {
		t.Fatalf("Outcome = %v, want Completed even when every step fails", session.Outcome)
	}
	if session.SoftFails != 4 {
		t.Errorf("SoftFails = %d, want 4", session.SoftFails)
	}
	if got := len(log.list()); got != 4 {
		t.Errorf("dispatched %d commands, want 4: %v", got, log.list())
	}
}
