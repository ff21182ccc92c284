package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/sparkfleet/sparkctl/internal/config"
	"github.com/sparkfleet/sparkctl/internal/fleet"
	"github.com/sparkfleet/sparkctl/internal/playbook"
	"github.com/sparkfleet/sparkctl/internal/probe"
	"github.com/sparkfleet/sparkctl/internal/ssh"
	"github.com/sparkfleet/sparkctl/internal/ui"
)

// remoteEnvPath is where the serve env file lands on every node,
// relative to the login user's home (SFTP does not expand ~).
const remoteEnvPath = ".config/sparkctl/serve.env"

// app carries everything a command needs once flags and config are
// reconciled. Built per invocation; nothing here is global.
type app struct {
	cfg     *config.HostConfig
	pool    *ssh.Pool
	printer *ui.Printer
}

// loadApp loads the config file, layers flag overrides on top, and
// builds the SSH pool and printer. Required fields are prompted for
// when missing (and stdin is a terminal); with requireComplete false
// (configure itself) incomplete config is fine.
func loadApp(requireComplete bool) (*app, error) {
	cfg, err := config.Load(flagConfigPath())
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg)

	printer := ui.NewPrinter(os.Stdout, !flagNoColor, flagVerbose)

	if requireComplete && !cfg.Complete() {
		if err := config.PromptMissing(cfg); err != nil {
			return nil, err
		}
		// Persist prompted values so the next invocation has them.
		if err := config.Save(flagConfigPath(), cfg); err != nil {
			printer.Warnf("could not persist config: %v", err)
		}
	}

	baseConf := ssh.ClientConfig{
		User:               cfg.Username,
		AcceptUnknownHosts: flagInsecure,
	}
	if config.Interactive() {
		baseConf.PasswordCallback = promptPassword
	}

	return &app{
		cfg:     cfg,
		pool:    ssh.NewPool(baseConf, nil),
		printer: printer,
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
	ssh.CloseAgent()
}

// promptPassword is the last-resort auth method: ask the operator,
// with echo off.
func promptPassword(host string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s password: ", host)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

// resolveFleet resolves every host name to a dialable address and
// records it in the pool. Resolution failures are collected per host
// so one bad name does not hide another.
func (a *app) resolveFleet(ctx context.Context) error {
	var failed []string
	for _, host := range a.cfg.Hosts() {
		addr, err := probe.Resolve(ctx, host)
		if err != nil {
			a.printer.Errorf("%s: %v", host, err)
			failed = append(failed, host)
			continue
		}
		a.pool.SetAddr(host, addr)
	}
	if len(failed) > 0 {
		return fmt.Errorf("could not resolve %d host(s)", len(failed))
	}
	return nil
}

// verifyFleet probes login on every host, manager first.
func (a *app) verifyFleet(ctx context.Context, timeout time.Duration) error {
	failures := probe.VerifyFleet(ctx, a.pool, a.cfg.Hosts(), timeout)
	for _, f := range failures {
		a.printer.Errorf("%s: %v", f.Host, f.Err)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d host(s) unreachable", len(failures))
	}
	return nil
}

// params renders the playbook parameters from config. The manager
// address peers dial is the resolved manager hostname, falling back to
// the configured name when resolution fails (resolveFleet reports the
// real failure before anything is dispatched).
func (a *app) params(ctx context.Context) playbook.Params {
	p := playbook.Params{
		Model:       a.cfg.Model,
		Port:        a.cfg.Port,
		TPSize:      a.cfg.TPSize,
		ManagerAddr: a.cfg.Hostname,
	}
	if addr, err := probe.Resolve(ctx, a.cfg.Hostname); err == nil {
		p.ManagerAddr = addr
	}
	return p
}

// stepRunner builds the fleet runner wired to the printer.
func (a *app) stepRunner() (*fleet.StepRunner, error) {
	return fleet.New(a.pool, a.cfg.Hostname, a.cfg.Peers,
		fleet.WithHooks(a.printer.Hooks()))
}

// lookupPlaybook resolves a named playbook, checking user-defined
// books before builtins.
func (a *app) lookupPlaybook(name string, p playbook.Params) (playbook.Playbook, error) {
	user, err := playbook.LoadFile(config.PlaybookPath())
	if err != nil {
		return playbook.Playbook{}, err
	}
	pb, ok := playbook.Resolve(name, p, user)
	if !ok {
		return playbook.Playbook{}, fmt.Errorf("unknown playbook %q", name)
	}
	return pb, nil
}
