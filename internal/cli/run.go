package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/sparkfleet/sparkctl/internal/config"
	"github.com/sparkfleet/sparkctl/internal/fleet"
	"github.com/sparkfleet/sparkctl/internal/playbook"
	"github.com/sparkfleet/sparkctl/internal/probe"
	"github.com/sparkfleet/sparkctl/internal/transfer"
)

var flagDryRun bool

// Tools each playbook needs on every node, checked eagerly before any
// step is dispatched.
var playbookTools = map[string][]string{
	"setup":  {"docker", "nvidia-smi"},
	"deploy": {"docker", "hf", "curl"},
	"test":   {"curl"},
}

// Playbooks whose rendered commands are nonsense without a model.
var requiresModel = map[string]bool{
	"deploy": true,
	"test":   true,
}

// validateParams rejects runs whose rendered commands could not work,
// before anything reaches a node.
func validateParams(name string, cfg *config.HostConfig) error {
	if requiresModel[name] && cfg.Model == "" {
		return fmt.Errorf("%s needs a model; set one with --model or sparkctl configure", name)
	}
	return nil
}

// fleetCheckErr applies the pre-dispatch check policy: a forward run
// stops on resolution or probe failures, rollback warns and carries on
// against whatever is reachable.
func fleetCheckErr(name string, err error, a *app) error {
	if err == nil || name != "rollback" {
		return err
	}
	a.printer.Warnf("continuing teardown: %v", err)
	return nil
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Prepare the fleet: runtime checks, serve image, cluster head and workers",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return runNamed(cmd, "setup") },
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Distribute the serve env, download the model, and launch serving",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return runNamed(cmd, "deploy") },
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Smoke-test the running deployment",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return runNamed(cmd, "test") },
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Tear down containers, model cache, and generated files",
	Long: `Run the teardown playbook. Every step is best-effort: stopping a
container that never started or deleting a cache that is already gone
is expected, and rollback always runs to completion.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error { return runNamed(cmd, "rollback") },
}

var runCmd = &cobra.Command{
	Use:   "run <playbook>",
	Short: "Run a named playbook (builtin or user-defined)",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runNamed(cmd, args[0]) },
}

func init() {
	for _, c := range []*cobra.Command{setupCmd, deployCmd, testCmd, rollbackCmd, runCmd} {
		c.Flags().BoolVar(&flagDryRun, "dry-run", false, "print rendered steps without dispatching")
	}
}

func runNamed(cmd *cobra.Command, name string) error {
	app, err := loadApp(true)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := validateParams(name, app.cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	params := app.params(ctx)
	pb, err := app.lookupPlaybook(name, params)
	if err != nil {
		return err
	}

	if flagDryRun {
		printDryRun(app, pb)
		return nil
	}

	// Teardown must reach whatever nodes it can: a powered-off peer is
	// a normal precondition for rollback, not a reason to abort it.
	if err := fleetCheckErr(name, app.resolveFleet(ctx), app); err != nil {
		return err
	}
	if err := fleetCheckErr(name, app.verifyFleet(ctx, probe.DefaultTimeout), app); err != nil {
		return err
	}
	if tools := playbookTools[name]; len(tools) > 0 {
		if err := probe.Prerequisites(ctx, app.pool, app.cfg.Hosts(), tools, time.Minute); err != nil {
			return err
		}
	}

	runner, err := app.stepRunner()
	if err != nil {
		return err
	}

	// Deploy depends on the env file being on every node.
	if name == "deploy" {
		if err := pushServeEnv(ctx, app); err != nil {
			return err
		}
	}

	var session *fleet.Session
	if name == "rollback" {
		session, err = runner.Rollback(ctx, pb)
	} else {
		session, err = runner.Run(ctx, pb)
	}

	// An interrupt mid-run triggers one best-effort rollback. stop()
	// restores default signal handling first, so a second interrupt
	// kills the process instead of nesting another teardown.
	if err != nil && errors.Is(ctx.Err(), context.Canceled) && name != "rollback" {
		stop()
		app.printer.Warnf("interrupted; rolling back")
		if rb, rbErr := app.lookupPlaybook("rollback", params); rbErr != nil {
			app.printer.Warnf("rollback unavailable: %v", rbErr)
		} else if s, rbErr := runner.Rollback(context.Background(), rb); rbErr != nil {
			app.printer.Warnf("rollback incomplete: %v", rbErr)
		} else {
			app.printer.Summary(s)
		}
		return fmt.Errorf("%s interrupted", name)
	}
	if err != nil {
		return err
	}

	app.printer.Summary(session)
	if session.Failed() {
		return fmt.Errorf("playbook %s aborted at step %q", pb.Name, session.FailedStep)
	}
	return nil
}

func printDryRun(app *app, pb playbook.Playbook) {
	app.printer.Infof("playbook %s (%d steps):", pb.Name, len(pb.Steps))
	for _, s := range pb.Steps {
		flags := ""
		if s.BestEffort {
			flags += " [best-effort]"
		}
		if s.Target != playbook.TargetAll {
			flags += " [" + s.Target.String() + "]"
		}
		app.printer.Infof("  %s%s", s.Name, flags)
		app.printer.Infof("      %s", s.Command)
	}
}

// pushServeEnv renders the env file (HF token, model) and distributes
// it to every node over SFTP.
func pushServeEnv(ctx context.Context, app *app) error {
	content := config.RenderServeEnv(app.cfg)
	for _, host := range app.cfg.Hosts() {
		client, err := app.pool.GetClient(ctx, host)
		if err != nil {
			return fmt.Errorf("push env to %s: %w", host, err)
		}
		if _, err := transfer.PushBytes(ctx, client.SSHClient(), []byte(content), remoteEnvPath, 0o600); err != nil {
			return fmt.Errorf("push env to %s: %w", host, err)
		}
		app.printer.Infof("pushed serve env to %s", host)
	}
	return nil
}
