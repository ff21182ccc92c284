// Package cli wires the sparkctl commands together.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sparkfleet/sparkctl/internal/config"
)

const version = "0.3.0"

var (
	// Global flags.
	flagConfig   string
	flagNoColor  bool
	flagVerbose  bool
	flagInsecure bool

	// Parameter overrides, layered over the config file.
	flagUsername string
	flagHostname string
	flagNodes    []string
	flagModel    string
	flagPort     int
	flagTPSize   int
	flagHFToken  string
)

var rootCmd = &cobra.Command{
	Use:   "sparkctl",
	Short: "Fleet bring-up orchestrator for DGX Spark clusters",
	Long: `sparkctl configures, verifies, and drives a small fleet of DGX Spark
nodes through model-serving bring-up: cluster setup, model deploy,
smoke tests, and rollback. Steps run over SSH, in declared order,
manager first.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code: 0 on
// success, 1 on any fatal error.
func Execute() int {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)

	if err := rootCmd.Execute(); err != nil {
		msg := err.Error()
		switch {
		case strings.HasPrefix(msg, "unknown flag:") || strings.HasPrefix(msg, "unknown shorthand flag:"):
			fmt.Fprintf(os.Stderr, "Unknown option: %s\n\n", strings.TrimSpace(strings.SplitN(msg, ":", 2)[1]))
			rootCmd.Usage()
		case strings.HasPrefix(msg, "unknown command"):
			fmt.Fprintf(os.Stderr, "%s\n\n", msg)
			rootCmd.Usage()
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default "+config.DefaultPath()+")")
	pf.BoolVar(&flagNoColor, "no-color", false, "disable colorized output")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "echo remote stdout for successful steps")
	pf.BoolVar(&flagInsecure, "insecure", false, "skip known_hosts verification")

	pf.StringVar(&flagUsername, "username", "", "login user on every node")
	pf.StringVar(&flagHostname, "hostname", "", "manager node")
	pf.StringArrayVar(&flagNodes, "node", nil, "peer node (repeatable, join order)")
	pf.StringVar(&flagModel, "model", "", "model identifier to deploy")
	pf.IntVar(&flagPort, "port", 0, "serve port on the manager")
	pf.IntVar(&flagTPSize, "tp-size", 0, "tensor parallel size")
	pf.StringVar(&flagHFToken, "hf-token", "", "Hugging Face access token")

	rootCmd.AddCommand(
		configureCmd,
		verifyCmd,
		setupCmd,
		deployCmd,
		testCmd,
		rollbackCmd,
		runCmd,
		discoverCmd,
		pushCmd,
		tunnelCmd,
	)

	// No subcommand is not a valid invocation.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		cmd.Usage()
		return fmt.Errorf("no command given")
	}
}

func flagConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.DefaultPath()
}

// applyOverrides layers CLI flags over the loaded config. Flags win.
func applyOverrides(cfg *config.HostConfig) {
	if flagUsername != "" {
		cfg.Username = flagUsername
	}
	if flagHostname != "" {
		cfg.Hostname = flagHostname
	}
	if len(flagNodes) > 0 {
		cfg.Peers = flagNodes
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagTPSize != 0 {
		cfg.TPSize = flagTPSize
	}
	if flagHFToken != "" {
		cfg.HFToken = flagHFToken
	}
}
