package cli

import (
	"github.com/spf13/cobra"

	"github.com/sparkfleet/sparkctl/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set fleet connection parameters",
	Long: `Record the fleet's connection parameters (login user, manager node,
peers, model, port, tensor parallel size, HF token) in the config file.
Values given as flags are taken as-is; in a terminal the remaining
fields are collected interactively.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(false)
		if err != nil {
			return err
		}
		defer app.Close()

		// Flags alone are fine non-interactively, as long as the
		// result is complete.
		if config.Interactive() {
			if err := config.PromptAll(app.cfg); err != nil {
				return err
			}
		} else if !app.cfg.Complete() {
			return config.PromptMissing(app.cfg) // yields ErrIncomplete
		}

		if err := config.Save(flagConfigPath(), app.cfg); err != nil {
			return err
		}
		app.printer.Successf("configuration written to %s", flagConfigPath())
		return nil
	},
}
