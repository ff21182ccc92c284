package cli

import (
	"time"

	"github.com/spf13/cobra"
)

var flagProbeTimeout time.Duration

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every fleet node is resolvable and accepts login",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(true)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		if err := app.resolveFleet(ctx); err != nil {
			return err
		}
		if err := app.verifyFleet(ctx, flagProbeTimeout); err != nil {
			return err
		}
		app.printer.Successf("all %d node(s) reachable", len(app.cfg.Hosts()))
		return nil
	},
}

func init() {
	verifyCmd.Flags().DurationVar(&flagProbeTimeout, "timeout", 15*time.Second, "per-node probe timeout")
}
