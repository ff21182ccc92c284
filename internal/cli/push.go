package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sparkfleet/sparkctl/internal/transfer"
)

var pushCmd = &cobra.Command{
	Use:   "push [local-file remote-path]",
	Short: "Distribute a file to every fleet node over SFTP",
	Long: `Copy a local file to the same path on every node, verified with a
SHA-256 checksum. With no arguments, renders and pushes the serve env
file (HF token and model) that deploy depends on.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return fmt.Errorf("push needs either no arguments or both local-file and remote-path")
		}

		app, err := loadApp(true)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		if err := app.resolveFleet(ctx); err != nil {
			return err
		}

		if len(args) == 0 {
			return pushServeEnv(ctx, app)
		}

		localPath, remotePath := args[0], args[1]
		for _, host := range app.cfg.Hosts() {
			client, err := app.pool.GetClient(ctx, host)
			if err != nil {
				return fmt.Errorf("push to %s: %w", host, err)
			}
			sum, err := transfer.PushFile(ctx, client.SSHClient(), localPath, remotePath)
			if err != nil {
				return fmt.Errorf("push to %s: %w", host, err)
			}
			app.printer.Infof("%s: %s (sha256 %.12s)", host, remotePath, sum)
		}
		app.printer.Successf("pushed to %d node(s)", len(app.cfg.Hosts()))
		return nil
	},
}
