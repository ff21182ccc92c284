package cli

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/sparkfleet/sparkctl/internal/playbook"
	"github.com/sparkfleet/sparkctl/internal/tunnel"
)

var flagLocalPort int

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Forward a local port to the manager's serve endpoint",
	Long: `Open an SSH tunnel from 127.0.0.1 to the serve port on the manager
node, so the model endpoint is reachable without exposing it on the
LAN. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(true)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if err := app.resolveFleet(ctx); err != nil {
			return err
		}

		client, err := app.pool.GetClient(ctx, app.cfg.Hostname)
		if err != nil {
			return err
		}

		servePort := app.cfg.Port
		if servePort == 0 {
			servePort = playbook.DefaultPort
		}
		localPort := flagLocalPort
		if localPort == 0 {
			localPort = servePort
		}

		tun, err := tunnel.Open(client.SSHClient(), app.cfg.Hostname, localPort, "127.0.0.1", servePort)
		if err != nil {
			return err
		}
		defer tun.Close()

		app.printer.Successf("forwarding %s -> %s:%d (ctrl-c to stop)",
			tun.LocalAddr, app.cfg.Hostname, servePort)
		<-ctx.Done()
		return nil
	},
}

func init() {
	tunnelCmd.Flags().IntVar(&flagLocalPort, "local-port", 0, "local port to bind (default: the serve port)")
}
