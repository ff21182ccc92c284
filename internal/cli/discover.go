package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sparkfleet/sparkctl/internal/discover"
)

var (
	flagScanPort    int
	flagScanLimit   int
	flagScanTimeout time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover <cidr>",
	Short: "Scan a subnet for SSH-reachable Spark nodes",
	Long: `Scan the given CIDR range (e.g. the 192.168.100.0/24 cluster link)
for hosts with an open SSH port. Useful for filling in --node values
when the fleet's addresses are not known yet.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(false)
		if err != nil {
			return err
		}
		defer app.Close()

		nodes, err := discover.Scan(cmd.Context(), args[0], flagScanPort, flagScanLimit, flagScanTimeout)
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			app.printer.Warnf("no SSH-reachable hosts found in %s", args[0])
			return nil
		}
		for _, n := range nodes {
			app.printer.Infof("%s", n.Address)
		}
		app.printer.Successf("%d host(s) found", len(nodes))
		return nil
	},
}

func init() {
	discoverCmd.Flags().IntVar(&flagScanPort, "port", 22, "TCP port to probe")
	discoverCmd.Flags().IntVar(&flagScanLimit, "limit", 64, "max concurrent probes")
	discoverCmd.Flags().DurationVar(&flagScanTimeout, "timeout", 2*time.Second, "per-address dial timeout")
}
