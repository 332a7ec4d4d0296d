package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, job runner and due-charge sweep",
	Long: `Start the negotiate daemon. Due charges are swept on [jobs].sweep_interval
and imports are processed as they are uploaded. SIGINT or SIGTERM drains
in-flight requests and jobs before exit.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, log, err := openDaemon()
	if err != nil {
		return err
	}
	defer closeDaemon(d, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Serve(ctx)
}
