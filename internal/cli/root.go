// Package cli implements the negotiate command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/daemon"
	"github.com/negotiate-network/negotiate/internal/infra/observability"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "negotiate",
	Short: "Debt negotiation payments and account imports",
	Long: `negotiate runs scheduled consumer payments through the creditor's payment
gateway and reconciles creditor account files against stored consumers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml (default $NEGOTIATE_HOME/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override [log].level")
}

// Execute runs the root command.
func Execute(version string) error {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// openDaemon loads configuration and wires a daemon for one command.
func openDaemon() (*daemon.Daemon, *zap.Logger, error) {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, err := observability.NewLogger(cfg.LoggerConfig())
	if err != nil {
		return nil, nil, err
	}
	d, err := daemon.New(cfg, log)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return d, log, nil
}

// closeDaemon releases d and flushes the logger.
func closeDaemon(d *daemon.Daemon, log *zap.Logger) {
	if err := d.Close(); err != nil {
		log.Warn("close", zap.Error(err))
	}
	log.Sync()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
