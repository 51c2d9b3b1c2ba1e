// Command sslgen runs the certificate service and its operator commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LightHostingFree/sslgen/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	debug   bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sslgen",
	Short: "Issue TLS certificates through delegated DNS-01 validation",
	Long: `sslgen issues certificates for domains whose owners CNAME
_acme-challenge.<domain> to a label in a validation zone this service
administers. Proof records are written there, never in the owner's DNS.

Configuration is read from configs/sslgen.yaml or ./sslgen.yaml and can be
overridden with environment variables (zone.api_token -> ZONE_API_TOKEN).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/sslgen.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "development logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(delegateCmd)
	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(renewalsCmd)
	rootCmd.AddCommand(remindCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig() (*config.Config, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

// withApp loads configuration, wires the service graph and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sslgen version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sslgen %s\n", version)
	},
}
