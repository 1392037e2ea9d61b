// Package cmd implements the CLI commands for webcodecsctl.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/codecbridge/webcodecs/internal/config"
	"github.com/codecbridge/webcodecs/internal/observability"
	"github.com/codecbridge/webcodecs/internal/version"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	logger   *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "webcodecsctl",
	Short:   "Host and drive a server-side WebCodecs processing core",
	Version: version.Short(),
	Long: `webcodecsctl hosts the WebCodecs codec processing core (VideoEncoder,
VideoDecoder, AudioEncoder, AudioDecoder instances sharing a resource
manager and an admin HTTP surface) as a standalone process, and offers
one-shot subcommands for driving it manually.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		cfg = loaded
		logger = observability.NewLogger(cfg.Logging)
		observability.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, /etc/webcodecs, $HOME/.webcodecs)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level from config (debug, info, warn, error)")
}
