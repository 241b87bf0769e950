package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/gaia/internal/config"
	"github.com/ent0n29/gaia/internal/logger"
)

var (
	serverURL string
	logLevel  string
	logFile   string
)

var rootCmd = &cobra.Command{
	Use:           "gaia",
	Short:         "GAIA terminal client: realtime voice or text chat, one at a time",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		var out io.Writer = os.Stderr
		if logFile != "" {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return err
			}
			out = f
		} else if !cmd.HasParent() {
			// The full-screen UI owns the terminal.
			out = io.Discard
		}
		logger.Configure(out, logLevel, "text")
		return nil
	},
	RunE: runInteractive,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "gaiad base URL (overrides GAIA_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append logs to this file")
}

func loadClientConfig() (config.ClientConfig, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return config.ClientConfig{}, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
