// Command edvoice is the terminal client for the voice relay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ent0n29/edvoice/internal/app"
	"github.com/ent0n29/edvoice/internal/config"
	"github.com/ent0n29/edvoice/internal/observability"
)

var (
	relayURL string
	logLevel string

	cfg    config.Config
	logger zerolog.Logger

	rootCmd = &cobra.Command{
		Use:           "edvoice",
		Short:         "Speak and transcribe through the voice relay",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay-url", "", "relay base URL (overrides RELAY_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides APP_LOG_LEVEL)")
	rootCmd.AddCommand(sayCmd, transcribeCmd, chatCmd, cacheCmd, tokenCmd)
}

func loadConfig(_ *cobra.Command) error {
	_ = godotenv.Load()
	loaded, err := config.Load()
	if err != nil {
		return err
	}
	if strings.TrimSpace(relayURL) != "" {
		loaded.RelayURL = relayURL
	}
	if strings.TrimSpace(logLevel) != "" {
		loaded.LogLevel = logLevel
	}
	cfg = loaded
	logger = observability.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	return nil
}

// withClient builds the client stack for one command and releases it afterwards.
func withClient(cmd *cobra.Command, opts app.ClientOptions, fn func(ctx context.Context, c *app.Client) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	client, err := app.BuildClient(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("client close")
		}
	}()
	return fn(ctx, client)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
