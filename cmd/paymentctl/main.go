// paymentctl is the operator CLI of the payment service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fitstack/subscription-payments/config"
	"github.com/fitstack/subscription-payments/internal/app"
	"github.com/fitstack/subscription-payments/internal/pkg/telemetry"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operate the subscription payment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log to stderr")

	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(deadLettersCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(subscriptionCmd())

	return rootCmd
}

// setup loads and validates the configuration and builds the components.
func setup(cmd *cobra.Command) (*app.Components, *slog.Logger, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger = telemetry.NewLogger(os.Stderr, slog.LevelDebug)
	}

	components, err := app.Build(commandContext(cmd), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return components, logger, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
