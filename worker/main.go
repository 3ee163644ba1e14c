package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// options holds flags shared by all commands.
type options struct {
	EnvFile string
	Test    bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "order-mailer",
		Short:         "Emails closed-order PDFs to customers and keeps the ledger in sync",
		Long:          "Watches the document directory and reconciles the order email ledger with the PDFs found there, sending first copies and updated versions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "env file loaded before reading the environment")
	cmd.Flags().BoolVar(&opts.Test, "test", false, "select and classify orders only; send nothing and write nothing")

	cmd.AddCommand(newInitSchemaCommand(opts))
	return cmd
}

func newInitSchemaCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init-schema",
		Short: "Create the ledger tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initSchema(cmd.Context(), opts)
		},
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown: stop trigger sources, let a running cycle finish.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping triggers...")
		cancel()
	}()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("order mailer failed", "error", err)
		os.Exit(1)
	}
}
