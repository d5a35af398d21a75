package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the configured collections cached and follow their changes",
	Long: `Registers the configured message collections, opens a change feed for each
and, when configured, runs the reload schedule and listens for reload signals
until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := setup(ctx)
		if err != nil {
			return err
		}
		if err := e.engine.Start(ctx); err != nil {
			_ = e.close(context.Background())
			return err
		}
		e.log.Info("serving", zap.Strings("collections", e.engine.Collections()))

		<-ctx.Done()
		e.log.Info("shutting down")

		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.close(closeCtx)
	},
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "how long to wait for change feeds to close")
}
