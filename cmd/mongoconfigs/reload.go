package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reloadConcurrency int
	announce          bool
)

var reloadCmd = &cobra.Command{
	Use:   "reload [collections...]",
	Short: "Reload collections and tell the other processes to do the same",
	Long: `Refetches the given collections, or every configured one when none are given.
With --announce a reload signal is published to the other processes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = e.close(context.Background()) }()

		for _, id := range args {
			if err := e.engine.RegisterMessages(id); err != nil {
				return err
			}
		}
		ids := args
		if len(ids) == 0 {
			ids = e.engine.Collections()
		}

		res, err := e.engine.ReloadCollections(ctx, ids, reloadConcurrency).Await(ctx)
		if err != nil {
			return err
		}
		for _, id := range res.Succeeded {
			fmt.Fprintf(cmd.OutOrStdout(), "reloaded %s\n", id)
		}
		for id, ferr := range res.Failed {
			e.log.Warn("reload failed", zap.String("collection", id), zap.Error(ferr))
		}

		if announce {
			if err := e.engine.Announce(ctx, args...); err != nil {
				return err
			}
		}
		return res.Err()
	},
}

func init() {
	reloadCmd.Flags().IntVar(&reloadConcurrency, "max-concurrency", 0, "collections reloaded at once (default reload.max_concurrency)")
	reloadCmd.Flags().BoolVar(&announce, "announce", true, "publish a reload signal when broadcast is enabled")
}
