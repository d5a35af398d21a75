package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <collection> <language> <path> [params...]",
	Short: "Resolve one message",
	Long: `Resolves path in the message collection for language, falling back to the
default language, and prints it with the placeholders {0}, {1}, ... replaced by params.`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = e.close(context.Background()) }()

		if err := e.engine.RegisterMessages(args[0]); err != nil {
			return err
		}
		params := make([]any, 0, len(args)-3)
		for _, p := range args[3:] {
			params = append(params, p)
		}
		res, err := e.engine.GetMessage(ctx, args[0], args[1], args[2], params...).Await(ctx)
		if err != nil {
			return err
		}
		for _, line := range res.Lines() {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return res.Err()
	},
}
