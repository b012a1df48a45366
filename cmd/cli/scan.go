package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var scanPending bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one date trigger scan pass and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		result, err := a.Scanner.Scan(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(cmd, result); err != nil {
			return err
		}
		if !scanPending {
			return nil
		}
		pending, err := a.Automation.RunDueActions(ctx, a.Config.Automation.PendingBatch)
		if err != nil {
			return err
		}
		return printJSON(cmd, pending)
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanPending, "pending", false, "also run due delayed actions")
	rootCmd.AddCommand(scanCmd)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
