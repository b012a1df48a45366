package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"labcrm/internal/services"

	"github.com/spf13/cobra"
)

var executeData string

var executeCmd = &cobra.Command{
	Use:   "execute <rule-id> <model> <target-id>",
	Short: "Execute a rule against one entity",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ruleID, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid rule id %q", args[0])
		}
		targetID, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid target id %q", args[2])
		}
		var triggerData interface{}
		if executeData != "" {
			if err := json.Unmarshal([]byte(executeData), &triggerData); err != nil {
				return fmt.Errorf("--data must be JSON: %w", err)
			}
		}

		ctx := cmd.Context()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		exec, err := a.Automation.Execute(ctx, uint(ruleID), args[1], uint(targetID), triggerData)
		var actionErr *services.ActionExecutionError
		if err != nil && !(errors.As(err, &actionErr) && exec != nil) {
			return err
		}
		if perr := printJSON(cmd, exec); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	executeCmd.Flags().StringVar(&executeData, "data", "", "trigger data as a JSON document")
	rootCmd.AddCommand(executeCmd)
}
