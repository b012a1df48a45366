package main

import (
	"fmt"
	"text/tabwriter"

	"labcrm/internal/services"

	"github.com/spf13/cobra"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the built-in automation templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		templates, err := services.NewTemplateCatalog(nil).ListTemplates()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTRIGGER\tCATEGORY\tNAME")
		for _, tpl := range templates {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tpl.ID, tpl.TriggerType, tpl.Category, tpl.Name)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
}
