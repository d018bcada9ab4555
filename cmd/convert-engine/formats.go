// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/convert-engine/internal/engine"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported source kinds and target formats",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), formatsTable(engine.Routes()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

func formatsTable(routes []engine.Route) string {
	rows := make([][]string, 0, len(routes))
	for _, r := range routes {
		supported := "yes"
		if !r.Supported {
			supported = "no"
		}
		rows = append(rows, []string{r.Source, string(r.Target), r.Path, supported})
	}
	return renderTable(
		[]string{"Source", "Target", "Path", "Supported"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
	)
}
