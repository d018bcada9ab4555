// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pdiddy/convert-engine/internal/history"
	"github.com/pdiddy/convert-engine/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the conversion history (list, export, summary, clear)",
	Long: `History reads the local SQLite ledger of finished conversions. Every
completed or failed conversion run through "convert" is recorded unless
--no-history was given.`,
}

// --- list subcommand ---

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversions, newest first",
	RunE:  runHistoryList,
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	opts, err := historyQuery(cmd)
	if err != nil {
		return err
	}

	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conversions recorded.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), historyTable(entries, stdoutIsTerminal()))
	return nil
}

func historyTable(entries []history.Entry, color bool) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		result := "-"
		if e.State == types.StateCompleted {
			result = humanize.Bytes(uint64(e.ResultBytes))
		}
		detail := e.Error
		if detail == "" {
			detail = e.Duration.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			e.Name,
			string(e.Target),
			stateLabel(e.State, color),
			humanize.Bytes(uint64(e.SourceBytes)),
			result,
			humanize.Time(e.FinishedAt),
			detail,
		})
	}
	return renderTable(
		[]string{"File", "Target", "Status", "Source", "Result", "Finished", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	)
}

// --- export subcommand ---

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the conversion history as YAML or JSON",
	RunE:  runHistoryExport,
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	opts, err := historyQuery(cmd)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	outPath, _ := cmd.Flags().GetString("out")

	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	var w io.Writer = cmd.OutOrStdout()
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outPath, err)
		}
		defer f.Close()
		w = f
	}

	if asJSON {
		return store.ExportJSON(cmd.Context(), w, opts)
	}
	return store.ExportYAML(cmd.Context(), w, opts)
}

// --- summary subcommand ---

var historySummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show totals across all recorded conversions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		sum, err := store.Summary(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), summaryTable(sum))
		return nil
	},
}

func summaryTable(sum history.Summary) string {
	return renderTable(
		[]string{"Metric", "Value"},
		[][]string{
			{"Conversions", humanize.Comma(int64(sum.Total()))},
			{"Completed", humanize.Comma(int64(sum.Completed))},
			{"Failed", humanize.Comma(int64(sum.Failed))},
			{"Source bytes", humanize.Bytes(uint64(sum.SourceBytes))},
			{"Result bytes", humanize.Bytes(uint64(sum.ResultBytes))},
		},
		[]columnAlignment{alignLeft, alignRight},
	)
}

// --- clear subcommand ---

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every recorded conversion",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{historyListCmd, historyExportCmd} {
		c.Flags().String("state", "", "only conversions in this state: completed or error")
		c.Flags().String("target", "", "only conversions to this target format")
	}
	historyListCmd.Flags().Int("limit", 20, "maximum number of entries")
	historyExportCmd.Flags().Bool("json", false, "export JSON instead of YAML")
	historyExportCmd.Flags().String("out", "", "write the export to this file instead of stdout")

	historyCmd.AddCommand(historyListCmd, historyExportCmd, historySummaryCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*history.Store, error) {
	if appConfig.History.DBPath == "" {
		return nil, fmt.Errorf("history database path is not configured; set --history-db")
	}
	if _, err := os.Stat(appConfig.History.DBPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no history at %s; run convert first", appConfig.History.DBPath)
	}
	return history.NewStore(appConfig.History)
}

func historyQuery(cmd *cobra.Command) (history.QueryOptions, error) {
	var opts history.QueryOptions

	state, _ := cmd.Flags().GetString("state")
	switch types.State(state) {
	case "":
	case types.StateCompleted, types.StateError:
		opts.State = types.State(state)
	default:
		return opts, fmt.Errorf("--state must be completed or error, got %s", strconv.Quote(state))
	}

	if target, _ := cmd.Flags().GetString("target"); target != "" {
		f, err := types.ParseFormat(target)
		if err != nil {
			return opts, err
		}
		opts.Target = f
	}

	if cmd.Flags().Lookup("limit") != nil {
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		if opts.Limit < 0 {
			return opts, fmt.Errorf("--limit must not be negative")
		}
	}
	return opts, nil
}
