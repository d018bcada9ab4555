// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/convert-engine/internal/heic"
	"github.com/pdiddy/convert-engine/internal/history"
	"github.com/pdiddy/convert-engine/internal/queue"
	"github.com/pdiddy/convert-engine/internal/report"
	"github.com/pdiddy/convert-engine/pkg/types"
)

var convertCmd = &cobra.Command{
	Use:   "convert [files...]",
	Short: "Convert files to a target format",
	Long: `Convert queues the given files and converts each one to the target format.
HEIC photos are turned into JPEG before conversion. SVG sources are rasterized
at their intrinsic size multiplied by --scale. PDF sources are not supported.

Converted files are written to --out-dir; existing files are never overwritten.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().String("to", "", "target format: jpg, png, webp, jfif, svg, pdf")
	convertCmd.Flags().Float64("quality", 0, "quality for lossy targets, 0..1 (default: engine default)")
	convertCmd.Flags().Int("scale", 1, "scale factor for SVG sources: 1, 2 or 3")
	convertCmd.Flags().String("out-dir", "converted", "directory for converted files")
	convertCmd.Flags().String("report", "", "write a YAML batch report to this path")
	convertCmd.Flags().Bool("no-history", false, "do not record conversions in the history database")
	_ = convertCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	targetName, _ := cmd.Flags().GetString("to")
	target, err := types.ParseFormat(targetName)
	if err != nil {
		return err
	}

	opts := queue.SubmitOptions{}
	opts.Scale, _ = cmd.Flags().GetInt("scale")
	if opts.Scale < types.MinScale || opts.Scale > types.MaxScale {
		return fmt.Errorf("--scale must be between %d and %d", types.MinScale, types.MaxScale)
	}
	if cmd.Flags().Changed("quality") {
		q, _ := cmd.Flags().GetFloat64("quality")
		if q < 0 || q > 1 {
			return fmt.Errorf("--quality must be between 0 and 1")
		}
		opts.Quality = &q
	}

	files, err := readFiles(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controllerOpts := []queue.Option{
		queue.WithConfig(appConfig.Queue),
		queue.WithLogger(logger),
		queue.WithNormalizer(heic.New(heic.WithQuality(appConfig.HEIC.Quality), heic.WithLogger(logger))),
	}
	noHistory, _ := cmd.Flags().GetBool("no-history")
	if !noHistory && appConfig.History.DBPath != "" {
		store, err := history.NewStore(appConfig.History)
		if err != nil {
			logger.Warn("history disabled", slog.Any("error", err))
		} else {
			defer store.Close()
			controllerOpts = append(controllerOpts, queue.WithRecorder(store))
		}
	}

	ctrl := queue.New(queue.WorkerFactory(appConfig.Engine, logger), controllerOpts...)
	defer ctrl.Close()

	if err := ctrl.Initialize(ctx); err != nil {
		return err
	}
	if _, err := ctrl.Submit(ctx, files, target, opts); err != nil {
		return err
	}

	stopProgress := func() {}
	if stderrIsTerminal() {
		stopProgress = showProgress(ctrl, os.Stderr)
	}
	err = ctrl.Wait(ctx)
	stopProgress()
	if err != nil {
		return fmt.Errorf("waiting for conversions: %w", err)
	}

	records := ctrl.Observe()
	outDir, _ := cmd.Flags().GetString("out-dir")
	result, err := report.WriteOutputs(records, outDir, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("report"); path != "" {
		if err := report.WriteYAMLFile(path, report.Build(records, time.Now())); err != nil {
			return err
		}
	}

	if result.HasFailures() {
		return fmt.Errorf("%d of %d file(s) failed", result.Failed+result.Pending, result.Total())
	}
	return nil
}

func readFiles(paths []string) ([]types.Blob, error) {
	files := make([]types.Blob, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		files = append(files, types.NewBlob(filepath.Base(p), data))
	}
	return files, nil
}

// showProgress renders a single status line from queue snapshots until the
// returned func is called.
func showProgress(ctrl *queue.Controller, w io.Writer) func() {
	snapshots, cancel := ctrl.Subscribe()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for snap := range snapshots {
			fmt.Fprintf(w, "\r%s", progressLine(snap))
		}
		fmt.Fprintln(w)
	}()
	return func() {
		cancel()
		<-finished
	}
}

func progressLine(records []queue.Record) string {
	var done int
	var sum float64
	for _, r := range records {
		if r.State.Terminal() {
			done++
		}
		sum += r.Progress
	}
	pct := 0.0
	if len(records) > 0 {
		pct = sum / float64(len(records)) * 100
	}
	return fmt.Sprintf("converting %d/%d files (%3.0f%%)", done, len(records), pct)
}

