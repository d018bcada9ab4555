// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report turns finished queue records into files on disk, status
// lines and a YAML batch report.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/convert-engine/internal/queue"
	"github.com/pdiddy/convert-engine/pkg/types"
)

// BatchResult holds the outcome of one submission.
type BatchResult struct {
	Completed int `yaml:"completed"`
	Failed    int `yaml:"failed"`
	Pending   int `yaml:"pending"`
}

// Total returns the number of files in the batch.
func (r BatchResult) Total() int {
	return r.Completed + r.Failed + r.Pending
}

// HasFailures reports whether any file failed or never finished.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0 || r.Pending > 0
}

// Summarize counts records by outcome.
func Summarize(records []queue.Record) BatchResult {
	var result BatchResult
	for _, r := range records {
		switch r.State {
		case types.StateCompleted:
			result.Completed++
		case types.StateError:
			result.Failed++
		default:
			result.Pending++
		}
	}
	return result
}

// WriteOutputs saves every completed result into outDir, printing one
// status line per record to w, followed by a summary line. Existing files
// are never overwritten; a numeric suffix is added instead.
func WriteOutputs(records []queue.Record, outDir string, w io.Writer) (BatchResult, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return BatchResult{}, fmt.Errorf("creating output directory: %w", err)
	}

	var result BatchResult
	for _, r := range records {
		switch {
		case r.State == types.StateCompleted && r.Result != nil:
			path, err := writeUnique(outDir, r.Result.Name, r.Result.Data)
			if err != nil {
				fmt.Fprintf(w, "failed:    %s (%v)\n", r.Name, err)
				result.Failed++
				continue
			}
			fmt.Fprintf(w, "converted: %s -> %s (%s)\n",
				r.Name, filepath.Base(path), humanize.Bytes(uint64(r.Result.Len())))
			result.Completed++
		case r.State == types.StateError:
			fmt.Fprintf(w, "failed:    %s (%s)\n", r.Name, r.Error)
			result.Failed++
		default:
			fmt.Fprintf(w, "pending:   %s\n", r.Name)
			result.Pending++
		}
	}

	fmt.Fprintf(w, "\nBatch summary: %d converted, %d failed, %d pending (total: %d)\n",
		result.Completed, result.Failed, result.Pending, result.Total())
	return result, nil
}

func writeUnique(dir, name string, data []byte) (string, error) {
	name = filepath.Base(name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", err
		}
		return path, f.Close()
	}
	return "", fmt.Errorf("no free file name for %s", name)
}

// FileEntry is one file in a batch report.
type FileEntry struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Output      string       `yaml:"output,omitempty"`
	Target      types.Format `yaml:"target"`
	State       types.State  `yaml:"status"`
	Error       string       `yaml:"error,omitempty"`
	SourceBytes int          `yaml:"source_bytes"`
	ResultBytes int          `yaml:"result_bytes,omitempty"`
	Duration    string       `yaml:"duration"`
}

// Report describes one batch.
type Report struct {
	GeneratedAt time.Time   `yaml:"generated_at"`
	Summary     BatchResult `yaml:"summary"`
	Files       []FileEntry `yaml:"files"`
}

// Build assembles a Report from records.
func Build(records []queue.Record, generatedAt time.Time) Report {
	rep := Report{
		GeneratedAt: generatedAt.UTC(),
		Summary:     Summarize(records),
		Files:       make([]FileEntry, 0, len(records)),
	}
	for _, r := range records {
		e := FileEntry{
			ID:          r.ID,
			Name:        r.Name,
			Target:      r.Target,
			State:       r.State,
			Error:       r.Error,
			SourceBytes: r.SourceBytes,
			ResultBytes: r.ResultBytes(),
			Duration:    r.Duration().Round(time.Millisecond).String(),
		}
		if r.Result != nil {
			e.Output = r.Result.Name
		}
		rep.Files = append(rep.Files, e)
	}
	return rep
}

// WriteYAML encodes rep to w.
func WriteYAML(w io.Writer, rep Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return enc.Close()
}

// WriteYAMLFile writes rep to path.
func WriteYAMLFile(path string, rep Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	if err := WriteYAML(f, rep); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
