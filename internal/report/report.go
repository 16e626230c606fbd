// Package report renders a reconciliation result as files and terminal output.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/usagerecon/internal/recon"
)

const (
	DiscrepanciesFile = "discrepancies.csv"
	SummaryFile       = "summary.md"
	ResultFile        = "result.json"
)

// WriteAll writes the CSV, Markdown and JSON outputs into dir, creating it if
// needed, and returns the paths written.
func WriteAll(dir string, res *recon.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create output dir: %w", err)
	}

	outputs := []struct {
		name  string
		write func(f *os.File) error
	}{
		{DiscrepanciesFile, func(f *os.File) error { return WriteDiscrepanciesCSV(f, res.Discrepancies) }},
		{SummaryFile, func(f *os.File) error { return WriteMarkdown(f, res) }},
		{ResultFile, func(f *os.File) error { return WriteJSON(f, res) }},
	}

	var written []string
	for _, o := range outputs {
		path := filepath.Join(dir, o.name)
		if err := writeFile(path, o.write); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report: close %s: %w", path, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
