package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/janekbaraniewski/usagerecon/internal/config"
	"github.com/janekbaraniewski/usagerecon/internal/parsers"
	"github.com/janekbaraniewski/usagerecon/internal/recon"
	"github.com/janekbaraniewski/usagerecon/internal/report"
	"github.com/janekbaraniewski/usagerecon/internal/version"
)

var detailExtensions = []string{".json", ".ndjson", ".jsonl"}

type runFlags struct {
	detail            []string
	summary           string
	out               string
	bufferHours       int
	toleranceHours    int
	noSurfaceMismatch bool
	foldLoginCase     bool
	indexBackend      string
	indexPath         string
	quiet             bool
	width             int
}

func newRunCommand(g *globalFlags) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile a summary report against detail exports",
		Long: "Reads one or more detail exports (NDJSON, concatenated or pretty-printed JSON, optionally " +
			"gzip or zstd compressed; directories are searched for *.json, *.ndjson and *.jsonl) and one " +
			"summary CSV, then writes discrepancies.csv, summary.md and result.json to --out.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if err := f.apply(cmd, &cfg); err != nil {
				return err
			}
			log, err := g.logger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return f.run(ctx, cmd, cfg, log)
		},
	}

	fl := cmd.Flags()
	fl.StringSliceVarP(&f.detail, "detail", "d", nil, "detail export file or directory (repeatable, '-' for stdin)")
	fl.StringVarP(&f.summary, "summary", "s", "", "summary activity report CSV")
	fl.StringVarP(&f.out, "out", "o", "usagerecon-out", "output directory")
	fl.IntVar(&f.bufferHours, "buffer-hours", 96, "hours trimmed from the end of the declared report window")
	fl.IntVar(&f.toleranceHours, "tolerance-hours", 24, "maximum distance between summary and detail timestamps")
	fl.BoolVar(&f.noSurfaceMismatch, "no-surface-mismatch", false, "do not report surface mismatches")
	fl.BoolVar(&f.foldLoginCase, "fold-login-case", false, "match logins case-insensitively")
	fl.StringVar(&f.indexBackend, "index-backend", "", "activity index backend: memory or sqlite")
	fl.StringVar(&f.indexPath, "index-path", "", "SQLite index file (default: temporary file)")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "do not print the terminal summary")
	fl.IntVar(&f.width, "width", 0, "terminal summary width (default: terminal width or 100)")
	_ = cmd.MarkFlagRequired("detail")
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

// apply overrides config values with flags the user set explicitly.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("buffer-hours") {
		cfg.BufferHours = f.bufferHours
	}
	if fl.Changed("tolerance-hours") {
		cfg.ToleranceHours = f.toleranceHours
	}
	if f.noSurfaceMismatch {
		cfg.SurfaceMismatch = false
	}
	if f.foldLoginCase {
		cfg.FoldLoginCase = true
	}
	if f.indexBackend != "" {
		cfg.Index.Backend = strings.ToLower(strings.TrimSpace(f.indexBackend))
	}
	if f.indexPath != "" {
		cfg.Index.Path = f.indexPath
		if !fl.Changed("index-backend") {
			cfg.Index.Backend = config.BackendSQLite
		}
	}
	return cfg.Validate()
}

func (f *runFlags) run(ctx context.Context, cmd *cobra.Command, cfg config.Config, log *zap.Logger) error {
	files, err := collectDetailFiles(f.detail)
	if err != nil {
		return err
	}
	in := recon.Inputs{Summary: parsers.FileSource(f.summary)}
	for _, p := range files {
		in.Detail = append(in.Detail, parsers.FileSource(p))
	}

	log.Info("starting reconciliation",
		zap.String("version", version.String()),
		zap.Int("detail_inputs", len(files)),
		zap.String("summary", f.summary),
		zap.String("index_backend", cfg.Index.Backend))

	res, err := recon.NewEngine(cfg.Options(), log).Run(ctx, in)
	if err != nil {
		return err
	}

	written, err := report.WriteAll(f.out, res)
	if err != nil {
		return err
	}
	for _, p := range written {
		log.Info("wrote output", zap.String("path", p))
	}

	if !f.quiet {
		fmt.Fprint(cmd.OutOrStdout(), report.RenderTerminal(res, f.terminalWidth()))
	}
	return nil
}

func (f *runFlags) terminalWidth() int {
	if f.width > 0 {
		return f.width
	}
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	return 100
}

// collectDetailFiles expands directories into their detail export files,
// sorted by path. Explicit file arguments are kept whatever their extension.
func collectDetailFiles(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		if p == "-" {
			out = append(out, p)
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("detail input: %w", err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isDetailFile(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("detail input %s: %w", p, err)
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("detail input %s: no %s files", p, strings.Join(detailExtensions, ", "))
		}
		slices.Sort(found)
		out = append(out, found...)
	}
	if len(out) == 0 {
		return nil, errors.New("no detail inputs")
	}
	return out, nil
}

func isDetailFile(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".zst")
	return slices.Contains(detailExtensions, filepath.Ext(name))
}
