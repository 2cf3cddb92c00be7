package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gofeature/featsort"
	"github.com/gofeature/featsort/csvio"
	"github.com/gofeature/featsort/ordering"
)

type sortOptions struct {
	*options
	by        []string
	output    string
	outputDir string
	unique    bool
	jobs      int
}

func newSortCmd(opts *options) *cobra.Command {
	so := &sortOptions{options: opts}
	cmd := &cobra.Command{
		Use:   "sort [flags] file.csv...",
		Short: "Sort CSV feature files",
		Long: `Sort CSV feature files by one or more keys. A key is an attribute name or @id
for the feature id, optionally followed by :asc or :desc. Without --by the
records are passed through unchanged.

A single file is written to --output, or stdout. Several files are sorted
concurrently, each to <name>.sorted.csv in --output-dir or next to the input.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return so.run(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
	flags := cmd.Flags()
	flags.StringArrayVar(&so.by, "by", nil, "sort key, repeatable (e.g. pop:desc, @id)")
	flags.StringVarP(&so.output, "output", "o", "", "output file for a single input (default stdout)")
	flags.StringVar(&so.outputDir, "output-dir", "", "directory for outputs when sorting several files")
	flags.BoolVarP(&so.unique, "unique", "u", false, "drop records equal under the sort keys to the previous one")
	flags.IntVarP(&so.jobs, "jobs", "j", runtime.NumCPU(), "files sorted at the same time")
	return cmd
}

func parseSortBy(keys []string) ([]ordering.SortBy, error) {
	var sortBy []ordering.SortBy
	for _, k := range keys {
		sb, err := ordering.ParseSortBy(k)
		if err != nil {
			return nil, err
		}
		sortBy = append(sortBy, sb)
	}
	return sortBy, nil
}

func (so *sortOptions) run(ctx context.Context, stdout io.Writer, files []string) error {
	sortBy, err := parseSortBy(so.by)
	if err != nil {
		return err
	}
	config, err := so.config()
	if err != nil {
		return err
	}
	if len(files) == 1 && so.outputDir == "" {
		if so.output == "" {
			return so.sortFile(ctx, files[0], stdout, sortBy, config)
		}
		return so.sortToFile(ctx, files[0], so.output, sortBy, config)
	}
	if so.output != "" {
		return errors.New("--output takes a single input file, use --output-dir")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(so.jobs, 1))
	for _, file := range files {
		file := file
		dir := so.outputDir
		if dir == "" {
			dir = filepath.Dir(file)
		}
		out := filepath.Join(dir, schemaName(file)+".sorted.csv")
		g.Go(func() error {
			return so.sortToFile(ctx, file, out, sortBy, config)
		})
	}
	return g.Wait()
}

func (so *sortOptions) sortToFile(ctx context.Context, in, out string, sortBy []ordering.SortBy, config *featsort.Config) (err error) {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
		if err != nil {
			_ = os.Remove(out)
		}
	}()
	return so.sortFile(ctx, in, f, sortBy, config)
}

// sortFile sorts the CSV file in and writes the result to w.
func (so *sortOptions) sortFile(ctx context.Context, in string, w io.Writer, sortBy []ordering.SortBy, config *featsort.Config) (err error) {
	input, err := openCSV(in)
	if err != nil {
		return err
	}
	sorted, err := featsort.Sort(ctx, input, sortBy, config)
	if err != nil {
		_ = input.Close()
		return fmt.Errorf("%s: %w", in, err)
	}
	defer func() {
		if cerr := sorted.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	merged, spilled := sorted.(*featsort.MergeStream)

	if so.unique && len(sortBy) > 0 {
		cmp, err := ordering.Build(input.Schema(), sortBy)
		if err != nil {
			return err
		}
		sorted = featsort.Unique(sorted, cmp)
	}

	n, err := csvio.WriteStream(w, sorted)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	attrs := []zap.Field{zap.String("file", in), zap.Int("records", n)}
	if spilled {
		attrs = append(attrs, zap.Int("runs", merged.Runs()))
	}
	config.Logger.Debug("sorted file", attrs...)
	return nil
}

func openCSV(path string) (*csvio.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := csvio.NewReader(f, schemaName(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// schemaName names the schema of a file after its base name.
func schemaName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
