package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gofeature/featsort"
	"github.com/gofeature/featsort/diff"
	"github.com/gofeature/featsort/feature"
	"github.com/gofeature/featsort/ordering"
)

type diffOptions struct {
	*options
	by    []string
	quiet bool
}

func newDiffCmd(opts *options) *cobra.Command {
	do := &diffOptions{options: opts}
	cmd := &cobra.Command{
		Use:   "diff [flags] a.csv b.csv",
		Short: "Show records found in only one of two CSV feature files",
		Long: `Sort both files by the --by keys (default @id) and print every record that has
no equal counterpart in the other file: "<" for records only in a.csv and ">"
for records only in b.csv. Counts are printed last.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return do.run(cmd.Context(), cmd.OutOrStdout(), args[0], args[1])
		},
	}
	cmd.Flags().StringArrayVar(&do.by, "by", nil, "key records are matched on, repeatable (default @id)")
	cmd.Flags().BoolVarP(&do.quiet, "quiet", "q", false, "only print the counts")
	return cmd
}

func (do *diffOptions) run(ctx context.Context, stdout io.Writer, fileA, fileB string) (err error) {
	sortBy, err := parseSortBy(do.by)
	if err != nil {
		return err
	}
	if len(sortBy) == 0 {
		sortBy = []ordering.SortBy{ordering.NaturalOrder}
	}
	config, err := do.config()
	if err != nil {
		return err
	}

	// both sides are sorted at the same time, each with its own spill file
	var a, b feature.Stream
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		a, err = sortCSV(gctx, fileA, sortBy, config)
		return err
	})
	g.Go(func() (err error) {
		b, err = sortCSV(gctx, fileB, sortBy, config)
		return err
	})
	werr := g.Wait()
	defer func() {
		for _, s := range []feature.Stream{a, b} {
			if s == nil {
				continue
			}
			if cerr := s.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()
	if werr != nil {
		return werr
	}
	if !sameColumns(a.Schema(), b.Schema()) {
		return fmt.Errorf("%s and %s declare different attributes", fileA, fileB)
	}

	cmp, err := ordering.Build(a.Schema(), sortBy)
	if err != nil {
		return err
	}
	resultFunc := diff.Writer(stdout)
	if do.quiet {
		resultFunc = func(diff.Delta, *feature.Record) error { return nil }
	}
	r, err := diff.Streams(ctx, a, b, cmp, resultFunc)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, r.String())
	return err
}

func sortCSV(ctx context.Context, path string, sortBy []ordering.SortBy, config *featsort.Config) (feature.Stream, error) {
	input, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	sorted, err := featsort.Sort(ctx, input, sortBy, config)
	if err != nil {
		_ = input.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sorted, nil
}

// sameColumns reports whether records of a and b can share one comparator.
func sameColumns(a, b *feature.Schema) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i := 0; i < a.Len(); i++ {
		if a.Attribute(i).Name != b.Attribute(i).Name || a.Attribute(i).Type != b.Attribute(i).Type {
			return false
		}
	}
	return true
}
