package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gofeature/featsort"
)

// options holds the flags shared by every command.
type options struct {
	v       *viper.Viper
	verbose bool
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{v: featsort.NewViper()}
	cmd := &cobra.Command{
		Use:   "featsort",
		Short: "Sort feature files that do not fit in memory",
		Long: `Sort and compare CSV feature files. Files larger than --max-in-memory records
are sorted through a temporary spill file that is removed when the command ends.
Every flag can also be set from the environment, e.g. FEATSORT_MAX_IN_MEMORY.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.Int("max-in-memory", featsort.DefaultConfig().MaxInMemory, "most records held in memory before spilling to disk")
	flags.Int("run-buffer-size", featsort.DefaultConfig().RunBufferSize, "records read ahead per run while merging")
	flags.String("temp-dir", "", "directory for spill files (default: system temp dir)")
	flags.Bool("prefer-disk-backed", false, "prefer a disk backed temp dir such as /var/tmp")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log spill and merge activity")
	for key, flag := range map[string]string{
		"max_in_memory":      "max-in-memory",
		"run_buffer_size":    "run-buffer-size",
		"temp_dir":           "temp-dir",
		"prefer_disk_backed": "prefer-disk-backed",
	} {
		_ = opts.v.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(newSortCmd(opts), newDiffCmd(opts))
	return cmd
}

func (o *options) setupLogger() error {
	if o.logger != nil {
		return nil
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if o.verbose {
		cfg.Level.SetLevel(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	o.logger = logger
	return nil
}

// config resolves the sort configuration from flags and environment.
func (o *options) config() (*featsort.Config, error) {
	c, err := featsort.ConfigFromViper(o.v)
	if err != nil {
		return nil, err
	}
	c.Logger = o.logger
	return c, nil
}
