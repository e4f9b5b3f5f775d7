// Package cmd holds the modwatch command line.
package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/colossusbot/modwatch/internal/conf"
	"github.com/colossusbot/modwatch/internal/logger"
)

type rootOptions struct {
	configPath string
	version    string
}

// RootCommand builds the modwatch command tree.
func RootCommand(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	root := &cobra.Command{
		Use:           "modwatch",
		Short:         "Moderation alert bot for Discord communities",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		serveCommand(opts),
		migrateCommand(opts),
		versionCommand(opts),
	)
	return root
}

func versionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "modwatch %s\n", opts.version)
			return err
		},
	}
}

// newLogger builds the root logger from the log settings.
func newLogger(settings *conf.LogSettings, w io.Writer) (logger.Logger, error) {
	level, err := logger.ParseLevel(settings.Level)
	if err != nil {
		return nil, err
	}
	tz := time.Local
	if settings.Timezone != "" {
		if tz, err = time.LoadLocation(settings.Timezone); err != nil {
			return nil, fmt.Errorf("invalid log timezone %q: %w", settings.Timezone, err)
		}
	}
	if settings.Format == "text" {
		return logger.NewTextLogger(w, level, tz), nil
	}
	return logger.NewSlogLogger(w, level, tz), nil
}

// setup loads settings and the logger writing to w.
func setup(opts *rootOptions, w io.Writer) (*conf.Settings, logger.Logger, error) {
	settings, err := conf.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(&settings.Log, w)
	if err != nil {
		return nil, nil, err
	}
	return settings, log, nil
}
