package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Config     Config
}

// NewRootCommand creates the root command for the connectreq CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	d := DefaultConfig()

	cmd := &cobra.Command{
		Use:   "connectreq",
		Short: "Drive a request coordinator from a scenario",
		Long: `connectreq derives queries from inputs, issues them over HTTP and
cancels or re-issues them as the inputs change.

Settings come from flags, CONNECTREQ_* environment variables and an optional
config file, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(viper.New(), cmd.Flags(), opts.ConfigFile)
			if err != nil {
				return err
			}
			opts.Config = cfg
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "path to a config file")
	flags.String("log-level", d.LogLevel, "log level (trace|debug|info|warn|error)")
	flags.String("format", d.Format, "output format (text|json)")
	flags.Duration("timeout", d.Timeout, "HTTP timeout per request, also bounds each forced request")
	flags.Int("retries", d.Retries, "retries for implicit requests")
	flags.Duration("backoff", d.Backoff, "delay before the first retry")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewKeyCommand(opts))

	return cmd
}
