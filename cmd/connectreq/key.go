package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/probablyarth/connectreq"
)

// KeyOptions holds flags for the key command.
type KeyOptions struct {
	*RootOptions
	URL     string
	Body    string
	Options map[string]string
}

// NewKeyCommand creates the key command.
func NewKeyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "key",
		Short: "Print the query key of a config",
		Long: `Print the key that identifies a query for deduplication.

Two configs with the same url, body and options share a key.

Example:
  connectreq key --url http://localhost:3000/users/1
  connectreq key --url http://localhost:3000/users --body '{"id":1}' --option method=POST`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := connectreq.QueryConfig{URL: opts.URL}
			if opts.Body != "" {
				cfg.Body = []byte(opts.Body)
			}
			if len(opts.Options) > 0 {
				cfg.Options = make(map[string]any, len(opts.Options))
				for k, v := range opts.Options {
					cfg.Options[k] = v
				}
			}

			key, err := connectreq.KeyOf(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "query url (required)")
	cmd.Flags().StringVar(&opts.Body, "body", "", "request body")
	cmd.Flags().StringToStringVar(&opts.Options, "option", nil, "request option as key=value, repeatable")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}
