package main

import (
	"fmt"
	"os"

	"github.com/mrmushfiq/imagegw/internal/gateway/dialect"
	"github.com/spf13/cobra"
)

func newEndpointCmd() *cobra.Command {
	var suffixes []string

	cmd := &cobra.Command{
		Use:   "endpoint <base-url>",
		Short: "Print the generation endpoint and dialect for a provider base URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(suffixes) == 0 {
				if env := os.Getenv("EXTENDED_HOST_SUFFIX"); env != "" {
					suffixes = []string{env}
				}
			}
			endpoint, d := dialect.New(suffixes...).Endpoint(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", d, endpoint)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&suffixes, "extended-suffix", nil, "host suffixes that use the extended dialect")
	return cmd
}
