package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "imagegw",
		Short: "Image generation gateway",
		Long: `imagegw routes image generation requests to OpenAI-compatible providers.

Examples:
  imagegw serve
  imagegw seal --secret "$CREDENTIAL_SECRET" sk-provider-key
  imagegw endpoint https://ark.cn-beijing.volces.com`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newSealCmd(),
		newEndpointCmd(),
	)

	return root
}
