package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mrmushfiq/imagegw/internal/gateway/vault"
	"github.com/spf13/cobra"
)

// newSealCmd encrypts a provider API key into the form stored in
// model_configs and platform_configs.
func newSealCmd() *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "seal <api-key>",
		Short: "Encrypt a provider API key for storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("CREDENTIAL_SECRET")
			}
			if secret == "" {
				return errors.New("a secret is required (--secret or CREDENTIAL_SECRET)")
			}

			sealed, err := vault.Encrypt(args[0], secret)
			if err != nil {
				return fmt.Errorf("encrypting key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "credential secret (defaults to CREDENTIAL_SECRET)")
	return cmd
}
