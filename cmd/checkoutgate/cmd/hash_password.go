package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/checkoutgate/password"
)

func newHashPasswordCmd() *cobra.Command {
	var useBcrypt bool
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		Long:  `Read a password from stdin and print its hash in the format the settings store uses.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecretLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			var hasher password.Hasher = password.Default()
			if useBcrypt {
				hasher = &password.Bcrypt{}
			}
			hash, err := hasher.Hash(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&useBcrypt, "bcrypt", false, "Produce a bcrypt hash instead of argon2id")
	return cmd
}
