package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the anonymous device token",
		Long:  "Print the anonymous token used to authenticate with the voice service, creating it on first use.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := loadConfig()
			if err != nil {
				return err
			}
			tokens, err := tokenProvider(logger)
			if err != nil {
				return err
			}
			token, err := tokens.GetOrCreateToken()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
