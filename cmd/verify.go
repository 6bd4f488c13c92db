package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVerifyCmd creates the 'verify' subcommand.
func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the page credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			info, err := appInstance.Verify(cmd.Context())
			if err != nil {
				return fmt.Errorf("verify credentials: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Connected to page %s (%s)\n", info.Name, info.ID)
			return err
		},
	}
}
