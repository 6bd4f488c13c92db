package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newSearchCmd creates the 'search' subcommand, a dry run that prints what a
// post run would consider.
func newSearchCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:         "search",
		Short:       "Print matching records without posting",
		Long:        `Searches the configured dates and writes each record found as one JSON line.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{credentialsAnnotation: "optional"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			plan, err := appInstance.Plan(date)
			if err != nil {
				return err
			}
			records := appInstance.Search(cmd.Context(), plan)
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range records {
				if err := enc.Encode(r); err != nil {
					return fmt.Errorf("write record: %w", err)
				}
			}
			appInstance.Logger().Info("Search command finished.",
				zap.Stringer("plan", plan),
				zap.Int("records", len(records)),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "search one day (YYYY-MM-DD) instead of the search mode")
	return cmd
}
