package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/y3shua/honor-the-fallen/internal/metrics"
	"github.com/y3shua/honor-the-fallen/internal/pipeline"
)

// errNothingPosted makes the process exit 1 after a run that attempted posts
// and landed none. The summary has already been logged.
var errNothingPosted = errors.New("no record was posted")

type postOptions struct {
	mode string
	date string
}

// newPostCmd creates the 'post' subcommand, the scheduled entry point.
func newPostCmd() *cobra.Command {
	opts := &postOptions{}
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Search, enrich, and post to the page",
		Long: `Runs one pass of the job: searches the configured dates, skips records
already in the ledger, and posts in single, individual, or album mode.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPost(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", "", "single, individual, or album (overrides pipeline.mode)")
	cmd.Flags().StringVar(&opts.date, "date", "", "search one day (YYYY-MM-DD) instead of the search mode")
	return cmd
}

func runPost(cmd *cobra.Command, opts *postOptions) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	mode := cfg.PipelineMode()
	started := false
	defer func() {
		if !started && err != nil {
			pipeline.LogAbortedRun(logger, mode, err)
		}
	}()

	if opts.mode != "" {
		if mode, err = pipeline.ParseMode(opts.mode); err != nil {
			return err
		}
	}
	plan, err := appInstance.Plan(opts.date)
	if err != nil {
		return err
	}

	if cfg.Publish.VerifyCredentials {
		info, err := appInstance.Verify(cmd.Context())
		if err != nil {
			return fmt.Errorf("verify credentials: %w", err)
		}
		logger.Info("Credentials verified", zap.String("page", info.Name), zap.String("page_id", info.ID))
	}

	runner, err := appInstance.Runner(cmd.Context(), mode, plan)
	if err != nil {
		return err
	}
	// Run logs its own summary from here on.
	started = true
	summary, err := runner.Run(cmd.Context())
	pushMetrics(cmd.Context(), appInstance)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}
	if summary.ExitCode() != 0 {
		return errNothingPosted
	}
	return nil
}

func pushMetrics(ctx context.Context, appInstance App) {
	cfg := appInstance.Config()
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	if err := metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		appInstance.Logger().Warn("Failed to push metrics", zap.Error(err))
	}
}
