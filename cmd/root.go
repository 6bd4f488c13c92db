// Package cmd defines and implements the CLI commands for the honor-the-fallen executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/y3shua/honor-the-fallen/internal/app"
	"github.com/y3shua/honor-the-fallen/internal/config"
	"github.com/y3shua/honor-the-fallen/internal/fallen"
	"github.com/y3shua/honor-the-fallen/internal/graph"
	"github.com/y3shua/honor-the-fallen/internal/logging"
	"github.com/y3shua/honor-the-fallen/internal/metrics"
	"github.com/y3shua/honor-the-fallen/internal/pipeline"
	"github.com/y3shua/honor-the-fallen/internal/search"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// credentialsAnnotation marks commands that never talk to the page.
const credentialsAnnotation = "credentials"

// App defines the services commands use. Tests swap in their own.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Plan(date string) (search.Plan, error)
	Search(ctx context.Context, plan search.Plan) []fallen.BriefRecord
	Verify(ctx context.Context) (graph.PageInfo, error)
	Runner(ctx context.Context, mode pipeline.Mode, plan search.Plan) (*pipeline.Runner, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

type rootOptions struct {
	configPath string
	envFile    string
	dev        bool

	// app is set once PersistentPreRunE builds it.
	app App
}

// closeApp releases the App built for this invocation. Cobra skips
// PersistentPostRun when RunE fails, so run calls this on every path.
func (o *rootOptions) closeApp() {
	if o.app == nil {
		return
	}
	o.app.Close()
	_ = o.app.Logger().Sync()
	o.app = nil
}

// newRootCmd creates and configures the root command.
func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "honor-the-fallen",
		Short: "Posts daily tributes to fallen service members.",
		Long: `honor-the-fallen searches the Military Times memorial for service members
who died on this day, enriches each record from its profile page, and posts
the portrait and biography to a Facebook page.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loadOpts := []config.Option{config.WithDotEnv(opts.envFile)}
			if cmd.Annotations[credentialsAnnotation] == "optional" {
				loadOpts = append(loadOpts, config.WithoutCredentials())
			}
			cfg, err := config.Load(opts.configPath, loadOpts...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := logging.New(cfg.Logging.Development || opts.dev, logging.WithLevel(cfg.Logging.Level))
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			metrics.Init()

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			opts.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load; empty disables")
	cmd.PersistentFlags().BoolVar(&opts.dev, "dev", false, "human-readable debug logging")

	cmd.AddCommand(newPostCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVerifyCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	opts := &rootOptions{}
	root := newRootCmd(opts)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	err := root.ExecuteContext(ctx)
	opts.closeApp()
	if err != nil {
		if !errors.Is(err, errNothingPosted) {
			_, _ = fmt.Fprintln(errOut, "Error:", err)
		}
		return 1
	}
	return 0
}
