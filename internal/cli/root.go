package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"sleepdebt/common/logger"
	"sleepdebt/internal/app"
	"sleepdebt/internal/config"
	"sleepdebt/internal/service"

	"github.com/spf13/cobra"
)

var errDBRequired = errors.New("sleepdebtctl needs the Postgres store: set DB_ENABLED=true and the DB_* connection settings")

// ServiceFactory builds the DebtService a command runs against, plus its cleanup.
type ServiceFactory func(ctx context.Context, verbose bool) (*service.DebtService, func(), error)

// ConfigFactory loads configuration from the environment and wires the full app.
func ConfigFactory(ctx context.Context, verbose bool) (*service.DebtService, func(), error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	// an in-memory store would start empty and vanish on exit
	if !cfg.DBEnabled {
		return nil, nil, errDBRequired
	}
	log, err := logger.NewCLILogger(verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a.Service, func() {
		a.Close()
		_ = log.Sync()
	}, nil
}

// NewRootCommand the sleepdebtctl command tree.
func NewRootCommand(factory ServiceFactory) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "sleepdebtctl",
		Short: "Inspect and maintain the sleep debt store",
		Long: `sleepdebtctl runs refreshes, changes the goal and day boundary, and prints
rolling debt, chart series and the per-day history from the configured store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	run := func(fn func(cmd *cobra.Command, svc *service.DebtService, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := factory(cmd.Context(), verbose)
			if err != nil {
				return err
			}
			defer cleanup()
			return fn(cmd, svc, args)
		}
	}

	root.AddCommand(
		newRefreshCmd(run),
		newSettingsCmd(run),
		newGoalCmd(run),
		newBoundaryCmd(run),
		newDebtCmd(run),
		newChartCmd(run),
		newTodayCmd(run),
		newDaysCmd(run),
		newExportCmd(run),
	)
	return root
}

type runner func(fn func(cmd *cobra.Command, svc *service.DebtService, args []string) error) func(*cobra.Command, []string) error

// Execute runs the CLI against the environment configuration.
func Execute(version string) error {
	root := NewRootCommand(ConfigFactory)
	root.Version = version
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
