package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"branchlab/internal/branching"
	"branchlab/internal/config"
	"branchlab/internal/controlplane"
	"branchlab/internal/scenarios"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "branchlab",
	Short: "Database branching walkthroughs for Postgres",
	Long: `branchlab demonstrates copy-on-write database branches against a
branching control plane: isolated dev copies, schema migrations validated on
real data, point-in-time recovery and ephemeral CI environments.

Run "branchlab setup" first, then the scenarios in any order. "branchlab
mock-server" starts a local control plane backed by plain Postgres.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		scenarioCommand("setup", "Create the project and seed the sample dataset", (*scenarios.Runner).Setup),
		scenarioCommand("data-only", "Branch production data for isolated development", (*scenarios.Runner).DataOnly),
		scenarioCommand("schema-to-prod", "Validate a schema migration on a branch, then replay it", (*scenarios.Runner).SchemaToProd),
		scenarioCommand("concurrent", "Show independent evolution of sibling branches", (*scenarios.Runner).Concurrent),
		scenarioCommand("point-in-time", "Recover from a bad delete with a point-in-time branch", (*scenarios.Runner).PointInTime),
		scenarioCommand("cicd", "Check simulated pull requests on ephemeral branches", (*scenarios.Runner).CICD),
		cleanupCommand(),
		mockServerCommand(),
	)
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// newRunner wires a scenario runner from the environment.
func newRunner(log *logrus.Logger) (*scenarios.Runner, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	client := controlplane.New(cfg.APIURL, cfg.APIToken)
	mgr := branching.NewManager(client, branching.Options{
		Project: cfg.Project,
		SSLMode: cfg.SSLMode,
		Logger:  log,
	})
	return scenarios.NewRunner(client, mgr, cfg, log), nil
}

// signalContext cancels on SIGINT or SIGTERM so endpoint polling and long
// queries stop cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func scenarioCommand(use, short string, run func(*scenarios.Runner, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			runner, err := newRunner(log)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return run(runner, ctx)
		},
	}
}

func cleanupCommand() *cobra.Command {
	var deleteProject bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete non-default branches, optionally the whole project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			runner, err := newRunner(log)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runner.Cleanup(ctx, deleteProject)
		},
	}
	cmd.Flags().BoolVar(&deleteProject, "delete-project", false, "also delete the project and its default branch")
	return cmd
}
