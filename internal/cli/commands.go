// Package cli implements reconcilectl, the operator view of reconciliation
// jobs and their reports.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	orcaconfig "orca/internal/config"
	"orca/internal/db"
	"orca/internal/jobs"
	"orca/internal/logging"
	"orca/internal/reports"
)

var errorLabel = color.New(color.FgRed)

// JobReader looks up a single job.
type JobReader interface {
	GetJob(ctx context.Context, cursor jobs.JobCursor) (jobs.Job, error)
}

// ReportReader reads report pages.
type ReportReader interface {
	GetMismatchPage(ctx context.Context, req reports.PageRequest) (reports.Page[reports.Mismatch], error)
	GetPhantomPage(ctx context.Context, req reports.PageRequest) (reports.Page[reports.Phantom], error)
	GetOrphanPage(ctx context.Context, req reports.PageRequest) (reports.OrphanPage, error)
	GetOrphansByIndex(ctx context.Context, jobID int64, pageIndex int) (reports.OrphanPage, error)
}

// App holds what the commands need. Connect fills Jobs and Reports on first
// use when they are nil.
type App struct {
	Jobs    JobReader
	Reports ReportReader
	Out     io.Writer
	Logger  zerolog.Logger

	jsonOutput bool
	envFile    string
}

func (a *App) connect(ctx context.Context) error {
	if a.Jobs != nil && a.Reports != nil {
		return nil
	}

	policy, err := orcaconfig.RetryPolicy(a.Logger)
	if err != nil {
		return err
	}
	info, err := orcaconfig.LoadDBConnectInfo()
	if err != nil {
		return err
	}
	sqlDB, err := db.Open(ctx, info, policy, a.Logger)
	if err != nil {
		return err
	}

	if a.Jobs == nil {
		a.Jobs = jobs.NewController(jobs.NewPostgresStore(sqlDB, a.Logger), policy, a.Logger)
	}
	if a.Reports == nil {
		a.Reports = reports.NewReader(reports.NewPostgresStore(sqlDB), db.RetryPolicy(policy), a.Logger)
	}
	return nil
}

func (a *App) loadEnv() error {
	if a.envFile == "" {
		return nil
	}
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", a.envFile, err)
	}
	return nil
}

func (a *App) printJSON(data any) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.Out, string(jsonData))
	return err
}

// NewRootCmd builds the reconcilectl command tree around app.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reconcilectl [command] [flags]",
		Short: "Inspect ORCA reconciliation jobs and reports",
		Long: `reconcilectl reads reconciliation jobs and their mismatch, phantom and
orphan reports from the catalog database.

Connection settings come from DB_* environment variables or DB_CONNECT_INFO,
optionally loaded from a .env file.

Examples:
  # Show a job
  reconcilectl job show 42

  # First page of mismatches, as JSON
  reconcilectl report mismatches 42 --limit 50 -j

  # Orphans, third page
  reconcilectl report orphans 42 --page 2`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.loadEnv()
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.envFile, "env-file", ".env", "Path to a .env file with connection settings")
	rootCmd.PersistentFlags().BoolVarP(&app.jsonOutput, "json", "j", false, "Output in JSON format")

	rootCmd.AddCommand(newJobCmd(app))
	rootCmd.AddCommand(newReportCmd(app))
	return rootCmd
}

// Execute runs reconcilectl against the process arguments.
func Execute() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = zerolog.LevelWarnValue
	}
	app := &App{
		Out:    os.Stdout,
		Logger: logging.New("reconcilectl", level),
	}
	rootCmd := NewRootCmd(app)

	if err := rootCmd.Execute(); err != nil {
		if app.jsonOutput {
			_ = app.printJSON(map[string]string{"error": err.Error()})
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
