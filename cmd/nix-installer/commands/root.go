package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/interaction"
	"github.com/openfroyo/nixinstaller/pkg/telemetry"
	"github.com/openfroyo/nixinstaller/pkg/transports"
)

// app holds the global flags and the collaborators commands share.
type app struct {
	// Global flags
	targetURL       string
	policyPaths     []string
	journalPath     string
	noJournal       bool
	verbose         bool
	logLevel        string
	logFormat       string
	traceExporter   string
	traceEndpoint   string
	metricsTextfile string

	version string
	tel     *telemetry.Telemetry

	openTarget func(ctx context.Context, raw string) (transports.Target, error)
	confirm    func(ctx context.Context, descriptions []actions.ActionDescription) (bool, error)
}

func newApp(version string) *app {
	a := &app{version: version, confirm: interaction.Confirm}
	a.openTarget = a.dialTarget
	return a
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	a := newApp(version)
	err := newRootCommand(a, version, commit, buildDate).ExecuteContext(ctx)
	return errors.Join(err, a.shutdown())
}

func newRootCommand(a *app, version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nix-installer",
		Short: "Plan, install and revert a multi-user Nix installation",
		Long: `nix-installer installs Nix as a sequence of small, revertible actions.

A run is split into two steps:
  - 'plan' turns settings into a plan document listing every action
  - 'execute' applies a plan document, 'revert' undoes it

Each action records a receipt of what it changed, so a failed or completed
install can be reverted from the plan document or from the run journal.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setupTelemetry(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.targetURL, "target", "t", "local", "host to apply plans to: local or ssh://user@host[:port]")
	flags.StringSliceVar(&a.policyPaths, "policy", nil, "additional rego/json policy files or directories")
	flags.StringVar(&a.journalPath, "journal", defaultJournalPath(), "run journal database path")
	flags.BoolVar(&a.noJournal, "no-journal", false, "do not record runs in the journal")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&a.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (trace, debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "console", "log format (console, json)")
	flags.StringVar(&a.traceExporter, "trace-exporter", "none", "trace exporter (otlp, stdout, none)")
	flags.StringVar(&a.traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint, e.g. localhost:4317")
	flags.StringVar(&a.metricsTextfile, "metrics-textfile", "", "write run metrics to this node exporter textfile")

	rootCmd.AddCommand(newPlanCommand(a))
	rootCmd.AddCommand(newExecuteCommand(a))
	rootCmd.AddCommand(newRevertCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))

	return rootCmd
}

func (a *app) telemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = a.version
	cfg.Logging.Level = a.logLevel
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = a.logFormat
	if a.traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = a.traceExporter
		cfg.Tracing.Endpoint = a.traceEndpoint
	}
	if a.metricsTextfile != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.TextfilePath = a.metricsTextfile
	}
	return cfg
}

func (a *app) setupTelemetry(cmd *cobra.Command) error {
	cfg := a.telemetryConfig()
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	if cfg.Logging.Output == "stderr" {
		tel.Logger = telemetry.NewLoggerTo(cmd.ErrOrStderr(), cfg.Logging)
	}

	// The global level caps every logger, including this one.
	if lvl := telemetry.ParseLevel(cfg.Logging.Level); lvl < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(lvl)
	}
	log.Logger = tel.Logger.Zerolog()

	a.tel = tel
	cmd.SetContext(tel.WithContext(cmd.Context()))
	return nil
}

// shutdown flushes spans and writes the metrics textfile.
func (a *app) shutdown() error {
	if a.tel == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
