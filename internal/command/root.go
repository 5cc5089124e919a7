// Package command implements the ferry CLI.
package command

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/ferry/internal/config"
	"github.com/MikeSquared-Agency/ferry/internal/reconcile"
	"github.com/MikeSquared-Agency/ferry/internal/transport"
)

const AppName = "ferry"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

// Exit codes.
const (
	ExitFailure = 1
	ExitConfig  = 2
)

// app carries what every subcommand shares once the root pre-run has loaded config.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	closeLog func()
}

func NewRootCmd(version string) *cobra.Command {
	cmd, _ := newRootCmd(version)
	return cmd
}

func newRootCmd(version string) (*cobra.Command, *app) {
	a := &app{}

	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "ferry - Botmaker to Chatwoot migration",
		Long:          "ferry extracts contacts, chats and messages from Botmaker and loads them into a Chatwoot account exactly once.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "YAML config file (environment variables override it)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error (overrides LOG_LEVEL)")

	cmd.AddCommand(
		newExtractCmd(a),
		newLoadCmd(a),
		newPlanCmd(a),
		newInboxesCmd(a),
		newServeCmd(a),
	)

	return cmd, a
}

func (a *app) init(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		a.cfg = cfg
	} else {
		a.cfg = config.Load()
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		a.cfg.LogLevel = lvl
	}

	logger, closeLog, err := setupLogging(a.cfg.LogLevel, a.cfg.LogDir)
	if err != nil {
		return err
	}
	a.logger = logger
	a.closeLog = closeLog
	return a.cfg.ValidateStorage()
}

// close releases the log file. Safe to call more than once.
func (a *app) close() {
	if a.closeLog != nil {
		a.closeLog()
		a.closeLog = nil
	}
}

// ExecuteContext runs the CLI and returns the process exit code. Cancelling ctx stops a
// run between entities.
func ExecuteContext(ctx context.Context) int {
	cmd, a := newRootCmd(Version)
	return execute(ctx, cmd, a)
}

// execute closes the log file on every path; cobra skips PersistentPostRun when RunE fails.
func execute(ctx context.Context, cmd *cobra.Command, a *app) int {
	defer a.close()
	if err := cmd.ExecuteContext(ctx); err != nil {
		writeCommandError(cmd, err)
		return ExitCode(err)
	}
	return 0
}

// ExitCode maps a command error to the process exit code. Missing or invalid
// configuration exits with ExitConfig; everything else with ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, config.ErrMissing) {
		return ExitConfig
	}
	var rerr *reconcile.Error
	if errors.As(err, &rerr) && rerr.Kind == reconcile.Configuration {
		return ExitConfig
	}
	switch transport.StatusOf(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ExitConfig
	}
	return ExitFailure
}
