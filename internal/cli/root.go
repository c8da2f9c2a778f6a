package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/finrules/internal/config"
	"github.com/roach88/finrules/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	DB        string
	Workspace string
	LogLevel  string
	LogFormat string
	EnvFile   string

	// Config is loaded in PersistentPreRunE. Flags that were set on the
	// command line override the matching config values.
	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the finrules CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finrules",
		Short: "finrules - transaction automation rules",
		Long: `Manage and run automation rules over financial transactions.

Rules are grouped into pre, default and post stages and run in priority
order. Every rule that changes a transaction leaves an application log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.DB, "db", "", "SQLite database path (env "+config.EnvDB+")")
	flags.StringVarP(&opts.Workspace, "workspace", "w", "", "workspace id (env "+config.EnvWorkspace+")")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (env "+config.EnvLogLevel+")")
	flags.StringVar(&opts.LogFormat, "log-format", "", "log format (env "+config.EnvLogFormat+")")
	flags.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")

	// Add subcommands
	cmd.AddCommand(NewRulesCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewProcessCommand(opts))
	cmd.AddCommand(NewTestRuleCommand(opts))
	cmd.AddCommand(NewLogsCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// setup validates global flags, loads configuration and installs the
// default logger.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	cfg, err := config.Load(o.EnvFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = o.DB
	}
	if flags.Changed("workspace") {
		cfg.Workspace = o.Workspace
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = o.LogFormat
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	o.Config = cfg

	handler, err := logging.CreateHandlerWithStrings(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid logging configuration", err)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
