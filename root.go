package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/lapse-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagEnvFile    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// httpClientTimeout is used when the resolved config carries no timeout.
const httpClientTimeout = 30 * time.Second

// watchDirArgAnnotation marks commands whose first positional argument
// overrides watch.dir.
const watchDirArgAnnotation = "watchDirArg"

// CLIFlags is the parsed form of the global persistent flags.
type CLIFlags struct {
	ConfigPath string
	EnvFile    string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries everything a subcommand needs. It is built once in
// PersistentPreRunE and stored in the command's context.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by PersistentPreRunE.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext missing from command context; PersistentPreRunE did not run")
	}

	return cc
}

// newHTTPClient returns an HTTP client bounded by timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = httpClientTimeout
	}

	return &http.Client{Timeout: timeout}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "lapse-go",
		Short:   "Lapse journal CLI client",
		Long:    "Publish photos to a Lapse journal from the command line.",
		Version: version,
		// Errors and usage are printed by exitOnError.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cc, err := newCLIContext(cmd, args)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "load environment variables from a dotenv file")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext loads the env file, resolves the effective configuration
// and builds the logger.
func newCLIContext(cmd *cobra.Command, args []string) (*CLIContext, error) {
	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		EnvFile:    flagEnvFile,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}

	// Variables already set in the environment take precedence over the file.
	if flags.EnvFile != "" {
		if err := godotenv.Load(flags.EnvFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", flags.EnvFile, err)
		}
	}

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if cmd.Annotations[watchDirArgAnnotation] != "" && len(args) > 0 {
		dir, err := filepath.Abs(args[0])
		if err != nil {
			return nil, fmt.Errorf("resolving watch directory: %w", err)
		}

		cli.WatchDir = &dir
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(os.Stderr, resolved, flags, isatty.IsTerminal(os.Stderr.Fd()))

	logger.Debug("configuration resolved",
		slog.String("config_path", resolved.Path),
		slog.String("data_dir", resolved.DataDir),
	)

	return &CLIContext{Flags: flags, Cfg: resolved, Logger: logger}, nil
}

// logLevel picks the level from the config file, then lets --verbose and
// --quiet override it because CLI flags always win.
func logLevel(cfg *config.Resolved, flags CLIFlags) slog.Level {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return level
}

// useJSONLogs reports whether log records should be JSON. "auto" means text
// on a terminal and JSON everywhere else.
func useJSONLogs(format string, terminal bool) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !terminal
	}
}

// buildLogger creates the process logger writing to w.
func buildLogger(w io.Writer, cfg *config.Resolved, flags CLIFlags, terminal bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel(cfg, flags)}

	format := ""
	if cfg != nil {
		format = cfg.LogFormat
	}

	if useJSONLogs(format, terminal) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
