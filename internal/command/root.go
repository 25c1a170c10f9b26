// Package command implements the perceval CLI: one subcommand per
// registered backend plus shared fetch plumbing.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jjmerchante/perceval-publicinbox/internal/backend"
	"github.com/jjmerchante/perceval-publicinbox/internal/config"
	"github.com/jjmerchante/perceval-publicinbox/internal/imapsource"
	"github.com/jjmerchante/perceval-publicinbox/internal/pop3source"
	"github.com/jjmerchante/perceval-publicinbox/internal/publicinbox"
)

var (
	cfgFile  string
	logLevel string
	dataDir  string

	cfg      *config.Config
	logger   *slog.Logger
	registry *backend.Registry
)

var rootCmd = &cobra.Command{
	Use:   "perceval",
	Short: "Fetch normalized items from mail archives",
	Long: `perceval collects messages from mail archives (public-inbox git
repositories, IMAP folders, POP3 mailboxes) and writes them as
normalized JSON items, one per line, with checkpoints for
incremental fetching.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

// Execute runs the CLI. The context carries signal cancellation set up
// by main.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for persistent data (checkpoints)")

	// Every supported backend is wired here, explicitly. Adding one
	// means registering its factory and its subcommand.
	registry = backend.NewRegistry()
	registry.Register(publicinbox.Name, publicinbox.Factory)
	registry.Register(imapsource.Name, imapsource.Factory)
	registry.Register(pop3source.Name, pop3source.Factory)
}

// setup resolves config and logging before any subcommand runs. Flags
// win over the config file.
func setup() error {
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logger = setupLogger(cfg.LogLevel)
	return nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the registered backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range registry.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
