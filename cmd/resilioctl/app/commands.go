// Package app provides the resilioctl command tree.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/camerontarget14/resilio-connect-scripts/internal/config"
	"github.com/camerontarget14/resilio-connect-scripts/internal/versions"
)

// logLevel is shared by every logger the commands create so --debug can
// raise it after the flags are parsed.
var logLevel = new(slog.LevelVar)

// NewRootCmd creates the resilioctl root command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "resilioctl",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Orchestrate jobs on a Resilio Connect management console",
		Long: `resilioctl drives a Resilio Connect management console: it tracks the
agent fleet, provisions cloud storage idempotently and runs distribution and
sync jobs through their whole lifecycle.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logLevel.Set(getLogLevel())
			if viper.GetBool("debug") {
				logLevel.Set(slog.LevelDebug)
			}
			slog.SetDefault(newLogger())
		},
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("error displaying help", "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default ./resilioctl.yaml or $HOME/.resilioctl/resilioctl.yaml)")
	for _, name := range []string{"debug", "config"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			slog.Error("error binding flag", "flag", name, "error", err)
		}
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newAgentsCmd())
	rootCmd.AddCommand(newJobsCmd())
	rootCmd.AddCommand(newStorageCmd())
	rootCmd.AddCommand(newArtistSyncCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newLogger logs JSON to stderr, keeping stdout for command output.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// getLogLevel reads RESILIOCTL_LOG_LEVEL, falling back to LOG_LEVEL.
func getLogLevel() slog.Level {
	levelStr := os.Getenv(config.EnvPrefix + "_LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("invalid log level, using info", "value", levelStr)
		return slog.LevelInfo
	}
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resilioctl %s (commit %s, built %s, %s %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return nil
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
