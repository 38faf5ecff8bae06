package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "face-auth",
	Short: "Face login service backed by an in-memory embedding cache",
	Long: `Face Auth authenticates people by matching a probe photo against the
reference photos of enrolled users. Reference vectors are extracted once
by the embedding service and kept in an in-memory snapshot that is rebuilt
when it gets stale.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		level, format := cfg.Log.Level, cfg.Log.Format
		if v, ok := flagOverride(cmd, "log-level", (*pflag.FlagSet).GetString); ok {
			level = v
		}
		if v, ok := flagOverride(cmd, "log-format", (*pflag.FlagSet).GetString); ok {
			format = v
		}
		return logging.Setup(level, format, os.Stderr)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console or json)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
