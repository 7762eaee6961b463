package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const envPrefix = "ADIN_"

var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:           "adinctl",
	Short:         "Drive and inspect a simulated ADIN2111 dual port ethernet switch.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envfile, _ := cmd.Flags().GetString("env")
		if err := godotenv.Load(envfile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := bindEnv(cmd.Flags()); err != nil {
			return err
		}
		levelName, _ := cmd.Flags().GetString("log-level")
		var level slog.Level
		if err := level.UnmarshalText([]byte(levelName)); err != nil {
			return err
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("env", ".env", "Environment file with ADIN_* variables. Missing files are ignored.")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error. debug-2 logs every bus transaction.")
}

// bindEnv sets every flag not given on the command line from its ADIN_*
// environment variable.
func bindEnv(flags *pflag.FlagSet) (err error) {
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || f.Name == "env" {
			return
		}
		v, ok := os.LookupEnv(envName(f.Name))
		if ok {
			err = flags.Set(f.Name, v)
		}
	})
	return err
}

func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
