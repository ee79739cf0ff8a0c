package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const configEnvVar = "IMAPFETCH_CONFIG"
const defaultConfigFile = "imapfetch.yaml"
const defaultEnvFile = ".env"

var rootCmd = &cobra.Command{
	Use:   "imapfetch",
	Short: "imapfetch archives IMAP mailboxes incrementally",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to the account configuration file")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(mailboxesCmd)
	rootCmd.AddCommand(validateCmd)
}

func resolveConfigPath(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", err
	}
	if path != "" {
		return path, nil
	}
	if env := os.Getenv(configEnvVar); env != "" {
		return env, nil
	}
	return defaultConfigFile, nil
}

func loadEnvFile() error {
	if _, err := os.Stat(defaultEnvFile); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(defaultEnvFile)
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, err := cmd.Flags().GetBool("verbose"); err == nil && verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
