package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/salvadorAnt/imapfetch/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and required environment variables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfgPath, err := resolveConfigPath(cmd)
		if err != nil {
			return err
		}

		if err := loadEnvFile(); err != nil {
			return err
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		if err := config.Validate(cfg); err != nil {
			return err
		}

		for _, account := range cfg.Accounts {
			if _, err := account.ResolvePassword(); err != nil {
				return fmt.Errorf("account %q: %w", account.Name, err)
			}
			if account.StoreBackend() == "s3" {
				if _, err := config.S3FromEnv(); err != nil {
					return fmt.Errorf("account %q: %w", account.Name, err)
				}
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), config.Summary(cfg))
		return nil
	},
}
