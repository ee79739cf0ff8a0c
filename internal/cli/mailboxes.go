package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/salvadorAnt/imapfetch/internal/config"
	"github.com/salvadorAnt/imapfetch/internal/mailserver"
)

var mailboxesCmd = &cobra.Command{
	Use:   "mailboxes",
	Short: "List the folders of every configured account",
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

		logger := newLogger(cmd)

		for _, account := range cfg.Accounts {
			password, err := account.ResolvePassword()
			if err != nil {
				return err
			}

			timeout, err := account.TimeoutDuration()
			if err != nil {
				return err
			}

			session, err := mailserver.NewSession(
				mailserver.WithAddr(account.Server),
				mailserver.WithCreds(account.Username, password),
				mailserver.WithTimeout(timeout),
				mailserver.WithLogger(logger),
			)
			if err != nil {
				return err
			}

			if err := session.Connect(); err != nil {
				return err
			}

			folders, err := session.ListFolders()
			if closeErr := session.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", account.Name)
			for _, folder := range folders {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", folder)
			}
		}
		return nil
	},
}
