package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/salvadorAnt/imapfetch/internal/archive"
	"github.com/salvadorAnt/imapfetch/internal/config"
	"github.com/salvadorAnt/imapfetch/internal/engine"
	"github.com/salvadorAnt/imapfetch/internal/index"
	"github.com/salvadorAnt/imapfetch/internal/mailserver"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch new messages from every configured account into the local archive",
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

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		// Accounts share nothing: each gets its own session, index and
		// store, so they can run in parallel. Within one account everything
		// is strictly sequential.
		g, ctx := errgroup.WithContext(ctx)
		for _, account := range cfg.Accounts {
			account := account
			g.Go(func() error {
				if err := syncAccount(ctx, logger, account); err != nil {
					return fmt.Errorf("account %q: %w", account.Name, err)
				}
				return nil
			})
		}
		return g.Wait()
	},
}

func syncAccount(ctx context.Context, logger *slog.Logger, account config.Account) error {
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
	defer func() {
		if err := session.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close session",
				slog.String("account", account.Name), slog.Any("error", err))
		}
	}()

	// The index lives inside the archive root, which may not exist yet.
	if err := os.MkdirAll(account.ArchiveRoot(), 0o755); err != nil {
		return err
	}
	idx, err := index.Open(account.IndexPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := idx.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close index",
				slog.String("account", account.Name), slog.Any("error", err))
		}
	}()

	store, err := newArchiveStore(account)
	if err != nil {
		return err
	}

	eng, err := engine.New(
		engine.WithAccountName(account.Name),
		engine.WithMailserver(session),
		engine.WithIndex(idx),
		engine.WithArchive(store),
		engine.WithLogger(logger),
		engine.WithIncremental(account.IncrementalEnabled()),
	)
	if err != nil {
		return err
	}

	return eng.SyncAccount(ctx)
}

func newArchiveStore(account config.Account) (archive.Store, error) {
	switch account.StoreBackend() {
	case "s3":
		env, err := config.S3FromEnv()
		if err != nil {
			return nil, err
		}
		return archive.NewS3Store(archive.S3Config{
			Endpoint: env.Endpoint,
			Region:   env.Region,
			Bucket:   env.Bucket,
			Key:      env.Key,
			Secret:   env.Secret,
		})
	default:
		return archive.NewFSStore(account.ArchiveRoot())
	}
}
