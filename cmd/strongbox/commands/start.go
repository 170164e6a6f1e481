package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/strongbox-io/strongbox/internal/api"
	apiauth "github.com/strongbox-io/strongbox/internal/api/auth"
	"github.com/strongbox-io/strongbox/internal/logger"
	"github.com/strongbox-io/strongbox/pkg/abuse"
	"github.com/strongbox-io/strongbox/pkg/blob"
	"github.com/strongbox-io/strongbox/pkg/config"
	"github.com/strongbox-io/strongbox/pkg/crypto"
	"github.com/strongbox-io/strongbox/pkg/files"
	"github.com/strongbox-io/strongbox/pkg/mailer"
	"github.com/strongbox-io/strongbox/pkg/quota"
	"github.com/strongbox-io/strongbox/pkg/shares"
	"github.com/strongbox-io/strongbox/pkg/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Strongbox server",
	Long: `Start the Strongbox server with the specified configuration.

Configuration is read from the environment and optionally a YAML file
passed with --config. Environment variables override file values.

Examples:
  # Start with environment configuration
  JWT_SECRET=... FILE_ENCRYPTION_MASTER_KEY=... strongbox start

  # Start with a config file
  strongbox start --config /etc/strongbox/config.yaml`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	logger.Info("starting strongbox", "version", Version, "commit", Commit)

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing metadata store", "error", err)
		}
	}()

	blobs, err := blob.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	crypt, err := crypto.New(cfg.Storage.MasterKey)
	if err != nil {
		return fmt.Errorf("initialize encryption: %w", err)
	}

	jwtService, err := apiauth.NewJWTService(apiauth.JWTConfig{
		Secret:          cfg.Auth.JWTSecret,
		SessionDuration: cfg.Auth.SessionTTL,
		CookieDomain:    cfg.Server.CookieDomain,
	})
	if err != nil {
		return fmt.Errorf("initialize session tokens: %w", err)
	}

	acct := quota.New(cfg.Storage.Path)
	fileService := files.NewService(st, blobs, crypt, acct)
	shareService := shares.NewService(st)
	mail := mailer.New(st, cfg.Email)

	router := api.NewRouter(api.Deps{
		Config:  cfg,
		Store:   st,
		Files:   fileService,
		Shares:  shareService,
		Quota:   acct,
		Mailer:  mail,
		JWT:     jwtService,
		Limiter: abuse.NewLimiter(),
	})

	server := api.NewServer(cfg.Server.Port, router, cfg.Server.ShutdownTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("server is running, press Ctrl+C to stop", "port", cfg.Server.Port)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}
