package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dataforge/catalog-sync/internal/audit"
	"github.com/dataforge/catalog-sync/internal/auth"
	"github.com/dataforge/catalog-sync/internal/catalog"
	"github.com/dataforge/catalog-sync/internal/category"
	"github.com/dataforge/catalog-sync/internal/config"
	"github.com/dataforge/catalog-sync/internal/database"
	"github.com/dataforge/catalog-sync/internal/engine"
	"github.com/dataforge/catalog-sync/internal/enrich"
	"github.com/dataforge/catalog-sync/internal/logging"
	"github.com/dataforge/catalog-sync/internal/scheduler"
	"github.com/dataforge/catalog-sync/internal/secrets"
	"github.com/dataforge/catalog-sync/internal/server"
	"github.com/dataforge/catalog-sync/internal/settings"
	"github.com/dataforge/catalog-sync/internal/source"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "catalog-syncd",
		Short: "Catalog synchronization service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("admin-api-key", "", "Admin API key (overrides env)")
	cmd.PersistentFlags().String("admin-signing-secret", "", "Admin token signing secret (overrides env)")
	cmd.PersistentFlags().String("master-key", "", "Master secret for credential encryption (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "admin.api_key", "admin-api-key")
	bindFlag(cmd, "admin.signing_secret", "admin-signing-secret")
	bindFlag(cmd, "secrets.master_key", "master-key")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	cipher := secrets.NewCipher(appConfig.MasterKey)
	if !cipher.Enabled() {
		logger.Warn("no master key configured, credentials are stored in plaintext")
	}

	settingsStore, err := settings.NewStore(settings.StoreConfig{Database: db, Cipher: cipher})
	if err != nil {
		return err
	}
	if _, err := settingsStore.EnsureWebhookKey(ctx); err != nil {
		return err
	}

	catalogStore, err := catalog.NewStore(catalog.StoreConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}
	auditStore, err := audit.NewStore(audit.StoreConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}
	categoryStore, err := category.NewStore(category.StoreConfig{Database: db})
	if err != nil {
		return err
	}

	sourceClient, err := source.NewClient(source.ClientConfig{
		Credentials: settingsStore,
		Budget:      source.NewRateBudget(source.RateBudgetConfig{}),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	discoverer := category.NewDiscoverer(category.DiscovererConfig{
		Webhooks:          auditStore,
		Records:           catalogStore,
		Live:              sourceClient,
		CategoryAttribute: catalog.AttrSourceCategory,
	})

	rewriter, err := enrich.NewRewriter(enrich.RewriterConfig{
		Credentials: settingsStore,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	syncEngine, err := engine.NewEngine(engine.Config{
		Catalog:  catalogStore,
		Audit:    auditStore,
		Rewriter: rewriter,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	snapshotFn := func(ctx context.Context) (engine.SyncConfig, error) {
		snap, err := settingsStore.Snapshot(ctx)
		if err != nil {
			return engine.SyncConfig{}, err
		}
		policy, err := categoryStore.Policy(ctx)
		if err != nil {
			return engine.SyncConfig{}, err
		}
		return engine.SyncConfig{
			Categories:     policy,
			DefaultStatus:  catalog.ParseStatus(snap.NewRecordStatus),
			LoggingLevel:   audit.ParseLevel(snap.LoggingLevel),
			RewriteEnabled: snap.RewriteEnabled,
			Rewrite: enrich.Options{
				Model:       snap.RewriteModel,
				Prompt:      snap.RewritePrompt,
				LogPayloads: snap.RewriteLogging,
			},
		}, nil
	}

	poller, err := scheduler.NewPoller(scheduler.PollerConfig{
		Pages:    sourceClient,
		Syncer:   syncEngine,
		Snapshot: snapshotFn,
		Recorder: settingsStore,
		Logger:   logger,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}
	defer poller.Stop()

	bootSnapshot, err := settingsStore.Snapshot(ctx)
	if err != nil {
		return err
	}
	poller.Reschedule(time.Duration(bootSnapshot.SyncIntervalMinutes)*time.Minute, bootSnapshot.AutoSync)

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AdminSigningSecret),
		Issuer:        "catalog-sync",
		Audience:      "catalog-sync-admin",
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Syncer:       syncEngine,
		Batch:        poller,
		Settings:     settingsStore,
		Audit:        auditStore,
		Categories:   categoryStore,
		Discovery:    discoverer,
		Snapshot:     snapshotFn,
		AdminKey:     appConfig.AdminAPIKey,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
