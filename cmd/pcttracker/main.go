package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/app"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/config"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile  string
	syncUser string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pcttracker",
		Short: "PCT trail tracker backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize one hiker's activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncUser(cmd.Context(), syncUser)
		},
	}
	syncCmd.Flags().StringVar(&syncUser, "user", "", "Hiker user ID to synchronize")
	if err := syncCmd.MarkFlagRequired("user"); err != nil {
		panic(err)
	}

	syncAllCmd := &cobra.Command{
		Use:   "sync-all",
		Short: "Synchronize every linked hiker in sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncAll(cmd.Context())
		},
	}

	rootCmd.AddCommand(serveCmd, syncCmd, syncAllCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("public.base_url"), "Public base URL of the site")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "MySQL data source name")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Int("sync-max-pages", defaults.GetInt("sync.max_pages"), "Maximum activity pages fetched per sync")
	cmd.PersistentFlags().Bool("sync-stream-geometry", defaults.GetBool("sync.stream_geometry"), "Fetch GPS streams instead of summary polylines")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "public.base_url", "public-base-url")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "sync.max_pages", "sync-max-pages")
	bindFlag(cmd, "sync.stream_geometry", "sync-stream-geometry")
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

func buildApp() (*app.App, config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, config.AppConfig{}, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, config.AppConfig{}, nil, err
	}

	application, err := app.New(appConfig, app.Options{Logger: logger})
	if err != nil {
		_ = logger.Sync()
		return nil, config.AppConfig{}, nil, err
	}
	return application, appConfig, logger, nil
}

func runServer(ctx context.Context) error {
	application, appConfig, logger, err := buildApp()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer func() { _ = application.Close() }()

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: application.Handler,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runSyncUser(ctx context.Context, userID string) error {
	application, _, logger, err := buildApp()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer func() { _ = application.Close() }()

	result, err := application.Syncer.SyncUser(ctx, userID)
	if err != nil {
		logger.Error("sync failed", zap.String("user_id", userID), zap.Error(err))
		return err
	}
	return writeJSON(result)
}

func runSyncAll(ctx context.Context) error {
	application, _, logger, err := buildApp()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer func() { _ = application.Close() }()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	batch, err := application.Runner.RunBatch(signalCtx)
	if err != nil {
		return err
	}
	return writeJSON(batch)
}

func writeJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
