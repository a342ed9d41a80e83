// Command queueyd runs the Queuey HTTP service: it wires a storage
// backend and metadata catalog into a queue engine and serves the v1
// HTTP surface until interrupted.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/dolthub/driver"
	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"github.com/queuey-io/queuey/internal/auth"
	"github.com/queuey-io/queuey/internal/config"
	"github.com/queuey-io/queuey/internal/httpapi"
	"github.com/queuey-io/queuey/internal/metadata"
	metamem "github.com/queuey-io/queuey/internal/metadata/memory"
	"github.com/queuey-io/queuey/internal/metadata/sqlcatalog"
	"github.com/queuey-io/queuey/internal/queue"
	"github.com/queuey-io/queuey/internal/storage"
	storemem "github.com/queuey-io/queuey/internal/storage/memory"
	"github.com/queuey-io/queuey/internal/storage/sqlcolumn"
)

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "queueyd",
		Short: "Queuey HTTP-fronted multi-tenant message queue service",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to queuey.yaml")
	root.AddCommand(serveCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the queueyd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

// version is overridden at build time via -ldflags.
var version = "dev"

func serveCmd() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), listenAddr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override the configured listen address")
	return cmd
}

func runServe(ctx context.Context, listenAddrFlag string) error {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	v, cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddrFlag != "" {
		cfg.ListenAddr = listenAddrFlag
	}

	live := &config.Live{}
	config.WatchLive(v, live, log)

	store, catalog, err := buildBackends(cfg)
	if err != nil {
		return fmt.Errorf("queueyd: %w", err)
	}

	keys, err := loadApplicationKeys(cfg.ApplicationKeysFile)
	if err != nil {
		return fmt.Errorf("queueyd: %w", err)
	}

	engine := queue.New(store, catalog, queue.Config{Replicas: cfg.Replicas}, log, queue.WithLive(live))

	server := httpapi.New(engine, keys, log)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("queueyd: listening", "addr", cfg.ListenAddr, "backend", cfg.Backend)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func buildBackends(cfg config.QueueyConfig) (storage.Backend, metadata.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQL:
		driverName := "mysql"
		if cfg.SQLDriver == config.DriverDolt {
			driverName = "dolt"
		}
		db, err := sql.Open(driverName, cfg.SQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sql backend: %w", err)
		}
		return sqlcolumn.New(db), sqlcatalog.New(db), nil
	default:
		return storemem.New(), metamem.New(), nil
	}
}

// loadApplicationKeys reads the application-key table from path, a flat
// "key=application_name" per-line file; an empty path yields an empty
// table (no requests authenticate).
func loadApplicationKeys(path string) (auth.KeyTable, error) {
	if path == "" {
		return auth.KeyTable{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading application keys file: %w", err)
	}
	return parseKeyTable(string(data)), nil
}
