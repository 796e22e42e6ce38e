package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/insanmiy/banward"
	"github.com/insanmiy/banward/config"
	"github.com/insanmiy/banward/log"
	"github.com/insanmiy/banward/server"
	"github.com/insanmiy/banward/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (default: BANWARD_CONFIG or built-in defaults)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Log.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Log.Errorf("Failed to open %s store: %v", cfg.Storage.Backend, err)
		os.Exit(1)
	}

	mgr := banward.New(st, &banward.Options{
		SweepInterval: cfg.Sweeper.Interval,
	})

	// A manager that failed to load its index cannot safely claim "no
	// active punishments"; refuse to start instead.
	if err := mgr.Load(ctx); err != nil {
		log.Log.Errorf("Failed to load punishment index: %v", err)
		os.Exit(1)
	}
	mgr.StartSweeper(ctx)

	srv := server.NewServer(cfg, mgr)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		log.Log.Infof("Shutting down")
		srv.Shutdown(ctx)
		cancel()
	}()

	if err := srv.Start(); err != nil {
		log.Log.Errorf("HTTP server failed: %v", err)
	}

	if err := mgr.Close(); err != nil {
		log.Log.Errorf("Failed to close manager: %v", err)
	}
}

// openStore constructs the configured punishment store backend.
func openStore(ctx context.Context, cfg *config.Config) (store.PunishmentStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "json":
		return store.NewJSONFileStore(cfg.Storage.DataDir)
	case "sqlite":
		return store.NewSQLiteStore(cfg.Storage.SQLitePath)
	case "postgres":
		return store.NewPostgresStore(ctx, store.PostgresStoreConfig{
			URL:      cfg.Storage.PostgresURL,
			MaxConns: int32(cfg.Storage.PostgresMaxConns),
		})
	case "mongodb":
		return store.NewMongoDBStore(ctx, store.MongoDBStoreConfig{
			URI:      cfg.Storage.MongoURI,
			Database: cfg.Storage.MongoDatabase,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}
}
