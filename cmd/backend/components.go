package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/medguard-ai/medguard/aggregate"
	"github.com/medguard-ai/medguard/analysis"
	"github.com/medguard-ai/medguard/cmd/backend/handlers"
	"github.com/medguard-ai/medguard/database"
	"github.com/medguard-ai/medguard/logger"
	"github.com/medguard-ai/medguard/metrics"
	"github.com/medguard-ai/medguard/scan"
	"github.com/medguard-ai/medguard/scorer"
	"github.com/medguard-ai/medguard/vectordb"
)

// newJobStore opens the configured scan job store. The returned close
// function releases its connections.
func newJobStore(ctx context.Context, cfg *Config, log logger.Logger) (scan.Store, func(), error) {
	switch cfg.Store.Type {
	case "gorm":
		db, err := database.Connect(databaseConfig(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get database instance: %w", err)
		}

		store := scan.NewGormStore(db, log)
		if cfg.Database.AutoMigrate {
			if err := migrateStore(cfg, store, sqlDB); err != nil {
				sqlDB.Close()
				return nil, nil, err
			}
		}

		log.Info(ctx, "database connected", map[string]interface{}{
			"driver":   cfg.Database.Driver,
			"host":     cfg.Database.Host,
			"database": cfg.Database.Database,
		})
		return store, func() { sqlDB.Close() }, nil

	case "redis":
		client, err := database.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		log.Info(ctx, "redis connected", map[string]interface{}{
			"prefix": cfg.Redis.Prefix,
		})
		return scan.NewRedisStore(client, cfg.Redis.Prefix, cfg.Store.TTL, log), func() { client.Close() }, nil

	default:
		return scan.NewMemoryStore(log), func() {}, nil
	}
}

func migrateStore(cfg *Config, store *scan.GormStore, sqlDB *sql.DB) error {
	if cfg.Database.Driver == database.DriverSQLite {
		if err := store.AutoMigrate(); err != nil {
			return fmt.Errorf("failed to migrate scan jobs table: %w", err)
		}
		return nil
	}
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func databaseConfig(cfg *Config) database.Config {
	return database.Config{
		Driver:       cfg.Database.Driver,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		LogQueries:   cfg.Log.Level == "debug",
	}
}

// newIndex loads the reference catalog from CatalogPath when present and
// falls back to the built-in one.
func newIndex(ctx context.Context, cfg *Config, log logger.Logger) (*vectordb.Index, error) {
	path := cfg.VectorDB.CatalogPath
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			catalog, err := vectordb.LoadCatalog(path)
			if err != nil {
				return nil, err
			}
			log.Info(ctx, "reference catalog loaded", map[string]interface{}{
				"path":        path,
				"drugs_count": len(catalog.Drugs),
			})
			return vectordb.NewIndex(catalog, vectordb.SourceCustom), nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat catalog %s: %w", path, err)
		}
	}

	log.Info(ctx, "using built-in reference catalog", nil)
	return vectordb.NewMockIndex(), nil
}

func newEmbedder(cfg *Config, runner scorer.Runner) scorer.Embedder {
	if cfg.Embedder.Type == "process" {
		return scorer.NewProcessEmbedder(runner, scorer.ProcessConfig{
			Command: cfg.Embedder.Command,
			Args:    cfg.Embedder.Args,
			Timeout: cfg.Embedder.Timeout,
		})
	}
	return scorer.HashEmbedder{Dim: cfg.Embedder.Dimension}
}

func newScorer(cfg *Config, runner scorer.Runner, embedder scorer.Embedder, index *vectordb.Index) scorer.Scorer {
	if cfg.Scorer.Type == "similarity" {
		return scorer.NewSimilarityScorer(embedder, index, cfg.VectorDB.TopK, cfg.VectorDB.Boundary)
	}
	return scorer.NewProcessScorer(runner, scorer.ProcessConfig{
		Command: cfg.Scorer.Command,
		Args:    cfg.Scorer.Args,
		Timeout: cfg.Scorer.Timeout,
	})
}

func newEngine(seed int64) *aggregate.Engine {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return aggregate.NewEngine(aggregate.NewRand(seed))
}

// newRouter mounts the API, health and metrics endpoints.
func newRouter(svc *analysis.Service, index *vectordb.Index, embedder scorer.Embedder, cfg *Config, m *metrics.Collector, log logger.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(handlers.RequestIDMiddleware)
	router.Use(handlers.NewAccessLog(m, log).Handler)

	scans := handlers.NewScanHandler(svc, cfg.Upload.MaxSize, log)
	embeddings := handlers.NewEmbeddingHandler(index, embedder, cfg.VectorDB.CatalogPath, cfg.VectorDB.TopK, m, log)
	handlers.RegisterRoutes(router, scans, embeddings)

	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	return router
}
