// Package storage opens the configured document and progress backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kruyneg/information-retrieval/internal/config"
	"github.com/kruyneg/information-retrieval/internal/crawler"
	"github.com/kruyneg/information-retrieval/internal/storage/gcs"
	"github.com/kruyneg/information-retrieval/internal/storage/local"
	"github.com/kruyneg/information-retrieval/internal/storage/memory"
	mongostore "github.com/kruyneg/information-retrieval/internal/storage/mongo"
	"github.com/kruyneg/information-retrieval/internal/storage/postgres"
)

// Backend bundles the stores a crawl run writes to.
type Backend struct {
	Name      string
	Documents crawler.DocumentStore
	Progress  crawler.ProgressStore
	Pinger    crawler.Pinger
	closeFn   func(context.Context) error
}

// Close releases backend resources. It is safe on a nil receiver.
func (b *Backend) Close(ctx context.Context) error {
	if b == nil || b.closeFn == nil {
		return nil
	}
	return b.closeFn(ctx)
}

var newPostgresStore = postgres.New

// Open builds the backend named by cfg.Backend. The postgres backend is
// pinged, bounded by cfg.PingTimeout, before its schema is created.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var backend *Backend
	switch cfg.Backend {
	case config.BackendMemory, "":
		store := memory.NewStore()
		backend = &Backend{Name: config.BackendMemory, Documents: store, Progress: store, Pinger: store}
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		backend = &Backend{Name: cfg.Backend, Documents: store, Progress: store, Pinger: store}
	case config.BackendPostgres:
		store, err := newPostgresStore(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			DocumentsTable: cfg.Postgres.DocumentsTable,
			ProgressTable:  cfg.Postgres.ProgressTable,
			MaxConns:       cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		// The ping must precede the first DDL round trip.
		if err := CheckConnection(ctx, store, cfg.PingTimeout); err != nil {
			store.Close()
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		backend = &Backend{
			Name:      cfg.Backend,
			Documents: store,
			Progress:  store,
			Pinger:    store,
			closeFn: func(context.Context) error {
				store.Close()
				return nil
			},
		}
	case config.BackendMongo:
		store, err := mongostore.New(mongostore.Config{
			URL:                cfg.Mongo.URL,
			DB:                 cfg.Mongo.DB,
			Collection:         cfg.Mongo.Collection,
			ProgressCollection: cfg.Mongo.ProgressCollection,
		})
		if err != nil {
			return nil, fmt.Errorf("open mongo storage: %w", err)
		}
		backend = &Backend{Name: cfg.Backend, Documents: store, Progress: store, Pinger: store, closeFn: store.Close}
	case config.BackendGCS:
		store, err := gcs.New(ctx, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			return nil, fmt.Errorf("open gcs storage: %w", err)
		}
		backend = &Backend{
			Name:      cfg.Backend,
			Documents: store,
			Progress:  store,
			Pinger:    store,
			closeFn:   func(context.Context) error { return store.Close() },
		}
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	logger.Info("Storage backend opened", zap.String("backend", backend.Name))
	return backend, nil
}

// CheckConnection pings the backend once, bounded by timeout. Failures wrap
// crawler.ErrStorageUnavailable.
func CheckConnection(ctx context.Context, pinger crawler.Pinger, timeout time.Duration) error {
	if pinger == nil {
		return fmt.Errorf("%w: no pinger configured", crawler.ErrStorageUnavailable)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := pinger.Ping(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: ping timed out after %s", crawler.ErrStorageUnavailable, timeout)
		}
		return fmt.Errorf("%w: %v", crawler.ErrStorageUnavailable, err)
	}
	return nil
}
