package store

import (
	"context"
	"database/sql"
	"fmt"

	"cloud.google.com/go/spanner"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zoff-tech/go-notify/pkg/config"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var sqlOpen = sql.Open

var mongoConnect = func(ctx context.Context, uri string) (*mongo.Client, error) {
	return mongo.Connect(ctx, options.Client().ApplyURI(uri))
}

var NewSpannerStoreFactory = func(ctx context.Context, cfg config.StoreSettings) (JobStore, error) {
	client, err := spanner.NewClient(ctx, cfg.URI)
	if err != nil {
		return nil, err
	}
	return NewSpannerStore(client, cfg.Table)
}

// NewJobStore builds the backend selected by cfg.Type.
func NewJobStore(ctx context.Context, cfg config.StoreSettings) (JobStore, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		db, err := sqlOpen("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		s, err := NewPostgresStore(db, cfg.Table)
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create jobs table: %w", err)
		}
		return s, nil
	case "mongo":
		client, err := mongoConnect(ctx, cfg.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		return NewMongoStore(client, cfg.Database, cfg.Collection), nil
	case "spanner":
		return NewSpannerStoreFactory(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStore, cfg.Type)
	}
}
