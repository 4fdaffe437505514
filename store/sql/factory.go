package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sumi-social/sumid/core"
)

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool {
	return false
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "sumid"
}

// Open connects the configured database, applies the migration tree for its
// dialect, and returns the persistence client plus a snapshot store bound to
// it. Callers own the client and must Close it.
func Open(ctx context.Context, cfg core.CacheConfig, migrations fs.FS) (*persistence.Client, *CacheStore, error) {
	var (
		dsn     string
		dialect schema.Dialect
	)
	switch cfg.Driver {
	case "sqlite3":
		dsn = fmt.Sprintf("file:%s?_foreign_keys=on", cfg.Path)
		dialect = sqlitedialect.New()
	case "postgres":
		dsn = cfg.DSN
		dialect = pgdialect.New()
	default:
		return nil, nil, fmt.Errorf("sqlstore: unsupported cache driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlstore: open database: %w", err)
	}
	if cfg.Driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: cfg.Driver, server: dsn}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("sqlstore: persistence client: %w", err)
	}
	if migrations != nil {
		client.RegisterSQLMigrations(migrations)
		if err := client.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}

	store, err := NewCacheStore(client.DB())
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, store, nil
}
