// Package common holds helpers shared by the CLI commands.
package common

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/iota-uz/sam-ingest/pkg/configuration"
)

const connectTimeout = 10 * time.Second

// GetDatabasePool opens a pool to the configured database and checks it answers.
func GetDatabasePool(ctx context.Context, conf *configuration.Configuration) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create database pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrapf(err, "failed to reach database %s on %s:%s", conf.Database.Name, conf.Database.Host, conf.Database.Port)
	}
	return pool, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MissingTables returns the names in tables that do not exist in the public schema.
func MissingTables(ctx context.Context, db queryRower, tables ...string) ([]string, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`
	var missing []string
	for _, table := range tables {
		var exists bool
		if err := db.QueryRow(ctx, query, table).Scan(&exists); err != nil {
			return nil, errors.Wrapf(err, "failed to check table %s", table)
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	return missing, nil
}
