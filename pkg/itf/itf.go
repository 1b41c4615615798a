// Package itf provisions throwaway Postgres databases for integration tests.
package itf

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/sam-ingest/pkg/configuration"
)

// PostgreSQL caps identifiers at 63 bytes.
const maxDBNameLength = 63

func databaseOptions(tb testing.TB) configuration.DatabaseOptions {
	tb.Helper()

	opts, err := env.ParseAs[configuration.DatabaseOptions]()
	if err != nil {
		tb.Fatalf("parse database env: %v", err)
	}
	return opts
}

// RequirePostgres skips tb when DB_HOST:DB_PORT does not accept connections, and fails it instead
// when running in CI.
func RequirePostgres(tb testing.TB) {
	tb.Helper()

	if canDialPostgres(tb) {
		return
	}
	if strings.TrimSpace(os.Getenv("CI")) != "" || strings.EqualFold(strings.TrimSpace(os.Getenv("GITHUB_ACTIONS")), "true") {
		tb.Fatalf("postgres is not reachable (DB_HOST/DB_PORT)")
	}
	tb.Skip("postgres is not reachable; skipping integration test")
}

func canDialPostgres(tb testing.TB) bool {
	tb.Helper()

	opts := databaseOptions(tb)
	addr := net.JoinHostPort(opts.Host, opts.Port)

	dialer := &net.Dialer{Timeout: 250 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// NewDatabase recreates a database named after tb, runs schema in it and returns a pool that is
// closed when tb ends.
func NewDatabase(tb testing.TB, schema string) *pgxpool.Pool {
	tb.Helper()
	RequirePostgres(tb)

	ctx := context.Background()
	opts := databaseOptions(tb)
	name := sanitizeDBName(tb.Name())

	admin := opts
	admin.Name = "postgres"
	conn, err := pgx.Connect(ctx, admin.ConnectionString())
	if err != nil {
		tb.Fatalf("connect admin database: %v", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	quoted := pgx.Identifier{name}.Sanitize()
	if _, err := conn.Exec(ctx, "DROP DATABASE IF EXISTS "+quoted); err != nil {
		tb.Fatalf("drop database %s: %v", name, err)
	}
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+quoted); err != nil {
		tb.Fatalf("create database %s: %v", name, err)
	}

	opts.Name = name
	pool, err := pgxpool.New(ctx, opts.ConnectionString())
	if err != nil {
		tb.Fatalf("open pool: %v", err)
	}
	tb.Cleanup(pool.Close)

	if schema != "" {
		if _, err := pool.Exec(ctx, schema); err != nil {
			tb.Fatalf("apply schema: %v", err)
		}
	}
	return pool
}

// sanitizeDBName lowercases name, maps punctuation to underscores and shortens it with a hash
// suffix when it would exceed the identifier limit.
func sanitizeDBName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	sanitized := b.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "test_db"
	}
	if len(sanitized) <= maxDBNameLength {
		return sanitized
	}
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(name)))[:8]
	return strings.TrimRight(sanitized[:maxDBNameLength-9], "_") + "_" + hash
}
