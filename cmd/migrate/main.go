// Command migrate applies the embedded accounts and audit_log schema with goose.
//
// Usage:
//
//	migrate [-timeout 1m] up               # Apply all pending migrations
//	migrate down                           # Roll back the last migration
//	migrate status                         # Show migration status
//	migrate version                        # Show current schema version
//	migrate redo                           # Roll back and re-apply last migration
//	migrate up-to <version> | down-to <version>
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/crimecast/crimecast/internal/logging"
	"github.com/crimecast/crimecast/migrations"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func main() {
	timeout := flag.Duration("timeout", time.Minute, "abort if the migration has not finished in this time")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-timeout d] <command> [args]")
		fmt.Fprintln(os.Stderr, "Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, dbURL, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error("migration failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
	logger.Info("migration finished", "command", flag.Arg(0))
}

func run(ctx context.Context, dbURL, command string, args []string) error {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := migrations.Setup(); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	return goose.RunContext(ctx, command, db, ".", args...)
}
