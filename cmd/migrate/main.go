package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"charterops.org/internal/migrate"
)

const usage = `usage: migrate [flags] <up|down|seed|status>

Applies the coordination schema to PostgreSQL. The embedded SQLite engine
manages its own schema on open and does not use this tool.`

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", os.Getenv("CHARTEROPS_PG_DSN"), "PostgreSQL DSN (defaults to CHARTEROPS_PG_DSN)")
	migrationsPath := flag.String("migrations", "ops/migrations/sql", "directory with .up.sql/.down.sql files")
	seedsPath := flag.String("seeds", "ops/migrations/seeds", "directory with seed statements")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*dsn, *migrationsPath, *seedsPath, flag.Arg(0)); err != nil {
		log.Fatal(err)
	}
}

func run(dsn, migrationsPath, seedsPath, command string) error {
	if command == "" {
		return fmt.Errorf("a command is required; run with -h for usage")
	}
	if dsn == "" {
		return fmt.Errorf("missing DSN: pass -dsn or set CHARTEROPS_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	mgr := migrate.NewManager(db, migrationsPath, seedsPath)
	switch command {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			return fmt.Errorf("up: %w", err)
		}
	case "down":
		if err := mgr.Down(ctx); err != nil {
			return fmt.Errorf("down: %w", err)
		}
	case "seed":
		if err := mgr.Seed(ctx); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return nil
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
