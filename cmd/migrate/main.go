package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ignite/comms-planner/internal/config"
	"github.com/ignite/comms-planner/internal/repository/postgres"
)

// Applies migrations/*.sql in name order, once each. Applied file names are
// recorded in schema_migrations.
//
//	migrate [--list] [--config path] [dir]
func main() {
	dir := "migrations"
	configPath := "config/config.yaml"
	listOnly := false
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--list":
			listOnly = true
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		default:
			dir = args[i]
		}
	}

	dbCfg := config.DatabaseConfig{URL: os.Getenv("DATABASE_URL"), MaxOpenConns: 2, MaxIdleConns: 1}
	if cfg, err := config.LoadFromEnv(configPath); err == nil {
		dbCfg = cfg.Database
	}
	if dbCfg.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		log.Fatalf("create schema_migrations: %v", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		log.Fatalf("read schema_migrations: %v", err)
	}

	if listOnly {
		names := make([]string, 0, len(applied))
		for name := range applied {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(" ", name)
		}
		fmt.Printf("Total: %d applied\n", len(names))
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var okCount, skipCount int
	for _, f := range files {
		if applied[f] {
			skipCount++
			continue
		}
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s: %v", path, err)
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}
		fmt.Printf("  %s ... ", f)

		if err := apply(ctx, db, f, content); err != nil {
			fmt.Println("ERROR")
			// Later files usually depend on earlier ones.
			log.Fatalf("%s: %v", f, err)
		}
		fmt.Println("OK")
		okCount++
	}
	log.Printf("Done: %d applied, %d already present", okCount, skipCount)
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func apply(ctx context.Context, db *sql.DB, name, content string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, content); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
