package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"chatsync/internal/migrations"
	"chatsync/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	dbPath := fs.String("db", "./chatsync.db", "Path to the database file")
	status := fs.Bool("status", false, "List applied and pending migrations without applying")
	create := fs.Bool("create", false, "Create the database file if it does not exist")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := checkDBPath(*dbPath); err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) && !*create {
		return fmt.Errorf("database file not found: %s (use -create to initialize it)", *dbPath)
	}

	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if *status {
		return printStatus(ctx, db, out)
	}

	applied, err := migrations.Run(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	if len(applied) == 0 {
		fmt.Fprintln(out, "Schema is up to date, nothing to apply")
		return nil
	}
	for _, version := range applied {
		fmt.Fprintf(out, "Applied migration %d\n", version)
	}
	fmt.Fprintln(out, "Database schema updated. You can now restart chatsync.")
	return nil
}

// checkDBPath keeps relative paths inside the working directory
func checkDBPath(path string) error {
	if filepath.IsAbs(path) {
		return security.ValidateFilePath(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	return security.ValidateFilePathWithBase(path, wd)
}

func printStatus(ctx context.Context, db *sql.DB, out io.Writer) error {
	records, err := migrations.Status(ctx, db)
	if err != nil {
		return err
	}
	pending, err := migrations.Pending(ctx, db)
	if err != nil {
		return err
	}

	for _, r := range records {
		fmt.Fprintf(out, "applied  %3d  %-32s %s\n", r.Version, r.Name, r.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %3d  %s\n", m.Version, m.Name)
	}
	fmt.Fprintf(out, "%d applied, %d pending\n", len(records), len(pending))
	return nil
}
