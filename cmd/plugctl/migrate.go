package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/timewarden/pluginhost/migration"
)

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: plugctl inspect <migrations dir>")
	}

	migrations, err := migration.LoadDir(fs.Arg(0))
	if err != nil {
		return err
	}
	if len(migrations) == 0 {
		fmt.Println("no migrations found")
		return nil
	}
	for _, m := range migrations {
		fmt.Printf("%3d  %-30s %4d bytes\n", m.Version, m.Name, len(m.SQL))
	}
	return nil
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", "timewarden.db", "Path to the host SQLite database")
	pluginID := fs.String("plugin", "", "Plugin ID the migrations belong to")
	dryRun := fs.Bool("dry-run", false, "List pending migrations without applying them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *pluginID == "" {
		return fmt.Errorf("usage: plugctl migrate -plugin <id> [options] <migrations dir>")
	}

	migrations, err := migration.LoadDir(fs.Arg(0))
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	store, err := migration.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	runner := migration.NewRunner(store, migration.NewMutexLock(), logger)

	ctx := context.Background()
	if *dryRun {
		pending, err := runner.Pending(ctx, *pluginID, migrations)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("up to date")
			return nil
		}
		for _, m := range pending {
			fmt.Printf("pending: %3d  %s\n", m.Version, m.Name)
		}
		return nil
	}

	if err := runner.Run(ctx, db, *pluginID, migrations); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}
