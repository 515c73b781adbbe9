package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"acgn_relay/migrations"
)

type command struct {
	name string
	help string
	run  func(ctx context.Context, p *goose.Provider, db *sql.DB, w io.Writer) error
}

var commands = []command{
	{"up", "Apply all pending migrations", up},
	{"up-one", "Apply the next pending migration", upOne},
	{"down", "Roll back the latest migration", down},
	{"reset", "Roll back every migration (drops the kv table)", reset},
	{"status", "List migrations and when they were applied", status},
	{"version", "Print the current schema version", version},
	{"dump", "Print every kv entry with its update time", dump},
}

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/bot.db"), "path to sqlite database")
	flag.Usage = func() { usage(os.Stderr) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage(os.Stderr)
		os.Exit(1)
	}
	cmd, ok := lookup(args[0])
	if !ok {
		log.Fatalf("unknown command: %s", args[0])
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.FS)
	if err != nil {
		log.Fatalf("create migration provider: %v", err)
	}

	if err := cmd.run(context.Background(), p, db, os.Stdout); err != nil {
		log.Fatalf("%s: %v", cmd.name, err)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: migrate [-db path] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Manages the bot's sqlite store: a single kv table (key, value, updated_at)")
	fmt.Fprintln(w, "holding the JSON rule document under \"rules\" and the dispatch watermark")
	fmt.Fprintln(w, "under \"lastUpdated\".")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s  %s\n", c.name, c.help)
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func up(ctx context.Context, p *goose.Provider, _ *sql.DB, w io.Writer) error {
	results, err := p.Up(ctx)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "no pending migrations")
	}
	for _, r := range results {
		fmt.Fprintln(w, r)
	}
	return nil
}

func upOne(ctx context.Context, p *goose.Provider, _ *sql.DB, w io.Writer) error {
	r, err := p.UpByOne(ctx)
	if errors.Is(err, goose.ErrNoNextVersion) {
		fmt.Fprintln(w, "no pending migrations")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, r)
	return nil
}

func down(ctx context.Context, p *goose.Provider, _ *sql.DB, w io.Writer) error {
	r, err := p.Down(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, r)
	return nil
}

func reset(ctx context.Context, p *goose.Provider, _ *sql.DB, w io.Writer) error {
	results, err := p.DownTo(ctx, 0)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Fprintln(w, r)
	}
	return nil
}

func status(ctx context.Context, p *goose.Provider, _ *sql.DB, w io.Writer) error {
	statuses, err := p.Status(ctx)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		applied := "pending"
		if s.State == goose.StateApplied {
			applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%-20s  %s\n", applied, s.Source.Path)
	}
	return nil
}

func version(ctx context.Context, p *goose.Provider, _ *sql.DB, w io.Writer) error {
	v, err := p.GetDBVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "version %d\n", v)
	return nil
}

func dump(ctx context.Context, _ *goose.Provider, db *sql.DB, w io.Writer) error {
	rows, err := db.QueryContext(ctx, `SELECT key, value, updated_at FROM kv ORDER BY key`)
	if err != nil {
		return fmt.Errorf("query kv: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, value, updatedAt string
		if err := rows.Scan(&key, &value, &updatedAt); err != nil {
			return fmt.Errorf("scan kv: %w", err)
		}
		fmt.Fprintf(w, "%s (updated %s)\n%s\n\n", key, updatedAt, strings.TrimSpace(value))
	}
	return rows.Err()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
