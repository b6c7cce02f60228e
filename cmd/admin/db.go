package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"citygrid.ai/internal/persistence/indexdb"
)

func openIndex(fs *flag.FlagSet, args []string) (*sql.DB, *int, *string) {
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "city_1", "world id (ignored with -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	typ := fs.String("type", "", "event type filter")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(2)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return db, limit, typ
}

func savesCmd(args []string) {
	db, limit, _ := openIndex(flag.NewFlagSet("saves", flag.ExitOnError), args)
	defer db.Close()

	rows, err := indexdb.ListSaves(context.Background(), db, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printJSON(rows)
}

func eventsCmd(args []string) {
	db, limit, typ := openIndex(flag.NewFlagSet("events", flag.ExitOnError), args)
	defer db.Close()

	rows, err := indexdb.RecentEvents(context.Background(), db, strings.TrimSpace(*typ), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printJSON(rows)
}
