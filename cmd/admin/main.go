package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"citygrid.ai/internal/persistence/archive"
	persistlog "citygrid.ai/internal/persistence/log"
	"citygrid.ai/internal/persistence/snapshot"
	"citygrid.ai/internal/sim/catalogs"
	"citygrid.ai/internal/sim/city"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "dump":
			dumpCmd(os.Args[2:])
			return
		case "saves":
			savesCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "archives":
			archivesCmd(os.Args[2:])
			return
		case "catalog":
			catalogCmd(os.Args[2:])
			return
		case "state", "save", "load":
			serverCmd(os.Args[1], os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "worlds"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// dumpCmd prints a save slot file as JSON.
func dumpCmd(args []string) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	path := fs.String("snapshot", "", "save file path (.snap.zst or .json)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*path) == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	snap, err := readSave(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(snap)
}

func readSave(path string) (snapshot.GameStateV1, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return snapshot.ReadJSON(path)
	}
	return snapshot.ReadSnapshot(path)
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "city_1", "world id")
	typ := fs.String("type", "", "event type filter")
	_ = fs.Parse(args)

	files, err := filepath.Glob(filepath.Join(*dataDir, "worlds", *worldID, "events", "*.jsonl.zst"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "glob:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, f := range files {
		entries, err := persistlog.ReadEvents(f)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read", f+":", err)
			continue
		}
		for _, e := range entries {
			if *typ != "" && e.Type != *typ {
				continue
			}
			_ = enc.Encode(e)
		}
	}
}

func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "city_1", "world id")
	_ = fs.Parse(args)

	list, err := archive.List(filepath.Join(*dataDir, "worlds", *worldID))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list archives:", err)
		os.Exit(1)
	}
	for _, m := range list {
		fmt.Printf("%s\tbuildings=%d\tsaved_at=%s\n", filepath.Join(m.Dir, m.Snapshot), m.Buildings, m.SavedAt)
	}
}

func catalogCmd(args []string) {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	configDir := fs.String("configs", "./configs", "config directory")
	_ = fs.Parse(args)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "catalog:", err)
		os.Exit(1)
	}
	fmt.Printf("digest %s\n", cats.Buildings.Digest)
	for _, d := range cats.Buildings.Defs {
		fmt.Printf("%-8s levels=%d display=%q\n", d.Type, len(d.Levels), d.DisplayName)
		typ, err := city.ParseStructureType(d.Type)
		if err != nil {
			continue
		}
		def, _ := cats.Lookup(typ)
		for _, l := range def.Levels {
			fmt.Printf("  L%d cost=%s income=%s\n", l.Level, l.Cost, l.Income)
		}
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// serverActions maps the subcommands that talk to a running server onto
// their admin endpoint method.
var serverActions = map[string]string{
	"state": http.MethodGet,
	"save":  http.MethodPost,
	"load":  http.MethodPost,
}

func serverCmd(action string, args []string) {
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	b, status, err := adminRequest(*baseURL, serverActions[action], action)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
	if status/100 != 2 {
		os.Exit(1)
	}
}

func adminRequest(baseURL, method, action string) ([]byte, int, error) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/" + action
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return nil, 0, err
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return b, resp.StatusCode, err
}
