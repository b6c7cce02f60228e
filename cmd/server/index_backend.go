package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"citygrid.ai/internal/persistence/gdatastore"
	"citygrid.ai/internal/persistence/indexdb"
	"citygrid.ai/internal/persistence/snapshot"
	"citygrid.ai/internal/sim/city"
	"citygrid.ai/internal/sim/tuning"
)

func openRuntimeIndex(worldDir, worldID string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CG_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		return indexdb.OpenSQLite(dbPath, worldID)
	default:
		return nil, fmt.Errorf("unsupported CG_INDEX_BACKEND: %s", backend)
	}
}

// openStorage picks the save slot backend. A relative file path lives under
// the world directory.
func openStorage(cfg tuning.Storage, worldDir string, idx *indexdb.SQLiteIndex) (city.Storage, error) {
	switch cfg.Backend {
	case "", "file":
		p := cfg.Path
		if p == "" {
			p = tuning.Defaults().Storage.Path
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(worldDir, p)
		}
		return snapshot.NewFileStore(p), nil
	case "gdata":
		return gdatastore.Open(cfg.AppName)
	case "sqlite":
		if idx == nil {
			return nil, fmt.Errorf("storage backend sqlite needs the index (CG_INDEX_BACKEND=sqlite)")
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
