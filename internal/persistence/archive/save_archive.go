package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"citygrid.ai/internal/persistence/snapshot"
)

const dirPrefix = "save_"

type SaveArchiveMeta struct {
	Dir        string         `json:"-"`
	Snapshot   string         `json:"snapshot"`
	SavedAt    string         `json:"saved_at,omitempty"`
	ArchivedAt string         `json:"archived_at"`
	Buildings  int            `json:"buildings"`
	Resources  map[string]int `json:"resources"`
}

// ArchiveSave copies the save slot file into `worldDir/archives/save_<UTC stamp>/`
// next to a meta.json summary. It returns archived=false when the slot is empty.
func ArchiveSave(ctx context.Context, worldDir, slotPath string, now time.Time) (archivedPath string, archived bool, err error) {
	snap, found, err := snapshot.NewFileStore(slotPath).Load(ctx)
	if err != nil {
		return "", false, fmt.Errorf("read slot: %w", err)
	}
	if !found {
		return "", false, nil
	}

	archiveDir := filepath.Join(worldDir, "archives", dirPrefix+now.UTC().Format("20060102T150405.000Z"))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(slotPath))
	if err := copyFile(slotPath, dst); err != nil {
		return "", false, err
	}

	meta := SaveArchiveMeta{
		Snapshot:   filepath.Base(dst),
		SavedAt:    snap.Header.SavedAt,
		ArchivedAt: now.UTC().Format(time.RFC3339Nano),
		Buildings:  len(snap.Buildings),
		Resources:  make(map[string]int, len(snap.Resources)),
	}
	for _, r := range snap.Resources {
		meta.Resources[r.Type] = r.Amount
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return dst, true, nil
}

// List returns archived saves, newest first. Directories without a readable
// meta.json are skipped.
func List(worldDir string) ([]SaveArchiveMeta, error) {
	root := filepath.Join(worldDir, "archives")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []SaveArchiveMeta
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		dir := filepath.Join(root, e.Name())
		b, err := os.ReadFile(filepath.Join(dir, "meta.json"))
		if err != nil {
			continue
		}
		var m SaveArchiveMeta
		if err := json.Unmarshal(b, &m); err != nil {
			continue
		}
		m.Dir = dir
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir > out[j].Dir })
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
