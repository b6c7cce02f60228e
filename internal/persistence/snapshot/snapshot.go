package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	SavedAt string `json:"saved_at,omitempty"`
}

// GameStateV1 is the persisted projection of the city: every placed building
// and every ledger balance.
type GameStateV1 struct {
	Header Header `json:"header"`

	Buildings []BuildingV1 `json:"buildings"`
	Resources []ResourceV1 `json:"resources"`
}

type BuildingV1 struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Position PositionV1 `json:"position"`
	Level    int        `json:"level"`
}

type PositionV1 struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type ResourceV1 struct {
	Type   string `json:"type"`
	Amount int    `json:"amount"`
}

// Equal compares buildings and resources in order, ignoring the header.
func (s GameStateV1) Equal(o GameStateV1) bool {
	if len(s.Buildings) != len(o.Buildings) || len(s.Resources) != len(o.Resources) {
		return false
	}
	for i := range s.Buildings {
		if s.Buildings[i] != o.Buildings[i] {
			return false
		}
	}
	for i := range s.Resources {
		if s.Resources[i] != o.Resources[i] {
			return false
		}
	}
	return true
}

// WriteSnapshot writes zstd(JSON header line + gob body).
func WriteSnapshot(path string, snap GameStateV1) error {
	return writeAtomic(path, func(f *os.File) error {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		bw := bufio.NewWriterSize(enc, 256*1024)

		hb, _ := json.Marshal(snap.Header)
		if _, err := bw.Write(hb); err != nil {
			_ = enc.Close()
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			_ = enc.Close()
			return err
		}
		if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
			_ = enc.Close()
			return fmt.Errorf("gob encode: %w", err)
		}
		if err := bw.Flush(); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	})
}

func ReadSnapshot(path string) (GameStateV1, error) {
	var snap GameStateV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is informational; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// WriteJSON writes the snapshot as indented plain JSON.
func WriteJSON(path string, snap GameStateV1) error {
	b, err := MarshalJSON(snap)
	if err != nil {
		return err
	}
	return writeAtomic(path, func(f *os.File) error {
		_, err := f.Write(b)
		return err
	})
}

func ReadJSON(path string) (GameStateV1, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return GameStateV1{}, err
	}
	return UnmarshalJSON(b)
}

func MarshalJSON(snap GameStateV1) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

func UnmarshalJSON(b []byte) (GameStateV1, error) {
	var snap GameStateV1
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode gamestate: %w", err)
	}
	if snap.Header.Version != 0 && snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

func writeAtomic(path string, write func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// FileStore keeps the single save slot in one file. Paths ending in .json are
// plain JSON; anything else uses the compressed snapshot codec.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

func (s *FileStore) plainJSON() bool {
	return strings.EqualFold(filepath.Ext(s.Path), ".json")
}

func (s *FileStore) Save(ctx context.Context, snap GameStateV1) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap.Header.Version = Version
	if snap.Header.SavedAt == "" {
		snap.Header.SavedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if s.plainJSON() {
		return WriteJSON(s.Path, snap)
	}
	return WriteSnapshot(s.Path, snap)
}

// Load returns found=false with a nil error when the slot file does not exist.
func (s *FileStore) Load(ctx context.Context) (GameStateV1, bool, error) {
	if err := ctx.Err(); err != nil {
		return GameStateV1{}, false, err
	}
	var (
		snap GameStateV1
		err  error
	)
	if s.plainJSON() {
		snap, err = ReadJSON(s.Path)
	} else {
		snap, err = ReadSnapshot(s.Path)
	}
	if errors.Is(err, os.ErrNotExist) {
		return GameStateV1{}, false, nil
	}
	if err != nil {
		return GameStateV1{}, false, err
	}
	return snap, true, nil
}
