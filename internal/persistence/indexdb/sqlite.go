package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"citygrid.ai/internal/persistence/snapshot"
	"citygrid.ai/internal/sim/catalogs"
	"citygrid.ai/internal/sim/city"
	"citygrid.ai/internal/sim/tuning"
)

// SQLiteIndex is a write-behind read model of domain events and saves. It
// also holds the single save slot for the "sqlite" storage backend.
type SQLiteIndex struct {
	db      *sql.DB
	worldID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu orders enqueues against Close so nothing sends on a closed channel.
	mu     sync.RWMutex
	closed bool

	dropEvents atomic.Uint64
	dropSaves  atomic.Uint64
}

var _ city.Storage = (*SQLiteIndex)(nil)

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSave
)

type req struct {
	kind reqKind

	event eventRow
	save  saveRow
}

type eventRow struct {
	Seq        uint64
	Time       string
	Type       string
	BuildingID string
	X, Y       *int
	Reason     string
	Raw        string
}

type saveRow struct {
	SavedAt   string
	Buildings int
	Resources string
}

func OpenSQLite(path, worldID string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:      db,
		worldID: worldID,
		ch:      make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			world_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			time TEXT NOT NULL,
			type TEXT NOT NULL,
			building_id TEXT,
			x INTEGER,
			y INTEGER,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (world_id, time, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_building ON events(building_id, time);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, time);`,
		`CREATE TABLE IF NOT EXISTS saves (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			saved_at TEXT NOT NULL,
			buildings INTEGER NOT NULL,
			resources_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS save_slot (
			world_id TEXT PRIMARY KEY,
			saved_at TEXT NOT NULL,
			json TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) DB() *sql.DB { return s.db }

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Handle is a bus subscriber. It never blocks: rows are dropped when the
// writer falls behind, and the JSONL journal stays the source of truth.
func (s *SQLiteIndex) Handle(env city.Envelope) {
	if s == nil {
		return
	}
	raw, err := json.Marshal(env.Event)
	if err != nil {
		return
	}
	r := eventRow{
		Seq:  env.Seq,
		Time: env.At.Format(time.RFC3339Nano),
		Type: env.Event.EventType(),
		Raw:  string(raw),
	}
	switch ev := env.Event.(type) {
	case city.BuildingPlaced:
		r.BuildingID = ev.ID.String()
		r.X, r.Y = &ev.Pos.X, &ev.Pos.Y
	case city.BuildingPlacementFailed:
		r.X, r.Y = &ev.Pos.X, &ev.Pos.Y
		r.Reason = ev.Reason.String()
	case city.BuildingRemoved:
		r.BuildingID = ev.ID.String()
	case city.BuildingRemoveFailed:
		r.BuildingID = ev.ID.String()
		r.Reason = ev.Reason.String()
	case city.BuildingMoved:
		r.BuildingID = ev.ID.String()
		r.X, r.Y = &ev.Pos.X, &ev.Pos.Y
	case city.BuildingUpgraded:
		r.BuildingID = ev.ID.String()
	case city.BuildingUpgradeFailed:
		r.BuildingID = ev.ID.String()
		r.Reason = ev.Reason.String()
	}
	if !s.enqueue(req{kind: reqEvent, event: r}) {
		s.dropEvents.Add(1)
	}
}

// enqueue reports false when the queue is full or the index is closed.
func (s *SQLiteIndex) enqueue(r req) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- r:
		return true
	default:
		return false
	}
}

// RecordSave appends to the save history.
func (s *SQLiteIndex) RecordSave(snap snapshot.GameStateV1) {
	if s == nil {
		return
	}
	res, _ := json.Marshal(snap.Resources)
	savedAt := snap.Header.SavedAt
	if savedAt == "" {
		savedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if !s.enqueue(req{kind: reqSave, save: saveRow{SavedAt: savedAt, Buildings: len(snap.Buildings), Resources: string(res)}}) {
		s.dropSaves.Add(1)
	}
}

// Save writes the save slot synchronously.
func (s *SQLiteIndex) Save(ctx context.Context, snap snapshot.GameStateV1) error {
	snap.Header.Version = snapshot.Version
	if snap.Header.SavedAt == "" {
		snap.Header.SavedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO save_slot(world_id,saved_at,json) VALUES(?,?,?)`,
		s.worldID, snap.Header.SavedAt, string(b))
	if err != nil {
		return fmt.Errorf("sqlite save slot: %w", err)
	}
	s.RecordSave(snap)
	return nil
}

func (s *SQLiteIndex) Load(ctx context.Context) (snapshot.GameStateV1, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT json FROM save_slot WHERE world_id=?`, s.worldID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.GameStateV1{}, false, nil
	}
	if err != nil {
		return snapshot.GameStateV1{}, false, fmt.Errorf("sqlite load slot: %w", err)
	}
	snap, err := snapshot.UnmarshalJSON([]byte(raw))
	if err != nil {
		return snapshot.GameStateV1{}, false, err
	}
	return snap, true, nil
}

func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "buildings.json")); err == nil {
			rows = append(rows, kv{name: "buildings", digest: cats.Buildings.Digest, json: b})
		}
	}
	{
		b, _ := json.Marshal(cats.Buildings.Defs)
		rows = append(rows, kv{name: "buildings_effective", digest: sha256Hex(b), json: b})
	}
	{
		b, _ := json.Marshal(tune)
		rows = append(rows, kv{name: "tuning", digest: sha256Hex(b), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropEvents    uint64 `json:"drop_events_total"`
	DropSaves     uint64 `json:"drop_saves_total"`
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropEvents:    s.dropEvents.Load(),
		DropSaves:     s.dropSaves.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(world_id,seq,time,type,building_id,x,y,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertSave, _ := s.db.Prepare(`INSERT INTO saves(world_id,saved_at,buildings,resources_json) VALUES(?,?,?,?)`)
	defer func() {
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
		if insertSave != nil {
			_ = insertSave.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	// Commit on idle so readers see rows without waiting for the next write.
	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		var (
			r  req
			ok bool
		)
		select {
		case r, ok = <-s.ch:
			if !ok {
				commit()
				return
			}
		case <-idle.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			e := r.event
			if insertEvent != nil {
				if _, err := tx.Stmt(insertEvent).Exec(
					s.worldID,
					int64(e.Seq),
					e.Time,
					e.Type,
					nullString(e.BuildingID),
					nullInt(e.X),
					nullInt(e.Y),
					nullString(e.Reason),
					e.Raw,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		case reqSave:
			sv := r.save
			if insertSave != nil {
				if _, err := tx.Stmt(insertSave).Exec(s.worldID, sv.SavedAt, sv.Buildings, sv.Resources); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
