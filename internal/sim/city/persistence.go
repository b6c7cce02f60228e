package city

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/google/uuid"

	"citygrid.ai/internal/persistence/snapshot"
)

//go:generate go tool mockgen -source=persistence.go -destination=mocks/storage_mock.go -package=mocks

// Storage is the single-slot save sink and source.
type Storage interface {
	Save(ctx context.Context, snap snapshot.GameStateV1) error
	// Load reports found=false, err=nil when no save exists.
	Load(ctx context.Context) (snapshot.GameStateV1, bool, error)
}

// Coordinator maps registry and ledger state to and from snapshots. Capture,
// Announce and Restore touch simulation state and must run on the world
// goroutine; Store and Fetch only move bytes.
type Coordinator struct {
	reg    *Registry
	ledger *Ledger
	store  Storage
	pub    Publisher
	log    *log.Logger
}

func NewCoordinator(reg *Registry, ledger *Ledger, store Storage, pub Publisher, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if pub == nil {
		pub = PublisherFunc(func(Event) {})
	}
	return &Coordinator{reg: reg, ledger: ledger, store: store, pub: pub, log: logger}
}

func (c *Coordinator) Capture() snapshot.GameStateV1 {
	snap := snapshot.GameStateV1{
		Header:    snapshot.Header{Version: snapshot.Version},
		Buildings: make([]snapshot.BuildingV1, 0, c.reg.Len()),
		Resources: make([]snapshot.ResourceV1, 0, len(ResourceTypes)),
	}
	for _, s := range c.reg.Structures() {
		snap.Buildings = append(snap.Buildings, snapshot.BuildingV1{
			ID:       s.ID.String(),
			Type:     s.Type.String(),
			Position: snapshot.PositionV1{X: s.Pos.X, Y: s.Pos.Y},
			Level:    s.Level,
		})
	}
	amounts := c.ledger.Snapshot()
	types := make([]ResourceType, 0, len(amounts))
	for t := range amounts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		snap.Resources = append(snap.Resources, snapshot.ResourceV1{Type: t.String(), Amount: amounts[t]})
	}
	return snap
}

func (c *Coordinator) Store(ctx context.Context, snap snapshot.GameStateV1) error {
	if c.store == nil {
		return fmt.Errorf("no storage configured")
	}
	if err := c.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save game: %w", err)
	}
	c.log.Printf("save: %d buildings, %d resources", len(snap.Buildings), len(snap.Resources))
	return nil
}

func (c *Coordinator) Save(ctx context.Context) error {
	return c.Store(ctx, c.Capture())
}

func (c *Coordinator) Fetch(ctx context.Context) (snapshot.GameStateV1, bool, error) {
	if c.store == nil {
		return snapshot.GameStateV1{}, false, fmt.Errorf("no storage configured")
	}
	snap, found, err := c.store.Load(ctx)
	if err != nil {
		return snapshot.GameStateV1{}, false, fmt.Errorf("load game: %w", err)
	}
	if !found {
		c.log.Printf("load: no save found")
	}
	return snap, found, nil
}

func (c *Coordinator) Announce(snap snapshot.GameStateV1) {
	c.pub.Publish(GameStateLoaded{Snapshot: snap})
}

// Load fetches the saved state and announces it. It does not touch the
// registry; the GameStateLoaded consumer rebuilds it with Restore.
func (c *Coordinator) Load(ctx context.Context) (bool, error) {
	snap, found, err := c.Fetch(ctx)
	if err != nil || !found {
		return false, err
	}
	c.Announce(snap)
	return true, nil
}

type RestoreReport struct {
	Restored int
	Skipped  int
}

// Restore rebuilds the registry and ledger from snap using catalog level
// specs. Entries that cannot be placed are skipped and counted.
func (c *Coordinator) Restore(snap snapshot.GameStateV1, catalog Catalog) RestoreReport {
	var rep RestoreReport
	c.reg.Clear()

	for _, b := range snap.Buildings {
		s, err := restoreStructure(b, catalog)
		if err != nil {
			c.log.Printf("restore: skip building %s: %v", b.ID, err)
			rep.Skipped++
			continue
		}
		if !c.reg.InBounds(s.Pos) {
			c.log.Printf("restore: skip building %s: %s out of bounds", b.ID, s.Pos)
			rep.Skipped++
			continue
		}
		if !c.reg.TryAdd(s) {
			c.log.Printf("restore: skip building %s: duplicate id or occupied cell %s", b.ID, s.Pos)
			rep.Skipped++
			continue
		}
		rep.Restored++
	}

	amounts := map[ResourceType]int{}
	for _, r := range snap.Resources {
		t, err := ParseResourceType(r.Type)
		if err != nil {
			c.log.Printf("restore: skip resource %q: %v", r.Type, err)
			continue
		}
		amounts[t] = r.Amount
	}
	c.ledger.Reset(amounts)

	c.log.Printf("restore: %d buildings restored, %d skipped", rep.Restored, rep.Skipped)
	return rep
}

func restoreStructure(b snapshot.BuildingV1, catalog Catalog) (*Structure, error) {
	id, err := uuid.Parse(b.ID)
	if err != nil {
		return nil, fmt.Errorf("bad id: %w", err)
	}
	typ, err := ParseStructureType(b.Type)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		return nil, fmt.Errorf("no catalog")
	}
	def, ok := catalog.Lookup(typ)
	if !ok || len(def.Levels) == 0 {
		return nil, fmt.Errorf("no catalog entry for %s", typ)
	}
	if b.Level < 1 || b.Level > len(def.Levels) {
		return nil, fmt.Errorf("level %d outside 1..%d", b.Level, len(def.Levels))
	}
	s := NewStructure(id, typ, GridPos{X: b.Position.X, Y: b.Position.Y}, SynthesizeLevels(def.Levels))
	s.Level = b.Level
	return s, nil
}
