package city

import (
	"io"
	"log"

	"github.com/google/uuid"
)

// StructureDef is the catalog entry for one structure type.
type StructureDef struct {
	Type   StructureType
	Levels []LevelSpec
}

type Catalog interface {
	Lookup(t StructureType) (StructureDef, bool)
}

// Processors run the four structure commands against the registry and ledger.
// Every call publishes exactly one outcome event and returns it, except a
// failed Move, which only logs and returns nil.
type Processors struct {
	reg     *Registry
	ledger  *Ledger
	catalog Catalog
	pub     Publisher
	log     *log.Logger

	newID func() uuid.UUID
}

func NewProcessors(reg *Registry, ledger *Ledger, catalog Catalog, pub Publisher, logger *log.Logger) *Processors {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if pub == nil {
		pub = PublisherFunc(func(Event) {})
	}
	return &Processors{
		reg:     reg,
		ledger:  ledger,
		catalog: catalog,
		pub:     pub,
		log:     logger,
		newID:   uuid.New,
	}
}

// SetIDSource overrides structure id generation.
func (p *Processors) SetIDSource(fn func() uuid.UUID) { p.newID = fn }

func (p *Processors) Place(typ StructureType, pos GridPos) Event {
	fail := func(r PlacementFailureReason) Event {
		ev := BuildingPlacementFailed{Type: typ, Pos: pos, Reason: r}
		p.pub.Publish(ev)
		return ev
	}

	def, ok := p.lookup(typ)
	if !ok {
		p.log.Printf("place: unknown building type %s", typ)
		return fail(PlacementInvalidBuildingType)
	}
	if len(def.Levels) == 0 {
		p.log.Printf("place: building type %s has no levels", typ)
		return fail(PlacementInvalidConfig)
	}
	if !p.reg.InBounds(pos) {
		p.log.Printf("place: %s out of bounds", pos)
		return fail(PlacementOutOfBounds)
	}
	if p.reg.Occupied(pos) {
		p.log.Printf("place: cell %s occupied", pos)
		return fail(PlacementCellIsOccupied)
	}
	cost := def.Levels[0].Cost
	if !p.ledger.HasEnough(cost) {
		return fail(PlacementNotEnoughResources)
	}

	p.ledger.Spend(cost)
	s := NewStructure(p.newID(), typ, pos, SynthesizeLevels(def.Levels))
	if !p.reg.TryAdd(s) {
		p.log.Printf("place: registry rejected %s %s at %s after checks passed; refunding %s", typ, s.ID, pos, cost)
		p.ledger.Earn(cost)
		return fail(PlacementUnknown)
	}

	p.log.Printf("place: %s %s at %s", typ, s.ID, pos)
	ev := BuildingPlaced{ID: s.ID, Type: typ, Pos: pos}
	p.pub.Publish(ev)
	return ev
}

func (p *Processors) Remove(id uuid.UUID) Event {
	s, ok := p.reg.ByID(id)
	if !ok {
		p.log.Printf("remove: building %s not found", id)
		ev := BuildingRemoveFailed{ID: id, Reason: RemoveBuildingNotFound}
		p.pub.Publish(ev)
		return ev
	}

	refund := s.CurrentLevel().Cost.Half()
	p.ledger.Earn(refund)
	p.log.Printf("remove: refunded %s for %s", refund, id)

	if !p.reg.TryRemove(s) {
		p.log.Printf("remove: registry failed to remove %s after lookup", id)
	}
	ev := BuildingRemoved{ID: id}
	p.pub.Publish(ev)
	return ev
}

func (p *Processors) Move(id uuid.UUID, pos GridPos) Event {
	s, ok := p.reg.ByID(id)
	if !ok {
		p.log.Printf("move: building %s not found", id)
		return nil
	}
	if !p.reg.InBounds(pos) {
		p.log.Printf("move: %s out of bounds for %s", pos, id)
		return nil
	}
	if !p.reg.TryMove(s, pos) {
		p.log.Printf("move: cell %s occupied, %s stays at %s", pos, id, s.Pos)
		return nil
	}
	p.log.Printf("move: %s to %s", id, pos)
	ev := BuildingMoved{ID: id, Pos: pos}
	p.pub.Publish(ev)
	return ev
}

func (p *Processors) Upgrade(id uuid.UUID) Event {
	fail := func(r UpgradeFailureReason) Event {
		ev := BuildingUpgradeFailed{ID: id, Reason: r}
		p.pub.Publish(ev)
		return ev
	}

	s, ok := p.reg.ByID(id)
	if !ok {
		p.log.Printf("upgrade: building %s not found", id)
		return fail(UpgradeBuildingNotFound)
	}
	next, ok := s.NextLevel()
	if !ok {
		p.log.Printf("upgrade: %s already at max level %d", id, s.Level)
		return fail(UpgradeAlreadyAtMaxLevel)
	}
	if !p.ledger.HasEnough(next.Cost) {
		return fail(UpgradeNotEnoughResources)
	}

	p.ledger.Spend(next.Cost)
	if !s.TryUpgrade() {
		p.log.Printf("upgrade: %s refused level %d after checks passed; refunding %s", id, next.Level, next.Cost)
		p.ledger.Earn(next.Cost)
		return fail(UpgradeUnknown)
	}

	p.log.Printf("upgrade: %s to level %d", id, s.Level)
	ev := BuildingUpgraded{ID: id, Level: s.Level}
	p.pub.Publish(ev)
	return ev
}

func (p *Processors) lookup(typ StructureType) (StructureDef, bool) {
	if !typ.Valid() || p.catalog == nil {
		return StructureDef{}, false
	}
	return p.catalog.Lookup(typ)
}

// SynthesizeLevels copies catalog levels and numbers them 1..N.
func SynthesizeLevels(levels []LevelSpec) []LevelSpec {
	out := make([]LevelSpec, len(levels))
	for i, l := range levels {
		out[i] = LevelSpec{Level: i + 1, Cost: l.Cost, Income: l.Income}
	}
	return out
}
