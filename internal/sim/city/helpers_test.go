package city

import (
	"testing"
)

type mapCatalog map[StructureType]StructureDef

func (c mapCatalog) Lookup(t StructureType) (StructureDef, bool) {
	d, ok := c[t]
	return d, ok
}

func vec(kv ...any) Vector {
	m := map[ResourceType]int{}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(ResourceType)] = kv[i+1].(int)
	}
	return MustVector(m)
}

// testCatalog: House has two levels, Farm one, Mine none (misconfigured).
func testCatalog() mapCatalog {
	return mapCatalog{
		House: {Type: House, Levels: []LevelSpec{
			{Cost: vec(Gold, 100), Income: vec(Gold, 1)},
			{Cost: vec(Gold, 150, Wood, 50), Income: vec(Gold, 3)},
		}},
		Farm: {Type: Farm, Levels: []LevelSpec{
			{Cost: vec(Gold, 80, Wood, 40), Income: vec(Wood, 2)},
		}},
		Mine: {Type: Mine},
	}
}

type recorder struct {
	events []Event
}

func (r *recorder) Publish(ev Event) { r.events = append(r.events, ev) }

// outcomes drops ResourcesChanged notifications.
func (r *recorder) outcomes() []Event {
	var out []Event
	for _, ev := range r.events {
		if _, ok := ev.(ResourcesChanged); ok {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (r *recorder) reset() { r.events = nil }

type harness struct {
	reg    *Registry
	ledger *Ledger
	procs  *Processors
	econ   *Economy
	rec    *recorder
}

func newHarness(t *testing.T, start Vector) *harness {
	t.Helper()
	rec := &recorder{}
	reg := NewRegistry(32, 32)
	ledger := NewLedger(start, rec, nil)
	return &harness{
		reg:    reg,
		ledger: ledger,
		procs:  NewProcessors(reg, ledger, testCatalog(), rec, nil),
		econ:   NewEconomy(reg, ledger),
		rec:    rec,
	}
}

func (h *harness) place(t *testing.T, typ StructureType, pos GridPos) *Structure {
	t.Helper()
	ev, ok := h.procs.Place(typ, pos).(BuildingPlaced)
	if !ok {
		t.Fatalf("place %s at %s failed", typ, pos)
	}
	s, ok := h.reg.ByID(ev.ID)
	if !ok {
		t.Fatalf("placed structure %s not in registry", ev.ID)
	}
	return s
}

func assertOccupancy(t *testing.T, reg *Registry) {
	t.Helper()
	seen := map[GridPos]bool{}
	for _, s := range reg.Structures() {
		if seen[s.Pos] {
			t.Fatalf("two structures at %s", s.Pos)
		}
		seen[s.Pos] = true
		at, ok := reg.At(s.Pos)
		if !ok || at.ID != s.ID {
			t.Fatalf("cell index for %s does not resolve to %s", s.Pos, s.ID)
		}
	}
	if len(reg.byCell) != len(reg.byID) {
		t.Fatalf("index sizes differ: cells=%d ids=%d", len(reg.byCell), len(reg.byID))
	}
}
