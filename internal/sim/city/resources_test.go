package city

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewVector_RejectsNegativeAndUnknown(t *testing.T) {
	if _, err := NewVector(map[ResourceType]int{Gold: -1}); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("want ErrNegativeAmount, got %v", err)
	}
	if _, err := NewVector(map[ResourceType]int{ResourceNone: 1}); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("want ErrUnknownResource, got %v", err)
	}
	if _, err := Single(ResourceType(42), 1); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("want ErrUnknownResource, got %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("MustVector should panic on a negative amount")
		}
	}()
	MustVector(map[ResourceType]int{Wood: -5})
}

func TestVector_Arithmetic(t *testing.T) {
	v := vec(Gold, 101, Wood, 1)
	if h := v.Half(); !h.Equal(vec(Gold, 50)) {
		t.Fatalf("Half=%s want {Gold:50}", h)
	}
	if s := v.Add(vec(Wood, 2, Crystals, 3)); !s.Equal(vec(Gold, 101, Wood, 3, Crystals, 3)) {
		t.Fatalf("Add=%s", s)
	}
	if !vec(Gold, 0).IsZero() {
		t.Fatalf("zero amounts are dropped")
	}
	if got := v.String(); got != "{Gold:101, Wood:1}" {
		t.Fatalf("String=%q", got)
	}
	m := v.Map()
	m[Gold] = 0
	if v.Amount(Gold) != 101 {
		t.Fatalf("Map must copy")
	}
}

func TestParseResourceType(t *testing.T) {
	for in, want := range map[string]ResourceType{"Gold": Gold, "wood": Wood, " CRYSTALS ": Crystals} {
		got, err := ParseResourceType(in)
		if err != nil || got != want {
			t.Fatalf("ParseResourceType(%q)=%v,%v", in, got, err)
		}
	}
	for _, bad := range []string{"", "None", "Stone"} {
		if _, err := ParseResourceType(bad); err == nil {
			t.Fatalf("ParseResourceType(%q) should fail", bad)
		}
	}
}

func TestResourceMapJSON(t *testing.T) {
	b, err := json.Marshal(map[ResourceType]int{Gold: 1, Crystals: 2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"Crystals":2,"Gold":1}` {
		t.Fatalf("json=%s", b)
	}
	var back map[ResourceType]int
	if err := json.Unmarshal(b, &back); err != nil || back[Gold] != 1 || back[Crystals] != 2 {
		t.Fatalf("unmarshal: %v %v", back, err)
	}
}

func TestParseStructureType(t *testing.T) {
	if typ, err := ParseStructureType("farm"); err != nil || typ != Farm {
		t.Fatalf("farm: %v %v", typ, err)
	}
	if _, err := ParseStructureType("Castle"); !errors.Is(err, ErrUnknownStructure) {
		t.Fatalf("want ErrUnknownStructure, got %v", err)
	}
}
