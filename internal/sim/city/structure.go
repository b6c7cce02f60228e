package city

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type StructureType int

const (
	StructureNone StructureType = iota
	House
	Farm
	Mine
)

var StructureTypes = []StructureType{House, Farm, Mine}

var structureNames = map[StructureType]string{
	StructureNone: "None",
	House:         "House",
	Farm:          "Farm",
	Mine:          "Mine",
}

var ErrUnknownStructure = errors.New("unknown structure type")

func (t StructureType) String() string {
	if s, ok := structureNames[t]; ok {
		return s
	}
	return fmt.Sprintf("StructureType(%d)", int(t))
}

func (t StructureType) Valid() bool { return t > StructureNone && t <= Mine }

func (t StructureType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *StructureType) UnmarshalText(b []byte) error {
	v, err := ParseStructureType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func ParseStructureType(s string) (StructureType, error) {
	s = strings.TrimSpace(s)
	for _, t := range StructureTypes {
		if strings.EqualFold(structureNames[t], s) {
			return t, nil
		}
	}
	return StructureNone, fmt.Errorf("%w: %q", ErrUnknownStructure, s)
}

// ProcessStatus tracks construction progress for presentation layers.
type ProcessStatus int

const (
	StatusNone ProcessStatus = iota
	StatusConstructing
	StatusConstructed
)

func (s ProcessStatus) String() string {
	switch s {
	case StatusConstructing:
		return "Constructing"
	case StatusConstructed:
		return "Constructed"
	default:
		return "None"
	}
}

type GridPos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p GridPos) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

type LevelSpec struct {
	Level  int
	Cost   Cost
	Income Income
}

// Structure is owned by the Registry once added. Pos is written only by
// Registry.TryMove and Level only by TryUpgrade.
type Structure struct {
	ID     uuid.UUID
	Type   StructureType
	Pos    GridPos
	Level  int
	Levels []LevelSpec
	Status ProcessStatus
}

func NewStructure(id uuid.UUID, typ StructureType, pos GridPos, levels []LevelSpec) *Structure {
	return &Structure{
		ID:     id,
		Type:   typ,
		Pos:    pos,
		Level:  1,
		Levels: levels,
		Status: StatusConstructed,
	}
}

func (s *Structure) CurrentLevel() LevelSpec { return s.Levels[s.Level-1] }

// NextLevel returns the level the structure would upgrade into. The 0-based
// index of the next level equals the current 1-based level.
func (s *Structure) NextLevel() (LevelSpec, bool) {
	if s.IsMaxLevel() {
		return LevelSpec{}, false
	}
	return s.Levels[s.Level], true
}

func (s *Structure) MaxLevel() int { return len(s.Levels) }

func (s *Structure) IsMaxLevel() bool { return s.Level >= len(s.Levels) }

func (s *Structure) TryUpgrade() bool {
	if s.IsMaxLevel() {
		return false
	}
	s.Level++
	return true
}
