package city

import (
	"sort"

	"github.com/google/uuid"
)

// Registry is the authoritative set of placed structures, indexed by id and by
// cell. It is not safe for concurrent use; the world loop owns it.
type Registry struct {
	width  int
	height int

	byID   map[uuid.UUID]*Structure
	byCell map[GridPos]*Structure
}

func NewRegistry(width, height int) *Registry {
	return &Registry{
		width:  width,
		height: height,
		byID:   map[uuid.UUID]*Structure{},
		byCell: map[GridPos]*Structure{},
	}
}

func (r *Registry) Width() int  { return r.width }
func (r *Registry) Height() int { return r.height }
func (r *Registry) Len() int    { return len(r.byID) }

func (r *Registry) InBounds(p GridPos) bool {
	return p.X >= 0 && p.X < r.width && p.Y >= 0 && p.Y < r.height
}

func (r *Registry) Occupied(p GridPos) bool {
	_, ok := r.byCell[p]
	return ok
}

func (r *Registry) At(p GridPos) (*Structure, bool) {
	s, ok := r.byCell[p]
	return s, ok
}

func (r *Registry) ByID(id uuid.UUID) (*Structure, bool) {
	s, ok := r.byID[id]
	return s, ok
}

func (r *Registry) TryAdd(s *Structure) bool {
	if s == nil {
		return false
	}
	if _, ok := r.byID[s.ID]; ok {
		return false
	}
	if r.Occupied(s.Pos) {
		return false
	}
	r.byID[s.ID] = s
	r.byCell[s.Pos] = s
	return true
}

func (r *Registry) TryRemove(s *Structure) bool {
	if s == nil {
		return false
	}
	cur, ok := r.byID[s.ID]
	if !ok {
		return false
	}
	delete(r.byID, cur.ID)
	delete(r.byCell, cur.Pos)
	return true
}

// TryMove relocates s to p. Moving onto its own cell succeeds without change.
func (r *Registry) TryMove(s *Structure, p GridPos) bool {
	if s == nil {
		return false
	}
	cur, ok := r.byID[s.ID]
	if !ok {
		return false
	}
	if other, ok := r.byCell[p]; ok {
		return other.ID == cur.ID
	}
	delete(r.byCell, cur.Pos)
	cur.Pos = p
	r.byCell[p] = cur
	return true
}

// Structures returns the current structures sorted by id text. The slice is
// a copy; callers may mutate the registry while iterating it.
func (r *Registry) Structures() []*Structure {
	out := make([]*Structure, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Clear drops every structure. Only a full game load calls it.
func (r *Registry) Clear() {
	r.byID = map[uuid.UUID]*Structure{}
	r.byCell = map[GridPos]*Structure{}
}
