package world

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"citygrid.ai/internal/sim/city"
)

type Command interface {
	Name() string
}

type PlaceCommand struct {
	Type city.StructureType
	Pos  city.GridPos
}

type RemoveCommand struct{ ID uuid.UUID }

type MoveCommand struct {
	ID  uuid.UUID
	Pos city.GridPos
}

type UpgradeCommand struct{ ID uuid.UUID }

type SaveCommand struct{}

type LoadCommand struct{}

// StateCommand reads the current grid and ledger without mutating them.
type StateCommand struct{}

func (PlaceCommand) Name() string   { return "place" }
func (RemoveCommand) Name() string  { return "remove" }
func (MoveCommand) Name() string    { return "move" }
func (UpgradeCommand) Name() string { return "upgrade" }
func (SaveCommand) Name() string    { return "save" }
func (LoadCommand) Name() string    { return "load" }
func (StateCommand) Name() string   { return "state" }

type Result struct {
	// Event is the outcome event of a structure command. A failed move has none.
	Event city.Event

	// Saved is the number of buildings written by a save.
	Saved int

	// Found, Restored and Skipped describe a load.
	Found    bool
	Restored int
	Skipped  int

	State *State
}

type State struct {
	WorldID   string                    `json:"world_id"`
	Width     int                       `json:"width"`
	Height    int                       `json:"height"`
	Buildings []BuildingState           `json:"buildings"`
	Resources map[city.ResourceType]int `json:"resources"`
	EventSeq  uint64                    `json:"event_seq"`
}

type BuildingState struct {
	ID       uuid.UUID          `json:"id"`
	Type     city.StructureType `json:"type"`
	Pos      city.GridPos       `json:"position"`
	Level    int                `json:"level"`
	MaxLevel int                `json:"max_level"`
}

func (w *World) handle(ctx context.Context, req request) {
	w.metrics.commands.Add(1)
	switch req.cmd.(type) {
	case SaveCommand:
		w.enqueueSave(saveJob{snap: w.coord.Capture(), reply: req.resp})
		return
	case LoadCommand:
		w.startLoad(ctx, req.resp)
		return
	}
	res, err := w.Apply(req.cmd)
	req.resp <- response{res: res, err: err}
}

// Apply runs a non-I/O command synchronously on the calling goroutine. Use it
// from the loop, or from tests while the loop is not running.
func (w *World) Apply(cmd Command) (Result, error) {
	var ev city.Event
	switch c := cmd.(type) {
	case PlaceCommand:
		ev = w.procs.Place(c.Type, c.Pos)
	case RemoveCommand:
		ev = w.procs.Remove(c.ID)
	case MoveCommand:
		ev = w.procs.Move(c.ID, c.Pos)
	case UpgradeCommand:
		ev = w.procs.Upgrade(c.ID)
	case StateCommand:
		st := w.state()
		return Result{State: &st}, nil
	default:
		return Result{}, fmt.Errorf("world: unsupported command %T", cmd)
	}
	if ev == nil || city.IsFailure(ev) {
		w.metrics.failures.Add(1)
	}
	w.metrics.structures.Store(int64(w.reg.Len()))
	return Result{Event: ev}, nil
}

func (w *World) state() State {
	st := State{
		WorldID:   w.cfg.ID,
		Width:     w.reg.Width(),
		Height:    w.reg.Height(),
		Buildings: make([]BuildingState, 0, w.reg.Len()),
		Resources: w.ledger.Snapshot(),
		EventSeq:  w.bus.LastSeq(),
	}
	for _, s := range w.reg.Structures() {
		st.Buildings = append(st.Buildings, BuildingState{
			ID:       s.ID,
			Type:     s.Type,
			Pos:      s.Pos,
			Level:    s.Level,
			MaxLevel: s.MaxLevel(),
		})
	}
	return st
}
