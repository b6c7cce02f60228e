package city

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"citygrid.ai/internal/persistence/snapshot"
)

// Event type names, as journaled and sent on the wire.
const (
	EventPlacementSuccess = "BuildingPlacementSuccess"
	EventPlacementFailure = "BuildingPlacementFailure"
	EventRemoved          = "BuildingRemovedEvent"
	EventRemoveFailure    = "BuildingRemoveFailure"
	EventMoved            = "BuildingMovedEvent"
	EventUpgraded         = "BuildingUpgradedEvent"
	EventUpgradeFailure   = "BuildingUpgradeFailure"
	EventResourcesChanged = "ResourcesChangedEvent"
	EventGameStateLoaded  = "GameStateLoadedEvent"
)

type Event interface {
	EventType() string
}

type PlacementFailureReason int

const (
	PlacementUnknown PlacementFailureReason = iota
	PlacementCellIsOccupied
	PlacementNotEnoughResources
	PlacementInvalidBuildingType
	PlacementInvalidConfig
	PlacementOutOfBounds
)

var placementReasonNames = []string{
	"Unknown", "CellIsOccupied", "NotEnoughResources", "InvalidBuildingType", "InvalidConfig", "OutOfBounds",
}

func (r PlacementFailureReason) String() string {
	if int(r) >= 0 && int(r) < len(placementReasonNames) {
		return placementReasonNames[r]
	}
	return fmt.Sprintf("PlacementFailureReason(%d)", int(r))
}

func (r PlacementFailureReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

type UpgradeFailureReason int

const (
	UpgradeUnknown UpgradeFailureReason = iota
	UpgradeBuildingNotFound
	UpgradeAlreadyAtMaxLevel
	UpgradeNotEnoughResources
)

var upgradeReasonNames = []string{"Unknown", "BuildingNotFound", "AlreadyAtMaxLevel", "NotEnoughResources"}

func (r UpgradeFailureReason) String() string {
	if int(r) >= 0 && int(r) < len(upgradeReasonNames) {
		return upgradeReasonNames[r]
	}
	return fmt.Sprintf("UpgradeFailureReason(%d)", int(r))
}

func (r UpgradeFailureReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

type RemoveFailureReason int

const (
	RemoveUnknown RemoveFailureReason = iota
	RemoveBuildingNotFound
)

func (r RemoveFailureReason) String() string {
	switch r {
	case RemoveUnknown:
		return "Unknown"
	case RemoveBuildingNotFound:
		return "BuildingNotFound"
	default:
		return fmt.Sprintf("RemoveFailureReason(%d)", int(r))
	}
}

func (r RemoveFailureReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

type BuildingPlaced struct {
	ID   uuid.UUID     `json:"building_id"`
	Type StructureType `json:"building_type"`
	Pos  GridPos       `json:"position"`
}

type BuildingPlacementFailed struct {
	Type   StructureType          `json:"building_type"`
	Pos    GridPos                `json:"position"`
	Reason PlacementFailureReason `json:"reason"`
}

type BuildingRemoved struct {
	ID uuid.UUID `json:"building_id"`
}

type BuildingRemoveFailed struct {
	ID     uuid.UUID           `json:"building_id"`
	Reason RemoveFailureReason `json:"reason"`
}

type BuildingMoved struct {
	ID  uuid.UUID `json:"building_id"`
	Pos GridPos   `json:"position"`
}

type BuildingUpgraded struct {
	ID    uuid.UUID `json:"building_id"`
	Level int       `json:"level"`
}

type BuildingUpgradeFailed struct {
	ID     uuid.UUID            `json:"building_id"`
	Reason UpgradeFailureReason `json:"reason"`
}

// ResourcesChanged carries the full ledger state, not a delta.
type ResourcesChanged struct {
	Snapshot map[ResourceType]int `json:"resources"`
}

type GameStateLoaded struct {
	Snapshot snapshot.GameStateV1 `json:"snapshot"`
}

func (BuildingPlaced) EventType() string          { return EventPlacementSuccess }
func (BuildingPlacementFailed) EventType() string { return EventPlacementFailure }
func (BuildingRemoved) EventType() string         { return EventRemoved }
func (BuildingRemoveFailed) EventType() string    { return EventRemoveFailure }
func (BuildingMoved) EventType() string           { return EventMoved }
func (BuildingUpgraded) EventType() string        { return EventUpgraded }
func (BuildingUpgradeFailed) EventType() string   { return EventUpgradeFailure }
func (ResourcesChanged) EventType() string        { return EventResourcesChanged }
func (GameStateLoaded) EventType() string         { return EventGameStateLoaded }

// IsFailure reports whether ev is one of the command failure events.
func IsFailure(ev Event) bool {
	switch ev.(type) {
	case BuildingPlacementFailed, BuildingRemoveFailed, BuildingUpgradeFailed:
		return true
	}
	return false
}

type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Envelope is what subscribers receive: the event plus its publish order.
type Envelope struct {
	Seq   uint64
	At    time.Time
	Event Event
}

// Bus fans events out to subscribers synchronously, in subscription order, on
// the publishing goroutine. Subscribers must not block.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Envelope)

	seq atomic.Uint64
	now func() time.Time
}

func NewBus() *Bus {
	return &Bus{subs: map[int]func(Envelope){}, now: time.Now}
}

func (b *Bus) Subscribe(fn func(Envelope)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(ev Event) {
	env := Envelope{Seq: b.seq.Add(1), At: b.now().UTC(), Event: ev}

	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Envelope), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(env)
	}
}

// LastSeq is the sequence number of the most recent event.
func (b *Bus) LastSeq() uint64 { return b.seq.Load() }
