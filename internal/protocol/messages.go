package protocol

import "encoding/json"

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PLACE (client -> server)
type PlaceMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version,omitempty"`
	ReqID           string   `json:"req_id,omitempty"`
	BuildingType    string   `json:"building_type"`
	Position        Position `json:"position"`
}

// REMOVE (client -> server)
type RemoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
	BuildingID      string `json:"building_id"`
}

// MOVE (client -> server)
type MoveMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version,omitempty"`
	ReqID           string   `json:"req_id,omitempty"`
	BuildingID      string   `json:"building_id"`
	Position        Position `json:"position"`
}

// UPGRADE (client -> server)
type UpgradeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
	BuildingID      string `json:"building_id"`
}

// RESULT (server -> client) answers one client message.
type ResultMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id,omitempty"`
	OK              bool            `json:"ok"`
	EventType       string          `json:"event_type,omitempty"`
	Event           json.RawMessage `json:"event,omitempty"`
	Code            string          `json:"code,omitempty"`
	Message         string          `json:"message,omitempty"`

	// Saved, Found, Restored and Skipped are set by SAVE and LOAD.
	Saved    *int  `json:"saved,omitempty"`
	Found    *bool `json:"found,omitempty"`
	Restored *int  `json:"restored,omitempty"`
	Skipped  *int  `json:"skipped,omitempty"`
}

// EVENT (server -> client) is pushed for every domain event.
type EventMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Seq             uint64          `json:"seq"`
	Time            string          `json:"time"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
}

// STATE (server -> client)
type StateMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ReqID           string         `json:"req_id,omitempty"`
	WorldID         string         `json:"world_id"`
	Grid            GridDims       `json:"grid"`
	Buildings       []BuildingObs  `json:"buildings"`
	Resources       map[string]int `json:"resources"`
	EventSeq        uint64         `json:"event_seq"`
}

type GridDims struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type BuildingObs struct {
	BuildingID   string   `json:"building_id"`
	BuildingType string   `json:"building_type"`
	Position     Position `json:"position"`
	Level        int      `json:"level"`
	MaxLevel     int      `json:"max_level"`
}
