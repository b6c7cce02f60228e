package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
)

type SaveRecord struct {
	ID        int64           `json:"id"`
	WorldID   string          `json:"world_id"`
	SavedAt   string          `json:"saved_at"`
	Buildings int             `json:"buildings"`
	Resources json.RawMessage `json:"resources"`
}

type EventRecord struct {
	Seq        uint64          `json:"seq"`
	Time       string          `json:"time"`
	Type       string          `json:"type"`
	BuildingID string          `json:"building_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// ListSaves returns the newest saves first.
func ListSaves(ctx context.Context, db *sql.DB, limit int) ([]SaveRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, world_id, saved_at, buildings, resources_json FROM saves ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SaveRecord
	for rows.Next() {
		var (
			r   SaveRecord
			raw string
		)
		if err := rows.Scan(&r.ID, &r.WorldID, &r.SavedAt, &r.Buildings, &raw); err != nil {
			return nil, err
		}
		r.Resources = json.RawMessage(raw)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentEvents returns events newest first. An empty typ matches every type.
func RecentEvents(ctx context.Context, db *sql.DB, typ string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT seq, time, type, COALESCE(building_id,''), COALESCE(reason,''), raw_json
		   FROM events
		  WHERE (? = '' OR type = ?)
		  ORDER BY time DESC, seq DESC
		  LIMIT ?`, typ, typ, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			r   EventRecord
			seq int64
			raw string
		)
		if err := rows.Scan(&seq, &r.Time, &r.Type, &r.BuildingID, &r.Reason, &raw); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		r.Payload = json.RawMessage(raw)
		out = append(out, r)
	}
	return out, rows.Err()
}
