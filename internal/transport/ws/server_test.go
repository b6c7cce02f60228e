package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"citygrid.ai/internal/protocol"
	"citygrid.ai/internal/sim/city"
	"citygrid.ai/internal/sim/world"
)

type testCatalog map[city.StructureType]city.StructureDef

func (c testCatalog) Lookup(t city.StructureType) (city.StructureDef, bool) {
	d, ok := c[t]
	return d, ok
}

func newTestWorld(t *testing.T) *world.World {
	t.Helper()
	cat := testCatalog{
		city.House: {Type: city.House, Levels: []city.LevelSpec{
			{Level: 1, Cost: city.MustVector(map[city.ResourceType]int{city.Gold: 100}), Income: city.MustVector(map[city.ResourceType]int{city.Gold: 1})},
			{Level: 2, Cost: city.MustVector(map[city.ResourceType]int{city.Gold: 150}), Income: city.MustVector(map[city.ResourceType]int{city.Gold: 3})},
		}},
	}
	w, err := world.New(world.Config{
		ID:              "city_test",
		Width:           8,
		Height:          8,
		Starting:        city.MustVector(map[city.ResourceType]int{city.Gold: 1000}),
		EconomyInterval: time.Hour,
	}, cat, nil, nil)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readResult reads until the RESULT or STATE for reqID, collecting pushed events.
func readResult(t *testing.T, conn *websocket.Conn, reqID string) (map[string]any, []protocol.EventMsg) {
	t.Helper()
	var events []protocol.EventMsg
	for i := 0; i < 32; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == protocol.TypeEvent {
			var ev protocol.EventMsg
			if err := json.Unmarshal(b, &ev); err != nil {
				t.Fatalf("event: %v", err)
			}
			events = append(events, ev)
			continue
		}
		if base.ReqID != reqID {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("result: %v", err)
		}
		return m, events
	}
	t.Fatalf("no reply for %s", reqID)
	return nil, nil
}

func TestServer_PlaceRelaysEventsAndResult(t *testing.T) {
	w := newTestWorld(t)
	conn := dial(t, NewServer(w, Options{Burst: 10}, nil))

	send(t, conn, protocol.PlaceMsg{Type: protocol.TypePlace, ProtocolVersion: protocol.Version, ReqID: "p1", BuildingType: "House", Position: protocol.Position{X: 1, Y: 1}})
	res, events := readResult(t, conn, "p1")
	if res["ok"] != true || res["event_type"] != city.EventPlacementSuccess {
		t.Fatalf("unexpected result: %v", res)
	}
	var types []string
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	if len(types) != 2 || types[0] != city.EventResourcesChanged || types[1] != city.EventPlacementSuccess {
		t.Fatalf("unexpected pushed events: %v", types)
	}

	send(t, conn, protocol.PlaceMsg{Type: protocol.TypePlace, ReqID: "p2", BuildingType: "House", Position: protocol.Position{X: 1, Y: 1}})
	res, _ = readResult(t, conn, "p2")
	if res["ok"] != false || res["code"] != protocol.ErrOccupied {
		t.Fatalf("expected E_OCCUPIED, got %v", res)
	}

	send(t, conn, protocol.PlaceMsg{Type: protocol.TypePlace, ReqID: "p3", BuildingType: "Castle", Position: protocol.Position{X: 2, Y: 2}})
	res, _ = readResult(t, conn, "p3")
	if res["code"] != protocol.ErrUnknownType {
		t.Fatalf("expected E_UNKNOWN_TYPE, got %v", res)
	}
}

func TestServer_StateAndBadRequests(t *testing.T) {
	w := newTestWorld(t)
	conn := dial(t, NewServer(w, Options{Burst: 10}, nil))

	send(t, conn, protocol.BaseMessage{Type: protocol.TypeState, ReqID: "s1"})
	res, _ := readResult(t, conn, "s1")
	if res["type"] != protocol.TypeState {
		t.Fatalf("expected STATE, got %v", res)
	}
	resources, _ := res["resources"].(map[string]any)
	if resources["Gold"] != float64(1000) {
		t.Fatalf("unexpected resources: %v", resources)
	}

	send(t, conn, protocol.RemoveMsg{Type: protocol.TypeRemove, ReqID: "r1", BuildingID: "not-a-uuid"})
	res, _ = readResult(t, conn, "r1")
	if res["code"] != protocol.ErrBadRequest {
		t.Fatalf("expected E_BAD_REQUEST, got %v", res)
	}

	send(t, conn, protocol.BaseMessage{Type: protocol.TypeState, ProtocolVersion: "0.1", ReqID: "v1"})
	res, _ = readResult(t, conn, "v1")
	if res["code"] != protocol.ErrProtoBadRequest {
		t.Fatalf("expected E_PROTO_BAD_REQUEST, got %v", res)
	}

	send(t, conn, protocol.UpgradeMsg{Type: protocol.TypeUpgrade, ReqID: "u1", BuildingID: "0b8f5a4e-9f1e-4c43-9c1c-1b2f7c1b2a11"})
	res, _ = readResult(t, conn, "u1")
	if res["code"] != protocol.ErrNotFound {
		t.Fatalf("expected E_NOT_FOUND, got %v", res)
	}
}

func TestServer_RateLimit(t *testing.T) {
	w := newTestWorld(t)
	conn := dial(t, NewServer(w, Options{CommandsPerSec: 0.001, Burst: 1}, nil))

	send(t, conn, protocol.BaseMessage{Type: protocol.TypeState, ReqID: "a"})
	if res, _ := readResult(t, conn, "a"); res["type"] != protocol.TypeState {
		t.Fatalf("first command should pass: %v", res)
	}
	send(t, conn, protocol.BaseMessage{Type: protocol.TypeState, ReqID: "b"})
	if res, _ := readResult(t, conn, "b"); res["code"] != protocol.ErrRateLimit {
		t.Fatalf("expected E_RATE_LIMIT, got %v", res)
	}
}

func TestFailureCode(t *testing.T) {
	cases := []struct {
		ev   city.Event
		code string
	}{
		{city.BuildingPlaced{}, ""},
		{nil, protocol.ErrInvalidTarget},
		{city.BuildingPlacementFailed{Reason: city.PlacementNotEnoughResources}, protocol.ErrNoResource},
		{city.BuildingPlacementFailed{Reason: city.PlacementOutOfBounds}, protocol.ErrInvalidTarget},
		{city.BuildingPlacementFailed{Reason: city.PlacementInvalidConfig}, protocol.ErrInternal},
		{city.BuildingRemoveFailed{Reason: city.RemoveBuildingNotFound}, protocol.ErrNotFound},
		{city.BuildingUpgradeFailed{Reason: city.UpgradeAlreadyAtMaxLevel}, protocol.ErrMaxLevel},
		{city.BuildingUpgradeFailed{Reason: city.UpgradeNotEnoughResources}, protocol.ErrNoResource},
	}
	for _, c := range cases {
		code, _ := FailureCode(c.ev)
		if code != c.code {
			t.Fatalf("FailureCode(%T)=%q want %q", c.ev, code, c.code)
		}
		if !protocol.IsKnownCode(code) {
			t.Fatalf("unknown code %q", code)
		}
	}
}
