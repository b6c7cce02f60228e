package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"citygrid.ai/internal/protocol"
	"citygrid.ai/internal/sim/city"
	"citygrid.ai/internal/sim/world"
)

// World is the part of the simulation the command surface needs.
type World interface {
	Submit(ctx context.Context, cmd world.Command) (world.Result, error)
	Bus() *city.Bus
}

type Options struct {
	CommandsPerSec float64
	Burst          int
	// OutQueue bounds the per-connection write buffer. Pushed events are
	// dropped while it is full.
	OutQueue int
	// CommandTimeout bounds one Submit, including save/load I/O.
	CommandTimeout time.Duration
}

type Server struct {
	world World
	opts  Options
	log   *log.Logger

	upgrader websocket.Upgrader

	conns   atomic.Int64
	dropped atomic.Uint64
}

func NewServer(w World, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.OutQueue <= 0 {
		opts.OutQueue = 256
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 5 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Server{
		world: w,
		opts:  opts,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

type Stats struct {
	Connections   int64
	DroppedEvents uint64
}

func (s *Server) Stats() Stats {
	return Stats{Connections: s.conns.Load(), DroppedEvents: s.dropped.Load()}
}

func (s *Server) limiter() *rate.Limiter {
	if s.opts.CommandsPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, s.opts.Burst)
	}
	return rate.NewLimiter(rate.Limit(s.opts.CommandsPerSec), s.opts.Burst)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(64 * 1024)

		s.conns.Add(1)
		defer s.conns.Add(-1)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, s.opts.OutQueue)

		// Bus handlers run on the simulation goroutine and must never block.
		unsubscribe := s.world.Bus().Subscribe(func(env city.Envelope) {
			b, err := json.Marshal(EventMessage(env))
			if err != nil {
				return
			}
			select {
			case out <- b:
			default:
				s.dropped.Add(1)
			}
		})
		defer unsubscribe()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		lim := s.limiter()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			resp := s.handleMessage(ctx, lim, msg)
			b, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			// Replies block rather than drop; a stuck client ends on the write deadline.
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, lim *rate.Limiter, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return failure("", protocol.ErrProtoBadRequest, "invalid json")
	}
	if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
		return failure(base.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	if !lim.Allow() {
		return failure(base.ReqID, protocol.ErrRateLimit, "too many commands")
	}

	cmd, code, reason := DecodeCommand(base, msg)
	if code != "" {
		return failure(base.ReqID, code, reason)
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
	defer cancel()
	res, err := s.world.Submit(cctx, cmd)
	if err != nil {
		s.log.Printf("ws: %s: %v", cmd.Name(), err)
		return failure(base.ReqID, errorCode(cmd, err), err.Error())
	}
	if res.State != nil {
		return StateMessage(*res.State, base.ReqID)
	}
	return ResultMessage(base.ReqID, cmd, res)
}

// DecodeCommand turns a client message into a world command. An unknown
// building type still becomes a PlaceCommand so the rejection is published as
// a placement failure.
func DecodeCommand(base protocol.BaseMessage, msg []byte) (world.Command, string, string) {
	switch base.Type {
	case protocol.TypePlace:
		var m protocol.PlaceMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, protocol.ErrBadRequest, "invalid PLACE"
		}
		typ, err := city.ParseStructureType(m.BuildingType)
		if err != nil {
			typ = city.StructureNone
		}
		return world.PlaceCommand{Type: typ, Pos: city.GridPos{X: m.Position.X, Y: m.Position.Y}}, "", ""
	case protocol.TypeRemove:
		var m protocol.RemoveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, protocol.ErrBadRequest, "invalid REMOVE"
		}
		id, err := uuid.Parse(m.BuildingID)
		if err != nil {
			return nil, protocol.ErrBadRequest, "invalid building_id"
		}
		return world.RemoveCommand{ID: id}, "", ""
	case protocol.TypeMove:
		var m protocol.MoveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, protocol.ErrBadRequest, "invalid MOVE"
		}
		id, err := uuid.Parse(m.BuildingID)
		if err != nil {
			return nil, protocol.ErrBadRequest, "invalid building_id"
		}
		return world.MoveCommand{ID: id, Pos: city.GridPos{X: m.Position.X, Y: m.Position.Y}}, "", ""
	case protocol.TypeUpgrade:
		var m protocol.UpgradeMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, protocol.ErrBadRequest, "invalid UPGRADE"
		}
		id, err := uuid.Parse(m.BuildingID)
		if err != nil {
			return nil, protocol.ErrBadRequest, "invalid building_id"
		}
		return world.UpgradeCommand{ID: id}, "", ""
	case protocol.TypeSave:
		return world.SaveCommand{}, "", ""
	case protocol.TypeLoad:
		return world.LoadCommand{}, "", ""
	case protocol.TypeState:
		return world.StateCommand{}, "", ""
	default:
		return nil, protocol.ErrProtoBadRequest, "unknown message type"
	}
}

func errorCode(cmd world.Command, err error) string {
	switch {
	case errors.Is(err, world.ErrStopped), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return protocol.ErrInternal
	}
	switch cmd.(type) {
	case world.SaveCommand, world.LoadCommand:
		return protocol.ErrStorage
	}
	return protocol.ErrInternal
}

// FailureCode maps a command outcome to a wire error code. Successful
// outcomes map to "".
func FailureCode(ev city.Event) (code, message string) {
	switch e := ev.(type) {
	case nil:
		return protocol.ErrInvalidTarget, "move rejected"
	case city.BuildingPlacementFailed:
		switch e.Reason {
		case city.PlacementCellIsOccupied:
			return protocol.ErrOccupied, e.Reason.String()
		case city.PlacementNotEnoughResources:
			return protocol.ErrNoResource, e.Reason.String()
		case city.PlacementInvalidBuildingType:
			return protocol.ErrUnknownType, e.Reason.String()
		case city.PlacementOutOfBounds:
			return protocol.ErrInvalidTarget, e.Reason.String()
		default:
			return protocol.ErrInternal, e.Reason.String()
		}
	case city.BuildingRemoveFailed:
		return protocol.ErrNotFound, e.Reason.String()
	case city.BuildingUpgradeFailed:
		switch e.Reason {
		case city.UpgradeBuildingNotFound:
			return protocol.ErrNotFound, e.Reason.String()
		case city.UpgradeAlreadyAtMaxLevel:
			return protocol.ErrMaxLevel, e.Reason.String()
		case city.UpgradeNotEnoughResources:
			return protocol.ErrNoResource, e.Reason.String()
		default:
			return protocol.ErrInternal, e.Reason.String()
		}
	}
	return "", ""
}

func failure(reqID, code, message string) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		OK:              false,
		Code:            code,
		Message:         message,
	}
}

func ResultMessage(reqID string, cmd world.Command, res world.Result) protocol.ResultMsg {
	msg := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		OK:              true,
	}
	switch cmd.(type) {
	case world.SaveCommand:
		saved := res.Saved
		msg.Saved = &saved
		return msg
	case world.LoadCommand:
		found, restored, skipped := res.Found, res.Restored, res.Skipped
		msg.Found = &found
		msg.Restored = &restored
		msg.Skipped = &skipped
		return msg
	}

	if code, reason := FailureCode(res.Event); code != "" {
		msg.OK = false
		msg.Code = code
		msg.Message = reason
	}
	if res.Event != nil {
		msg.EventType = res.Event.EventType()
		if b, err := json.Marshal(res.Event); err == nil {
			msg.Event = b
		}
	}
	return msg
}

func EventMessage(env city.Envelope) protocol.EventMsg {
	payload, err := json.Marshal(env.Event)
	if err != nil {
		payload = []byte("{}")
	}
	return protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Seq:             env.Seq,
		Time:            env.At.UTC().Format(time.RFC3339Nano),
		EventType:       env.Event.EventType(),
		Payload:         payload,
	}
}

func StateMessage(st world.State, reqID string) protocol.StateMsg {
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		WorldID:         st.WorldID,
		Grid:            protocol.GridDims{Width: st.Width, Height: st.Height},
		Buildings:       make([]protocol.BuildingObs, 0, len(st.Buildings)),
		Resources:       make(map[string]int, len(st.Resources)),
		EventSeq:        st.EventSeq,
	}
	for _, b := range st.Buildings {
		msg.Buildings = append(msg.Buildings, protocol.BuildingObs{
			BuildingID:   b.ID.String(),
			BuildingType: b.Type.String(),
			Position:     protocol.Position{X: b.Pos.X, Y: b.Pos.Y},
			Level:        b.Level,
			MaxLevel:     b.MaxLevel,
		})
	}
	for t, n := range st.Resources {
		msg.Resources[t.String()] = n
	}
	return msg
}
