package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"citygrid.ai/internal/persistence/indexdb"
	"citygrid.ai/internal/protocol"
	"citygrid.ai/internal/sim/world"
	"citygrid.ai/internal/transport/ws"
)

type serverWorld interface {
	ws.World
	ID() string
	Metrics() world.WorldMetrics
}

type routerDeps struct {
	World       serverWorld
	WS          *ws.Server
	Index       *indexdb.SQLiteIndex
	EnableAdmin bool
	Logger      *log.Logger
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Get("/metrics", metricsHandler(d))

	if d.EnableAdmin {
		// Local-only admin endpoints.
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(loopbackOnly)
			r.Get("/state", adminStateHandler(d.World))
			r.Post("/save", adminCommandHandler(d.World, world.SaveCommand{}))
			r.Post("/load", adminCommandHandler(d.World, world.LoadCommand{}))
		})
	} else if d.Logger != nil {
		d.Logger.Printf("admin endpoints disabled (CG_ENABLE_ADMIN_HTTP=false)")
	}

	if d.WS != nil {
		r.Get("/v1/ws", d.WS.Handler())
	}
	return r
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func adminStateHandler(w serverWorld) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		res, err := w.Submit(ctx, world.StateCommand{})
		rw.Header().Set("Content-Type", "application/json")
		if err != nil || res.State == nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": fmt.Sprint(err)})
			return
		}
		resp := struct {
			State   any                `json:"state"`
			Metrics world.WorldMetrics `json:"metrics"`
		}{
			State:   ws.StateMessage(*res.State, ""),
			Metrics: w.Metrics(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func adminCommandHandler(w serverWorld, cmd world.Command) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		res, err := w.Submit(ctx, cmd)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "code": protocol.ErrStorage, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(ws.ResultMessage("", cmd, res))
	}
}

func metricsHandler(d routerDeps) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		id := d.World.ID()
		m := d.World.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP citygrid_commands_total Commands handled by the world loop.\n")
		fmt.Fprintf(rw, "# TYPE citygrid_commands_total counter\n")
		fmt.Fprintf(rw, "citygrid_commands_total{world=%q} %d\n", id, m.Commands)

		fmt.Fprintf(rw, "# HELP citygrid_command_failures_total Structure commands that were rejected.\n")
		fmt.Fprintf(rw, "# TYPE citygrid_command_failures_total counter\n")
		fmt.Fprintf(rw, "citygrid_command_failures_total{world=%q} %d\n", id, m.Failures)

		fmt.Fprintf(rw, "# HELP citygrid_economy_ticks_total Economy ticks applied.\n")
		fmt.Fprintf(rw, "# TYPE citygrid_economy_ticks_total counter\n")
		fmt.Fprintf(rw, "citygrid_economy_ticks_total{world=%q} %d\n", id, m.EconomyTicks)

		fmt.Fprintf(rw, "# HELP citygrid_saves_total Saves by outcome.\n")
		fmt.Fprintf(rw, "# TYPE citygrid_saves_total counter\n")
		fmt.Fprintf(rw, "citygrid_saves_total{world=%q,result=%q} %d\n", id, "ok", m.Saves)
		fmt.Fprintf(rw, "citygrid_saves_total{world=%q,result=%q} %d\n", id, "error", m.SaveErrors)

		fmt.Fprintf(rw, "# HELP citygrid_structures Structures on the grid.\n")
		fmt.Fprintf(rw, "# TYPE citygrid_structures gauge\n")
		fmt.Fprintf(rw, "citygrid_structures{world=%q} %d\n", id, m.Structures)

		fmt.Fprintf(rw, "# HELP citygrid_inbox_depth Command inbox backlog.\n")
		fmt.Fprintf(rw, "# TYPE citygrid_inbox_depth gauge\n")
		fmt.Fprintf(rw, "citygrid_inbox_depth{world=%q} %d\n", id, m.InboxDepth)

		fmt.Fprintf(rw, "# HELP citygrid_resources Ledger amounts.\n")
		fmt.Fprintf(rw, "# TYPE citygrid_resources gauge\n")
		for _, t := range sortedResources(m.Resources) {
			fmt.Fprintf(rw, "citygrid_resources{world=%q,resource=%q} %d\n", id, t.String(), m.Resources[t])
		}

		if d.WS != nil {
			s := d.WS.Stats()
			fmt.Fprintf(rw, "# HELP citygrid_ws_connections Open command connections.\n")
			fmt.Fprintf(rw, "# TYPE citygrid_ws_connections gauge\n")
			fmt.Fprintf(rw, "citygrid_ws_connections %d\n", s.Connections)
			fmt.Fprintf(rw, "# HELP citygrid_ws_dropped_events_total Events dropped for slow clients.\n")
			fmt.Fprintf(rw, "# TYPE citygrid_ws_dropped_events_total counter\n")
			fmt.Fprintf(rw, "citygrid_ws_dropped_events_total %d\n", s.DroppedEvents)
		}
		if d.Index != nil {
			s := d.Index.Stats()
			fmt.Fprintf(rw, "# HELP citygrid_index_queue_depth Index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE citygrid_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "citygrid_index_queue_depth %d\n", s.QueueDepth)
			fmt.Fprintf(rw, "# HELP citygrid_index_dropped_total Index rows dropped while the queue was full.\n")
			fmt.Fprintf(rw, "# TYPE citygrid_index_dropped_total counter\n")
			fmt.Fprintf(rw, "citygrid_index_dropped_total{kind=%q} %d\n", "event", s.DropEvents)
			fmt.Fprintf(rw, "citygrid_index_dropped_total{kind=%q} %d\n", "save", s.DropSaves)
		}
	}
}
