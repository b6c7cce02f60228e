package world

import (
	"sync/atomic"

	"citygrid.ai/internal/sim/city"
)

type counters struct {
	commands     atomic.Uint64
	failures     atomic.Uint64
	economyTicks atomic.Uint64
	saves        atomic.Uint64
	saveErrors   atomic.Uint64
	structures   atomic.Int64
}

type WorldMetrics struct {
	Commands     uint64                    `json:"commands"`
	Failures     uint64                    `json:"failures"`
	EconomyTicks uint64                    `json:"economy_ticks"`
	Saves        uint64                    `json:"saves"`
	SaveErrors   uint64                    `json:"save_errors"`
	Structures   int64                     `json:"structures"`
	InboxDepth   int                       `json:"inbox_depth"`
	EventSeq     uint64                    `json:"event_seq"`
	Resources    map[city.ResourceType]int `json:"resources"`
}

// Metrics is safe to call from any goroutine.
func (w *World) Metrics() WorldMetrics {
	m := WorldMetrics{
		Commands:     w.metrics.commands.Load(),
		Failures:     w.metrics.failures.Load(),
		EconomyTicks: w.metrics.economyTicks.Load(),
		Saves:        w.metrics.saves.Load(),
		SaveErrors:   w.metrics.saveErrors.Load(),
		Structures:   w.metrics.structures.Load(),
		InboxDepth:   len(w.inbox),
		EventSeq:     w.bus.LastSeq(),
	}
	if p := w.resources.Load(); p != nil {
		m.Resources = make(map[city.ResourceType]int, len(*p))
		for t, n := range *p {
			m.Resources[t] = n
		}
	}
	return m
}
