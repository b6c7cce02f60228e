package city

import (
	"io"
	"log"
)

// Ledger holds one counter per resource type. Spend never clamps: a caller
// that skips HasEnough can drive a counter negative. The command processors
// always check first.
type Ledger struct {
	amounts map[ResourceType]int
	pub     Publisher
	log     *log.Logger
}

func NewLedger(start Vector, pub Publisher, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Ledger{
		amounts: start.Map(),
		pub:     pub,
		log:     logger,
	}
}

func (l *Ledger) Amount(t ResourceType) int { return l.amounts[t] }

func (l *Ledger) HasEnough(cost Cost) bool {
	for _, t := range cost.Types() {
		need, have := cost.Amount(t), l.amounts[t]
		if have < need {
			l.log.Printf("ledger: not enough %s: need=%d have=%d", t, need, have)
			return false
		}
	}
	return true
}

func (l *Ledger) Spend(cost Cost) {
	for _, t := range cost.Types() {
		l.amounts[t] -= cost.Amount(t)
	}
	l.publish()
}

func (l *Ledger) Earn(income Income) {
	for _, t := range income.Types() {
		if n := income.Amount(t); n != 0 {
			l.amounts[t] += n
		}
	}
	l.publish()
}

// Reset replaces every counter. Only game load restoration uses it.
func (l *Ledger) Reset(amounts map[ResourceType]int) {
	l.amounts = make(map[ResourceType]int, len(amounts))
	for t, n := range amounts {
		if t.Valid() {
			l.amounts[t] = n
		}
	}
	l.publish()
}

// Snapshot returns every non-sentinel type, defaulting absent ones to 0.
func (l *Ledger) Snapshot() map[ResourceType]int {
	out := make(map[ResourceType]int, len(ResourceTypes))
	for _, t := range ResourceTypes {
		out[t] = l.amounts[t]
	}
	return out
}

func (l *Ledger) publish() {
	if l.pub == nil {
		return
	}
	l.pub.Publish(ResourcesChanged{Snapshot: l.Snapshot()})
}
