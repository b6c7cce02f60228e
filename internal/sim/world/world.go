package world

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"citygrid.ai/internal/persistence/snapshot"
	"citygrid.ai/internal/sim/city"
)

var (
	ErrStopped       = errors.New("world stopped")
	ErrSaveQueueFull = errors.New("save queue full")
	ErrLoadInFlight  = errors.New("load already in progress")
)

type Config struct {
	ID string

	Width  int
	Height int

	Starting city.Vector

	EconomyInterval time.Duration
	// AutosaveInterval of 0 disables autosave.
	AutosaveInterval time.Duration
}

// World is the session: it owns the registry, ledger and every component
// allowed to mutate them. All mutation happens on the Run goroutine.
type World struct {
	cfg     Config
	log     *log.Logger
	catalog city.Catalog

	bus    *city.Bus
	reg    *city.Registry
	ledger *city.Ledger
	procs  *city.Processors
	econ   *city.Economy
	coord  *city.Coordinator

	inbox    chan request
	loadDone chan loadResult
	saves    chan saveJob
	stopped  chan struct{}

	loading bool

	metrics   counters
	resources atomic.Pointer[map[city.ResourceType]int]
	lastLoad  city.RestoreReport
}

type request struct {
	cmd  Command
	resp chan response
}

type response struct {
	res Result
	err error
}

type saveJob struct {
	snap  snapshot.GameStateV1
	reply chan response
	auto  bool
}

type loadResult struct {
	snap  snapshot.GameStateV1
	found bool
	err   error
	reply chan response
}

func New(cfg Config, catalog city.Catalog, store city.Storage, logger *log.Logger) (*World, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("world: grid must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.EconomyInterval <= 0 {
		cfg.EconomyInterval = time.Second
	}
	if catalog == nil {
		return nil, fmt.Errorf("world: nil catalog")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	w := &World{
		cfg:      cfg,
		log:      logger,
		catalog:  catalog,
		bus:      city.NewBus(),
		inbox:    make(chan request, 1024),
		loadDone: make(chan loadResult, 1),
		saves:    make(chan saveJob, 2),
		stopped:  make(chan struct{}),
	}
	w.reg = city.NewRegistry(cfg.Width, cfg.Height)
	w.ledger = city.NewLedger(cfg.Starting, w.bus, logger)
	w.procs = city.NewProcessors(w.reg, w.ledger, catalog, w.bus, logger)
	w.econ = city.NewEconomy(w.reg, w.ledger)
	w.coord = city.NewCoordinator(w.reg, w.ledger, store, w.bus, logger)

	start := w.ledger.Snapshot()
	w.resources.Store(&start)

	// The loaded-state consumer: rebuild registry and ledger from the snapshot.
	w.bus.Subscribe(func(env city.Envelope) {
		switch ev := env.Event.(type) {
		case city.GameStateLoaded:
			w.lastLoad = w.coord.Restore(ev.Snapshot, w.catalog)
			w.metrics.structures.Store(int64(w.reg.Len()))
		case city.ResourcesChanged:
			snap := ev.Snapshot
			w.resources.Store(&snap)
		}
	})
	return w, nil
}

func (w *World) ID() string { return w.cfg.ID }

// Bus is exposed for journal, index and transport subscribers.
func (w *World) Bus() *city.Bus { return w.bus }

// Run is the simulation loop. Cancelling ctx stops economy ticks and
// autosaves; queued saves still complete before Run returns.
func (w *World) Run(ctx context.Context) error {
	econ := time.NewTicker(w.cfg.EconomyInterval)
	defer econ.Stop()

	var autosave <-chan time.Time
	if w.cfg.AutosaveInterval > 0 {
		t := time.NewTicker(w.cfg.AutosaveInterval)
		defer t.Stop()
		autosave = t.C
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.saveWriter(context.WithoutCancel(ctx))
	}()
	defer func() {
		close(w.saves)
		wg.Wait()
		close(w.stopped)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.inbox:
			w.handle(ctx, req)
		case <-econ.C:
			w.StepEconomy()
		case <-autosave:
			w.enqueueSave(saveJob{snap: w.coord.Capture(), auto: true})
		case r := <-w.loadDone:
			w.finishLoad(r)
		}
	}
}

// Submit hands cmd to the loop and waits for its result. Save and Load reply
// once their I/O finishes.
func (w *World) Submit(ctx context.Context, cmd Command) (Result, error) {
	select {
	case <-w.stopped:
		return Result{}, ErrStopped
	default:
	}
	resp := make(chan response, 1)
	select {
	case w.inbox <- request{cmd: cmd, resp: resp}:
	case <-w.stopped:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.res, r.err
	case <-w.stopped:
		// Queued saves have answered by now; anything else was never handled.
		select {
		case r := <-resp:
			return r.res, r.err
		default:
			return Result{}, ErrStopped
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// StepEconomy runs one economy tick. Call it only from the loop or while the
// loop is not running.
func (w *World) StepEconomy() city.Income {
	inc := w.econ.Tick()
	w.metrics.economyTicks.Add(1)
	return inc
}

// LoadNow restores the saved game synchronously. Use it before Run starts.
func (w *World) LoadNow(ctx context.Context) (bool, error) {
	return w.coord.Load(ctx)
}

// SaveNow writes the current state synchronously. Use it after Run returns.
func (w *World) SaveNow(ctx context.Context) error {
	err := w.coord.Save(ctx)
	w.recordSave(err)
	return err
}

func (w *World) enqueueSave(job saveJob) {
	select {
	case w.saves <- job:
	default:
		if job.auto {
			w.log.Printf("autosave: skipped, previous save still in progress")
			return
		}
		if job.reply != nil {
			job.reply <- response{err: ErrSaveQueueFull}
		}
	}
}

func (w *World) saveWriter(ctx context.Context) {
	for job := range w.saves {
		err := w.coord.Store(ctx, job.snap)
		w.recordSave(err)
		if err != nil {
			w.log.Printf("save: %v", err)
		}
		if job.reply != nil {
			job.reply <- response{res: Result{Saved: len(job.snap.Buildings)}, err: err}
		}
	}
}

func (w *World) recordSave(err error) {
	if err != nil {
		w.metrics.saveErrors.Add(1)
		return
	}
	w.metrics.saves.Add(1)
}

func (w *World) startLoad(ctx context.Context, reply chan response) {
	if w.loading {
		reply <- response{err: ErrLoadInFlight}
		return
	}
	w.loading = true
	go func() {
		snap, found, err := w.coord.Fetch(ctx)
		select {
		case w.loadDone <- loadResult{snap: snap, found: found, err: err, reply: reply}:
		case <-w.stopped:
			reply <- response{err: ErrStopped}
		}
	}()
}

func (w *World) finishLoad(r loadResult) {
	w.loading = false
	if r.err != nil || !r.found {
		r.reply <- response{res: Result{Found: false}, err: r.err}
		return
	}
	w.coord.Announce(r.snap)
	r.reply <- response{res: Result{Found: true, Restored: w.lastLoad.Restored, Skipped: w.lastLoad.Skipped}}
}
