package world

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"citygrid.ai/internal/persistence/snapshot"
	"citygrid.ai/internal/sim/city"
)

type testCatalog map[city.StructureType]city.StructureDef

func (c testCatalog) Lookup(t city.StructureType) (city.StructureDef, bool) {
	d, ok := c[t]
	return d, ok
}

func newCatalog() testCatalog {
	gold := func(n int) city.Vector { return city.MustVector(map[city.ResourceType]int{city.Gold: n}) }
	return testCatalog{
		city.House: {Type: city.House, Levels: []city.LevelSpec{
			{Level: 1, Cost: gold(100), Income: gold(1)},
			{Level: 2, Cost: gold(150), Income: gold(3)},
		}},
	}
}

func newTestWorld(t *testing.T, store city.Storage, mod func(*Config)) *World {
	t.Helper()
	cfg := Config{
		ID:              "test",
		Width:           8,
		Height:          8,
		Starting:        city.MustVector(map[city.ResourceType]int{city.Gold: 1000}),
		EconomyInterval: time.Hour,
	}
	if mod != nil {
		mod(&cfg)
	}
	w, err := New(cfg, newCatalog(), store, nil)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

// runWorld starts the loop and returns a stop func that waits for Run.
func runWorld(t *testing.T, w *World) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	var stopped bool
	var err error
	stop = func() error {
		if !stopped {
			stopped = true
			cancel()
			err = <-done
		}
		return err
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func submit(t *testing.T, w *World, cmd Command) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := w.Submit(ctx, cmd)
	if err != nil {
		t.Fatalf("%s: %v", cmd.Name(), err)
	}
	return res
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_Validates(t *testing.T) {
	if _, err := New(Config{Width: 0, Height: 4}, newCatalog(), nil, nil); err == nil {
		t.Fatalf("zero width should fail")
	}
	if _, err := New(Config{Width: 4, Height: 4}, nil, nil, nil); err == nil {
		t.Fatalf("nil catalog should fail")
	}
}

func TestWorld_SubmitPlaceAndState(t *testing.T) {
	w := newTestWorld(t, nil, nil)

	var seen []string
	w.Bus().Subscribe(func(env city.Envelope) { seen = append(seen, env.Event.EventType()) })

	stop := runWorld(t, w)

	res := submit(t, w, PlaceCommand{Type: city.House, Pos: city.GridPos{X: 1, Y: 1}})
	placed, ok := res.Event.(city.BuildingPlaced)
	if !ok {
		t.Fatalf("event=%#v", res.Event)
	}
	res = submit(t, w, PlaceCommand{Type: city.House, Pos: city.GridPos{X: 1, Y: 1}})
	if f, ok := res.Event.(city.BuildingPlacementFailed); !ok || f.Reason != city.PlacementCellIsOccupied {
		t.Fatalf("event=%#v", res.Event)
	}

	st := submit(t, w, StateCommand{}).State
	if st == nil || len(st.Buildings) != 1 || st.Buildings[0].ID != placed.ID || st.Buildings[0].MaxLevel != 2 {
		t.Fatalf("state=%+v", st)
	}
	if st.Resources[city.Gold] != 900 || st.Width != 8 || st.WorldID != "test" {
		t.Fatalf("state=%+v", st)
	}

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	want := []string{city.EventResourcesChanged, city.EventPlacementSuccess, city.EventPlacementFailure}
	if len(seen) != len(want) {
		t.Fatalf("events=%v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("events=%v want %v", seen, want)
		}
	}

	m := w.Metrics()
	if m.Commands != 3 || m.Failures != 1 || m.Structures != 1 || m.Resources[city.Gold] != 900 {
		t.Fatalf("metrics=%+v", m)
	}

	if _, err := w.Submit(context.Background(), StateCommand{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("submit after stop: %v", err)
	}
}

func TestWorld_SaveLoadThroughLoop(t *testing.T) {
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "gamestate.json"))
	w := newTestWorld(t, store, nil)
	runWorld(t, w)

	if res := submit(t, w, LoadCommand{}); res.Found {
		t.Fatalf("empty slot should not be found")
	}

	first := submit(t, w, PlaceCommand{Type: city.House, Pos: city.GridPos{X: 0, Y: 0}}).Event.(city.BuildingPlaced)
	if res := submit(t, w, SaveCommand{}); res.Saved != 1 {
		t.Fatalf("saved=%d", res.Saved)
	}

	submit(t, w, PlaceCommand{Type: city.House, Pos: city.GridPos{X: 2, Y: 2}})
	submit(t, w, UpgradeCommand{ID: first.ID})

	res := submit(t, w, LoadCommand{})
	if !res.Found || res.Restored != 1 || res.Skipped != 0 {
		t.Fatalf("load=%+v", res)
	}
	st := submit(t, w, StateCommand{}).State
	if len(st.Buildings) != 1 || st.Buildings[0].ID != first.ID || st.Buildings[0].Level != 1 {
		t.Fatalf("state=%+v", st)
	}
	if st.Resources[city.Gold] != 900 {
		t.Fatalf("gold=%d", st.Resources[city.Gold])
	}
	if m := w.Metrics(); m.Saves != 1 || m.Structures != 1 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestWorld_SaveNowLoadNow(t *testing.T) {
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "gamestate.snap.zst"))
	a := newTestWorld(t, store, nil)
	if _, err := a.Apply(PlaceCommand{Type: city.House, Pos: city.GridPos{X: 3, Y: 3}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := a.SaveNow(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}

	b := newTestWorld(t, store, nil)
	found, err := b.LoadNow(context.Background())
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	res, _ := b.Apply(StateCommand{})
	if len(res.State.Buildings) != 1 || res.State.Buildings[0].Pos != (city.GridPos{X: 3, Y: 3}) {
		t.Fatalf("state=%+v", res.State)
	}
	if res.State.Resources[city.Gold] != 900 {
		t.Fatalf("gold=%d", res.State.Resources[city.Gold])
	}
}

func TestWorld_EconomyTicks(t *testing.T) {
	w := newTestWorld(t, nil, func(c *Config) { c.EconomyInterval = 5 * time.Millisecond })
	if _, err := w.Apply(PlaceCommand{Type: city.House, Pos: city.GridPos{X: 0, Y: 0}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	runWorld(t, w)
	waitFor(t, "income", func() bool { return w.Metrics().Resources[city.Gold] >= 902 })
	if w.Metrics().EconomyTicks == 0 {
		t.Fatalf("no economy ticks recorded")
	}
}

func TestWorld_StepEconomyWithoutStructures(t *testing.T) {
	w := newTestWorld(t, nil, nil)
	var n int
	w.Bus().Subscribe(func(city.Envelope) { n++ })
	if inc := w.StepEconomy(); !inc.IsZero() {
		t.Fatalf("income=%s", inc)
	}
	if n != 0 {
		t.Fatalf("a zero tick must not publish, got %d events", n)
	}
}

func TestWorld_Autosave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gamestate.json")
	w := newTestWorld(t, snapshot.NewFileStore(path), func(c *Config) { c.AutosaveInterval = 5 * time.Millisecond })
	runWorld(t, w)
	waitFor(t, "autosave", func() bool { return w.Metrics().Saves > 0 })

	snap, err := snapshot.ReadJSON(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(snap.Resources) != len(city.ResourceTypes) {
		t.Fatalf("resources=%+v", snap.Resources)
	}
}

type blockingStore struct {
	entered chan struct{}
	release chan struct{}
	saved   atomic.Int32
}

func (s *blockingStore) Save(ctx context.Context, _ snapshot.GameStateV1) error {
	close(s.entered)
	<-s.release
	s.saved.Add(1)
	return nil
}

func (s *blockingStore) Load(context.Context) (snapshot.GameStateV1, bool, error) {
	return snapshot.GameStateV1{}, false, nil
}

func TestWorld_StopWaitsForQueuedSave(t *testing.T) {
	store := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}
	w := newTestWorld(t, store, nil)
	stop := runWorld(t, w)

	type out struct {
		res Result
		err error
	}
	saveDone := make(chan out, 1)
	go func() {
		res, err := w.Submit(context.Background(), SaveCommand{})
		saveDone <- out{res, err}
	}()
	<-store.entered

	stopped := make(chan error, 1)
	go func() { stopped <- stop() }()
	select {
	case <-stopped:
		t.Fatalf("run returned while a save was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	if err := <-stopped; !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	got := <-saveDone
	if got.err != nil || store.saved.Load() != 1 {
		t.Fatalf("save err=%v saved=%d", got.err, store.saved.Load())
	}
}

func TestWorld_SaveWithoutStorageFails(t *testing.T) {
	w := newTestWorld(t, nil, nil)
	runWorld(t, w)
	if _, err := w.Submit(context.Background(), SaveCommand{}); err == nil {
		t.Fatalf("expected error")
	}
	waitFor(t, "save error metric", func() bool { return w.Metrics().SaveErrors == 1 })
}
