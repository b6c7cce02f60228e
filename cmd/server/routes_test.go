package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"citygrid.ai/internal/persistence/snapshot"
	"citygrid.ai/internal/sim/catalogs"
	"citygrid.ai/internal/sim/city"
	"citygrid.ai/internal/sim/tuning"
	"citygrid.ai/internal/sim/world"
)

func findRepoRootForServerTests(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

func newTestServerWorld(t *testing.T) (*world.World, string) {
	t.Helper()
	root := findRepoRootForServerTests(t)
	cats, err := catalogs.Load(filepath.Join(root, "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	savePath := filepath.Join(t.TempDir(), "gamestate.snap.zst")
	w, err := world.New(world.Config{
		ID:              "city_test",
		Width:           16,
		Height:          16,
		Starting:        city.MustVector(map[city.ResourceType]int{city.Gold: 1000, city.Wood: 500}),
		EconomyInterval: time.Hour,
	}, cats, snapshot.NewFileStore(savePath), nil)
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
	return w, savePath
}

func TestRouter_HealthzAndMetrics(t *testing.T) {
	w, _ := newTestServerWorld(t)
	h := newRouter(routerDeps{World: w, EnableAdmin: true})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		`citygrid_commands_total{world="city_test"}`,
		`citygrid_resources{world="city_test",resource="Gold"} 1000`,
		`citygrid_structures{world="city_test"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestRouter_AdminIsLoopbackOnly(t *testing.T) {
	w, _ := newTestServerWorld(t)
	h := newRouter(routerDeps{World: w, EnableAdmin: true})

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("remote admin status=%d want 403", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("loopback admin status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		State struct {
			WorldID string         `json:"world_id"`
			Grid    map[string]int `json:"grid"`
		} `json:"state"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State.WorldID != "city_test" || resp.State.Grid["width"] != 16 {
		t.Fatalf("unexpected state: %+v", resp.State)
	}
}

func TestRouter_AdminSaveThenLoad(t *testing.T) {
	w, savePath := newTestServerWorld(t)
	h := newRouter(routerDeps{World: w, EnableAdmin: true})

	if _, err := w.Submit(context.Background(), world.PlaceCommand{Type: city.House, Pos: city.GridPos{X: 2, Y: 3}}); err != nil {
		t.Fatalf("place: %v", err)
	}

	post := func(path string) map[string]any {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "127.0.0.1:4000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body.String())
		}
		var m map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return m
	}

	if m := post("/admin/v1/save"); m["ok"] != true || m["saved"] != float64(1) {
		t.Fatalf("save: %v", m)
	}
	if _, err := os.Stat(savePath); err != nil {
		t.Fatalf("save file missing: %v", err)
	}
	if m := post("/admin/v1/load"); m["found"] != true || m["restored"] != float64(1) {
		t.Fatalf("load: %v", m)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/save", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET save status=%d want 405", rr.Code)
	}
}

func TestRouter_AdminDisabled(t *testing.T) {
	w, _ := newTestServerWorld(t)
	h := newRouter(routerDeps{World: w, EnableAdmin: false})
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()
	s, err := openStorage(tuningStorage("file", "slot.json"), dir, nil)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	fs, ok := s.(*snapshot.FileStore)
	if !ok || fs.Path != filepath.Join(dir, "slot.json") {
		t.Fatalf("unexpected file store: %#v", s)
	}
	if _, err := openStorage(tuningStorage("sqlite", ""), dir, nil); err == nil {
		t.Fatalf("sqlite without index should fail")
	}
	if _, err := openStorage(tuningStorage("s3", ""), dir, nil); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}

func tuningStorage(backend, path string) tuning.Storage {
	return tuning.Storage{Backend: backend, Path: path, AppName: "citygrid"}
}
