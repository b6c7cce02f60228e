package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"citygrid.ai/internal/persistence/archive"
	persistlog "citygrid.ai/internal/persistence/log"
	"citygrid.ai/internal/persistence/snapshot"
	"citygrid.ai/internal/sim/catalogs"
	"citygrid.ai/internal/sim/tuning"
	"citygrid.ai/internal/sim/world"
	"citygrid.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "city_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite event/save index")
		loadOnBoot = flag.Bool("load", true, "restore the last save before serving")
		archiveOut = flag.Bool("archive_on_exit", true, "copy the final save into <world>/archives (file backend only)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	starting, err := tune.StartingVector()
	if err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	// Read-model index (does not affect the simulation).
	idx, err := openRuntimeIndex(worldDir, *worldID, *disableDB && tune.Storage.Backend != "sqlite")
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	store, err := openStorage(tune.Storage, worldDir, idx)
	if err != nil {
		logger.Fatalf("open storage: %v", err)
	}
	logger.Printf("storage backend=%s", tune.Storage.Backend)

	w, err := world.New(world.Config{
		ID:               *worldID,
		Width:            tune.Grid.Width,
		Height:           tune.Grid.Height,
		Starting:         starting,
		EconomyInterval:  tune.EconomyInterval(),
		AutosaveInterval: tune.AutosaveInterval(),
	}, cats, store, log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	journal := persistlog.NewEventLogger(worldDir, *worldID, logger)
	defer journal.Close()
	w.Bus().Subscribe(journal.Handle)
	if idx != nil {
		w.Bus().Subscribe(idx.Handle)
	}

	if *loadOnBoot {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		found, err := w.LoadNow(ctx)
		cancel()
		switch {
		case err != nil:
			logger.Fatalf("load: %v", err)
		case found:
			st, _ := w.Apply(world.StateCommand{})
			logger.Printf("resumed world=%s buildings=%d", *worldID, len(st.State.Buildings))
		default:
			logger.Printf("fresh world=%s grid=%dx%d", *worldID, tune.Grid.Width, tune.Grid.Height)
		}
	}

	wsSrv := ws.NewServer(w, ws.Options{
		CommandsPerSec: tune.RateLimits.CommandsPerSec,
		Burst:          tune.RateLimits.Burst,
	}, logger)

	router := newRouter(routerDeps{
		World:       w,
		WS:          wsSrv,
		Index:       idx,
		EnableAdmin: envBool("CG_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		Logger:      logger,
	})
	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := w.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if err := g.Wait(); err != nil {
		logger.Printf("shutdown: %v", err)
	}

	// The loop has exited, so the final save sees a quiescent world.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := w.SaveNow(ctx2); err != nil {
		logger.Printf("final save: %v", err)
		return
	}
	logger.Printf("final save ok")

	if fs, ok := store.(*snapshot.FileStore); ok && *archiveOut {
		if p, archived, err := archive.ArchiveSave(ctx2, worldDir, fs.Path, time.Now()); err != nil {
			logger.Printf("archive: %v", err)
		} else if archived {
			logger.Printf("archived final save to %s", p)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
