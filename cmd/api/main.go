package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"charterops.org/internal/access"
	"charterops.org/internal/audit"
	"charterops.org/internal/config"
	"charterops.org/internal/httpapi"
	"charterops.org/internal/obs"
	"charterops.org/internal/period"
	"charterops.org/internal/reclock"
	"charterops.org/internal/records"
	"charterops.org/internal/staging"
	"charterops.org/internal/store/pg"
	"charterops.org/internal/store/sqlite"
	"charterops.org/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("CHARTEROPS_CONFIG"), "Path to config file")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	var (
		accessStore  access.Store
		auditStore   audit.Store
		lockStore    reclock.Store
		stagingStore staging.Store
		recordStore  records.Store
		periodStore  period.Store
		ready        httpapi.ReadyProbe
		closeStore   func() error
	)

	switch cfg.Store.Engine {
	case "postgres":
		store, err := pg.Open(cfg.Store.DSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		accessStore = store.Access()
		auditStore = store.Audit()
		lockStore = store.Locks()
		stagingStore = store.StagedEdits()
		recordStore = store.Records()
		periodStore = store.Periods()
		ready = httpapi.ReadyProbe{DB: store.DB()}
		closeStore = store.Close
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Store.Path)
		if err != nil {
			log.Fatalf("open sqlite: %v", err)
		}
		accessStore = store.Access()
		auditStore = store.Audit()
		lockStore = store.Locks()
		stagingStore = store.StagedEdits()
		recordStore = store.Records()
		periodStore = store.Periods()
		ready = httpapi.ReadyProbe{DB: store.DB()}
		closeStore = store.Close
	case "memory":
		accessStore = access.NewInMemory()
		auditStore = audit.NewInMemory()
		lockStore = reclock.NewInMemory()
		stagingStore = staging.NewInMemory()
		recordStore = records.NewInMemory()
		periodStore = period.NewInMemory()
		closeStore = func() error { return nil }
	default:
		log.Fatalf("unknown store engine %q", cfg.Store.Engine)
	}

	recorder, err := audit.NewRecorder(auditStore)
	if err != nil {
		log.Fatalf("audit recorder: %v", err)
	}
	gate := access.NewGate(accessStore)
	accessSvc, err := access.NewService(accessStore)
	if err != nil {
		log.Fatalf("access service: %v", err)
	}
	tokens := access.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	periods, err := period.NewManager(periodStore, recorder)
	if err != nil {
		log.Fatalf("period manager: %v", err)
	}
	guarded := records.NewGuarded(recordStore, periods)
	locks, err := reclock.NewManager(lockStore, recorder, reclock.WithTTL(cfg.Locks.TTL))
	if err != nil {
		log.Fatalf("lock manager: %v", err)
	}
	stager, err := staging.NewManager(stagingStore, guarded, gate, periods, locks, recorder)
	if err != nil {
		log.Fatalf("staging manager: %v", err)
	}
	events := stream.New()

	api := httpapi.New(httpapi.Deps{
		Gate:    gate,
		Access:  accessSvc,
		Tokens:  tokens,
		Staging: stager,
		Locks:   locks,
		Periods: periods,
		Records: guarded,
		Audit:   auditStore,
		Events:  events,
		Ready:   ready,
		HTTP:    cfg.HTTP,
		Version: version,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Lock rows expire lazily; the sweeper only reclaims storage.
	sweepDone := make(chan struct{})
	if cfg.Locks.SweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Locks.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-sweepDone:
					return
				case <-ticker.C:
					if n, err := locks.Sweep(ctx); err != nil {
						log.Printf("lock sweep: %v", err)
					} else if n > 0 {
						log.Printf("lock sweep reclaimed %d rows", n)
					}
				}
			}
		}()
	}

	log.Printf("Starting charterops-api %s on %s (store=%s)", version, srv.Addr, cfg.Store.Engine)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	close(sweepDone)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if err := closeStore(); err != nil {
		log.Printf("close store: %v", err)
	}
	log.Println("Stopped")
}
