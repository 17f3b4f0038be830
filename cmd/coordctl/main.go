// coordctl is the operator CLI for the coordination service: period lock
// administration, lock/audit maintenance and a local contention simulator.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"charterops.org/internal/access"
	"charterops.org/internal/audit"
	"charterops.org/internal/config"
	"charterops.org/internal/period"
	"charterops.org/internal/reclock"
	"charterops.org/internal/records"
	"charterops.org/internal/staging"
	"charterops.org/internal/store/pg"
	"charterops.org/internal/store/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "coordctl",
	Short:        "Operate the record coordination service",
	Long:         `coordctl administers period locks, sweeps expired record locks, tails the audit trail and runs local contention simulations.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CHARTEROPS_CONFIG"), "path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env bundles the wired stores and managers for one command invocation.
type env struct {
	accessStore  access.Store
	auditStore   audit.Store
	lockStore    reclock.Store
	stagingStore staging.Store
	recordStore  records.Store
	periodStore  period.Store

	recorder *audit.Recorder
	gate     *access.Gate
	periods  *period.Manager
	locks    *reclock.Manager

	close func() error
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	e := &env{close: func() error { return nil }}
	switch cfg.Store.Engine {
	case "postgres":
		store, err := pg.Open(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		e.accessStore = store.Access()
		e.auditStore = store.Audit()
		e.lockStore = store.Locks()
		e.stagingStore = store.StagedEdits()
		e.recordStore = store.Records()
		e.periodStore = store.Periods()
		e.close = store.Close
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		e.accessStore = store.Access()
		e.auditStore = store.Audit()
		e.lockStore = store.Locks()
		e.stagingStore = store.StagedEdits()
		e.recordStore = store.Records()
		e.periodStore = store.Periods()
		e.close = store.Close
	case "memory":
		e.accessStore = access.NewInMemory()
		e.auditStore = audit.NewInMemory()
		e.lockStore = reclock.NewInMemory()
		e.stagingStore = staging.NewInMemory()
		e.recordStore = records.NewInMemory()
		e.periodStore = period.NewInMemory()
	default:
		return nil, fmt.Errorf("unknown store engine %q", cfg.Store.Engine)
	}

	if e.recorder, err = audit.NewRecorder(e.auditStore); err != nil {
		return nil, err
	}
	e.gate = access.NewGate(e.accessStore)
	if e.periods, err = period.NewManager(e.periodStore, e.recorder); err != nil {
		return nil, err
	}
	if e.locks, err = reclock.NewManager(e.lockStore, e.recorder, reclock.WithTTL(cfg.Locks.TTL)); err != nil {
		return nil, err
	}
	return e, nil
}
