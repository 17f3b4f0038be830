package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"charterops.org/internal/access"
	"charterops.org/internal/audit"
	"charterops.org/internal/period"
	"charterops.org/internal/reclock"
	"charterops.org/internal/records"
	"charterops.org/internal/sim"
	"charterops.org/internal/staging"
)

var (
	simOps  int
	simSeed int64
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run a local contention simulation",
	Long:  `sim races simulated coordinators over shared records in memory and reports how many edits committed, were held off by locks, or conflicted.`,
	RunE:  runSim,
}

func init() {
	simCmd.Flags().IntVar(&simOps, "ops", 200, "number of edit attempts")
	simCmd.Flags().Int64Var(&simSeed, "seed", time.Now().UnixNano(), "random seed")
	rootCmd.AddCommand(simCmd)
}

// runSim wires a fully in-memory stack, so it never touches the configured
// store.
func runSim(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	accessStore := access.NewInMemory()
	auditStore := audit.NewInMemory()
	recStore := records.NewInMemory()

	recorder, err := audit.NewRecorder(auditStore)
	if err != nil {
		return err
	}
	gate := access.NewGate(accessStore)
	periods, err := period.NewManager(period.NewInMemory(), recorder)
	if err != nil {
		return err
	}
	guarded := records.NewGuarded(recStore, periods)
	locks, err := reclock.NewManager(reclock.NewInMemory(), recorder)
	if err != nil {
		return err
	}
	stager, err := staging.NewManager(staging.NewInMemory(), guarded, gate, periods, locks, recorder)
	if err != nil {
		return err
	}

	scenario := sim.DispatchDeskScenario()
	if err := seedScenario(ctx, accessStore, recStore, scenario); err != nil {
		return err
	}

	gen := sim.NewGenerator(scenario, simSeed)
	rnd := rand.New(rand.NewSource(simSeed + 1))
	var counter sim.Counter

	for i := 0; i < simOps; i++ {
		edit := gen.Next()
		res, err := stager.Stage(ctx, edit.Actor.ID, edit.Key, edit.Fields)
		if err != nil {
			return fmt.Errorf("stage: %w", err)
		}
		if res.Outcome != staging.OutcomeStaged {
			counter.Add(string(res.Outcome))
			continue
		}

		// Occasionally let "someone else" slip a write in, forcing the
		// commit down the conflict path.
		if rnd.Intn(100) < 15 {
			if rec, err := recStore.Get(ctx, edit.Key); err == nil {
				rec.Fields["amount"] = "0"
				rec.Version++
				rec.UpdatedBy = "sim-external"
				recStore.Put(rec)
			}
		}

		if rnd.Intn(100) < 10 {
			out, err := stager.Rollback(ctx, res.Edit.ID)
			if err != nil {
				return fmt.Errorf("rollback: %w", err)
			}
			counter.Add(string(out.Outcome))
			continue
		}

		out, err := stager.Commit(ctx, res.Edit.ID)
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		counter.Add(string(out.Outcome))
	}

	fmt.Printf("%s: %s\n", scenario.Name, counter.Summary())
	fmt.Printf("audit entries written: %d\n", auditStore.Len())
	return nil
}

// seedScenario provisions actor accounts with an editing role and the
// contended records.
func seedScenario(ctx context.Context, store access.Store, recStore *records.InMemory, scenario sim.Scenario) error {
	now := time.Now().UTC()
	role := &access.Role{
		ID:   "sim-role-editor",
		Name: "sim-editor",
		Permissions: []access.Permission{
			{Module: "invoicing", Action: access.ActionView},
			{Module: "invoicing", Action: access.ActionEdit},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Roles(ctx).Create(ctx, role); err != nil {
		return err
	}
	for _, actor := range scenario.Actors {
		acct := &access.Account{
			ID:        actor.ID,
			Name:      actor.Name,
			Email:     actor.ID + "@sim.local",
			Status:    access.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := store.Accounts(ctx).Create(ctx, acct); err != nil {
			return err
		}
		if err := store.Roles(ctx).Assign(ctx, actor.ID, role.ID); err != nil {
			return err
		}
	}
	for _, seed := range scenario.Records {
		rec := records.Record{
			Key:        seed.Key,
			FiscalYear: seed.FiscalYear,
			EntityType: seed.EntityType,
			Fields:     seed.Fields,
			UpdatedBy:  "sim-seed",
			UpdatedAt:  now,
		}
		if err := recStore.Create(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
