package sim

import (
	"math/rand"
	"strconv"

	"charterops.org/internal/records"
)

// Actor is a simulated dispatcher racing over shared records.
type Actor struct {
	ID   string
	Name string
}

// SeedRecord is a record the scenario pre-populates before the race starts.
type SeedRecord struct {
	Key        records.Key
	FiscalYear int
	EntityType string
	Fields     map[string]string
}

// Scenario bundles actors, contended records and edit narratives.
type Scenario struct {
	Name       string
	Actors     []Actor
	Records    []SeedRecord
	Narratives []string
}

// DispatchDeskScenario models a morning dispatch desk: three coordinators
// correcting the same day's invoices and receipts at once.
func DispatchDeskScenario() Scenario {
	mkInvoice := func(n int) SeedRecord {
		return SeedRecord{
			Key:        records.Key{Module: "invoicing", RecordType: "invoice", RecordID: "INV-2025-" + strconv.Itoa(1000+n)},
			FiscalYear: 2025,
			EntityType: "invoices",
			Fields: map[string]string{
				"amount":     strconv.Itoa(25000 + n*1375),
				"gst":        strconv.Itoa(1250 + n*68),
				"vendor":     "Cascade Charters Ltd",
				"charter_id": "CH-" + strconv.Itoa(400+n),
			},
		}
	}
	return Scenario{
		Name: "DispatchDeskContention",
		Actors: []Actor{
			{ID: "sim-dispatch-01", Name: "Morning dispatcher"},
			{ID: "sim-dispatch-02", Name: "Billing clerk"},
			{ID: "sim-dispatch-03", Name: "Operations manager"},
		},
		Records: []SeedRecord{mkInvoice(1), mkInvoice(2), mkInvoice(3), mkInvoice(4)},
		Narratives: []string{
			"fuel surcharge correction after carrier notice",
			"charter hours adjusted from driver log",
			"GST recalculation after rate change",
			"vendor renamed after amalgamation",
		},
	}
}

// Edit is one simulated mutation attempt.
type Edit struct {
	Actor     Actor
	Key       records.Key
	Fields    map[string]string
	Narrative string
}

// Generator produces random edits drawn from a scenario.
type Generator struct {
	scenario Scenario
	rnd      *rand.Rand
}

// NewGenerator seeds a deterministic generator for reproducible runs.
func NewGenerator(scenario Scenario, seed int64) Generator {
	return Generator{scenario: scenario, rnd: rand.New(rand.NewSource(seed))}
}

// Scenario returns the underlying scenario.
func (g Generator) Scenario() Scenario { return g.scenario }

// Next draws a random actor, record and single-field change.
func (g Generator) Next() Edit {
	actor := g.scenario.Actors[g.rnd.Intn(len(g.scenario.Actors))]
	rec := g.scenario.Records[g.rnd.Intn(len(g.scenario.Records))]
	amount := 10000 + g.rnd.Intn(90000)
	return Edit{
		Actor:     actor,
		Key:       rec.Key,
		Fields:    map[string]string{"amount": strconv.Itoa(amount)},
		Narrative: g.scenario.Narratives[g.rnd.Intn(len(g.scenario.Narratives))],
	}
}
