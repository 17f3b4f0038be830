package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorIsDeterministic(t *testing.T) {
	scenario := DispatchDeskScenario()
	a := NewGenerator(scenario, 42)
	b := NewGenerator(scenario, 42)

	for i := 0; i < 50; i++ {
		ea, eb := a.Next(), b.Next()
		require.Equal(t, ea.Actor.ID, eb.Actor.ID, "draw %d", i)
		require.Equal(t, ea.Key, eb.Key, "draw %d", i)
		require.Equal(t, ea.Fields, eb.Fields, "draw %d", i)
	}
}

func TestGeneratorDrawsFromScenario(t *testing.T) {
	scenario := DispatchDeskScenario()
	g := NewGenerator(scenario, 7)

	actorIDs := make(map[string]struct{})
	for _, a := range scenario.Actors {
		actorIDs[a.ID] = struct{}{}
	}
	recordIDs := make(map[string]struct{})
	for _, r := range scenario.Records {
		recordIDs[r.Key.RecordID] = struct{}{}
	}

	for i := 0; i < 100; i++ {
		e := g.Next()
		assert.Contains(t, actorIDs, e.Actor.ID)
		assert.Contains(t, recordIDs, e.Key.RecordID)
		assert.Contains(t, e.Fields, "amount")
		assert.NotEmpty(t, e.Narrative)
	}
}

func TestCounterTalliesOutcomes(t *testing.T) {
	var c Counter
	for _, o := range []string{"committed", "committed", "held", "conflicted", "rolled_back", "denied"} {
		c.Add(o)
	}
	assert.Equal(t, 6, c.Attempts)
	assert.Equal(t, 2, c.Committed)
	assert.Equal(t, 1, c.Held)
	assert.Equal(t, 1, c.Conflicted)
	assert.Equal(t, 1, c.RolledBack)
	assert.Equal(t, "attempts=6 committed=2 held=1 conflicted=1 rolled_back=1", c.Summary())
}
