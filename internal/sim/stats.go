package sim

import "fmt"

// Counter tallies outcomes during a contention run.
type Counter struct {
	Attempts   int
	Held       int
	Committed  int
	Conflicted int
	RolledBack int
}

// Add records one pipeline outcome string (held, committed, conflicted,
// rolled_back); anything else counts as an attempt only.
func (c *Counter) Add(outcome string) {
	c.Attempts++
	switch outcome {
	case "held":
		c.Held++
	case "committed":
		c.Committed++
	case "conflicted":
		c.Conflicted++
	case "rolled_back":
		c.RolledBack++
	}
}

// Summary renders a one-line report.
func (c Counter) Summary() string {
	return fmt.Sprintf("attempts=%d committed=%d held=%d conflicted=%d rolled_back=%d",
		c.Attempts, c.Committed, c.Held, c.Conflicted, c.RolledBack)
}
