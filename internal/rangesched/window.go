package rangesched

import (
	"time"

	"github.com/dagu-org/rangeload/internal/core"
)

// Range is the calendar window of one family against one target table.
type Range struct {
	Family core.Family
	// Table is the target table the markers are scoped to.
	Table string
	// Start is the inclusive lower bound. It is rounded up to the next
	// boundary of the family granularity when not aligned.
	Start time.Time
	// Stop is an optional exclusive upper bound. The effective bound is
	// the earlier of Stop and now truncated to the granularity.
	Stop time.Time
}

// Bounds returns the aligned half-open window [from, to) evaluated at now.
// from >= to means the window is empty.
func (r Range) Bounds(now time.Time) (from, to time.Time) {
	g, loc := r.Family.Granularity, r.Family.Loc()
	from = g.Ceil(r.Start, loc)
	to = g.Truncate(now, loc)
	if !r.Stop.IsZero() {
		if stop := g.Ceil(r.Stop, loc); stop.Before(to) {
			to = stop
		}
	}
	return from, to
}

// Candidates enumerates the instances of r at now in ascending time order.
// Instances whose identities coincide, as two wall-clock hours do when a
// zone falls back, are reported once.
func (r Range) Candidates(now time.Time) []core.Instance {
	from, to := r.Bounds(now)
	if !from.Before(to) {
		return nil
	}

	g := r.Family.Granularity
	seen := make(map[core.TaskIdentity]bool)
	var out []core.Instance
	for t := from; t.Before(to); t = g.Next(t) {
		inst := r.Family.Instance(t)
		if seen[inst.Identity] {
			continue
		}
		seen[inst.Identity] = true
		out = append(out, inst)
	}
	return out
}
