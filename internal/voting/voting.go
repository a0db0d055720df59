// Package voting implements the process-wide "any-true" aggregator
// (spec.md §4.5, §2 "Output Voting Helpers") used by the alarm processor's
// external-alarm OR-fan-in. There is no "any-false" aggregator. A single
// process-wide lock protects the aggregator map (spec.md §5
// "Shared-resource policy"); callers create
// one Aggregator at startup and pass it explicitly to every processor that
// needs it (Design Note "Singletons").
package voting

import "sync"

// Aggregator tracks, per target point, which source ids currently assert
// true. The target's output is the OR of all of its sources.
type Aggregator struct {
	mu      sync.Mutex
	sources map[string]map[string]bool // targetPointID -> sourceID -> asserted
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{sources: make(map[string]map[string]bool)}
}

// Set records whether sourceID currently asserts true for targetPointID and
// returns the OR of every source currently registered against that target.
func (a *Aggregator) Set(targetPointID, sourceID string, asserted bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.sources[targetPointID]
	if !ok {
		m = make(map[string]bool)
		a.sources[targetPointID] = m
	}
	if asserted {
		m[sourceID] = true
	} else {
		delete(m, sourceID)
	}
	return len(m) > 0
}

// Clear removes every source sourceID has registered against any target, so
// stale sources cannot keep a target latched. No processor calls it; an
// alarm's sources are released only through Set with asserted=false.
func (a *Aggregator) Clear(sourceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for target, m := range a.sources {
		delete(m, sourceID)
		if len(m) == 0 {
			delete(a.sources, target)
		}
	}
}
