package manifest

import (
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

// Diff is the result of comparing two manifests, keyed strictly by
// identity hash and sorted by it.
type Diff struct {
	Creates []*Event
	Updates []*Event
	Deletes []*Event
}

func (d Diff) IsEmpty() bool {
	return len(d.Creates) == 0 && len(d.Updates) == 0 && len(d.Deletes) == 0
}

// Compare diffs next against current. Ordering differences alone never
// produce updates; only event state hash inequality does. Unmanaged
// events are never mutated or deleted, and an attempt by next to mark
// managed an identity that current holds as unmanaged is fatal: silent
// takeovers hide normalization regressions.
func Compare(next, current *Manifest) (Diff, error) {
	var diff Diff

	for _, id := range next.SortedIDs() {
		nextEv := next.Events[id]
		curEv := currentEvent(current, id)
		if curEv == nil {
			if nextEv.Ownership.Managed {
				diff.Creates = append(diff.Creates, nextEv)
			}
			continue
		}
		if !curEv.Ownership.Managed {
			if nextEv.Ownership.Managed {
				return Diff{}, syncerr.SafetyStop("refusing to take over unmanaged event",
					map[string]any{"id": id})
			}
			continue
		}
		if nextEv.StateHash != curEv.StateHash {
			diff.Updates = append(diff.Updates, nextEv)
		}
	}

	if current != nil {
		for _, id := range current.SortedIDs() {
			curEv := current.Events[id]
			if !curEv.Ownership.Managed {
				continue
			}
			if next == nil || next.Events[id] == nil {
				diff.Deletes = append(diff.Deletes, curEv)
			}
		}
	}
	return diff, nil
}

func currentEvent(m *Manifest, id string) *Event {
	if m == nil {
		return nil
	}
	return m.Events[id]
}
