package reconcile

import (
	"sort"

	"github.com/sonroyaalmerol/schedsync/internal/core/identity"
	"github.com/sonroyaalmerol/schedsync/internal/core/manifest"
)

// inferReplacements detects the edit-in-place pattern: one side renamed
// or re-dated an event, producing a new identity there while the stale
// identity lingers on the other side. Two identities pair when their
// replacement signatures match; the side whose copy is older receives
// an inferred tombstone at its snapshot epoch, so absence wins for the
// stale identity without waiting for an explicit delete.
//
// The signature deliberately excludes every date field: a moved event
// must still pair with the copy holding its old dates.
func inferReplacements(in Inputs) Tombstones {
	tombs := in.Tombstones.clone()

	calOnly := exclusiveIDs(in.Cal, in.Sched)
	schedOnly := exclusiveIDs(in.Sched, in.Cal)
	if len(calOnly) == 0 || len(schedOnly) == 0 {
		return tombs
	}

	schedBySig := make(map[string][]string)
	for _, id := range schedOnly {
		sig := replacementSignature(in.Sched.Events[id])
		if sig != "" {
			schedBySig[sig] = append(schedBySig[sig], id)
		}
	}

	for _, calID := range calOnly {
		calEv := in.Cal.Events[calID]
		sig := replacementSignature(calEv)
		candidates := schedBySig[sig]
		if sig == "" || len(candidates) == 0 {
			continue
		}
		schedID := candidates[0]
		schedBySig[sig] = candidates[1:]
		schedEv := in.Sched.Events[schedID]

		calUpd := updatedAt(in.CalUpdatedAt, calEv)
		schedUpd := updatedAt(in.SchedUpdatedAt, schedEv)
		if schedUpd <= calUpd {
			// Scheduler copy is the stale one: the calendar replaced it.
			tombs.Set(SourceCalendar, schedID, maxEpoch(tombs, SourceCalendar, schedID, in.CalSnapshotEpoch))
		} else {
			tombs.Set(SourceScheduler, calID, maxEpoch(tombs, SourceScheduler, calID, in.SchedSnapshotEpoch))
		}
	}
	return tombs
}

func maxEpoch(t Tombstones, src Source, id string, epoch int64) int64 {
	if existing, ok := t.Get(src, id); ok && existing > epoch {
		return existing
	}
	return epoch
}

// replacementSignature hashes the date-free identity core: type,
// target, all-day flag, canonical start and end times, canonical days.
func replacementSignature(ev *manifest.Event) string {
	if ev == nil {
		return ""
	}
	timing, _ := ev.Identity["timing"].(map[string]any)
	if timing == nil {
		return ""
	}
	sig := map[string]any{
		"all_day":    allDayOf(ev),
		"days":       timing["days"],
		"end_time":   timing["end_time"],
		"start_time": timing["start_time"],
		"target":     ev.Identity["target"],
		"type":       ev.Identity["type"],
	}
	hash, err := identity.Hash(sig)
	if err != nil {
		return ""
	}
	return hash
}

func allDayOf(ev *manifest.Event) bool {
	for _, sub := range ev.SubEvents {
		if v, ok := sub.Payload["all_day"].(bool); ok && v {
			return true
		}
	}
	return false
}

func exclusiveIDs(have, lack *manifest.Manifest) []string {
	var ids []string
	for id := range have.Events {
		if lack.Events[id] == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
