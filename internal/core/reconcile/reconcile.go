// Package reconcile merges the calendar-derived, scheduler-derived,
// and last-applied manifests into a target manifest plus the minimum
// set of directional actions that converges both sides on it.
package reconcile

import (
	"sort"

	"github.com/sonroyaalmerol/schedsync/internal/core/manifest"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

// Source names a reconciliation side.
type Source string

const (
	SourceCalendar  Source = "calendar"
	SourceScheduler Source = "scheduler"
)

// SyncMode selects the reconciliation direction.
type SyncMode string

const (
	ModeBoth       SyncMode = "both"
	ModeCalToSched SyncMode = "cal-to-sched"
	ModeSchedToCal SyncMode = "sched-to-cal"
)

// ActionType classifies a planned step.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
	ActionNoop   ActionType = "noop"
	ActionBlock  ActionType = "block"
)

// Action is one directional step of the plan.
type Action struct {
	Type         ActionType      `json:"type"`
	Target       Source          `json:"target"`
	Authority    Source          `json:"authority"`
	IdentityHash string          `json:"identity_hash"`
	Reason       string          `json:"reason"`
	Event        *manifest.Event `json:"event,omitempty"`
}

// Executable reports whether the action performs a write.
func (a Action) Executable() bool {
	switch a.Type {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Tombstones records observed absence per source: identity hash to the
// epoch the absence was seen.
type Tombstones map[Source]map[string]int64

func NewTombstones() Tombstones {
	return Tombstones{SourceCalendar: {}, SourceScheduler: {}}
}

func (t Tombstones) Get(src Source, id string) (int64, bool) {
	m, ok := t[src]
	if !ok {
		return 0, false
	}
	epoch, ok := m[id]
	return epoch, ok
}

func (t Tombstones) Delete(src Source, id string) {
	if m, ok := t[src]; ok {
		delete(m, id)
	}
}

func (t Tombstones) Set(src Source, id string, epoch int64) {
	if t[src] == nil {
		t[src] = make(map[string]int64)
	}
	t[src][id] = epoch
}

func (t Tombstones) clone() Tombstones {
	out := NewTombstones()
	for src, m := range t {
		for id, epoch := range m {
			out.Set(src, id, epoch)
		}
	}
	return out
}

// Inputs is the full three-way merge input set.
type Inputs struct {
	Cal     *manifest.Manifest
	Sched   *manifest.Manifest
	Current *manifest.Manifest

	CalUpdatedAt   map[string]int64
	SchedUpdatedAt map[string]int64
	Tombstones     Tombstones

	CalSnapshotEpoch   int64
	SchedSnapshotEpoch int64

	Mode      SyncMode
	Scope     string
	TieWinner Source
	Now       int64
}

// Result is the reconciliation output.
type Result struct {
	Target  *manifest.Manifest
	Actions []Action
}

// ExecutableActions filters the plan to its write steps.
func (r *Result) ExecutableActions() []Action {
	var out []Action
	for _, a := range r.Actions {
		if a.Executable() {
			out = append(out, a)
		}
	}
	return out
}

// Reconcile computes the target manifest and the directional plan.
// Given identical inputs it produces identical output in identical
// order.
func Reconcile(in Inputs) (*Result, error) {
	if in.Mode == "" {
		in.Mode = ModeBoth
	}
	if in.TieWinner == "" {
		in.TieWinner = SourceScheduler
	}
	if in.Tombstones == nil {
		in.Tombstones = NewTombstones()
	}

	if err := safetyStop(in); err != nil {
		return nil, err
	}

	tombs := in.Tombstones
	if in.Mode == ModeBoth {
		tombs = inferReplacements(in)
	}

	target := manifest.New(in.Now)
	var actions []Action

	for _, id := range unionIDs(in.Cal, in.Sched, in.Current) {
		cur := eventOf(in.Current, id)
		calEv := eventOf(in.Cal, id)
		schedEv := eventOf(in.Sched, id)

		// Lock and unmanaged preservation come before any source wins.
		if cur != nil && cur.Ownership.Locked {
			target.Events[id] = cur.Clone()
			actions = append(actions, Action{
				Type: ActionBlock, Target: SourceScheduler, Authority: SourceScheduler,
				IdentityHash: id, Reason: "locked",
			})
			continue
		}
		if cur != nil && !cur.Ownership.Managed {
			target.Events[id] = cur.Clone()
			actions = append(actions, Action{
				Type: ActionNoop, Target: SourceScheduler, Authority: SourceScheduler,
				IdentityHash: id, Reason: "unmanaged",
			})
			continue
		}

		var stepActions []Action
		switch in.Mode {
		case ModeCalToSched:
			stepActions = mirror(target, id, calEv, schedEv, cur, SourceCalendar)
		case ModeSchedToCal:
			stepActions = mirror(target, id, schedEv, calEv, cur, SourceScheduler)
		default:
			stepActions = decideTwoWay(in, tombs, target, id, calEv, schedEv, cur)
		}
		actions = append(actions, stepActions...)
	}

	sort.SliceStable(actions, func(i, j int) bool {
		a, b := actions[i], actions[j]
		if a.IdentityHash != b.IdentityHash {
			return a.IdentityHash < b.IdentityHash
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Type < b.Type
	})

	if err := manifest.Validate(target); err != nil {
		return nil, err
	}
	return &Result{Target: target, Actions: actions}, nil
}

// safetyStop refuses a plan when both sources are non-empty yet share
// no identity: that pattern indicates a normalization regression whose
// plan would mass-delete.
func safetyStop(in Inputs) error {
	if in.Cal.IsEmpty() || in.Sched.IsEmpty() {
		return nil
	}
	for id := range in.Cal.Events {
		if _, ok := in.Sched.Events[id]; ok {
			return nil
		}
	}
	return syncerr.SafetyStop("sources share no identities",
		map[string]any{"calendar_events": len(in.Cal.Events), "scheduler_events": len(in.Sched.Events)})
}

func decideTwoWay(in Inputs, tombs Tombstones, target *manifest.Manifest, id string, calEv, schedEv, cur *manifest.Event) []Action {
	switch {
	case calEv != nil && schedEv != nil:
		if calEv.StateHash == schedEv.StateHash {
			target.Events[id] = merged(calEv, cur, calEv)
			return []Action{
				noop(SourceCalendar, id, "converged"),
				noop(SourceScheduler, id, "converged"),
			}
		}
		calUpd := updatedAt(in.CalUpdatedAt, calEv)
		schedUpd := updatedAt(in.SchedUpdatedAt, schedEv)
		winner := in.TieWinner
		if calUpd > schedUpd {
			winner = SourceCalendar
		} else if schedUpd > calUpd {
			winner = SourceScheduler
		}
		if winner == SourceCalendar {
			win := merged(calEv, cur, calEv)
			target.Events[id] = win
			return []Action{
				noop(SourceCalendar, id, "authoritative"),
				{Type: ActionUpdate, Target: SourceScheduler, Authority: SourceCalendar,
					IdentityHash: id, Reason: "calendar newer", Event: win},
			}
		}
		win := merged(schedEv, cur, calEv)
		target.Events[id] = win
		return []Action{
			{Type: ActionUpdate, Target: SourceCalendar, Authority: SourceScheduler,
				IdentityHash: id, Reason: "scheduler newer", Event: win},
			noop(SourceScheduler, id, "authoritative"),
		}

	case calEv != nil:
		// Present on calendar, absent on scheduler. Absence wins only
		// with a tombstone at or after the present side's last touch.
		if epoch, ok := tombs.Get(SourceScheduler, id); ok && epoch >= updatedAt(in.CalUpdatedAt, calEv) {
			return []Action{
				{Type: ActionDelete, Target: SourceCalendar, Authority: SourceScheduler,
					IdentityHash: id, Reason: "scheduler tombstone", Event: calEv.Clone()},
				noop(SourceScheduler, id, "absent"),
			}
		}
		win := merged(calEv, cur, calEv)
		target.Events[id] = win
		return []Action{
			noop(SourceCalendar, id, "authoritative"),
			{Type: ActionCreate, Target: SourceScheduler, Authority: SourceCalendar,
				IdentityHash: id, Reason: "missing on scheduler", Event: win},
		}

	case schedEv != nil:
		// A calendar tombstone is only trusted when the last-applied
		// event belongs to the active calendar scope.
		epoch, ok := tombs.Get(SourceCalendar, id)
		trusted := ok && cur != nil && cur.Correlation.CalendarScope == in.Scope
		if trusted && epoch >= updatedAt(in.SchedUpdatedAt, schedEv) {
			return []Action{
				noop(SourceCalendar, id, "absent"),
				{Type: ActionDelete, Target: SourceScheduler, Authority: SourceCalendar,
					IdentityHash: id, Reason: "calendar tombstone", Event: schedEv.Clone()},
			}
		}
		win := merged(schedEv, cur, nil)
		target.Events[id] = win
		return []Action{
			{Type: ActionCreate, Target: SourceCalendar, Authority: SourceScheduler,
				IdentityHash: id, Reason: "missing on calendar", Event: win},
			noop(SourceScheduler, id, "authoritative"),
		}

	default:
		// Neither source carries it any more; the last-applied entry is
		// stale and simply leaves the target.
		return []Action{noop(SourceScheduler, id, "absent on both sources")}
	}
}

// mirror implements the one-way modes: the authoritative side is
// copied and the other side receives whatever write converges it.
func mirror(target *manifest.Manifest, id string, authEv, otherEv, cur *manifest.Event, authority Source) []Action {
	other := otherSource(authority)
	if authEv == nil {
		if otherEv == nil {
			return []Action{noop(other, id, "absent on both sources")}
		}
		return []Action{
			{Type: ActionDelete, Target: other, Authority: authority,
				IdentityHash: id, Reason: "absent on authority", Event: otherEv.Clone()},
			noop(authority, id, "absent"),
		}
	}
	win := merged(authEv, cur, nil)
	target.Events[id] = win
	if otherEv == nil {
		return []Action{
			noop(authority, id, "authoritative"),
			{Type: ActionCreate, Target: other, Authority: authority,
				IdentityHash: id, Reason: "missing on target side", Event: win},
		}
	}
	if otherEv.StateHash != authEv.StateHash {
		return []Action{
			noop(authority, id, "authoritative"),
			{Type: ActionUpdate, Target: other, Authority: authority,
				IdentityHash: id, Reason: "state drift", Event: win},
		}
	}
	return []Action{
		noop(authority, id, "converged"),
		noop(other, id, "converged"),
	}
}

func otherSource(s Source) Source {
	if s == SourceCalendar {
		return SourceScheduler
	}
	return SourceCalendar
}

func noop(target Source, id, reason string) Action {
	return Action{Type: ActionNoop, Target: target, Authority: target, IdentityHash: id, Reason: reason}
}

// merged clones the winner and back-fills provider correlation from the
// last-applied and calendar-side events so lineage survives authority
// changes.
func merged(winner, cur, calEv *manifest.Event) *manifest.Event {
	out := winner.Clone()
	for _, src := range []*manifest.Event{cur, calEv} {
		if src == nil {
			continue
		}
		if out.Correlation.SourceUID == "" {
			out.Correlation.SourceUID = src.Correlation.SourceUID
		}
		if out.Correlation.CalendarScope == "" {
			out.Correlation.CalendarScope = src.Correlation.CalendarScope
		}
		for k, v := range src.Correlation.ExternalIDs {
			if out.Correlation.ExternalIDs == nil {
				out.Correlation.ExternalIDs = make(map[string]string)
			}
			if _, ok := out.Correlation.ExternalIDs[k]; !ok {
				out.Correlation.ExternalIDs[k] = v
			}
		}
	}
	return out
}

func updatedAt(m map[string]int64, ev *manifest.Event) int64 {
	if ev == nil {
		return 0
	}
	if m != nil {
		if epoch, ok := m[ev.IdentityHash]; ok {
			return epoch
		}
	}
	return ev.Provenance.UpdatedAtEpoch
}

func eventOf(m *manifest.Manifest, id string) *manifest.Event {
	if m == nil {
		return nil
	}
	return m.Events[id]
}

func unionIDs(manifests ...*manifest.Manifest) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range manifests {
		if m == nil {
			continue
		}
		for id := range m.Events {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}
