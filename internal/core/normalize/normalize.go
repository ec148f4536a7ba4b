// Package normalize converts source-shaped rows into source-neutral
// intents: calendar bundles plus expanded occurrences on one side,
// scheduler rows on the other. Everything downstream of this package
// is source-agnostic.
package normalize

import (
	"sort"
	"time"

	"github.com/sonroyaalmerol/schedsync/internal/core/identity"
	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/resolve"
	"github.com/sonroyaalmerol/schedsync/internal/sched"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

// Resolvers bundles the oracles that turn symbolic timing slots into
// hard literals, plus the location context they need.
type Resolvers struct {
	Holidays resolve.HolidayResolver
	Solar    resolve.SolarOracle
	Lat      float64
	Lon      float64
	// Year anchors holiday resolution for rows that carry a symbolic
	// date without any dated occurrence.
	Year int
	Loc  *time.Location
}

func (r Resolvers) location() *time.Location {
	if r.Loc != nil {
		return r.Loc
	}
	return time.Local
}

// hardenTiming resolves every symbolic slot of the timing into a hard
// literal and returns the companions map recording what was resolved,
// so writers can restore the symbolic form. Hard slots pass through
// untouched.
func (r Resolvers) hardenTiming(t intent.Timing) (intent.Timing, map[string]any, error) {
	out := t
	companions := map[string]any{}

	if t.StartDate.IsSymbolic() {
		hard, err := r.resolveHoliday(t.StartDate.Holiday)
		if err != nil {
			return out, nil, err
		}
		out.StartDate = hard
		companions["start_date"] = t.StartDate.Holiday
	}
	if t.EndDate.IsSymbolic() {
		hard, err := r.resolveHoliday(t.EndDate.Holiday)
		if err != nil {
			return out, nil, err
		}
		out.EndDate = hard
		companions["end_date"] = t.EndDate.Holiday
	}

	// Solar anchors resolve on the range start date.
	anchor, err := out.StartDate.HardTime(r.location())
	if err != nil && (t.StartTime.IsSymbolic() || t.EndTime.IsSymbolic()) {
		return out, nil, syncerr.Malformed("solar time without a resolvable start date",
			map[string]any{"field": "start_date"})
	}
	if t.StartTime.IsSymbolic() {
		hard, err := r.resolveSolar(t.StartTime, anchor)
		if err != nil {
			return out, nil, err
		}
		out.StartTime = hard
		companions["start_time"] = sched.FormatTimeSpec(t.StartTime)
	}
	if t.EndTime.IsSymbolic() {
		hard, err := r.resolveSolar(t.EndTime, anchor)
		if err != nil {
			return out, nil, err
		}
		out.EndTime = hard
		companions["end_time"] = sched.FormatTimeSpec(t.EndTime)
	}

	if len(companions) == 0 {
		companions = nil
	}
	return out, companions, nil
}

func (r Resolvers) resolveHoliday(name string) (intent.DateSpec, error) {
	if r.Holidays == nil {
		return intent.DateSpec{}, syncerr.Malformed("no holiday resolver configured",
			map[string]any{"field": name})
	}
	day, ok := r.Holidays.Holiday(name, r.Year)
	if !ok {
		return intent.DateSpec{}, syncerr.Malformed("unknown holiday name",
			map[string]any{"field": name})
	}
	return intent.HardDate(day), nil
}

func (r Resolvers) resolveSolar(t intent.TimeSpec, date time.Time) (intent.TimeSpec, error) {
	if r.Solar == nil {
		return intent.TimeSpec{}, syncerr.Malformed("no solar oracle configured",
			map[string]any{"field": string(t.Solar)})
	}
	at, err := r.Solar.Solar(date, r.Lat, r.Lon, t.Solar, t.OffsetMin)
	if err != nil {
		return intent.TimeSpec{}, syncerr.Malformed("solar resolution failed",
			map[string]any{"field": string(t.Solar), "stored": err.Error()})
	}
	return intent.HardTime(at.Format(intent.TimeLayout)), nil
}

// buildIntent finishes an intent: identity validation and hashing,
// per-sub-event state hashing, deterministic sub-event order, and the
// aggregate state hash.
func buildIntent(id intent.Identity, own intent.Ownership, corr intent.Correlation,
	prov intent.Provenance, subs []intent.SubEvent) (*intent.Intent, error) {

	if err := intent.ValidateIdentityBasics(id); err != nil {
		return nil, syncerr.Malformed("intent identity invalid",
			map[string]any{"id": id.Target, "field": err.Error()})
	}
	idHash, err := identity.HashIdentity(id.CanonicalMap())
	if err != nil {
		return nil, err
	}

	for i := range subs {
		stateMap, err := subs[i].StateMap()
		if err != nil {
			return nil, syncerr.Invariant("sub-event timing not hard-resolved",
				map[string]any{"id": idHash, "field": err.Error()})
		}
		hash, err := identity.Hash(stateMap)
		if err != nil {
			return nil, err
		}
		subs[i].StateHash = hash
	}

	sort.SliceStable(subs, func(i, j int) bool {
		a, b := subs[i], subs[j]
		if a.Timing.StartDate.Hard != b.Timing.StartDate.Hard {
			return a.Timing.StartDate.Hard < b.Timing.StartDate.Hard
		}
		if a.Timing.StartTime.Hard != b.Timing.StartTime.Hard {
			return a.Timing.StartTime.Hard < b.Timing.StartTime.Hard
		}
		return a.StateHash < b.StateHash
	})

	hashes := make([]string, len(subs))
	for i, s := range subs {
		hashes[i] = s.StateHash
	}
	return &intent.Intent{
		IdentityHash: idHash,
		Identity:     id,
		Ownership:    own,
		Correlation:  corr,
		Provenance:   prov,
		SubEvents:    subs,
		StateHash:    identity.HashStrings(hashes),
	}, nil
}

func clonePayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortIntents(intents []*intent.Intent) {
	sort.SliceStable(intents, func(i, j int) bool {
		return intents[i].IdentityHash < intents[j].IdentityHash
	})
}
