package manifest

import (
	"bytes"
	"sort"

	"github.com/sonroyaalmerol/schedsync/internal/core/identity"
	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

// Plan deterministically materializes normalized intents into a
// manifest. Intents sharing an identity hash merge into one event whose
// sub-events are the concatenation, re-sorted; identities must be
// byte-equal under that hash. The output serializes byte-identically
// for semantically identical inputs.
func Plan(intents []*intent.Intent, generatedAt int64) (*Manifest, error) {
	m := New(generatedAt)

	ordered := make([]*intent.Intent, len(intents))
	copy(ordered, intents)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].IdentityHash < ordered[j].IdentityHash
	})

	for _, in := range ordered {
		if in.IdentityHash == "" {
			return nil, syncerr.Invariant("intent missing identity hash",
				map[string]any{"id": in.Identity.Target})
		}
		idMap := in.Identity.CanonicalMap()
		canon, err := identity.Canonicalize(idMap)
		if err != nil {
			return nil, err
		}

		subs := make([]SubEvent, 0, len(in.SubEvents))
		for _, s := range in.SubEvents {
			tm, err := s.Timing.HardMap()
			if err != nil {
				return nil, syncerr.Invariant("sub-event timing not hard-resolved",
					map[string]any{"id": in.IdentityHash, "field": err.Error()})
			}
			if s.StateHash == "" {
				return nil, syncerr.Invariant("sub-event missing state hash",
					map[string]any{"id": in.IdentityHash})
			}
			payload := s.Payload
			if payload == nil {
				payload = map[string]any{}
			}
			subs = append(subs, SubEvent{
				Behavior:  s.Behavior,
				Payload:   payload,
				StateHash: s.StateHash,
				Timing:    tm,
			})
		}

		if existing, ok := m.Events[in.IdentityHash]; ok {
			existingCanon, err := identity.CanonicalJSON(existing.Identity)
			if err != nil {
				return nil, err
			}
			newCanon, err := identity.CanonicalJSON(canon)
			if err != nil {
				return nil, err
			}
			if !bytes.Equal(existingCanon, newCanon) {
				return nil, syncerr.Invariant("two identities collide under one hash",
					map[string]any{"id": in.IdentityHash})
			}
			existing.SubEvents = append(existing.SubEvents, subs...)
			mergeCorrelation(&existing.Correlation, in.Correlation)
			continue
		}

		m.Events[in.IdentityHash] = &Event{
			Correlation:  in.Correlation,
			ID:           in.IdentityHash,
			Identity:     canon,
			IdentityHash: in.IdentityHash,
			Ownership:    in.Ownership,
			Provenance:   in.Provenance,
			SubEvents:    subs,
		}
	}

	for _, id := range m.SortedIDs() {
		ev := m.Events[id]
		SortSubEvents(ev.SubEvents)
		hashes := make([]string, len(ev.SubEvents))
		for i, s := range ev.SubEvents {
			hashes[i] = s.StateHash
		}
		ev.StateHash = identity.HashStrings(hashes)
		if ev.Ownership.Managed && len(ev.SubEvents) == 0 {
			return nil, syncerr.Invariant("managed event has zero sub-events",
				map[string]any{"id": id})
		}
	}
	return m, nil
}

// SortSubEvents orders sub-events by (start date, start time, state
// hash) so the aggregate state hash is stable.
func SortSubEvents(subs []SubEvent) {
	sort.SliceStable(subs, func(i, j int) bool {
		a, b := subs[i], subs[j]
		as, _ := a.Timing["start_date"].(string)
		bs, _ := b.Timing["start_date"].(string)
		if as != bs {
			return as < bs
		}
		at := timingTimeKey(a.Timing)
		bt := timingTimeKey(b.Timing)
		if at != bt {
			return at < bt
		}
		return a.StateHash < b.StateHash
	})
}

func timingTimeKey(tm map[string]any) string {
	b, err := identity.CanonicalJSON(tm["start_time"])
	if err != nil {
		return ""
	}
	return string(b)
}

// mergeCorrelation fills missing correlation fields without ever
// overwriting present ones.
func mergeCorrelation(dst *intent.Correlation, src intent.Correlation) {
	if dst.SourceUID == "" {
		dst.SourceUID = src.SourceUID
	}
	if dst.CalendarScope == "" {
		dst.CalendarScope = src.CalendarScope
	}
	for k, v := range src.ExternalIDs {
		if dst.ExternalIDs == nil {
			dst.ExternalIDs = make(map[string]string)
		}
		if _, ok := dst.ExternalIDs[k]; !ok {
			dst.ExternalIDs[k] = v
		}
	}
}
