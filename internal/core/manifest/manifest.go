// Package manifest defines the canonical, persisted document of
// scheduled events keyed by identity hash, plus the planner that
// materializes intents into it and the differ that compares two
// manifests.
package manifest

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/sonroyaalmerol/schedsync/internal/core/identity"
	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

// Version of the persisted manifest schema.
const Version = 2

// SubEvent is one executable leaf as persisted: timing fully
// hard-resolved, symbolic companions retained in the payload.
type SubEvent struct {
	Behavior  intent.Behavior `json:"behavior"`
	Payload   map[string]any  `json:"payload"`
	StateHash string          `json:"state_hash"`
	Timing    map[string]any  `json:"timing"`
}

// Event is one manifest entry. ID always equals IdentityHash.
type Event struct {
	Correlation  intent.Correlation `json:"correlation"`
	ID           string             `json:"id"`
	Identity     map[string]any     `json:"identity"`
	IdentityHash string             `json:"identity_hash"`
	Ownership    intent.Ownership   `json:"ownership"`
	Provenance   intent.Provenance  `json:"provenance"`
	StateHash    string             `json:"state_hash"`
	SubEvents    []SubEvent         `json:"sub_events"`
}

// Clone returns a deep copy; events are value objects and are never
// mutated in place.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.Identity = cloneMap(e.Identity)
	if e.Correlation.ExternalIDs != nil {
		ids := make(map[string]string, len(e.Correlation.ExternalIDs))
		for k, v := range e.Correlation.ExternalIDs {
			ids[k] = v
		}
		out.Correlation.ExternalIDs = ids
	}
	out.SubEvents = make([]SubEvent, len(e.SubEvents))
	for i, s := range e.SubEvents {
		out.SubEvents[i] = SubEvent{
			Behavior:  s.Behavior,
			Payload:   cloneMap(s.Payload),
			StateHash: s.StateHash,
			Timing:    cloneMap(s.Timing),
		}
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	b, _ := json.Marshal(m)
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	_ = dec.Decode(&out)
	return out
}

// Manifest is the canonical document. Events are keyed by identity
// hash; serialization is insertion-independent.
type Manifest struct {
	Events      map[string]*Event `json:"events"`
	GeneratedAt int64             `json:"generated_at"`
	Version     int               `json:"version"`
}

func New(generatedAt int64) *Manifest {
	return &Manifest{Events: make(map[string]*Event), GeneratedAt: generatedAt, Version: Version}
}

func (m *Manifest) IsEmpty() bool { return m == nil || len(m.Events) == 0 }

// SortedIDs returns the event keys in identity-hash order.
func (m *Manifest) SortedIDs() []string {
	if m == nil {
		return nil
	}
	ids := make([]string, 0, len(m.Events))
	for id := range m.Events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Encode serializes the manifest deterministically: keys sorted, two
// space indentation, forward slashes unescaped, trailing newline.
func (m *Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a persisted manifest. Partial or undecodable documents
// are fatal I/O errors.
func Decode(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, syncerr.IO("decode manifest", err)
	}
	if m.Events == nil {
		m.Events = make(map[string]*Event)
	}
	return &m, nil
}

// Validate enforces the manifest invariants: every event carries an
// identity hash equal to its key and its recomputed hash, state hashes
// are present and consistent, and managed events have at least one
// sub-event. Violations are fatal.
func Validate(m *Manifest) error {
	for _, id := range m.SortedIDs() {
		ev := m.Events[id]
		if ev.IdentityHash == "" {
			return syncerr.Invariant("event missing identity hash", map[string]any{"id": id})
		}
		if ev.ID != ev.IdentityHash || id != ev.IdentityHash {
			return syncerr.Invariant("event id differs from identity hash",
				map[string]any{"id": ev.ID, "stored": id, "computed": ev.IdentityHash})
		}
		computed, err := identity.HashIdentity(ev.Identity)
		if err != nil {
			return err
		}
		if computed != ev.IdentityHash {
			return syncerr.Invariant("stored identity hash mismatches computed",
				map[string]any{"id": id, "stored": ev.IdentityHash, "computed": computed})
		}
		if ev.Ownership.Managed && len(ev.SubEvents) == 0 {
			return syncerr.Invariant("managed event has zero sub-events", map[string]any{"id": id})
		}
		hashes := make([]string, len(ev.SubEvents))
		for i, sub := range ev.SubEvents {
			if sub.StateHash == "" {
				return syncerr.Invariant("sub-event missing state hash", map[string]any{"id": id})
			}
			hashes[i] = sub.StateHash
		}
		if agg := identity.HashStrings(hashes); agg != ev.StateHash {
			return syncerr.Invariant("event state hash mismatches sub-event aggregate",
				map[string]any{"id": id, "stored": ev.StateHash, "computed": agg})
		}
	}
	return nil
}

// Upsert inserts or replaces an event after recomputing and validating
// its hashes. Mutating the identity of an existing id is fatal.
func Upsert(m *Manifest, ev *Event) error {
	computed, err := identity.HashIdentity(ev.Identity)
	if err != nil {
		return err
	}
	if ev.IdentityHash == "" {
		ev.IdentityHash = computed
		ev.ID = computed
	}
	if computed != ev.IdentityHash {
		return syncerr.Invariant("event identity mutated",
			map[string]any{"id": ev.IdentityHash, "computed": computed})
	}
	hashes := make([]string, len(ev.SubEvents))
	for i, sub := range ev.SubEvents {
		if sub.StateHash == "" {
			return syncerr.Invariant("sub-event missing state hash", map[string]any{"id": ev.IdentityHash})
		}
		hashes[i] = sub.StateHash
	}
	ev.StateHash = identity.HashStrings(hashes)
	if existing, ok := m.Events[ev.IdentityHash]; ok {
		existingCanon, err := identity.CanonicalJSON(existing.Identity)
		if err != nil {
			return err
		}
		newCanon, err := identity.CanonicalJSON(ev.Identity)
		if err != nil {
			return err
		}
		if !bytes.Equal(existingCanon, newCanon) {
			return syncerr.Invariant("identity mutation on existing id",
				map[string]any{"id": ev.IdentityHash})
		}
	}
	m.Events[ev.IdentityHash] = ev
	return nil
}
