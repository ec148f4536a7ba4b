package intent

import (
	"fmt"
	"strings"
	"time"
)

// EventType classifies what an intent executes.
type EventType string

const (
	TypePlaylist EventType = "playlist"
	TypeSequence EventType = "sequence"
	TypeCommand  EventType = "command"
)

func IsEventType(s string) bool {
	switch EventType(s) {
	case TypePlaylist, TypeSequence, TypeCommand:
		return true
	}
	return false
}

// Identity is the minimum field set whose equality defines "the same
// scheduled intent". Dates, execution flags, ownership, and provenance
// are excluded; only symbolic date tokens participate via the timing.
type Identity struct {
	Type   EventType
	Target string
	Timing Timing
}

// CanonicalMap renders the map the IdentityKernel canonicalizes and
// hashes. Hard dates are omitted by construction.
func (id Identity) CanonicalMap() map[string]any {
	return map[string]any{
		"target": id.Target,
		"timing": id.Timing.IdentityMap(),
		"type":   string(id.Type),
	}
}

// StopType names how a running item ends at the window boundary.
type StopType string

const (
	StopGraceful     StopType = "graceful"
	StopHard         StopType = "hard"
	StopGracefulLoop StopType = "graceful_loop"
)

// Behavior carries the execution flags of one sub-event.
type Behavior struct {
	Enabled  bool     `json:"enabled"`
	Repeat   string   `json:"repeat"`
	StopType StopType `json:"stop_type"`
}

func DefaultBehavior() Behavior {
	return Behavior{Enabled: true, Repeat: "none", StopType: StopGraceful}
}

func (b Behavior) CanonicalMap() map[string]any {
	return map[string]any{
		"enabled":   b.Enabled,
		"repeat":    b.Repeat,
		"stop_type": string(b.StopType),
	}
}

// Ownership records who authors an event. Managed events are authored
// by this system; unmanaged events are only observed; locked events may
// not be mutated by either side.
type Ownership struct {
	Managed    bool   `json:"managed"`
	Locked     bool   `json:"locked"`
	Controller string `json:"controller,omitempty"`
}

// Correlation preserves provider lineage across authority changes.
type Correlation struct {
	SourceUID     string            `json:"source_uid,omitempty"`
	ExternalIDs   map[string]string `json:"external_ids,omitempty"`
	CalendarScope string            `json:"calendar_scope,omitempty"`
}

// Provenance records where and when the source material was seen. It
// never participates in identity or state hashes.
type Provenance struct {
	Source         string `json:"source,omitempty"`
	UpdatedAtEpoch int64  `json:"updated_at_epoch,omitempty"`
	CreatedAtEpoch int64  `json:"created_at_epoch,omitempty"`
	DTStampEpoch   int64  `json:"dtstamp_epoch,omitempty"`
	RunID          string `json:"run_id,omitempty"`
}

// SubEvent is one executable leaf; one scheduler row corresponds to one
// sub-event. Timing must be fully hard-resolved.
type SubEvent struct {
	Timing    Timing
	Behavior  Behavior
	Payload   map[string]any
	StateHash string
}

// StateMap is the canonical material of the sub-event state hash.
func (s SubEvent) StateMap() (map[string]any, error) {
	tm, err := s.Timing.HardMap()
	if err != nil {
		return nil, err
	}
	payload := s.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{
		"behavior": s.Behavior.CanonicalMap(),
		"payload":  payload,
		"timing":   tm,
	}, nil
}

// Intent is a fully resolved, source-neutral scheduled intention with
// stable identity and state hashes.
type Intent struct {
	IdentityHash string
	Identity     Identity
	Ownership    Ownership
	Correlation  Correlation
	Provenance   Provenance
	SubEvents    []SubEvent
	StateHash    string
}

// Occurrence is a concrete run window produced by a dated row or by
// recurrence expansion. Occurrences are ephemeral per pipeline run.
type Occurrence struct {
	Start  time.Time
	End    time.Time
	AllDay bool
	TZ     string
	ExDate bool
}

func (o Occurrence) Date() time.Time {
	return time.Date(o.Start.Year(), o.Start.Month(), o.Start.Day(), 0, 0, 0, 0, o.Start.Location())
}

// NormalizeTarget trims the target and strips a file extension suffix
// for sequences.
func NormalizeTarget(typ EventType, target string) string {
	target = strings.TrimSpace(target)
	if typ == TypeSequence {
		target = strings.TrimSuffix(target, ".fseq")
	}
	return target
}

// ValidateIdentityBasics checks the required-field contract before the
// kernel ever sees the canonical map.
func ValidateIdentityBasics(id Identity) error {
	if !IsEventType(string(id.Type)) {
		return fmt.Errorf("bad type %q", id.Type)
	}
	if strings.TrimSpace(id.Target) == "" {
		return fmt.Errorf("empty target")
	}
	if err := id.Timing.Validate(); err != nil {
		return err
	}
	return nil
}
