// Package state persists the reconciler's durable documents: the
// last-applied manifest, the in-flight draft, per-event scheduler
// timestamps, and tombstones. Backends share the document formats so
// the file layout and the database rows stay interchangeable.
package state

import (
	"context"

	"github.com/sonroyaalmerol/schedsync/internal/core/manifest"
	"github.com/sonroyaalmerol/schedsync/internal/core/reconcile"
)

// Store is the persistence contract. Load methods return the zero
// document when nothing was saved yet; a missing store is never an
// error. Save methods are atomic per document.
type Store interface {
	Close()

	LoadManifest(ctx context.Context) (*manifest.Manifest, error)
	SaveManifest(ctx context.Context, m *manifest.Manifest) error

	LoadDraft(ctx context.Context) (*manifest.Manifest, error)
	SaveDraft(ctx context.Context, m *manifest.Manifest) error
	ClearDraft(ctx context.Context) error

	LoadTimestamps(ctx context.Context) (*Timestamps, error)
	SaveTimestamps(ctx context.Context, t *Timestamps) error

	LoadTombstones(ctx context.Context) (reconcile.Tombstones, error)
	SaveTombstones(ctx context.Context, t reconcile.Tombstones) error
}

// Document names shared by every backend.
const (
	DocManifest   = "manifest"
	DocDraft      = "manifest.draft"
	DocTimestamps = "event-timestamps"
	DocTombstones = "tombstones"
)

// TimestampsVersion versions the event-timestamps document schema.
const TimestampsVersion = 1

// Stamp is what the store remembers about one event on the scheduler
// side: when it last changed and the state hash it changed to.
type Stamp struct {
	UpdatedAtEpoch int64  `json:"updated_at_epoch"`
	StateHash      string `json:"state_hash"`
}

// Timestamps derives per-event scheduler timestamps from the schedule
// file's single mtime: an event whose state hash differs from the
// remembered one was touched at the file's current mtime, everything
// else keeps its remembered epoch.
type Timestamps struct {
	Version            int              `json:"version"`
	ScheduleMtimeEpoch int64            `json:"schedule_mtime_epoch"`
	Events             map[string]Stamp `json:"events"`
}

func NewTimestamps() *Timestamps {
	return &Timestamps{Version: TimestampsVersion, Events: make(map[string]Stamp)}
}

// UpdatedAt returns the remembered epoch for an event, or zero.
func (t *Timestamps) UpdatedAt(id string) int64 {
	if t == nil {
		return 0
	}
	return t.Events[id].UpdatedAtEpoch
}

// Observe records one event seen in the schedule file and returns its
// derived updated-at epoch. A changed or new state hash stamps the
// event with the file's mtime; an unchanged hash keeps the old epoch.
func (t *Timestamps) Observe(id, stateHash string, mtimeEpoch int64) int64 {
	if t.Events == nil {
		t.Events = make(map[string]Stamp)
	}
	prev, ok := t.Events[id]
	if ok && prev.StateHash == stateHash {
		return prev.UpdatedAtEpoch
	}
	t.Events[id] = Stamp{UpdatedAtEpoch: mtimeEpoch, StateHash: stateHash}
	return mtimeEpoch
}

// Prune drops remembered events absent from the given live set.
func (t *Timestamps) Prune(live map[string]bool) {
	for id := range t.Events {
		if !live[id] {
			delete(t.Events, id)
		}
	}
}

// TombstonesVersion versions the tombstones document schema.
const TombstonesVersion = 1

// TombstoneDoc is the persisted shape of reconcile.Tombstones.
type TombstoneDoc struct {
	Version   int              `json:"version"`
	Calendar  map[string]int64 `json:"calendar"`
	Scheduler map[string]int64 `json:"scheduler"`
}

func EncodeTombstones(t reconcile.Tombstones) TombstoneDoc {
	doc := TombstoneDoc{
		Version:   TombstonesVersion,
		Calendar:  map[string]int64{},
		Scheduler: map[string]int64{},
	}
	for id, epoch := range t[reconcile.SourceCalendar] {
		doc.Calendar[id] = epoch
	}
	for id, epoch := range t[reconcile.SourceScheduler] {
		doc.Scheduler[id] = epoch
	}
	return doc
}

func DecodeTombstones(doc TombstoneDoc) reconcile.Tombstones {
	t := reconcile.NewTombstones()
	for id, epoch := range doc.Calendar {
		t.Set(reconcile.SourceCalendar, id, epoch)
	}
	for id, epoch := range doc.Scheduler {
		t.Set(reconcile.SourceScheduler, id, epoch)
	}
	return t
}
