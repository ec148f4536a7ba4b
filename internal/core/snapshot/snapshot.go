// Package snapshot groups lexed calendar rows into per-UID bundles:
// one base row plus the cancellations and overrides attached to it.
package snapshot

import (
	"sort"
	"time"

	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
	"github.com/sonroyaalmerol/schedsync/pkg/ics"
)

// Override is a per-occurrence modification of a recurring base. The
// row keeps its own start/end and payload; OriginalStart names the base
// occurrence it replaces.
type Override struct {
	OriginalStart time.Time
	Row           ics.Row
}

// Bundle is one calendar UID's worth of rows after snapshotting.
type Bundle struct {
	Base           ics.Row
	CancelledDates []time.Time
	Overrides      []Override
	SourceRows     []ics.Row
}

// Build groups rows by UID in three deterministic passes: bases, then
// cancellations, then overrides. A cancellation or override whose
// parent UID has no base row is fatal.
func Build(rows []ics.Row) (map[string]*Bundle, []syncerr.Warning, error) {
	bundles := make(map[string]*Bundle)
	var warnings []syncerr.Warning

	for _, row := range rows {
		if row.UID == "" {
			warnings = append(warnings, syncerr.Warn(syncerr.CodeSourceMalformed,
				"calendar row without uid skipped", nil))
			continue
		}
		if row.IsOverride() {
			continue
		}
		if _, dup := bundles[row.UID]; dup {
			warnings = append(warnings, syncerr.Warn(syncerr.CodeSourceMalformed,
				"duplicate base row for uid, first wins", map[string]any{"id": row.UID}))
			continue
		}
		b := &Bundle{Base: row}
		b.SourceRows = append(b.SourceRows, row)
		bundles[row.UID] = b
	}

	for _, row := range rows {
		if !row.IsOverride() || !row.IsCancelled() {
			continue
		}
		parent, ok := bundles[row.UID]
		if !ok {
			return nil, warnings, syncerr.Malformed("cancellation references unknown parent uid",
				map[string]any{"id": row.UID})
		}
		parent.CancelledDates = append(parent.CancelledDates, *row.RecurrenceID)
		parent.SourceRows = append(parent.SourceRows, row)
	}

	for _, row := range rows {
		if !row.IsOverride() || row.IsCancelled() {
			continue
		}
		parent, ok := bundles[row.UID]
		if !ok {
			return nil, warnings, syncerr.Malformed("override references unknown parent uid",
				map[string]any{"id": row.UID})
		}
		parent.Overrides = append(parent.Overrides, Override{
			OriginalStart: *row.RecurrenceID,
			Row:           row,
		})
		parent.SourceRows = append(parent.SourceRows, row)
	}

	for _, b := range bundles {
		sort.Slice(b.CancelledDates, func(i, j int) bool {
			return b.CancelledDates[i].Before(b.CancelledDates[j])
		})
		sort.Slice(b.Overrides, func(i, j int) bool {
			return b.Overrides[i].OriginalStart.Before(b.Overrides[j].OriginalStart)
		})
	}
	return bundles, warnings, nil
}

// UIDs returns the bundle keys in sorted order for deterministic
// iteration.
func UIDs(bundles map[string]*Bundle) []string {
	keys := make([]string, 0, len(bundles))
	for k := range bundles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
