// Package consolidate losslessly collapses per-occurrence intents into
// ranged intents: (date range, weekday mask, time of day) tuples whose
// expansion reproduces exactly the original occurrence set.
package consolidate

import (
	"fmt"
	"sort"
	"time"

	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
)

// Unit is one dated occurrence plus the template fields that must never
// merge across groups.
type Unit struct {
	Type      intent.EventType
	Target    string
	Behavior  intent.Behavior
	Payload   map[string]any
	StartTime intent.TimeSpec
	EndTime   intent.TimeSpec
	AllDay    bool
	Override  bool

	Date        time.Time
	SeriesStart *time.Time
	Until       *time.Time
}

// Range is a consolidated date window with a weekday mask.
type Range struct {
	Start time.Time
	End   time.Time
	Mask  intent.WeekdayMask
}

// Ranged is a consolidated group: the template unit plus one range.
type Ranged struct {
	Unit  Unit
	Range Range
}

func groupKey(u Unit) string {
	return fmt.Sprintf("%s|%s|%s|%s|%t|%v|%v|%t",
		u.Type, u.Target, u.Behavior.StopType, u.Behavior.Repeat,
		u.AllDay, u.StartTime, u.EndTime, u.Override)
}

// Consolidate groups units by (type, target, stop_type, repeat,
// all-day, start/end time of day, override flag) and derives minimal
// lossless ranges per group. Different times of day never merge;
// overrides never merge with non-overrides.
//
// The everyday rule is deliberate, user-visible behavior: when every
// calendar day of a derived range is occupied, the mask is forced to
// all seven days.
func Consolidate(units []Unit) []Ranged {
	groups := make(map[string][]Unit)
	for _, u := range units {
		k := groupKey(u)
		groups[k] = append(groups[k], u)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Ranged
	for _, k := range keys {
		members := groups[k]
		sort.Slice(members, func(i, j int) bool { return members[i].Date.Before(members[j].Date) })

		dates := make([]time.Time, 0, len(members))
		seen := make(map[string]bool)
		for _, m := range members {
			d := midnight(m.Date)
			key := d.Format(intent.DateLayout)
			if seen[key] {
				continue
			}
			seen[key] = true
			dates = append(dates, d)
		}

		template := members[0]
		for _, r := range deriveRanges(dates, template.SeriesStart, template.Until) {
			out = append(out, Ranged{Unit: template, Range: r})
		}
	}
	return out
}

// deriveRanges computes the minimal set of lossless ranges covering the
// given sorted occurrence dates. The scan walks every candidate date;
// a mask weekday that is absent from the occurrence set splits the
// range and the derivation restarts at the next occupied date.
func deriveRanges(dates []time.Time, seriesStart, until *time.Time) []Range {
	if len(dates) == 0 {
		return nil
	}

	occupied := make(map[string]bool, len(dates))
	var scanMask intent.WeekdayMask
	for _, d := range dates {
		occupied[d.Format(intent.DateLayout)] = true
		scanMask = scanMask.With(intent.WeekdayOf(d))
	}

	rangeStart := dates[0]
	if seriesStart != nil {
		if s := midnight(*seriesStart); s.Before(rangeStart) {
			rangeStart = s
		}
	}
	rangeEnd := dates[len(dates)-1]
	if until != nil {
		if u := midnight(*until); u.After(rangeEnd) {
			rangeEnd = u
		}
	}

	var ranges []Range
	var segStart *time.Time
	var segDates []time.Time
	if rangeStart.Before(dates[0]) {
		s := rangeStart
		segStart = &s
	}

	closeSegment := func(end time.Time) {
		if len(segDates) == 0 {
			segStart = nil
			return
		}
		start := segDates[0]
		if segStart != nil {
			start = *segStart
		}
		ranges = append(ranges, buildRange(start, end, segDates))
		segStart = nil
		segDates = nil
	}

	for d := rangeStart; !d.After(rangeEnd); d = d.AddDate(0, 0, 1) {
		if !scanMask.Has(intent.WeekdayOf(d)) {
			continue
		}
		if occupied[d.Format(intent.DateLayout)] {
			segDates = append(segDates, d)
			continue
		}
		// Losslessness violation: this mask weekday has no occurrence.
		if len(segDates) > 0 {
			closeSegment(segDates[len(segDates)-1])
		} else {
			segStart = nil
		}
	}
	closeSegment(rangeEnd)
	return ranges
}

func buildRange(start, end time.Time, dates []time.Time) Range {
	var mask intent.WeekdayMask
	for _, d := range dates {
		mask = mask.With(intent.WeekdayOf(d))
	}
	// Everyday rule.
	if coversEveryDay(start, end, dates) {
		mask = intent.AllWeek
	}
	return Range{Start: start, End: end, Mask: mask}
}

func coversEveryDay(start, end time.Time, dates []time.Time) bool {
	occupied := make(map[string]bool, len(dates))
	for _, d := range dates {
		occupied[d.Format(intent.DateLayout)] = true
	}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !occupied[d.Format(intent.DateLayout)] {
			return false
		}
	}
	return true
}

// Expand is the inverse of consolidation: the dates in [start, end]
// whose weekday is in the mask. Used by tests and by invariant checks.
func Expand(r Range) []time.Time {
	var out []time.Time
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		if r.Mask.Has(intent.WeekdayOf(d)) {
			out = append(out, d)
		}
	}
	return out
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
