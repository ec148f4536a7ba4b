package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/sonroyaalmerol/schedsync/internal/core/consolidate"
	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/core/snapshot"
	"github.com/sonroyaalmerol/schedsync/internal/sched"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
	"github.com/sonroyaalmerol/schedsync/pkg/ics"
)

// Description directives recognized on calendar events. Times accept
// the scheduler's time syntax including solar tokens; dates accept
// YYYY-MM-DD or a holiday name.
const (
	directiveStart     = "X-SYNC-START"
	directiveEnd       = "X-SYNC-END"
	directiveStartDate = "X-SYNC-START-DATE"
	directiveEndDate   = "X-SYNC-END-DATE"
)

// FromBundle normalizes one calendar UID: the base series collapses
// into ranged sub-events under a single identity, and each distinct
// override shape becomes its own intent. baseOccs is the expanded
// occurrence set of the base row with cancellations and overridden
// starts already excluded.
func FromBundle(b *snapshot.Bundle, baseOccs []intent.Occurrence, res Resolvers,
	scope, runID string) ([]*intent.Intent, []syncerr.Warning, error) {

	var intents []*intent.Intent
	var warnings []syncerr.Warning

	base, warns, ok := newTemplate(b.Base, res)
	warnings = append(warnings, warns...)
	if !ok {
		return nil, warnings, nil
	}

	if len(baseOccs) > 0 {
		in, err := templateIntent(base, b.Base, baseUnits(base, b.Base, baseOccs), res, scope, runID)
		if err != nil {
			return nil, warnings, err
		}
		intents = append(intents, in)
	}

	for _, group := range overrideGroups(b, res, &warnings) {
		in, err := templateIntent(group.template, group.row, group.units, res, scope, runID)
		if err != nil {
			return nil, warnings, err
		}
		intents = append(intents, in)
	}

	sortIntents(intents)
	return intents, warnings, nil
}

// template is the classified, directive-resolved shape of one calendar
// row before any occurrence math.
type template struct {
	typ       intent.EventType
	target    string
	startSpec intent.TimeSpec
	endSpec   intent.TimeSpec
	startDate intent.DateSpec
	endDate   intent.DateSpec
	days      intent.Days
	allDay    bool
	payload   map[string]any
}

func newTemplate(row ics.Row, res Resolvers) (template, []syncerr.Warning, bool) {
	var warnings []syncerr.Warning

	typ, target, args := classifySummary(row.Summary)
	target = intent.NormalizeTarget(typ, target)
	if target == "" {
		warnings = append(warnings, syncerr.Warn(syncerr.CodeSourceMalformed,
			"calendar event without target skipped", map[string]any{"id": row.UID}))
		return template{}, warnings, false
	}

	t := template{
		typ:    typ,
		target: target,
		allDay: row.IsAllDay,
		days:   seriesDays(row),
	}
	if row.IsAllDay {
		t.startSpec = intent.HardTime("00:00:00")
		t.endSpec = intent.HardTime("23:59:59")
	} else {
		t.startSpec = intent.HardTime(row.Start.Format(intent.TimeLayout))
		end := row.End
		if end.IsZero() {
			end = row.Start
		}
		t.endSpec = intent.HardTime(end.Format(intent.TimeLayout))
	}

	for key, value := range directives(row.Description) {
		switch key {
		case directiveStart, directiveEnd:
			spec, err := sched.ParseTimeSpec(value)
			if err != nil {
				warnings = append(warnings, syncerr.Warn(syncerr.CodeSourceMalformed,
					"bad time directive ignored", map[string]any{"id": row.UID, "field": key, "stored": value}))
				continue
			}
			if key == directiveStart {
				t.startSpec = spec
			} else {
				t.endSpec = spec
			}
		case directiveStartDate, directiveEndDate:
			spec, err := sched.ParseDateSpec(value, res.Holidays)
			if err != nil {
				warnings = append(warnings, syncerr.Warn(syncerr.CodeSourceMalformed,
					"bad date directive ignored", map[string]any{"id": row.UID, "field": key, "stored": value}))
				continue
			}
			if key == directiveStartDate {
				t.startDate = spec
			} else {
				t.endDate = spec
			}
		}
	}

	if len(args) > 0 {
		vals := make([]any, len(args))
		for i, a := range args {
			vals[i] = a
		}
		t.payload = map[string]any{"args": vals}
	}
	if row.IsAllDay {
		if t.payload == nil {
			t.payload = map[string]any{}
		}
		t.payload["all_day"] = true
	}
	return t, warnings, true
}

// classifySummary maps a calendar summary onto (type, target, args).
// "command: name arg..." runs a command; an explicit "sequence:" prefix
// or a .fseq suffix selects a sequence; everything else is a playlist,
// with an optional "playlist:" prefix stripped.
func classifySummary(summary string) (intent.EventType, string, []string) {
	s := strings.TrimSpace(summary)
	lower := strings.ToLower(s)

	switch {
	case strings.HasPrefix(lower, "command:"):
		fields := strings.Fields(strings.TrimSpace(s[len("command:"):]))
		if len(fields) == 0 {
			return intent.TypeCommand, "", nil
		}
		return intent.TypeCommand, fields[0], fields[1:]
	case strings.HasPrefix(lower, "sequence:"):
		return intent.TypeSequence, strings.TrimSpace(s[len("sequence:"):]), nil
	case strings.HasSuffix(lower, ".fseq"):
		return intent.TypeSequence, s, nil
	case strings.HasPrefix(lower, "playlist:"):
		return intent.TypePlaylist, strings.TrimSpace(s[len("playlist:"):]), nil
	default:
		return intent.TypePlaylist, s, nil
	}
}

func directives(description string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(line[:idx]))
		switch key {
		case directiveStart, directiveEnd, directiveStartDate, directiveEndDate:
			out[key] = strings.TrimSpace(line[idx+1:])
		}
	}
	return out
}

// seriesDays derives the series-level day constraint from the RRULE:
// DAILY means every day, WEEKLY uses BYDAY (defaulting to the DTSTART
// weekday), anything else carries no constraint.
func seriesDays(row ics.Row) intent.Days {
	if row.RRule == nil {
		return intent.NoDays()
	}
	switch strings.ToUpper(row.RRule.Freq) {
	case "DAILY":
		return intent.WeeklyDays(intent.AllWeek)
	case "WEEKLY":
		var mask intent.WeekdayMask
		for _, token := range row.RRule.ByDay {
			w, err := intent.WeekdayFromShort(token)
			if err != nil {
				continue
			}
			mask = mask.With(w)
		}
		if mask.IsZero() {
			mask = intent.MaskOf(intent.WeekdayOf(row.Start))
		}
		return intent.WeeklyDays(mask)
	default:
		return intent.NoDays()
	}
}

func baseUnits(t template, row ics.Row, occs []intent.Occurrence) []consolidate.Unit {
	seriesStart := row.Start
	var until *time.Time
	if row.RRule != nil {
		until = row.RRule.Until
	}
	units := make([]consolidate.Unit, 0, len(occs))
	for _, occ := range occs {
		if occ.ExDate {
			continue
		}
		units = append(units, consolidate.Unit{
			Type:        t.typ,
			Target:      t.target,
			Behavior:    intent.DefaultBehavior(),
			Payload:     t.payload,
			StartTime:   t.startSpec,
			EndTime:     t.endSpec,
			AllDay:      t.allDay,
			Date:        occ.Start,
			SeriesStart: &seriesStart,
			Until:       until,
		})
	}
	return units
}

type overrideGroup struct {
	template template
	row      ics.Row
	units    []consolidate.Unit
}

// overrideGroups buckets the bundle's non-cancelled overrides by their
// classified shape. Overrides never merge with the base series, and an
// override whose shape differs from another override stays separate.
func overrideGroups(b *snapshot.Bundle, res Resolvers, warnings *[]syncerr.Warning) []overrideGroup {
	byKey := make(map[string]*overrideGroup)
	var keys []string

	for _, ov := range b.Overrides {
		if ov.Row.IsCancelled() {
			continue
		}
		t, warns, ok := newTemplate(ov.Row, res)
		*warnings = append(*warnings, warns...)
		if !ok {
			continue
		}
		key := fmt.Sprintf("%s|%s|%v|%v|%t", t.typ, t.target, t.startSpec, t.endSpec, t.allDay)
		group, exists := byKey[key]
		if !exists {
			group = &overrideGroup{template: t, row: ov.Row}
			byKey[key] = group
			keys = append(keys, key)
		}
		group.units = append(group.units, consolidate.Unit{
			Type:      t.typ,
			Target:    t.target,
			Behavior:  intent.DefaultBehavior(),
			Payload:   t.payload,
			StartTime: t.startSpec,
			EndTime:   t.endSpec,
			AllDay:    t.allDay,
			Override:  true,
			Date:      ov.Row.Start,
		})
	}

	out := make([]overrideGroup, 0, len(keys))
	for _, key := range keys {
		g := byKey[key]
		// Override groups define their own identity without the base
		// series' day constraint.
		g.template.days = intent.NoDays()
		out = append(out, *g)
	}
	return out
}

// templateIntent consolidates the units into ranges and finishes the
// intent: one sub-event per lossless range, timing hard-resolved with
// symbolic companions retained in the payload.
func templateIntent(t template, row ics.Row, units []consolidate.Unit, res Resolvers,
	scope, runID string) (*intent.Intent, error) {

	id := intent.Identity{
		Type:   t.typ,
		Target: t.target,
		Timing: intent.Timing{
			StartDate: symbolicOnly(t.startDate),
			EndDate:   symbolicOnly(t.endDate),
			StartTime: t.startSpec,
			EndTime:   t.endSpec,
			Days:      t.days,
		},
	}

	var subs []intent.SubEvent
	for _, r := range consolidate.Consolidate(units) {
		days := intent.WeeklyDays(r.Range.Mask)
		if r.Range.Start.Equal(r.Range.End) {
			days = intent.NoDays()
		}
		timing := intent.Timing{
			StartDate: intent.HardDate(r.Range.Start),
			EndDate:   intent.HardDate(r.Range.End),
			StartTime: t.startSpec,
			EndTime:   t.endSpec,
			Days:      days,
		}
		hard, companions, err := res.hardenTiming(timing)
		if err != nil {
			return nil, err
		}
		payload := clonePayload(r.Unit.Payload)
		payload = withSymbolic(payload, companions, id.Timing)
		subs = append(subs, intent.SubEvent{
			Timing:   hard,
			Behavior: r.Unit.Behavior,
			Payload:  payload,
		})
	}

	return buildIntent(id,
		intent.Ownership{Managed: true, Controller: "calendar"},
		intent.Correlation{SourceUID: row.UID, CalendarScope: scope},
		intent.Provenance{
			Source:         "calendar",
			UpdatedAtEpoch: row.Provenance.UpdatedAtEpoch,
			CreatedAtEpoch: row.Provenance.CreatedAtEpoch,
			DTStampEpoch:   row.Provenance.DTStampEpoch,
			RunID:          runID,
		},
		subs)
}

func symbolicOnly(d intent.DateSpec) intent.DateSpec {
	if d.IsSymbolic() {
		return d
	}
	return intent.DateSpec{}
}

// withSymbolic records resolved symbolic slots in the payload so the
// scheduler writer can restore the original token.
func withSymbolic(payload, companions map[string]any, idTiming intent.Timing) map[string]any {
	symbolic := map[string]any{}
	for k, v := range companions {
		symbolic[k] = v
	}
	if idTiming.StartDate.IsSymbolic() {
		symbolic["start_date"] = idTiming.StartDate.Holiday
	}
	if idTiming.EndDate.IsSymbolic() {
		symbolic["end_date"] = idTiming.EndDate.Holiday
	}
	if len(symbolic) == 0 {
		return payload
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["symbolic"] = symbolic
	return payload
}
