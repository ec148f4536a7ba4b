package normalize

import (
	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/sched"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

// Scheduler rows without a date window fall back to the player's
// conventional open range.
const (
	defaultStartDate = "2000-01-01"
	defaultEndDate   = "2099-12-31"
)

// FromSchedulerRows normalizes the full schedule. Rows the adapter
// cannot interpret are skipped with a warning; a corrupt day field is
// fatal because the file was written by a machine, not a person.
func FromSchedulerRows(rows []sched.Row, res Resolvers, scope, runID string) ([]*intent.Intent, []syncerr.Warning, error) {
	var intents []*intent.Intent
	var warnings []syncerr.Warning
	for i, row := range rows {
		in, warns, err := FromSchedulerRow(row, res, scope, runID)
		warnings = append(warnings, prefixRowIndex(warns, i)...)
		if err != nil {
			return nil, warnings, err
		}
		if in != nil {
			intents = append(intents, in)
		}
	}
	sortIntents(intents)
	return intents, warnings, nil
}

// FromSchedulerRow normalizes one row into a single-sub-event intent,
// or nil when the row is skipped.
func FromSchedulerRow(row sched.Row, res Resolvers, scope, runID string) (*intent.Intent, []syncerr.Warning, error) {
	var warnings []syncerr.Warning

	typ := intent.EventType(row.Type)
	if !intent.IsEventType(row.Type) {
		warnings = append(warnings, syncerr.Warn(syncerr.CodeSourceMalformed,
			"scheduler row with unknown type skipped", map[string]any{"field": "type", "stored": row.Type}))
		return nil, warnings, nil
	}
	target := intent.NormalizeTarget(typ, row.TargetName())
	if target == "" {
		warnings = append(warnings, syncerr.Warn(syncerr.CodeSourceMalformed,
			"scheduler row without target skipped", nil))
		return nil, warnings, nil
	}

	days, err := sched.DecodeDay(row.Day)
	if err != nil {
		return nil, warnings, err
	}

	startSpec, err := sched.ParseTimeSpec(row.StartTime)
	if err != nil {
		warnings = append(warnings, syncerr.Warn(syncerr.CodeSourceMalformed,
			"scheduler row with bad start time skipped", map[string]any{"field": "startTime", "stored": row.StartTime}))
		return nil, warnings, nil
	}
	endSpec, err := sched.ParseTimeSpec(row.EndTime)
	if err != nil {
		warnings = append(warnings, syncerr.Warn(syncerr.CodeSourceMalformed,
			"scheduler row with bad end time skipped", map[string]any{"field": "endTime", "stored": row.EndTime}))
		return nil, warnings, nil
	}

	startDate, warn := dateOrDefault(row.StartDate, "startDate", defaultStartDate, res)
	if warn != nil {
		warnings = append(warnings, *warn)
	}
	endDate, warn := dateOrDefault(row.EndDate, "endDate", defaultEndDate, res)
	if warn != nil {
		warnings = append(warnings, *warn)
	}

	// A row written for a single date encodes "everyday" in its day
	// field; normalize that back to no constraint so both sources agree
	// on the identity of dated one-offs.
	if days.Kind == intent.DaysWeekly && days.Weekly == intent.AllWeek &&
		!startDate.IsSymbolic() && !endDate.IsSymbolic() && startDate.Hard == endDate.Hard {
		days = intent.NoDays()
	}

	timing := intent.Timing{
		StartDate: startDate,
		EndDate:   endDate,
		StartTime: startSpec,
		EndTime:   endSpec,
		Days:      days,
	}
	hard, companions, err := res.hardenTiming(timing)
	if err != nil {
		return nil, warnings, err
	}

	own := intent.Ownership{Managed: false, Controller: "scheduler"}
	corr := intent.Correlation{CalendarScope: scope}
	identityDays := days
	if tag, err := sched.ParseTag(row.Tag); err == nil {
		own = intent.Ownership{Managed: true, Controller: "calendar"}
		corr.SourceUID = tag.UID
		// The tag records the series-level days. The row's own day field
		// only carries the segment mask, which would fork the identity of
		// a split series.
		if d, err := sched.ParseDaysToken(tag.Days); err == nil {
			identityDays = d
		}
	}

	id := intent.Identity{
		Type:   typ,
		Target: target,
		Timing: intent.Timing{
			StartDate: symbolicOnly(startDate),
			EndDate:   symbolicOnly(endDate),
			StartTime: startSpec,
			EndTime:   endSpec,
			Days:      identityDays,
		},
	}

	behavior := intent.Behavior{
		Enabled:  row.Enabled != 0,
		Repeat:   sched.DecodeRepeat(row.Repeat),
		StopType: intent.StopType(sched.DecodeStopType(row.StopType)),
	}

	var payload map[string]any
	if len(row.Args) > 0 {
		vals := make([]any, len(row.Args))
		for i, a := range row.Args {
			vals[i] = a
		}
		payload = map[string]any{"args": vals}
	}
	if hard.StartTime.Hard == "00:00:00" && hard.EndTime.Hard == "23:59:59" {
		if payload == nil {
			payload = map[string]any{}
		}
		payload["all_day"] = true
	}
	payload = withSymbolic(payload, companions, id.Timing)

	in, err := buildIntent(id, own, corr,
		intent.Provenance{Source: "scheduler", RunID: runID},
		[]intent.SubEvent{{Timing: hard, Behavior: behavior, Payload: payload}})
	return in, warnings, err
}

func dateOrDefault(raw, field, fallback string, res Resolvers) (intent.DateSpec, *syncerr.Warning) {
	if raw == "" {
		w := syncerr.Warn(syncerr.CodeSourceMalformed,
			"scheduler row missing date, default applied", map[string]any{"field": field, "stored": fallback})
		return intent.HardDateString(fallback), &w
	}
	spec, err := sched.ParseDateSpec(raw, res.Holidays)
	if err != nil {
		w := syncerr.Warn(syncerr.CodeSourceMalformed,
			"scheduler row with bad date, default applied", map[string]any{"field": field, "stored": raw})
		return intent.HardDateString(fallback), &w
	}
	return spec, nil
}

func prefixRowIndex(warns []syncerr.Warning, row int) []syncerr.Warning {
	for i := range warns {
		if warns[i].Context == nil {
			warns[i].Context = map[string]any{}
		}
		warns[i].Context["row"] = row
	}
	return warns
}
