package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/core/snapshot"
	"github.com/sonroyaalmerol/schedsync/internal/resolve"
	"github.com/sonroyaalmerol/schedsync/internal/sched"
	"github.com/sonroyaalmerol/schedsync/pkg/ics"
)

func testResolvers() Resolvers {
	return Resolvers{
		Holidays: resolve.NewHolidays(time.UTC),
		Solar:    resolve.NewSun(),
		Lat:      40.0,
		Lon:      -75.0,
		Year:     2025,
		Loc:      time.UTC,
	}
}

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func weeklyBundle(startDay string) *snapshot.Bundle {
	start := at(startDay + " 18:00:00")
	return &snapshot.Bundle{
		Base: ics.Row{
			UID:     "uid-1",
			Summary: "Main Show",
			Start:   start,
			End:     start.Add(4 * time.Hour),
			RRule:   &ics.RRule{Freq: "WEEKLY", ByDay: []string{"MO"}},
		},
	}
}

func mondayOccs(days ...string) []intent.Occurrence {
	var out []intent.Occurrence
	for _, d := range days {
		start := at(d + " 18:00:00")
		out = append(out, intent.Occurrence{Start: start, End: start.Add(4 * time.Hour)})
	}
	return out
}

func TestFromBundleCollapsesSeriesIntoRangedSubEvents(t *testing.T) {
	intents, warns, err := FromBundle(weeklyBundle("2025-01-06"),
		mondayOccs("2025-01-06", "2025-01-13", "2025-01-20"), testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	assert.Empty(t, warns)
	require.Len(t, intents, 1)

	in := intents[0]
	assert.True(t, in.Ownership.Managed)
	assert.Equal(t, "calendar", in.Ownership.Controller)
	assert.Equal(t, "uid-1", in.Correlation.SourceUID)
	assert.Equal(t, "primary", in.Correlation.CalendarScope)

	require.Len(t, in.SubEvents, 1)
	sub := in.SubEvents[0]
	assert.Equal(t, "2025-01-06", sub.Timing.StartDate.Hard)
	assert.Equal(t, "2025-01-20", sub.Timing.EndDate.Hard)
	assert.Equal(t, intent.WeeklyDays(intent.MaskOf(intent.Monday)), sub.Timing.Days)
	assert.NotEmpty(t, sub.StateHash)
}

func TestFromBundleIdentityIgnoresOccurrenceDates(t *testing.T) {
	a, _, err := FromBundle(weeklyBundle("2025-01-06"),
		mondayOccs("2025-01-06", "2025-01-13"), testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	b, _, err := FromBundle(weeklyBundle("2025-03-03"),
		mondayOccs("2025-03-03", "2025-03-10"), testResolvers(), "primary", "run-2")
	require.NoError(t, err)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].IdentityHash, b[0].IdentityHash)
	assert.NotEqual(t, a[0].StateHash, b[0].StateHash)
}

func TestFromBundleOverrideBecomesSeparateIntent(t *testing.T) {
	b := weeklyBundle("2025-01-06")
	ovStart := at("2025-01-13 19:00:00")
	orig := at("2025-01-13 18:00:00")
	b.Overrides = []snapshot.Override{{
		OriginalStart: orig,
		Row: ics.Row{
			UID: "uid-1", Summary: "Main Show",
			Start: ovStart, End: ovStart.Add(3 * time.Hour),
			RecurrenceID: &orig,
		},
	}}

	intents, _, err := FromBundle(b, mondayOccs("2025-01-06", "2025-01-20"), testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.NotEqual(t, intents[0].IdentityHash, intents[1].IdentityHash)

	var override *intent.Intent
	for _, in := range intents {
		if in.Identity.Timing.StartTime.Hard == "19:00:00" {
			override = in
		}
	}
	require.NotNil(t, override)
	assert.True(t, override.Identity.Timing.Days.IsNone())
	require.Len(t, override.SubEvents, 1)
	assert.Equal(t, "2025-01-13", override.SubEvents[0].Timing.StartDate.Hard)
}

func TestFromBundleCancelledOverrideIsDropped(t *testing.T) {
	b := weeklyBundle("2025-01-06")
	orig := at("2025-01-13 18:00:00")
	b.Overrides = []snapshot.Override{{
		OriginalStart: orig,
		Row: ics.Row{
			UID: "uid-1", Summary: "Main Show",
			Start: orig, RecurrenceID: &orig, Status: "CANCELLED",
		},
	}}

	intents, _, err := FromBundle(b, mondayOccs("2025-01-06"), testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	assert.Len(t, intents, 1)
}

func TestFromBundleSummaryClassification(t *testing.T) {
	cases := []struct {
		summary string
		typ     intent.EventType
		target  string
	}{
		{"Main Show", intent.TypePlaylist, "Main Show"},
		{"playlist: Evening", intent.TypePlaylist, "Evening"},
		{"sequence: Finale", intent.TypeSequence, "Finale"},
		{"Finale.fseq", intent.TypeSequence, "Finale"},
		{"command: Restart now", intent.TypeCommand, "Restart"},
	}
	for _, tc := range cases {
		b := weeklyBundle("2025-01-06")
		b.Base.Summary = tc.summary
		intents, _, err := FromBundle(b, mondayOccs("2025-01-06"), testResolvers(), "primary", "run-1")
		require.NoError(t, err, tc.summary)
		require.Len(t, intents, 1, tc.summary)
		assert.Equal(t, tc.typ, intents[0].Identity.Type, tc.summary)
		assert.Equal(t, tc.target, intents[0].Identity.Target, tc.summary)
	}
}

func TestFromBundleCommandArgsInPayload(t *testing.T) {
	b := weeklyBundle("2025-01-06")
	b.Base.Summary = "command: SetVolume 70"
	intents, _, err := FromBundle(b, mondayOccs("2025-01-06"), testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, []any{"70"}, intents[0].SubEvents[0].Payload["args"])
}

func TestFromBundleSolarDirectiveHardensWithCompanion(t *testing.T) {
	b := weeklyBundle("2025-01-06")
	b.Base.Description = "X-SYNC-START: SunSet + 30"
	intents, _, err := FromBundle(b, mondayOccs("2025-01-06"), testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	require.Len(t, intents, 1)

	in := intents[0]
	assert.Equal(t, intent.SolarTime(intent.SolarSunSet, 30), in.Identity.Timing.StartTime)

	sub := in.SubEvents[0]
	assert.False(t, sub.Timing.StartTime.IsSymbolic())
	assert.NotEmpty(t, sub.Timing.StartTime.Hard)

	symbolic, ok := sub.Payload["symbolic"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "SunSet + 30", symbolic["start_time"])
}

func TestFromBundleBadDirectiveWarnsAndIgnores(t *testing.T) {
	b := weeklyBundle("2025-01-06")
	b.Base.Description = "X-SYNC-START: 99:99"
	intents, warns, err := FromBundle(b, mondayOccs("2025-01-06"), testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	require.Len(t, warns, 1)
	assert.Equal(t, "18:00:00", intents[0].Identity.Timing.StartTime.Hard)
}

func TestFromBundleAllDayEvent(t *testing.T) {
	b := weeklyBundle("2025-01-06")
	b.Base.IsAllDay = true
	intents, _, err := FromBundle(b, mondayOccs("2025-01-06"), testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	require.Len(t, intents, 1)

	in := intents[0]
	assert.Equal(t, "00:00:00", in.Identity.Timing.StartTime.Hard)
	assert.Equal(t, "23:59:59", in.Identity.Timing.EndTime.Hard)
	assert.Equal(t, true, in.SubEvents[0].Payload["all_day"])
}

func schedulerRow() sched.Row {
	return sched.Row{
		Type: "playlist", Target: "Main Show", Enabled: 1, Day: 1,
		StartTime: "18:00:00", EndTime: "22:00:00",
		StartDate: "2025-01-06", EndDate: "2025-01-20",
	}
}

func TestFromSchedulerRowUnmanagedWithoutTag(t *testing.T) {
	in, warns, err := FromSchedulerRow(schedulerRow(), testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	assert.Empty(t, warns)
	require.NotNil(t, in)

	assert.False(t, in.Ownership.Managed)
	assert.Equal(t, "scheduler", in.Ownership.Controller)
	assert.Equal(t, "scheduler", in.Provenance.Source)
	require.Len(t, in.SubEvents, 1)
	assert.True(t, in.SubEvents[0].Behavior.Enabled)
}

func TestFromSchedulerRowManagedWithTag(t *testing.T) {
	row := schedulerRow()
	row.Tag = sched.FormatTag(sched.Tag{UID: "cal-uid-9", RangeStart: "2025-01-06", RangeEnd: "2025-01-20", Days: "MO"})

	in, _, err := FromSchedulerRow(row, testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.True(t, in.Ownership.Managed)
	assert.Equal(t, "calendar", in.Ownership.Controller)
	assert.Equal(t, "cal-uid-9", in.Correlation.SourceUID)
}

func TestCalendarAndSchedulerIdentitiesConverge(t *testing.T) {
	calIntents, _, err := FromBundle(weeklyBundle("2025-01-06"),
		mondayOccs("2025-01-06", "2025-01-13", "2025-01-20"), testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	require.Len(t, calIntents, 1)

	schedIn, _, err := FromSchedulerRow(schedulerRow(), testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	require.NotNil(t, schedIn)

	assert.Equal(t, calIntents[0].IdentityHash, schedIn.IdentityHash)
	assert.Equal(t, calIntents[0].StateHash, schedIn.StateHash)
}

func TestSchedulerOneOffConvergesWithCalendarSingleDate(t *testing.T) {
	// The writer encodes dated one-offs with the "everyday" code; reading
	// that back must not leave a day constraint in the identity.
	row := schedulerRow()
	row.Day = sched.DayEveryday
	row.StartDate, row.EndDate = "2025-01-06", "2025-01-06"

	in, _, err := FromSchedulerRow(row, testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.True(t, in.Identity.Timing.Days.IsNone())
}

func TestFromSchedulerRowHolidayDate(t *testing.T) {
	row := schedulerRow()
	row.StartDate, row.EndDate = "Thanksgiving", "Thanksgiving"
	row.Day = sched.DayEveryday

	in, _, err := FromSchedulerRow(row, testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	require.NotNil(t, in)

	// Symbolic date stays in the identity, hard resolution in the sub.
	assert.Equal(t, "Thanksgiving", in.Identity.Timing.StartDate.Holiday)
	assert.Equal(t, "2025-11-27", in.SubEvents[0].Timing.StartDate.Hard)
	symbolic, ok := in.SubEvents[0].Payload["symbolic"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Thanksgiving", symbolic["start_date"])
}

func TestHolidayIdentityStableAcrossYears(t *testing.T) {
	row := schedulerRow()
	row.StartDate, row.EndDate = "Thanksgiving", "Thanksgiving"
	row.Day = sched.DayEveryday

	res24 := testResolvers()
	res24.Year = 2024
	a, _, err := FromSchedulerRow(row, res24, "primary", "run-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	b, _, err := FromSchedulerRow(row, testResolvers(), "primary", "run-2")
	require.NoError(t, err)
	require.NotNil(t, b)

	// The identity carries the holiday name; the resolved hard date moves
	// with the year and only the state hash follows it.
	assert.Equal(t, a.IdentityHash, b.IdentityHash)
	assert.NotEqual(t, a.StateHash, b.StateHash)
	assert.Equal(t, "2024-11-28", a.SubEvents[0].Timing.StartDate.Hard)
	assert.Equal(t, "2025-11-27", b.SubEvents[0].Timing.StartDate.Hard)
}

func TestFromSchedulerRowAllDayFlag(t *testing.T) {
	row := schedulerRow()
	row.StartTime, row.EndTime = "00:00:00", "23:59:59"

	in, _, err := FromSchedulerRow(row, testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Equal(t, true, in.SubEvents[0].Payload["all_day"])
}

func TestFromSchedulerRowsSkipsBadRowsWithWarnings(t *testing.T) {
	rows := []sched.Row{
		schedulerRow(),
		{Type: "script", Target: "X", StartTime: "10:00:00", EndTime: "11:00:00"},
		{Type: "playlist", Target: "", StartTime: "10:00:00", EndTime: "11:00:00"},
		{Type: "playlist", Target: "Y", StartTime: "bad", EndTime: "11:00:00"},
	}
	intents, warns, err := FromSchedulerRows(rows, testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	assert.Len(t, intents, 1)
	require.Len(t, warns, 3)
	for i, w := range warns {
		assert.Equal(t, i+1, w.Context["row"])
	}
}

func TestFromSchedulerRowsCorruptDayIsFatal(t *testing.T) {
	row := schedulerRow()
	row.Day = 99
	_, _, err := FromSchedulerRows([]sched.Row{row}, testResolvers(), "primary", "run-1")
	require.Error(t, err)
}

func TestFromSchedulerRowMissingDatesDefaultWithWarnings(t *testing.T) {
	row := schedulerRow()
	row.StartDate, row.EndDate = "", ""

	in, warns, err := FromSchedulerRow(row, testResolvers(), "primary", "run-1")
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Len(t, warns, 2)
	assert.Equal(t, "2000-01-01", in.SubEvents[0].Timing.StartDate.Hard)
	assert.Equal(t, "2099-12-31", in.SubEvents[0].Timing.EndDate.Hard)
}
