package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(events ...string) []byte {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
	}
	lines = append(lines, events...)
	lines = append(lines, "END:VCALENDAR")
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func TestParseTimedEvent(t *testing.T) {
	rows, err := Parse(doc(
		"BEGIN:VEVENT",
		"UID:ev-1",
		"SUMMARY:Main Show",
		"DESCRIPTION:X-SYNC-START: SunSet + 30",
		"DTSTART:20250106T180000Z",
		"DTEND:20250106T220000Z",
		"LAST-MODIFIED:20250101T120000Z",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "ev-1", row.UID)
	assert.Equal(t, "Main Show", row.Summary)
	assert.Contains(t, row.Description, "X-SYNC-START")
	assert.Equal(t, time.Date(2025, 1, 6, 18, 0, 0, 0, time.UTC), row.Start)
	assert.Equal(t, time.Date(2025, 1, 6, 22, 0, 0, 0, time.UTC), row.End)
	assert.False(t, row.IsAllDay)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC).Unix(), row.Provenance.UpdatedAtEpoch)
}

func TestParseAllDayEvent(t *testing.T) {
	rows, err := Parse(doc(
		"BEGIN:VEVENT",
		"UID:ev-2",
		"SUMMARY:Open House",
		"DTSTART;VALUE=DATE:20250106",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.True(t, row.IsAllDay)
	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), row.Start)
	assert.Equal(t, row.Start.Add(24*time.Hour), row.End)
}

func TestParseRecurrenceAndExDates(t *testing.T) {
	rows, err := Parse(doc(
		"BEGIN:VEVENT",
		"UID:ev-3",
		"SUMMARY:Main Show",
		"DTSTART:20250106T180000Z",
		"DTEND:20250106T220000Z",
		"RRULE:FREQ=WEEKLY;BYDAY=MO,WE;UNTIL=20250331T235959Z",
		"EXDATE:20250113T180000Z,20250115T180000Z",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	require.NotNil(t, row.RRule)
	assert.Equal(t, "WEEKLY", row.RRule.Freq)
	assert.Equal(t, []string{"MO", "WE"}, row.RRule.ByDay)
	require.NotNil(t, row.RRule.Until)
	assert.Equal(t, 1, row.RRule.Interval)
	require.Len(t, row.ExDates, 2)
	assert.Equal(t, time.Date(2025, 1, 13, 18, 0, 0, 0, time.UTC), row.ExDates[0])
}

func TestParseOverrideAndCancellation(t *testing.T) {
	rows, err := Parse(doc(
		"BEGIN:VEVENT",
		"UID:ev-4",
		"SUMMARY:Main Show",
		"DTSTART:20250106T180000Z",
		"RRULE:FREQ=WEEKLY",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:ev-4",
		"SUMMARY:Main Show (late)",
		"RECURRENCE-ID:20250113T180000Z",
		"DTSTART:20250113T190000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:ev-4",
		"SUMMARY:Main Show",
		"RECURRENCE-ID:20250120T180000Z",
		"DTSTART:20250120T180000Z",
		"STATUS:CANCELLED",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.False(t, rows[0].IsOverride())
	assert.True(t, rows[1].IsOverride())
	assert.False(t, rows[1].IsCancelled())
	assert.True(t, rows[2].IsOverride())
	assert.True(t, rows[2].IsCancelled())
}

func TestParseSkipsMalformedEvents(t *testing.T) {
	rows, err := Parse(doc(
		"BEGIN:VEVENT",
		"SUMMARY:No UID",
		"DTSTART:20250106T180000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:ok",
		"SUMMARY:Fine",
		"DTSTART:20250106T180000Z",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ok", rows[0].UID)
}

func TestParseRejectsGarbageDocument(t *testing.T) {
	_, err := Parse([]byte("not a calendar"), time.UTC)
	assert.Error(t, err)
}

func TestExportRoundTrips(t *testing.T) {
	start := time.Date(2025, 1, 6, 18, 0, 0, 0, time.UTC)
	b, err := Export([]ExportEvent{{
		UID:     "exp-1",
		Summary: "Main Show",
		Start:   start,
		End:     start.Add(4 * time.Hour),
	}}, "-//test//test//EN")
	require.NoError(t, err)

	rows, err := Parse(b, time.UTC)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "exp-1", rows[0].UID)
	assert.Equal(t, "Main Show", rows[0].Summary)
	assert.Equal(t, start, rows[0].Start)
}
