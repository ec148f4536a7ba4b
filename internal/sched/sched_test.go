package sched

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/resolve"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

func TestDecodeDaySingleAndNamed(t *testing.T) {
	d, err := DecodeDay(1)
	require.NoError(t, err)
	assert.Equal(t, intent.WeeklyDays(intent.MaskOf(intent.Monday)), d)

	d, err = DecodeDay(DayEveryday)
	require.NoError(t, err)
	assert.Equal(t, intent.WeeklyDays(intent.AllWeek), d)

	d, err = DecodeDay(DayWeekdays)
	require.NoError(t, err)
	assert.Equal(t, 5, d.Weekly.Count())
	assert.False(t, d.Weekly.Has(intent.Saturday))
	assert.False(t, d.Weekly.Has(intent.Sunday))

	d, err = DecodeDay(DayMonWedFri)
	require.NoError(t, err)
	assert.Equal(t, intent.MaskOf(intent.Monday, intent.Wednesday, intent.Friday), d.Weekly)
}

func TestDecodeDayParity(t *testing.T) {
	d, err := DecodeDay(DayOddDates)
	require.NoError(t, err)
	assert.Equal(t, intent.ParityDays(intent.ParityOdd), d)

	d, err = DecodeDay(DayEvenDates)
	require.NoError(t, err)
	assert.Equal(t, intent.ParityDays(intent.ParityEven), d)
}

func TestDecodeDayBitmask(t *testing.T) {
	// SU and SA bits under the mask flag.
	day := DayMaskFlag | 0x04000 | 0x00100
	d, err := DecodeDay(day)
	require.NoError(t, err)
	assert.Equal(t, intent.MaskOf(intent.Sunday, intent.Saturday), d.Weekly)
}

func TestDecodeDayBitmaskWithoutBitsIsFatal(t *testing.T) {
	_, err := DecodeDay(DayMaskFlag)
	require.Error(t, err)
	assert.True(t, syncerr.IsCode(err, syncerr.CodeInvariantViolation))
}

func TestDecodeDayUnknownEnumIsFatal(t *testing.T) {
	_, err := DecodeDay(42)
	require.Error(t, err)
	assert.True(t, syncerr.IsCode(err, syncerr.CodeInvariantViolation))
}

func TestEncodeDayRoundTrip(t *testing.T) {
	for _, day := range []int{0, 3, 6, DayEveryday, DayWeekdays, DayWeekend,
		DayMonWedFri, DayTueThu, DaySunToThu, DayFriSat, DayOddDates, DayEvenDates} {
		d, err := DecodeDay(day)
		require.NoError(t, err)
		assert.Equal(t, day, EncodeDay(d), "day %d", day)
	}
}

func TestEncodeDayFallsBackToBitmask(t *testing.T) {
	d := intent.WeeklyDays(intent.MaskOf(intent.Monday, intent.Thursday))
	enc := EncodeDay(d)
	assert.NotZero(t, enc&DayMaskFlag)

	back, err := DecodeDay(enc)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestParseTimeSpec(t *testing.T) {
	spec, err := ParseTimeSpec("19:30")
	require.NoError(t, err)
	assert.Equal(t, intent.HardTime("19:30:00"), spec)

	spec, err = ParseTimeSpec("SunSet + 30")
	require.NoError(t, err)
	assert.Equal(t, intent.SolarTime(intent.SolarSunSet, 30), spec)

	spec, err = ParseTimeSpec("Dawn-15")
	require.NoError(t, err)
	assert.Equal(t, intent.SolarTime(intent.SolarDawn, -15), spec)

	_, err = ParseTimeSpec("25:99")
	assert.Error(t, err)
}

func TestFormatTimeSpecRoundTrip(t *testing.T) {
	for _, raw := range []string{"19:30:00", "SunSet + 30", "SunRise - 45", "Dusk"} {
		spec, err := ParseTimeSpec(raw)
		require.NoError(t, err)
		back, err := ParseTimeSpec(FormatTimeSpec(spec))
		require.NoError(t, err)
		assert.Equal(t, spec, back, raw)
	}
}

func TestParseDateSpec(t *testing.T) {
	holidays := resolve.NewHolidays(nil)

	spec, err := ParseDateSpec("2025-11-27", holidays)
	require.NoError(t, err)
	assert.Equal(t, intent.HardDateString("2025-11-27"), spec)

	spec, err = ParseDateSpec("Thanksgiving", holidays)
	require.NoError(t, err)
	assert.Equal(t, intent.HolidayDate("Thanksgiving"), spec)

	_, err = ParseDateSpec("someday", holidays)
	assert.Error(t, err)
}

func TestTagRoundTrip(t *testing.T) {
	tag := Tag{UID: "abc-123", RangeStart: "2025-01-06", RangeEnd: "2025-03-31", Days: "MO,WE,FR"}
	raw := FormatTag(tag)
	assert.Equal(t, "|GCS:v1|uid=abc-123|range=2025-01-06..2025-03-31|days=MO,WE,FR|", raw)

	back, err := ParseTag(raw)
	require.NoError(t, err)
	assert.Equal(t, tag, back)
}

func TestParseTagRejectsForeignTags(t *testing.T) {
	_, err := ParseTag("")
	assert.Error(t, err)
	_, err = ParseTag("|GCS:v2|uid=x|")
	assert.Error(t, err)
	_, err = ParseTag("user note")
	assert.Error(t, err)
}

func TestRowIsManaged(t *testing.T) {
	row := Row{Tag: FormatTag(Tag{UID: "u1", RangeStart: "2025-01-01", RangeEnd: "2025-01-31", Days: "MO"})}
	assert.True(t, row.IsManaged())
	assert.False(t, Row{Tag: "left by hand"}.IsManaged())
	assert.False(t, Row{}.IsManaged())
}

func TestStopAndRepeatCodecs(t *testing.T) {
	assert.Equal(t, "graceful", DecodeStopType(0))
	assert.Equal(t, "hard", DecodeStopType(1))
	assert.Equal(t, "graceful_loop", DecodeStopType(2))
	for _, s := range []string{"graceful", "hard", "graceful_loop"} {
		assert.Equal(t, s, DecodeStopType(EncodeStopType(s)))
	}

	assert.Equal(t, "none", DecodeRepeat(0))
	assert.Equal(t, "immediate", DecodeRepeat(1))
	assert.Equal(t, "every:15", DecodeRepeat(15))
	assert.Equal(t, 15, EncodeRepeat("every:15"))
}

func TestFileRoundTripAndMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.json")

	rows, err := ReadFile(path)
	require.NoError(t, err)
	assert.Nil(t, rows)

	in := []Row{{
		Type: "playlist", Target: "Main Show", Enabled: 1, Day: DayEveryday,
		StartTime: "18:00:00", EndTime: "22:00:00",
		StartDate: "2025-01-01", EndDate: "2025-12-31",
	}}
	require.NoError(t, WriteFile(path, in))

	out, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	mtime, err := FileMtimeEpoch(path)
	require.NoError(t, err)
	assert.Greater(t, mtime, int64(0))

	// No temp file left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
