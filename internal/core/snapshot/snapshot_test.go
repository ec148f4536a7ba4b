package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
	"github.com/sonroyaalmerol/schedsync/pkg/ics"
)

func baseRow(uid string, start time.Time) ics.Row {
	return ics.Row{UID: uid, Summary: "Main Show", Start: start, End: start.Add(4 * time.Hour)}
}

func overrideRow(uid string, original, start time.Time, cancelled bool) ics.Row {
	row := ics.Row{UID: uid, Summary: "Main Show", Start: start, End: start.Add(4 * time.Hour), RecurrenceID: &original}
	if cancelled {
		row.Status = "CANCELLED"
	}
	return row
}

func TestBuildGroupsByUID(t *testing.T) {
	mon := time.Date(2025, 1, 6, 18, 0, 0, 0, time.UTC)
	rows := []ics.Row{
		baseRow("a", mon),
		baseRow("b", mon.AddDate(0, 0, 1)),
	}
	bundles, warns, err := Build(rows)
	require.NoError(t, err)
	assert.Empty(t, warns)
	require.Len(t, bundles, 2)
	assert.Equal(t, "a", bundles["a"].Base.UID)
	assert.Equal(t, []string{"a", "b"}, UIDs(bundles))
}

func TestBuildSeparatesOverridesAndCancellations(t *testing.T) {
	mon := time.Date(2025, 1, 6, 18, 0, 0, 0, time.UTC)
	week2 := mon.AddDate(0, 0, 7)
	week3 := mon.AddDate(0, 0, 14)
	rows := []ics.Row{
		baseRow("a", mon),
		overrideRow("a", week3, week3.Add(time.Hour), false),
		overrideRow("a", week2, week2, true),
	}
	bundles, _, err := Build(rows)
	require.NoError(t, err)
	b := bundles["a"]

	require.Len(t, b.CancelledDates, 1)
	assert.Equal(t, week2, b.CancelledDates[0])
	require.Len(t, b.Overrides, 1)
	assert.Equal(t, week3, b.Overrides[0].OriginalStart)
	assert.Len(t, b.SourceRows, 3)
}

func TestBuildSortsOverridesByOriginalStart(t *testing.T) {
	mon := time.Date(2025, 1, 6, 18, 0, 0, 0, time.UTC)
	week2 := mon.AddDate(0, 0, 7)
	week3 := mon.AddDate(0, 0, 14)
	rows := []ics.Row{
		baseRow("a", mon),
		overrideRow("a", week3, week3, false),
		overrideRow("a", week2, week2, false),
	}
	bundles, _, err := Build(rows)
	require.NoError(t, err)
	overrides := bundles["a"].Overrides
	require.Len(t, overrides, 2)
	assert.True(t, overrides[0].OriginalStart.Before(overrides[1].OriginalStart))
}

func TestBuildMissingUIDWarnsAndSkips(t *testing.T) {
	mon := time.Date(2025, 1, 6, 18, 0, 0, 0, time.UTC)
	bundles, warns, err := Build([]ics.Row{{Summary: "nameless", Start: mon}, baseRow("a", mon)})
	require.NoError(t, err)
	assert.Len(t, bundles, 1)
	require.Len(t, warns, 1)
	assert.Equal(t, syncerr.CodeSourceMalformed, warns[0].Code)
}

func TestBuildDuplicateBaseFirstWins(t *testing.T) {
	mon := time.Date(2025, 1, 6, 18, 0, 0, 0, time.UTC)
	first := baseRow("a", mon)
	second := baseRow("a", mon.AddDate(0, 0, 1))
	bundles, warns, err := Build([]ics.Row{first, second})
	require.NoError(t, err)
	require.Len(t, warns, 1)
	assert.Equal(t, mon, bundles["a"].Base.Start)
}

func TestBuildOrphanOverrideIsFatal(t *testing.T) {
	mon := time.Date(2025, 1, 6, 18, 0, 0, 0, time.UTC)
	_, _, err := Build([]ics.Row{overrideRow("ghost", mon, mon, false)})
	require.Error(t, err)
	assert.True(t, syncerr.IsCode(err, syncerr.CodeSourceMalformed))

	_, _, err = Build([]ics.Row{overrideRow("ghost", mon, mon, true)})
	require.Error(t, err)
	assert.True(t, syncerr.IsCode(err, syncerr.CodeSourceMalformed))
}
