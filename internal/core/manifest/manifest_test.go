package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/schedsync/internal/core/identity"
	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

func testTiming(startDate, endDate string) intent.Timing {
	return intent.Timing{
		StartDate: intent.HardDateString(startDate),
		EndDate:   intent.HardDateString(endDate),
		StartTime: intent.HardTime("18:00:00"),
		EndTime:   intent.HardTime("22:00:00"),
		Days:      intent.WeeklyDays(intent.MaskOf(intent.Monday)),
	}
}

func testIntent(t *testing.T, target, startDate, endDate string) *intent.Intent {
	t.Helper()
	id := intent.Identity{
		Type:   intent.TypePlaylist,
		Target: target,
		Timing: intent.Timing{
			StartTime: intent.HardTime("18:00:00"),
			EndTime:   intent.HardTime("22:00:00"),
			Days:      intent.WeeklyDays(intent.MaskOf(intent.Monday)),
		},
	}
	hash, err := identity.HashIdentity(id.CanonicalMap())
	require.NoError(t, err)

	sub := intent.SubEvent{
		Timing:   testTiming(startDate, endDate),
		Behavior: intent.DefaultBehavior(),
		Payload:  map[string]any{},
	}
	sm, err := sub.StateMap()
	require.NoError(t, err)
	sub.StateHash, err = identity.Hash(sm)
	require.NoError(t, err)

	return &intent.Intent{
		IdentityHash: hash,
		Identity:     id,
		Ownership:    intent.Ownership{Managed: true, Controller: "calendar"},
		SubEvents:    []intent.SubEvent{sub},
		StateHash:    identity.HashStrings([]string{sub.StateHash}),
	}
}

func TestPlanMergesIntentsSharingIdentity(t *testing.T) {
	a := testIntent(t, "Main Show", "2025-01-06", "2025-01-27")
	b := testIntent(t, "Main Show", "2025-03-03", "2025-03-31")
	require.Equal(t, a.IdentityHash, b.IdentityHash)

	m, err := Plan([]*intent.Intent{a, b}, 100)
	require.NoError(t, err)
	require.Len(t, m.Events, 1)

	ev := m.Events[a.IdentityHash]
	require.Len(t, ev.SubEvents, 2)
	assert.Equal(t, "2025-01-06", ev.SubEvents[0].Timing["start_date"])
	assert.Equal(t, "2025-03-03", ev.SubEvents[1].Timing["start_date"])
	assert.NoError(t, Validate(m))
}

func TestPlanIsOrderIndependent(t *testing.T) {
	a := testIntent(t, "Main Show", "2025-01-06", "2025-01-27")
	b := testIntent(t, "Main Show", "2025-03-03", "2025-03-31")
	c := testIntent(t, "Other Show", "2025-01-06", "2025-01-27")

	m1, err := Plan([]*intent.Intent{a, b, c}, 100)
	require.NoError(t, err)
	m2, err := Plan([]*intent.Intent{c, b, a}, 100)
	require.NoError(t, err)

	b1, err := m1.Encode()
	require.NoError(t, err)
	b2, err := m2.Encode()
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestPlanRejectsMissingIdentityHash(t *testing.T) {
	in := testIntent(t, "Main Show", "2025-01-06", "2025-01-27")
	in.IdentityHash = ""
	_, err := Plan([]*intent.Intent{in}, 100)
	require.Error(t, err)
	assert.True(t, syncerr.IsCode(err, syncerr.CodeInvariantViolation))
}

func TestValidateCatchesTamperedIdentity(t *testing.T) {
	in := testIntent(t, "Main Show", "2025-01-06", "2025-01-27")
	m, err := Plan([]*intent.Intent{in}, 100)
	require.NoError(t, err)

	m.Events[in.IdentityHash].Identity["target"] = "Tampered"
	err = Validate(m)
	require.Error(t, err)
	assert.True(t, syncerr.IsCode(err, syncerr.CodeInvariantViolation))
}

func TestValidateCatchesTamperedStateHash(t *testing.T) {
	in := testIntent(t, "Main Show", "2025-01-06", "2025-01-27")
	m, err := Plan([]*intent.Intent{in}, 100)
	require.NoError(t, err)

	m.Events[in.IdentityHash].SubEvents[0].StateHash = identity.HashStrings([]string{"x"})
	err = Validate(m)
	require.Error(t, err)
	assert.True(t, syncerr.IsCode(err, syncerr.CodeInvariantViolation))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := testIntent(t, "Main Show", "2025-01-06", "2025-01-27")
	m, err := Plan([]*intent.Intent{in}, 100)
	require.NoError(t, err)

	b, err := m.Encode()
	require.NoError(t, err)
	back, err := Decode(b)
	require.NoError(t, err)
	require.NoError(t, Validate(back))

	b2, err := back.Encode()
	require.NoError(t, err)
	assert.Equal(t, b, b2)
}

func TestDecodeGarbageIsIOError(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, syncerr.IsCode(err, syncerr.CodeIOError))
}

func TestCompareCreatesUpdatesDeletes(t *testing.T) {
	a := testIntent(t, "Main Show", "2025-01-06", "2025-01-27")
	b := testIntent(t, "Other Show", "2025-01-06", "2025-01-27")
	current, err := Plan([]*intent.Intent{a, b}, 100)
	require.NoError(t, err)

	// Next drops b and changes a's window.
	a2 := testIntent(t, "Main Show", "2025-02-03", "2025-02-24")
	next, err := Plan([]*intent.Intent{a2}, 200)
	require.NoError(t, err)

	diff, err := Compare(next, current)
	require.NoError(t, err)
	assert.Empty(t, diff.Creates)
	require.Len(t, diff.Updates, 1)
	assert.Equal(t, a.IdentityHash, diff.Updates[0].IdentityHash)
	require.Len(t, diff.Deletes, 1)
	assert.Equal(t, b.IdentityHash, diff.Deletes[0].IdentityHash)
}

func TestCompareAgainstNilCurrentCreatesAll(t *testing.T) {
	next, err := Plan([]*intent.Intent{testIntent(t, "Main Show", "2025-01-06", "2025-01-27")}, 100)
	require.NoError(t, err)

	diff, err := Compare(next, nil)
	require.NoError(t, err)
	assert.Len(t, diff.Creates, 1)
	assert.Empty(t, diff.Updates)
	assert.Empty(t, diff.Deletes)
}

func TestCompareEqualManifestsIsEmpty(t *testing.T) {
	a := testIntent(t, "Main Show", "2025-01-06", "2025-01-27")
	m1, err := Plan([]*intent.Intent{a}, 100)
	require.NoError(t, err)
	m2, err := Plan([]*intent.Intent{testIntent(t, "Main Show", "2025-01-06", "2025-01-27")}, 900)
	require.NoError(t, err)

	diff, err := Compare(m2, m1)
	require.NoError(t, err)
	assert.True(t, diff.IsEmpty())
}

func TestCompareNeverTouchesUnmanaged(t *testing.T) {
	a := testIntent(t, "Main Show", "2025-01-06", "2025-01-27")
	a.Ownership = intent.Ownership{Managed: false, Controller: "scheduler"}
	current, err := Plan([]*intent.Intent{a}, 100)
	require.NoError(t, err)

	diff, err := Compare(New(200), current)
	require.NoError(t, err)
	assert.True(t, diff.IsEmpty())
}

func TestCompareRefusesUnmanagedTakeover(t *testing.T) {
	a := testIntent(t, "Main Show", "2025-01-06", "2025-01-27")
	a.Ownership = intent.Ownership{Managed: false, Controller: "scheduler"}
	current, err := Plan([]*intent.Intent{a}, 100)
	require.NoError(t, err)

	next, err := Plan([]*intent.Intent{testIntent(t, "Main Show", "2025-01-06", "2025-01-27")}, 200)
	require.NoError(t, err)

	_, err = Compare(next, current)
	require.Error(t, err)
	assert.True(t, syncerr.IsCode(err, syncerr.CodeSafetyStop))
}

func TestUpsertRejectsIdentityMutation(t *testing.T) {
	in := testIntent(t, "Main Show", "2025-01-06", "2025-01-27")
	m, err := Plan([]*intent.Intent{in}, 100)
	require.NoError(t, err)

	mutated := m.Events[in.IdentityHash].Clone()
	mutated.Identity["target"] = "Tampered"
	err = Upsert(m, mutated)
	require.Error(t, err)
	assert.True(t, syncerr.IsCode(err, syncerr.CodeInvariantViolation))
}

func TestCloneIsDeep(t *testing.T) {
	in := testIntent(t, "Main Show", "2025-01-06", "2025-01-27")
	m, err := Plan([]*intent.Intent{in}, 100)
	require.NoError(t, err)

	orig := m.Events[in.IdentityHash]
	cp := orig.Clone()
	cp.Identity["target"] = "Changed"
	cp.SubEvents[0].Timing["start_date"] = "1999-01-01"

	assert.Equal(t, "Main Show", orig.Identity["target"])
	assert.Equal(t, "2025-01-06", orig.SubEvents[0].Timing["start_date"])
}
