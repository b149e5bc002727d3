package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() HostContext {
	return HostContext{
		IntentID:   "intent-1",
		Now:        time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		RandomSeed: 42,
	}
}

func TestApplyPatchesImmutable(t *testing.T) {
	snap := Genesis(Object{"count": Int(1)}, "h")

	next, err := ApplyPatches(snap, []Patch{Set("data.count", Int(2))}, testContext())
	require.NoError(t, err)

	assert.Equal(t, Int(1), snap.Data["count"], "input snapshot must not change")
	assert.Equal(t, Int(2), next.Data["count"])
}

func TestApplyPatchesStampsMeta(t *testing.T) {
	snap := Genesis(nil, "h")
	hc := testContext()

	next, err := ApplyPatches(snap, []Patch{Set("data.x", Int(1))}, hc)
	require.NoError(t, err)

	assert.Equal(t, int64(1), next.Meta.Version)
	assert.Equal(t, hc.Now.UnixMilli(), next.Meta.Timestamp)
	assert.Equal(t, int64(42), next.Meta.RandomSeed)
	assert.Equal(t, "h", next.Meta.SchemaHash)
}

func TestApplyPatchesAtomicFailure(t *testing.T) {
	snap := Genesis(Object{"count": Int(1)}, "h")

	_, err := ApplyPatches(snap, []Patch{
		Set("data.count", Int(2)),
		{Op: "bogus", Path: "data.x"},
	}, testContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown patch op")
}

func TestApplySystemStatus(t *testing.T) {
	snap := Genesis(nil, "h")

	next, err := ApplyPatches(snap, []Patch{
		Set("system.status", String(StatusError)),
	}, testContext())
	require.NoError(t, err)
	assert.Equal(t, StatusError, next.System.Status)

	// Arbitrary system paths are rejected: the host owns that section.
	_, err = ApplyPatches(snap, []Patch{Set("system.custom", Int(1))}, testContext())
	require.Error(t, err)
}

func TestApplyLastErrorAppendsHistory(t *testing.T) {
	snap := Genesis(nil, "h")

	first, err := ApplyPatches(snap, []Patch{
		Set("system.last_error", Object{"code": String("EFFECT_FAILED"), "message": String("one")}),
	}, testContext())
	require.NoError(t, err)

	second, err := ApplyPatches(first, []Patch{
		Set("system.last_error", Object{"code": String("EFFECT_FAILED"), "message": String("two")}),
	}, testContext())
	require.NoError(t, err)

	require.NotNil(t, second.System.LastError)
	assert.Equal(t, "two", second.System.LastError.Message)
	require.Len(t, second.System.Errors, 2)
	assert.Equal(t, "one", second.System.Errors[0].Message)
	assert.Equal(t, "two", second.System.Errors[1].Message)

	// Unset clears the current error but keeps the history.
	cleared, err := ApplyPatches(second, []Patch{Unset("system.last_error")}, testContext())
	require.NoError(t, err)
	assert.Nil(t, cleared.System.LastError)
	assert.Len(t, cleared.System.Errors, 2)
}

func TestStatusNormalization(t *testing.T) {
	snap := Genesis(nil, "h")
	hc := testContext()

	// Requirements flip idle to pending.
	pending := WithRequirements(snap, []Requirement{
		{ID: "a/0", EffectType: "http_get", Position: "a/0"},
	}, hc)
	assert.Equal(t, StatusPending, pending.System.Status)
	assert.Equal(t, int64(1), pending.Meta.Version)

	// Clearing the last requirement reverts pending to idle.
	cleared, err := ApplyPatches(pending, ClearRequirementPatches("a/0"), hc)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, cleared.System.Status)
	assert.Empty(t, cleared.System.PendingRequirements)

	// An explicit error status survives normalization.
	failed, err := ApplyPatches(pending, FailurePatches(
		Requirement{ID: "a/0", EffectType: "http_get"}, ErrCodeEffectFailed, "boom"), hc)
	require.NoError(t, err)
	assert.Equal(t, StatusError, failed.System.Status)
	assert.Empty(t, failed.System.PendingRequirements)
	require.NotNil(t, failed.System.LastError)
	assert.Equal(t, "boom", failed.System.LastError.Message)
	assert.Equal(t, "a/0", failed.System.LastError.RequirementID)
}

func TestUnsetRequirementByID(t *testing.T) {
	snap := Genesis(nil, "h")
	hc := testContext()
	pending := WithRequirements(snap, []Requirement{
		{ID: "a/0", EffectType: "x", Position: "a/0"},
		{ID: "a/1", EffectType: "y", Position: "a/1"},
	}, hc)

	next, err := ApplyPatches(pending, ClearRequirementPatches("a/0"), hc)
	require.NoError(t, err)
	require.Len(t, next.System.PendingRequirements, 1)
	assert.Equal(t, "a/1", next.System.PendingRequirements[0].ID)
	assert.Equal(t, StatusPending, next.System.Status)
}

func TestSnapshotHashByteIdentical(t *testing.T) {
	hc := testContext()
	build := func() Snapshot {
		snap := Genesis(Object{"count": Int(0)}, "h")
		next, err := ApplyPatches(snap, []Patch{
			Set("data.count", Int(1)),
			Set("computed.double", Int(2)),
		}, hc)
		require.NoError(t, err)
		return next
	}

	first, err := build().Hash()
	require.NoError(t, err)
	second, err := build().Hash()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
