package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflow/taskflow/internal/engine"
	"github.com/taskflow/taskflow/internal/ir"
	"github.com/taskflow/taskflow/internal/store"
	"github.com/taskflow/taskflow/internal/testutil"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func computeEvent(intentID string, seq int64, status string, version int64) engine.TraceEvent {
	return engine.TraceEvent{
		Type:      engine.TraceCompute,
		IntentID:  intentID,
		Sequence:  seq,
		Timestamp: testutil.FixedInstant.UnixMilli(),
		Payload: ir.Object{
			"action":  ir.String("fetch"),
			"input":   ir.Object{"url": ir.String("https://example.test")},
			"status":  ir.String(status),
			"version": ir.Int(version),
		},
	}
}

func effectEvent(intentID string, seq int64) engine.TraceEvent {
	return engine.TraceEvent{
		Type:      engine.TraceEffect,
		IntentID:  intentID,
		Sequence:  seq,
		Timestamp: testutil.FixedInstant.UnixMilli(),
		Payload: ir.Object{
			"effect_type":    ir.String("http_get"),
			"requirement_id": ir.String("fetch/0"),
			"success":        ir.Bool(true),
			"patches": ir.Array{
				ir.Object{
					"op":    ir.String("set"),
					"path":  ir.String("data.body"),
					"value": ir.String("hello"),
				},
			},
		},
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	s, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.WriteTraceEvent(context.Background(), computeEvent("intent-1", 1, "complete", 2)))
	require.NoError(t, s.Close())

	// Reopening applies the schema again without losing data.
	s, err = store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	events, err := s.ReadTrace(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestWriteTraceEventIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := computeEvent("intent-1", 1, "complete", 2)
	require.NoError(t, s.WriteTraceEvent(ctx, ev))

	// A duplicate (intent_id, sequence) is ignored; the first write
	// wins even when the payload differs.
	dup := computeEvent("intent-1", 1, "pending", 1)
	require.NoError(t, s.WriteTraceEvent(ctx, dup))

	events, err := s.ReadTrace(ctx, "intent-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ir.String("complete"), events[0].Payload["status"])
}

func TestReadTraceOrdersBySequence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteTraceEvent(ctx, computeEvent("intent-1", 3, "complete", 4)))
	require.NoError(t, s.WriteTraceEvent(ctx, computeEvent("intent-1", 1, "pending", 2)))
	require.NoError(t, s.WriteTraceEvent(ctx, effectEvent("intent-1", 2)))

	events, err := s.ReadTrace(ctx, "intent-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(1), events[0].Sequence)
	assert.Equal(t, int64(2), events[1].Sequence)
	assert.Equal(t, int64(3), events[2].Sequence)
	assert.Equal(t, engine.TraceEffect, events[1].Type)
}

func TestReadTraceUnknownIntent(t *testing.T) {
	s := openTestStore(t)

	events, err := s.ReadTrace(context.Background(), "nope")
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestListIntents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteTraceEvent(ctx, computeEvent("intent-b", 1, "complete", 2)))
	require.NoError(t, s.WriteTraceEvent(ctx, computeEvent("intent-a", 1, "complete", 2)))
	require.NoError(t, s.WriteTraceEvent(ctx, computeEvent("intent-a", 2, "complete", 3)))

	ids, err := s.ListIntents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"intent-a", "intent-b"}, ids)
}

func TestSnapshotRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hc := ir.HostContext{IntentID: "intent-1", Now: testutil.FixedInstant, RandomSeed: 42}
	snap, err := ir.ApplyPatches(ir.Genesis(ir.Object{"count": ir.Int(0)}, "schema-hash"), []ir.Patch{
		ir.Set("data.count", ir.Int(1)),
	}, hc)
	require.NoError(t, err)

	require.NoError(t, s.WriteSnapshot(ctx, "orders", snap))

	body, found, err := s.ReadSnapshot(ctx, "orders")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snap.Body(), body)
}

func TestSnapshotUpsertKeepsLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hc := ir.HostContext{IntentID: "intent-1", Now: testutil.FixedInstant, RandomSeed: 42}
	first, err := ir.ApplyPatches(ir.Genesis(nil, "h"), []ir.Patch{
		ir.Set("data.count", ir.Int(1)),
	}, hc)
	require.NoError(t, err)
	second, err := ir.ApplyPatches(first, []ir.Patch{
		ir.Set("data.count", ir.Int(2)),
	}, hc)
	require.NoError(t, err)

	require.NoError(t, s.WriteSnapshot(ctx, "orders", first))
	require.NoError(t, s.WriteSnapshot(ctx, "orders", second))

	body, found, err := s.ReadSnapshot(ctx, "orders")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second.Body(), body)
}

func TestReadSnapshotMissing(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.ReadSnapshot(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecordedIntent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteTraceEvent(ctx, computeEvent("intent-1", 1, "pending", 2)))
	require.NoError(t, s.WriteTraceEvent(ctx, effectEvent("intent-1", 2)))

	action, input, found, err := s.RecordedIntent(ctx, "intent-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "fetch", action)
	assert.Equal(t, ir.Object{"url": ir.String("https://example.test")}, input)

	_, _, found, err = s.RecordedIntent(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecordedTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteTraceEvent(ctx, computeEvent("intent-1", 1, "pending", 2)))

	ts, found, err := s.RecordedTimestamp(ctx, "intent-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, testutil.FixedInstant.UnixMilli(), ts)

	_, found, err = s.RecordedTimestamp(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecordedOutcomes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteTraceEvent(ctx, computeEvent("intent-1", 1, "pending", 2)))
	require.NoError(t, s.WriteTraceEvent(ctx, effectEvent("intent-1", 2)))
	require.NoError(t, s.WriteTraceEvent(ctx, engine.TraceEvent{
		Type:      engine.TraceEffect,
		IntentID:  "intent-1",
		Sequence:  3,
		Timestamp: testutil.FixedInstant.UnixMilli(),
		Payload: ir.Object{
			"effect_type":    ir.String("email"),
			"requirement_id": ir.String("send/0"),
			"success":        ir.Bool(false),
			"code":           ir.String(ir.ErrCodeEffectFailed),
			"message":        ir.String("smtp unavailable"),
		},
	}))

	outcomes, err := s.RecordedOutcomes(ctx, "intent-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.True(t, outcomes[0].Success)
	assert.Equal(t, "http_get", outcomes[0].EffectType)
	require.Len(t, outcomes[0].Patches, 1)
	assert.Equal(t, ir.Patch{Op: ir.OpSet, Path: "data.body", Value: ir.String("hello")}, outcomes[0].Patches[0])

	assert.False(t, outcomes[1].Success)
	assert.Equal(t, ir.ErrCodeEffectFailed, outcomes[1].Code)
	assert.Equal(t, "smtp unavailable", outcomes[1].Message)
}

func TestReplayHandlersServeRecordedOutcomes(t *testing.T) {
	handlers := store.ReplayHandlers([]store.RecordedOutcome{
		{
			RequirementID: "fetch/0",
			EffectType:    "http_get",
			Success:       true,
			Patches:       []ir.Patch{ir.Set("data.body", ir.String("hello"))},
		},
		{
			RequirementID: "send/0",
			EffectType:    "email",
			Success:       false,
			Code:          ir.ErrCodeEffectFailed,
			Message:       "smtp unavailable",
		},
	})

	ctx := context.Background()
	snap := ir.Genesis(nil, "h")

	result, err := handlers["http_get"](ctx, ir.Requirement{ID: "fetch/0", EffectType: "http_get"}, snap, ir.HostContext{})
	require.NoError(t, err)
	patches, ok := result.([]ir.Patch)
	require.True(t, ok)
	require.Len(t, patches, 1)
	assert.Equal(t, "data.body", patches[0].Path)

	_, err = handlers["email"](ctx, ir.Requirement{ID: "send/0", EffectType: "email"}, snap, ir.HostContext{})
	require.Error(t, err)
	assert.Equal(t, "smtp unavailable", err.Error())

	// The recording is exhausted; a further call is a divergence.
	_, err = handlers["http_get"](ctx, ir.Requirement{ID: "fetch/1", EffectType: "http_get"}, snap, ir.HostContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay divergence")
}

func TestSinkRecordsEngineEvents(t *testing.T) {
	s := openTestStore(t)

	r := engine.NewRecorder(store.NewSink(s))
	r.Record(engine.TraceCompute, "intent-1", testutil.FixedInstant.UnixMilli(), ir.Object{
		"action":  ir.String("fetch"),
		"input":   ir.Object{},
		"status":  ir.String("complete"),
		"version": ir.Int(2),
	})

	events, err := s.ReadTrace(context.Background(), "intent-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Sequence)
	assert.Equal(t, ir.String("fetch"), events[0].Payload["action"])
}
