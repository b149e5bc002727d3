package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflow/taskflow/internal/engine"
	"github.com/taskflow/taskflow/internal/ir"
)

func computeEv(seq int64, status string, version int64) engine.TraceEvent {
	return engine.TraceEvent{
		Type:      engine.TraceCompute,
		IntentID:  "intent-1",
		Sequence:  seq,
		Timestamp: 1704164645000,
		Payload: ir.Object{
			"action":  ir.String("ship"),
			"input":   ir.Object{},
			"status":  ir.String(status),
			"version": ir.Int(version),
		},
	}
}

func effectEv(seq int64, effectType, requirementID, path string) engine.TraceEvent {
	return engine.TraceEvent{
		Type:      engine.TraceEffect,
		IntentID:  "intent-1",
		Sequence:  seq,
		Timestamp: 1704164645000,
		Payload: ir.Object{
			"effect_type":    ir.String(effectType),
			"requirement_id": ir.String(requirementID),
			"success":        ir.Bool(true),
			"patches": ir.Array{
				ir.Object{
					"op":    ir.String("set"),
					"path":  ir.String(path),
					"value": ir.Bool(true),
				},
			},
		},
	}
}

func TestTracesMatchIdentical(t *testing.T) {
	trace := []engine.TraceEvent{
		computeEv(1, "pending", 2),
		effectEv(2, "reserve", "ship/0", "data.reserved"),
		computeEv(3, "complete", 4),
	}

	ok, err := tracesMatch(trace, trace)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTracesMatchReorderedBatchEffects(t *testing.T) {
	recorded := []engine.TraceEvent{
		computeEv(1, "pending", 2),
		effectEv(2, "reserve", "ship/0", "data.reserved"),
		effectEv(3, "notify", "ship/1", "data.notified"),
		computeEv(4, "complete", 5),
	}
	// The same batch, with the effect goroutines winning the sequence
	// race in the opposite order.
	replayed := []engine.TraceEvent{
		computeEv(1, "pending", 2),
		effectEv(2, "notify", "ship/1", "data.notified"),
		effectEv(3, "reserve", "ship/0", "data.reserved"),
		computeEv(4, "complete", 5),
	}

	ok, err := tracesMatch(recorded, replayed)
	require.NoError(t, err)
	assert.True(t, ok, "effect order within a batch is scheduling noise")
}

func TestTracesMatchToleratesMidBatchRetry(t *testing.T) {
	recorded := []engine.TraceEvent{
		computeEv(1, "pending", 2),
		effectEv(2, "reserve", "ship/0", "data.reserved"),
		effectEv(3, "notify", "ship/1", "data.notified"),
		computeEv(4, "complete", 5),
	}
	// One fulfillment landed before the other, so the evaluator ran an
	// extra time mid-batch.
	replayed := []engine.TraceEvent{
		computeEv(1, "pending", 2),
		effectEv(2, "reserve", "ship/0", "data.reserved"),
		computeEv(3, "pending", 3),
		effectEv(4, "notify", "ship/1", "data.notified"),
		computeEv(5, "complete", 5),
	}

	ok, err := tracesMatch(recorded, replayed)
	require.NoError(t, err)
	assert.True(t, ok, "an extra evaluator retry is scheduling noise")
}

func TestTracesMatchDetectsDivergence(t *testing.T) {
	recorded := []engine.TraceEvent{
		computeEv(1, "pending", 2),
		effectEv(2, "reserve", "ship/0", "data.reserved"),
		computeEv(3, "complete", 4),
	}

	t.Run("different effect result", func(t *testing.T) {
		replayed := []engine.TraceEvent{
			computeEv(1, "pending", 2),
			effectEv(2, "reserve", "ship/0", "data.other"),
			computeEv(3, "complete", 4),
		}
		ok, err := tracesMatch(recorded, replayed)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing effect", func(t *testing.T) {
		replayed := []engine.TraceEvent{
			computeEv(1, "pending", 2),
			computeEv(2, "complete", 4),
		}
		ok, err := tracesMatch(recorded, replayed)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("different terminal verdict", func(t *testing.T) {
		replayed := []engine.TraceEvent{
			computeEv(1, "pending", 2),
			effectEv(2, "reserve", "ship/0", "data.reserved"),
			computeEv(3, "error", 3),
		}
		ok, err := tracesMatch(recorded, replayed)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("different first compute", func(t *testing.T) {
		replayed := []engine.TraceEvent{
			computeEv(1, "pending", 3),
			effectEv(2, "reserve", "ship/0", "data.reserved"),
			computeEv(3, "complete", 4),
		}
		ok, err := tracesMatch(recorded, replayed)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestReplayMultiEffectBatch(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")

	data := executeRun(t, "testdata/ship.yaml",
		"--action", "ship",
		"--handlers", "testdata/handlers_ship.yaml",
		"--db", db,
	)
	require.Equal(t, "complete", data["status"])
	intentID, ok := data["intent_id"].(string)
	require.True(t, ok)

	buf := &bytes.Buffer{}
	replay := NewReplayCommand(&RootOptions{Format: "text"})
	replay.SetOut(buf)
	replay.SetArgs([]string{"testdata/ship.yaml", "--db", db, "--intent", intentID})
	require.NoError(t, replay.Execute())
	assert.Contains(t, buf.String(), "deterministic")
}
