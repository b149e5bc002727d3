package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflow/taskflow/internal/ir"
)

func testDrain(t *testing.T) *drain {
	t.Helper()
	return &drain{
		engine: &Engine{},
		ec:     newExecutionContext("k", ir.Genesis(ir.Object{"count": ir.Int(1)}, "h")),
		intent: ir.Intent{ID: "intent-2", Action: "fetch", Input: ir.Object{}},
		hc: ir.HostContext{
			IntentID:   "intent-2",
			Now:        time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			RandomSeed: 42,
		},
		inflight: map[string]struct{}{"fetch/0": {}},
	}
}

func TestDrainDiscardsStaleFulfillment(t *testing.T) {
	d := testDrain(t)
	before := d.ec.CurrentSnapshot()

	// A fulfillment from a previous intent arrives after the execution
	// moved on. It must not touch the snapshot, the in-flight set or
	// the queue.
	stale := fulfillEffectJob(ir.Intent{ID: "intent-1"}, "fetch/0",
		[]ir.Patch{ir.Set("data.count", ir.Int(99))}, nil)
	d.process(context.Background(), stale)

	after := d.ec.CurrentSnapshot()
	assert.Equal(t, ir.Int(1), after.Data["count"])
	assert.Equal(t, before.Meta.Version, after.Meta.Version)
	assert.Equal(t, 0, d.ec.mailbox.Len(), "a discarded fulfillment schedules nothing")
	assert.Nil(t, d.terminal)
	_, stillInflight := d.inflight["fetch/0"]
	assert.True(t, stillInflight)
}

func TestDrainDiscardsStaleFailedFulfillment(t *testing.T) {
	d := testDrain(t)

	stale := fulfillEffectJob(ir.Intent{ID: "intent-1"}, "fetch/0", nil, &ir.ErrorInfo{
		Code:    ir.ErrCodeEffectFailed,
		Message: "connection reset",
	})
	d.process(context.Background(), stale)

	after := d.ec.CurrentSnapshot()
	assert.Nil(t, after.System.LastError, "a stale failure is not recorded into state")
	assert.Equal(t, ir.StatusIdle, after.System.Status)
	assert.Equal(t, 0, d.ec.mailbox.Len())
}

func TestDrainDiscardsStaleContinue(t *testing.T) {
	// The engine has no evaluator wired; reaching compute would panic.
	// The intent-id guard must drop the job first.
	d := testDrain(t)

	assert.NotPanics(t, func() {
		d.process(context.Background(), continueComputeJob(ir.Intent{ID: "intent-1"}))
	})
	assert.Nil(t, d.terminal)
	assert.Equal(t, 0, d.ec.mailbox.Len())
}

func TestDrainAppliesActiveFulfillment(t *testing.T) {
	d := testDrain(t)

	active := fulfillEffectJob(d.intent, "fetch/0",
		[]ir.Patch{ir.Set("data.count", ir.Int(2))}, nil)
	d.process(context.Background(), active)

	after := d.ec.CurrentSnapshot()
	assert.Equal(t, ir.Int(2), after.Data["count"])
	assert.Empty(t, d.inflight)

	job, ok := d.ec.mailbox.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, JobContinueCompute, job.Type)
	assert.Equal(t, "intent-2", job.IntentID)
}
