package engine

import (
	"github.com/taskflow/taskflow/internal/ir"
)

// JobType distinguishes the closed set of work-unit variants. No state
// transition happens outside this set.
type JobType int

const (
	// JobStartIntent begins processing a freshly dispatched intent.
	JobStartIntent JobType = iota + 1
	// JobContinueCompute re-invokes the evaluator after effect results
	// have been applied.
	JobContinueCompute
	// JobFulfillEffect applies one effect's outcome to the snapshot.
	JobFulfillEffect
	// JobApplyPatches applies a housekeeping patch set with no
	// associated requirement.
	JobApplyPatches
)

func (t JobType) String() string {
	switch t {
	case JobStartIntent:
		return "start_intent"
	case JobContinueCompute:
		return "continue_compute"
	case JobFulfillEffect:
		return "fulfill_effect"
	case JobApplyPatches:
		return "apply_patches"
	default:
		return "unknown"
	}
}

// Job is the only unit of scheduled work. Each job carries enough
// information to be processed without consulting mutable state outside
// the owning execution context's snapshot.
type Job struct {
	Type     JobType
	IntentID string
	Intent   ir.Intent

	// FulfillEffect fields.
	RequirementID string
	ResultPatches []ir.Patch
	EffectError   *ir.ErrorInfo

	// ApplyPatches fields.
	Patches []ir.Patch
	Source  string
}

// startIntentJob builds the job that kicks off an intent.
func startIntentJob(intent ir.Intent) Job {
	return Job{Type: JobStartIntent, IntentID: intent.ID, Intent: intent}
}

// continueComputeJob builds the job that loops back into the evaluator.
func continueComputeJob(intent ir.Intent) Job {
	return Job{Type: JobContinueCompute, IntentID: intent.ID, Intent: intent}
}

// fulfillEffectJob builds the job delivered when an async effect
// completes. On failure, effectErr describes the failure and
// resultPatches is nil.
func fulfillEffectJob(intent ir.Intent, requirementID string, resultPatches []ir.Patch, effectErr *ir.ErrorInfo) Job {
	return Job{
		Type:          JobFulfillEffect,
		IntentID:      intent.ID,
		Intent:        intent,
		RequirementID: requirementID,
		ResultPatches: resultPatches,
		EffectError:   effectErr,
	}
}
