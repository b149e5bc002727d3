package engine

import (
	"fmt"

	"github.com/taskflow/taskflow/internal/flow"
	"github.com/taskflow/taskflow/internal/ir"
)

// FlowEvaluator adapts a compiled flow definition to the Evaluator
// contract. flow.Compute is pure, which is all the engine requires.
type FlowEvaluator struct {
	flow *flow.Flow
}

// NewFlowEvaluator wraps a compiled flow.
func NewFlowEvaluator(f *flow.Flow) *FlowEvaluator {
	return &FlowEvaluator{flow: f}
}

// Compute implements Evaluator.
func (fe *FlowEvaluator) Compute(snap ir.Snapshot, intent ir.Intent, hc ir.HostContext) (ComputeResult, error) {
	res, err := flow.Compute(fe.flow, snap, intent, hc)
	if err != nil {
		return ComputeResult{}, err
	}

	var status ComputeStatus
	switch res.Status {
	case flow.StatusComplete:
		status = ComputeComplete
	case flow.StatusHalted:
		status = ComputeHalted
	case flow.StatusPending:
		status = ComputePending
	case flow.StatusError:
		status = ComputeError
	default:
		return ComputeResult{}, fmt.Errorf("flow evaluator returned unknown status %q", res.Status)
	}

	return ComputeResult{
		Status:       status,
		Snapshot:     res.Snapshot,
		Requirements: res.Requirements,
	}, nil
}

// HasAction implements Evaluator.
func (fe *FlowEvaluator) HasAction(name string) bool {
	return fe.flow.HasAction(name)
}

// SchemaHash implements Evaluator.
func (fe *FlowEvaluator) SchemaHash() string {
	return fe.flow.Hash()
}

// EffectTypes exposes the flow's declared effect types for registry
// validation at startup.
func (fe *FlowEvaluator) EffectTypes() []string {
	return fe.flow.EffectTypes()
}
