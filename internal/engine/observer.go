package engine

import (
	"github.com/taskflow/taskflow/internal/ir"
)

// Observer carries optional per-phase callbacks for tracing and
// metrics. Observers are side-effect-observers only: they receive
// copies of immutable values and cannot alter control flow - a
// panicking observer is recovered and ignored.
type Observer struct {
	BeforeCompute func(intent ir.Intent, snap ir.Snapshot)
	AfterCompute  func(intent ir.Intent, res ComputeResult)
	BeforeEffect  func(intent ir.Intent, req ir.Requirement)
	AfterEffect   func(intent ir.Intent, req ir.Requirement, outcome Outcome)
	AfterPatches  func(snap ir.Snapshot, source string)
}

func (o Observer) beforeCompute(intent ir.Intent, snap ir.Snapshot) {
	if o.BeforeCompute == nil {
		return
	}
	defer func() { _ = recover() }()
	o.BeforeCompute(intent, snap)
}

func (o Observer) afterCompute(intent ir.Intent, res ComputeResult) {
	if o.AfterCompute == nil {
		return
	}
	defer func() { _ = recover() }()
	o.AfterCompute(intent, res)
}

func (o Observer) beforeEffect(intent ir.Intent, req ir.Requirement) {
	if o.BeforeEffect == nil {
		return
	}
	defer func() { _ = recover() }()
	o.BeforeEffect(intent, req)
}

func (o Observer) afterEffect(intent ir.Intent, req ir.Requirement, outcome Outcome) {
	if o.AfterEffect == nil {
		return
	}
	defer func() { _ = recover() }()
	o.AfterEffect(intent, req, outcome)
}

func (o Observer) afterPatches(snap ir.Snapshot, source string) {
	if o.AfterPatches == nil {
		return
	}
	defer func() { _ = recover() }()
	o.AfterPatches(snap, source)
}
