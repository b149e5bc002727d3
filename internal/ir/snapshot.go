package ir

import (
	"time"
)

// Status describes a snapshot's effect-wait state.
type Status string

const (
	// StatusIdle means the snapshot is not waiting on any effect.
	StatusIdle Status = "idle"
	// StatusPending means one or more requirements await fulfillment.
	StatusPending Status = "pending"
	// StatusError means the last applied patches recorded an effect
	// failure that the flow has not (yet) recovered from.
	StatusError Status = "error"
)

// Intent is a request to run a named action with an input payload.
// The ID is immutable and unique; it is the sole key for deterministic
// derivations and must never change during an execution.
type Intent struct {
	ID     string
	Action string
	Input  Object
}

// Requirement is a pending effect request carried inside a snapshot.
// Created by the evaluator, removed when its effect is fulfilled or
// fails terminally. The ID is unique within the snapshot.
type Requirement struct {
	ID         string `json:"id"`
	EffectType string `json:"effect_type"`
	Params     Object `json:"params,omitempty"`
	Position   string `json:"position"`
}

// ErrorInfo is a structured record of an effect or evaluator failure.
type ErrorInfo struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	EffectType    string `json:"effect_type,omitempty"`
	RequirementID string `json:"requirement_id,omitempty"`
}

// SystemState holds the host-managed portion of a snapshot.
type SystemState struct {
	Status              Status        `json:"status"`
	LastError           *ErrorInfo    `json:"last_error,omitempty"`
	Errors              []ErrorInfo   `json:"errors,omitempty"`
	PendingRequirements []Requirement `json:"pending_requirements,omitempty"`
	CurrentAction       string        `json:"current_action,omitempty"`
}

// Meta carries snapshot provenance. Timestamp and RandomSeed come from
// the frozen per-intent host context, which is what makes two runs of
// the same intent byte-identical.
type Meta struct {
	Version    int64  `json:"version"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
	RandomSeed int64  `json:"random_seed"`
	SchemaHash string `json:"schema_hash,omitempty"`
}

// Snapshot is an immutable point-in-time state value. It is never
// mutated in place: every transition produces a new snapshot via
// ApplyPatches.
type Snapshot struct {
	Data     Object      `json:"data"`
	Computed Object      `json:"computed,omitempty"`
	System   SystemState `json:"system"`
	Meta     Meta        `json:"meta"`
}

// HostContext is the frozen per-intent deterministic view. It is
// derived once per intent id and handed unchanged to every evaluator
// and patch-application call for that intent's entire lifetime.
type HostContext struct {
	IntentID   string
	Now        time.Time
	RandomSeed int64
}

// Genesis creates a fresh idle snapshot for an execution key.
func Genesis(data Object, schemaHash string) Snapshot {
	if data == nil {
		data = Object{}
	}
	return Snapshot{
		Data:     data,
		Computed: Object{},
		System:   SystemState{Status: StatusIdle},
		Meta:     Meta{Version: 0, SchemaHash: schemaHash},
	}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Data = s.Data.Clone()
	out.Computed = s.Computed.Clone()
	out.System = s.System.clone()
	return out
}

func (sys SystemState) clone() SystemState {
	out := sys
	if sys.LastError != nil {
		le := *sys.LastError
		out.LastError = &le
	}
	if sys.Errors != nil {
		out.Errors = make([]ErrorInfo, len(sys.Errors))
		copy(out.Errors, sys.Errors)
	}
	if sys.PendingRequirements != nil {
		out.PendingRequirements = make([]Requirement, len(sys.PendingRequirements))
		for i, r := range sys.PendingRequirements {
			r.Params = r.Params.Clone()
			out.PendingRequirements[i] = r
		}
	}
	return out
}

// Requirement returns the pending requirement with the given id, if any.
func (s Snapshot) Requirement(id string) (Requirement, bool) {
	for _, r := range s.System.PendingRequirements {
		if r.ID == id {
			return r, true
		}
	}
	return Requirement{}, false
}

// Body converts the snapshot to a canonical-JSON-compatible Object.
// Used for content hashing and durable storage.
func (s Snapshot) Body() Object {
	sys := Object{
		"status": String(s.System.Status),
	}
	if s.System.CurrentAction != "" {
		sys["current_action"] = String(s.System.CurrentAction)
	}
	if s.System.LastError != nil {
		sys["last_error"] = errorInfoObject(*s.System.LastError)
	}
	if len(s.System.Errors) > 0 {
		errs := make(Array, len(s.System.Errors))
		for i, e := range s.System.Errors {
			errs[i] = errorInfoObject(e)
		}
		sys["errors"] = errs
	}
	if len(s.System.PendingRequirements) > 0 {
		reqs := make(Array, len(s.System.PendingRequirements))
		for i, r := range s.System.PendingRequirements {
			req := Object{
				"id":          String(r.ID),
				"effect_type": String(r.EffectType),
				"position":    String(r.Position),
			}
			if len(r.Params) > 0 {
				req["params"] = r.Params
			}
			reqs[i] = req
		}
		sys["pending_requirements"] = reqs
	}

	meta := Object{
		"version":     Int(s.Meta.Version),
		"timestamp":   Int(s.Meta.Timestamp),
		"random_seed": Int(s.Meta.RandomSeed),
	}
	if s.Meta.SchemaHash != "" {
		meta["schema_hash"] = String(s.Meta.SchemaHash)
	}

	return Object{
		"data":     s.Data,
		"computed": s.Computed,
		"system":   sys,
		"meta":     meta,
	}
}

func errorInfoObject(e ErrorInfo) Object {
	obj := Object{
		"code":    String(e.Code),
		"message": String(e.Message),
	}
	if e.EffectType != "" {
		obj["effect_type"] = String(e.EffectType)
	}
	if e.RequirementID != "" {
		obj["requirement_id"] = String(e.RequirementID)
	}
	return obj
}

// Hash returns the content-addressed hash of the snapshot.
func (s Snapshot) Hash() (string, error) {
	return SnapshotHash(s.Body())
}
