// Package event defines the unit of exchange for the sync protocol: an
// append-only, content-addressed event forming a DAG through parent links.
package event

// Context scopes an event to a workspace and originating node. Events whose
// workspace falls outside a session's negotiated scope are excluded from sync.
type Context struct {
	Workspace     string `json:"workspace"`
	NodeID        string `json:"node_id"`
	SchemaVersion string `json:"schema_version"`
}

// Event is the unit exchanged and stored. The ID is a content-addressed hash
// over everything except the ID itself. Parents form the causal DAG.
//
// Actor must always be present: an event without an actor is
// identity-laundered and is rejected outright by the log and by the sync
// session. The actor is preserved verbatim in transit.
type Event struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Actor        string   `json:"actor"`
	Parents      []string `json:"parents"`
	Context      Context  `json:"context"`
	Payload      Object   `json:"payload"`
	LogicalClock int64    `json:"logical_clock"`
}

// Target payload keys, checked in order. The first present string value is
// the event's causal target for conflict detection.
var targetKeys = []string{"recordId", "setId", "targetId"}

// Target extracts the causal target identifier from the payload.
// Returns ("", false) when the event has no target, in which case it can
// never participate in a same-target conflict.
func (e *Event) Target() (string, bool) {
	for _, key := range targetKeys {
		if v, ok := e.Payload[key]; ok {
			if s, ok := v.(String); ok && s != "" {
				return string(s), true
			}
		}
	}
	return "", false
}

// IsRoot reports whether the event has no causal parents.
func (e *Event) IsRoot() bool {
	return len(e.Parents) == 0
}

// Clone returns a deep copy of the event. Parents and payload are copied so
// the clone can outlive mutations to the original.
func (e *Event) Clone() Event {
	clone := *e
	if e.Parents != nil {
		clone.Parents = make([]string, len(e.Parents))
		copy(clone.Parents, e.Parents)
	}
	if e.Payload != nil {
		clone.Payload = cloneObject(e.Payload)
	}
	return clone
}

func cloneObject(obj Object) Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Array:
		arr := make(Array, len(val))
		for i, elem := range val {
			arr[i] = cloneValue(elem)
		}
		return arr
	case Object:
		return cloneObject(val)
	default:
		// Null, String, Int, Bool are value types
		return v
	}
}
