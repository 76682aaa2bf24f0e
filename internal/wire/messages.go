// Package wire defines the sync protocol messages and their JSON envelope.
//
// Messages form a tagged union: the Message interface with one concrete
// struct per protocol message type. On the wire each message travels inside
// an envelope {"type": ..., "payload": ...} so transports can dispatch
// without knowing every payload shape.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/cairnlog/cairn/internal/bloom"
	"github.com/cairnlog/cairn/internal/event"
)

// ProtocolVersion is the sync protocol version this build speaks. Peers with
// a different version refuse the scope handshake.
const ProtocolVersion = "1"

// Message type tags as they appear in the envelope.
const (
	TypeScope    = "SCOPE"
	TypeScopeAck = "SCOPE_ACK"
	TypeInv      = "INV"
	TypeHave     = "HAVE"
	TypeWant     = "WANT"
	TypeSend     = "SEND"
	TypeRefuse   = "REFUSE"
	TypeConflict = "CONFLICT"
)

// Message is implemented by every protocol message.
type Message interface {
	// Type returns the envelope type tag.
	Type() string
}

// Scope opens a session: it names the workspace and frames the initiator
// wants to sync and carries its vector clock for causal positioning.
type Scope struct {
	Workspace       string           `json:"workspace"`
	Frames          []string         `json:"frames"`
	NodeID          string           `json:"node_id"`
	ProtocolVersion string           `json:"protocol_version"`
	VectorClock     map[string]int64 `json:"vector_clock"`
}

func (Scope) Type() string { return TypeScope }

// ScopeAck accepts a Scope. The responder echoes the workspace and returns
// its own identity and vector clock.
type ScopeAck struct {
	Workspace   string           `json:"workspace"`
	NodeID      string           `json:"node_id"`
	VectorClock map[string]int64 `json:"vector_clock"`
}

func (ScopeAck) Type() string { return TypeScopeAck }

// Inv advertises the sender's inventory: its DAG heads, total in-scope event
// count, and a Bloom filter over every in-scope event ID. The filter lets the
// receiver diff inventories without shipping full ID lists.
type Inv struct {
	Heads        []string     `json:"heads"`
	Count        int          `json:"count"`
	Bloom        bloom.Export `json:"bloom_filter"`
	LogicalClock int64        `json:"logical_clock"`
}

func (Inv) Type() string { return TypeInv }

// Have offers event IDs the sender holds that the peer appears to lack.
type Have struct {
	IDs []string `json:"ids"`
}

func (Have) Type() string { return TypeHave }

// Want requests event IDs the sender lacks.
type Want struct {
	IDs []string `json:"ids"`
}

func (Want) Type() string { return TypeWant }

// Send carries full events. Events are shipped verbatim, actor included;
// relabeling identity in transit is a protocol violation.
type Send struct {
	Events []event.Event `json:"events"`
}

func (Send) Type() string { return TypeSend }

// Refuse declines a scope or a set of requested IDs with a reason.
type Refuse struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason"`
}

func (Refuse) Type() string { return TypeRefuse }

// Conflict reports concurrent edits to the same target. Informational: the
// conflicting events are all retained on both sides.
type Conflict struct {
	ConflictType string   `json:"conflict_type"`
	EventIDs     []string `json:"events"`
	DetectedAt   int64    `json:"detected_at"`
	DetectedBy   string   `json:"detected_by"`
}

func (Conflict) Type() string { return TypeConflict }

// envelope is the on-wire frame.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal wraps a message in its envelope and serializes it.
func Marshal(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", m.Type(), err)
	}
	data, err := json.Marshal(envelope{Type: m.Type(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", m.Type(), err)
	}
	return data, nil
}

// Unmarshal parses an envelope and returns the concrete message for its type
// tag. Unknown tags are an error: protocol version negotiation happens in the
// scope handshake, not by ignoring messages.
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var m Message
	switch env.Type {
	case TypeScope:
		m = &Scope{}
	case TypeScopeAck:
		m = &ScopeAck{}
	case TypeInv:
		m = &Inv{}
	case TypeHave:
		m = &Have{}
	case TypeWant:
		m = &Want{}
	case TypeSend:
		m = &Send{}
	case TypeRefuse:
		m = &Refuse{}
	case TypeConflict:
		m = &Conflict{}
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}

	if err := json.Unmarshal(env.Payload, m); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}
	return deref(m), nil
}

// deref returns the value form so callers can type-switch on wire.Scope
// rather than *wire.Scope.
func deref(m Message) Message {
	switch v := m.(type) {
	case *Scope:
		return *v
	case *ScopeAck:
		return *v
	case *Inv:
		return *v
	case *Have:
		return *v
	case *Want:
		return *v
	case *Send:
		return *v
	case *Refuse:
		return *v
	case *Conflict:
		return *v
	default:
		return m
	}
}
