package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefix for content-addressed event identity.
// Version suffix enables future algorithm migration.
const DomainEvent = "cairn/event/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents domain/data
// boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeID computes the content-addressed ID for an event.
// The ID covers every field except the ID itself, so it is stable across
// nodes: the same event produced anywhere hashes to the same identity.
// Returns an error if the payload cannot be canonically marshaled.
func ComputeID(e Event) (string, error) {
	parents := e.Parents
	if parents == nil {
		parents = []string{}
	}

	obj := Object{
		"type":           String(e.Type),
		"actor":          String(e.Actor),
		"workspace":      String(e.Context.Workspace),
		"node_id":        String(e.Context.NodeID),
		"schema_version": String(e.Context.SchemaVersion),
		"logical_clock":  Int(e.LogicalClock),
	}

	parentArr := make(Array, len(parents))
	for i, p := range parents {
		parentArr[i] = String(p)
	}
	obj["parents"] = parentArr

	if e.Payload != nil {
		obj["payload"] = e.Payload
	} else {
		obj["payload"] = Object{}
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ComputeID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainEvent, canonical), nil
}

// MustComputeID is like ComputeID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustComputeID(e Event) string {
	id, err := ComputeID(e)
	if err != nil {
		panic(err)
	}
	return id
}
