package store

import (
	"encoding/json"
	"fmt"

	"github.com/cairnlog/cairn/internal/event"
)

// marshalParents converts a parent ID list to JSON TEXT for storage.
// nil and empty both store as "[]" so replay round-trips losslessly.
func marshalParents(parents []string) (string, error) {
	if parents == nil {
		parents = []string{}
	}
	data, err := json.Marshal(parents)
	if err != nil {
		return "", fmt.Errorf("marshal parents: %w", err)
	}
	return string(data), nil
}

// marshalPayload converts an event payload to canonical JSON TEXT.
// Canonical serialization keeps stored bytes identical to the bytes the
// content-addressed ID was computed over.
func marshalPayload(payload event.Object) (string, error) {
	if payload == nil {
		payload = event.Object{}
	}
	data, err := event.MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalParents parses JSON TEXT to a parent ID list.
func unmarshalParents(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return []string{}, nil
	}
	var parents []string
	if err := json.Unmarshal([]byte(data), &parents); err != nil {
		return nil, fmt.Errorf("unmarshal parents: %w", err)
	}
	return parents, nil
}

// unmarshalPayload parses canonical JSON TEXT to an event payload.
// Large integers survive via json.Number handling in event.Object.
func unmarshalPayload(data string) (event.Object, error) {
	if data == "" || data == "{}" {
		return event.Object{}, nil
	}
	var obj event.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return obj, nil
}
