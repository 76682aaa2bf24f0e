package syncer

import (
	"errors"
	"fmt"
)

// Refusal reasons used in scope negotiation.
const (
	ReasonUnsupportedProtocolVersion = "unsupported_protocol_version"
	ReasonWorkspaceMismatch          = "workspace_mismatch"
)

// Per-event rejection reasons. RULE_2 wording is load-bearing: operators grep
// logs for it, and peers assert on it in conformance tests.
const (
	ReasonMissingActor     = "RULE_2: Missing actor - identity laundered"
	ReasonOutsideScope     = "outside_scope"
	ReasonValidationFailed = "validation_failed"
)

// ErrSyncInProgress is returned when a sync with the same remote is already
// running. Syncs are single-flight per remote.
var ErrSyncInProgress = errors.New("sync already in progress for remote")

// ProtocolError is a terminal negotiation failure for the current attempt.
// The retry loop consumes it; per-event rejections never become one.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// newScopeRefused wraps a peer's refusal reason in the error surface callers
// match on.
func newScopeRefused(reason string) *ProtocolError {
	return &ProtocolError{Code: "scope_refused", Message: fmt.Sprintf("scope refused: %s", reason)}
}

// newUnexpectedMessage reports a protocol sequencing violation: the peer
// answered with a message type the exchange does not allow at that point.
func newUnexpectedMessage(want, got string) *ProtocolError {
	return &ProtocolError{Code: "unexpected_message", Message: fmt.Sprintf("expected %s, got %s", want, got)}
}

// IsProtocolError reports whether err is a negotiation failure.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
