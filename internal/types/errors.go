package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra payload.
var (
	// ErrNotAuthenticated is returned when signing is attempted without an
	// active broker session. The caller must re-authenticate.
	ErrNotAuthenticated = errors.New("broker session not authenticated")

	// ErrAlreadyExecuted is returned when an execution attempt finds the
	// decision already terminal. This is a caught race, log it loudly.
	ErrAlreadyExecuted = errors.New("decision already executed")

	// ErrFeedbackRecorded is returned when feedback is submitted for a
	// decision that already has feedback. Feedback is set once.
	ErrFeedbackRecorded = errors.New("feedback already recorded for decision")

	// ErrDecisionNotFound is returned for lookups of unknown decision ids.
	ErrDecisionNotFound = errors.New("decision not found")
)

// AuthError reports a failure of the OAuth handshake itself. The user must
// restart the authorization flow from Initiate.
type AuthError struct {
	Stage  string // "request_token" or "access_token"
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oauth %s failed: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("oauth %s failed: %s", e.Stage, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DataUnavailableError reports a gateway or scoring failure for one symbol.
// The cycle skips that symbol and moves on; it never aborts the whole cycle.
type DataUnavailableError struct {
	Symbol string
	Source string // "quote", "historical", "news", "scoring"
	Err    error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("%s data unavailable for %s: %v", e.Source, e.Symbol, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// BrokerRejectionError reports an order preview or placement rejected by the
// brokerage (insufficient funds, market closed, symbol halted). It is
// recorded on the decision, which stays eligible for a later cycle.
type BrokerRejectionError struct {
	Operation string // "preview" or "place"
	Reason    string // the broker's stated reason, surfaced verbatim
}

func (e *BrokerRejectionError) Error() string {
	return fmt.Sprintf("broker rejected %s: %s", e.Operation, e.Reason)
}

// InvariantViolationError reports a broken storage invariant, such as zero or
// multiple active learning contexts. Fatal for scheduled optimization until
// repaired by an operator.
type InvariantViolationError struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violated (%s): %s", e.Invariant, e.Detail)
}
