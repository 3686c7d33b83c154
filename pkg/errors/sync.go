package errors

import (
	"errors"
	"fmt"
)

// Kind classifies why a sync stage failed. Callers branch on Kind instead of
// matching message text.
type Kind string

const (
	KindUnknown             Kind = "UNKNOWN"
	KindTransport           Kind = "TRANSPORT"
	KindMissingPrecondition Kind = "MISSING_PRECONDITION"
	KindMalformedResponse   Kind = "MALFORMED_RESPONSE"
	KindPersistence         Kind = "PERSISTENCE"
)

// Sentinel causes wrapped by SyncError.
var (
	ErrNoFacility        = errors.New("user has no facility")
	ErrMalformedResponse = errors.New("malformed remote response")
	ErrNegativeLotOnHand = errors.New("lot quantity on hand would become negative")
	ErrStockCardNotFound = errors.New("stock card not found")
)

// SyncError is a failure raised by a sync stage or one of its collaborators.
type SyncError struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	prefix := e.Message
	if e.Stage != "" {
		prefix = e.Stage + ": " + e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return prefix
}

// Unwrap returns the wrapped error
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-invoking sync later may succeed without an
// external fix. Missing preconditions need account or configuration changes.
func (e *SyncError) Retryable() bool {
	return e.Kind != KindMissingPrecondition
}

// Transport wraps a network failure (unreachable host, non-2xx status, timeout).
func Transport(err error, message string) *SyncError {
	return &SyncError{Kind: KindTransport, Message: message, Err: err}
}

// MissingPrecondition reports that a prerequisite such as the facility code is absent.
func MissingPrecondition(err error, message string) *SyncError {
	return &SyncError{Kind: KindMissingPrecondition, Message: message, Err: err}
}

// Malformed reports a remote payload that is absent or unparseable.
func Malformed(err error, message string) *SyncError {
	if err == nil {
		err = ErrMalformedResponse
	}
	return &SyncError{Kind: KindMalformedResponse, Message: message, Err: err}
}

// Persistence wraps a rejected local write or read.
func Persistence(err error, message string) *SyncError {
	return &SyncError{Kind: KindPersistence, Message: message, Err: err}
}

// InStage returns a copy of err attributed to stage. Errors that are not a
// SyncError are classified as KindUnknown.
func InStage(stage string, err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		cp := *se
		cp.Stage = stage
		return &cp
	}
	return &SyncError{Kind: KindUnknown, Stage: stage, Message: "stage failed", Err: err}
}

// KindOf extracts the failure kind from anywhere in err's chain.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
