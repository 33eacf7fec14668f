// Package errkind defines the stable error-kind taxonomy shared across all
// Kenny components and its mapping onto HTTP status codes and the wire
// error envelope.
package errkind

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, caller-keyable error classification. Components return
// a Kind rather than a bespoke error type so that callers across process
// boundaries can switch on it without sharing Go types.
type Kind string

const (
	ManifestInvalid        Kind = "manifest_invalid"
	AgentUnknown            Kind = "agent_unknown"
	CapabilityUnknown       Kind = "capability_unknown"
	AgentUnhealthy          Kind = "agent_unhealthy"
	Timeout                 Kind = "timeout"
	DependencyUnavailable   Kind = "dependency_unavailable"
	CoordinatorUnavailable  Kind = "coordinator_unavailable"
	PolicyBlocked           Kind = "policy_blocked"
	Overloaded              Kind = "overloaded"
	LLMInterpretationFailed Kind = "llm_interpretation_failed"
	CacheStaleInvalidated   Kind = "cache_stale_invalidated"
	AlreadyRegistered       Kind = "already_registered"
	EgressForbidden         Kind = "egress_forbidden"
	Internal                Kind = "internal"
)

// httpStatus maps each Kind onto the HTTP status conventions of spec.md §6/§7.
var httpStatus = map[Kind]int{
	ManifestInvalid:         http.StatusBadRequest,
	AgentUnknown:            http.StatusNotFound,
	CapabilityUnknown:       http.StatusNotFound,
	AgentUnhealthy:          http.StatusServiceUnavailable,
	Timeout:                 http.StatusRequestTimeout,
	DependencyUnavailable:   http.StatusServiceUnavailable,
	CoordinatorUnavailable:  http.StatusServiceUnavailable,
	PolicyBlocked:           http.StatusForbidden,
	Overloaded:              http.StatusTooManyRequests,
	LLMInterpretationFailed: http.StatusUnprocessableEntity,
	CacheStaleInvalidated:   http.StatusConflict,
	AlreadyRegistered:       http.StatusConflict,
	EgressForbidden:         http.StatusForbidden,
	Internal:                http.StatusInternalServerError,
}

// HTTPStatus returns the status code a given Kind maps to, defaulting to 500
// for an unrecognized or zero-value Kind.
func (k Kind) HTTPStatus() int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is the typed wrapper every component returns for a classified
// failure. It carries the kind, a human message, and the request's
// correlation id so the wire envelope (spec.md §6) can be built directly
// from it.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a classified error around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithCorrelation returns a copy of e carrying the given correlation id.
func (e *Error) WithCorrelation(id string) *Error {
	cp := *e
	cp.CorrelationID = id
	return &cp
}

// As extracts the Kind of err, returning (Internal, false) when err does not
// carry a classified Kind.
func As(err error) (Kind, bool) {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return Internal, false
}

// Envelope is the wire shape of spec.md §6: {error_kind, message, correlation_id}.
type Envelope struct {
	ErrorKind     Kind   `json:"error_kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ToEnvelope converts any error into the wire envelope, classifying
// unrecognized errors as Internal and hiding their detail (full detail
// belongs in the audit log, not the response, per spec.md §7).
func ToEnvelope(err error, correlationID string) Envelope {
	var ke *Error
	if errors.As(err, &ke) {
		return Envelope{ErrorKind: ke.Kind, Message: ke.Message, CorrelationID: correlationID}
	}
	return Envelope{ErrorKind: Internal, Message: "internal error", CorrelationID: correlationID}
}
