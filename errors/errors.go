package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrConversationExists   = fmt.Errorf("conversation already exists for this pair")
	ErrNotParticipant       = fmt.Errorf("user is not a party of this conversation")
	ErrInvalidParties       = fmt.Errorf("a conversation needs two distinct non-empty parties")
	ErrInvalidContent       = fmt.Errorf("invalid message content")
	ErrInvalidRequest       = fmt.Errorf("invalid request")

	// ErrConcurrentUpdate is returned once the store gave up retrying a
	// conflicting transaction. Callers may retry.
	ErrConcurrentUpdate = fmt.Errorf("concurrent update conflict, retry later")

	ErrIdentityLookup = fmt.Errorf("identity lookup failed")
	ErrUnknownUser    = fmt.Errorf("unknown user")
	ErrCacheMiss      = fmt.Errorf("cache miss")

	ErrDeliveryFailed = fmt.Errorf("live delivery failed")

	ErrUnauthenticated = fmt.Errorf("missing or invalid token")
)

// IsRetryable reports whether the caller may retry the failed operation as is.
func IsRetryable(err error) bool {
	return stderrors.Is(err, ErrConcurrentUpdate)
}

// HTTPStatus maps a service error to the status code returned by the HTTP boundary.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, ErrConversationNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, ErrNotParticipant):
		return http.StatusForbidden
	case stderrors.Is(err, ErrInvalidParties),
		stderrors.Is(err, ErrInvalidContent),
		stderrors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case stderrors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case stderrors.Is(err, ErrConcurrentUpdate):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
