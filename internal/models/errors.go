package models

import "errors"

var (
	// ErrSubscription is returned when the realtime channel cannot be reached.
	ErrSubscription = errors.New("realtime subscription failed")

	// ErrRideUnavailable is returned when the backend rejects an accept.
	ErrRideUnavailable = errors.New("ride no longer available")

	// ErrTransport marks a request whose outcome is unknown.
	ErrTransport = errors.New("transport failure")

	// ErrMalformedOffer is returned for offer payloads missing required fields.
	ErrMalformedOffer = errors.New("malformed ride offer")

	// ErrInvalidState is returned when an operation is not valid in the current state.
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrSessionClosed is returned by every operation after logout.
	ErrSessionClosed = errors.New("session closed")

	// ErrNoSession is returned when an operation needs a logged in user.
	ErrNoSession = errors.New("no active session")

	ErrMissingCredentials = errors.New("login and password are required")
	ErrUnknownAccount     = errors.New("unknown account type")
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrMissingLocations   = errors.New("pickup and dropoff are required")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
)
