package backend

import "errors"

var (
	// ErrInvalidBackendKind is returned when a Descriptor's Kind is not in
	// the caller's accepted Role set.
	ErrInvalidBackendKind = errors.New("invalid backend kind")
	// ErrMissingCredential names a required host/user/password field that
	// could not be resolved. New does not return it: it fills absent
	// fields from Kind defaults and never checks credentials.
	ErrMissingCredential = errors.New("missing required backend credential")
)
