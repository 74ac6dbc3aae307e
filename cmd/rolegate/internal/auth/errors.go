package auth

import "errors"

// Authority resolution errors. Callers match them with errors.Is.
var (
	// ErrUnauthenticated means no session was presented. Recoverable via sign-in.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrSessionInvalid means the provider rejected the presented session.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrEmulationExpired is returned by validation once now > expiresAt.
	ErrEmulationExpired = errors.New("role emulation expired")

	// ErrProfileNotFound means the identity has no application profile and cannot be scoped.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrOrganizationNotFound means the identity's organization scope is missing or unknown.
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrInsufficientPermission means the caller lacks the capability for the operation.
	ErrInsufficientPermission = errors.New("insufficient permission")

	// ErrBackingStoreUnavailable marks a failed role or permission lookup.
	ErrBackingStoreUnavailable = errors.New("backing store unavailable")

	// ErrInvalidRole is returned for role names outside the catalog or not allowed for an operation.
	ErrInvalidRole = errors.New("invalid role")

	// ErrNotEmulating is returned when stopping emulation for an identity that is not emulating.
	ErrNotEmulating = errors.New("not emulating")
)
