package errors

import "github.com/cockroachdb/errors"

// Sentinel errors for the toolkit. Call sites wrap these with
// fmt.Errorf("%w: ...", err, ...) so callers can match with errors.Is.
var (
	// ErrAuthenticationNeeded indicates no valid cached token exists and
	// interactive authentication is disabled.
	ErrAuthenticationNeeded = errors.New("authentication needed")

	// ErrPendingAuthorizationExpired indicates the device authorization
	// window elapsed before the user approved the request.
	ErrPendingAuthorizationExpired = errors.New("pending authorization expired")

	// ErrUnauthorizedSSOToken indicates the service rejected the cached
	// token during credential exchange.
	ErrUnauthorizedSSOToken = errors.New("unauthorized SSO token")

	// ErrInvalidSSOConfig indicates required fields are missing from the
	// effective configuration.
	ErrInvalidSSOConfig = errors.New("invalid SSO configuration")

	// ErrConfigProfile indicates a config profile could not provide a session.
	ErrConfigProfile = errors.New("config profile error")

	// ErrConfigSession indicates a named sso-session section is unusable.
	ErrConfigSession = errors.New("config session error")

	// ErrInlineSession indicates an inline session descriptor is malformed.
	ErrInlineSession = errors.New("inline session error")

	// ErrMismatchedSession indicates two sessions share a name but disagree
	// on other fields.
	ErrMismatchedSession = errors.New("mismatched session")

	// ErrLookup indicates an identifier could not be resolved.
	ErrLookup = errors.New("lookup failed")

	// ErrAuthDispatch indicates the browser or another auth side channel failed.
	ErrAuthDispatch = errors.New("auth dispatch failed")

	// ErrFormat indicates a malformed input identifier.
	ErrFormat = errors.New("malformed identifier")

	ErrNoInstanceFound      = errors.New("no SSO instance found")
	ErrMultipleInstances    = errors.New("multiple SSO instances found")
	ErrNoSessionFound       = errors.New("no SSO session found")
	ErrAmbiguousSession     = errors.New("ambiguous SSO session specifier")
	ErrInvalidAssignments   = errors.New("invalid assignment configuration")
	ErrTemplateGeneration   = errors.New("template generation failed")
	ErrMissingConfiguration = errors.New("missing configuration")
)

// Exit codes. Commands attach these with WithExitCode; GetExitCode falls
// back to the sentinel mapping below.
const (
	ExitCodeOK                   = 0
	ExitCodeAuthenticationNeeded = 1
	ExitCodeInvalidConfig        = 2
	ExitCodeAuthDispatch         = 3
	ExitCodeServiceError         = 4
	ExitCodeOther                = 5
)
