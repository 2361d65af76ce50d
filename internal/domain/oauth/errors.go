package oauth

import "errors"

var (
	// ErrProviderNotFound signals the named provider is not configured.
	ErrProviderNotFound = errors.New("oauth: provider not found")
	// ErrInvalidState indicates the state parameter is unknown, expired, or already consumed.
	ErrInvalidState = errors.New("oauth: invalid or expired state")
	// ErrProviderMismatch indicates the callback path and the stored state disagree on the provider.
	ErrProviderMismatch = errors.New("oauth: provider mismatch")
	// ErrSignupDisabled indicates OAuth signup is administratively disabled.
	ErrSignupDisabled = errors.New("oauth: signup disabled")
	// ErrEmailMissing indicates the provider returned no email address.
	ErrEmailMissing = errors.New("oauth: email not provided by provider")
	// ErrEmailDomainNotAllowed indicates the email domain is outside the allow-list.
	ErrEmailDomainNotAllowed = errors.New("oauth: email domain not allowed")
	// ErrRoleForbidden indicates the resolved role denies access.
	ErrRoleForbidden = errors.New("oauth: account does not have the required roles")
	// ErrSessionNotFound signals there is no usable session for the user/provider pair.
	ErrSessionNotFound = errors.New("oauth: session not found")
)
