package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationMissing is returned when a required provider setting is empty.
	ErrConfigurationMissing = errors.New("auth: configuration missing")

	// ErrInvalidState is returned when the callback state is absent, expired
	// or does not match the state stored for the session.
	ErrInvalidState = errors.New("auth: invalid state")

	ErrTokenExchange = errors.New("auth: token exchange failed")

	// ErrNonceMismatch is returned when the id_token nonce differs from the
	// nonce sent in the authorization request.
	ErrNonceMismatch = errors.New("auth: nonce mismatch")

	ErrUserinfo      = errors.New("auth: userinfo request failed")
	ErrSessionCommit = errors.New("auth: session commit failed")

	// ErrNoIdentity is returned by Store.Identity when no user is logged in.
	ErrNoIdentity = errors.New("auth: no identity in session")
)

// ProviderError is an error the identity provider reported on the callback,
// for example access_denied when the user cancels the login.
type ProviderError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	State       string `json:"state,omitempty"`
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error: %s (description: %s)", e.Code, e.Description)
	}
	return fmt.Sprintf("provider error: %s", e.Code)
}
