package auth

import "fmt"

// Reason classifies why token verification failed.
type Reason string

const (
	ReasonExpired      Reason = "expired"
	ReasonBadSignature Reason = "bad-signature"
	ReasonBadAudience  Reason = "bad-audience"
	ReasonBadIssuer    Reason = "bad-issuer"
	ReasonMalformed    Reason = "malformed"
	ReasonKeyNotFound  Reason = "key-not-found"
)

// AuthError is a terminal verification failure. Every AuthError rejects the
// connection attempt; there is no partial trust.
type AuthError struct {
	Reason Reason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth: %s", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func authErr(reason Reason, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}
