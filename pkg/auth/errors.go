package auth

import (
	"errors"
	"fmt"
)

// Verification failure kinds. Responses stay generic; the kind is for logs and metrics.
var (
	ErrMissingToken     = errors.New("missing token")
	ErrMalformedToken   = errors.New("malformed token")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrIssuerMismatch   = errors.New("issuer mismatch")
	ErrAudienceMismatch = errors.New("audience mismatch")
	// ErrKeyUnavailable means the signing keys could not be fetched at all.
	ErrKeyUnavailable = errors.New("signing keys unavailable")
)

var reasons = map[error]string{
	ErrMissingToken:     "missing_token",
	ErrMalformedToken:   "malformed_token",
	ErrSignatureInvalid: "signature_invalid",
	ErrExpired:          "expired",
	ErrIssuerMismatch:   "issuer_mismatch",
	ErrAudienceMismatch: "audience_mismatch",
	ErrKeyUnavailable:   "key_unavailable",
}

// VerificationError pairs a failure kind with the underlying cause.
type VerificationError struct {
	Kind  error
	Cause error
}

func newVerificationError(kind, cause error) *VerificationError {
	return &VerificationError{Kind: kind, Cause: cause}
}

func (e *VerificationError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *VerificationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Reason returns the metric/log label for a verification failure.
func Reason(err error) string {
	var verr *VerificationError
	if errors.As(err, &verr) {
		if r, ok := reasons[verr.Kind]; ok {
			return r
		}
	}
	return "unknown"
}
