package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 30 * time.Second

// VerifierParams configures a Verifier.
type VerifierParams struct {
	Keys     KeySource
	Issuers  []string
	Audience string
	Leeway   time.Duration
	Now      func() time.Time
}

// Verifier validates RS256 access tokens minted by the identity provider.
type Verifier struct {
	keys     KeySource
	issuers  []string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewVerifier constructs a Verifier. At least one issuer is required.
func NewVerifier(params VerifierParams) (*Verifier, error) {
	if params.Keys == nil {
		return nil, fmt.Errorf("key source is required")
	}
	issuers := make([]string, 0, len(params.Issuers))
	for _, iss := range params.Issuers {
		if iss = strings.TrimRight(strings.TrimSpace(iss), "/"); iss != "" {
			issuers = append(issuers, iss)
		}
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("at least one issuer is required")
	}
	leeway := params.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		keys:     params.Keys,
		issuers:  issuers,
		audience: params.Audience,
		leeway:   leeway,
		now:      now,
	}, nil
}

// Verify checks signature, expiry, issuer, audience and required claims.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, newVerificationError(ErrMissingToken, nil)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, classify(err)
	}

	if !slices.Contains(v.issuers, strings.TrimRight(claims.Issuer, "/")) {
		return nil, newVerificationError(ErrIssuerMismatch, fmt.Errorf("issuer %q not accepted", claims.Issuer))
	}
	if err := claims.validateRequired(); err != nil {
		return nil, newVerificationError(ErrMalformedToken, err)
	}
	return claims.Principal(), nil
}

// classify maps parser errors onto the verification taxonomy. Signature
// checks run before claim validation, so a tampered token never reports expiry.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrKeyUnavailable):
		return newVerificationError(ErrKeyUnavailable, err)
	case errors.Is(err, errUnknownKey):
		return newVerificationError(ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return newVerificationError(ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return newVerificationError(ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return newVerificationError(ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return newVerificationError(ErrAudienceMismatch, err)
	default:
		return newVerificationError(ErrMalformedToken, err)
	}
}
