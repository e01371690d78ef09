// Package utils provides helpers for handling the shopper's access token.
package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned by InspectAccessToken when the token's exp
// claim is in the past.
var ErrTokenExpired = errors.New("access token expired")

// AccessToken describes a bearer token issued by the booking server.
// The companion never holds the signing secret, so the signature is not
// verified here; the server remains the authority.  Only the claims
// needed locally are extracted.
type AccessToken struct {
	Token   string    // the serialized JWT string
	Subject string    // the sub claim, empty when absent
	Exp     time.Time // expiration time, zero when the token has no exp claim
}

// InspectAccessToken parses raw without verifying the signature and
// returns its subject and expiry.  A token that is already expired at
// now yields ErrTokenExpired so callers can fail fast instead of making
// a request the server will reject.  Opaque (non-JWT) tokens are passed
// through untouched with a zero Exp.
func InspectAccessToken(raw string, now time.Time) (AccessToken, error) {
	out := AccessToken{Token: raw}
	if raw == "" {
		return out, nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		// Not a JWT: let the server decide.
		return out, nil
	}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return out, fmt.Errorf("read exp claim: %w", err)
	}
	if exp != nil {
		out.Exp = exp.Time
		if !now.Before(out.Exp) {
			return out, ErrTokenExpired
		}
	}
	return out, nil
}

// NewAccessToken builds and signs an HS256 JWT with the given subject
// and TTL.  The companion itself never issues tokens; this is used by
// tests that need a real signed token.
func NewAccessToken(secret, subject string, ttl time.Duration) (AccessToken, error) {
	exp := time.Now().UTC().Add(ttl)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": exp.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Subject: subject, Exp: exp}, nil
}
