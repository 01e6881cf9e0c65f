package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long issued tokens stay valid.
const DefaultTTL = 5 * time.Hour

var (
	// ErrExpired indicates a well-formed token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalidSignature indicates a token not signed with our secret.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMalformed indicates a token that could not be parsed at all.
	ErrMalformed = errors.New("malformed token")
)

// Issuer signs and verifies bearer tokens carrying a user id as subject.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer signing with secret. TTL of zero or less
// falls back to DefaultTTL.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue signs a token asserting userID as subject, expiring after the
// issuer's TTL.
func (i *Issuer) Issue(userID string) (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the subject user id.
// Expiry and signature failures are distinguishable so callers can log
// them apart, even though both end up as an auth failure.
func (i *Issuer) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return "", ErrInvalidSignature
		default:
			return "", ErrMalformed
		}
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrMalformed
	}
	return claims.Subject, nil
}
