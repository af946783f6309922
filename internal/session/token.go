package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"plantgate.org/internal/auth"
)

const minSecretLen = 32

// Signer mints and verifies HS256 session tokens. The token carries only the
// session id and subject; the stored record stays authoritative for expiry
// and mode.
type Signer struct {
	key    []byte
	issuer string
}

func NewSigner(secret []byte, issuer string) (*Signer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", auth.ErrInvalidInput, minSecretLen)
	}
	return &Signer{key: append([]byte(nil), secret...), issuer: issuer}, nil
}

// Sign returns the token for rec.
func (s *Signer) Sign(rec Record) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        rec.ID,
		Subject:   rec.UserID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(rec.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(rec.ExpiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Parse verifies the signature and returns the claims. Time-based claims are
// not checked here.
func (s *Signer) Parse(token string) (*jwt.RegisteredClaims, error) {
	if token == "" {
		return nil, auth.ErrUnknownSession
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrUnknownSession, err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: token missing session claims", auth.ErrUnknownSession)
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", auth.ErrUnknownSession)
	}
	return claims, nil
}

func claimExpired(c *jwt.RegisteredClaims, now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time)
}
