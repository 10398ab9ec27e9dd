package mockserver

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when an access token is malformed, expired or
// revoked.
var ErrInvalidToken = errors.New("invalid token")

// DefaultTokenTTL is the lifetime of issued access tokens.
const DefaultTokenTTL = time.Hour

// AccessClaims holds JWT claims for an SDK access token. Subject is the
// tester id.
type AccessClaims struct {
	jwt.RegisteredClaims
	KeyHash    string `json:"kh"`
	Connected  bool   `json:"connected,omitempty"`
	Generation int64  `json:"gen"`
}

// TokenIssuer issues and validates HS256 access tokens. Revoke invalidates
// every token issued so far.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
	generation atomic.Int64
}

// NewTokenIssuer returns an issuer signing with secret.
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue signs an access token for testerID. It returns the token and its
// lifetime in seconds.
func (p *TokenIssuer) Issue(testerID, keyHash string, connected bool) (string, int64, error) {
	now := p.now().UTC()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   testerID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
		KeyHash:    keyHash,
		Connected:  connected,
		Generation: p.generation.Load(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, int64(p.ttl / time.Second), nil
}

// Validate parses tokenString and checks signature, expiry, issuer and
// revocation.
func (p *TokenIssuer) Validate(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.Generation != p.generation.Load() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Revoke invalidates all previously issued tokens.
func (p *TokenIssuer) Revoke() {
	p.generation.Add(1)
}
