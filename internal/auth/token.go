package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const DefaultTokenTTL = 10 * time.Minute

var ErrInvalidToken = errors.New("auth: invalid stream token")

// StreamClaims authorizes one telephony connection for one session id.
type StreamClaims struct {
	SessionID string `json:"sid"`
	Provider  string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 stream tokens. A Signer with an empty
// secret is disabled: Verify accepts any token and returns empty claims.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) Enabled() bool { return len(s.secret) > 0 }

func (s *Signer) Issue(sessionID, provider string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, nil
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := StreamClaims{
		SessionID: sessionID,
		Provider:  provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign: %w", err)
	}
	return tok, exp, nil
}

func (s *Signer) Verify(token string) (*StreamClaims, error) {
	if !s.Enabled() {
		return &StreamClaims{}, nil
	}
	claims := &StreamClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidToken)
	}
	return claims, nil
}
