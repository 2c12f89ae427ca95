package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/moto-driver/internal/models"
)

const tokenIssuer = "moto-driver"

// Claims ties a bearer token to one session. Subject is the account id.
type Claims struct {
	SessionID string `json:"sid"`
	Kind      Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 session tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl}
}

func (s *Signer) Issue(sess *Session) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionID: sess.ID,
		Kind:      sess.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.AccountID(),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Signer) Parse(token string) (*Claims, error) {
	var claims Claims
	t, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}
	if !t.Valid || claims.SessionID == "" {
		return nil, models.ErrInvalidToken
	}
	return &claims, nil
}

// Authorize returns the current session if token was issued for it.
func (m *Manager) Authorize(s *Signer, token string) (*Session, error) {
	claims, err := s.Parse(token)
	if err != nil {
		return nil, err
	}
	cur, err := m.Current()
	if err != nil {
		if errors.Is(err, models.ErrNoSession) {
			return nil, fmt.Errorf("%w: session ended", models.ErrInvalidToken)
		}
		return nil, err
	}
	if cur.ID != claims.SessionID {
		return nil, fmt.Errorf("%w: session replaced", models.ErrInvalidToken)
	}
	return cur, nil
}
