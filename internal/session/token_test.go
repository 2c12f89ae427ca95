package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/moto-driver/internal/models"
)

func TestSigner_RoundTrip(t *testing.T) {
	m := NewManager(&fakeAuth{resp: driverResp(t, "d1")}, nil)
	s, _ := m.Login(context.Background(), "a", "b")
	signer := NewSigner("secret", time.Hour)

	tok, err := signer.Issue(s)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := signer.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.SessionID != s.ID || claims.Subject != "d1" || claims.Kind != KindDriver {
		t.Fatalf("unexpected claims %+v", claims)
	}
	got, err := m.Authorize(signer, tok)
	if err != nil || got != s {
		t.Fatalf("authorize: %v", err)
	}
}

func TestSigner_Rejects(t *testing.T) {
	m := NewManager(&fakeAuth{resp: driverResp(t, "d1")}, nil)
	s, _ := m.Login(context.Background(), "a", "b")
	signer := NewSigner("secret", time.Hour)
	tok, _ := signer.Issue(s)

	if _, err := NewSigner("other", time.Hour).Parse(tok); !errors.Is(err, models.ErrInvalidToken) {
		t.Fatalf("wrong secret must fail, got %v", err)
	}
	if _, err := signer.Parse("not-a-token"); !errors.Is(err, models.ErrInvalidToken) {
		t.Fatalf("garbage must fail, got %v", err)
	}
	short := &Signer{secret: []byte("secret"), ttl: -time.Minute}
	old, _ := short.Issue(s)
	if _, err := signer.Parse(old); !errors.Is(err, models.ErrInvalidToken) {
		t.Fatalf("expired token must fail, got %v", err)
	}

	// a new login invalidates tokens of the previous session
	if _, err := m.Login(context.Background(), "a", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Authorize(signer, tok); !errors.Is(err, models.ErrInvalidToken) {
		t.Fatalf("replaced session must fail, got %v", err)
	}
	_, _ = m.End()
	if _, err := m.Authorize(signer, tok); !errors.Is(err, models.ErrInvalidToken) {
		t.Fatalf("ended session must fail, got %v", err)
	}
}
