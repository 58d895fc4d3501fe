package identity

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := NewIssuer(secret, time.Hour).Issue(Actor{ID: "prov-1", Role: RoleProvider})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	actor, err := NewVerifier(secret).Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if actor.ID != "prov-1" || actor.Role != RoleProvider {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestVerifyRejectsWrongSecretAndExpiry(t *testing.T) {
	tok, _ := NewIssuer([]byte("a"), time.Hour).Issue(Actor{ID: "x", Role: RoleAdmin})
	if _, err := NewVerifier([]byte("b")).Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	iss := NewIssuer([]byte("a"), time.Minute)
	iss.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _ := iss.Issue(Actor{ID: "x", Role: RoleAdmin})
	if _, err := NewVerifier([]byte("a")).Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	if _, err := NewIssuer([]byte("a"), time.Hour).Issue(Actor{ID: "x", Role: "guest"}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestOperatorKey(t *testing.T) {
	h, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	k := NewOperatorKey(string(h))
	if err := k.Check("s3cret"); err != nil {
		t.Fatalf("expected key accepted: %v", err)
	}
	if err := k.Check("nope"); !errors.Is(err, ErrOperatorKey) {
		t.Fatalf("expected ErrOperatorKey, got %v", err)
	}
	if err := NewOperatorKey("").Check("s3cret"); !errors.Is(err, ErrOperatorKey) {
		t.Fatalf("expected disabled key to reject, got %v", err)
	}
}
