package token

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndVerify_Success(t *testing.T) {
	t.Parallel()

	issuer := NewIssuer([]byte("super-secret"), 0)

	tok, err := issuer.Issue("user-123")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	userID, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("subject mismatch: got %q want %q", userID, "user-123")
	}
}

func TestVerify_ExpiredAfterWindow(t *testing.T) {
	t.Parallel()

	now := time.Now()
	issuer := NewIssuer([]byte("secret"), 0).WithClock(func() time.Time { return now })

	tok, err := issuer.Issue("u1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	// Still valid just inside the 5 hour window.
	issuer.WithClock(func() time.Time { return now.Add(DefaultTTL - time.Minute) })
	if _, err := issuer.Verify(tok); err != nil {
		t.Fatalf("token rejected before expiry: %v", err)
	}

	issuer.WithClock(func() time.Time { return now.Add(DefaultTTL + time.Minute) })
	_, err = issuer.Verify(tok)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := NewIssuer([]byte("right-secret"), 0).Issue("u2")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = NewIssuer([]byte("wrong-secret"), 0).Verify(tok)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	_, err := NewIssuer([]byte("k"), 0).Verify("not.a.jwt")
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
