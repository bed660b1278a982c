package auth

import (
	"testing"
	"time"
)

func TestRoomTokenRoundTrip(t *testing.T) {
	m, err := NewRoomTokenManager("s3cret", "callkit", 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	tok, err := m.Issue(now, "uid-1", "ch-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if claims.UID != "uid-1" || claims.Channel != "ch-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestRoomTokenExpires(t *testing.T) {
	m, _ := NewRoomTokenManager("s3cret", "callkit", time.Minute)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	tok, err := m.Issue(now, "uid-1", "ch-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := m.Verify(tok, now.Add(2*time.Minute)); err == nil {
		t.Fatalf("expected expired token to fail verification")
	}
}

func TestRoomTokenRejectsWrongSecret(t *testing.T) {
	a, _ := NewRoomTokenManager("secret-a", "callkit", time.Minute)
	b, _ := NewRoomTokenManager("secret-b", "callkit", time.Minute)
	now := time.Now()

	tok, err := a.Issue(now, "uid-1", "ch-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := b.Verify(tok, now); err == nil {
		t.Fatalf("expected verification with wrong secret to fail")
	}
}

func TestRoomTokenRequiresIdentity(t *testing.T) {
	m, _ := NewRoomTokenManager("s3cret", "callkit", time.Minute)
	if _, err := m.Issue(time.Now(), "", "ch-1"); err == nil {
		t.Fatalf("expected error for empty uid")
	}
	if _, err := m.Issue(time.Now(), "uid-1", ""); err == nil {
		t.Fatalf("expected error for empty channel")
	}
	if _, err := NewRoomTokenManager("", "callkit", time.Minute); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
