package auth

import (
	"testing"
	"time"

	"parallel-dialer/internal/config"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		WebhookTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := testManager(t)

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "user-1", "ws-1", "member")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.WorkspaceID != "ws-1" || claims.Role != "member" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m := testManager(t)
	now := time.Unix(1700000000, 0).UTC()
	p, err := m.IssuePair(now, "u", "w", "r")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestWebhookTokenRoundTrip(t *testing.T) {
	m := testManager(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, err := m.IssueWebhookToken(now, "user-1", "ws-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, TokenTypeWebhook, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.WorkspaceID != "ws-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Role != "" {
		t.Fatalf("webhook tokens must not carry a role")
	}

	// A webhook token is not an access token.
	if _, err := m.Verify(tok, TokenTypeAccess, now); err == nil {
		t.Fatalf("webhook token must not verify as access")
	}
}

func TestVerifyUsesSuppliedClock(t *testing.T) {
	m := testManager(t)

	// Issued long enough ago that the token is expired on the wall clock.
	// Verification must still pass when the supplied now is inside the
	// validity window, and fail when it is past it.
	issued := time.Now().UTC().Add(-48 * time.Hour)
	pair, err := m.IssuePair(issued, "user-1", "ws-1", "member")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, issued.Add(5*time.Minute)); err != nil {
		t.Fatalf("verify at issue-relative now: %v", err)
	}
	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, issued.Add(16*time.Minute)); err == nil {
		t.Fatalf("expected expiry at issue-relative now past ttl")
	}
}

func TestWebhookTokenExpires(t *testing.T) {
	m := testManager(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, err := m.IssueWebhookToken(now, "u", "w")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, TokenTypeWebhook, now.Add(2*time.Hour)); err == nil {
		t.Fatalf("expected expired token rejection")
	}
}
