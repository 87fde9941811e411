package escalation

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
	issuer, err := NewTokenIssuer(key, "cortex.escalation")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return issuer
}

func assignedEscalation(raised time.Time) Escalation {
	plan := SLAPlan{MaxResponseMinutes: 15, MinReviewerRole: RoleOwner}
	reviewer := Reviewer{ID: "rev-owner", Role: RoleOwner, Capacity: 1}
	return Escalation{
		TenantID:   "tenant-a",
		Tier:       TierCritical,
		SLA:        &plan,
		Reviewer:   &reviewer,
		RaisedAt:   raised,
		DeadlineAt: plan.Deadline(raised),
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	issuer := testIssuer(t)
	esc := assignedEscalation(time.Now().UTC())

	token, err := issuer.Issue(esc)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.TenantID != "tenant-a" || claims.Tier != TierCritical || claims.ReviewerRole != RoleOwner {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Subject != "rev-owner" {
		t.Errorf("subject = %q", claims.Subject)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != TokenAudience {
		t.Errorf("audience = %v", claims.Audience)
	}
	if !strings.HasPrefix(claims.ID, "esc:") {
		t.Errorf("jti = %q, want esc: prefix", claims.ID)
	}
}

func TestIssueDeterministicJTI(t *testing.T) {
	issuer := testIssuer(t)
	esc := assignedEscalation(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))

	first, err := issuer.Issue(esc)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, err := issuer.Issue(esc)
	if err != nil {
		t.Fatalf("Issue again: %v", err)
	}
	if first != second {
		t.Error("re-issuing the same assignment should produce the same token")
	}
}

func TestVerifyRejectsExpiredTicket(t *testing.T) {
	issuer := testIssuer(t)
	esc := assignedEscalation(time.Now().UTC().Add(-2 * time.Hour))

	token, err := issuer.Issue(esc)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expired ticket error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRejectsTamperedTicket(t *testing.T) {
	issuer := testIssuer(t)
	token, err := issuer.Issue(assignedEscalation(time.Now().UTC()))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}
	parts[2] = strings.Repeat("A", len(parts[2]))
	if _, err := issuer.Verify(strings.Join(parts, ".")); err == nil {
		t.Error("tampered signature should fail verification")
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	issuer := testIssuer(t)
	otherKey := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{9}, ed25519.SeedSize))
	other, err := NewTokenIssuer(otherKey, "cortex.escalation")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, err := other.Issue(assignedEscalation(time.Now().UTC()))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(token); err == nil {
		t.Error("ticket signed by a different key must not verify")
	}
}

func TestIssueRequiresAssignment(t *testing.T) {
	issuer := testIssuer(t)
	esc := Escalation{TenantID: "tenant-a", Tier: TierCritical, RaisedAt: time.Now().UTC()}
	if _, err := issuer.Issue(esc); err == nil {
		t.Error("unassigned escalation must not get a ticket")
	}
}

func TestNewTokenIssuerRejectsBadInput(t *testing.T) {
	if _, err := NewTokenIssuer(nil, "cortex.escalation"); err == nil {
		t.Error("nil key should be rejected")
	}
	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
	if _, err := NewTokenIssuer(key, ""); err == nil {
		t.Error("empty issuer should be rejected")
	}
}
